package event

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientSendMessage(t *testing.T) {
	raw := []byte(`{"event":"send_message","data":{"sender_id":"u1","recipient_id":"u2","content":"hello","temp_id":"t-1"}}`)

	parsed, err := ParseClient(raw)
	if err != nil {
		t.Fatalf("ParseClient() error = %v", err)
	}

	msg, ok := parsed.(*SendMessage)
	if !ok {
		t.Fatalf("ParseClient() type = %T, want *SendMessage", parsed)
	}
	if msg.SenderID != "u1" || msg.RecipientID != "u2" {
		t.Errorf("unexpected payload: %+v", msg)
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello")
	}
	if msg.TempID != "t-1" {
		t.Errorf("TempID = %q, want %q", msg.TempID, "t-1")
	}
}

func TestParseClientMessageSeen(t *testing.T) {
	raw := []byte(`{"event":"message_seen","data":{"message_ids":["a","b"],"sender_id":"u1","recipient_id":"u2"}}`)

	parsed, err := ParseClient(raw)
	if err != nil {
		t.Fatalf("ParseClient() error = %v", err)
	}

	seen, ok := parsed.(*MessageSeen)
	if !ok {
		t.Fatalf("ParseClient() type = %T, want *MessageSeen", parsed)
	}
	if len(seen.MessageIDs) != 2 {
		t.Errorf("MessageIDs length = %d, want 2", len(seen.MessageIDs))
	}
}

func TestParseClientRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name:    "未知事件",
			raw:     `{"event":"typing","data":{}}`,
			wantErr: "unknown event",
		},
		{
			name:    "非 JSON",
			raw:     `not-json`,
			wantErr: "malformed event envelope",
		},
		{
			name:    "payload 格式錯誤",
			raw:     `{"event":"send_message","data":[1,2,3]}`,
			wantErr: "malformed send_message payload",
		},
		{
			name:    "message_seen payload 格式錯誤",
			raw:     `{"event":"message_seen","data":"nope"}`,
			wantErr: "malformed message_seen payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClient([]byte(tt.raw))
			if err == nil {
				t.Fatal("ParseClient() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want contains %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := New(MessageSeenAckEvent, SeenAck{MessageIDs: []string{"m1"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if env.Event != MessageSeenAckEvent {
		t.Errorf("Event = %q, want %q", env.Event, MessageSeenAckEvent)
	}

	var ack SeenAck
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		t.Fatalf("unmarshal data error = %v", err)
	}
	if len(ack.MessageIDs) != 1 || ack.MessageIDs[0] != "m1" {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestMustNewFallsBackOnMarshalError(t *testing.T) {
	env := MustNew(ErrorEvent, make(chan int))
	if env.Event != ErrorEvent {
		t.Errorf("Event = %q, want %q", env.Event, ErrorEvent)
	}
	if !strings.Contains(string(env.Data), "internal encoding error") {
		t.Errorf("Data = %s, want fallback error message", env.Data)
	}
}
