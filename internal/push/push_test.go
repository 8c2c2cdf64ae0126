package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cofounder-chat/internal/storage/database/user"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"短內容不截斷", "hello", "hello"},
		{"剛好 30 字符", strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{"超長內容截斷", strings.Repeat("a", 50), strings.Repeat("a", 30) + "..."},
		{"多字節字符按字符數截斷", strings.Repeat("好", 40), strings.Repeat("好", 30) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.content); got != tt.want {
				t.Errorf("Preview() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMessageNotification(t *testing.T) {
	n := NewMessageNotification("Alice", "hi there", "u1", "m1")

	if n.Title != "Alice sent you a message" {
		t.Errorf("Title = %q", n.Title)
	}
	if n.Body != "hi there" {
		t.Errorf("Body = %q", n.Body)
	}
	if n.Data["sender_id"] != "u1" || n.Data["message_id"] != "m1" {
		t.Errorf("Data = %v", n.Data)
	}
}

func TestHTTPSenderNotify(t *testing.T) {
	var received pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewHTTPSender(srv.URL, 2*time.Second)
	target := &user.PushTarget{UserID: "u2", DisplayName: "Bob", PushToken: "tok-123"}
	n := NewMessageNotification("Alice", "hello", "u1", "m1")

	if err := sender.Notify(context.Background(), target, n); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if received.Token != "tok-123" {
		t.Errorf("Token = %q, want tok-123", received.Token)
	}
	if received.Notification == nil || received.Notification.Title != "Alice sent you a message" {
		t.Errorf("Notification = %+v", received.Notification)
	}
}

func TestHTTPSenderSkipsMissingToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	sender := NewHTTPSender(srv.URL, 2*time.Second)
	target := &user.PushTarget{UserID: "u2"}

	if err := sender.Notify(context.Background(), target, &Notification{}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if called {
		t.Error("Notify() called push service for target without token")
	}
}

func TestHTTPSenderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewHTTPSender(srv.URL, 2*time.Second)
	target := &user.PushTarget{UserID: "u2", PushToken: "tok"}

	err := sender.Notify(context.Background(), target, &Notification{Title: "t"})
	if err == nil {
		t.Fatal("Notify() expected error on 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want status code", err)
	}
}
