package event

import (
	"encoding/json"
	"fmt"

	"cofounder-chat/internal/storage/database/message"
)

// 客戶端事件名稱
const (
	SendMessageEvent = "send_message"
	MessageSeenEvent = "message_seen"
)

// 伺服器事件名稱
const (
	ReceiveMessageEvent     = "receive_message"
	MessageSentAckEvent     = "message_sent_ack"
	MessageSeenAckEvent     = "message_seen_ack"
	UnseenCountEvent        = "user_unseen_message_count"
	UnreadCountUpdateEvent  = "message_unread_count_when_connected"
	MessageFailedEvent      = "message_failed"
	ErrorEvent              = "error"
)

// Envelope 事件信封，所有進出連接的訊息都是 {event, data} 結構
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendMessage 客戶端發送消息請求
type SendMessage struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	TempID      string `json:"temp_id,omitempty"`
}

// MessageSeen 客戶端批次已讀請求
type MessageSeen struct {
	MessageIDs  []string `json:"message_ids"`
	SenderID    string   `json:"sender_id"`
	RecipientID string   `json:"recipient_id"`
}

// MessagePayload 推送給收件人的消息內容
type MessagePayload struct {
	*message.Message
	IsSentByMe bool `json:"is_sent_by_me"`
}

// SentAck 發送方確認
type SentAck struct {
	TempID  string          `json:"temp_id,omitempty"`
	Message *MessagePayload `json:"message"`
}

// SeenAck 已讀批次確認
type SeenAck struct {
	MessageIDs []string `json:"message_ids"`
}

// SeenNotice 通知原始發送者某則消息已被讀取
type SeenNotice struct {
	MessageID string `json:"message_id"`
	IsSeen    bool   `json:"is_seen"`
}

// Failed 消息處理失敗
type Failed struct {
	Error string `json:"error"`
}

// Error 一般錯誤
type Error struct {
	Message string `json:"message"`
}

// New 將事件名稱與資料包裝為信封
func New(name string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return &Envelope{Event: name, Data: raw}, nil
}

// MustNew 包裝信封，marshal 失敗時回傳 error 事件
// 資料結構均為本套件定義的封閉集合，正常情況下不會失敗
func MustNew(name string, data interface{}) *Envelope {
	env, err := New(name, data)
	if err != nil {
		fallback, _ := json.Marshal(Error{Message: "internal encoding error"})
		return &Envelope{Event: ErrorEvent, Data: fallback}
	}
	return env
}

// ParseClient 解析並分派客戶端事件
// 只接受封閉的事件集合，未知事件與格式錯誤在此被擋下，不會進入核心邏輯
func ParseClient(raw []byte) (interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed event envelope: %w", err)
	}

	switch env.Event {
	case SendMessageEvent:
		var payload SendMessage
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed send_message payload: %w", err)
		}
		return &payload, nil

	case MessageSeenEvent:
		var payload MessageSeen
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed message_seen payload: %w", err)
		}
		return &payload, nil

	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}
