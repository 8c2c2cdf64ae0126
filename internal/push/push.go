// Package push 離線推送通知。
// 收件人不在線時，消息以系統推送通知送達，內容只帶最短預覽。
package push

import (
	"context"
	"unicode/utf8"

	"cofounder-chat/internal/constants"
	"cofounder-chat/internal/storage/database/user"
)

// Notification 推送通知內容
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Provider 推送通道
// 實作負責將通知送往外部推送服務，失敗不影響消息持久化
type Provider interface {
	Notify(ctx context.Context, target *user.PushTarget, n *Notification) error
}

// NewMessageNotification 為新消息構造推送通知
// 內容超過預覽長度時截斷，避免在通知欄洩漏完整消息
func NewMessageNotification(senderName, content, senderID, messageID string) *Notification {
	return &Notification{
		Title: senderName + " sent you a message",
		Body:  Preview(content),
		Data: map[string]string{
			"type":       "new_message",
			"sender_id":  senderID,
			"message_id": messageID,
		},
	}
}

// Preview 取內容前 N 個字符作為通知預覽
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= constants.PushPreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:constants.PushPreviewLength]) + "..."
}
