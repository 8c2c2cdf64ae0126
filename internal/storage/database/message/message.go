package message

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// 消息狀態常數
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Repository 消息倉儲接口
type Repository interface {
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	FindUndelivered(ctx context.Context, recipientID string, limit int) ([]*Message, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	MarkSeen(ctx context.Context, senderID, recipientID string, messageIDs []string, at time.Time) (int64, error)
	UpdateStatus(ctx context.Context, id string, status string) error
	UnreadBySender(ctx context.Context, recipientID string) ([]*UnreadGroup, error)
	CountUnseen(ctx context.Context, recipientID string) (int64, error)
	ListConversation(ctx context.Context, userA, userB string, limit int, cursor string) ([]*Message, string, bool, error)
}

// Message 消息數據模型
// 內容在創建後不可變，只有狀態欄位會被更新
type Message struct {
	_ID         interface{} `bson:"_id" form:"_id"`
	ID          string      `json:"id,omitempty" bson:"id" form:"id"`
	SenderID    string      `bson:"sender_id" json:"sender_id"`
	RecipientID string      `bson:"recipient_id" json:"recipient_id"`
	Content     string      `bson:"content" json:"content"`
	Status      string      `bson:"status" json:"status"` // sent, delivered, read, failed
	IsDelivered bool        `bson:"is_delivered" json:"is_delivered"`
	IsSeen      bool        `bson:"is_seen" json:"is_seen"`
	DeliveredAt *time.Time  `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	SeenAt      *time.Time  `bson:"seen_at,omitempty" json:"seen_at,omitempty"`
	CreatedAt   time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `bson:"updated_at" json:"updated_at"`
}

// GetID 獲取 ID 的字符串形式
func (m *Message) GetID() string {
	return m.ID
}

// NewMessage 創建新的 Message 實例
func NewMessage() Message {
	_id := bson.NewObjectID()
	now := time.Now().UTC()
	return Message{_ID: _id, ID: _id.Hex(), CreatedAt: now, UpdatedAt: now, Status: StatusSent}
}

// UnreadGroup 按發送者分組的未讀統計
// 由已送達但未讀的消息推導，純讀取側投影
type UnreadGroup struct {
	SenderID               string    `bson:"_id" json:"sender_id"`
	Count                  int64     `bson:"count" json:"count"`
	LatestMessage          string    `bson:"latest_message" json:"latest_message"`
	LatestMessageTimestamp time.Time `bson:"latest_message_timestamp" json:"latest_message_timestamp"`
}
