package user

import (
	"context"
	"time"
)

// 在線狀態常數
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Repository 用戶目錄倉儲接口
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	UpdateStatus(ctx context.Context, id string, status string, at time.Time) error
	GetPushTarget(ctx context.Context, id string) (*PushTarget, error)
}

// User 用戶目錄數據模型
// 只承載消息核心需要的身份資訊，完整的個人檔案由外部服務管理
type User struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	DisplayName  string    `bson:"display_name" json:"display_name"`
	ProfilePhoto string    `bson:"profile_photo,omitempty" json:"profile_photo,omitempty"`
	PushToken    string    `bson:"push_token,omitempty" json:"-"`
	OnlineStatus string    `bson:"online_status" json:"online_status"` // online, offline
	LastSeen     time.Time `bson:"last_seen" json:"last_seen"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// PushTarget 推播通知目標
type PushTarget struct {
	UserID       string
	DisplayName  string
	ProfilePhoto string
	PushToken    string
}
