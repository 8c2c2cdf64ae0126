package user

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ErrNotFound 用戶不存在
var ErrNotFound = errors.New("user not found")

// UserStore 用戶目錄存儲實作
type UserStore struct {
	collection *mongo.Collection
}

// NewUserStore 創建新的用戶目錄存儲
func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{
		collection: db.Collection("users"),
	}
}

// GetByID 根據 ID 獲取用戶
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &u, nil
}

// UpdateStatus 更新用戶在線狀態與最後上線時間
// 連接/斷線時由消息核心調用；多裝置時只有最後一個 handle 斷開才標記離線
func (s *UserStore) UpdateStatus(ctx context.Context, id string, status string, at time.Time) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"online_status": status,
			"last_seen":     at,
			"updated_at":    time.Now(),
		},
	})
	return err
}

// GetPushTarget 獲取用戶的推播通知目標
// 用戶存在但沒有註冊 push token 時回傳空 token，由調用方決定是否跳過推播
func (s *UserStore) GetPushTarget(ctx context.Context, id string) (*PushTarget, error) {
	var u User
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &PushTarget{
		UserID:       u.ID,
		DisplayName:  u.DisplayName,
		ProfilePhoto: u.ProfilePhoto,
		PushToken:    u.PushToken,
	}, nil
}
