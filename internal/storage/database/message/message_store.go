package message

import (
	"context"
	"fmt"
	"time"

	"cofounder-chat/internal/constants"
	"cofounder-chat/internal/platform/config"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessageStore 消息存儲實作
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore 創建新的消息存儲
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection("messages"),
	}
}

// Create 創建消息
func (s *MessageStore) Create(ctx context.Context, message *Message) error {
	if message._ID == nil {
		_id := bson.NewObjectID()
		message._ID = _id
		message.ID = _id.Hex()
	}
	message.CreatedAt = time.Now()
	message.UpdatedAt = message.CreatedAt
	if message.Status == "" {
		message.Status = StatusSent
	}

	// _ID 為非導出欄位不會被序列化，顯式寫入 _id 保證與 ID hex 一致
	raw, err := bson.Marshal(message)
	if err != nil {
		return err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return err
	}
	doc["_id"] = message._ID

	_, err = s.collection.InsertOne(ctx, doc)
	return err
}

// GetByID 根據 ID 獲取消息
func (s *MessageStore) GetByID(ctx context.Context, id string) (*Message, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var message Message
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&message)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// FindUndelivered 查詢收件人所有未送達的消息（重連補發用）
// 按創建時間正序排列，確保補發順序與發送順序一致
func (s *MessageStore) FindUndelivered(ctx context.Context, recipientID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > constants.MaxDrainBatchSize {
		limit = constants.MaxDrainBatchSize
	}

	filter := bson.M{
		"recipient_id": recipientID,
		"is_delivered": false,
		"status":       bson.M{"$ne": StatusFailed},
	}

	opts := options.Find()
	opts.SetLimit(int64(limit))
	opts.SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursorResult.Close(ctx)

	var messages []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, err
		}
		messages = append(messages, &message)
	}

	return messages, nil
}

// MarkDelivered 條件式標記消息為已送達
// 只有 is_delivered=false 的消息會被更新，回傳是否實際發生轉換
// 併發補發時以此避免重複轉換（樂觀併發控制，不加鎖）
func (s *MessageStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, err
	}

	filter := bson.M{
		"_id":          objectID,
		"is_delivered": false,
	}
	update := bson.M{
		"$set": bson.M{
			"is_delivered": true,
			"delivered_at": at,
			"status":       StatusDelivered,
			"updated_at":   time.Now(),
		},
	}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}

	return result.ModifiedCount > 0, nil
}

// MarkSeen 批次條件式標記消息為已讀
// 只更新符合 sender/recipient 配對且尚未已讀的消息，已讀或不符配對的靜默跳過
// 回傳實際轉換的數量（非請求數量），確保計數在部分重疊下仍準確
func (s *MessageStore) MarkSeen(ctx context.Context, senderID, recipientID string, messageIDs []string, at time.Time) (int64, error) {
	objectIDs := make([]bson.ObjectID, 0, len(messageIDs))
	for _, id := range messageIDs {
		objectID, err := bson.ObjectIDFromHex(id)
		if err != nil {
			return 0, fmt.Errorf("invalid message id %q: %w", id, err)
		}
		objectIDs = append(objectIDs, objectID)
	}

	// is_delivered 過濾確保 seen 只能發生在 delivered 之後（狀態機單向遞進）
	filter := bson.M{
		"_id":          bson.M{"$in": objectIDs},
		"sender_id":    senderID,
		"recipient_id": recipientID,
		"is_delivered": true,
		"is_seen":      false,
	}
	update := bson.M{
		"$set": bson.M{
			"is_seen":    true,
			"seen_at":    at,
			"status":     StatusRead,
			"updated_at": time.Now(),
		},
	}

	result, err := s.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}

	return result.ModifiedCount, nil
}

// UpdateStatus 更新消息狀態（重試耗盡時標記 failed）
func (s *MessageStore) UpdateStatus(ctx context.Context, id string, status string) error {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": objectID}, bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now(),
		},
	})
	return err
}

// UnreadBySender 按發送者分組統計已送達但未讀的消息
// 每組保留最新一則消息的內容與時間戳
func (s *MessageStore) UnreadBySender(ctx context.Context, recipientID string) ([]*UnreadGroup, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"recipient_id": recipientID,
			"is_delivered": true,
			"is_seen":      false,
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":                      "$sender_id",
			"count":                    bson.M{"$sum": 1},
			"latest_message":           bson.M{"$first": "$content"},
			"latest_message_timestamp": bson.M{"$first": "$created_at"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "latest_message_timestamp", Value: -1}}}},
	}

	cursorResult, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursorResult.Close(ctx)

	var groups []*UnreadGroup
	for cursorResult.Next(ctx) {
		var group UnreadGroup
		if err := cursorResult.Decode(&group); err != nil {
			return nil, err
		}
		groups = append(groups, &group)
	}

	return groups, nil
}

// CountUnseen 統計收件人已送達但未讀的消息總數（重連時初始化計數器用）
func (s *MessageStore) CountUnseen(ctx context.Context, recipientID string) (int64, error) {
	filter := bson.M{
		"recipient_id": recipientID,
		"is_delivered": true,
		"is_seen":      false,
	}

	return s.collection.CountDocuments(ctx, filter)
}

// ListConversation 獲取兩個用戶之間的對話消息（游標分頁）
func (s *MessageStore) ListConversation(ctx context.Context, userA, userB string, limit int, cursor string) ([]*Message, string, bool, error) {
	// 從配置讀取限制
	cfg := config.Get()
	defaultLimit := constants.DefaultMongoQueryLimit
	maxLimit := constants.MaxMongoQueryLimit
	if cfg != nil {
		if cfg.Limits.MongoDB.DefaultQueryLimit > 0 {
			defaultLimit = cfg.Limits.MongoDB.DefaultQueryLimit
		}
		if cfg.Limits.MongoDB.MaxQueryLimit > 0 {
			maxLimit = cfg.Limits.MongoDB.MaxQueryLimit
		}
	}

	// 限制分頁大小，防止性能問題
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := bson.M{
		"$or": []bson.M{
			{"sender_id": userA, "recipient_id": userB},
			{"sender_id": userB, "recipient_id": userA},
		},
	}

	// 如果有游標，添加游標條件（查找比游標時間更早的訊息）
	if cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339, cursor)
		if err == nil {
			filter["created_at"] = bson.M{"$lt": cursorTime}
		}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	var messages []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, "", false, err
		}
		messages = append(messages, &message)
	}

	// 檢查是否有更多數據
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].CreatedAt.Format(time.RFC3339)
	}

	return messages, nextCursor, hasMore, nil
}
