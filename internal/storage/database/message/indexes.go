package message

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	messagesCollection := db.Collection("messages")

	// 1. 收件人 + 送達狀態索引（重連補發查詢，最重要的索引）
	recipientDeliveredIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "recipient_id", Value: 1},
			{Key: "is_delivered", Value: 1},
			{Key: "created_at", Value: 1},
		},
		Options: options.Index().SetName("recipient_delivered_idx"),
	}

	// 2. 收件人 + 未讀狀態索引（未讀統計查詢）
	recipientUnseenIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "recipient_id", Value: 1},
			{Key: "is_seen", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("recipient_unseen_idx"),
	}

	// 3. 發送者 + 收件人複合索引（對話查詢與已讀批次更新）
	pairIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "recipient_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("pair_time_idx"),
	}

	// 4. 消息狀態索引
	statusIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
		},
		Options: options.Index().SetName("status_idx"),
	}

	messageIndexes := []mongo.IndexModel{
		recipientDeliveredIndex,
		recipientUnseenIndex,
		pairIndex,
		statusIndex,
	}

	_, err := messagesCollection.Indexes().CreateMany(ctx, messageIndexes)
	if err != nil {
		return err
	}

	// 用戶集合索引
	usersCollection := db.Collection("users")

	// 在線狀態索引
	statusUserIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "online_status", Value: 1},
		},
		Options: options.Index().SetName("online_status_idx"),
	}

	// 最後上線時間索引
	lastSeenIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "last_seen", Value: -1},
		},
		Options: options.Index().SetName("last_seen_idx"),
	}

	_, err = usersCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{statusUserIndex, lastSeenIndex})
	return err
}
