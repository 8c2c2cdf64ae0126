package driver

import (
	"fmt"

	"cofounder-chat/internal/platform/config"
	"cofounder-chat/internal/platform/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

var rabbitConn *amqp.Connection
var rabbitChannel *amqp.Channel

// ConnectRabbit 連接 RabbitMQ.
func ConnectRabbit() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("配置未載入")
	}

	return InitRabbit(cfg.Broker.Rabbit)
}

// InitRabbit 初始化 RabbitMQ 連接.
func InitRabbit(cfg config.RabbitConfig) error {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// 限制單個 worker 的預取數量，避免一次抓取過多任務
	prefetch := cfg.PrefetchSize
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	rabbitConn = conn
	rabbitChannel = ch

	logger.LogInfof("RabbitMQ connected successfully")
	return nil
}

// GetRabbitChannel 獲取 RabbitMQ channel 實例.
func GetRabbitChannel() *amqp.Channel {
	return rabbitChannel
}

// GetRabbitConnection 獲取 RabbitMQ 連接實例.
func GetRabbitConnection() *amqp.Connection {
	return rabbitConn
}

// IsRabbitConnected 檢查是否已連接.
func IsRabbitConnected() bool {
	return rabbitConn != nil && !rabbitConn.IsClosed()
}

// CloseRabbit 關閉 RabbitMQ 連接.
func CloseRabbit() error {
	if rabbitChannel != nil {
		if err := rabbitChannel.Close(); err != nil {
			logger.LogWarnf("關閉 RabbitMQ channel 失敗: %v", err)
		}
	}
	if rabbitConn != nil {
		return rabbitConn.Close()
	}
	return nil
}
