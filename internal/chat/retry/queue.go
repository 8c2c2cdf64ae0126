// Package retry 投遞重試佇列。
// 即時投遞失敗的消息進入 RabbitMQ 工作佇列，
// 退避延遲由等待佇列的每消息 TTL 加死信路由實現，
// 次數耗盡的消息標記為永久失敗，不再重試。
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"cofounder-chat/internal/storage/database/message"
)

// Job 重試任務，佇列上只帶識別資訊，消息本體重投時從資料庫重讀
type Job struct {
	MessageID string `json:"message_id"`
	Attempt   int    `json:"attempt"`
}

// Channel 佇列通道接口，與 amqp.Channel 對齊，測試時可替換
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Queue 重試佇列
type Queue struct {
	ch          Channel
	workQueue   string
	waitQueue   string
	baseDelayMS int
}

// NewQueue 創建重試佇列並聲明佇列拓撲
// 工作佇列承載待投遞任務；等待佇列不設消費者，
// 消息到期後經默認交換機死信回工作佇列，形成延遲投遞
func NewQueue(ch Channel, name string, baseDelayMS int) (*Queue, error) {
	q := &Queue{
		ch:          ch,
		workQueue:   name,
		waitQueue:   name + ".wait",
		baseDelayMS: baseDelayMS,
	}

	if _, err := ch.QueueDeclare(
		q.workQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("failed to declare work queue: %w", err)
	}

	if _, err := ch.QueueDeclare(
		q.waitQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.workQueue,
		},
	); err != nil {
		return nil, fmt.Errorf("failed to declare wait queue: %w", err)
	}

	return q, nil
}

// Enqueue 排入第 attempt 次投遞嘗試
// 延遲按嘗試次數指數增長：base、base*2、base*4 ...
func (q *Queue) Enqueue(ctx context.Context, msg *message.Message, attempt int) error {
	if attempt < 1 {
		attempt = 1
	}

	body, err := json.Marshal(Job{MessageID: msg.ID, Attempt: attempt})
	if err != nil {
		return fmt.Errorf("failed to marshal retry job: %w", err)
	}

	delay := q.baseDelayMS
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	err = q.ch.PublishWithContext(ctx,
		"",          // 默認交換機
		q.waitQueue, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Expiration:   strconv.Itoa(delay),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish retry job: %w", err)
	}
	return nil
}

// WorkQueue 工作佇列名稱
func (q *Queue) WorkQueue() string {
	return q.workQueue
}
