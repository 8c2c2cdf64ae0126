package retry

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"cofounder-chat/internal/platform/logger"
	"cofounder-chat/internal/storage/database/message"
)

// Deliverer 投遞回調，由投遞引擎實作
type Deliverer interface {
	Deliver(ctx context.Context, msg *message.Message) error
	MarkFailed(ctx context.Context, messageID string) error
}

// Worker 重試消費者
type Worker struct {
	queue       *Queue
	deliverer   Deliverer
	maxAttempts int
}

// NewWorker 創建重試消費者
func NewWorker(queue *Queue, deliverer Deliverer, maxAttempts int) *Worker {
	return &Worker{
		queue:       queue,
		deliverer:   deliverer,
		maxAttempts: maxAttempts,
	}
}

// Start 開始消費工作佇列，阻塞直到 ctx 取消或通道關閉
// 手動 ack，處理結果決定任務去向：成功或永久失敗即結束，
// 否則以更長延遲重新排入等待佇列
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.queue.ch.Consume(
		w.queue.workQueue,
		"retry-worker", // consumer tag
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		// 格式不對的任務無法重試，丟棄避免毒丸循環
		logger.Error(ctx, "重試任務格式錯誤，丟棄",
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
		d.Ack(false)
		return
	}

	if job.Attempt > w.maxAttempts {
		w.fail(ctx, job)
		d.Ack(false)
		return
	}

	err := w.deliverer.Deliver(ctx, &message.Message{ID: job.MessageID})
	if err == nil {
		d.Ack(false)
		return
	}

	logger.Warning(ctx, "重試投遞失敗",
		logger.WithMessageID(job.MessageID),
		logger.WithDetails(map[string]interface{}{
			"attempt": job.Attempt,
			"error":   err.Error(),
		}),
	)

	if job.Attempt >= w.maxAttempts {
		w.fail(ctx, job)
		d.Ack(false)
		return
	}

	// 重新排入時自帶下一次的延遲，這裡只需 ack 當前任務
	if err := w.queue.Enqueue(ctx, &message.Message{ID: job.MessageID}, job.Attempt+1); err != nil {
		logger.Error(ctx, "重試任務重新排入失敗",
			logger.WithMessageID(job.MessageID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
		// 排入失敗時 nack 重回佇列，寧可立即重試也不丟消息
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func (w *Worker) fail(ctx context.Context, job Job) {
	if err := w.deliverer.MarkFailed(ctx, job.MessageID); err != nil {
		logger.Error(ctx, "標記永久失敗時出錯",
			logger.WithMessageID(job.MessageID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
	}
}
