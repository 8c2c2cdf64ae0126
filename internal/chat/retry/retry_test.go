package retry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"cofounder-chat/internal/storage/database/message"
)

// fakeChannel 記錄聲明與發布的假佇列通道
type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []amqp.Publishing
	routing   []string
	delivCh   chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{delivCh: make(chan amqp.Delivery, 16)}
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	c.routing = append(c.routing, key)
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.delivCh, nil
}

type fakeAcker struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// fakeDeliverer 可編程的投遞回調
type fakeDeliverer struct {
	mu         sync.Mutex
	deliverErr error
	delivered  []string
	failed     []string
}

func (d *fakeDeliverer) Deliver(_ context.Context, m *message.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deliverErr != nil {
		return d.deliverErr
	}
	d.delivered = append(d.delivered, m.ID)
	return nil
}

func (d *fakeDeliverer) MarkFailed(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, id)
	return nil
}

func TestNewQueueDeclaresTopology(t *testing.T) {
	ch := newFakeChannel()
	q, err := NewQueue(ch, "delivery_retry", 2000)
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}

	if len(ch.declared) != 2 {
		t.Fatalf("declared queues = %v, want work + wait", ch.declared)
	}
	if ch.declared[0] != "delivery_retry" || ch.declared[1] != "delivery_retry.wait" {
		t.Errorf("declared queues = %v", ch.declared)
	}
	if q.WorkQueue() != "delivery_retry" {
		t.Errorf("WorkQueue() = %q", q.WorkQueue())
	}
}

func TestEnqueueExponentialDelay(t *testing.T) {
	ch := newFakeChannel()
	q, err := NewQueue(ch, "delivery_retry", 2000)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		attempt    int
		wantExpiry string
	}{
		{1, "2000"},
		{2, "4000"},
		{3, "8000"},
	}

	msg := &message.Message{ID: "m1"}
	for _, tt := range tests {
		if err := q.Enqueue(context.Background(), msg, tt.attempt); err != nil {
			t.Fatalf("Enqueue(attempt=%d) error = %v", tt.attempt, err)
		}
	}

	if len(ch.published) != len(tests) {
		t.Fatalf("published = %d, want %d", len(ch.published), len(tests))
	}
	for i, tt := range tests {
		pub := ch.published[i]
		if pub.Expiration != tt.wantExpiry {
			t.Errorf("attempt %d: Expiration = %s, want %s", tt.attempt, pub.Expiration, tt.wantExpiry)
		}
		if ch.routing[i] != "delivery_retry.wait" {
			t.Errorf("attempt %d: routing = %s, want wait queue", tt.attempt, ch.routing[i])
		}
		if pub.DeliveryMode != amqp.Persistent {
			t.Errorf("attempt %d: DeliveryMode = %d, want persistent", tt.attempt, pub.DeliveryMode)
		}

		var job Job
		if err := json.Unmarshal(pub.Body, &job); err != nil {
			t.Fatal(err)
		}
		if job.MessageID != "m1" || job.Attempt != tt.attempt {
			t.Errorf("job = %+v", job)
		}
	}
}

func deliveryFor(t *testing.T, job Job, acker *fakeAcker) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{Acknowledger: acker, Body: body}
}

func TestWorkerAcksOnSuccess(t *testing.T) {
	ch := newFakeChannel()
	q, _ := NewQueue(ch, "delivery_retry", 2000)
	d := &fakeDeliverer{}
	w := NewWorker(q, d, 3)

	acker := &fakeAcker{}
	w.handle(context.Background(), deliveryFor(t, Job{MessageID: "m1", Attempt: 1}, acker))

	if !acker.acked {
		t.Error("successful delivery was not acked")
	}
	if len(d.delivered) != 1 || d.delivered[0] != "m1" {
		t.Errorf("delivered = %v", d.delivered)
	}
	if len(ch.published) != 0 {
		t.Error("successful delivery was re-enqueued")
	}
}

func TestWorkerReenqueuesWithHigherAttempt(t *testing.T) {
	ch := newFakeChannel()
	q, _ := NewQueue(ch, "delivery_retry", 2000)
	d := &fakeDeliverer{deliverErr: errors.New("connection refused")}
	w := NewWorker(q, d, 3)

	acker := &fakeAcker{}
	w.handle(context.Background(), deliveryFor(t, Job{MessageID: "m1", Attempt: 1}, acker))

	if !acker.acked {
		t.Error("re-enqueued job was not acked")
	}
	if len(ch.published) != 1 {
		t.Fatalf("published = %d, want 1 re-enqueue", len(ch.published))
	}

	var job Job
	if err := json.Unmarshal(ch.published[0].Body, &job); err != nil {
		t.Fatal(err)
	}
	if job.Attempt != 2 {
		t.Errorf("re-enqueued attempt = %d, want 2", job.Attempt)
	}
	if ch.published[0].Expiration != "4000" {
		t.Errorf("re-enqueued Expiration = %s, want 4000", ch.published[0].Expiration)
	}
	if len(d.failed) != 0 {
		t.Errorf("failed = %v, want none before attempts exhausted", d.failed)
	}
}

func TestWorkerMarksFailedAfterMaxAttempts(t *testing.T) {
	ch := newFakeChannel()
	q, _ := NewQueue(ch, "delivery_retry", 2000)
	d := &fakeDeliverer{deliverErr: errors.New("still down")}
	w := NewWorker(q, d, 3)

	acker := &fakeAcker{}
	w.handle(context.Background(), deliveryFor(t, Job{MessageID: "m1", Attempt: 3}, acker))

	if !acker.acked {
		t.Error("exhausted job was not acked")
	}
	if len(d.failed) != 1 || d.failed[0] != "m1" {
		t.Errorf("failed = %v, want [m1]", d.failed)
	}
	if len(ch.published) != 0 {
		t.Error("exhausted job was re-enqueued")
	}
}

func TestWorkerDropsMalformedJob(t *testing.T) {
	ch := newFakeChannel()
	q, _ := NewQueue(ch, "delivery_retry", 2000)
	d := &fakeDeliverer{}
	w := NewWorker(q, d, 3)

	acker := &fakeAcker{}
	w.handle(context.Background(), amqp.Delivery{Acknowledger: acker, Body: []byte("not-json")})

	if !acker.acked {
		t.Error("malformed job was not acked away")
	}
	if len(d.delivered) != 0 || len(d.failed) != 0 {
		t.Error("malformed job reached deliverer")
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	ch := newFakeChannel()
	q, _ := NewQueue(ch, "delivery_retry", 2000)
	w := NewWorker(q, &fakeDeliverer{}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}
