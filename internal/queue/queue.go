// Package queue delivers task messages to workers at least once, backed by
// Redis lists. A dequeued message is parked on a per-queue processing list
// until acked, so a crashed worker's messages can be reclaimed.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
	"github.com/hyescribe/hyescribe/internal/logging"
	"github.com/hyescribe/hyescribe/internal/observability/metrics"
)

// Task names routed through the queues.
const (
	TaskProcessJob  = "process_transcription_job"
	TaskSendWebhook = "send_webhook"
)

// Message is the wire format for queued tasks.
type Message struct {
	Task       string    `json:"task"`
	JobID      string    `json:"job_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a Redis-backed task queue.
type Queue struct {
	client     *redis.Client
	visibility time.Duration
	logger     *slog.Logger
	metrics    *metrics.QueueMetrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithVisibility overrides how long a message may sit unacked on the
// processing list before Reclaim moves it back.
func WithVisibility(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithClient injects a pre-built Redis client (used by tests with miniredis).
func WithClient(client *redis.Client) Option {
	return func(q *Queue) { q.client = client }
}

// SetMetrics attaches the queue metric collectors. May stay unset.
func (q *Queue) SetMetrics(m *metrics.QueueMetrics) {
	q.metrics = m
}

// New connects to Redis using the configured address.
func New(settings *conf.QueueSettings, opts ...Option) *Queue {
	q := &Queue{
		visibility: time.Duration(settings.VisibilitySeconds) * time.Second,
		logger:     logging.ForService("queue"),
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.client == nil {
		q.client = redis.NewClient(&redis.Options{
			Addr:     settings.Addr,
			Password: settings.Password,
			DB:       settings.DB,
		})
	}
	if q.visibility <= 0 {
		q.visibility = 2 * time.Hour
	}
	return q
}

func pendingKey(queueName string) string    { return "queue:" + queueName }
func processingKey(queueName string) string { return "queue:" + queueName + ":processing" }
func deadlineKey(queueName string) string   { return "queue:" + queueName + ":deadlines" }

// Enqueue pushes a message to the named queue.
func (q *Queue) Enqueue(ctx context.Context, queueName string, msg *Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return queueErr(err, "marshal", queueName)
	}
	if err := q.client.LPush(ctx, pendingKey(queueName), payload).Err(); err != nil {
		return queueErr(err, "enqueue", queueName)
	}
	if q.metrics != nil {
		q.metrics.RecordMessage(queueName, "enqueued")
	}
	return nil
}

// Dequeue blocks up to timeout for the next message. The message is moved to
// the processing list; the returned ack function removes it once the handler
// finishes. A nil message with nil error means the timeout elapsed.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Message, func(context.Context) error, error) {
	payload, err := q.client.BRPopLPush(ctx, pendingKey(queueName), processingKey(queueName), timeout).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, queueErr(err, "dequeue", queueName)
	}

	// Record when this message must be considered abandoned.
	deadline := time.Now().Add(q.visibility).Unix()
	if err := q.client.ZAdd(ctx, deadlineKey(queueName), redis.Z{
		Score:  float64(deadline),
		Member: payload,
	}).Err(); err != nil {
		q.logger.Warn("failed to record message deadline", "queue", queueName, "error", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		// Poison message: drop it from the processing list and move on.
		_ = q.client.LRem(ctx, processingKey(queueName), 1, payload).Err()
		_ = q.client.ZRem(ctx, deadlineKey(queueName), payload).Err()
		if q.metrics != nil {
			q.metrics.RecordPoisonDrop(queueName)
		}
		return nil, nil, queueErr(err, "unmarshal", queueName)
	}
	if q.metrics != nil {
		q.metrics.RecordMessage(queueName, "dequeued")
	}

	ack := func(ackCtx context.Context) error {
		if err := q.client.LRem(ackCtx, processingKey(queueName), 1, payload).Err(); err != nil {
			return queueErr(err, "ack", queueName)
		}
		_ = q.client.ZRem(ackCtx, deadlineKey(queueName), payload).Err()
		if q.metrics != nil {
			q.metrics.RecordMessage(queueName, "acked")
		}
		return nil
	}
	return &msg, ack, nil
}

// Reclaim moves messages whose visibility deadline passed from the
// processing list back to the pending queue. Called periodically by the
// consumer. Returns how many messages were requeued.
func (q *Queue) Reclaim(ctx context.Context, queueName string) (int, error) {
	now := float64(time.Now().Unix())
	expired, err := q.client.ZRangeByScore(ctx, deadlineKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(now),
	}).Result()
	if err != nil {
		return 0, queueErr(err, "reclaim-scan", queueName)
	}

	requeued := 0
	for _, payload := range expired {
		removed, err := q.client.LRem(ctx, processingKey(queueName), 1, payload).Result()
		if err != nil {
			return requeued, queueErr(err, "reclaim-remove", queueName)
		}
		_ = q.client.ZRem(ctx, deadlineKey(queueName), payload).Err()
		if removed == 0 {
			continue // already acked
		}
		if err := q.client.LPush(ctx, pendingKey(queueName), payload).Err(); err != nil {
			return requeued, queueErr(err, "reclaim-requeue", queueName)
		}
		requeued++
	}
	if q.metrics != nil && requeued > 0 {
		q.metrics.RecordReclaimed(queueName, requeued)
	}
	return requeued, nil
}

// Depth returns the number of pending messages on the named queue.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	n, err := q.client.LLen(ctx, pendingKey(queueName)).Result()
	if err != nil {
		return 0, queueErr(err, "depth", queueName)
	}
	return n, nil
}

// Ping verifies the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return queueErr(err, "ping", "")
	}
	return nil
}

// Close releases the Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func formatScore(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func queueErr(err error, operation, queueName string) error {
	return errors.New(err).
		Component("queue").
		Category(errors.CategoryQueue).
		Context("operation", operation).
		Context("queue", queueName).
		Build()
}
