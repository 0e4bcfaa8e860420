package queue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/observability/metrics"
)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	opts = append([]Option{WithClient(client)}, opts...)
	q := New(&conf.QueueSettings{VisibilitySeconds: 3600}, opts...)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "transcription", &Message{
		Task: TaskProcessJob, JobID: "job-1",
	}))

	depth, err := q.Depth(ctx, "transcription")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	msg, ack, err := q.Dequeue(ctx, "transcription", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, TaskProcessJob, msg.Task)
	assert.Equal(t, "job-1", msg.JobID)
	assert.False(t, msg.EnqueuedAt.IsZero())

	depth, err = q.Depth(ctx, "transcription")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	require.NoError(t, ack(ctx))

	// Acked messages are gone from the processing list too.
	n, err := q.Reclaim(ctx, "transcription")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDequeue_TimeoutReturnsNil(t *testing.T) {
	q, _ := newTestQueue(t)

	msg, ack, err := q.Dequeue(context.Background(), "transcription", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Nil(t, ack)
}

func TestReclaim_RequeuesExpiredMessages(t *testing.T) {
	q, _ := newTestQueue(t, WithVisibility(time.Second))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "transcription", &Message{Task: TaskProcessJob, JobID: "job-1"}))
	msg, _, err := q.Dequeue(ctx, "transcription", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// Deadlines have second granularity; wait for the visibility window to
	// lapse before reclaiming.
	time.Sleep(2 * time.Second)

	n, err := q.Reclaim(ctx, "transcription")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The message is deliverable again.
	msg, ack, err := q.Dequeue(ctx, "transcription", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "job-1", msg.JobID)
	require.NoError(t, ack(ctx))
}

func TestReclaim_SkipsAckedMessages(t *testing.T) {
	q, _ := newTestQueue(t, WithVisibility(time.Second))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "transcription", &Message{Task: TaskProcessJob, JobID: "job-1"}))
	_, ack, err := q.Dequeue(ctx, "transcription", time.Second)
	require.NoError(t, err)
	require.NoError(t, ack(ctx))

	time.Sleep(2 * time.Second)
	n, err := q.Reclaim(ctx, "transcription")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDequeue_PoisonMessageDropped(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	_, err := mr.Lpush("queue:transcription", "not json at all")
	require.NoError(t, err)

	_, _, err = q.Dequeue(ctx, "transcription", time.Second)
	require.Error(t, err)

	// The bad payload must not linger on the processing list.
	items, err := mr.List("queue:transcription:processing")
	if err == nil {
		assert.Empty(t, items)
	}
}

func TestQueueMetrics_MessageLifecycle(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	m, err := metrics.NewQueueMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	q.SetMetrics(m)

	require.NoError(t, q.Enqueue(ctx, "transcription", &Message{Task: TaskProcessJob, JobID: "job-1"}))
	msg, ack, err := q.Dequeue(ctx, "transcription", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, ack(ctx))

	expected := `
		# HELP queue_messages_total Queue message lifecycle events
		# TYPE queue_messages_total counter
		queue_messages_total{event="acked",queue="transcription"} 1
		queue_messages_total{event="dequeued",queue="transcription"} 1
		queue_messages_total{event="enqueued",queue="transcription"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(expected), "queue_messages_total"))

	// Undecodable payloads land on the poison counter.
	_, err = mr.Lpush("queue:transcription", "not json at all")
	require.NoError(t, err)
	_, _, err = q.Dequeue(ctx, "transcription", time.Second)
	require.Error(t, err)

	poison := `
		# HELP queue_poison_drops_total Undecodable messages dropped from the queue
		# TYPE queue_poison_drops_total counter
		queue_poison_drops_total{queue="transcription"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(poison), "queue_poison_drops_total"))
}

func TestPing(t *testing.T) {
	q, mr := newTestQueue(t)
	require.NoError(t, q.Ping(context.Background()))

	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
}

func TestConsumer_ProcessesAndAcks(t *testing.T) {
	// Defers run before t.Cleanup, so the queue and server are torn down
	// here before the leak check fires.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(&conf.QueueSettings{VisibilitySeconds: 3600}, WithClient(client))
	defer func() { _ = q.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := make(chan string, 1)
	consumer := NewConsumer(q, "transcription", 1, func(_ context.Context, msg *Message) error {
		processed <- msg.JobID
		return nil
	})

	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	require.NoError(t, q.Enqueue(ctx, "transcription", &Message{Task: TaskProcessJob, JobID: "job-9"}))

	select {
	case id := <-processed:
		assert.Equal(t, "job-9", id)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not invoked")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
