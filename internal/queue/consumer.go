package queue

import (
	"context"
	"sync"
	"time"
)

// Handler processes one message. Returning an error leaves the message on
// the processing list for Reclaim to requeue after the visibility timeout;
// a nil return acks it.
type Handler func(ctx context.Context, msg *Message) error

// Consumer runs a pool of goroutines draining one queue.
type Consumer struct {
	queue       *Queue
	queueName   string
	handler     Handler
	concurrency int

	reclaimEvery time.Duration
	pollTimeout  time.Duration
}

// NewConsumer builds a consumer; Run starts it.
func NewConsumer(q *Queue, queueName string, concurrency int, handler Handler) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		queue:        q,
		queueName:    queueName,
		handler:      handler,
		concurrency:  concurrency,
		reclaimEvery: time.Minute,
		pollTimeout:  5 * time.Second,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight handlers.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.reclaimLoop(ctx)
	}()

	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.workLoop(ctx)
		}()
	}

	wg.Wait()
}

func (c *Consumer) workLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, ack, err := c.queue.Dequeue(ctx, c.queueName, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.queue.logger.Error("dequeue failed", "queue", c.queueName, "error", err)
			// Back off briefly so a down Redis does not spin the loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if msg == nil {
			continue
		}

		started := time.Now()
		if err := c.handler(ctx, msg); err != nil {
			if c.queue.metrics != nil {
				c.queue.metrics.RecordHandler(c.queueName, "error", time.Since(started).Seconds())
			}
			c.queue.logger.Error("task failed, leaving for reclaim",
				"queue", c.queueName, "task", msg.Task, "job_id", msg.JobID, "error", err)
			continue
		}
		if c.queue.metrics != nil {
			c.queue.metrics.RecordHandler(c.queueName, "success", time.Since(started).Seconds())
		}

		// Ack outside the handler ctx so shutdown does not lose the ack.
		ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := ack(ackCtx); err != nil {
			c.queue.logger.Error("ack failed", "queue", c.queueName, "job_id", msg.JobID, "error", err)
		}
		cancel()
	}
}

func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.reclaimEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.queue.Reclaim(ctx, c.queueName)
			if err != nil {
				if ctx.Err() == nil {
					c.queue.logger.Warn("reclaim failed", "queue", c.queueName, "error", err)
				}
				continue
			}
			if n > 0 {
				c.queue.logger.Info("requeued abandoned messages", "queue", c.queueName, "count", n)
			}
			if c.queue.metrics != nil {
				if depth, err := c.queue.Depth(ctx, c.queueName); err == nil {
					c.queue.metrics.SetQueueDepth(c.queueName, depth)
				}
			}
		}
	}
}
