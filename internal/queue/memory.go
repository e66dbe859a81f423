package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultMemoryQueueSize    = 1024
	defaultMemoryRequeueDelay = 100 * time.Millisecond
)

var (
	_ Publisher = (*MemoryQueue)(nil)
	_ Consumer  = (*MemoryQueue)(nil)
)

// MemoryQueue is an in-process broker used with STORE_DRIVER=memory and in tests.
// Messages whose handler fails are requeued at the tail, or parked and requeued after
// a delay when the queue is full.
type MemoryQueue struct {
	mu           sync.Mutex
	queues       map[string]chan BatchChangeMessage
	size         int
	closed       bool
	done         chan struct{}
	parked       atomic.Int64
	requeueDelay time.Duration
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{
		queues:       make(map[string]chan BatchChangeMessage),
		size:         size,
		done:         make(chan struct{}),
		requeueDelay: defaultMemoryRequeueDelay,
	}
}

func (q *MemoryQueue) queue(name string) (chan BatchChangeMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("memory queue is closed")
	}
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan BatchChangeMessage, q.size)
		q.queues[name] = ch
	}
	return ch, nil
}

func (q *MemoryQueue) Publish(ctx context.Context, queue string, msg BatchChangeMessage) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid batch change message: %w", err)
	}

	ch, err := q.queue(queue)
	if err != nil {
		return err
	}

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	ch, err := q.queue(queue)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			if err := handler(ctx, msg); err != nil {
				q.requeue(ch, msg)
			}
		}
	}
}

// requeue never blocks the consumer: a consumer sending into its own full channel
// would stall every consumer of that queue.
func (q *MemoryQueue) requeue(ch chan BatchChangeMessage, msg BatchChangeMessage) {
	select {
	case ch <- msg:
		return
	default:
	}

	q.parked.Add(1)
	go func() {
		defer q.parked.Add(-1)

		timer := time.NewTimer(q.requeueDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-q.done:
			return
		}

		select {
		case ch <- msg:
		case <-q.done:
		}
	}()
}

// Len reports the number of messages waiting on a queue, including parked redeliveries.
func (q *MemoryQueue) Len(queue string) int {
	ch, err := q.queue(queue)
	if err != nil {
		return 0
	}
	return len(ch) + int(q.parked.Load())
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
