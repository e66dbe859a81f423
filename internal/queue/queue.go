package queue

import (
	"context"
	"fmt"
)

// Publisher publishes batch change messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg BatchChangeMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A returned error requeues the message.
type MessageHandler func(ctx context.Context, msg BatchChangeMessage) error

// Consumer consumes batch change messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// BatchChangesQueue is the work queue drained by the batch change processor.
const BatchChangesQueue = "batch-changes"

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.batch-changes.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{BatchChangesQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := WorkQueueNames()
	out := make([]string, 0, len(queues))
	for _, q := range queues {
		out = append(out, DLQName(q))
	}
	return out
}
