package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotHeld = errors.New("lock not held")

// Locker grants exclusive ownership of a key for a bounded time.
type Locker interface {
	// TryAcquire returns a release func when the key was free, or acquired=false when another owner holds it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}
