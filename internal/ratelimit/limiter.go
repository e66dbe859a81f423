package ratelimit

import "context"

// RateLimiter controls throughput per scope, such as a zone or a user.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
