package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/dnsbatch/internal/observability"
	"github.com/kursadbilgin/dnsbatch/internal/queue"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically re-enqueues batch changes whose retry hint is due.
// It also recovers batch changes whose initial publish was lost.
type RetryScanner struct {
	batches   repository.BatchChangeRepository
	publisher queue.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewRetryScanner(
	batches repository.BatchChangeRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch change repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		batches:   batches,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	scanTime := s.now().UTC()
	due, err := s.batches.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range due {
		batch := due[i]
		msg := queue.BatchChangeMessage{
			BatchChangeID: batch.ID,
			UserID:        batch.UserID,
		}

		if err := s.publisher.Publish(ctx, queue.BatchChangesQueue, msg); err != nil {
			s.logger.Error("failed to enqueue due batch change",
				zap.String("batchChangeId", batch.ID),
				zap.String("queue", queue.BatchChangesQueue),
				zap.Error(err),
			)
			continue
		}
		s.metrics.IncRetryRepublished()

		if err := s.batches.ClearNextRetryAt(ctx, batch.ID, scanTime); err != nil {
			s.logger.Error("failed to clear next retry timestamp after enqueue",
				zap.String("batchChangeId", batch.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}
