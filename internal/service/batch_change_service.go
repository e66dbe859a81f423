package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/observability"
	"github.com/kursadbilgin/dnsbatch/internal/queue"
	"github.com/kursadbilgin/dnsbatch/internal/ratelimit"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultMaxItems = 100
	MaxItemsLimit   = 100
)

// ListSummariesParams are the optional paging inputs of a summary listing.
type ListSummariesParams struct {
	StartFrom *int
	MaxItems  *int
}

type BatchChangeService struct {
	batches       repository.BatchChangeRepository
	validator     *Validator
	publisher     queue.Publisher
	submitLimiter ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewBatchChangeService(
	batches repository.BatchChangeRepository,
	validator *Validator,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*BatchChangeService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch change repository is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchChangeService{
		batches:   batches,
		validator: validator,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SetSubmitLimiter throttles submissions per user. A nil limiter disables throttling.
func (s *BatchChangeService) SetSubmitLimiter(limiter ratelimit.RateLimiter) {
	s.submitLimiter = limiter
}

func (s *BatchChangeService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create validates, authorizes and durably records a batch change, then queues it.
// The returned batch is always Pending; processing happens asynchronously.
func (s *BatchChangeService) Create(
	ctx context.Context,
	user *domain.User,
	input domain.BatchChangeInput,
) (*domain.BatchChange, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if user == nil {
		return nil, fmt.Errorf("%w: caller is not authenticated", domain.ErrUnauthorized)
	}

	if s.submitLimiter != nil {
		allowed, err := s.submitLimiter.Allow(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("submit rate limiter failed: %w", err)
		}
		if !allowed {
			s.metrics.IncSubmissionRateLimited()
			return nil, fmt.Errorf("%w: too many batch change submissions", domain.ErrRateLimited)
		}
	}

	batch, err := s.validator.PrepareBatchChange(ctx, user, input)
	if err != nil {
		return nil, err
	}

	// Persist with a due retry hint so a lost publish is recovered by the retry scanner.
	dueAt := s.now().UTC()
	batch.NextRetryAt = &dueAt

	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, err
	}
	s.metrics.IncBatchChangeSubmitted()

	logger := observability.WithContextLogger(s.logger, ctx)
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	msg := queue.BatchChangeMessage{
		BatchChangeID: batch.ID,
		CorrelationID: correlationID,
		UserID:        batch.UserID,
	}
	if err := s.publisher.Publish(ctx, queue.BatchChangesQueue, msg); err != nil {
		logger.Warn("failed to publish batch change, leaving it to the retry scanner",
			zap.String("batchChangeId", batch.ID),
			zap.Error(err),
		)
	} else if err := s.batches.ClearNextRetryAt(ctx, batch.ID, dueAt); err != nil {
		logger.Warn("failed to clear retry hint after publish",
			zap.String("batchChangeId", batch.ID),
			zap.Error(err),
		)
	}

	logger.Info("batch change accepted",
		zap.String("batchChangeId", batch.ID),
		zap.String("userId", batch.UserID),
		zap.Int("changes", batch.TotalChanges()),
	)

	batch.NextRetryAt = nil
	return batch, nil
}

// Get returns the batch change with id. Batches owned by someone else are reported as not found.
func (s *BatchChangeService) Get(ctx context.Context, user *domain.User, id string) (*domain.BatchChange, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: caller is not authenticated", domain.ErrUnauthorized)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: batch change id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: batch change %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	if batch.UserID != user.ID {
		return nil, fmt.Errorf("%w: batch change %s", domain.ErrNotFound, id)
	}

	batch.NextRetryAt = nil
	return batch, nil
}

// ListSummaries returns one page of the user's batch change summaries, oldest first.
func (s *BatchChangeService) ListSummaries(
	ctx context.Context,
	userID string,
	params ListSummariesParams,
) (*domain.BatchChangeSummaryList, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: caller is not authenticated", domain.ErrUnauthorized)
	}

	startFrom := 0
	if params.StartFrom != nil {
		if *params.StartFrom < 0 {
			return nil, fmt.Errorf("%w: startFrom must be >= 0", domain.ErrValidation)
		}
		startFrom = *params.StartFrom
	}

	maxItems := DefaultMaxItems
	if params.MaxItems != nil {
		if *params.MaxItems < 1 || *params.MaxItems > MaxItemsLimit {
			return nil, fmt.Errorf("%w: maxItems must be between 1 and %d", domain.ErrValidation, MaxItemsLimit)
		}
		maxItems = *params.MaxItems
	}

	summaries, hasMore, err := s.batches.ListSummariesForUser(ctx, userID, startFrom, maxItems)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []domain.BatchChangeSummary{}
	}

	page := &domain.BatchChangeSummaryList{
		BatchChanges: summaries,
		MaxItems:     maxItems,
	}
	if params.StartFrom != nil && startFrom > 0 {
		echo := startFrom
		page.StartFrom = &echo
	}
	if hasMore {
		next := startFrom + len(summaries)
		page.NextID = &next
	}

	return page, nil
}
