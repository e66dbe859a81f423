package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/lock"
	"github.com/kursadbilgin/dnsbatch/internal/observability"
	"github.com/kursadbilgin/dnsbatch/internal/queue"
	"github.com/kursadbilgin/dnsbatch/internal/ratelimit"
	"github.com/kursadbilgin/dnsbatch/internal/recordset"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minProcessorConcurrency = 1
	defaultMaxAttempts      = 3
	defaultBatchLockTTL     = 2 * time.Minute
	maxRetryDelay           = 60 * time.Second
	baseRetryDelay          = time.Second
	maxRetryJitterMillis    = 250

	outcomeComplete      = "complete"
	outcomeFailed        = "failed"
	outcomeRetry         = "retry"
	retryExhaustedPrefix = "retry exhausted: "
)

// ErrBatchChangeBusy reports that another processor owns the batch change and the
// handoff to the retry scanner could not be recorded.
var ErrBatchChangeBusy = errors.New("batch change is being processed elsewhere")

// Processor drains the batch change queue and applies single changes against the record set backend.
type Processor struct {
	batches     repository.BatchChangeRepository
	consumer    queue.Consumer
	gateway     recordset.Gateway
	validator   *Validator
	limiter     ratelimit.RateLimiter
	locker      lock.Locker
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	maxAttempts int
	lockTTL     time.Duration
	now         func() time.Time
	randIntn    func(n int) int
}

func NewProcessor(
	batches repository.BatchChangeRepository,
	consumer queue.Consumer,
	gateway recordset.Gateway,
	validator *Validator,
	limiter ratelimit.RateLimiter,
	locker lock.Locker,
	concurrency int,
	logger *zap.Logger,
) (*Processor, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch change repository is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("record set gateway is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if concurrency < minProcessorConcurrency {
		concurrency = minProcessorConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		batches:     batches,
		consumer:    consumer,
		gateway:     gateway,
		validator:   validator,
		limiter:     limiter,
		locker:      locker,
		logger:      logger,
		concurrency: concurrency,
		maxAttempts: defaultMaxAttempts,
		lockTTL:     defaultBatchLockTTL,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

func (p *Processor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// SetMaxAttempts bounds how often a transiently failing change is tried before it fails.
func (p *Processor) SetMaxAttempts(n int) {
	if n > 0 {
		p.maxAttempts = n
	}
}

func (p *Processor) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		p.lockTTL = ttl
	}
}

// Start consumes the batch change queue until context cancellation.
func (p *Processor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.consumer == nil {
		return fmt.Errorf("queue consumer is required")
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			p.logger.Info("processor worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := p.consumer.Consume(groupCtx, queueName, p.processMessage)
			if err != nil {
				p.logger.Error("processor worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			p.logger.Info("processor worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (p *Processor) processMessage(ctx context.Context, msg queue.BatchChangeMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	if msg.UserID != "" {
		ctx = observability.WithUserID(ctx, msg.UserID)
	}
	return p.ProcessBatchChange(ctx, msg.BatchChangeID)
}

// ProcessBatchChange applies the pending changes of one batch change in submission order.
// A nil return acks the message; an error requeues it.
func (p *Processor) ProcessBatchChange(ctx context.Context, id string) error {
	logger := observability.WithContextLogger(p.logger, ctx).With(zap.String("batchChangeId", id))

	if p.locker != nil {
		release, acquired, err := p.locker.TryAcquire(ctx, "batchchange:lock:"+id, p.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire batch change lock: %w", err)
		}
		if !acquired {
			// Hand the batch to the retry scanner for when the lock expires; the message is acked.
			hint := p.now().Add(p.lockTTL).UTC()
			if err := p.batches.DeferRetry(ctx, id, hint); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				return fmt.Errorf("%w: %s: %v", ErrBatchChangeBusy, id, err)
			}
			logger.Info("batch change locked elsewhere, deferred to retry scanner", zap.Time("nextRetryAt", hint))
			return nil
		}
		defer func() {
			// Release on a fresh context so a cancelled run still frees the key.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil && !errors.Is(err, lock.ErrNotHeld) {
				logger.Warn("failed to release batch change lock", zap.Error(err))
			}
		}()
	}

	batch, err := p.batches.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("batch change not found, skipping")
			return nil
		}
		return fmt.Errorf("failed to load batch change: %w", err)
	}
	if batch.Status.IsTerminal() {
		return nil
	}

	p.metrics.IncProcessorInFlight()
	defer p.metrics.DecProcessorInFlight()

	for _, change := range batch.Changes {
		if change.Status != domain.SingleChangeStatusPending {
			continue
		}

		done, err := p.processChange(ctx, logger, batch.ID, change)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				logger.Info("batch change already resolved elsewhere", zap.Error(err))
				return nil
			}
			return err
		}
		if !done {
			return nil
		}
	}

	return nil
}

// processChange returns done=false when processing of the batch must pause for a scheduled retry.
func (p *Processor) processChange(
	ctx context.Context,
	logger *zap.Logger,
	batchID string,
	change domain.SingleChange,
) (bool, error) {
	logger = logger.With(
		zap.String("changeId", change.ID),
		zap.String("changeType", change.ChangeType.String()),
		zap.String("inputName", change.InputName),
	)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, change.ZoneID); err != nil {
			return false, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := p.now()
	recordSetID, applyErr := p.apply(ctx, logger, batchID, change)
	p.metrics.ObserveApplyDuration(change.ChangeType.String(), p.now().Sub(start))

	if applyErr != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.Is(applyErr, domain.ErrConflict) {
		return false, applyErr
	}

	if applyErr == nil {
		result := domain.SingleChangeResult{
			ChangeID: change.ID,
			Status:   domain.SingleChangeStatusComplete,
		}
		if recordSetID != "" {
			result.RecordSetID = &recordSetID
		}
		if err := p.resolve(ctx, batchID, result); err != nil {
			return false, err
		}
		p.metrics.IncSingleChangeOutcome(outcomeComplete)
		logger.Info("single change applied", zap.String("recordSetId", recordSetID))
		return true, nil
	}

	transient := recordset.IsTransient(applyErr)
	if transient && change.Attempts+1 < p.maxAttempts {
		nextRetryAt := p.now().Add(p.computeRetryDelay(change.Attempts + 1)).UTC()
		if err := p.batches.ScheduleRetry(ctx, batchID, change.ID, nextRetryAt); err != nil {
			return false, fmt.Errorf("failed to schedule retry: %w", err)
		}
		p.metrics.IncRetryScheduled(change.ChangeType.String())
		p.metrics.IncSingleChangeOutcome(outcomeRetry)
		logger.Warn("single change failed transiently, retry scheduled",
			zap.Int("attempt", change.Attempts+1),
			zap.Time("nextRetryAt", nextRetryAt),
			zap.Error(applyErr),
		)
		return false, nil
	}

	message := recordset.Reason(applyErr)
	if transient {
		message = retryExhaustedPrefix + message
	}
	result := domain.SingleChangeResult{
		ChangeID:      change.ID,
		Status:        domain.SingleChangeStatusFailed,
		SystemMessage: &message,
	}
	if err := p.resolve(ctx, batchID, result); err != nil {
		return false, err
	}
	p.metrics.IncSingleChangeOutcome(outcomeFailed)
	logger.Info("single change failed", zap.String("reason", message))
	return true, nil
}

func (p *Processor) apply(ctx context.Context, logger *zap.Logger, batchID string, change domain.SingleChange) (string, error) {
	check, err := p.validator.ValidateAgainstZone(ctx, p.gateway, change)
	if err != nil {
		return "", err
	}
	if check.AppliedRecordSetID != "" {
		logger.Info("single change already applied by an earlier run", zap.String("recordSetId", check.AppliedRecordSetID))
		return check.AppliedRecordSetID, nil
	}

	if check.Target != nil {
		// Record the delete target first so a rerun can tell its own delete from a missing set.
		if err := p.batches.TargetRecordSet(ctx, batchID, change.ID, check.Target.ID); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return "", err
			}
			return "", recordset.Transient("failed to record delete target", err)
		}
		targetID := check.Target.ID
		change.RecordSetID = &targetID
	}

	return p.gateway.ApplyChange(ctx, change)
}

func (p *Processor) resolve(ctx context.Context, batchID string, result domain.SingleChangeResult) error {
	updated, err := p.batches.UpdateStatus(ctx, batchID, []domain.SingleChangeResult{result})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to record change result: %w", err)
	}
	if updated != nil && updated.Status.IsTerminal() {
		p.metrics.IncBatchChangeCompleted(updated.Status.String())
	}
	return nil
}

func (p *Processor) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if p.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = p.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}
