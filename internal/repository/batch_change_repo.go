package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchChangeRepository is the durable store of batch changes and their single changes.
type BatchChangeRepository interface {
	Create(ctx context.Context, b *domain.BatchChange) error
	GetByID(ctx context.Context, id string) (*domain.BatchChange, error)
	UpdateStatus(ctx context.Context, id string, results []domain.SingleChangeResult) (*domain.BatchChange, error)
	ScheduleRetry(ctx context.Context, batchID string, changeID string, nextRetryAt time.Time) error
	// TargetRecordSet stores the record set a pending change is about to act on.
	TargetRecordSet(ctx context.Context, batchID string, changeID string, recordSetID string) error
	// DeferRetry pushes the retry hint of a pending batch change out to at; a later hint is kept.
	DeferRetry(ctx context.Context, id string, at time.Time) error
	ListSummariesForUser(ctx context.Context, userID string, startFrom int, maxItems int) ([]domain.BatchChangeSummary, bool, error)
	GetDueForRetry(ctx context.Context, limit int) ([]domain.BatchChange, error)
	// ClearNextRetryAt drops the retry hint unless it was rescheduled past dueBy.
	ClearNextRetryAt(ctx context.Context, id string, dueBy time.Time) error
}

// createdTimestampLockKey is the advisory lock taken while assigning creation timestamps.
const createdTimestampLockKey int64 = 0x646e7362 // "dnsb"

type GormBatchChangeRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormBatchChangeRepo(db *gorm.DB) *GormBatchChangeRepo {
	return &GormBatchChangeRepo{db: db, now: time.Now}
}

func (r *GormBatchChangeRepo) Create(ctx context.Context, b *domain.BatchChange) error {
	if err := prepareBatchChangeForCreate(b); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize creators so each timestamp is read and bumped past the latest one atomically.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", createdTimestampLockKey).Error; err != nil {
			return err
		}

		var latest sql.NullTime
		if err := tx.Model(&BatchChangeModel{}).Select("MAX(created_timestamp)").Row().Scan(&latest); err != nil {
			return err
		}
		b.CreatedTimestamp = nextCreatedTimestamp(r.now(), latest.Time)

		model := batchChangeModelFromDomain(b)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		*b = *batchChangeModelToDomain(model)
		return nil
	})
}

func (r *GormBatchChangeRepo) GetByID(ctx context.Context, id string) (*domain.BatchChange, error) {
	var model BatchChangeModel
	err := r.db.WithContext(ctx).
		Preload("Changes", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchChangeModelToDomain(&model), nil
}

func (r *GormBatchChangeRepo) UpdateStatus(
	ctx context.Context,
	id string,
	results []domain.SingleChangeResult,
) (*domain.BatchChange, error) {
	var updated *domain.BatchChange

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := lockBatchChange(tx, id)
		if err != nil {
			return err
		}

		if err := batch.ApplyResults(results); err != nil {
			return err
		}

		for _, result := range results {
			result := result
			updates := map[string]any{
				"status":         result.Status,
				"system_message": result.SystemMessage,
				"updated_at":     r.now().UTC(),
			}
			if result.RecordSetID != nil {
				updates["record_set_id"] = *result.RecordSetID
			}

			res := tx.Model(&SingleChangeModel{}).
				Where("id = ? AND batch_change_id = ?", result.ChangeID, id).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: change %s", domain.ErrNotFound, result.ChangeID)
			}
		}

		if err := tx.Model(&BatchChangeModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":        batch.Status,
				"next_retry_at": batch.NextRetryAt,
				"updated_at":    r.now().UTC(),
			}).Error; err != nil {
			return err
		}

		updated = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *GormBatchChangeRepo) ScheduleRetry(ctx context.Context, batchID string, changeID string, nextRetryAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := lockBatchChange(tx, batchID)
		if err != nil {
			return err
		}
		if batch.Status.IsTerminal() {
			return fmt.Errorf("%w: batch change %s is already %s", domain.ErrConflict, batchID, batch.Status)
		}

		res := tx.Model(&SingleChangeModel{}).
			Where("id = ? AND batch_change_id = ? AND status = ?", changeID, batchID, domain.SingleChangeStatusPending).
			Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": r.now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: pending change %s", domain.ErrNotFound, changeID)
		}

		return tx.Model(&BatchChangeModel{}).
			Where("id = ?", batchID).
			Update("next_retry_at", nextRetryAt).Error
	})
}

func (r *GormBatchChangeRepo) TargetRecordSet(ctx context.Context, batchID string, changeID string, recordSetID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := lockBatchChange(tx, batchID)
		if err != nil {
			return err
		}
		if err := batch.TargetRecordSet(changeID, recordSetID); err != nil {
			return err
		}

		return tx.Model(&SingleChangeModel{}).
			Where("id = ? AND batch_change_id = ?", changeID, batchID).
			Updates(map[string]any{
				"record_set_id": recordSetID,
				"updated_at":    r.now().UTC(),
			}).Error
	})
}

func (r *GormBatchChangeRepo) DeferRetry(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&BatchChangeModel{}).
		Where("id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at < ?)",
			id, domain.BatchChangeStatusPending, at.UTC()).
		Update("next_retry_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&BatchChangeModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

func (r *GormBatchChangeRepo) ListSummariesForUser(
	ctx context.Context,
	userID string,
	startFrom int,
	maxItems int,
) ([]domain.BatchChangeSummary, bool, error) {
	startFrom = max(startFrom, 0)
	if maxItems < 1 {
		return []domain.BatchChangeSummary{}, false, nil
	}

	var models []BatchChangeModel
	err := r.db.WithContext(ctx).
		Model(&BatchChangeModel{}).
		Where("user_id = ?", userID).
		Order("created_timestamp ASC").
		Order("id ASC").
		Offset(startFrom).
		Limit(maxItems + 1).
		Find(&models).Error
	if err != nil {
		return nil, false, err
	}

	hasMore := len(models) > maxItems
	if hasMore {
		models = models[:maxItems]
	}

	summaries := make([]domain.BatchChangeSummary, 0, len(models))
	for i := range models {
		summaries = append(summaries, batchChangeModelToSummary(&models[i]))
	}

	return summaries, hasMore, nil
}

func (r *GormBatchChangeRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.BatchChange, error) {
	var models []BatchChangeModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.BatchChangeStatusPending, r.now().UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.BatchChange, 0, len(models))
	for i := range models {
		batches = append(batches, *batchChangeModelToDomain(&models[i]))
	}

	return batches, nil
}

func (r *GormBatchChangeRepo) ClearNextRetryAt(ctx context.Context, id string, dueBy time.Time) error {
	return r.db.WithContext(ctx).
		Model(&BatchChangeModel{}).
		Where("id = ? AND next_retry_at <= ?", id, dueBy.UTC()).
		Update("next_retry_at", nil).Error
}

func lockBatchChange(tx *gorm.DB, id string) (*domain.BatchChange, error) {
	var model BatchChangeModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Where("batch_change_id = ?", id).
		Order("seq ASC").
		Find(&model.Changes).Error; err != nil {
		return nil, err
	}

	return batchChangeModelToDomain(&model), nil
}

// nextCreatedTimestamp keeps creation timestamps strictly increasing per store, at the
// microsecond precision Postgres keeps, even when the clock stalls or steps back.
func nextCreatedTimestamp(now time.Time, latest time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !ts.After(latest) {
		ts = latest.UTC().Add(time.Microsecond)
	}
	return ts
}

func prepareBatchChangeForCreate(b *domain.BatchChange) error {
	if b == nil {
		return fmt.Errorf("%w: batch change is required", domain.ErrValidation)
	}
	if len(b.Changes) == 0 {
		return fmt.Errorf("%w: batch change must include at least one change", domain.ErrValidation)
	}
	if b.ID == "" || b.UserID == "" {
		return fmt.Errorf("%w: batch change id and user id are required", domain.ErrValidation)
	}

	b.Status = domain.BatchChangeStatusPending
	for i := range b.Changes {
		change := &b.Changes[i]
		if change.ID == "" || change.ZoneID == "" {
			return fmt.Errorf("%w: change %d is missing id or zone", domain.ErrValidation, i)
		}
		change.BatchChangeID = b.ID
		change.Seq = i
		change.Status = domain.SingleChangeStatusPending
		change.Attempts = 0
		change.SystemMessage = nil
		change.RecordSetID = nil
	}

	return nil
}
