package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"gorm.io/gorm"
)

type RecordSetRepository interface {
	Create(ctx context.Context, rs *domain.RecordSet) error
	GetByID(ctx context.Context, zoneID string, id string) (*domain.RecordSet, error)
	FindByName(ctx context.Context, zoneID string, name string) ([]domain.RecordSet, error)
	Delete(ctx context.Context, zoneID string, id string) error
}

type GormRecordSetRepo struct {
	db *gorm.DB
}

func NewGormRecordSetRepo(db *gorm.DB) *GormRecordSetRepo {
	return &GormRecordSetRepo{db: db}
}

func (r *GormRecordSetRepo) Create(ctx context.Context, rs *domain.RecordSet) error {
	model := recordSetModelFromDomain(rs)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if rs != nil {
		*rs = *recordSetModelToDomain(model)
	}
	return nil
}

func (r *GormRecordSetRepo) GetByID(ctx context.Context, zoneID string, id string) (*domain.RecordSet, error) {
	var model RecordSetModel
	err := r.db.WithContext(ctx).
		Where("zone_id = ? AND id = ?", zoneID, id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordSetModelToDomain(&model), nil
}

func (r *GormRecordSetRepo) FindByName(ctx context.Context, zoneID string, name string) ([]domain.RecordSet, error) {
	var models []RecordSetModel
	err := r.db.WithContext(ctx).
		Where("zone_id = ? AND name = ?", zoneID, name).
		Order("type ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	sets := make([]domain.RecordSet, 0, len(models))
	for i := range models {
		sets = append(sets, *recordSetModelToDomain(&models[i]))
	}
	return sets, nil
}

func (r *GormRecordSetRepo) Delete(ctx context.Context, zoneID string, id string) error {
	result := r.db.WithContext(ctx).
		Where("zone_id = ? AND id = ?", zoneID, id).
		Delete(&RecordSetModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
