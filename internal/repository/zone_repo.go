package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"gorm.io/gorm"
)

type ZoneRepository interface {
	Create(ctx context.Context, z *domain.Zone) error
	GetByID(ctx context.Context, id string) (*domain.Zone, error)
	FindByNames(ctx context.Context, names []string) ([]domain.Zone, error)
	AddACLRule(ctx context.Context, rule *domain.ACLRule) error
	ListACLRules(ctx context.Context, zoneID string) ([]domain.ACLRule, error)
	ClearACLRules(ctx context.Context, zoneID string) error
}

type GormZoneRepo struct {
	db *gorm.DB
}

func NewGormZoneRepo(db *gorm.DB) *GormZoneRepo {
	return &GormZoneRepo{db: db}
}

func (r *GormZoneRepo) Create(ctx context.Context, z *domain.Zone) error {
	if z != nil {
		z.Name = domain.NormalizeFQDN(z.Name)
	}
	model := zoneModelFromDomain(z)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if z != nil {
		*z = *zoneModelToDomain(model)
	}
	return nil
}

func (r *GormZoneRepo) GetByID(ctx context.Context, id string) (*domain.Zone, error) {
	var model ZoneModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return zoneModelToDomain(&model), nil
}

func (r *GormZoneRepo) FindByNames(ctx context.Context, names []string) ([]domain.Zone, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var models []ZoneModel
	if err := r.db.WithContext(ctx).Where("name IN ?", names).Find(&models).Error; err != nil {
		return nil, err
	}

	zones := make([]domain.Zone, 0, len(models))
	for i := range models {
		zones = append(zones, *zoneModelToDomain(&models[i]))
	}
	return zones, nil
}

func (r *GormZoneRepo) AddACLRule(ctx context.Context, rule *domain.ACLRule) error {
	model := aclRuleModelFromDomain(rule)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if rule != nil {
		*rule = *aclRuleModelToDomain(model)
	}
	return nil
}

func (r *GormZoneRepo) ListACLRules(ctx context.Context, zoneID string) ([]domain.ACLRule, error) {
	var models []ACLRuleModel
	err := r.db.WithContext(ctx).
		Where("zone_id = ?", zoneID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	rules := make([]domain.ACLRule, 0, len(models))
	for i := range models {
		rules = append(rules, *aclRuleModelToDomain(&models[i]))
	}
	return rules, nil
}

func (r *GormZoneRepo) ClearACLRules(ctx context.Context, zoneID string) error {
	return r.db.WithContext(ctx).
		Where("zone_id = ?", zoneID).
		Delete(&ACLRuleModel{}).Error
}
