package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/observability"
	"github.com/kursadbilgin/dnsbatch/internal/recordset"
	"go.uber.org/zap"
)

type ZoneGetter interface {
	GetByID(ctx context.Context, id string) (*domain.Zone, error)
}

// RecordSetService exposes live record sets of a zone to authenticated callers.
type RecordSetService struct {
	zones      ZoneGetter
	gateway    recordset.Gateway
	authorizer Authorizer
	logger     *zap.Logger
}

func NewRecordSetService(zones ZoneGetter, gateway recordset.Gateway, authorizer Authorizer, logger *zap.Logger) (*RecordSetService, error) {
	if zones == nil {
		return nil, fmt.Errorf("zone repository is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("record set gateway is required")
	}
	if authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordSetService{zones: zones, gateway: gateway, authorizer: authorizer, logger: logger}, nil
}

func (s *RecordSetService) Get(ctx context.Context, user *domain.User, zoneID string, recordSetID string) (*domain.RecordSet, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: caller is not authenticated", domain.ErrUnauthorized)
	}
	if _, err := s.zone(ctx, zoneID); err != nil {
		return nil, err
	}

	rs, err := s.gateway.GetRecordSet(ctx, zoneID, strings.TrimSpace(recordSetID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: record set %s", domain.ErrNotFound, recordSetID)
		}
		return nil, err
	}
	return rs, nil
}

// Delete removes a record set when the caller holds Delete access to its name and type.
func (s *RecordSetService) Delete(ctx context.Context, user *domain.User, zoneID string, recordSetID string) error {
	if user == nil {
		return fmt.Errorf("%w: caller is not authenticated", domain.ErrUnauthorized)
	}
	zone, err := s.zone(ctx, zoneID)
	if err != nil {
		return err
	}

	rs, err := s.gateway.GetRecordSet(ctx, zone.ID, strings.TrimSpace(recordSetID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: record set %s", domain.ErrNotFound, recordSetID)
		}
		return err
	}

	if err := s.authorizer.CanWrite(ctx, user, *zone, rs.Name, rs.Type, domain.ChangeTypeDeleteRecordSet); err != nil {
		return err
	}

	if err := s.gateway.DeleteRecordSet(ctx, zone.ID, rs.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: record set %s", domain.ErrNotFound, recordSetID)
		}
		return err
	}

	observability.WithContextLogger(s.logger, ctx).Info("record set deleted",
		zap.String("zoneId", zone.ID),
		zap.String("recordSetId", rs.ID),
		zap.String("userId", user.ID),
	)
	return nil
}

func (s *RecordSetService) zone(ctx context.Context, zoneID string) (*domain.Zone, error) {
	zoneID = strings.TrimSpace(zoneID)
	if zoneID == "" {
		return nil, fmt.Errorf("%w: zone id is required", domain.ErrValidation)
	}
	zone, err := s.zones.GetByID(ctx, zoneID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: zone %s", domain.ErrNotFound, zoneID)
		}
		return nil, err
	}
	return zone, nil
}
