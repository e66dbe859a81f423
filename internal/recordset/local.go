package recordset

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
)

var _ Gateway = (*LocalGateway)(nil)

// LocalGateway applies changes to record sets kept in this service's own store.
type LocalGateway struct {
	repo repository.RecordSetRepository
}

func NewLocalGateway(repo repository.RecordSetRepository) *LocalGateway {
	return &LocalGateway{repo: repo}
}

func (g *LocalGateway) FindRecordSets(ctx context.Context, zoneID string, name string) ([]domain.RecordSet, error) {
	sets, err := g.repo.FindByName(ctx, zoneID, name)
	if err != nil {
		return nil, Transient("record set lookup failed", err)
	}
	return sets, nil
}

func (g *LocalGateway) GetRecordSet(ctx context.Context, zoneID string, recordSetID string) (*domain.RecordSet, error) {
	return g.repo.GetByID(ctx, zoneID, recordSetID)
}

func (g *LocalGateway) ApplyChange(ctx context.Context, change domain.SingleChange) (string, error) {
	switch change.ChangeType {
	case domain.ChangeTypeAdd:
		rs := &domain.RecordSet{
			ID:      domain.RecordSetIDFor(change.ID),
			ZoneID:  change.ZoneID,
			Name:    change.RecordName,
			Type:    change.Type,
			TTL:     changeTTL(change),
			Records: []domain.RecordData{change.Record},
		}
		if err := g.repo.Create(ctx, rs); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return "", Permanent("record set %s %s already exists in zone %s", change.RecordName, change.Type, change.ZoneName)
			}
			return "", Transient("record set create failed", err)
		}
		return rs.ID, nil

	case domain.ChangeTypeDeleteRecordSet:
		targetID, err := deleteTarget(ctx, g, change)
		if err != nil {
			return "", err
		}
		if err := g.repo.Delete(ctx, change.ZoneID, targetID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", Permanent("record set %s %s does not exist in zone %s", change.RecordName, change.Type, change.ZoneName)
			}
			return "", Transient("record set delete failed", err)
		}
		return targetID, nil
	}

	return "", Permanent("unsupported change type %q", change.ChangeType)
}

func (g *LocalGateway) DeleteRecordSet(ctx context.Context, zoneID string, recordSetID string) error {
	if err := g.repo.Delete(ctx, zoneID, recordSetID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: record set %s", domain.ErrNotFound, recordSetID)
		}
		return err
	}
	return nil
}
