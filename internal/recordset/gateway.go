package recordset

import (
	"context"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
)

// Gateway is the port to the record-set subsystem that owns live zone data.
type Gateway interface {
	FindRecordSets(ctx context.Context, zoneID string, name string) ([]domain.RecordSet, error)
	GetRecordSet(ctx context.Context, zoneID string, recordSetID string) (*domain.RecordSet, error)
	// ApplyChange performs one single change and returns the affected record set id.
	// Add creates the set under domain.RecordSetIDFor(change.ID). DeleteRecordSet removes
	// change.RecordSetID when set, otherwise the set matching the change's name and type.
	ApplyChange(ctx context.Context, change domain.SingleChange) (string, error)
	DeleteRecordSet(ctx context.Context, zoneID string, recordSetID string) error
}

func changeTTL(change domain.SingleChange) int {
	if change.TTL != nil {
		return *change.TTL
	}
	return domain.DefaultTTL
}

func findByType(sets []domain.RecordSet, t domain.RecordType) *domain.RecordSet {
	for i := range sets {
		if sets[i].Type == t {
			return &sets[i]
		}
	}
	return nil
}

// deleteTarget picks the record set a DeleteRecordSet change removes.
func deleteTarget(ctx context.Context, g Gateway, change domain.SingleChange) (string, error) {
	if change.RecordSetID != nil && *change.RecordSetID != "" {
		return *change.RecordSetID, nil
	}
	sets, err := g.FindRecordSets(ctx, change.ZoneID, change.RecordName)
	if err != nil {
		return "", err
	}
	target := findByType(sets, change.Type)
	if target == nil {
		return "", Permanent("record set %s %s does not exist in zone %s", change.RecordName, change.Type, change.ZoneName)
	}
	return target.ID, nil
}
