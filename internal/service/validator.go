package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/recordset"
)

const defaultMaxBatchChanges = 1000

// Authorizer decides whether a caller may write a record in a zone.
type Authorizer interface {
	CanWrite(
		ctx context.Context,
		user *domain.User,
		zone domain.Zone,
		recordName string,
		recordType domain.RecordType,
		changeType domain.ChangeType,
	) error
}

// Validator checks record mutations in two phases: input checks at submission and
// checks against live zone data right before a change is applied.
type Validator struct {
	resolver   *ZoneResolver
	authorizer Authorizer
	maxChanges int
	newID      func() string
}

func NewValidator(resolver *ZoneResolver, authorizer Authorizer, maxChanges int) (*Validator, error) {
	if resolver == nil {
		return nil, fmt.Errorf("zone resolver is required")
	}
	if authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if maxChanges <= 0 {
		maxChanges = defaultMaxBatchChanges
	}
	return &Validator{
		resolver:   resolver,
		authorizer: authorizer,
		maxChanges: maxChanges,
		newID:      uuid.NewString,
	}, nil
}

// PrepareBatchChange validates input, resolves zones and authorizes every change.
// Any failure rejects the whole batch.
func (v *Validator) PrepareBatchChange(
	ctx context.Context,
	user *domain.User,
	input domain.BatchChangeInput,
) (*domain.BatchChange, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: caller is not authenticated", domain.ErrUnauthorized)
	}
	if err := input.Validate(v.maxChanges); err != nil {
		return nil, err
	}

	batch := &domain.BatchChange{
		ID:       v.newID(),
		UserID:   user.ID,
		UserName: user.UserName,
		Comments: input.Comments,
		Status:   domain.BatchChangeStatusPending,
		Changes:  make([]domain.SingleChange, 0, len(input.Changes)),
	}

	for i, in := range input.Changes {
		zone, err := v.resolver.Resolve(ctx, in.InputName)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}

		recordName := domain.RelativeName(in.InputName, zone.Name)
		if in.Type == domain.RecordTypeCNAME && in.ChangeType == domain.ChangeTypeAdd && recordName == domain.ApexRecordName {
			return nil, fmt.Errorf("%w: change %d: CNAME cannot be created at zone apex %s", domain.ErrValidation, i, zone.Name)
		}

		if err := v.authorizer.CanWrite(ctx, user, *zone, recordName, in.Type, in.ChangeType); err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}

		change := domain.SingleChange{
			ID:         v.newID(),
			ChangeType: in.ChangeType,
			InputName:  in.InputName,
			RecordName: recordName,
			ZoneName:   zone.Name,
			ZoneID:     zone.ID,
			Type:       in.Type,
			Status:     domain.SingleChangeStatusPending,
		}
		if in.ChangeType == domain.ChangeTypeAdd {
			ttl := domain.DefaultTTL
			if in.TTL != nil {
				ttl = *in.TTL
			}
			change.TTL = &ttl
			change.Record = in.Record
		}
		batch.Changes = append(batch.Changes, change)
	}

	return batch, nil
}

// ZoneCheck is the outcome of checking one change against live zone data.
type ZoneCheck struct {
	// Target is the record set a DeleteRecordSet change removes.
	Target *domain.RecordSet
	// AppliedRecordSetID is set when an earlier run of the same change already took effect.
	AppliedRecordSetID string
}

// ValidateAgainstZone checks one change against the record sets currently in its zone.
// Conflicts are permanent; lookup failures are transient. A change whose own earlier
// apply is visible in the zone is reported as applied rather than as a conflict.
func (v *Validator) ValidateAgainstZone(ctx context.Context, gateway recordset.Gateway, change domain.SingleChange) (ZoneCheck, error) {
	existing, err := gateway.FindRecordSets(ctx, change.ZoneID, change.RecordName)
	if err != nil {
		var applyErr *recordset.ApplyError
		if errors.As(err, &applyErr) {
			return ZoneCheck{}, err
		}
		return ZoneCheck{}, recordset.Transient("record set lookup failed", err)
	}

	switch change.ChangeType {
	case domain.ChangeTypeAdd:
		ownID := domain.RecordSetIDFor(change.ID)
		for _, rs := range existing {
			if rs.ID == ownID {
				return ZoneCheck{AppliedRecordSetID: ownID}, nil
			}
		}
		if change.Type == domain.RecordTypeCNAME && len(existing) > 0 {
			return ZoneCheck{}, recordset.Permanent("CNAME conflict: %s already has %s records", change.InputName, typesOf(existing))
		}
		for _, rs := range existing {
			if rs.Type == domain.RecordTypeCNAME {
				return ZoneCheck{}, recordset.Permanent("CNAME conflict: %s is already a CNAME", change.InputName)
			}
			if rs.Type == change.Type {
				return ZoneCheck{}, recordset.Permanent("record set %s %s already exists", change.InputName, change.Type)
			}
		}
	case domain.ChangeTypeDeleteRecordSet:
		for i := range existing {
			if existing[i].Type == change.Type {
				return ZoneCheck{Target: &existing[i]}, nil
			}
		}
		// The target was recorded before an earlier delete; its absence means that delete landed.
		if change.RecordSetID != nil && *change.RecordSetID != "" {
			return ZoneCheck{AppliedRecordSetID: *change.RecordSetID}, nil
		}
		return ZoneCheck{}, recordset.Permanent("record set %s %s does not exist", change.InputName, change.Type)
	}

	return ZoneCheck{}, nil
}

func typesOf(sets []domain.RecordSet) string {
	types := make([]string, 0, len(sets))
	for _, rs := range sets {
		types = append(types, rs.Type.String())
	}
	return strings.Join(types, ",")
}
