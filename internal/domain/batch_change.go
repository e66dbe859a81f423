package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// recordSetNamespace seeds the ids of record sets created by Add changes.
var recordSetNamespace = uuid.MustParse("6f1c2a7e-3d4b-5e8f-9a0b-1c2d3e4f5a6b")

// RecordSetIDFor returns the id of the record set created by the Add change changeID.
// The id is stable, so a repeated apply can recognise its own earlier result.
func RecordSetIDFor(changeID string) string {
	return uuid.NewSHA1(recordSetNamespace, []byte(changeID)).String()
}

// BatchChangeStatus represents the aggregate processing state of a batch change.
type BatchChangeStatus string

const (
	BatchChangeStatusPending        BatchChangeStatus = "Pending"
	BatchChangeStatusPartialFailure BatchChangeStatus = "PartialFailure"
	BatchChangeStatusComplete       BatchChangeStatus = "Complete"
	BatchChangeStatusFailed         BatchChangeStatus = "Failed"
)

func (s BatchChangeStatus) String() string { return string(s) }

func (s BatchChangeStatus) IsValid() bool {
	switch s {
	case BatchChangeStatusPending, BatchChangeStatusPartialFailure, BatchChangeStatusComplete, BatchChangeStatusFailed:
		return true
	}
	return false
}

func (s BatchChangeStatus) IsTerminal() bool {
	switch s {
	case BatchChangeStatusPartialFailure, BatchChangeStatusComplete, BatchChangeStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a batch may move from s to next.
// Pending may stay Pending or move to any terminal status; terminal statuses never move.
func (s BatchChangeStatus) CanTransitionTo(next BatchChangeStatus) bool {
	if s != BatchChangeStatusPending {
		return false
	}
	return next.IsValid()
}

// SingleChangeStatus represents the state of one record mutation in a batch.
type SingleChangeStatus string

const (
	SingleChangeStatusPending  SingleChangeStatus = "Pending"
	SingleChangeStatusComplete SingleChangeStatus = "Complete"
	SingleChangeStatusFailed   SingleChangeStatus = "Failed"
)

func (s SingleChangeStatus) String() string { return string(s) }

func (s SingleChangeStatus) IsTerminal() bool {
	return s == SingleChangeStatusComplete || s == SingleChangeStatusFailed
}

// ChangeType is the kind of mutation a single change performs.
type ChangeType string

const (
	ChangeTypeAdd             ChangeType = "Add"
	ChangeTypeDeleteRecordSet ChangeType = "DeleteRecordSet"
)

func (c ChangeType) String() string { return string(c) }

func (c ChangeType) IsValid() bool {
	return c == ChangeTypeAdd || c == ChangeTypeDeleteRecordSet
}

func ParseChangeTypeFromString(s string) (ChangeType, error) {
	trimmed := strings.TrimSpace(s)
	for _, ct := range []ChangeType{ChangeTypeAdd, ChangeTypeDeleteRecordSet} {
		if strings.EqualFold(trimmed, ct.String()) {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: invalid change type %q", ErrValidation, s)
}

// SingleChange is one record mutation inside a batch change.
type SingleChange struct {
	ID            string
	BatchChangeID string
	Seq           int
	ChangeType    ChangeType
	InputName     string
	RecordName    string
	ZoneName      string
	ZoneID        string
	RecordSetID   *string
	Type          RecordType
	TTL           *int
	Record        RecordData
	Status        SingleChangeStatus
	SystemMessage *string
	Attempts      int
}

// SingleChangeResult is the outcome of applying one single change.
type SingleChangeResult struct {
	ChangeID      string
	Status        SingleChangeStatus
	RecordSetID   *string
	SystemMessage *string
}

// BatchChange groups record mutations that are submitted, processed and tracked as one unit.
type BatchChange struct {
	ID               string
	UserID           string
	UserName         string
	Comments         *string
	CreatedTimestamp time.Time
	Status           BatchChangeStatus
	Changes          []SingleChange
	NextRetryAt      *time.Time
}

func (b *BatchChange) TotalChanges() int {
	if b == nil {
		return 0
	}
	return len(b.Changes)
}

func (b *BatchChange) Summary() BatchChangeSummary {
	return BatchChangeSummary{
		ID:               b.ID,
		UserID:           b.UserID,
		UserName:         b.UserName,
		Comments:         b.Comments,
		CreatedTimestamp: b.CreatedTimestamp,
		TotalChanges:     b.TotalChanges(),
		Status:           b.Status,
	}
}

// Clone returns a deep copy so callers never share change slices with a store.
func (b *BatchChange) Clone() *BatchChange {
	if b == nil {
		return nil
	}

	out := *b
	out.Comments = cloneString(b.Comments)
	if b.NextRetryAt != nil {
		t := *b.NextRetryAt
		out.NextRetryAt = &t
	}
	out.Changes = make([]SingleChange, len(b.Changes))
	for i, c := range b.Changes {
		c.RecordSetID = cloneString(c.RecordSetID)
		c.SystemMessage = cloneString(c.SystemMessage)
		if c.TTL != nil {
			ttl := *c.TTL
			c.TTL = &ttl
		}
		out.Changes[i] = c
	}
	return &out
}

// ApplyResults updates matching changes and recomputes the aggregate status.
// It returns ErrConflict when the batch is already terminal or a change was already resolved.
func (b *BatchChange) ApplyResults(results []SingleChangeResult) error {
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: batch change %s is already %s", ErrConflict, b.ID, b.Status)
	}

	for _, result := range results {
		if !result.Status.IsTerminal() {
			return fmt.Errorf("%w: change result for %s must be terminal", ErrValidation, result.ChangeID)
		}

		idx := b.changeIndex(result.ChangeID)
		if idx < 0 {
			return fmt.Errorf("%w: change %s not in batch change %s", ErrNotFound, result.ChangeID, b.ID)
		}

		change := &b.Changes[idx]
		if change.Status.IsTerminal() {
			return fmt.Errorf("%w: change %s is already %s", ErrConflict, change.ID, change.Status)
		}

		change.Status = result.Status
		change.SystemMessage = cloneString(result.SystemMessage)
		if result.RecordSetID != nil {
			change.RecordSetID = cloneString(result.RecordSetID)
		}
	}

	next := AggregateStatus(b.Changes)
	if !b.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: invalid transition %s -> %s", ErrConflict, b.Status, next)
	}
	b.Status = next
	if next.IsTerminal() {
		b.NextRetryAt = nil
	}

	return nil
}

// TargetRecordSet records which record set a pending change is about to act on.
func (b *BatchChange) TargetRecordSet(changeID string, recordSetID string) error {
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: batch change %s is already %s", ErrConflict, b.ID, b.Status)
	}
	idx := b.changeIndex(changeID)
	if idx < 0 || b.Changes[idx].Status != SingleChangeStatusPending {
		return fmt.Errorf("%w: pending change %s", ErrNotFound, changeID)
	}
	id := recordSetID
	b.Changes[idx].RecordSetID = &id
	return nil
}

// DeferRetry pushes the retry hint out to at; a later hint is kept.
// It reports whether the hint changed.
func (b *BatchChange) DeferRetry(at time.Time) bool {
	if b.Status.IsTerminal() {
		return false
	}
	if b.NextRetryAt != nil && !b.NextRetryAt.Before(at) {
		return false
	}
	at = at.UTC()
	b.NextRetryAt = &at
	return true
}

func (b *BatchChange) changeIndex(changeID string) int {
	for i := range b.Changes {
		if b.Changes[i].ID == changeID {
			return i
		}
	}
	return -1
}

// AggregateStatus derives the batch status from its changes.
func AggregateStatus(changes []SingleChange) BatchChangeStatus {
	if len(changes) == 0 {
		return BatchChangeStatusPending
	}

	complete, failed := 0, 0
	for _, c := range changes {
		switch c.Status {
		case SingleChangeStatusComplete:
			complete++
		case SingleChangeStatusFailed:
			failed++
		default:
			return BatchChangeStatusPending
		}
	}

	switch {
	case complete == len(changes):
		return BatchChangeStatusComplete
	case failed == len(changes):
		return BatchChangeStatusFailed
	default:
		return BatchChangeStatusPartialFailure
	}
}

// BatchChangeSummary is the read-only listing projection of a batch change.
type BatchChangeSummary struct {
	ID               string
	UserID           string
	UserName         string
	Comments         *string
	CreatedTimestamp time.Time
	TotalChanges     int
	Status           BatchChangeStatus
}

// BatchChangeSummaryList is one page of a user's batch change summaries.
type BatchChangeSummaryList struct {
	BatchChanges []BatchChangeSummary
	StartFrom    *int
	NextID       *int
	MaxItems     int
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
