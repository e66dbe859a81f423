package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
)

// MemoryStore groups in-process repositories used when STORE_DRIVER=memory and in tests.
type MemoryStore struct {
	BatchChanges *MemoryBatchChangeRepo
	Zones        *MemoryZoneRepo
	Users        *MemoryUserRepo
	RecordSets   *MemoryRecordSetRepo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		BatchChanges: NewMemoryBatchChangeRepo(),
		Zones:        NewMemoryZoneRepo(),
		Users:        NewMemoryUserRepo(),
		RecordSets:   NewMemoryRecordSetRepo(),
	}
}

type MemoryBatchChangeRepo struct {
	mu      sync.RWMutex
	batches map[string]*domain.BatchChange
	now     func() time.Time
	last    time.Time
}

func NewMemoryBatchChangeRepo() *MemoryBatchChangeRepo {
	return &MemoryBatchChangeRepo{
		batches: make(map[string]*domain.BatchChange),
		now:     time.Now,
	}
}

func (r *MemoryBatchChangeRepo) Create(_ context.Context, b *domain.BatchChange) error {
	if err := prepareBatchChangeForCreate(b); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[b.ID]; exists {
		return fmt.Errorf("%w: batch change %s already exists", domain.ErrConflict, b.ID)
	}

	ts := nextCreatedTimestamp(r.now(), r.last)
	r.last = ts
	b.CreatedTimestamp = ts

	r.batches[b.ID] = b.Clone()
	return nil
}

func (r *MemoryBatchChangeRepo) GetByID(_ context.Context, id string) (*domain.BatchChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b.Clone(), nil
}

func (r *MemoryBatchChangeRepo) UpdateStatus(
	_ context.Context,
	id string,
	results []domain.SingleChangeResult,
) (*domain.BatchChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	// Work on a copy so a rejected update leaves the stored batch untouched.
	next := stored.Clone()
	if err := next.ApplyResults(results); err != nil {
		return nil, err
	}

	r.batches[id] = next
	return next.Clone(), nil
}

func (r *MemoryBatchChangeRepo) ScheduleRetry(_ context.Context, batchID string, changeID string, nextRetryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: batch change %s is already %s", domain.ErrConflict, batchID, b.Status)
	}

	for i := range b.Changes {
		c := &b.Changes[i]
		if c.ID != changeID || c.Status != domain.SingleChangeStatusPending {
			continue
		}
		c.Attempts++
		at := nextRetryAt.UTC()
		b.NextRetryAt = &at
		return nil
	}

	return fmt.Errorf("%w: pending change %s", domain.ErrNotFound, changeID)
}

func (r *MemoryBatchChangeRepo) TargetRecordSet(_ context.Context, batchID string, changeID string, recordSetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	return b.TargetRecordSet(changeID, recordSetID)
}

func (r *MemoryBatchChangeRepo) DeferRetry(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.DeferRetry(at)
	return nil
}

func (r *MemoryBatchChangeRepo) ListSummariesForUser(
	_ context.Context,
	userID string,
	startFrom int,
	maxItems int,
) ([]domain.BatchChangeSummary, bool, error) {
	startFrom = max(startFrom, 0)
	if maxItems < 1 {
		return []domain.BatchChangeSummary{}, false, nil
	}

	r.mu.RLock()
	owned := make([]*domain.BatchChange, 0)
	for _, b := range r.batches {
		if b.UserID == userID {
			owned = append(owned, b)
		}
	}
	summaries := make([]domain.BatchChangeSummary, 0, len(owned))
	for _, b := range owned {
		summaries = append(summaries, b.Clone().Summary())
	}
	r.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedTimestamp.Equal(summaries[j].CreatedTimestamp) {
			return summaries[i].CreatedTimestamp.Before(summaries[j].CreatedTimestamp)
		}
		return summaries[i].ID < summaries[j].ID
	})

	if startFrom >= len(summaries) {
		return []domain.BatchChangeSummary{}, false, nil
	}

	end := startFrom + maxItems
	hasMore := end < len(summaries)
	if !hasMore {
		end = len(summaries)
	}

	return summaries[startFrom:end], hasMore, nil
}

func (r *MemoryBatchChangeRepo) GetDueForRetry(_ context.Context, limit int) ([]domain.BatchChange, error) {
	now := r.now().UTC()

	r.mu.RLock()
	due := make([]domain.BatchChange, 0)
	for _, b := range r.batches {
		if b.Status != domain.BatchChangeStatusPending || b.NextRetryAt == nil || b.NextRetryAt.After(now) {
			continue
		}
		due = append(due, *b.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *MemoryBatchChangeRepo) ClearNextRetryAt(_ context.Context, id string, dueBy time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.NextRetryAt != nil && !b.NextRetryAt.After(dueBy) {
		b.NextRetryAt = nil
	}
	return nil
}

type MemoryZoneRepo struct {
	mu    sync.RWMutex
	zones map[string]domain.Zone
	rules map[string][]domain.ACLRule
}

func NewMemoryZoneRepo() *MemoryZoneRepo {
	return &MemoryZoneRepo{
		zones: make(map[string]domain.Zone),
		rules: make(map[string][]domain.ACLRule),
	}
}

func (r *MemoryZoneRepo) Create(_ context.Context, z *domain.Zone) error {
	if z == nil || z.ID == "" {
		return fmt.Errorf("%w: zone id is required", domain.ErrValidation)
	}
	z.Name = domain.NormalizeFQDN(z.Name)
	if z.CreatedAt.IsZero() {
		z.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.zones {
		if existing.ID == z.ID || existing.Name == z.Name {
			return fmt.Errorf("%w: zone %s already exists", domain.ErrConflict, z.Name)
		}
	}
	r.zones[z.ID] = *z
	return nil
}

func (r *MemoryZoneRepo) GetByID(_ context.Context, id string) (*domain.Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	z, ok := r.zones[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &z, nil
}

func (r *MemoryZoneRepo) FindByNames(_ context.Context, names []string) ([]domain.Zone, error) {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	zones := make([]domain.Zone, 0)
	for _, z := range r.zones {
		if _, ok := wanted[z.Name]; ok {
			zones = append(zones, z)
		}
	}
	return zones, nil
}

func (r *MemoryZoneRepo) AddACLRule(_ context.Context, rule *domain.ACLRule) error {
	if rule == nil || rule.ZoneID == "" {
		return fmt.Errorf("%w: acl rule zone is required", domain.ErrValidation)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rule
	cp.RecordTypes = append([]domain.RecordType(nil), rule.RecordTypes...)
	r.rules[rule.ZoneID] = append(r.rules[rule.ZoneID], cp)
	return nil
}

func (r *MemoryZoneRepo) ListACLRules(_ context.Context, zoneID string) ([]domain.ACLRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.ACLRule(nil), r.rules[zoneID]...), nil
}

func (r *MemoryZoneRepo) ClearACLRules(_ context.Context, zoneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rules, zoneID)
	return nil
}

type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]domain.User)}
}

func (r *MemoryUserRepo) Create(_ context.Context, u *domain.User) error {
	if u == nil || u.ID == "" || u.AccessKey == "" {
		return fmt.Errorf("%w: user id and access key are required", domain.ErrValidation)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.ID == u.ID || existing.AccessKey == u.AccessKey {
			return fmt.Errorf("%w: user %s already exists", domain.ErrConflict, u.ID)
		}
	}
	cp := *u
	cp.GroupIDs = append([]string(nil), u.GroupIDs...)
	r.users[u.ID] = cp
	return nil
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepo) GetByAccessKey(_ context.Context, accessKey string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.AccessKey == accessKey {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

type MemoryRecordSetRepo struct {
	mu   sync.RWMutex
	sets map[string]domain.RecordSet
}

func NewMemoryRecordSetRepo() *MemoryRecordSetRepo {
	return &MemoryRecordSetRepo{sets: make(map[string]domain.RecordSet)}
}

func (r *MemoryRecordSetRepo) Create(_ context.Context, rs *domain.RecordSet) error {
	if rs == nil || rs.ZoneID == "" {
		return fmt.Errorf("%w: record set zone is required", domain.ErrValidation)
	}
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sets {
		if existing.ZoneID == rs.ZoneID && existing.Name == rs.Name && existing.Type == rs.Type {
			return fmt.Errorf("%w: record set %s %s already exists", domain.ErrConflict, rs.Name, rs.Type)
		}
	}
	cp := *rs
	cp.Records = append([]domain.RecordData(nil), rs.Records...)
	r.sets[rs.ID] = cp
	return nil
}

func (r *MemoryRecordSetRepo) GetByID(_ context.Context, zoneID string, id string) (*domain.RecordSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rs, ok := r.sets[id]
	if !ok || rs.ZoneID != zoneID {
		return nil, domain.ErrNotFound
	}
	rs.Records = append([]domain.RecordData(nil), rs.Records...)
	return &rs, nil
}

func (r *MemoryRecordSetRepo) FindByName(_ context.Context, zoneID string, name string) ([]domain.RecordSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sets := make([]domain.RecordSet, 0)
	for _, rs := range r.sets {
		if rs.ZoneID == zoneID && rs.Name == name {
			rs.Records = append([]domain.RecordData(nil), rs.Records...)
			sets = append(sets, rs)
		}
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].Type < sets[j].Type })
	return sets, nil
}

func (r *MemoryRecordSetRepo) Delete(_ context.Context, zoneID string, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.sets[id]
	if !ok || rs.ZoneID != zoneID {
		return domain.ErrNotFound
	}
	delete(r.sets, id)
	return nil
}

var (
	_ BatchChangeRepository = (*MemoryBatchChangeRepo)(nil)
	_ ZoneRepository        = (*MemoryZoneRepo)(nil)
	_ UserRepository        = (*MemoryUserRepo)(nil)
	_ RecordSetRepository   = (*MemoryRecordSetRepo)(nil)
	_ BatchChangeRepository = (*GormBatchChangeRepo)(nil)
	_ ZoneRepository        = (*GormZoneRepo)(nil)
	_ UserRepository        = (*GormUserRepo)(nil)
	_ RecordSetRepository   = (*GormRecordSetRepo)(nil)
)
