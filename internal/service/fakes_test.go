package service

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/dnsbatch/internal/auth"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/lock"
	"github.com/kursadbilgin/dnsbatch/internal/queue"
	"github.com/kursadbilgin/dnsbatch/internal/ratelimit"
	"github.com/kursadbilgin/dnsbatch/internal/recordset"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
	"go.uber.org/zap"
)

type fakeBatchChangeRepo struct {
	createFn           func(ctx context.Context, b *domain.BatchChange) error
	getByIDFn          func(ctx context.Context, id string) (*domain.BatchChange, error)
	updateStatusFn     func(ctx context.Context, id string, results []domain.SingleChangeResult) (*domain.BatchChange, error)
	scheduleRetryFn    func(ctx context.Context, batchID string, changeID string, nextRetryAt time.Time) error
	listSummariesFn    func(ctx context.Context, userID string, startFrom int, maxItems int) ([]domain.BatchChangeSummary, bool, error)
	getDueForRetryFn   func(ctx context.Context, limit int) ([]domain.BatchChange, error)
	clearNextRetryAtFn func(ctx context.Context, id string, dueBy time.Time) error
	targetRecordSetFn  func(ctx context.Context, batchID string, changeID string, recordSetID string) error
	deferRetryFn       func(ctx context.Context, id string, at time.Time) error
}

func (f *fakeBatchChangeRepo) Create(ctx context.Context, b *domain.BatchChange) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	return nil
}

func (f *fakeBatchChangeRepo) GetByID(ctx context.Context, id string) (*domain.BatchChange, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchChangeRepo) UpdateStatus(ctx context.Context, id string, results []domain.SingleChangeResult) (*domain.BatchChange, error) {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, results)
	}
	return &domain.BatchChange{ID: id}, nil
}

func (f *fakeBatchChangeRepo) ScheduleRetry(ctx context.Context, batchID string, changeID string, nextRetryAt time.Time) error {
	if f.scheduleRetryFn != nil {
		return f.scheduleRetryFn(ctx, batchID, changeID, nextRetryAt)
	}
	return nil
}

func (f *fakeBatchChangeRepo) TargetRecordSet(ctx context.Context, batchID string, changeID string, recordSetID string) error {
	if f.targetRecordSetFn != nil {
		return f.targetRecordSetFn(ctx, batchID, changeID, recordSetID)
	}
	return nil
}

func (f *fakeBatchChangeRepo) DeferRetry(ctx context.Context, id string, at time.Time) error {
	if f.deferRetryFn != nil {
		return f.deferRetryFn(ctx, id, at)
	}
	return nil
}

func (f *fakeBatchChangeRepo) ListSummariesForUser(ctx context.Context, userID string, startFrom int, maxItems int) ([]domain.BatchChangeSummary, bool, error) {
	if f.listSummariesFn != nil {
		return f.listSummariesFn(ctx, userID, startFrom, maxItems)
	}
	return nil, false, nil
}

func (f *fakeBatchChangeRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.BatchChange, error) {
	if f.getDueForRetryFn != nil {
		return f.getDueForRetryFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeBatchChangeRepo) ClearNextRetryAt(ctx context.Context, id string, dueBy time.Time) error {
	if f.clearNextRetryAtFn != nil {
		return f.clearNextRetryAtFn(ctx, id, dueBy)
	}
	return nil
}

var _ repository.BatchChangeRepository = (*fakeBatchChangeRepo)(nil)

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.BatchChangeMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.BatchChangeMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeGateway struct {
	findFn   func(ctx context.Context, zoneID string, name string) ([]domain.RecordSet, error)
	getFn    func(ctx context.Context, zoneID string, id string) (*domain.RecordSet, error)
	applyFn  func(ctx context.Context, change domain.SingleChange) (string, error)
	deleteFn func(ctx context.Context, zoneID string, id string) error
}

func (f *fakeGateway) FindRecordSets(ctx context.Context, zoneID string, name string) ([]domain.RecordSet, error) {
	if f.findFn != nil {
		return f.findFn(ctx, zoneID, name)
	}
	return nil, nil
}

func (f *fakeGateway) GetRecordSet(ctx context.Context, zoneID string, id string) (*domain.RecordSet, error) {
	if f.getFn != nil {
		return f.getFn(ctx, zoneID, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeGateway) ApplyChange(ctx context.Context, change domain.SingleChange) (string, error) {
	if f.applyFn != nil {
		return f.applyFn(ctx, change)
	}
	return "rs-" + change.ID, nil
}

func (f *fakeGateway) DeleteRecordSet(ctx context.Context, zoneID string, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, zoneID, id)
	}
	return nil
}

var _ recordset.Gateway = (*fakeGateway)(nil)

type fakeLocker struct {
	tryAcquireFn func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

func (f *fakeLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if f.tryAcquireFn != nil {
		return f.tryAcquireFn(ctx, key, ttl)
	}
	return func(context.Context) error { return nil }, true, nil
}

var _ lock.Locker = (*fakeLocker)(nil)

type fakeZoneFinder struct {
	calls         int
	findByNamesFn func(ctx context.Context, names []string) ([]domain.Zone, error)
}

func (f *fakeZoneFinder) FindByNames(ctx context.Context, names []string) ([]domain.Zone, error) {
	f.calls++
	if f.findByNamesFn != nil {
		return f.findByNamesFn(ctx, names)
	}
	return nil, nil
}

// testEnv wires the services against the memory store with zone ok. administered by group ok-group.
type testEnv struct {
	store     *repository.MemoryStore
	zone      domain.Zone
	okUser    *domain.User
	dummyUser *domain.User
	validator *Validator
	queue     *queue.MemoryQueue
	service   *BatchChangeService
	gateway   *recordset.LocalGateway
	processor *Processor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	store := repository.NewMemoryStore()

	zone := domain.Zone{ID: "zone-ok", Name: "ok.", AdminGroupID: "ok-group"}
	if err := store.Zones.Create(ctx, &zone); err != nil {
		t.Fatalf("Zones.Create() error = %v", err)
	}

	okUser := &domain.User{ID: "user-ok", UserName: "ok", AccessKey: "okAccessKey", SecretKey: "okSecretKey", GroupIDs: []string{"ok-group"}}
	dummyUser := &domain.User{ID: "user-dummy", UserName: "dummy", AccessKey: "dummyAccessKey", SecretKey: "dummySecretKey"}
	for _, u := range []*domain.User{okUser, dummyUser} {
		if err := store.Users.Create(ctx, u); err != nil {
			t.Fatalf("Users.Create() error = %v", err)
		}
	}

	gate, err := auth.NewGate(store.Users, store.Zones)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	resolver, err := NewZoneResolver(store.Zones, time.Minute)
	if err != nil {
		t.Fatalf("NewZoneResolver() error = %v", err)
	}
	validator, err := NewValidator(resolver, gate, 0)
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	q := queue.NewMemoryQueue(64)
	t.Cleanup(func() { _ = q.Close() })

	svc, err := NewBatchChangeService(store.BatchChanges, validator, q, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBatchChangeService() error = %v", err)
	}

	gateway := recordset.NewLocalGateway(store.RecordSets)
	processor, err := NewProcessor(store.BatchChanges, q, gateway, validator, &fakeRateLimiter{}, &fakeLocker{}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}

	return &testEnv{
		store:     store,
		zone:      zone,
		okUser:    okUser,
		dummyUser: dummyUser,
		validator: validator,
		queue:     q,
		service:   svc,
		gateway:   gateway,
		processor: processor,
	}
}

func addChange(name string, address string) domain.SingleChangeInput {
	return domain.SingleChangeInput{
		ChangeType: domain.ChangeTypeAdd,
		InputName:  name,
		Type:       domain.RecordTypeA,
		Record:     domain.RecordData{Address: address},
	}
}

func deleteChange(name string, recordType domain.RecordType) domain.SingleChangeInput {
	return domain.SingleChangeInput{
		ChangeType: domain.ChangeTypeDeleteRecordSet,
		InputName:  name,
		Type:       recordType,
	}
}

func intPtr(v int) *int { return &v }
