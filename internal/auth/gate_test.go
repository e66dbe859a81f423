package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestGate(t *testing.T) (*Gate, *repository.MemoryStore) {
	t.Helper()

	store := repository.NewMemoryStore()
	ctx := context.Background()

	users := []domain.User{
		{ID: "u-admin", UserName: "admin", AccessKey: "ak-admin", SecretKey: "sk-admin", GroupIDs: []string{"g-admins"}},
		{ID: "u-writer", UserName: "writer", AccessKey: "ak-writer", SecretKey: "sk-writer", GroupIDs: []string{"g-ops"}},
		{ID: "u-none", UserName: "nobody", AccessKey: "ak-none", SecretKey: "sk-none"},
	}
	for i := range users {
		if err := store.Users.Create(ctx, &users[i]); err != nil {
			t.Fatalf("Users.Create() error = %v", err)
		}
	}

	if err := store.Zones.Create(ctx, &domain.Zone{ID: "z1", Name: "example.com.", AdminGroupID: "g-admins"}); err != nil {
		t.Fatalf("Zones.Create() error = %v", err)
	}
	group := "g-ops"
	mask := "www.*"
	if err := store.Zones.AddACLRule(ctx, &domain.ACLRule{
		ZoneID:      "z1",
		GroupID:     &group,
		AccessLevel: domain.AccessLevelWrite,
		RecordMask:  &mask,
		RecordTypes: []domain.RecordType{domain.RecordTypeCNAME, domain.RecordTypeA},
	}); err != nil {
		t.Fatalf("AddACLRule() error = %v", err)
	}

	g, err := NewGate(store.Users, store.Zones)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	g.now = func() time.Time { return fixedNow }
	return g, store
}

func TestGateAuthenticate(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)
	date := fixedNow.Format(time.RFC3339)
	valid := SignedRequest{
		Method:    "GET",
		Path:      "/zones/batchrecordchanges",
		AccessKey: "ak-writer",
		Date:      date,
		Signature: Sign("sk-writer", "GET", "/zones/batchrecordchanges", date),
	}

	tests := []struct {
		name    string
		mutate  func(r *SignedRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *SignedRequest) {}},
		{name: "missing key", mutate: func(r *SignedRequest) { r.AccessKey = "" }, wantErr: true},
		{name: "unknown key", mutate: func(r *SignedRequest) { r.AccessKey = "ak-unknown" }, wantErr: true},
		{name: "bad date", mutate: func(r *SignedRequest) { r.Date = "yesterday" }, wantErr: true},
		{name: "stale date", mutate: func(r *SignedRequest) {
			r.Date = fixedNow.Add(-time.Hour).Format(time.RFC3339)
			r.Signature = Sign("sk-writer", r.Method, r.Path, r.Date)
		}, wantErr: true},
		{name: "wrong path", mutate: func(r *SignedRequest) { r.Path = "/zones/batchrecordchanges/x" }, wantErr: true},
		{name: "wrong secret", mutate: func(r *SignedRequest) {
			r.Signature = Sign("sk-other", r.Method, r.Path, r.Date)
		}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := valid
			tt.mutate(&req)

			user, err := g.Authenticate(context.Background(), req)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrUnauthorized) {
					t.Fatalf("Authenticate() error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if user.ID != "u-writer" {
				t.Fatalf("Authenticate() user = %s, want u-writer", user.ID)
			}
		})
	}
}

func TestGateCanWrite(t *testing.T) {
	t.Parallel()

	g, store := newTestGate(t)
	ctx := context.Background()
	zone, err := store.Zones.GetByID(ctx, "z1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	lookup := func(id string) *domain.User {
		u, err := store.Users.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		return u
	}

	tests := []struct {
		name       string
		user       *domain.User
		record     string
		recordType domain.RecordType
		changeType domain.ChangeType
		wantErr    error
	}{
		{name: "admin group", user: lookup("u-admin"), record: "anything", recordType: domain.RecordTypeTXT, changeType: domain.ChangeTypeDeleteRecordSet},
		{name: "acl write matches", user: lookup("u-writer"), record: "www-1", recordType: domain.RecordTypeCNAME, changeType: domain.ChangeTypeAdd},
		{name: "acl mask mismatch", user: lookup("u-writer"), record: "mail", recordType: domain.RecordTypeCNAME, changeType: domain.ChangeTypeAdd, wantErr: domain.ErrForbidden},
		{name: "acl type mismatch", user: lookup("u-writer"), record: "www", recordType: domain.RecordTypeTXT, changeType: domain.ChangeTypeAdd, wantErr: domain.ErrForbidden},
		{name: "write does not allow delete", user: lookup("u-writer"), record: "www", recordType: domain.RecordTypeA, changeType: domain.ChangeTypeDeleteRecordSet, wantErr: domain.ErrForbidden},
		{name: "no rules", user: lookup("u-none"), record: "www", recordType: domain.RecordTypeA, changeType: domain.ChangeTypeAdd, wantErr: domain.ErrForbidden},
		{name: "nil user", user: nil, record: "www", recordType: domain.RecordTypeA, changeType: domain.ChangeTypeAdd, wantErr: domain.ErrUnauthorized},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := g.CanWrite(ctx, tt.user, *zone, tt.record, tt.recordType, tt.changeType)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("CanWrite() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CanWrite() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t)
	g.now = time.Now

	app := fiber.New()
	app.Use(Middleware(g))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		user, ok := UserFromCtx(c)
		if !ok {
			return fiber.ErrInternalServerError
		}
		return c.SendString(user.ID)
	})

	req := httptest.NewRequest("GET", "/whoami", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}

	date := time.Now().UTC().Format(time.RFC3339)
	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(HeaderAccessKey, "ak-admin")
	req.Header.Set(HeaderDate, date)
	req.Header.Set(HeaderSignature, Sign("sk-admin", "GET", "/whoami", date))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("signed status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}
