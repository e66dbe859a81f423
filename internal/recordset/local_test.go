package recordset

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
)

func TestLocalGatewayAddThenDelete(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRecordSetRepo()
	g := NewLocalGateway(repo)
	ctx := context.Background()

	change := addChange()
	id, err := g.ApplyChange(ctx, change)
	if err != nil {
		t.Fatalf("ApplyChange(add) error = %v", err)
	}
	if want := domain.RecordSetIDFor(change.ID); id != want {
		t.Fatalf("ApplyChange(add) id = %q, want %q", id, want)
	}

	rs, err := g.GetRecordSet(ctx, "zone-1", id)
	if err != nil {
		t.Fatalf("GetRecordSet() error = %v", err)
	}
	if rs.TTL != 300 || rs.Records[0].CName != "target.example.net." {
		t.Fatalf("GetRecordSet() = %+v", rs)
	}

	_, err = g.ApplyChange(ctx, change)
	if err == nil || IsTransient(err) {
		t.Fatalf("ApplyChange(add duplicate) error = %v, want permanent", err)
	}

	del := change
	del.ChangeType = domain.ChangeTypeDeleteRecordSet
	deletedID, err := g.ApplyChange(ctx, del)
	if err != nil {
		t.Fatalf("ApplyChange(delete) error = %v", err)
	}
	if deletedID != id {
		t.Fatalf("ApplyChange(delete) id = %q, want %q", deletedID, id)
	}

	_, err = g.ApplyChange(ctx, del)
	if err == nil || IsTransient(err) {
		t.Fatalf("ApplyChange(delete missing) error = %v, want permanent", err)
	}
}

func TestLocalGatewayDeleteUsesRecordedTarget(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRecordSetRepo()
	g := NewLocalGateway(repo)
	ctx := context.Background()

	keep := &domain.RecordSet{ID: "rs-keep", ZoneID: "zone-1", Name: "www", Type: domain.RecordTypeA, TTL: 300}
	if err := repo.Create(ctx, keep); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	recorded := "rs-recorded"
	del := addChange()
	del.ChangeType = domain.ChangeTypeDeleteRecordSet
	del.Type = domain.RecordTypeA
	del.RecordSetID = &recorded

	_, err := g.ApplyChange(ctx, del)
	if err == nil || IsTransient(err) {
		t.Fatalf("ApplyChange(delete recorded missing) error = %v, want permanent", err)
	}
	if _, err := g.GetRecordSet(ctx, "zone-1", "rs-keep"); err != nil {
		t.Fatalf("GetRecordSet(rs-keep) error = %v, want untouched", err)
	}
}

func TestLocalGatewayDefaultTTL(t *testing.T) {
	t.Parallel()

	g := NewLocalGateway(repository.NewMemoryRecordSetRepo())
	change := addChange()
	change.TTL = nil

	id, err := g.ApplyChange(context.Background(), change)
	if err != nil {
		t.Fatalf("ApplyChange() error = %v", err)
	}
	rs, err := g.GetRecordSet(context.Background(), "zone-1", id)
	if err != nil {
		t.Fatalf("GetRecordSet() error = %v", err)
	}
	if rs.TTL != domain.DefaultTTL {
		t.Fatalf("TTL = %d, want %d", rs.TTL, domain.DefaultTTL)
	}
}

func TestLocalGatewayDeleteRecordSetNotFound(t *testing.T) {
	t.Parallel()

	g := NewLocalGateway(repository.NewMemoryRecordSetRepo())
	err := g.DeleteRecordSet(context.Background(), "zone-1", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("DeleteRecordSet() error = %v, want ErrNotFound", err)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "transient apply error", err: Transient("boom", nil), want: true},
		{name: "permanent apply error", err: Permanent("conflict"), want: false},
		{name: "plain error", err: errors.New("x"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReason(t *testing.T) {
	t.Parallel()

	if got := Reason(Permanent("record set www A already exists")); got != "record set www A already exists" {
		t.Fatalf("Reason() = %q", got)
	}
	if got := Reason(errors.New("plain")); got != "plain" {
		t.Fatalf("Reason() = %q, want plain", got)
	}
}
