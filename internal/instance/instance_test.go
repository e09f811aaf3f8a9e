package instance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
		ok   bool
	}{
		{"open", StatusOpen, true},
		{" CLOSED ", StatusClosed, true},
		{"connecting", StatusConnecting, true},
		{"disconnected", StatusDisconnected, true},
		{"paused", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseStatus(%q) = %q,%v want %q,%v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStoreGetByKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	id, owner := uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery("SELECT id, owner_id, instance_key").
		WithArgs("shop1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "instance_key", "phone_number_id", "status", "created_at", "updated_at"}).
			AddRow(id, owner, "shop1", "1065550001", "open", now, now))

	inst, err := store.GetByKey(context.Background(), "shop1")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if inst.ID != id || inst.PhoneNumberID != "1065550001" || inst.Status != StatusOpen {
		t.Fatalf("unexpected instance %#v", inst)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreGetByKeyNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	mock.ExpectQuery("SELECT id, owner_id, instance_key").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.GetByKey(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetByKey(context.Background(), "  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank key, got %v", err)
	}
}

func TestStoreUpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	mock.ExpectExec("UPDATE instances SET status").
		WithArgs("shop1", "closed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.UpdateStatus(context.Background(), "shop1", StatusClosed); err != nil {
		t.Fatalf("update status: %v", err)
	}

	mock.ExpectExec("UPDATE instances SET status").
		WithArgs("ghost", "open").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.UpdateStatus(context.Background(), "ghost", StatusOpen); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.UpdateStatus(context.Background(), "shop1", Status("paused")); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

type countingRepo struct {
	inst    *Instance
	gets    int
	updates int
}

func (r *countingRepo) GetByKey(_ context.Context, key string) (*Instance, error) {
	r.gets++
	if r.inst == nil || r.inst.Key != key {
		return nil, ErrNotFound
	}
	cp := *r.inst
	return &cp, nil
}

func (r *countingRepo) UpdateStatus(_ context.Context, _ string, status Status) error {
	r.updates++
	r.inst.Status = status
	return nil
}

func TestCachedRepository(t *testing.T) {
	repo := &countingRepo{inst: &Instance{ID: uuid.New(), Key: "shop1", Status: StatusOpen}}
	cached := NewCachedRepository(repo, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		inst, err := cached.GetByKey(ctx, "shop1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if inst.Status != StatusOpen {
			t.Fatalf("unexpected status %s", inst.Status)
		}
	}
	if repo.gets != 1 {
		t.Fatalf("expected one backing read, got %d", repo.gets)
	}

	if _, err := cached.GetByKey(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := cached.GetByKey(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if repo.gets != 3 {
		t.Fatalf("misses must not be cached, got %d reads", repo.gets)
	}

	if err := cached.UpdateStatus(ctx, "shop1", StatusClosed); err != nil {
		t.Fatalf("update: %v", err)
	}
	inst, err := cached.GetByKey(ctx, "shop1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if inst.Status != StatusClosed {
		t.Fatalf("expected cache invalidated, got %s", inst.Status)
	}
}
