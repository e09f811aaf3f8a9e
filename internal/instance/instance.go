package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the connection state of a channel account.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusClosed       Status = "closed"
	StatusDisconnected Status = "disconnected"
)

// ParseStatus normalizes a status string, reporting whether it is known.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusConnecting, StatusOpen, StatusClosed, StatusDisconnected:
		return s, true
	default:
		return "", false
	}
}

// ErrNotFound is returned when no instance matches the key.
var ErrNotFound = errors.New("instance: not found")

// Instance is a tenant's connected WhatsApp number.
type Instance struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Key           string
	PhoneNumberID string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository reads instances and applies connection-state callbacks.
type Repository interface {
	GetByKey(ctx context.Context, key string) (*Instance, error)
	UpdateStatus(ctx context.Context, key string, status Status) error
}

// PgxPool captures the subset of pgxpool.Pool used by Store.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists instances in Postgres.
type Store struct {
	pool PgxPool
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("instance: pgx pool required")
	}
	return &Store{pool: pool}
}

// GetByKey loads the instance with the external key used in webhook URLs.
func (s *Store) GetByKey(ctx context.Context, key string) (*Instance, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNotFound
	}
	query := `
		SELECT id, owner_id, instance_key, phone_number_id, status, created_at, updated_at
		FROM instances
		WHERE instance_key = $1
	`
	var inst Instance
	var status string
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&inst.ID, &inst.OwnerID, &inst.Key, &inst.PhoneNumberID, &status, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("instance: get by key: %w", err)
	}
	inst.Status = Status(status)
	return &inst, nil
}

// UpdateStatus records a connection-state change.
func (s *Store) UpdateStatus(ctx context.Context, key string, status Status) error {
	if _, ok := ParseStatus(string(status)); !ok {
		return fmt.Errorf("instance: unknown status %q", status)
	}
	query := `UPDATE instances SET status = $2, updated_at = now() WHERE instance_key = $1`
	ct, err := s.pool.Exec(ctx, query, key, string(status))
	if err != nil {
		return fmt.Errorf("instance: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
