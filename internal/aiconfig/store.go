package aiconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads AI configurations from Postgres and lazily creates defaults.
type Store struct {
	pool            rowQuerier
	defaultProvider string
	defaultModel    string
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("aiconfig: pgx pool required")
	}
	return &Store{pool: pool}
}

// WithDefaults overrides the provider and model written into newly created
// default rows. Empty values keep the package defaults.
func (s *Store) WithDefaults(provider, model string) *Store {
	s.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	s.defaultModel = strings.TrimSpace(model)
	return s
}

func newStoreWithQuerier(q rowQuerier) *Store {
	if q == nil {
		panic("aiconfig: querier required")
	}
	return &Store{pool: q}
}

const selectConfig = `
	SELECT id, instance_id, provider, model, system_prompt, temperature, max_tokens,
	       auto_reply_enabled, response_delay_seconds, memory_enabled, memory_window, created_at, updated_at
	FROM ai_configurations
	WHERE instance_id = $1
`

// Resolve returns the instance configuration. On a miss the default row is
// inserted with ON CONFLICT DO NOTHING and re-read, so concurrent first
// messages all end up with the same single row. Existing rows are never
// modified.
func (s *Store) Resolve(ctx context.Context, instanceID uuid.UUID) (Config, error) {
	cfg, err := s.read(ctx, instanceID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Config{}, fmt.Errorf("%w: read: %w", ErrUnavailable, err)
	}

	if err := s.insertDefault(ctx, instanceID); err != nil {
		return Config{}, fmt.Errorf("%w: create default: %w", ErrUnavailable, err)
	}

	cfg, err = s.read(ctx, instanceID)
	if err != nil {
		return Config{}, fmt.Errorf("%w: re-read: %w", ErrUnavailable, err)
	}
	return cfg, nil
}

func (s *Store) read(ctx context.Context, instanceID uuid.UUID) (Config, error) {
	var cfg Config
	err := s.pool.QueryRow(ctx, selectConfig, instanceID).Scan(
		&cfg.ID, &cfg.InstanceID, &cfg.Provider, &cfg.Model, &cfg.SystemPrompt, &cfg.Temperature, &cfg.MaxTokens,
		&cfg.AutoReplyEnabled, &cfg.ResponseDelaySeconds, &cfg.MemoryEnabled, &cfg.MemoryWindow, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	return cfg, err
}

func (s *Store) insertDefault(ctx context.Context, instanceID uuid.UUID) error {
	def := Default(instanceID)
	if s.defaultProvider != "" {
		def.Provider = s.defaultProvider
		def.Model = ""
	}
	if s.defaultModel != "" {
		def.Model = s.defaultModel
	}
	query := `
		INSERT INTO ai_configurations (
			id, instance_id, provider, model, system_prompt, temperature, max_tokens,
			auto_reply_enabled, response_delay_seconds, memory_enabled, memory_window
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (instance_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		uuid.New(), instanceID, def.Provider, def.Model, def.SystemPrompt, def.Temperature, def.MaxTokens,
		def.AutoReplyEnabled, def.ResponseDelaySeconds, def.MemoryEnabled, def.MemoryWindow,
	)
	if err != nil && !isUniqueViolation(err) {
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
