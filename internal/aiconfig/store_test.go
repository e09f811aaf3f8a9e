package aiconfig

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var configColumns = []string{"id", "instance_id", "provider", "model", "system_prompt", "temperature", "max_tokens",
	"auto_reply_enabled", "response_delay_seconds", "memory_enabled", "memory_window", "created_at", "updated_at"}

func TestResolveExistingConfig(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	instanceID, id := uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery("FROM ai_configurations").
		WithArgs(instanceID).
		WillReturnRows(pgxmock.NewRows(configColumns).
			AddRow(id, instanceID, "anthropic", "claude-3-haiku", "be nice", float32(0.2), 300, false, 3, true, 4, now, now))

	cfg, err := store.Resolve(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ID != id || cfg.Provider != "anthropic" || cfg.AutoReplyEnabled || cfg.MemoryWindow != 4 {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveCreatesDefaultOnMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	instanceID, id := uuid.New(), uuid.New()
	now := time.Now()
	def := Default(instanceID)

	mock.ExpectQuery("FROM ai_configurations").WithArgs(instanceID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO ai_configurations").
		WithArgs(pgxmock.AnyArg(), instanceID, def.Provider, def.Model, def.SystemPrompt, def.Temperature, def.MaxTokens,
			true, 0, true, DefaultMemoryWindow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM ai_configurations").
		WithArgs(instanceID).
		WillReturnRows(pgxmock.NewRows(configColumns).
			AddRow(id, instanceID, def.Provider, def.Model, def.SystemPrompt, def.Temperature, def.MaxTokens, true, 0, true, 10, now, now))

	cfg, err := store.Resolve(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ID != id || cfg.MemoryWindow != 10 || !cfg.AutoReplyEnabled {
		t.Fatalf("unexpected default config %#v", cfg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveUniqueViolationFallsBackToRead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	instanceID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM ai_configurations").WithArgs(instanceID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO ai_configurations").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery("FROM ai_configurations").
		WithArgs(instanceID).
		WillReturnRows(pgxmock.NewRows(configColumns).
			AddRow(uuid.New(), instanceID, "openai", "gpt-4o-mini", "p", float32(0.7), 500, true, 0, true, 10, now, now))

	if _, err := store.Resolve(context.Background(), instanceID); err != nil {
		t.Fatalf("expected race loser to re-read, got %v", err)
	}
}

func TestResolveUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	instanceID := uuid.New()
	mock.ExpectQuery("FROM ai_configurations").WithArgs(instanceID).WillReturnError(errors.New("dial tcp: connection refused"))

	_, err = store.Resolve(context.Background(), instanceID)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
}

// tableQuerier emulates a single ai_configurations table with a unique
// instance_id constraint.
type tableQuerier struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]Config
	inserts int
}

type fakeRow struct {
	cfg Config
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*uuid.UUID) = r.cfg.ID
	*dest[1].(*uuid.UUID) = r.cfg.InstanceID
	*dest[2].(*string) = r.cfg.Provider
	*dest[3].(*string) = r.cfg.Model
	*dest[4].(*string) = r.cfg.SystemPrompt
	*dest[5].(*float32) = r.cfg.Temperature
	*dest[6].(*int) = r.cfg.MaxTokens
	*dest[7].(*bool) = r.cfg.AutoReplyEnabled
	*dest[8].(*int) = r.cfg.ResponseDelaySeconds
	*dest[9].(*bool) = r.cfg.MemoryEnabled
	*dest[10].(*int) = r.cfg.MemoryWindow
	*dest[11].(*time.Time) = r.cfg.CreatedAt
	*dest[12].(*time.Time) = r.cfg.UpdatedAt
	return nil
}

func (q *tableQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.mu.Lock()
	defer q.mu.Unlock()
	cfg, ok := q.rows[args[0].(uuid.UUID)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{cfg: cfg}
}

func (q *tableQuerier) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	instanceID := args[1].(uuid.UUID)
	if _, exists := q.rows[instanceID]; exists {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	cfg := Default(instanceID)
	cfg.ID = args[0].(uuid.UUID)
	q.rows[instanceID] = cfg
	q.inserts++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestResolveConcurrentFirstMessagesShareOneDefault(t *testing.T) {
	table := &tableQuerier{rows: map[uuid.UUID]Config{}}
	store := newStoreWithQuerier(table)
	instanceID := uuid.New()

	const n = 25
	ids := make([]uuid.UUID, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := store.Resolve(context.Background(), instanceID)
			ids[i], errs[i] = cfg.ID, err
		}(i)
	}
	wg.Wait()

	if table.inserts != 1 {
		t.Fatalf("expected exactly one default row, got %d", table.inserts)
	}
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("resolve %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("resolve %d returned a different config row", i)
		}
	}
}

func TestConfigHelpers(t *testing.T) {
	cfg := Default(uuid.New())
	if cfg.HistoryLimit() != 10 {
		t.Fatalf("expected default window 10, got %d", cfg.HistoryLimit())
	}
	cfg.MemoryEnabled = false
	if cfg.HistoryLimit() != 0 {
		t.Fatalf("expected no history when memory disabled")
	}
	if cfg.ResponseDelay() != 0 {
		t.Fatalf("expected no delay by default")
	}
	cfg.ResponseDelaySeconds = 3
	if cfg.ResponseDelay() != 3*time.Second {
		t.Fatalf("unexpected delay %s", cfg.ResponseDelay())
	}
}

func TestResolveDefaultUsesConfiguredProvider(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock).WithDefaults(" Groq ", "llama-3.1-8b-instant")
	instanceID := uuid.New()
	now := time.Now()
	def := Default(instanceID)

	mock.ExpectQuery("FROM ai_configurations").WithArgs(instanceID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO ai_configurations").
		WithArgs(pgxmock.AnyArg(), instanceID, "groq", "llama-3.1-8b-instant", def.SystemPrompt, def.Temperature, def.MaxTokens,
			true, 0, true, DefaultMemoryWindow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM ai_configurations").
		WithArgs(instanceID).
		WillReturnRows(pgxmock.NewRows(configColumns).
			AddRow(uuid.New(), instanceID, "groq", "llama-3.1-8b-instant", def.SystemPrompt, def.Temperature, def.MaxTokens, true, 0, true, 10, now, now))

	cfg, err := store.Resolve(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Provider != "groq" {
		t.Fatalf("expected groq default, got %q", cfg.Provider)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
