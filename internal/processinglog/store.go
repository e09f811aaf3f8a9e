// Package processinglog persists the append-only audit trail of webhook
// deliveries and pipeline failures.
package processinglog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit record. InstanceID is unset when the instance could
// not be resolved.
type Entry struct {
	ID           uuid.UUID
	InstanceID   uuid.NullUUID
	Stage        string
	Payload      json.RawMessage
	ErrorMessage string
	Processed    bool
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// Writer is what the ingress and the pipeline need.
type Writer interface {
	Append(ctx context.Context, entry Entry) (uuid.UUID, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}

// Store writes entries through database/sql.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore returns a Store over db.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("processinglog: db cannot be nil")
	}
	return &Store{db: db, now: time.Now}
}

// Append inserts entry and returns its id. Payloads that are not valid JSON
// are stored wrapped as {"raw": "..."}.
func (s *Store) Append(ctx context.Context, entry Entry) (uuid.UUID, error) {
	if entry.Stage == "" {
		return uuid.Nil, errors.New("processinglog: stage is required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	var errMsg sql.NullString
	if entry.ErrorMessage != "" {
		errMsg = sql.NullString{String: entry.ErrorMessage, Valid: true}
	}
	var processedAt sql.NullTime
	if entry.Processed {
		processedAt = sql.NullTime{Time: entry.CreatedAt, Valid: true}
	}

	const query = `
		INSERT INTO processing_logs (id, instance_id, stage, payload, error_message, processed, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.InstanceID,
		entry.Stage,
		payloadValue(entry.Payload),
		errMsg,
		entry.Processed,
		entry.CreatedAt,
		processedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("processinglog: append: %w", err)
	}
	return entry.ID, nil
}

// MarkProcessed flags an accepted delivery once its events were handled.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE processing_logs SET processed = TRUE, processed_at = $2
		WHERE id = $1 AND processed = FALSE
	`
	if _, err := s.db.ExecContext(ctx, query, id, s.now().UTC()); err != nil {
		return fmt.Errorf("processinglog: mark processed: %w", err)
	}
	return nil
}

// Unprocessed lists accepted deliveries that were never marked processed,
// oldest first.
func (s *Store) Unprocessed(ctx context.Context, before time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, instance_id, stage, payload, COALESCE(error_message, ''), created_at
		FROM processing_logs
		WHERE processed = FALSE AND error_message IS NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("processinglog: query unprocessed: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Stage, &payload, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("processinglog: scan: %w", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("processinglog: rows: %w", err)
	}
	return out, nil
}

func payloadValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return []byte(raw)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return nil
	}
	return wrapped
}
