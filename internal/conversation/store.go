package conversation

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

// Querier is satisfied by pgxpool.Pool, pgx.Tx and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations and messages in Postgres.
type Store struct {
	pool Querier
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &Store{pool: pool}
}

// ResolveConversation finds or creates the conversation for (instance, address).
// The insert and the read happen in one statement; when a concurrent insert
// wins and is not yet visible to that statement's snapshot, a plain re-read
// returns the winner's row.
func (s *Store) ResolveConversation(ctx context.Context, instanceID uuid.UUID, address string) (uuid.UUID, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return uuid.Nil, errors.New("conversation: contact address required")
	}
	upsert := `
		WITH inserted AS (
			INSERT INTO conversations (instance_id, contact_address)
			VALUES ($1, $2)
			ON CONFLICT (instance_id, contact_address) DO NOTHING
			RETURNING id
		)
		SELECT id FROM inserted
		UNION ALL
		SELECT id FROM conversations WHERE instance_id = $1 AND contact_address = $2
		LIMIT 1
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, upsert, instanceID, address).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("conversation: resolve conversation: %w", err)
	}

	reread := `SELECT id FROM conversations WHERE instance_id = $1 AND contact_address = $2`
	if err := s.pool.QueryRow(ctx, reread, instanceID, address).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("conversation: re-read conversation: %w", err)
	}
	return id, nil
}

// AppendMessage inserts msg unless its external id already exists for the
// instance. A duplicate is reported as inserted=false with no error.
// msg.ID is assigned when empty.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) (bool, error) {
	if msg == nil {
		return false, errors.New("conversation: message required")
	}
	if strings.TrimSpace(msg.ExternalID) == "" {
		return false, errors.New("conversation: external message id required")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (
			id, instance_id, conversation_id, external_id, sender, recipient, message_type,
			content, media_ref, is_from_bot, ai_response_generated, model_used, processing_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (instance_id, external_id) DO NOTHING
		RETURNING id
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		msg.ID, msg.InstanceID, msg.ConversationID, msg.ExternalID, msg.Sender, msg.Recipient, string(msg.Type),
		msg.Content, msg.MediaRef, msg.IsFromBot, msg.AIResponseGenerated, msg.ModelUsed, msg.ProcessingTimeMs, msg.CreatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("conversation: append message: %w", err)
	}
	return true, nil
}

// UpdateContactName stores the counterparty's profile name.
func (s *Store) UpdateContactName(ctx context.Context, instanceID uuid.UUID, address, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	query := `
		UPDATE conversations
		SET contact_name = $3, updated_at = now()
		WHERE instance_id = $1 AND contact_address = $2 AND contact_name IS DISTINCT FROM $3
	`
	if _, err := s.pool.Exec(ctx, query, instanceID, strings.TrimSpace(address), name); err != nil {
		return fmt.Errorf("conversation: update contact name: %w", err)
	}
	return nil
}

// TouchLastActivity bumps the message counter and last-message timestamp.
func (s *Store) TouchLastActivity(ctx context.Context, conversationID uuid.UUID, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `
		UPDATE conversations
		SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2),
		    message_count = message_count + 1,
		    updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, conversationID, at); err != nil {
		return fmt.Errorf("conversation: touch last activity: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages of the conversation written at
// or before the given time, oldest first, excluding excludeID.
func (s *Store) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int, excludeID uuid.UUID, before time.Time) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}
	query := `
		SELECT id, instance_id, conversation_id, external_id, sender, recipient, message_type,
		       content, media_ref, is_from_bot, ai_response_generated, model_used, processing_time_ms,
		       reply_attempts, created_at
		FROM messages
		WHERE conversation_id = $1 AND id <> $2 AND created_at <= $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, query, conversationID, excludeID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var msgType string
		if err := rows.Scan(
			&m.ID, &m.InstanceID, &m.ConversationID, &m.ExternalID, &m.Sender, &m.Recipient, &msgType,
			&m.Content, &m.MediaRef, &m.IsFromBot, &m.AIResponseGenerated, &m.ModelUsed, &m.ProcessingTimeMs,
			&m.ReplyAttempts, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Type = MessageType(msgType)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MarkAIHandled flags an inbound message as answered.
func (s *Store) MarkAIHandled(ctx context.Context, messageID uuid.UUID) error {
	query := `UPDATE messages SET ai_response_generated = TRUE WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, messageID); err != nil {
		return fmt.Errorf("conversation: mark ai handled: %w", err)
	}
	return nil
}

// IsAIHandled reports whether the inbound message already got a reply.
func (s *Store) IsAIHandled(ctx context.Context, messageID uuid.UUID) (bool, error) {
	query := `SELECT ai_response_generated FROM messages WHERE id = $1`
	var handled bool
	if err := s.pool.QueryRow(ctx, query, messageID).Scan(&handled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("conversation: check ai handled: %w", err)
	}
	return handled, nil
}

// RecordStatus appends a delivery receipt for an external message id.
func (s *Store) RecordStatus(ctx context.Context, instanceID uuid.UUID, externalID, status string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `
		INSERT INTO message_statuses (instance_id, external_id, status, occurred_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, instanceID, externalID, status, at); err != nil {
		return fmt.Errorf("conversation: record status: %w", err)
	}
	return nil
}

// PendingReplies lists unanswered inbound messages created before cutoff,
// oldest first.
func (s *Store) PendingReplies(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]PendingReply, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT m.id, m.instance_id, i.instance_key, i.phone_number_id, m.conversation_id, m.external_id,
		       m.sender, m.recipient, m.content, COALESCE(c.contact_name, ''), m.reply_attempts, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		JOIN instances i ON i.id = m.instance_id
		WHERE m.is_from_bot = FALSE
		  AND m.ai_response_generated = FALSE
		  AND m.reply_attempts < $2
		  AND m.created_at < $1
		ORDER BY m.created_at ASC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, cutoff, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: pending replies: %w", err)
	}
	defer rows.Close()

	var out []PendingReply
	for rows.Next() {
		var p PendingReply
		if err := rows.Scan(
			&p.MessageID, &p.InstanceID, &p.InstanceKey, &p.PhoneNumberID, &p.ConversationID, &p.ExternalID,
			&p.Sender, &p.Recipient, &p.Content, &p.ContactName, &p.ReplyAttempts, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("conversation: scan pending reply: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate pending replies: %w", err)
	}
	return out, nil
}

// IncrementReplyAttempts counts one reconciler attempt for the message.
func (s *Store) IncrementReplyAttempts(ctx context.Context, messageID uuid.UUID) error {
	query := `UPDATE messages SET reply_attempts = reply_attempts + 1 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, messageID); err != nil {
		return fmt.Errorf("conversation: increment reply attempts: %w", err)
	}
	return nil
}
