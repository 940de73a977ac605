package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/akriventsev/ordering/framework/adapters/repository"
)

// PostgresStore хранилище отложенных сообщений в таблице scheduled_messages.
// Захват через FOR UPDATE SKIP LOCKED позволяет нескольким poller работать параллельно.
type PostgresStore struct {
	db *repository.PostgresDB
}

// NewPostgresStore создает новое PostgreSQL хранилище
func NewPostgresStore(db *repository.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schedule сохраняет сообщение
func (s *PostgresStore) Schedule(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO scheduled_messages
			(id, correlation_id, subject, event_type, payload, headers, fire_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.Querier(ctx).ExecContext(ctx, query,
		msg.ID, msg.CorrelationID, msg.Subject, msg.EventType, msg.Payload, headers,
		msg.FireAt, msg.Attempts, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to schedule message %s: %w", msg.ID, err)
	}
	return nil
}

// ClaimDue захватывает готовые сообщения
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Message, error) {
	query := `
		UPDATE scheduled_messages SET locked_until = $2
		WHERE id IN (
			SELECT id FROM scheduled_messages
			WHERE fire_at <= $1 AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY fire_at, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, correlation_id, subject, event_type, payload, headers, fire_at, attempts, created_at
	`
	rows, err := s.db.Querier(ctx).QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim scheduled messages: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msg.LockedUntil = now.Add(lease)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scheduled messages: %w", err)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].FireAt.Equal(result[j].FireAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].FireAt.Before(result[j].FireAt)
	})
	return result, nil
}

// Complete удаляет доставленное сообщение
func (s *PostgresStore) Complete(ctx context.Context, id string) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `DELETE FROM scheduled_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to complete message %s: %w", id, err)
	}
	return nil
}

// Retry переносит доставку
func (s *PostgresStore) Retry(ctx context.Context, id string, fireAt time.Time, lastErr string) error {
	query := `
		UPDATE scheduled_messages
		SET fire_at = $2, locked_until = NULL, attempts = attempts + 1, last_error = $3
		WHERE id = $1
	`
	_, err := s.db.Querier(ctx).ExecContext(ctx, query, id, fireAt, lastErr)
	if err != nil {
		return fmt.Errorf("failed to reschedule message %s: %w", id, err)
	}
	return nil
}

// Pending возвращает недоставленные сообщения по ключу корреляции
func (s *PostgresStore) Pending(ctx context.Context, correlationID string) ([]*Message, error) {
	query := `
		SELECT id, correlation_id, subject, event_type, payload, headers, fire_at, attempts, created_at
		FROM scheduled_messages
		WHERE correlation_id = $1
		ORDER BY fire_at
	`
	rows, err := s.db.Querier(ctx).QueryContext(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var msg Message
	var headers []byte
	if err := rows.Scan(&msg.ID, &msg.CorrelationID, &msg.Subject, &msg.EventType, &msg.Payload,
		&headers, &msg.FireAt, &msg.Attempts, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan scheduled message: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &msg.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	return &msg, nil
}
