package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
)

// PostgresStore хранилище записей в таблице idempotency_records.
// Уникальность request_id обеспечивает первичный ключ.
type PostgresStore struct {
	db *repository.PostgresDB
}

// NewPostgresStore создает новое PostgreSQL хранилище
func NewPostgresStore(db *repository.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get возвращает запись
func (s *PostgresStore) Get(ctx context.Context, requestID string) (*Record, error) {
	query := `
		SELECT request_id, command_type, status, result, created_at, completed_at
		FROM idempotency_records
		WHERE request_id = $1
	`
	var (
		rec         Record
		status      string
		result      []byte
		completedAt sql.NullTime
	)
	err := s.db.Querier(ctx).QueryRowContext(ctx, query, requestID).
		Scan(&rec.RequestID, &rec.CommandType, &status, &result, &rec.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("request %s not found", requestID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load idempotency record: %w", err)
	}

	rec.Status = Status(status)
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	return &rec, nil
}

// Insert сохраняет запись
func (s *PostgresStore) Insert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO idempotency_records (request_id, command_type, status, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.Querier(ctx).ExecContext(ctx, query,
		record.RequestID, record.CommandType, string(record.Status), record.CreatedAt)
	if repository.IsUniqueViolation(err) {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("request %s already recorded", record.RequestID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}

// Complete записывает результат
func (s *PostgresStore) Complete(ctx context.Context, requestID string, result json.RawMessage, completedAt time.Time) error {
	query := `
		UPDATE idempotency_records
		SET status = $2, result = $3, completed_at = $4
		WHERE request_id = $1 AND status = $5
	`
	res, err := s.db.Querier(ctx).ExecContext(ctx, query,
		requestID, string(StatusCompleted), []byte(result), completedAt, string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	if n == 0 {
		return core.NewError(core.ErrConflict, fmt.Sprintf("request %s is not in progress", requestID))
	}
	return nil
}
