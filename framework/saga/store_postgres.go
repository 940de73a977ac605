package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
)

// PostgresStore хранилище экземпляров в таблице saga_instances.
// Состояние хранится в jsonb, ключ (saga_type, correlation_id).
type PostgresStore[S any] struct {
	db       *repository.PostgresDB
	sagaType string
}

// NewPostgresStore создает новое PostgreSQL хранилище для типа саги
func NewPostgresStore[S any](db *repository.PostgresDB, sagaType string) *PostgresStore[S] {
	return &PostgresStore[S]{db: db, sagaType: sagaType}
}

// Load возвращает экземпляр
func (s *PostgresStore[S]) Load(ctx context.Context, id string) (*Instance[S], error) {
	query := `
		SELECT correlation_id, state, completed, version, created_at, updated_at
		FROM saga_instances
		WHERE saga_type = $1 AND correlation_id = $2
	`
	var (
		instance = Instance[S]{Type: s.sagaType}
		state    []byte
	)
	err := s.db.Querier(ctx).QueryRowContext(ctx, query, s.sagaType, id).
		Scan(&instance.ID, &state, &instance.Completed, &instance.Version, &instance.CreatedAt, &instance.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("%s saga %s not found", s.sagaType, id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga: %w", err)
	}
	if err := json.Unmarshal(state, &instance.State); err != nil {
		return nil, fmt.Errorf("failed to decode saga state: %w", err)
	}
	return &instance, nil
}

// Insert сохраняет новый экземпляр
func (s *PostgresStore[S]) Insert(ctx context.Context, instance *Instance[S]) error {
	state, err := json.Marshal(instance.State)
	if err != nil {
		return fmt.Errorf("failed to encode saga state: %w", err)
	}

	query := `
		INSERT INTO saga_instances (saga_type, correlation_id, state, completed, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.Querier(ctx).ExecContext(ctx, query,
		s.sagaType, instance.ID, state, instance.Completed, instance.Version, instance.CreatedAt, instance.UpdatedAt)
	if repository.IsUniqueViolation(err) {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("%s saga %s already exists", s.sagaType, instance.ID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert saga: %w", err)
	}
	return nil
}

// Update сохраняет экземпляр по версии
func (s *PostgresStore[S]) Update(ctx context.Context, instance *Instance[S], expectedVersion int64) error {
	state, err := json.Marshal(instance.State)
	if err != nil {
		return fmt.Errorf("failed to encode saga state: %w", err)
	}

	query := `
		UPDATE saga_instances
		SET state = $3, completed = $4, version = $5, updated_at = $6
		WHERE saga_type = $1 AND correlation_id = $2 AND version = $7
	`
	res, err := s.db.Querier(ctx).ExecContext(ctx, query,
		s.sagaType, instance.ID, state, instance.Completed, instance.Version, instance.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update saga: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update saga: %w", err)
	}
	if n == 0 {
		return core.NewError(core.ErrConflict,
			fmt.Sprintf("%s saga %s changed since version %d", s.sagaType, instance.ID, expectedVersion))
	}
	return nil
}
