package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/akriventsev/ordering/framework/adapters/repository"
)

// InMemoryStore хранилище записей в памяти
type InMemoryStore struct {
	repo *repository.InMemoryRepository[*Record]
}

// NewInMemoryStore создает новое in-memory хранилище
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		repo: repository.NewInMemoryRepository[*Record](repository.DefaultInMemoryConfig(), cloneRecord),
	}
}

// Get возвращает запись
func (s *InMemoryStore) Get(ctx context.Context, requestID string) (*Record, error) {
	return s.repo.Get(ctx, requestID)
}

// Insert сохраняет запись
func (s *InMemoryStore) Insert(ctx context.Context, record *Record) error {
	return s.repo.Insert(ctx, record)
}

// Complete записывает результат
func (s *InMemoryStore) Complete(ctx context.Context, requestID string, result json.RawMessage, completedAt time.Time) error {
	current, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return err
	}
	expected := current.Rev
	current.Status = StatusCompleted
	current.Result = result
	current.CompletedAt = completedAt
	current.Rev++
	return s.repo.Update(ctx, current, expected)
}
