package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
)

type memMessage struct {
	*Message
}

func (m memMessage) ID() string {
	return m.Message.ID
}

func (m memMessage) Version() int64 {
	return m.Rev
}

// InMemoryStore хранилище отложенных сообщений в памяти.
// Сообщение, сохраненное внутри единицы работы, не выдается ClaimDue до ее фиксации.
type InMemoryStore struct {
	repo *repository.InMemoryRepository[memMessage]

	mu          sync.Mutex
	uncommitted map[string]struct{}
}

// NewInMemoryStore создает новое in-memory хранилище
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		repo: repository.NewInMemoryRepository[memMessage](repository.DefaultInMemoryConfig(),
			func(m memMessage) memMessage { return memMessage{cloneMessage(m.Message)} }),
		uncommitted: make(map[string]struct{}),
	}
}

// Schedule сохраняет сообщение
func (s *InMemoryStore) Schedule(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	id := msg.ID

	s.setUncommitted(id, true)
	if err := s.repo.Insert(ctx, memMessage{msg}); err != nil {
		s.setUncommitted(id, false)
		return err
	}
	repository.OnRollback(ctx, func() { s.setUncommitted(id, false) })
	repository.OnCommit(ctx, func() { s.setUncommitted(id, false) })
	return nil
}

func (s *InMemoryStore) setUncommitted(id string, hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hidden {
		s.uncommitted[id] = struct{}{}
	} else {
		delete(s.uncommitted, id)
	}
}

func (s *InMemoryStore) committed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hidden := s.uncommitted[id]
	return !hidden
}

// ClaimDue захватывает готовые сообщения
func (s *InMemoryStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Message, error) {
	candidates := s.repo.Find(ctx,
		func(m memMessage) bool { return m.Due(now) && s.committed(m.Message.ID) },
		func(a, b memMessage) bool {
			if a.FireAt.Equal(b.FireAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.FireAt.Before(b.FireAt)
		},
		0)

	claimed := make([]*Message, 0, limit)
	for _, c := range candidates {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		expected := c.Rev
		c.LockedUntil = now.Add(lease)
		c.Rev++
		if err := s.repo.Update(ctx, c, expected); err != nil {
			if core.IsConflict(err) || core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		claimed = append(claimed, cloneMessage(c.Message))
	}
	return claimed, nil
}

// Complete удаляет доставленное сообщение
func (s *InMemoryStore) Complete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Retry переносит доставку
func (s *InMemoryStore) Retry(ctx context.Context, id string, fireAt time.Time, lastErr string) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	expected := current.Rev
	current.FireAt = fireAt
	current.LockedUntil = time.Time{}
	current.Attempts++
	current.LastError = lastErr
	current.Rev++
	return s.repo.Update(ctx, current, expected)
}

// Pending возвращает недоставленные сообщения по ключу корреляции
func (s *InMemoryStore) Pending(ctx context.Context, correlationID string) ([]*Message, error) {
	found := s.repo.Find(ctx,
		func(m memMessage) bool { return m.CorrelationID == correlationID },
		func(a, b memMessage) bool { return a.FireAt.Before(b.FireAt) },
		0)

	result := make([]*Message, 0, len(found))
	for _, m := range found {
		result = append(result, m.Message)
	}
	return result, nil
}

// Count возвращает количество недоставленных сообщений
func (s *InMemoryStore) Count() int {
	return s.repo.Count()
}
