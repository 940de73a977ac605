package saga

import (
	"context"

	"github.com/akriventsev/ordering/framework/adapters/repository"
)

type memInstance[S any] struct {
	*Instance[S]
}

func (m memInstance[S]) ID() string {
	return m.Instance.ID
}

func (m memInstance[S]) Version() int64 {
	return m.Instance.Version
}

// InMemoryStore хранилище экземпляров в памяти
type InMemoryStore[S any] struct {
	repo *repository.InMemoryRepository[memInstance[S]]
}

// NewInMemoryStore создает новое in-memory хранилище
func NewInMemoryStore[S any]() *InMemoryStore[S] {
	return &InMemoryStore[S]{
		repo: repository.NewInMemoryRepository[memInstance[S]](repository.DefaultInMemoryConfig(),
			func(m memInstance[S]) memInstance[S] { return memInstance[S]{cloneInstance(m.Instance)} }),
	}
}

// Load возвращает экземпляр
func (s *InMemoryStore[S]) Load(ctx context.Context, id string) (*Instance[S], error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Instance, nil
}

// Insert сохраняет новый экземпляр
func (s *InMemoryStore[S]) Insert(ctx context.Context, instance *Instance[S]) error {
	return s.repo.Insert(ctx, memInstance[S]{instance})
}

// Update сохраняет экземпляр по версии
func (s *InMemoryStore[S]) Update(ctx context.Context, instance *Instance[S], expectedVersion int64) error {
	return s.repo.Update(ctx, memInstance[S]{instance}, expectedVersion)
}

// Count возвращает количество экземпляров
func (s *InMemoryStore[S]) Count() int {
	return s.repo.Count()
}
