package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/akriventsev/ordering/framework/core"
)

// InMemoryConfig конфигурация для InMemory репозитория
type InMemoryConfig struct {
	// MaxEntities максимальное количество сущностей (0 = без ограничений)
	// При достижении лимита Insert вернет ошибку
	MaxEntities int
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		MaxEntities: 0,
	}
}

// InMemoryRepository generic in-memory репозиторий с проверкой версий.
// Значения копируются функцией clone на входе и выходе, поэтому вызывающий
// не может изменить сохраненное состояние в обход Update.
// Внутри InMemoryTransactor каждое изменение регистрирует компенсацию,
// которая применяется, только пока хранимая версия равна записанной.
type InMemoryRepository[T Versioned] struct {
	config   InMemoryConfig
	entities map[string]T
	clone    func(T) T
	mu       sync.RWMutex
}

// NewInMemoryRepository создает новый in-memory репозиторий
func NewInMemoryRepository[T Versioned](config InMemoryConfig, clone func(T) T) *InMemoryRepository[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &InMemoryRepository[T]{
		config:   config,
		entities: make(map[string]T),
		clone:    clone,
	}
}

// Get возвращает копию entity по ID
func (r *InMemoryRepository[T]) Get(ctx context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[id]
	if !ok {
		var zero T
		return zero, core.NewError(core.ErrNotFound, fmt.Sprintf("entity %s not found", id))
	}
	return r.clone(entity), nil
}

// Insert сохраняет новую entity; существующий ID дает ErrAlreadyExists
func (r *InMemoryRepository[T]) Insert(ctx context.Context, entity T) error {
	id := entity.ID()
	if id == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[id]; exists {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("entity %s already exists", id))
	}
	if r.config.MaxEntities > 0 && len(r.entities) >= r.config.MaxEntities {
		return fmt.Errorf("repository limit reached: max %d entities", r.config.MaxEntities)
	}

	r.entities[id] = r.clone(entity)
	written := entity.Version()
	OnRollback(ctx, func() {
		r.mu.Lock()
		if stored, ok := r.entities[id]; ok && stored.Version() == written {
			delete(r.entities, id)
		}
		r.mu.Unlock()
	})
	return nil
}

// Update заменяет entity, если сохраненная версия равна expectedVersion.
// Новая entity должна нести уже увеличенную версию.
func (r *InMemoryRepository[T]) Update(ctx context.Context, entity T, expectedVersion int64) error {
	id := entity.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.entities[id]
	if !exists {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("entity %s not found", id))
	}
	if current.Version() != expectedVersion {
		return core.NewError(core.ErrConflict,
			fmt.Sprintf("entity %s version mismatch: expected %d, actual %d", id, expectedVersion, current.Version()))
	}

	r.entities[id] = r.clone(entity)
	written := entity.Version()
	OnRollback(ctx, func() {
		r.mu.Lock()
		// запись, зафиксированная поверх отменяемой, остается
		if stored, ok := r.entities[id]; ok && stored.Version() == written {
			r.entities[id] = current
		}
		r.mu.Unlock()
	})
	return nil
}

// Delete удаляет entity; отсутствие entity не считается ошибкой
func (r *InMemoryRepository[T]) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.entities[id]
	if !exists {
		return nil
	}
	delete(r.entities, id)
	OnRollback(ctx, func() {
		r.mu.Lock()
		if _, recreated := r.entities[id]; !recreated {
			r.entities[id] = current
		}
		r.mu.Unlock()
	})
	return nil
}

// Find возвращает копии entity, удовлетворяющих predicate, в порядке less.
// limit <= 0 снимает ограничение.
func (r *InMemoryRepository[T]) Find(ctx context.Context, predicate func(T) bool, less func(a, b T) bool, limit int) []T {
	r.mu.RLock()
	result := make([]T, 0)
	for _, entity := range r.entities {
		if predicate == nil || predicate(entity) {
			result = append(result, r.clone(entity))
		}
	}
	r.mu.RUnlock()

	if less != nil {
		sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Count возвращает количество сущностей
func (r *InMemoryRepository[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
