// Package infrastructure содержит хранилища заказов и SQL миграции сервиса.
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// InMemoryOrderRepository хранилище заказов в памяти
type InMemoryOrderRepository struct {
	repo *repository.InMemoryRepository[*domain.Order]
}

// NewInMemoryOrderRepository создает хранилище заказов в памяти
func NewInMemoryOrderRepository() *InMemoryOrderRepository {
	return &InMemoryOrderRepository{
		repo: repository.NewInMemoryRepository[*domain.Order](repository.DefaultInMemoryConfig(), (*domain.Order).Clone),
	}
}

// Get возвращает заказ
func (r *InMemoryOrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	order, err := r.repo.Get(ctx, id)
	if core.IsNotFound(err) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("order %s not found", id))
	}
	return order, err
}

// Insert сохраняет новый заказ
func (r *InMemoryOrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	order.Rev = 1
	return r.repo.Insert(ctx, order)
}

// Update сохраняет заказ по версии
func (r *InMemoryOrderRepository) Update(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	return r.repo.Update(ctx, order, expectedVersion)
}

// FindSubmittedBefore возвращает заказы, ожидающие окончания периода отмены
func (r *InMemoryOrderRepository) FindSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	return r.repo.Find(ctx,
		func(o *domain.Order) bool {
			return o.Status == domain.StatusSubmitted && !o.CreatedAt.After(cutoff)
		},
		func(a, b *domain.Order) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		},
		limit,
	), nil
}

// Count возвращает количество заказов
func (r *InMemoryOrderRepository) Count() int {
	return r.repo.Count()
}
