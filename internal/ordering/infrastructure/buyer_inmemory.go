package infrastructure

import (
	"context"
	"fmt"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// InMemoryBuyerRepository хранилище покупателей в памяти
type InMemoryBuyerRepository struct {
	repo *repository.InMemoryRepository[*domain.Buyer]
}

// NewInMemoryBuyerRepository создает хранилище покупателей в памяти
func NewInMemoryBuyerRepository() *InMemoryBuyerRepository {
	return &InMemoryBuyerRepository{
		repo: repository.NewInMemoryRepository[*domain.Buyer](repository.DefaultInMemoryConfig(), (*domain.Buyer).Clone),
	}
}

// Get возвращает покупателя
func (r *InMemoryBuyerRepository) Get(ctx context.Context, id string) (*domain.Buyer, error) {
	buyer, err := r.repo.Get(ctx, id)
	if core.IsNotFound(err) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("buyer %s not found", id))
	}
	return buyer, err
}

// Insert сохраняет нового покупателя
func (r *InMemoryBuyerRepository) Insert(ctx context.Context, buyer *domain.Buyer) error {
	buyer.Rev = 1
	err := r.repo.Insert(ctx, buyer)
	if core.HasCode(err, core.ErrAlreadyExists) {
		return buyerExists(buyer.BuyerID)
	}
	return err
}

// Update сохраняет покупателя по версии
func (r *InMemoryBuyerRepository) Update(ctx context.Context, buyer *domain.Buyer, expectedVersion int64) error {
	return r.repo.Update(ctx, buyer, expectedVersion)
}

// покупатель, созданный параллельным заказом, перечитывается повтором по конфликту
func buyerExists(id string) error {
	return core.NewError(core.ErrConflict, fmt.Sprintf("buyer %s was created concurrently", id))
}

var _ domain.BuyerRepository = (*InMemoryBuyerRepository)(nil)
