package domain

import (
	"context"
	"time"
)

// OrderRepository хранилище заказов.
// Изменения выполняются в единице работы из контекста, если она есть.
type OrderRepository interface {
	// Get возвращает заказ или ошибку с кодом NOT_FOUND
	Get(ctx context.Context, id string) (*Order, error)
	// Insert сохраняет новый заказ с версией 1
	Insert(ctx context.Context, order *Order) error
	// Update сохраняет заказ, если хранимая версия равна expectedVersion; иначе CONFLICT
	Update(ctx context.Context, order *Order, expectedVersion int64) error
	// FindSubmittedBefore возвращает заказы в статусе Submitted, созданные не позже cutoff,
	// в порядке создания
	FindSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
}

// BuyerRepository хранилище покупателей
type BuyerRepository interface {
	// Get возвращает покупателя или ошибку с кодом NOT_FOUND
	Get(ctx context.Context, id string) (*Buyer, error)
	// Insert сохраняет нового покупателя с версией 1. Существующий покупатель дает CONFLICT.
	Insert(ctx context.Context, buyer *Buyer) error
	// Update сохраняет покупателя, если хранимая версия равна expectedVersion; иначе CONFLICT
	Update(ctx context.Context, buyer *Buyer, expectedVersion int64) error
}
