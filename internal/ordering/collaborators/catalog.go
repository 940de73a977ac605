// Package collaborators содержит упрощенные каталог и платежный шлюз,
// отвечающие на события заказа так же, как внешние сервисы.
package collaborators

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// Catalog каталог с остатками товаров в памяти
type Catalog struct {
	bus    events.Publisher
	logger *zap.Logger

	mu    sync.Mutex
	stock map[string]int
	// paid заказы, остатки которых уже списаны
	paid map[string]struct{}
}

// NewCatalog создает каталог с начальными остатками
func NewCatalog(bus events.Publisher, stock map[string]int, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		bus:    bus,
		logger: logger.Named("catalog"),
		stock:  make(map[string]int, len(stock)),
		paid:   make(map[string]struct{}),
	}
	for id, units := range stock {
		c.stock[id] = units
	}
	return c
}

// Available возвращает остаток товара
func (c *Catalog) Available(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stock[productID]
}

// SetStock задает остаток товара
func (c *Catalog) SetStock(productID string, units int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[productID] = units
}

// HandleAwaitingValidation проверяет остатки и публикует OrderStockConfirmed
// или OrderStockRejected с перечнем позиций
func (c *Catalog) HandleAwaitingValidation(ctx context.Context, e *domain.OrderStatusChangedToAwaitingValidation) error {
	c.mu.Lock()
	confirmed := make([]domain.ConfirmedOrderStockItem, 0, len(e.Items))
	rejected := false
	for _, item := range e.Items {
		hasStock := c.stock[item.ProductID] >= item.Units
		if !hasStock {
			rejected = true
		}
		confirmed = append(confirmed, domain.ConfirmedOrderStockItem{ProductID: item.ProductID, HasStock: hasStock})
	}
	c.mu.Unlock()

	if rejected {
		c.logger.Info("stock rejected", zap.String("order_id", e.OrderID))
		return c.bus.Publish(ctx, domain.NewOrderStockRejected(e.OrderID, confirmed))
	}
	c.logger.Info("stock confirmed", zap.String("order_id", e.OrderID))
	return c.bus.Publish(ctx, domain.NewOrderStockConfirmed(e.OrderID))
}

// HandleOrderPaid списывает остатки оплаченного заказа один раз
func (c *Catalog) HandleOrderPaid(ctx context.Context, e *domain.OrderStatusChangedToPaid) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.paid[e.OrderID]; done {
		return nil
	}
	for _, item := range e.Items {
		c.stock[item.ProductID] -= item.Units
	}
	c.paid[e.OrderID] = struct{}{}
	return nil
}
