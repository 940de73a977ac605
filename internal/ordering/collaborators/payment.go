package collaborators

import (
	"context"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// Payment платежный шлюз с заранее заданным исходом оплаты
type Payment struct {
	bus      events.Publisher
	succeeds bool
	logger   *zap.Logger
}

// NewPayment создает платежный шлюз
func NewPayment(bus events.Publisher, succeeds bool, logger *zap.Logger) *Payment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Payment{bus: bus, succeeds: succeeds, logger: logger.Named("payment")}
}

// HandleStockConfirmed проводит оплату подтвержденного заказа
func (p *Payment) HandleStockConfirmed(ctx context.Context, e *domain.OrderStatusChangedToStockConfirmed) error {
	if p.succeeds {
		p.logger.Info("payment succeeded", zap.String("order_id", e.OrderID))
		return p.bus.Publish(ctx, domain.NewOrderPaymentSucceeded(e.OrderID))
	}
	p.logger.Info("payment failed", zap.String("order_id", e.OrderID))
	return p.bus.Publish(ctx, domain.NewOrderPaymentFailed(e.OrderID))
}

// Register регистрирует каталог и платежный шлюз в реестре обработчиков
func Register(registry *events.Registry, catalog *Catalog, payment *Payment) error {
	if err := registry.Register("catalog.awaiting-validation",
		events.Typed(domain.EventOrderStatusChangedToAwaitingValidation, catalog.HandleAwaitingValidation)); err != nil {
		return err
	}
	if err := registry.Register("catalog.order-paid",
		events.Typed(domain.EventOrderStatusChangedToPaid, catalog.HandleOrderPaid)); err != nil {
		return err
	}
	return registry.Register("payment.stock-confirmed",
		events.Typed(domain.EventOrderStatusChangedToStockConfirmed, payment.HandleStockConfirmed))
}
