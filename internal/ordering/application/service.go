package application

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/framework/idempotency"
	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// OrderService выполняет команды над заказами через шлюз идемпотентности.
// Изменение заказа, публикации и запись идемпотентности фиксируются одной единицей работы.
type OrderService struct {
	orders   domain.OrderRepository
	buyers   domain.BuyerRepository
	bus      events.Bus
	gateway  *idempotency.Gateway
	validate *validator.Validate
	opts     options
}

// NewOrderService создает сервис команд
func NewOrderService(orders domain.OrderRepository, buyers domain.BuyerRepository, bus events.Bus, gateway *idempotency.Gateway, opts ...Option) *OrderService {
	o := buildOptions(opts)
	o.logger = o.logger.Named("orders")
	return &OrderService{
		orders:   orders,
		buyers:   buyers,
		bus:      bus,
		gateway:  gateway,
		validate: newValidator(),
		opts:     o,
	}
}

// CreateOrder создает заказ и публикует OrderStarted.
// Способ оплаты покупателя проверяется или заводится в той же единице работы.
// Пустой requestID отключает дедупликацию.
func (s *OrderService) CreateOrder(ctx context.Context, requestID string, cmd CreateOrder) (CreateOrderResult, error) {
	var result CreateOrderResult
	err := s.run(ctx, cmd.CommandName(), requestID, func(ctx context.Context) error {
		if err := validationError(cmd.CommandName(), s.validate.StructCtx(ctx, cmd)); err != nil {
			return err
		}
		return core.RetryOnConflict(ctx, s.opts.retry, func(ctx context.Context) error {
			r, err := idempotency.Execute(ctx, s.gateway, requestID, cmd, s.createOrder)
			result = r
			return err
		})
	})
	return result, err
}

func (s *OrderService) createOrder(ctx context.Context, cmd CreateOrder) (CreateOrderResult, error) {
	order, err := domain.NewOrder(s.opts.newID(), cmd.BuyerID, cmd.Address, cmd.CardReference, cmd.Items, s.opts.clock())
	if err != nil {
		return CreateOrderResult{}, err
	}
	observability.AnnotateOrder(ctx, order.ID())
	if order.PaymentMethodID, err = s.verifyBuyerAndPayment(ctx, order); err != nil {
		return CreateOrderResult{}, err
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return CreateOrderResult{}, err
	}
	if err := s.bus.Publish(ctx, domain.NewOrderStarted(order.BuyerID, order.ID(), order.StockItems())); err != nil {
		return CreateOrderResult{}, err
	}

	observability.LoggerWithTrace(ctx, s.opts.logger).Info("order created",
		zap.String("order_id", order.ID()),
		zap.String("buyer_id", order.BuyerID),
		zap.String("payment_method_id", order.PaymentMethodID),
		zap.Int("items", len(order.Items)))
	return CreateOrderResult{OrderID: order.ID()}, nil
}

// verifyBuyerAndPayment находит покупателя заказа или заводит нового и возвращает
// идентификатор способа оплаты для карты заказа. Покупатель, созданный параллельно,
// дает CONFLICT, и команда повторяется со свежего чтения.
func (s *OrderService) verifyBuyerAndPayment(ctx context.Context, order *domain.Order) (string, error) {
	buyer, err := s.buyers.Get(ctx, order.BuyerID)
	isNew := core.IsNotFound(err)
	switch {
	case isNew:
		if buyer, err = domain.NewBuyer(order.BuyerID); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}

	expected := buyer.Version()
	method, added := buyer.VerifyOrAddPaymentMethod(order.CardReference, uuid.NewString, s.opts.clock())
	switch {
	case isNew:
		err = s.buyers.Insert(ctx, buyer)
	case added:
		buyer.Rev = expected + 1
		err = s.buyers.Update(ctx, buyer, expected)
	}
	if err != nil {
		return "", err
	}

	if added {
		observability.LoggerWithTrace(ctx, s.opts.logger).Debug("payment method added",
			zap.String("buyer_id", buyer.ID()),
			zap.String("payment_method_id", method.ID))
	}
	return method.ID, nil
}

// CancelOrder отменяет заказ. Для уже завершенного заказа возвращает true без изменений.
func (s *OrderService) CancelOrder(ctx context.Context, requestID string, cmd CancelOrder) (bool, error) {
	var result bool
	err := s.run(ctx, cmd.CommandName(), requestID, func(ctx context.Context) error {
		if err := validationError(cmd.CommandName(), s.validate.StructCtx(ctx, cmd)); err != nil {
			return err
		}
		return core.RetryOnConflict(ctx, s.opts.retry, func(ctx context.Context) error {
			r, err := idempotency.Execute(ctx, s.gateway, requestID, cmd, s.cancelOrder)
			result = r
			return err
		})
	})
	return result, err
}

func (s *OrderService) cancelOrder(ctx context.Context, cmd CancelOrder) (bool, error) {
	_, err := s.transition(ctx, cmd.OrderID, (*domain.Order).SetCancelledStatus, func(o *domain.Order) events.Event {
		return domain.NewOrderCancelled(o.ID())
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ShipOrder отгружает оплаченный заказ. Возвращает false, если переход недопустим.
func (s *OrderService) ShipOrder(ctx context.Context, requestID string, cmd ShipOrder) (bool, error) {
	var result bool
	err := s.run(ctx, cmd.CommandName(), requestID, func(ctx context.Context) error {
		if err := validationError(cmd.CommandName(), s.validate.StructCtx(ctx, cmd)); err != nil {
			return err
		}
		return core.RetryOnConflict(ctx, s.opts.retry, func(ctx context.Context) error {
			r, err := idempotency.Execute(ctx, s.gateway, requestID, cmd, s.shipOrder)
			result = r
			return err
		})
	})
	return result, err
}

func (s *OrderService) shipOrder(ctx context.Context, cmd ShipOrder) (bool, error) {
	return s.transition(ctx, cmd.OrderID, (*domain.Order).SetShippedStatus, func(o *domain.Order) events.Event {
		return domain.NewOrderStatusChangedToShipped(o.ID())
	})
}

// GetOrder возвращает заказ
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return observability.TraceQuery(ctx, "GetOrder", orderID, func(ctx context.Context) (*domain.Order, error) {
		return s.orders.Get(ctx, orderID)
	})
}

// transition применяет переход к заказу в текущей единице работы и публикует событие,
// если переход применен
func (s *OrderService) transition(ctx context.Context, orderID string, apply func(*domain.Order) domain.Transition, event func(*domain.Order) events.Event) (bool, error) {
	observability.AnnotateOrder(ctx, orderID)
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return false, err
	}

	expected := order.Version()
	t := apply(order)
	logger := observability.LoggerWithTrace(ctx, s.opts.logger).With(zap.String("order_id", orderID))
	if !t.Applied {
		logger.Debug("transition ignored", zap.String("status", string(t.From)))
		return false, nil
	}

	order.Rev = expected + 1
	order.UpdatedAt = s.opts.clock().UTC()
	if err := s.orders.Update(ctx, order, expected); err != nil {
		return false, err
	}
	if err := s.bus.Publish(ctx, event(order)); err != nil {
		return false, err
	}
	logger.Info("order status changed", zap.String("from", string(t.From)), zap.String("to", string(t.To)))
	return true, nil
}

func (s *OrderService) run(ctx context.Context, name, requestID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := observability.TraceCommand(ctx, name, requestID, fn)
	s.opts.metrics.RecordCommand(ctx, name, time.Since(start), err == nil)
	return err
}
