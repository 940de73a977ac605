package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// change изменяет загруженный заказ и возвращает результат перехода
// и события для публикации при его применении
type change func(order *domain.Order) (domain.Transition, []events.Event)

// OrderEventHandlers переводят интеграционные события проверки остатков и оплаты
// в переходы агрегата заказа.
//
// Каждый обработчик читает заказ, применяет переход и сохраняет его по версии
// в одной единице работы. Конфликт версий повторяется со свежего чтения.
// Недопустимый переход и неизвестный заказ не считаются ошибкой.
type OrderEventHandlers struct {
	orders  domain.OrderRepository
	tx      core.Transactor
	bus     events.Bus
	service *OrderService
	opts    options
}

// NewOrderEventHandlers создает обработчики событий заказа
func NewOrderEventHandlers(orders domain.OrderRepository, tx core.Transactor, bus events.Bus, service *OrderService, opts ...Option) *OrderEventHandlers {
	o := buildOptions(opts)
	o.logger = o.logger.Named("order-handlers")
	return &OrderEventHandlers{
		orders:  orders,
		tx:      tx,
		bus:     bus,
		service: service,
		opts:    o,
	}
}

// OnUserCheckoutAccepted создает заказ из оформленной корзины.
// RequestID события служит ключом идемпотентности.
func (h *OrderEventHandlers) OnUserCheckoutAccepted(ctx context.Context, e *domain.UserCheckoutAccepted) error {
	_, err := h.service.CreateOrder(ctx, e.RequestID, CreateOrder{
		BuyerID:       e.BuyerID,
		Address:       e.Address,
		CardReference: e.CardReference,
		Items:         e.Items,
	})
	if core.HasCode(err, core.ErrValidationFailed) {
		h.opts.logger.Warn("checkout rejected",
			zap.String("request_id", e.RequestID), zap.String("buyer_id", e.BuyerID), zap.Error(err))
		return nil
	}
	return err
}

// OnGracePeriodConfirmed Submitted -> AwaitingValidation
func (h *OrderEventHandlers) OnGracePeriodConfirmed(ctx context.Context, e *domain.GracePeriodConfirmed) error {
	return h.mutate(ctx, e.OrderID, e.EventType(), func(o *domain.Order) (domain.Transition, []events.Event) {
		return o.SetAwaitingValidationStatus(), nil
	})
}

// OnOrderStatusChangedToStockConfirmed подтверждает остатки заказа.
// Заказ, еще не перешедший в AwaitingValidation, переводится туда же.
func (h *OrderEventHandlers) OnOrderStatusChangedToStockConfirmed(ctx context.Context, e *domain.OrderStatusChangedToStockConfirmed) error {
	return h.mutate(ctx, e.OrderID, e.EventType(), func(o *domain.Order) (domain.Transition, []events.Event) {
		return validated(o, (*domain.Order).SetStockConfirmedStatus), nil
	})
}

// OnOrderStockRejected отменяет заказ без остатков
func (h *OrderEventHandlers) OnOrderStockRejected(ctx context.Context, e *domain.OrderStockRejected) error {
	rejected := e.RejectedProductIDs()
	return h.mutate(ctx, e.OrderID, e.EventType(), func(o *domain.Order) (domain.Transition, []events.Event) {
		return validated(o, func(o *domain.Order) domain.Transition {
			return o.SetCancelledStatusWhenStockIsRejected(rejected)
		}), nil
	})
}

// OnOrderPaymentSucceeded переводит заказ в Paid и публикует OrderStatusChangedToPaid.
// Оплата, пришедшая раньше подтверждения остатков, возвращается на повторную доставку.
func (h *OrderEventHandlers) OnOrderPaymentSucceeded(ctx context.Context, e *domain.OrderPaymentSucceeded) error {
	return h.mutate(ctx, e.OrderID, e.EventType(), func(o *domain.Order) (domain.Transition, []events.Event) {
		t := o.SetPaidStatus()
		if !t.Applied {
			return t, nil
		}
		return t, []events.Event{domain.NewOrderStatusChangedToPaid(o.ID(), o.StockItems())}
	}, deferWhile(domain.StatusSubmitted, domain.StatusAwaitingValidation))
}

// OnOrderPaymentFailed отменяет заказ и публикует OrderCancelled
func (h *OrderEventHandlers) OnOrderPaymentFailed(ctx context.Context, e *domain.OrderPaymentFailed) error {
	return h.mutate(ctx, e.OrderID, e.EventType(), func(o *domain.Order) (domain.Transition, []events.Event) {
		t := o.SetCancelledStatus()
		if !t.Applied {
			return t, nil
		}
		return t, []events.Event{domain.NewOrderCancelled(o.ID())}
	})
}

// validated применяет исход проверки остатков. Исход проверки подразумевает,
// что заказ уже ожидает проверки, поэтому Submitted сначала переводится в AwaitingValidation.
func validated(o *domain.Order, outcome func(*domain.Order) domain.Transition) domain.Transition {
	from := o.Status
	if from == domain.StatusSubmitted {
		o.SetAwaitingValidationStatus()
	}
	t := outcome(o)
	t.From = from
	return t
}

type mutateOption func(*domain.Order) error

// deferWhile возвращает ErrTransient, пока заказ находится в одном из статусов
func deferWhile(statuses ...domain.OrderStatus) mutateOption {
	return func(o *domain.Order) error {
		for _, s := range statuses {
			if o.Status == s {
				return core.NewError(core.ErrTransient,
					fmt.Sprintf("order %s is %s, retry later", o.ID(), o.Status))
			}
		}
		return nil
	}
}

func (h *OrderEventHandlers) mutate(ctx context.Context, orderID, cause string, fn change, guards ...mutateOption) error {
	logger := observability.LoggerWithTrace(ctx, h.opts.logger).
		With(zap.String("order_id", orderID), zap.String("event", cause))

	return core.RetryOnConflict(ctx, h.opts.retry, func(ctx context.Context) error {
		return h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			order, err := h.orders.Get(ctx, orderID)
			if core.IsNotFound(err) {
				logger.Warn("order not found, event dropped")
				return nil
			}
			if err != nil {
				return err
			}
			for _, guard := range guards {
				if err := guard(order); err != nil {
					return err
				}
			}

			expected := order.Version()
			t, publish := fn(order)
			if !t.Applied {
				logger.Debug("transition ignored", zap.String("status", string(t.From)))
				return nil
			}

			order.Rev = expected + 1
			order.UpdatedAt = h.opts.clock().UTC()
			if err := h.orders.Update(ctx, order, expected); err != nil {
				return err
			}
			for _, event := range publish {
				if err := h.bus.Publish(ctx, event); err != nil {
					return err
				}
			}
			logger.Info("order status changed", zap.String("from", string(t.From)), zap.String("to", string(t.To)))
			return nil
		})
	})
}
