package application

import (
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// RegisterSaga регистрирует входы саги периода отмены.
// Имя регистрации становится именем группы потребителей.
func RegisterSaga(registry *events.Registry, s *GracePeriodSaga) error {
	registrations := []events.Registration{
		{Name: "grace-period.order-started", Handler: events.Typed(domain.EventOrderStarted, s.HandleOrderStarted)},
		{Name: "grace-period.expired", Handler: events.Typed(domain.EventGracePeriodExpired, s.HandleGracePeriodExpired)},
		{Name: "grace-period.confirmed", Handler: events.Typed(domain.EventGracePeriodConfirmed, s.HandleGracePeriodConfirmed)},
		{Name: "grace-period.stock-confirmed", Handler: events.Typed(domain.EventOrderStockConfirmed, s.HandleOrderStockConfirmed)},
		{Name: "grace-period.stock-rejected", Handler: events.Typed(domain.EventOrderStockRejected, s.HandleOrderStockRejected)},
		{Name: "grace-period.payment-succeeded", Handler: events.Typed(domain.EventOrderPaymentSucceeded, s.HandleOrderPaymentSucceeded)},
		{Name: "grace-period.payment-failed", Handler: events.Typed(domain.EventOrderPaymentFailed, s.HandleOrderPaymentFailed)},
		{Name: "grace-period.order-cancelled", Handler: events.Typed(domain.EventOrderCancelled, s.HandleOrderCancelled)},
	}
	return register(registry, registrations)
}

// RegisterOrderHandlers регистрирует обработчики, изменяющие заказ
func RegisterOrderHandlers(registry *events.Registry, h *OrderEventHandlers) error {
	registrations := []events.Registration{
		{Name: "orders.checkout-accepted", Handler: events.Typed(domain.EventUserCheckoutAccepted, h.OnUserCheckoutAccepted)},
		{Name: "orders.grace-period-confirmed", Handler: events.Typed(domain.EventGracePeriodConfirmed, h.OnGracePeriodConfirmed)},
		{Name: "orders.stock-confirmed", Handler: events.Typed(domain.EventOrderStatusChangedToStockConfirmed, h.OnOrderStatusChangedToStockConfirmed)},
		{Name: "orders.stock-rejected", Handler: events.Typed(domain.EventOrderStockRejected, h.OnOrderStockRejected)},
		{Name: "orders.payment-succeeded", Handler: events.Typed(domain.EventOrderPaymentSucceeded, h.OnOrderPaymentSucceeded)},
		{Name: "orders.payment-failed", Handler: events.Typed(domain.EventOrderPaymentFailed, h.OnOrderPaymentFailed)},
	}
	return register(registry, registrations)
}

func register(registry *events.Registry, registrations []events.Registration) error {
	for _, r := range registrations {
		if err := registry.Register(r.Name, r.Handler); err != nil {
			return err
		}
	}
	return nil
}
