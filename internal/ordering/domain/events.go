package domain

import (
	"github.com/akriventsev/ordering/framework/events"
)

// Типы интеграционных событий
const (
	EventUserCheckoutAccepted                   = "UserCheckoutAccepted"
	EventOrderStarted                           = "OrderStarted"
	EventOrderStatusChangedToAwaitingValidation = "OrderStatusChangedToAwaitingValidation"
	EventOrderStockConfirmed                    = "OrderStockConfirmed"
	EventOrderStockRejected                     = "OrderStockRejected"
	EventGracePeriodExpired                     = "GracePeriodExpired"
	EventGracePeriodConfirmed                   = "GracePeriodConfirmed"
	EventOrderStatusChangedToStockConfirmed     = "OrderStatusChangedToStockConfirmed"
	EventOrderPaymentSucceeded                  = "OrderPaymentSucceeded"
	EventOrderPaymentFailed                     = "OrderPaymentFailed"
	EventOrderStatusChangedToPaid               = "OrderStatusChangedToPaid"
	EventOrderStatusChangedToShipped            = "OrderStatusChangedToShipped"
	EventOrderCancelled                         = "OrderCancelled"
)

// OrderStockItem товар и количество для проверки остатков
type OrderStockItem struct {
	ProductID string `json:"product_id"`
	Units     int    `json:"units"`
}

// ConfirmedOrderStockItem результат проверки остатка по товару
type ConfirmedOrderStockItem struct {
	ProductID string `json:"product_id"`
	HasStock  bool   `json:"has_stock"`
}

// UserCheckoutAccepted корзина оформлена покупателем
type UserCheckoutAccepted struct {
	events.BaseEvent
	RequestID     string      `json:"request_id"`
	BuyerID       string      `json:"buyer_id"`
	Address       Address     `json:"address"`
	CardReference string      `json:"card_reference"`
	Items         []OrderItem `json:"items"`
}

// NewUserCheckoutAccepted создает событие оформления корзины
func NewUserCheckoutAccepted(requestID, buyerID string, address Address, cardReference string, items []OrderItem) *UserCheckoutAccepted {
	return &UserCheckoutAccepted{
		BaseEvent:     events.NewBaseEvent(EventUserCheckoutAccepted, buyerID),
		RequestID:     requestID,
		BuyerID:       buyerID,
		Address:       address,
		CardReference: cardReference,
		Items:         items,
	}
}

// OrderStarted заказ создан; запускает сагу периода отмены
type OrderStarted struct {
	events.BaseEvent
	BuyerID string           `json:"buyer_id"`
	OrderID string           `json:"order_id"`
	Items   []OrderStockItem `json:"items"`
}

// NewOrderStarted создает событие OrderStarted
func NewOrderStarted(buyerID, orderID string, items []OrderStockItem) *OrderStarted {
	return &OrderStarted{
		BaseEvent: events.NewBaseEvent(EventOrderStarted, orderID),
		BuyerID:   buyerID,
		OrderID:   orderID,
		Items:     items,
	}
}

// OrderStatusChangedToAwaitingValidation запрос проверки остатков
type OrderStatusChangedToAwaitingValidation struct {
	events.BaseEvent
	OrderID string           `json:"order_id"`
	Items   []OrderStockItem `json:"items"`
}

func NewOrderStatusChangedToAwaitingValidation(orderID string, items []OrderStockItem) *OrderStatusChangedToAwaitingValidation {
	return &OrderStatusChangedToAwaitingValidation{
		BaseEvent: events.NewBaseEvent(EventOrderStatusChangedToAwaitingValidation, orderID),
		OrderID:   orderID,
		Items:     items,
	}
}

// OrderStockConfirmed все товары в наличии
type OrderStockConfirmed struct {
	events.BaseEvent
	OrderID string `json:"order_id"`
}

func NewOrderStockConfirmed(orderID string) *OrderStockConfirmed {
	return &OrderStockConfirmed{
		BaseEvent: events.NewBaseEvent(EventOrderStockConfirmed, orderID),
		OrderID:   orderID,
	}
}

// OrderStockRejected часть товаров отсутствует
type OrderStockRejected struct {
	events.BaseEvent
	OrderID string                    `json:"order_id"`
	Items   []ConfirmedOrderStockItem `json:"items"`
}

func NewOrderStockRejected(orderID string, items []ConfirmedOrderStockItem) *OrderStockRejected {
	return &OrderStockRejected{
		BaseEvent: events.NewBaseEvent(EventOrderStockRejected, orderID),
		OrderID:   orderID,
		Items:     items,
	}
}

// RejectedProductIDs возвращает товары без остатка
func (e *OrderStockRejected) RejectedProductIDs() []string {
	ids := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		if !item.HasStock {
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

// GracePeriodExpired таймаут периода отмены; планируется сагой
type GracePeriodExpired struct {
	events.BaseEvent
	OrderID string `json:"order_id"`
}

func NewGracePeriodExpired(orderID string) *GracePeriodExpired {
	return &GracePeriodExpired{
		BaseEvent: events.NewBaseEvent(EventGracePeriodExpired, orderID),
		OrderID:   orderID,
	}
}

// GracePeriodConfirmed период отмены истек
type GracePeriodConfirmed struct {
	events.BaseEvent
	OrderID string `json:"order_id"`
}

func NewGracePeriodConfirmed(orderID string) *GracePeriodConfirmed {
	return &GracePeriodConfirmed{
		BaseEvent: events.NewBaseEvent(EventGracePeriodConfirmed, orderID),
		OrderID:   orderID,
	}
}

// OrderStatusChangedToStockConfirmed заказ подтвержден и может быть оплачен
type OrderStatusChangedToStockConfirmed struct {
	events.BaseEvent
	OrderID string `json:"order_id"`
}

func NewOrderStatusChangedToStockConfirmed(orderID string) *OrderStatusChangedToStockConfirmed {
	return &OrderStatusChangedToStockConfirmed{
		BaseEvent: events.NewBaseEvent(EventOrderStatusChangedToStockConfirmed, orderID),
		OrderID:   orderID,
	}
}

// OrderPaymentSucceeded оплата прошла
type OrderPaymentSucceeded struct {
	events.BaseEvent
	OrderID string `json:"order_id"`
}

func NewOrderPaymentSucceeded(orderID string) *OrderPaymentSucceeded {
	return &OrderPaymentSucceeded{
		BaseEvent: events.NewBaseEvent(EventOrderPaymentSucceeded, orderID),
		OrderID:   orderID,
	}
}

// OrderPaymentFailed оплата отклонена
type OrderPaymentFailed struct {
	events.BaseEvent
	OrderID string `json:"order_id"`
}

func NewOrderPaymentFailed(orderID string) *OrderPaymentFailed {
	return &OrderPaymentFailed{
		BaseEvent: events.NewBaseEvent(EventOrderPaymentFailed, orderID),
		OrderID:   orderID,
	}
}

// OrderStatusChangedToPaid заказ оплачен; каталог списывает остатки
type OrderStatusChangedToPaid struct {
	events.BaseEvent
	OrderID string           `json:"order_id"`
	Items   []OrderStockItem `json:"items"`
}

func NewOrderStatusChangedToPaid(orderID string, items []OrderStockItem) *OrderStatusChangedToPaid {
	return &OrderStatusChangedToPaid{
		BaseEvent: events.NewBaseEvent(EventOrderStatusChangedToPaid, orderID),
		OrderID:   orderID,
		Items:     items,
	}
}

// OrderStatusChangedToShipped заказ отгружен
type OrderStatusChangedToShipped struct {
	events.BaseEvent
	OrderID string `json:"order_id"`
}

func NewOrderStatusChangedToShipped(orderID string) *OrderStatusChangedToShipped {
	return &OrderStatusChangedToShipped{
		BaseEvent: events.NewBaseEvent(EventOrderStatusChangedToShipped, orderID),
		OrderID:   orderID,
	}
}

// OrderCancelled заказ отменен
type OrderCancelled struct {
	events.BaseEvent
	OrderID string `json:"order_id"`
}

func NewOrderCancelled(orderID string) *OrderCancelled {
	return &OrderCancelled{
		BaseEvent: events.NewBaseEvent(EventOrderCancelled, orderID),
		OrderID:   orderID,
	}
}
