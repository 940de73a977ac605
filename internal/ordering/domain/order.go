// Package domain содержит агрегат заказа, его автомат статусов и
// интеграционные события сервиса заказов.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/fsm"
)

// OrderStatus статус заказа
type OrderStatus string

const (
	StatusSubmitted          OrderStatus = "submitted"
	StatusAwaitingValidation OrderStatus = "awaitingvalidation"
	StatusStockConfirmed     OrderStatus = "stockconfirmed"
	StatusPaid               OrderStatus = "paid"
	StatusShipped            OrderStatus = "shipped"
	StatusCancelled          OrderStatus = "cancelled"
)

// IsTerminal проверяет, является ли статус конечным
func (s OrderStatus) IsTerminal() bool {
	return statusTable.IsTerminal(s)
}

type trigger string

const (
	triggerAwaitValidation trigger = "await_validation"
	triggerConfirmStock    trigger = "confirm_stock"
	triggerRejectStock     trigger = "reject_stock"
	triggerPay             trigger = "pay"
	triggerShip            trigger = "ship"
	triggerCancel          trigger = "cancel"
)

var statusTable = fsm.NewTable[OrderStatus, trigger]().
	Permit(StatusSubmitted, triggerAwaitValidation, StatusAwaitingValidation).
	Permit(StatusAwaitingValidation, triggerConfirmStock, StatusStockConfirmed).
	Permit(StatusAwaitingValidation, triggerRejectStock, StatusCancelled).
	Permit(StatusStockConfirmed, triggerPay, StatusPaid).
	Permit(StatusPaid, triggerShip, StatusShipped).
	PermitFrom(triggerCancel, StatusCancelled,
		StatusSubmitted, StatusAwaitingValidation, StatusStockConfirmed, StatusPaid).
	Terminal(StatusShipped, StatusCancelled)

// Address адрес доставки
type Address struct {
	Street  string `json:"street" bson:"street" validate:"required"`
	City    string `json:"city" bson:"city" validate:"required"`
	State   string `json:"state" bson:"state"`
	Country string `json:"country" bson:"country" validate:"required"`
	ZipCode string `json:"zip_code" bson:"zip_code"`
}

// OrderItem позиция заказа
type OrderItem struct {
	ProductID   string  `json:"product_id" bson:"product_id" validate:"required"`
	ProductName string  `json:"product_name,omitempty" bson:"product_name,omitempty"`
	UnitPrice   float64 `json:"unit_price" bson:"unit_price" validate:"gte=0"`
	Units       int     `json:"units" bson:"units" validate:"gt=0"`
}

// Transition результат попытки смены статуса.
// Applied == false означает, что переход недопустим из текущего статуса
// и заказ не изменился.
type Transition struct {
	From    OrderStatus
	To      OrderStatus
	Applied bool
}

// Order агрегат заказа
type Order struct {
	OrderID            string      `json:"id" bson:"_id"`
	BuyerID            string      `json:"buyer_id" bson:"buyer_id"`
	Address            Address     `json:"address" bson:"address"`
	CardReference      string      `json:"card_reference" bson:"card_reference"`
	PaymentMethodID    string      `json:"payment_method_id,omitempty" bson:"payment_method_id,omitempty"`
	Items              []OrderItem `json:"items" bson:"items"`
	Status             OrderStatus `json:"status" bson:"status"`
	Description        string      `json:"description,omitempty" bson:"description,omitempty"`
	RejectedProductIDs []string    `json:"rejected_product_ids,omitempty" bson:"rejected_product_ids,omitempty"`
	CreatedAt          time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" bson:"updated_at"`
	Rev                int64       `json:"version" bson:"version"`
}

// NewOrder создает заказ в статусе Submitted.
// Позиции с одинаковым товаром объединяются.
func NewOrder(id, buyerID string, address Address, cardReference string, items []OrderItem, createdAt time.Time) (*Order, error) {
	if id == "" {
		return nil, core.NewError(core.ErrValidationFailed, "order id is required")
	}
	if buyerID == "" {
		return nil, core.NewError(core.ErrValidationFailed, "buyer id is required")
	}
	if len(items) == 0 {
		return nil, core.NewError(core.ErrValidationFailed, "order must contain at least one item")
	}

	merged := make([]OrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return nil, core.NewError(core.ErrValidationFailed, "product id is required")
		}
		if item.Units <= 0 {
			return nil, core.NewError(core.ErrValidationFailed,
				fmt.Sprintf("invalid number of units %d for product %s", item.Units, item.ProductID))
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Units += item.Units
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}

	createdAt = createdAt.UTC()
	return &Order{
		OrderID:       id,
		BuyerID:       buyerID,
		Address:       address,
		CardReference: cardReference,
		Items:         merged,
		Status:        StatusSubmitted,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}, nil
}

// ID возвращает идентификатор заказа
func (o *Order) ID() string {
	return o.OrderID
}

// Version возвращает версию заказа
func (o *Order) Version() int64 {
	return o.Rev
}

// Clone возвращает глубокую копию заказа
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.RejectedProductIDs = append([]string(nil), o.RejectedProductIDs...)
	return &c
}

// Total сумма заказа
func (o *Order) Total() float64 {
	var total float64
	for _, item := range o.Items {
		total += item.UnitPrice * float64(item.Units)
	}
	return total
}

// StockItems позиции для проверки остатков
func (o *Order) StockItems() []OrderStockItem {
	items := make([]OrderStockItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderStockItem{ProductID: item.ProductID, Units: item.Units})
	}
	return items
}

// SetAwaitingValidationStatus Submitted -> AwaitingValidation
func (o *Order) SetAwaitingValidationStatus() Transition {
	return o.fire(triggerAwaitValidation, "")
}

// SetStockConfirmedStatus AwaitingValidation -> StockConfirmed
func (o *Order) SetStockConfirmedStatus() Transition {
	return o.fire(triggerConfirmStock, "All the items were confirmed with available stock.")
}

// SetCancelledStatusWhenStockIsRejected отменяет заказ, ожидающий проверки,
// и запоминает товары без остатка
func (o *Order) SetCancelledStatusWhenStockIsRejected(rejectedProductIDs []string) Transition {
	names := make([]string, 0, len(rejectedProductIDs))
	for _, id := range rejectedProductIDs {
		names = append(names, o.productName(id))
	}
	t := o.fire(triggerRejectStock, fmt.Sprintf("The product items don't have stock: (%s).", strings.Join(names, ", ")))
	if t.Applied {
		o.RejectedProductIDs = append([]string(nil), rejectedProductIDs...)
	}
	return t
}

// SetPaidStatus StockConfirmed -> Paid
func (o *Order) SetPaidStatus() Transition {
	return o.fire(triggerPay, "The payment was performed at a simulated \"American Bank checking bank account ending on XX35071\"")
}

// SetShippedStatus Paid -> Shipped
func (o *Order) SetShippedStatus() Transition {
	return o.fire(triggerShip, "The order was shipped.")
}

// SetCancelledStatus отменяет заказ из любого неконечного статуса.
// Для завершенного заказа переход не применяется.
func (o *Order) SetCancelledStatus() Transition {
	return o.fire(triggerCancel, "The order was cancelled.")
}

func (o *Order) fire(t trigger, description string) Transition {
	from := o.Status
	to, ok := statusTable.Fire(from, t)
	if !ok {
		return Transition{From: from, To: from}
	}
	o.Status = to
	if description != "" {
		o.Description = description
	}
	return Transition{From: from, To: to, Applied: true}
}

func (o *Order) productName(productID string) string {
	for _, item := range o.Items {
		if item.ProductID == productID && item.ProductName != "" {
			return item.ProductName
		}
	}
	return productID
}
