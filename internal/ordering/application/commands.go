// Package application содержит команды, обработчики событий, сагу периода отмены
// и фоновый sweeper сервиса заказов.
package application

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// Имена команд, под которыми хранятся записи идемпотентности
const (
	CreateOrderCommandName = "CreateOrder"
	CancelOrderCommandName = "CancelOrder"
	ShipOrderCommandName   = "ShipOrder"
)

// CreateOrder команда создания заказа из оформленной корзины
type CreateOrder struct {
	BuyerID       string             `json:"buyer_id" validate:"required,notblank"`
	Address       domain.Address     `json:"address"`
	CardReference string             `json:"card_reference"`
	Items         []domain.OrderItem `json:"items" validate:"required,min=1,dive"`
}

func (CreateOrder) CommandName() string { return CreateOrderCommandName }

// CreateOrderResult результат CreateOrder
type CreateOrderResult struct {
	OrderID string `json:"order_id"`
}

// CancelOrder команда отмены заказа
type CancelOrder struct {
	OrderID string `json:"order_number" validate:"required,notblank"`
}

func (CancelOrder) CommandName() string { return CancelOrderCommandName }

// ShipOrder команда отгрузки оплаченного заказа
type ShipOrder struct {
	OrderID string `json:"order_number" validate:"required,notblank"`
}

func (ShipOrder) CommandName() string { return ShipOrderCommandName }

// newValidator создает валидатор команд
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validationError собирает ошибки валидатора в одну ошибку VALIDATION_FAILED
func validationError(command string, err error) error {
	if err == nil {
		return nil
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return core.Wrap(err, core.ErrValidationFailed, command)
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return core.Wrap(err, core.ErrValidationFailed, fmt.Sprintf("invalid %s: %s", command, strings.Join(parts, "; ")))
}
