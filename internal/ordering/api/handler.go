// Package api содержит HTTP интерфейс команд и запросов заказов.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/internal/ordering/application"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// HeaderRequestID заголовок с ключом идемпотентности запроса
const HeaderRequestID = "x-requestid"

// OrderCommands команды и запросы, доступные по HTTP
type OrderCommands interface {
	CreateOrder(ctx context.Context, requestID string, cmd application.CreateOrder) (application.CreateOrderResult, error)
	CancelOrder(ctx context.Context, requestID string, cmd application.CancelOrder) (bool, error)
	ShipOrder(ctx context.Context, requestID string, cmd application.ShipOrder) (bool, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

// Handler HTTP обработчики заказов
type Handler struct {
	orders OrderCommands
	logger *zap.Logger
}

// NewHandler создает обработчики
func NewHandler(orders OrderCommands, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orders: orders, logger: logger.Named("api")}
}

// RegisterRoutes регистрирует маршруты /api/v1/orders
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	orders := r.Group("/api/v1/orders")
	orders.POST("", h.CreateOrder)
	orders.PUT("/cancel", h.CancelOrder)
	orders.PUT("/ship", h.ShipOrder)
	orders.GET("/:id", h.GetOrder)
}

// CreateOrder POST /api/v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var cmd application.CreateOrder
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.orders.CreateOrder(c.Request.Context(), c.GetHeader(HeaderRequestID), cmd)
	if err != nil {
		h.fail(c, cmd.CommandName(), err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelOrder PUT /api/v1/orders/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var cmd application.CancelOrder
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.orders.CancelOrder(c.Request.Context(), c.GetHeader(HeaderRequestID), cmd)
	if err != nil {
		h.fail(c, cmd.CommandName(), err)
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cancel order failed"})
		return
	}
	c.Status(http.StatusOK)
}

// ShipOrder PUT /api/v1/orders/ship
func (h *Handler) ShipOrder(c *gin.Context) {
	var cmd application.ShipOrder
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.orders.ShipOrder(c.Request.Context(), c.GetHeader(HeaderRequestID), cmd)
	if err != nil {
		h.fail(c, cmd.CommandName(), err)
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ship order failed"})
		return
	}
	c.Status(http.StatusOK)
}

// GetOrder GET /api/v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "GetOrder", err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(order))
}

func (h *Handler) fail(c *gin.Context, operation string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerWithTrace(c.Request.Context(), h.logger).Error("request failed",
			zap.String("operation", operation), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor сопоставляет код ошибки фреймворка HTTP статусу
func statusFor(err error) int {
	var fe *core.FrameworkError
	if !errors.As(err, &fe) {
		return http.StatusInternalServerError
	}
	switch fe.Code {
	case core.ErrValidationFailed:
		return http.StatusBadRequest
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict, core.ErrAlreadyExists:
		return http.StatusConflict
	case core.ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// orderView представление заказа в ответе
type orderView struct {
	OrderNumber        string             `json:"order_number"`
	BuyerID            string             `json:"buyer_id"`
	PaymentMethodID    string             `json:"payment_method_id,omitempty"`
	Status             string             `json:"status"`
	Description        string             `json:"description,omitempty"`
	Address            domain.Address     `json:"address"`
	Items              []domain.OrderItem `json:"items"`
	Total              float64            `json:"total"`
	RejectedProductIDs []string           `json:"rejected_product_ids,omitempty"`
	Date               time.Time          `json:"date"`
}

func newOrderView(o *domain.Order) orderView {
	return orderView{
		OrderNumber:        o.ID(),
		BuyerID:            o.BuyerID,
		PaymentMethodID:    o.PaymentMethodID,
		Status:             string(o.Status),
		Description:        o.Description,
		Address:            o.Address,
		Items:              o.Items,
		Total:              o.Total(),
		RejectedProductIDs: o.RejectedProductIDs,
		Date:               o.CreatedAt,
	}
}
