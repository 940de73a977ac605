package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/framework/saga"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// GracePeriodSagaType тип саги в хранилище экземпляров
const GracePeriodSagaType = "grace_period"

// GracePeriodState состояние саги периода отмены для одного заказа
type GracePeriodState struct {
	BuyerID            string                  `json:"buyer_id" bson:"buyer_id"`
	Items              []domain.OrderStockItem `json:"items" bson:"items"`
	GracePeriodElapsed bool                    `json:"grace_period_elapsed" bson:"grace_period_elapsed"`
	StockConfirmed     bool                    `json:"stock_confirmed" bson:"stock_confirmed"`
	StockRejected      bool                    `json:"stock_rejected" bson:"stock_rejected"`
	PaymentSucceeded   bool                    `json:"payment_succeeded" bson:"payment_succeeded"`
	PaymentFailed      bool                    `json:"payment_failed" bson:"payment_failed"`
	Cancelled          bool                    `json:"cancelled" bson:"cancelled"`
}

// Confirmable проверяет, выполнены ли оба условия подтверждения заказа
func (s GracePeriodState) Confirmable() bool {
	return s.GracePeriodElapsed && s.StockConfirmed
}

// PaymentHook вызывается в единице работы саги при успешной оплате
type PaymentHook func(ctx context.Context, orderID string, state GracePeriodState) error

// GracePeriodSagaConfig конфигурация саги
type GracePeriodSagaConfig struct {
	GracePeriod time.Duration
}

// DefaultGracePeriodSagaConfig возвращает конфигурацию по умолчанию
func DefaultGracePeriodSagaConfig() GracePeriodSagaConfig {
	return GracePeriodSagaConfig{GracePeriod: 5 * time.Minute}
}

// Validate проверяет корректность конфигурации
func (c GracePeriodSagaConfig) Validate() error {
	if c.GracePeriod <= 0 {
		return core.NewError(core.ErrInvalidConfig, "grace period must be positive")
	}
	return nil
}

// GracePeriodSaga координирует период отмены заказа.
//
// Экземпляр создается по OrderStarted, публикует запрос проверки остатков и
// взводит таймаут. Когда истек период отмены и подтверждены остатки, сага
// публикует GracePeriodConfirmed и OrderStatusChangedToStockConfirmed и завершается.
// Отказ в остатках, результат оплаты и отмена заказа завершают сагу без публикаций.
type GracePeriodSaga struct {
	coordinator *saga.Coordinator[GracePeriodState]
	bus         events.Bus
	config      GracePeriodSagaConfig
	onPayment   PaymentHook
	logger      *zap.Logger
}

// NewGracePeriodSaga создает сагу периода отмены
func NewGracePeriodSaga(store saga.Store[GracePeriodState], tx core.Transactor, bus events.Bus, config GracePeriodSagaConfig, opts ...Option) *GracePeriodSaga {
	o := buildOptions(opts)
	coordinator := saga.NewCoordinator[GracePeriodState](GracePeriodSagaType, store, tx,
		saga.WithLogger(o.logger),
		saga.WithMetrics(o.metrics),
		saga.WithRetry(o.retry),
		saga.WithClock(o.clock),
	)
	return &GracePeriodSaga{
		coordinator: coordinator,
		bus:         bus,
		config:      config,
		logger:      o.logger.Named("grace-period"),
	}
}

// OnPaymentSucceeded устанавливает обработчик успешной оплаты
func (s *GracePeriodSaga) OnPaymentSucceeded(hook PaymentHook) {
	s.onPayment = hook
}

// Load возвращает экземпляр саги заказа
func (s *GracePeriodSaga) Load(ctx context.Context, orderID string) (*saga.Instance[GracePeriodState], error) {
	return s.coordinator.Load(ctx, orderID)
}

// HandleOrderStarted создает экземпляр саги. Повторный OrderStarted игнорируется.
func (s *GracePeriodSaga) HandleOrderStarted(ctx context.Context, e *domain.OrderStarted) error {
	initial := GracePeriodState{BuyerID: e.BuyerID, Items: e.Items}
	outcome, err := s.coordinator.Start(ctx, e.OrderID, initial, func(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
		if err := s.bus.Publish(ctx, domain.NewOrderStatusChangedToAwaitingValidation(e.OrderID, e.Items)); err != nil {
			return err
		}
		return s.bus.ScheduleTimeout(ctx, e.OrderID, s.config.GracePeriod, domain.NewGracePeriodExpired(e.OrderID))
	})
	if err != nil {
		return err
	}
	if outcome == saga.OutcomeStarted {
		s.logger.Info("grace period started",
			zap.String("order_id", e.OrderID), zap.Duration("grace_period", s.config.GracePeriod))
	}
	return nil
}

// HandleGracePeriodExpired отмечает истечение периода отмены
func (s *GracePeriodSaga) HandleGracePeriodExpired(ctx context.Context, e *domain.GracePeriodExpired) error {
	return s.step(ctx, e.OrderID, func(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
		i.State.GracePeriodElapsed = true
		return s.tryConfirm(ctx, i)
	})
}

// HandleGracePeriodConfirmed считает подтверждение от sweeper сигналом истечения периода.
// Собственная публикация саги приходит уже после завершения и игнорируется.
func (s *GracePeriodSaga) HandleGracePeriodConfirmed(ctx context.Context, e *domain.GracePeriodConfirmed) error {
	return s.step(ctx, e.OrderID, func(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
		i.State.GracePeriodElapsed = true
		return s.tryConfirm(ctx, i)
	})
}

// HandleOrderStockConfirmed отмечает подтверждение остатков
func (s *GracePeriodSaga) HandleOrderStockConfirmed(ctx context.Context, e *domain.OrderStockConfirmed) error {
	return s.step(ctx, e.OrderID, func(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
		i.State.StockConfirmed = true
		return s.tryConfirm(ctx, i)
	})
}

// HandleOrderStockRejected завершает сагу
func (s *GracePeriodSaga) HandleOrderStockRejected(ctx context.Context, e *domain.OrderStockRejected) error {
	return s.step(ctx, e.OrderID, func(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
		i.State.StockRejected = true
		i.Complete()
		return nil
	})
}

// HandleOrderPaymentSucceeded завершает сагу и вызывает PaymentHook
func (s *GracePeriodSaga) HandleOrderPaymentSucceeded(ctx context.Context, e *domain.OrderPaymentSucceeded) error {
	return s.step(ctx, e.OrderID, func(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
		i.State.PaymentSucceeded = true
		if s.onPayment != nil {
			if err := s.onPayment(ctx, i.ID, i.State); err != nil {
				return err
			}
		}
		i.Complete()
		return nil
	})
}

// HandleOrderPaymentFailed завершает сагу
func (s *GracePeriodSaga) HandleOrderPaymentFailed(ctx context.Context, e *domain.OrderPaymentFailed) error {
	return s.step(ctx, e.OrderID, func(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
		i.State.PaymentFailed = true
		i.Complete()
		return nil
	})
}

// HandleOrderCancelled завершает сагу
func (s *GracePeriodSaga) HandleOrderCancelled(ctx context.Context, e *domain.OrderCancelled) error {
	return s.step(ctx, e.OrderID, func(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
		i.State.Cancelled = true
		i.Complete()
		return nil
	})
}

func (s *GracePeriodSaga) step(ctx context.Context, orderID string, fn saga.StepFunc[GracePeriodState]) error {
	_, err := s.coordinator.Handle(ctx, orderID, fn)
	return err
}

// tryConfirm публикует подтверждение, когда выполнены оба условия.
// Публикации и отметка о завершении фиксируются вместе с состоянием.
func (s *GracePeriodSaga) tryConfirm(ctx context.Context, i *saga.Instance[GracePeriodState]) error {
	if i.Completed || !i.State.Confirmable() {
		return nil
	}
	if err := s.bus.Publish(ctx, domain.NewGracePeriodConfirmed(i.ID)); err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, domain.NewOrderStatusChangedToStockConfirmed(i.ID)); err != nil {
		return err
	}
	i.Complete()
	s.logger.Info("grace period confirmed", zap.String("order_id", i.ID))
	return nil
}
