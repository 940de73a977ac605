package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/framework/idempotency"
	"github.com/akriventsev/ordering/framework/saga"
	"github.com/akriventsev/ordering/framework/scheduler"
	"github.com/akriventsev/ordering/internal/ordering/domain"
	"github.com/akriventsev/ordering/internal/ordering/infrastructure"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// fixture собирает компоненты приложения поверх in-memory хранилищ.
// Публикации остаются в хранилище отложенных сообщений и читаются через drain.
type fixture struct {
	now       time.Time
	orders    *infrastructure.InMemoryOrderRepository
	buyers    *infrastructure.InMemoryBuyerRepository
	sagas     *saga.InMemoryStore[GracePeriodState]
	outbox    *scheduler.InMemoryStore
	tx        *repository.InMemoryTransactor
	bus       *events.DurableBus
	gateway   *idempotency.Gateway
	service   *OrderService
	handlers  *OrderEventHandlers
	saga      *GracePeriodSaga
	generated int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:    t0,
		orders: infrastructure.NewInMemoryOrderRepository(),
		buyers: infrastructure.NewInMemoryBuyerRepository(),
		sagas:  saga.NewInMemoryStore[GracePeriodState](),
		outbox: scheduler.NewInMemoryStore(),
		tx:     repository.NewInMemoryTransactor(),
	}
	clock := func() time.Time { return f.now }
	f.bus = events.NewDurableBus(f.outbox, domain.EventCodec{}, events.NewSubjectRouter("ordering"), events.WithBusClock(clock))
	f.gateway = idempotency.NewGateway(idempotency.NewInMemoryStore(), f.tx)

	opts := []Option{
		WithClock(clock),
		WithRetry(core.RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}),
		WithIDGenerator(f.newID),
	}
	f.service = NewOrderService(f.orders, f.buyers, f.bus, f.gateway, opts...)
	f.handlers = NewOrderEventHandlers(f.orders, f.tx, f.bus, f.service, opts...)
	f.saga = NewGracePeriodSaga(f.sagas, f.tx, f.bus, DefaultGracePeriodSagaConfig(), opts...)
	return f
}

func (f *fixture) newID() string {
	f.generated++
	return fmt.Sprintf("order-%d", f.generated)
}

// drain возвращает типы недоставленных событий по ключу корреляции и удаляет их
func (f *fixture) drain(t *testing.T, correlationID string) []string {
	t.Helper()
	pending, err := f.outbox.Pending(context.Background(), correlationID)
	require.NoError(t, err)

	types := make([]string, 0, len(pending))
	for _, msg := range pending {
		types = append(types, msg.EventType)
		require.NoError(t, f.outbox.Complete(context.Background(), msg.ID))
	}
	return types
}

func (f *fixture) pending(t *testing.T, correlationID string) []*scheduler.Message {
	t.Helper()
	pending, err := f.outbox.Pending(context.Background(), correlationID)
	require.NoError(t, err)
	return pending
}

// insertOrder сохраняет заказ и доводит его до статуса status
func (f *fixture) insertOrder(t *testing.T, id string, status domain.OrderStatus) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(id, "buyer-1", testAddress(), "card-1", []domain.OrderItem{
		{ProductID: "7", ProductName: "Mug", UnitPrice: 12.5, Units: 2},
	}, f.now)
	require.NoError(t, err)

	path := map[domain.OrderStatus][]func(*domain.Order) domain.Transition{
		domain.StatusSubmitted:          nil,
		domain.StatusAwaitingValidation: {(*domain.Order).SetAwaitingValidationStatus},
		domain.StatusStockConfirmed: {
			(*domain.Order).SetAwaitingValidationStatus,
			(*domain.Order).SetStockConfirmedStatus,
		},
		domain.StatusPaid: {
			(*domain.Order).SetAwaitingValidationStatus,
			(*domain.Order).SetStockConfirmedStatus,
			(*domain.Order).SetPaidStatus,
		},
		domain.StatusCancelled: {(*domain.Order).SetCancelledStatus},
	}
	steps, ok := path[status]
	require.True(t, ok, "unsupported status %s", status)
	for _, step := range steps {
		require.True(t, step(order).Applied)
	}

	require.NoError(t, f.orders.Insert(context.Background(), order))
	return order
}

func (f *fixture) status(t *testing.T, id string) domain.OrderStatus {
	t.Helper()
	order, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func testAddress() domain.Address {
	return domain.Address{Street: "1 Main St", City: "Springfield", Country: "US", ZipCode: "12345"}
}

func testItems() []domain.OrderItem {
	return []domain.OrderItem{{ProductID: "7", ProductName: "Mug", UnitPrice: 12.5, Units: 2}}
}
