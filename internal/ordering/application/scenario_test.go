package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/framework/idempotency"
	"github.com/akriventsev/ordering/framework/saga"
	"github.com/akriventsev/ordering/framework/scheduler"
	fwtesting "github.com/akriventsev/ordering/framework/testing"
	"github.com/akriventsev/ordering/internal/ordering/application"
	"github.com/akriventsev/ordering/internal/ordering/collaborators"
	"github.com/akriventsev/ordering/internal/ordering/domain"
	"github.com/akriventsev/ordering/internal/ordering/infrastructure"
)

// system сервис заказов с симуляторами каталога и оплаты на синхронной in-memory шине
type system struct {
	env     *fwtesting.InMemoryTestEnvironment
	orders  *infrastructure.InMemoryOrderRepository
	outbox  *scheduler.InMemoryStore
	bus     *events.DurableBus
	saga    *application.GracePeriodSaga
	sweeper *application.GracePeriodSweeper
	catalog *collaborators.Catalog
}

func newSystem(t *testing.T, paymentSucceeds bool) *system {
	t.Helper()
	env := fwtesting.NewInMemoryTestEnvironment(t, domain.EventCodec{}, "ordering",
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	s := &system{
		env:    env,
		orders: infrastructure.NewInMemoryOrderRepository(),
		outbox: env.Outbox,
		bus:    env.Bus,
	}

	gateway := idempotency.NewGateway(idempotency.NewInMemoryStore(), env.Tx)
	opts := []application.Option{
		application.WithClock(env.Now),
		application.WithIDGenerator(func() string { return "42" }),
	}
	service := application.NewOrderService(s.orders, infrastructure.NewInMemoryBuyerRepository(), s.bus, gateway, opts...)
	handlers := application.NewOrderEventHandlers(s.orders, env.Tx, s.bus, service, opts...)
	s.saga = application.NewGracePeriodSaga(saga.NewInMemoryStore[application.GracePeriodState](), env.Tx, s.bus,
		application.DefaultGracePeriodSagaConfig(), opts...)
	s.sweeper = application.NewGracePeriodSweeper(s.orders, s.bus, application.DefaultSweeperConfig(), opts...)
	s.catalog = collaborators.NewCatalog(s.bus, map[string]int{"7": 10}, nil)

	require.NoError(t, application.RegisterOrderHandlers(env.Registry, handlers))
	require.NoError(t, application.RegisterSaga(env.Registry, s.saga))
	require.NoError(t, collaborators.Register(env.Registry, s.catalog, collaborators.NewPayment(s.bus, paymentSucceeds, nil)))

	env.Start(t)
	return s
}

func (s *system) settle(t *testing.T) {
	t.Helper()
	s.env.Settle(t)
}

func (s *system) advance(d time.Duration) {
	s.env.Advance(d)
}

func (s *system) checkout(t *testing.T, requestID string, units int) {
	t.Helper()
	address := domain.Address{Street: "1 Main St", City: "Springfield", Country: "US"}
	items := []domain.OrderItem{{ProductID: "7", ProductName: "Mug", UnitPrice: 12.5, Units: units}}
	require.NoError(t, s.bus.Publish(context.Background(),
		domain.NewUserCheckoutAccepted(requestID, "buyer-1", address, "card-1", items)))
}

func (s *system) order(t *testing.T) *domain.Order {
	t.Helper()
	order, err := s.orders.Get(context.Background(), "42")
	require.NoError(t, err)
	return order
}

func TestScenario_OrderIsPaidAfterGracePeriod(t *testing.T) {
	s := newSystem(t, true)

	s.checkout(t, "req-1", 2)
	s.settle(t)

	// остатки подтверждены, но период отмены еще идет
	assert.Equal(t, domain.StatusSubmitted, s.order(t).Status)
	instance, err := s.saga.Load(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, instance.State.StockConfirmed)
	assert.False(t, instance.Completed)

	s.advance(4 * time.Minute)
	s.settle(t)
	assert.Equal(t, domain.StatusSubmitted, s.order(t).Status)

	s.advance(time.Minute)
	s.settle(t)

	assert.Equal(t, domain.StatusPaid, s.order(t).Status)
	assert.Equal(t, 8, s.catalog.Available("7"))
	instance, err = s.saga.Load(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, instance.Completed)
	assert.True(t, instance.State.GracePeriodElapsed)
	assert.Equal(t, 0, s.outbox.Count())
}

func TestScenario_DuplicateCheckoutCreatesOneOrder(t *testing.T) {
	s := newSystem(t, true)

	s.checkout(t, "req-1", 2)
	s.checkout(t, "req-1", 2)
	s.settle(t)

	assert.Equal(t, 1, s.orders.Count())
	s.advance(5 * time.Minute)
	s.settle(t)
	assert.Equal(t, domain.StatusPaid, s.order(t).Status)
	assert.Equal(t, 8, s.catalog.Available("7"), "stock is decremented once")
}

func TestScenario_OutOfStockOrderIsCancelled(t *testing.T) {
	s := newSystem(t, true)

	s.checkout(t, "req-1", 11)
	s.settle(t)

	order := s.order(t)
	assert.Equal(t, domain.StatusCancelled, order.Status)
	assert.Equal(t, []string{"7"}, order.RejectedProductIDs)

	// таймаут после отказа ничего не меняет
	s.advance(5 * time.Minute)
	s.settle(t)
	assert.Equal(t, domain.StatusCancelled, s.order(t).Status)
	assert.Equal(t, 10, s.catalog.Available("7"))
}

func TestScenario_FailedPaymentCancelsOrder(t *testing.T) {
	s := newSystem(t, false)

	s.checkout(t, "req-1", 2)
	s.settle(t)
	s.advance(5 * time.Minute)
	s.settle(t)

	assert.Equal(t, domain.StatusCancelled, s.order(t).Status)
	assert.Equal(t, 10, s.catalog.Available("7"))
}

func TestScenario_SweeperConfirmsWhenTimeoutIsLost(t *testing.T) {
	s := newSystem(t, true)

	s.checkout(t, "req-1", 2)
	s.settle(t)

	// таймаут потерян: удаляем его из очереди
	pending, err := s.outbox.Pending(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventGracePeriodExpired, pending[0].EventType)
	require.NoError(t, s.outbox.Complete(context.Background(), pending[0].ID))

	s.advance(6 * time.Minute)
	s.settle(t)
	assert.Equal(t, domain.StatusSubmitted, s.order(t).Status)

	n, err := s.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.settle(t)

	assert.Equal(t, domain.StatusPaid, s.order(t).Status)

	n, err = s.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
