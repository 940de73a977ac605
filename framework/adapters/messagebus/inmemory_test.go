package messagebus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/akriventsev/ordering/framework/transport"
)

func fastPolicy(attempts int) transport.MessageHandlerOption {
	return transport.WithRetryPolicy(&transport.ExponentialBackoffRetryPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
		MaxAttempts:  attempts,
	})
}

func TestInMemoryAdapter_FanOutWithoutQueue(t *testing.T) {
	bus := NewInMemoryAdapter(InMemoryConfig{EnableOrdering: true})
	ctx := context.Background()

	var first, second int32
	require.NoError(t, bus.Subscribe(ctx, "orders.created", func(ctx context.Context, msg *transport.Message) error {
		atomic.AddInt32(&first, 1)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "orders.created", func(ctx context.Context, msg *transport.Message) error {
		atomic.AddInt32(&second, 1)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "orders.created", []byte("{}"), nil))

	assert.Equal(t, int32(1), first)
	assert.Equal(t, int32(1), second)
}

func TestInMemoryAdapter_QueueGroupDeliversOnce(t *testing.T) {
	bus := NewInMemoryAdapter(InMemoryConfig{EnableOrdering: true})
	ctx := context.Background()

	var total int32
	handler := func(ctx context.Context, msg *transport.Message) error {
		atomic.AddInt32(&total, 1)
		return nil
	}
	require.NoError(t, bus.Subscribe(ctx, "orders.created", handler, transport.WithQueue("saga")))
	require.NoError(t, bus.Subscribe(ctx, "orders.created", handler, transport.WithQueue("saga")))

	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(ctx, "orders.created", nil, nil))
	}

	assert.Equal(t, int32(4), total)
}

func TestInMemoryAdapter_RedeliversOnError(t *testing.T) {
	bus := NewInMemoryAdapter(InMemoryConfig{EnableOrdering: true})
	ctx := context.Background()

	var attempts []string
	require.NoError(t, bus.Subscribe(ctx, "orders.paid", func(ctx context.Context, msg *transport.Message) error {
		attempts = append(attempts, msg.Header(transport.HeaderAttempt))
		if len(attempts) < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastPolicy(5)))

	require.NoError(t, bus.Publish(ctx, "orders.paid", nil, map[string]string{"k": "v"}))
	assert.Equal(t, []string{"1", "2", "3"}, attempts)
}

func TestInMemoryAdapter_SyncPublishReturnsExhaustedError(t *testing.T) {
	bus := NewInMemoryAdapter(InMemoryConfig{EnableOrdering: true})
	ctx := context.Background()

	var calls int32
	require.NoError(t, bus.Subscribe(ctx, "orders.paid", func(ctx context.Context, msg *transport.Message) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("down")
	}, fastPolicy(2)))

	err := bus.Publish(ctx, "orders.paid", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls)
}

func TestInMemoryAdapter_AsyncDeliveryAndStop(t *testing.T) {
	bus := NewInMemoryAdapter(DefaultInMemoryConfig())
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, bus.Subscribe(ctx, "ordering.>", func(ctx context.Context, msg *transport.Message) error {
		defer wg.Done()
		assert.Equal(t, "ordering.OrderStarted", msg.Subject)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "ordering.OrderStarted", nil, nil))
	wg.Wait()

	require.NoError(t, bus.Stop(ctx))
	assert.False(t, bus.IsRunning())
}

func TestInMemoryAdapter_AsyncDeliveryFailureIsLogged(t *testing.T) {
	observed, logs := observer.New(zap.ErrorLevel)
	bus := NewInMemoryAdapter(DefaultInMemoryConfig(), WithInMemoryLogger(zap.New(observed)))
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	require.NoError(t, bus.Subscribe(ctx, "ordering.OrderStarted", func(ctx context.Context, msg *transport.Message) error {
		return errors.New("handler failed")
	}, fastPolicy(2)))

	require.NoError(t, bus.Publish(ctx, "ordering.OrderStarted", nil, nil))
	require.NoError(t, bus.Stop(ctx))

	entries := logs.FilterMessage("async delivery failed, message dropped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ordering.OrderStarted", entries[0].ContextMap()["subject"])
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		subject string
		pattern string
		want    bool
	}{
		{"ordering.OrderStarted", "ordering.OrderStarted", true},
		{"ordering.OrderStarted", "ordering.*", true},
		{"ordering.OrderStarted", "ordering.>", true},
		{"ordering", "ordering.>", false},
		{"ordering.a.b", "ordering.*", false},
		{"ordering.a.b", "ordering.>", true},
		{"catalog.x", "ordering.*", false},
	}

	for _, tt := range tests {
		t.Run(tt.subject+"~"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubject(tt.subject, tt.pattern))
		})
	}
}

func TestMessageBusFactory(t *testing.T) {
	factory := NewMessageBusFactory()

	assert.Equal(t, []string{"inmemory", "kafka", "nats", "rabbitmq", "redis"}, factory.ListRegistered())

	adapter, err := factory.Create("inmemory", nil)
	require.NoError(t, err)
	assert.Equal(t, "inmemory-adapter", adapter.Name())

	_, err = factory.Create("nats", "nats://localhost:4222")
	assert.Error(t, err)

	_, err = factory.Create("unknown", nil)
	assert.Error(t, err)

	_, err = factory.Create("rabbitmq", RabbitMQConfig{URL: "http://wrong"})
	assert.Error(t, err)
}
