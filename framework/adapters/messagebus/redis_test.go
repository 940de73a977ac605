package messagebus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/ordering/framework/transport"
)

func newTestRedisAdapter(t *testing.T) (*RedisAdapter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.BlockTimeout = 50 * time.Millisecond
	cfg.ClaimMinIdle = 0
	cfg.EnableMetrics = false

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	adapter := NewRedisAdapterFromClient(cfg, client)
	require.NoError(t, adapter.Start(context.Background()))
	t.Cleanup(func() {
		_ = adapter.Stop(context.Background())
	})
	return adapter, mr
}

func TestRedisAdapter_PublishSubscribe(t *testing.T) {
	adapter, _ := newTestRedisAdapter(t)
	ctx := context.Background()

	received := make(chan *transport.Message, 1)
	require.NoError(t, adapter.Subscribe(ctx, "ordering.OrderStarted", func(ctx context.Context, msg *transport.Message) error {
		received <- msg
		return nil
	}, transport.WithQueue("grace-period-saga")))

	require.NoError(t, adapter.Publish(ctx, "ordering.OrderStarted", []byte(`{"order_id":"42"}`), map[string]string{
		transport.HeaderEventType: "OrderStarted",
	}))

	select {
	case msg := <-received:
		assert.Equal(t, `{"order_id":"42"}`, string(msg.Data))
		assert.Equal(t, "OrderStarted", msg.Header(transport.HeaderEventType))
		assert.Equal(t, "1", msg.Header(transport.HeaderAttempt))
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestRedisAdapter_FailedMessageStaysPending(t *testing.T) {
	adapter, _ := newTestRedisAdapter(t)
	ctx := context.Background()

	var calls int32
	require.NoError(t, adapter.Subscribe(ctx, "ordering.PaymentFailed", func(ctx context.Context, msg *transport.Message) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("store unavailable")
	}, transport.WithQueue("orders")))

	require.NoError(t, adapter.Publish(ctx, "ordering.PaymentFailed", []byte("{}"), nil))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	pending, err := adapter.client.XPending(ctx, adapter.getStreamName("ordering.PaymentFailed"), "orders").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestRedisConfig_Validate(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.NoError(t, cfg.Validate())

	cfg.StreamName = ""
	assert.Error(t, cfg.Validate())
}
