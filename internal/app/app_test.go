package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.HTTP.Address = "127.0.0.1:0"
	cfg.GRPC.Address = "127.0.0.1:0"
	// prometheus registry глобальный, повторная регистрация в одном процессе запрещена
	cfg.Metrics.Enabled = false
	cfg.Ordering.GracePeriod = 50 * time.Millisecond
	cfg.Ordering.Stock = map[string]int{"7": 10}
	cfg.Poller.Interval = 10 * time.Millisecond
	cfg.Sweeper.Interval = 20 * time.Millisecond
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func createOrder(t *testing.T, base, requestID string, units int) string {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"buyer_id":       "buyer-1",
		"card_reference": "card-1",
		"address":        map[string]string{"street": "1 Main St", "city": "Springfield", "country": "US"},
		"items": []map[string]interface{}{
			{"product_id": "7", "product_name": "Mug", "unit_price": 12.5, "units": units},
		},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, base+"/api/v1/orders", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-requestid", requestID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		OrderID string `json:"order_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotEmpty(t, result.OrderID)
	return result.OrderID
}

// orderStatus вызывается из assert.Eventually, поэтому ошибки возвращаются пустым статусом
func orderStatus(base, orderID string) string {
	resp, err := http.Get(base + "/api/v1/orders/" + orderID)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var view struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return ""
	}
	return view.Status
}

func TestApp_OrderIsPaidAfterGracePeriod(t *testing.T) {
	a := startApp(t, testConfig())
	base := "http://" + a.HTTPAddr()

	orderID := createOrder(t, base, "req-1", 2)
	assert.Equal(t, orderID, createOrder(t, base, "req-1", 2), "replayed request returns the same order")

	assert.Eventually(t, func() bool {
		return orderStatus(base, orderID) == "paid"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return a.Catalog.Available("7") == 8
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, a.GRPCAddr())
}

func TestApp_OutOfStockOrderIsCancelled(t *testing.T) {
	a := startApp(t, testConfig())
	base := "http://" + a.HTTPAddr()

	orderID := createOrder(t, base, "req-1", 11)
	assert.Eventually(t, func() bool {
		return orderStatus(base, orderID) == "cancelled"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 10, a.Catalog.Available("7"))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Bus.Driver = "sqs"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
