package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Адаптеры, у которых не удалось создать инструменты, работают с nil *Metrics
func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordCommand(ctx, "CreateOrder", time.Millisecond, false)
		m.IncrementActiveCommands(ctx)
		m.DecrementActiveCommands(ctx)
		m.RecordEventPublished(ctx, "OrderStarted")
		m.RecordEventHandled(ctx, "OrderStarted", "saga", time.Millisecond, true)
		m.RecordTransport(ctx, "inmemory", time.Millisecond, false)
		m.RecordSagaStep(ctx, "grace-period", "applied")
		m.RecordIdempotency(ctx, "CreateOrder", "replayed")
		m.RecordScheduledRelay(ctx, 1, 1)
		m.RecordSweep(ctx, 2, true)
	})
}

func TestMetrics_RecordsThroughGlobalProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetMeterProvider(prev)
	})

	m, err := NewMetrics()
	require.NoError(t, err)
	m.RecordCommand(context.Background(), "CancelOrder", 5*time.Millisecond, true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := make(map[string]bool)
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			names[metric.Name] = true
		}
	}
	assert.True(t, names["commands_total"])
	assert.True(t, names["command_duration_seconds"])
}
