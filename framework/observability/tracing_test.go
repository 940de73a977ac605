package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/akriventsev/ordering/framework/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordSpans подменяет глобальный провайдер на записывающий
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
	return recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTraceCommand_RecordsRequestAndOrder(t *testing.T) {
	recorder := recordSpans(t)

	err := TraceCommand(context.Background(), "CreateOrder", "req-1", func(ctx context.Context) error {
		AnnotateOrder(ctx, "order-1")
		return nil
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "command.CreateOrder", spans[0].Name())
	a := attrs(spans[0])
	assert.Equal(t, "req-1", a[AttrRequestID].AsString())
	assert.Equal(t, "order-1", a[AttrOrderID].AsString())
	assert.True(t, a["command.success"].AsBool())
}

func TestTraceCommand_WithoutRequestIDAndFailure(t *testing.T) {
	recorder := recordSpans(t)

	boom := errors.New("boom")
	err := TraceCommand(context.Background(), "CancelOrder", "", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	a := attrs(spans[0])
	_, ok := a[AttrRequestID]
	assert.False(t, ok)
	assert.False(t, a["command.success"].AsBool())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTraceQuery_ReturnsTypedResult(t *testing.T) {
	recorder := recordSpans(t)

	got, err := TraceQuery(context.Background(), "GetOrder", "order-7", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "order-7", attrs(spans[0])[AttrOrderID].AsString())
}

func TestTraceEvent_ContinuesPublisherTraceAndCarriesOrderID(t *testing.T) {
	recorder := recordSpans(t)

	// публикация внутри спана команды записывает traceparent в заголовки
	headers := map[string]string{
		transport.HeaderEventID:       "evt-1",
		transport.HeaderCorrelationID: "order-1",
		transport.HeaderAttempt:       "2",
	}
	ctx, parent := otel.Tracer("test").Start(context.Background(), "publish")
	InjectMessageHeaders(ctx, headers)
	parent.End()

	var correlationID string
	err := TraceEvent(context.Background(), "GracePeriodConfirmed", "order-handlers", headers, func(ctx context.Context) error {
		correlationID = ExtractCorrelationID(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", correlationID)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	span := spans[1]
	assert.Equal(t, "event.GracePeriodConfirmed", span.Name())
	assert.Equal(t, parent.SpanContext().TraceID(), span.SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), span.Parent().SpanID())

	a := attrs(span)
	assert.Equal(t, "order-1", a[AttrOrderID].AsString())
	assert.Equal(t, "evt-1", a["event.id"].AsString())
	assert.Equal(t, "2", a["event.attempt"].AsString())
	assert.Equal(t, "order-handlers", a["event.handler"].AsString())
}

func TestHTTPTracingMiddleware_NamesSpanByRoute(t *testing.T) {
	recorder := recordSpans(t)

	router := gin.New()
	router.Use(CorrelationIDMiddleware(), HTTPTracingMiddleware("ordering"))
	router.PUT("/api/v1/orders/:id/cancel", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/42/cancel", nil)
	req.Header.Set(requestIDHeader, "req-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(correlationIDKey))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "PUT /api/v1/orders/:id/cancel", spans[0].Name())
	a := attrs(spans[0])
	assert.Equal(t, "req-9", a[AttrRequestID].AsString())
	assert.Equal(t, int64(http.StatusOK), a["http.status_code"].AsInt64())
}

func TestCorrelationIDMiddleware_KeepsClientValue(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationIDMiddleware())
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = ExtractCorrelationID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(correlationIDKey, "client-corr")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "client-corr", seen)
	assert.Equal(t, "client-corr", rec.Header().Get(correlationIDKey))
}
