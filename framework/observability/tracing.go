// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/akriventsev/ordering/framework/transport"
)

const (
	correlationIDKey = "X-Correlation-ID"
	requestIDHeader  = "x-requestid"
)

// Атрибуты спанов сервиса заказов
const (
	AttrOrderID   = attribute.Key("ordering.order_id")
	AttrRequestID = attribute.Key("ordering.request_id")
)

// TracingConfig конфигурация для distributed tracing
type TracingConfig struct {
	Enabled          bool
	ServiceName      string
	ServiceVersion   string
	Exporter         string // "jaeger", "zipkin", "otlp", "stdout"
	ExporterEndpoint string
	SamplingRate     float64 // 0.0 - 1.0
	Environment      string  // "development", "staging", "production"
}

// TracingManager менеджер для distributed tracing
type TracingManager struct {
	config   TracingConfig
	provider *sdktrace.TracerProvider
	exporter sdktrace.SpanExporter
	running  bool
	mu       sync.RWMutex
}

// NewTracingManager создает новый TracingManager
func NewTracingManager(config TracingConfig) (*TracingManager, error) {
	if !config.Enabled {
		return &TracingManager{config: config}, nil
	}

	// Создание resource attributes
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Создание exporter
	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	// Настройка sampler
	sampler := sdktrace.TraceIDRatioBased(config.SamplingRate)
	if config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if config.SamplingRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	}

	// Создание trace provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Регистрация global trace provider
	otel.SetTracerProvider(tp)

	// Настройка propagation
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingManager{
		config:   config,
		provider: tp,
		exporter: exporter,
		running:  false,
	}, nil
}

// createExporter создает exporter на основе конфигурации
func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.ExporterEndpoint)))
	case "zipkin":
		return zipkin.New(config.ExporterEndpoint)
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(config.ExporterEndpoint),
			otlptracehttp.WithInsecure(),
		)
		return otlptrace.New(context.Background(), client)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// Start запускает tracing (lifecycle)
func (tm *TracingManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = true
	tm.mu.Unlock()
	return nil
}

// Stop останавливает tracing с graceful shutdown
func (tm *TracingManager) Stop(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = false
	tm.mu.Unlock()

	if tm.provider != nil {
		return tm.provider.Shutdown(ctx)
	}
	return nil
}

// IsRunning проверяет статус
func (tm *TracingManager) IsRunning() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running
}

// Name возвращает имя компонента
func (tm *TracingManager) Name() string {
	return "tracing"
}

// InjectMessageHeaders записывает trace context в заголовки сообщения шины
func InjectMessageHeaders(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// extractMessageHeaders восстанавливает trace context из заголовков сообщения шины
func extractMessageHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// HTTPTracingMiddleware открывает серверный спан на каждый HTTP-запрос.
// Имя спана строится по маршруту gin, а не по пути, чтобы идентификаторы заказов
// не размножали имена. Ключ идемпотентности из заголовка x-requestid пишется в атрибуты.
func HTTPTracingMiddleware(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		)
		if requestID := c.GetHeader(requestIDHeader); requestID != "" {
			span.SetAttributes(AttrRequestID.String(requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		code := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", code))
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
		if code >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", code))
		}

		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))
	}
}

// GRPCTracingInterceptor открывает серверный спан на каждый unary-вызов
func GRPCTracingInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer("ordering.grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = otel.GetTextMapPropagator().Extract(ctx, metadataTextMapCarrier(md))
		}

		ctx, span := tracer.Start(ctx, info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		// FullMethod имеет вид /package.Service/Method
		service, method, _ := strings.Cut(strings.TrimPrefix(info.FullMethod, "/"), "/")
		span.SetAttributes(
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)

		resp, err := handler(ctx, req)
		span.SetAttributes(attribute.String("rpc.grpc.status_code", status.Code(err).String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return resp, err
	}
}

// metadataTextMapCarrier адаптер для propagation через gRPC metadata
type metadataTextMapCarrier metadata.MD

func (m metadataTextMapCarrier) Get(key string) string {
	values := metadata.MD(m).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (m metadataTextMapCarrier) Set(key, value string) {
	metadata.MD(m).Set(key, value)
}

func (m metadataTextMapCarrier) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// ExtractCorrelationID возвращает correlation ID из baggage контекста.
// Без него используется trace ID текущего спана.
func ExtractCorrelationID(ctx context.Context) string {
	if member := baggage.FromContext(ctx).Member(correlationIDKey); member.Value() != "" {
		return member.Value()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// withCorrelationID кладет correlation ID в baggage контекста.
// Значение, недопустимое для baggage, пропускается.
func withCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	member, err := baggage.NewMember(correlationIDKey, correlationID)
	if err != nil {
		return ctx
	}
	b, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, b)
}

// CorrelationIDMiddleware принимает X-Correlation-ID клиента или выдает новый
// и возвращает его в заголовке ответа
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(correlationIDKey)
		if correlationID == "" {
			if sc := trace.SpanContextFromContext(c.Request.Context()); sc.TraceID().IsValid() {
				correlationID = sc.TraceID().String()
			} else {
				correlationID = uuid.NewString()
			}
		}

		c.Request = c.Request.WithContext(withCorrelationID(c.Request.Context(), correlationID))
		c.Writer.Header().Set(correlationIDKey, correlationID)
		c.Next()
	}
}

// TraceCommand открывает спан команды. Непустой requestID (ключ идемпотентности)
// записывается в атрибуты спана.
func TraceCommand(ctx context.Context, commandName, requestID string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("ordering.command").Start(ctx, "command."+commandName)
	defer span.End()

	span.SetAttributes(attribute.String("command.name", commandName))
	if requestID != "" {
		span.SetAttributes(AttrRequestID.String(requestID))
	}

	err := fn(ctx)
	finishSpan(span, "command.success", err)
	return err
}

// TraceQuery открывает спан запроса к заказу orderID
func TraceQuery[T any](ctx context.Context, queryName, orderID string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := otel.Tracer("ordering.query").Start(ctx, "query."+queryName)
	defer span.End()

	span.SetAttributes(attribute.String("query.name", queryName), AttrOrderID.String(orderID))

	result, err := fn(ctx)
	finishSpan(span, "query.success", err)
	return result, err
}

// TraceEvent открывает спан обработки события шины как продолжение trace context
// из заголовков сообщения. Correlation ID сообщения (идентификатор заказа) попадает
// в атрибуты спана и в контекст обработчика, откуда его берет LoggerWithTrace.
func TraceEvent(ctx context.Context, eventType, handler string, headers map[string]string, fn func(context.Context) error) error {
	ctx = extractMessageHeaders(ctx, headers)
	ctx, span := otel.Tracer("ordering.event").Start(ctx, "event."+eventType,
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("event.type", eventType),
		attribute.String("event.handler", handler),
	)
	if id := headers[transport.HeaderEventID]; id != "" {
		span.SetAttributes(attribute.String("event.id", id))
	}
	if attempt := headers[transport.HeaderAttempt]; attempt != "" {
		span.SetAttributes(attribute.String("event.attempt", attempt))
	}
	if orderID := headers[transport.HeaderCorrelationID]; orderID != "" {
		span.SetAttributes(AttrOrderID.String(orderID))
		ctx = withCorrelationID(ctx, orderID)
	}

	err := fn(ctx)
	finishSpan(span, "event.success", err)
	return err
}

// AnnotateOrder помечает текущий спан идентификатором заказа.
// Нужен там, где заказ появляется внутри спана, например при создании.
func AnnotateOrder(ctx context.Context, orderID string) {
	trace.SpanFromContext(ctx).SetAttributes(AttrOrderID.String(orderID))
}

func finishSpan(span trace.Span, successKey string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool(successKey, err == nil))
}
