// Package metrics предоставляет метрики OpenTelemetry для команд, событий, транспорта и фоновых процессов.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик сервиса.
// Методы безопасно вызывать на nil получателе.
type Metrics struct {
	meter            metric.Meter
	commandsTotal    metric.Int64Counter
	commandDuration  metric.Float64Histogram
	activeCommands   metric.Int64UpDownCounter
	eventsPublished  metric.Int64Counter
	eventsHandled    metric.Int64Counter
	handlerDuration  metric.Float64Histogram
	transportTotal   metric.Int64Counter
	errorsTotal      metric.Int64Counter
	sagaTransitions  metric.Int64Counter
	idempotencyTotal metric.Int64Counter
	scheduledRelayed metric.Int64Counter
	sweeperConfirmed metric.Int64Counter
}

// NewMetrics создает новый сборщик метрик на глобальном MeterProvider
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("ordering")
	m := &Metrics{meter: meter}

	var err error
	if m.commandsTotal, err = meter.Int64Counter(
		"commands_total",
		metric.WithDescription("Total number of commands processed"),
	); err != nil {
		return nil, err
	}
	if m.commandDuration, err = meter.Float64Histogram(
		"command_duration_seconds",
		metric.WithDescription("Command processing duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.activeCommands, err = meter.Int64UpDownCounter(
		"active_commands",
		metric.WithDescription("Number of commands in progress"),
	); err != nil {
		return nil, err
	}
	if m.eventsPublished, err = meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of events published"),
	); err != nil {
		return nil, err
	}
	if m.eventsHandled, err = meter.Int64Counter(
		"events_handled_total",
		metric.WithDescription("Total number of events handled"),
	); err != nil {
		return nil, err
	}
	if m.handlerDuration, err = meter.Float64Histogram(
		"event_handler_duration_seconds",
		metric.WithDescription("Event handler duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.transportTotal, err = meter.Int64Counter(
		"transport_messages_total",
		metric.WithDescription("Total number of messages passed to transports"),
	); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	); err != nil {
		return nil, err
	}
	if m.sagaTransitions, err = meter.Int64Counter(
		"saga_transitions_total",
		metric.WithDescription("Total number of saga steps by outcome"),
	); err != nil {
		return nil, err
	}
	if m.idempotencyTotal, err = meter.Int64Counter(
		"idempotency_requests_total",
		metric.WithDescription("Total number of idempotent requests by outcome"),
	); err != nil {
		return nil, err
	}
	if m.scheduledRelayed, err = meter.Int64Counter(
		"scheduled_messages_relayed_total",
		metric.WithDescription("Total number of scheduled messages relayed to transport"),
	); err != nil {
		return nil, err
	}
	if m.sweeperConfirmed, err = meter.Int64Counter(
		"grace_period_sweeper_confirmed_total",
		metric.WithDescription("Total number of orders confirmed by the grace period sweeper"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCommand записывает метрику команды
func (m *Metrics) RecordCommand(ctx context.Context, commandName string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("command", commandName),
		attribute.Bool("success", success),
	}

	m.commandsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.commandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "command"),
			attribute.String("command", commandName),
		))
	}
}

// IncrementActiveCommands увеличивает счетчик активных команд
func (m *Metrics) IncrementActiveCommands(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeCommands.Add(ctx, 1)
}

// DecrementActiveCommands уменьшает счетчик активных команд
func (m *Metrics) DecrementActiveCommands(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeCommands.Add(ctx, -1)
}

// RecordEventPublished записывает метрику публикации события
func (m *Metrics) RecordEventPublished(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordEventHandled записывает метрику обработки события
func (m *Metrics) RecordEventHandled(ctx context.Context, eventType, handler string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("event", eventType),
		attribute.String("handler", handler),
		attribute.Bool("success", success),
	}

	m.eventsHandled.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.handlerDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "event"),
			attribute.String("handler", handler),
		))
	}
}

// RecordTransport записывает метрику транспорта
func (m *Metrics) RecordTransport(ctx context.Context, transportName string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.transportTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transportName),
		attribute.Bool("success", success),
	))
	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "transport"),
			attribute.String("transport", transportName),
		))
	}
}

// RecordSagaStep записывает исход шага саги
func (m *Metrics) RecordSagaStep(ctx context.Context, sagaType, outcome string) {
	if m == nil {
		return
	}
	m.sagaTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga", sagaType),
		attribute.String("outcome", outcome),
	))
}

// RecordIdempotency записывает исход идемпотентного запроса (executed, replayed, awaited, in_progress)
func (m *Metrics) RecordIdempotency(ctx context.Context, command, outcome string) {
	if m == nil {
		return
	}
	m.idempotencyTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

// RecordScheduledRelay записывает результат доставки отложенных сообщений
func (m *Metrics) RecordScheduledRelay(ctx context.Context, relayed, failed int) {
	if m == nil {
		return
	}
	if relayed > 0 {
		m.scheduledRelayed.Add(ctx, int64(relayed), metric.WithAttributes(attribute.Bool("success", true)))
	}
	if failed > 0 {
		m.scheduledRelayed.Add(ctx, int64(failed), metric.WithAttributes(attribute.Bool("success", false)))
	}
}

// RecordSweep записывает результат прохода sweeper
func (m *Metrics) RecordSweep(ctx context.Context, confirmed int, success bool) {
	if m == nil {
		return
	}
	if confirmed > 0 {
		m.sweeperConfirmed.Add(ctx, int64(confirmed))
	}
	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", "sweeper")))
	}
}
