package domain

import (
	"encoding/json"
	"fmt"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/events"
)

// EventCodec кодирует события сервиса заказов в JSON.
// Decode знает только закрытый набор вариантов, остальные типы дают ErrUnknownEvent.
type EventCodec struct{}

// Encode сериализует событие
func (EventCodec) Encode(event events.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event.EventType(), err)
	}
	return data, nil
}

// Decode восстанавливает вариант события по его типу
func (EventCodec) Decode(eventType string, data []byte) (events.Event, error) {
	var event events.Event
	switch eventType {
	case EventUserCheckoutAccepted:
		event = &UserCheckoutAccepted{}
	case EventOrderStarted:
		event = &OrderStarted{}
	case EventOrderStatusChangedToAwaitingValidation:
		event = &OrderStatusChangedToAwaitingValidation{}
	case EventOrderStockConfirmed:
		event = &OrderStockConfirmed{}
	case EventOrderStockRejected:
		event = &OrderStockRejected{}
	case EventGracePeriodExpired:
		event = &GracePeriodExpired{}
	case EventGracePeriodConfirmed:
		event = &GracePeriodConfirmed{}
	case EventOrderStatusChangedToStockConfirmed:
		event = &OrderStatusChangedToStockConfirmed{}
	case EventOrderPaymentSucceeded:
		event = &OrderPaymentSucceeded{}
	case EventOrderPaymentFailed:
		event = &OrderPaymentFailed{}
	case EventOrderStatusChangedToPaid:
		event = &OrderStatusChangedToPaid{}
	case EventOrderStatusChangedToShipped:
		event = &OrderStatusChangedToShipped{}
	case EventOrderCancelled:
		event = &OrderCancelled{}
	default:
		return nil, core.NewError(core.ErrUnknownEvent, fmt.Sprintf("unknown event type %q", eventType))
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
	}
	if event.EventType() != eventType {
		return nil, fmt.Errorf("event type mismatch: header %s, payload %s", eventType, event.EventType())
	}
	return event, nil
}
