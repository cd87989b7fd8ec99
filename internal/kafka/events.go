package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

const eventVersion = 1

// EventPublisher wraps lifecycle events in an orders.Envelope keyed by order id.
type EventPublisher struct {
	p       *Producer
	service string
	log     *slog.Logger
	now     func() time.Time
}

func NewEventPublisher(p *Producer, service string) *EventPublisher {
	return &EventPublisher{p: p, service: service, log: logx.New("events"), now: time.Now}
}

var _ orders.EventPublisher = (*EventPublisher)(nil)

func (e *EventPublisher) Publish(ctx context.Context, eventType, orderID string, payload any) {
	env, err := NewEnvelope(e.service, eventType, orderID, payload, e.now())
	if err != nil {
		e.log.Error("encode event", "event_type", eventType, "order_id", orderID, "error", err.Error())
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		e.log.Error("encode envelope", "event_type", eventType, "order_id", orderID, "error", err.Error())
		return
	}
	ok := e.p.Publish(ctx, orders.PartitionKey(orderID), b,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
	if !ok {
		e.log.Warn("event dropped", "event_type", eventType, "order_id", orderID, "event_id", env.EventID)
	}
}

func NewEnvelope(service, eventType, orderID string, payload any, at time.Time) (orders.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return orders.Envelope{}, err
	}
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    at.UTC(),
		Producer:      service,
		CorrelationID: orderID,
		Payload:       raw,
	}, nil
}
