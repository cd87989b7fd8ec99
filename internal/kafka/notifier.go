package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// Notification is the record a mail worker consumes from the notify topic.
type Notification struct {
	PartyID string            `json:"party_id"`
	Subject string            `json:"subject"`
	Data    map[string]string `json:"data"`
	SentAt  time.Time         `json:"sent_at"`
}

// messageWriter is the slice of *kafka.Writer the notifier needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier writes synchronously so the caller learns whether the hand-off
// succeeded.
type Notifier struct {
	w       messageWriter
	timeout time.Duration
}

func NewNotifier(brokers []string, topic string) *Notifier {
	return &Notifier{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		timeout: 5 * time.Second,
	}
}

var _ orders.Notifier = (*Notifier)(nil)

func (n *Notifier) Send(ctx context.Context, partyID, subject string, data map[string]string) error {
	b, err := json.Marshal(Notification{PartyID: partyID, Subject: subject, Data: data, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.w.WriteMessages(ctx, kafka.Message{Key: []byte(partyID), Value: b})
}

func (n *Notifier) Close() error { return n.w.Close() }
