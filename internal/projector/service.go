// Package projector folds the order event stream into read-side state.
package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/loceal-orders/internal/kafka"
	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// Deduper remembers processed event ids.
type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Service struct {
	Dedup  Deduper
	Status orders.StatusCache
	Log    *slog.Logger
}

func NewService(d Deduper, cache orders.StatusCache) *Service {
	return &Service{Dedup: d, Status: cache, Log: logx.New("projector")}
}

// HandleOrderEvent dipasang sebagai handler consumer.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and commit past it
		s.Log.Error("drop undecodable event", "offset", m.Offset, "error", err.Error())
		return nil
	}

	// 2) dedup via Redis (pakai event_id)
	first, err := s.Dedup.First(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	// 3) apply; on failure forget the id so the redelivery is processed
	if err := s.apply(ctx, env); err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.Log.Warn("dedup forget failed", "event_id", env.EventID, "error", ferr.Error())
		}
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return s.skip(env, err)
		}
		s.Log.Info("order created", "order_id", p.OrderID, "order_number", p.OrderNumber)
		return s.Status.Set(ctx, orders.StatusSnapshot{
			OrderID:   p.OrderID,
			BuyerID:   p.BuyerID,
			SellerID:  p.SellerID,
			Status:    orders.StatusPending,
			UpdatedAt: p.CreatedAt,
		})
	case orders.EventOrderStatusChanged, orders.EventOrderCancelled, orders.EventOrderCompleted:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return s.skip(env, err)
		}
		s.Log.Info("order status projected", "order_id", p.OrderID, "from", p.From, "to", p.To, "event_type", env.EventType)
		return s.Status.Set(ctx, orders.StatusSnapshot{
			OrderID:   p.OrderID,
			BuyerID:   p.BuyerID,
			SellerID:  p.SellerID,
			Status:    p.To,
			UpdatedAt: p.At,
		})
	case orders.EventVerificationRequested:
		p, err := kafkax.UnwrapPayload[orders.VerificationRequestedPayload](env.Payload)
		if err != nil {
			return s.skip(env, err)
		}
		if !p.Delivered {
			s.Log.Warn("verification code was not delivered", "order_id", p.OrderID)
		}
		return nil
	}
	return nil // ignore
}

func (s *Service) skip(env orders.Envelope, err error) error {
	s.Log.Error("drop event with bad payload", "event_id", env.EventID, "event_type", env.EventType, "error", err.Error())
	return nil
}
