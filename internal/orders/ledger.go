package orders

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Ledger owns the order state machine. Every accepted transition appends one
// statusHistory entry and one system message in the same transaction.
type Ledger struct {
	d     Deps
	cache StatusCache
}

func NewLedger(d Deps) *Ledger {
	return &Ledger{d: d.withDefaults("order-ledger")}
}

type ListScope string

const (
	ScopeActive    ListScope = "active"
	ScopeCompleted ListScope = "completed"
	ScopeCancelled ListScope = "cancelled"
	ScopeAll       ListScope = "all"
)

// Get returns the order if actor is its buyer or seller.
func (l *Ledger) Get(ctx context.Context, actor Actor, id string) (*Order, error) {
	o, err := l.d.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Party(actor) {
		return nil, ErrForbidden
	}
	return o, nil
}

// SellerStats returns the completion counters of the calling seller.
func (l *Ledger) SellerStats(ctx context.Context, actor Actor) (*SellerStats, error) {
	if actor.Type != PartySeller || actor.ID == "" {
		return nil, ErrForbidden
	}
	return l.d.Store.GetSellerStats(ctx, actor.ID)
}

// UseStatusCache puts c in front of the store for Status lookups.
func (l *Ledger) UseStatusCache(c StatusCache) { l.cache = c }

// Status returns the order's current status, from the cache when possible.
func (l *Ledger) Status(ctx context.Context, actor Actor, id string) (*StatusSnapshot, error) {
	if l.cache != nil {
		st, ok, err := l.cache.Get(ctx, id)
		if err != nil {
			l.d.Log.Warn("status cache read failed", "order_id", id, "error", err.Error())
		}
		if ok {
			if !st.party(actor) {
				return nil, ErrForbidden
			}
			return &st, nil
		}
	}
	o, err := l.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	l.remember(ctx, o)
	st := snapshotOf(o)
	return &st, nil
}

func (l *Ledger) remember(ctx context.Context, o *Order) { rememberStatus(ctx, l.d, l.cache, o) }

func rememberStatus(ctx context.Context, d Deps, c StatusCache, o *Order) {
	if c == nil {
		return
	}
	if err := c.Set(ctx, snapshotOf(o)); err != nil {
		d.Log.Warn("status cache write failed", "order_id", o.ID, "error", err.Error())
	}
}

// List returns the actor's orders in scope, newest first.
func (l *Ledger) List(ctx context.Context, actor Actor, scope ListScope) ([]*Order, error) {
	f := OrderFilter{Limit: 100}
	switch actor.Type {
	case PartyBuyer:
		f.BuyerID = actor.ID
	case PartySeller:
		f.SellerID = actor.ID
	default:
		return nil, ErrForbidden
	}
	switch scope {
	case ScopeActive, "":
		f.Statuses = ActiveStatuses
	case ScopeCompleted:
		f.Statuses = []Status{StatusCompleted}
	case ScopeCancelled:
		f.Statuses = []Status{StatusCancelled}
	case ScopeAll:
	default:
		return nil, invalid("unknown scope %q", scope)
	}
	return l.d.Store.ListOrders(ctx, f)
}

// Transition moves the order to status to. Only the seller drives the forward
// path; completion is reachable only through the Verifier.
func (l *Ledger) Transition(ctx context.Context, actor Actor, id string, to Status, note string) (*Order, error) {
	if !to.Valid() {
		return nil, invalid("unknown status %q", to)
	}
	if to == StatusCancelled {
		return l.Cancel(ctx, actor, id, note)
	}
	note = strings.TrimSpace(note)

	var (
		out  *Order
		from Status
		msg  *Message
		at   = l.d.Now()
	)
	err := withTx(ctx, l.d.Store, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !o.Party(actor) {
			return ErrForbidden
		}
		if to == StatusCompleted {
			return stateErr(ErrInvalidTransition, o.Status)
		}
		if sellerDriven(to) && actor.Type != PartySeller {
			return ErrForbidden
		}
		from = o.Status
		histNote := note
		if histNote == "" {
			histNote = "Status updated by seller"
		}
		if err := applyTransition(o, to, histNote, at); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		msg, err = l.systemMessage(ctx, tx, o, statusText(to, note))
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.afterTransition(ctx, out, from, actor, note, EventOrderStatusChanged, msg)
	return out, nil
}

// Cancel moves the order to cancelled on behalf of either party and releases
// its stock reservation.
func (l *Ledger) Cancel(ctx context.Context, actor Actor, id, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return nil, invalid("reason too long")
	}

	var (
		out  *Order
		from Status
		msg  *Message
		at   = l.d.Now()
	)
	err := withTx(ctx, l.d.Store, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !o.Party(actor) {
			return ErrForbidden
		}
		from = o.Status
		note := fmt.Sprintf("Cancelled by %s", actor.Type)
		if reason != "" {
			note += ": " + reason
		}
		if err := applyTransition(o, StatusCancelled, note, at); err != nil {
			return err
		}
		o.Cancellation = &Cancellation{Reason: reason, PartyType: actor.Type, PartyID: actor.ID, At: at}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		r, ok, err := tx.MoveReservation(ctx, o.ID, ReservationHeld, ReservationReleased)
		if err != nil {
			return err
		}
		if ok {
			if err := tx.AdjustStock(ctx, r.ProductID, r.Qty); err != nil {
				return err
			}
		}

		text := fmt.Sprintf("Order cancelled by the %s.", actor.Type)
		if reason != "" {
			text += " Reason: " + reason
		}
		msg, err = l.systemMessage(ctx, tx, o, text)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.afterTransition(ctx, out, from, actor, reason, EventOrderCancelled, msg)
	return out, nil
}

func (l *Ledger) systemMessage(ctx context.Context, tx Tx, o *Order, text string) (*Message, error) {
	if l.d.Rooms == nil || o.ChatRoomID == "" {
		return nil, nil
	}
	return l.d.Rooms.AppendSystem(ctx, tx, o.ChatRoomID, text)
}

func (l *Ledger) afterTransition(ctx context.Context, o *Order, from Status, actor Actor, note, event string, msg *Message) {
	if msg != nil && l.d.Rooms != nil {
		l.d.Rooms.Announce(ctx, msg)
	}
	l.d.Metrics.Transition(string(o.Status))
	l.remember(ctx, o)
	l.d.Events.Publish(ctx, event, o.ID, OrderStatusChangedPayload{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		SellerID:  o.SellerID,
		From:      from,
		To:        o.Status,
		Note:      note,
		ActorType: actor.Type,
		ActorID:   actor.ID,
		At:        o.UpdatedAt,
	})
	l.d.Log.Info("order status changed",
		"order_id", o.ID,
		"from", from,
		"to", o.Status,
		"actor_type", actor.Type,
	)
}

// applyTransition validates from->to against the adjacency table and appends
// the history entry. Timestamps never go backwards within one history.
func applyTransition(o *Order, to Status, note string, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return stateErr(ErrInvalidTransition, o.Status)
	}
	if n := len(o.History); n > 0 && at.Before(o.History[n-1].Timestamp) {
		at = o.History[n-1].Timestamp
	}
	o.Status = to
	o.History = append(o.History, StatusEntry{Status: to, Timestamp: at, Note: note})
	o.UpdatedAt = at
	return nil
}

func statusText(to Status, note string) string {
	s := "Order status updated to: " + string(to)
	if note != "" {
		s += " - " + note
	}
	return s
}
