package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Coordinator converts a single cart line into an Order plus its ChatRoom and
// trims the line from the cart, all in one transaction.
type Coordinator struct {
	d       Deps
	idem    IdempotencyCache
	numbers numberGen
}

func NewCoordinator(d Deps, idem IdempotencyCache) *Coordinator {
	return &Coordinator{d: d.withDefaults("order-coordinator"), idem: idem}
}

type PlaceResult struct {
	Order      *Order    `json:"order"`
	ChatRoom   *ChatRoom `json:"chatRoom"`
	Idempotent bool      `json:"idempotent"`
}

// PlaceOrder converts the buyer's cart line for productID. A retry with the
// same idemKey returns the order created by the first successful attempt.
func (c *Coordinator) PlaceOrder(ctx context.Context, buyer Actor, productID, idemKey string) (*PlaceResult, error) {
	if buyer.Type != PartyBuyer || buyer.ID == "" {
		return nil, ErrForbidden
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, invalid("productId is required")
	}
	idemKey = strings.TrimSpace(idemKey)
	if len(idemKey) > 128 {
		return nil, invalid("idempotency key too long")
	}

	if idemKey != "" {
		if res, err := c.replay(ctx, buyer.ID, idemKey); res != nil || err != nil {
			return res, err
		}
	}

	var (
		order *Order
		room  *ChatRoom
		msg   *Message
		now   = c.d.Now()
	)
	place := func(tx Tx) error {
		lookup := func() error {
			if idemKey == "" {
				return nil
			}
			existing, err := tx.FindOrderByIdempotencyKey(ctx, buyer.ID, idemKey)
			if err == nil {
				order = existing
				return errReplay
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			return nil
		}
		if err := lookup(); err != nil {
			return err
		}

		cart, err := tx.LockCart(ctx, buyer.ID, false)
		if errors.Is(err, ErrNotFound) {
			return ErrCartEmpty
		}
		if err != nil {
			return err
		}
		// a concurrent retry may have committed while this tx waited on the cart lock
		if err := lookup(); err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return ErrCartEmpty
		}
		i, ok := cart.Find(productID)
		if !ok {
			return ErrItemNotInCart
		}
		line := cart.Items[i]
		if line.Quantity < 1 {
			return invalid("cart line quantity must be at least 1")
		}

		p, err := tx.LockProduct(ctx, productID)
		if errors.Is(err, ErrNotFound) {
			return ErrProductUnavailable
		}
		if err != nil {
			return err
		}
		if err := p.Purchasable(line.Quantity); err != nil {
			return err
		}

		key := idemKey
		if key == "" {
			key = fmt.Sprintf("cartline:%s:%d", line.ProductID, line.AddedAt.UnixNano())
		}
		order = &Order{
			ID:          uuid.NewString(),
			OrderNumber: c.numbers.next(now),
			BuyerID:     buyer.ID,
			SellerID:    line.SellerID,
			ProductID:   line.ProductID,
			Snapshot: ProductSnapshot{
				Title:       p.Title,
				Description: p.Description,
				Images:      append([]string(nil), p.Images...),
			},
			Quantity:       line.Quantity,
			PricePerUnit:   line.PriceAtAdd,
			TotalAmount:    line.PriceAtAdd * int64(line.Quantity),
			Status:         StatusPending,
			History:        []StatusEntry{{Status: StatusPending, Timestamp: now, Note: "Order placed from cart"}},
			PaymentStatus:  PaymentCashPending,
			PaymentMethod:  "cash",
			ChatRoomID:     uuid.NewString(),
			IdempotencyKey: key,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		room = &ChatRoom{
			ID:        order.ChatRoomID,
			OrderID:   order.ID,
			BuyerID:   order.BuyerID,
			SellerID:  order.SellerID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertRoom(ctx, room); err != nil {
			return err
		}

		// Stock is held at conversion and released on cancel.
		if err := tx.AdjustStock(ctx, p.ID, -line.Quantity); err != nil {
			return err
		}
		if err := tx.PutReservation(ctx, Reservation{
			OrderID: order.ID, ProductID: p.ID, Qty: line.Quantity, Status: ReservationHeld, CreatedAt: now,
		}); err != nil {
			return err
		}

		cart.Remove(productID)
		cart.UpdatedAt = now
		if err := tx.SaveCart(ctx, cart); err != nil {
			return err
		}

		if c.d.Rooms != nil {
			msg, err = c.d.Rooms.AppendSystem(ctx, tx, room.ID,
				fmt.Sprintf("Order %s placed. Chat with each other here to arrange the meetup.", order.OrderNumber))
			if err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = withTx(ctx, c.d.Store, place)
		if !errors.Is(err, ErrDuplicateOrderNumber) || attempt == maxNumberAttempts {
			break
		}
		// another instance took this number in the same millisecond
		c.d.Log.Warn("order number taken, retrying", "attempt", attempt)
	}
	switch {
	case errors.Is(err, errReplay):
		return c.result(ctx, order, true)
	case errors.Is(err, ErrDuplicate) && !errors.Is(err, ErrDuplicateOrderNumber) && idemKey != "":
		// lost a race against a concurrent retry of the same key
		if res, rerr := c.replay(ctx, buyer.ID, idemKey); res != nil || rerr != nil {
			return res, rerr
		}
		return nil, err
	case err != nil:
		return nil, err
	}

	if msg != nil {
		room.LastMessage = &LastMessage{Content: msg.Content, SenderType: PartySystem, Timestamp: msg.CreatedAt}
		room.LastSeq = msg.Seq
		c.d.Rooms.Announce(ctx, msg)
	}
	if c.idem != nil && idemKey != "" {
		c.idem.Remember(ctx, buyer.ID, idemKey, order.ID)
	}
	c.d.Metrics.OrderCreated()
	c.d.Events.Publish(ctx, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		ProductID:   order.ProductID,
		Quantity:    order.Quantity,
		TotalAmount: order.TotalAmount,
		ChatRoomID:  room.ID,
		CreatedAt:   order.CreatedAt,
	})
	c.d.Log.Info("order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"buyer_id", order.BuyerID,
		"total", order.TotalAmount,
	)
	return &PlaceResult{Order: order, ChatRoom: room}, nil
}

var errReplay = errors.New("idempotent replay")

const maxNumberAttempts = 3

func (c *Coordinator) replay(ctx context.Context, buyerID, key string) (*PlaceResult, error) {
	if c.idem != nil {
		if id, ok := c.idem.Lookup(ctx, buyerID, key); ok {
			o, err := c.d.Store.GetOrder(ctx, id)
			if err == nil && o.BuyerID == buyerID {
				return c.result(ctx, o, true)
			}
		}
	}
	o, err := c.d.Store.FindOrderByIdempotencyKey(ctx, buyerID, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.result(ctx, o, true)
}

func (c *Coordinator) result(ctx context.Context, o *Order, replayed bool) (*PlaceResult, error) {
	room, err := c.d.Store.GetRoom(ctx, o.ChatRoomID)
	if err != nil {
		return nil, err
	}
	return &PlaceResult{Order: o, ChatRoom: room, Idempotent: replayed}, nil
}
