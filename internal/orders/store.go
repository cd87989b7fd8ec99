package orders

import (
	"context"
	"time"
)

type OrderFilter struct {
	BuyerID  string
	SellerID string
	Statuses []Status
	Limit    int
}

// Store is the shared document store. Reads outside a Tx observe committed
// state only.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetCart(ctx context.Context, buyerID string) (*Cart, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]*Order, error)
	GetRoom(ctx context.Context, id string) (*ChatRoom, error)
	ListMessages(ctx context.Context, roomID string) ([]*Message, error)
	GetSellerStats(ctx context.Context, sellerID string) (*SellerStats, error)
}

// Tx is one all-or-nothing unit of work. Lock* methods take the row lock for
// the remainder of the transaction; the Order row is the lock domain for
// status and verification changes.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// LockCart returns ErrNotFound when the buyer has no cart and create is false.
	LockCart(ctx context.Context, buyerID string, create bool) (*Cart, error)
	SaveCart(ctx context.Context, c *Cart) error

	LockProduct(ctx context.Context, id string) (*Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) error
	AddProductSales(ctx context.Context, productID string, qty int) error
	PutReservation(ctx context.Context, r Reservation) error
	// MoveReservation switches the order's reservation from one status to
	// another and returns it; ok is false when none was in status from.
	MoveReservation(ctx context.Context, orderID string, from, to ReservationStatus) (r Reservation, ok bool, err error)

	FindOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*Order, error)
	InsertOrder(ctx context.Context, o *Order) error
	LockOrder(ctx context.Context, id string) (*Order, error)
	// UpdateOrder persists o if its Version still matches and bumps Version.
	UpdateOrder(ctx context.Context, o *Order) error
	// ClaimVerification flips verified false->true; false means another
	// caller already won.
	ClaimVerification(ctx context.Context, orderID string, at time.Time) (bool, error)

	AddSellerStats(ctx context.Context, sellerID string, orders, sales int, revenue int64) error

	InsertRoom(ctx context.Context, r *ChatRoom) error
	LockRoom(ctx context.Context, id string) (*ChatRoom, error)
	UpdateRoom(ctx context.Context, r *ChatRoom) error
	InsertMessage(ctx context.Context, m *Message) error
	// MarkMessagesRead marks every unread message not sent by reader.
	MarkMessagesRead(ctx context.Context, roomID string, reader PartyType, at time.Time) (int, error)
}

// RoomLog writes system messages into an order's chat room within a Tx and
// fans them out once the Tx has committed.
type RoomLog interface {
	AppendSystem(ctx context.Context, tx Tx, roomID, content string) (*Message, error)
	Announce(ctx context.Context, msgs ...*Message)
}

// EventPublisher receives lifecycle events after commit. Fire-and-forget.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, orderID string, payload any)
}

// Notifier delivers out-of-band messages to a party (e-mail or equivalent).
type Notifier interface {
	Send(ctx context.Context, partyID, subject string, payload map[string]string) error
}

// IdempotencyCache is an optional fast path in front of the store's unique
// (buyer, idempotency key) index.
type IdempotencyCache interface {
	Lookup(ctx context.Context, buyerID, key string) (orderID string, ok bool)
	Remember(ctx context.Context, buyerID, key, orderID string)
}

// StatusSnapshot is the cached view of an order's status plus the two parties
// allowed to read it.
type StatusSnapshot struct {
	OrderID   string    `json:"order_id"`
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s StatusSnapshot) party(a Actor) bool {
	return (a.Type == PartyBuyer && a.ID == s.BuyerID) || (a.Type == PartySeller && a.ID == s.SellerID)
}

func snapshotOf(o *Order) StatusSnapshot {
	return StatusSnapshot{OrderID: o.ID, BuyerID: o.BuyerID, SellerID: o.SellerID, Status: o.Status, UpdatedAt: o.UpdatedAt}
}

// StatusCache is a best-effort read-through cache of order status. Set must
// ignore snapshots older than the one already held.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (StatusSnapshot, bool, error)
	Set(ctx context.Context, st StatusSnapshot) error
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, string, string, any) {}

// NopEvents discards lifecycle events.
var NopEvents EventPublisher = nopEvents{}

// withTx runs fn inside a transaction, committing on nil and rolling back otherwise.
func withTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
