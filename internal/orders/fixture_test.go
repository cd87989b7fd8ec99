package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ariefcatur/loceal-orders/internal/cart"
	"github.com/ariefcatur/loceal-orders/internal/chat"
	"github.com/ariefcatur/loceal-orders/internal/memstore"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

const (
	buyerID  = "buyer-1"
	sellerID = "seller-1"
)

var (
	buyer  = orders.Buyer(buyerID)
	seller = orders.Seller(sellerID)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sent struct {
	PartyID string
	Subject string
	Payload map[string]string
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *stubNotifier) Send(_ context.Context, partyID, subject string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sent{PartyID: partyID, Subject: subject, Payload: payload})
	return nil
}

// lastCode is what the buyer would read in their inbox.
func (n *stubNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no code was delivered")
	return n.sent[len(n.sent)-1].Payload["code"]
}

type recordedEvent struct {
	Type    string
	OrderID string
	Payload any
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) Publish(_ context.Context, eventType, orderID string, payload any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{eventType, orderID, payload})
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store    *memstore.Store
	clock    *clock
	chat     *chat.Manager
	cart     *cart.Service
	ledger   *orders.Ledger
	verifier *orders.Verifier
	coord    *orders.Coordinator
	notifier *stubNotifier
	events   *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		clock:    &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &stubNotifier{},
		events:   &eventLog{},
	}
	f.chat = chat.NewManager(f.store, nil, nil)
	f.chat.SetClock(f.clock.Now)
	f.cart = cart.NewService(f.store)
	f.cart.Now = f.clock.Now

	deps := orders.Deps{Store: f.store, Rooms: f.chat, Events: f.events, Now: f.clock.Now}
	f.ledger = orders.NewLedger(deps)
	f.verifier = orders.NewVerifier(deps, f.notifier, orders.VerifierConfig{HashCost: bcrypt.MinCost})
	f.coord = orders.NewCoordinator(deps, nil)
	return f
}

func (f *fixture) product(id string, price int64, stock int) {
	f.store.PutProduct(orders.Product{
		ID:             id,
		SellerID:       sellerID,
		Title:          "Product " + id,
		Description:    "fresh",
		Images:         []string{id + ".jpg"},
		Price:          price,
		Stock:          stock,
		Available:      true,
		SellerVerified: true,
	})
}

func (f *fixture) addToCart(t *testing.T, a orders.Actor, productID string, qty int) {
	t.Helper()
	_, err := f.cart.Add(context.Background(), a, productID, qty)
	require.NoError(t, err)
}

// placed returns a fresh pending order for qty units of a new product.
func (f *fixture) placed(t *testing.T, price int64, stock, qty int) *orders.Order {
	t.Helper()
	f.product("p1", price, stock)
	f.addToCart(t, buyer, "p1", qty)
	res, err := f.coord.PlaceOrder(context.Background(), buyer, "p1", "")
	require.NoError(t, err)
	return res.Order
}

// ready walks an order up to ready_for_pickup as the seller.
func (f *fixture) ready(t *testing.T, orderID string) {
	t.Helper()
	ctx := context.Background()
	for _, st := range []orders.Status{orders.StatusConfirmed, orders.StatusMeetingScheduled, orders.StatusReadyForPickup} {
		f.clock.Advance(time.Minute)
		_, err := f.ledger.Transition(ctx, seller, orderID, st, "")
		require.NoError(t, err)
	}
}

func (f *fixture) order(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) messages(t *testing.T, roomID string) []*orders.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), roomID)
	require.NoError(t, err)
	return msgs
}

func wrongCode(code string) string {
	if code == "123456" {
		return "654321"
	}
	return "123456"
}

func requireState(t *testing.T, err, sentinel error, current orders.Status) {
	t.Helper()
	require.ErrorIs(t, err, sentinel)
	var se *orders.StateError
	require.True(t, errors.As(err, &se), "expected *StateError, got %T", err)
	require.Equal(t, current, se.Current)
}
