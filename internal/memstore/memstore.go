// Package memstore is an in-process orders.Store. Transactions are serialized
// and work on a private copy of the state that replaces the committed copy on
// Commit, so a rolled-back transaction leaves no trace.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

type state struct {
	carts        map[string]*orders.Cart
	products     map[string]*orders.Product
	orders       map[string]*orders.Order
	idem         map[string]string // buyer|key -> order id
	rooms        map[string]*orders.ChatRoom
	messages     map[string][]*orders.Message // room id -> messages by seq
	reservations map[string]*orders.Reservation
	sellers      map[string]*orders.SellerStats
}

func newState() *state {
	return &state{
		carts:        map[string]*orders.Cart{},
		products:     map[string]*orders.Product{},
		orders:       map[string]*orders.Order{},
		idem:         map[string]string{},
		rooms:        map[string]*orders.ChatRoom{},
		messages:     map[string][]*orders.Message{},
		reservations: map[string]*orders.Reservation{},
		sellers:      map[string]*orders.SellerStats{},
	}
}

type Store struct {
	sem chan struct{} // one open transaction at a time

	mu        sync.RWMutex // guards committed and faults
	committed *state
	faults    map[string]error
}

func New() *Store {
	return &Store{
		sem:       make(chan struct{}, 1),
		committed: newState(),
		faults:    map[string]error{},
	}
}

var _ orders.Store = (*Store)(nil)

// FailOn makes the named Tx operation (e.g. "InsertRoom") return err until
// cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.faults[op]; ok {
		return err
	}
	return nil
}

// PutProduct seeds or replaces a catalog product.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneProduct(&p)
	s.committed.products[p.ID] = cp
}

// PutCart seeds or replaces a buyer's cart.
func (s *Store) PutCart(c orders.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.carts[c.BuyerID] = cloneCart(&c)
}

func (s *Store) Begin(ctx context.Context) (orders.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()
	return &tx{s: s, st: work}, nil
}

// ---- committed reads ----

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.committed)
}

func (s *Store) GetCart(_ context.Context, buyerID string) (*orders.Cart, error) {
	var out *orders.Cart
	err := s.read(func(st *state) error {
		c, ok := st.carts[buyerID]
		if !ok {
			return orders.ErrNotFound
		}
		out = cloneCart(c)
		return nil
	})
	return out, err
}

func (s *Store) GetProduct(_ context.Context, id string) (*orders.Product, error) {
	var out *orders.Product
	err := s.read(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return orders.ErrNotFound
		}
		out = cloneProduct(p)
		return nil
	})
	return out, err
}

func (s *Store) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	var out *orders.Order
	err := s.read(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return orders.ErrNotFound
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (s *Store) FindOrderByIdempotencyKey(_ context.Context, buyerID, key string) (*orders.Order, error) {
	var out *orders.Order
	err := s.read(func(st *state) error {
		o, err := st.byIdem(buyerID, key)
		if err != nil {
			return err
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (s *Store) ListOrders(_ context.Context, f orders.OrderFilter) ([]*orders.Order, error) {
	var out []*orders.Order
	err := s.read(func(st *state) error {
		want := map[orders.Status]bool{}
		for _, x := range f.Statuses {
			want[x] = true
		}
		for _, o := range st.orders {
			if f.BuyerID != "" && o.BuyerID != f.BuyerID {
				continue
			}
			if f.SellerID != "" && o.SellerID != f.SellerID {
				continue
			}
			if len(want) > 0 && !want[o.Status] {
				continue
			}
			out = append(out, cloneOrder(o))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderNumber > out[j].OrderNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, err
}

func (s *Store) GetRoom(_ context.Context, id string) (*orders.ChatRoom, error) {
	var out *orders.ChatRoom
	err := s.read(func(st *state) error {
		r, ok := st.rooms[id]
		if !ok {
			return orders.ErrNotFound
		}
		out = cloneRoom(r)
		return nil
	})
	return out, err
}

func (s *Store) ListMessages(_ context.Context, roomID string) ([]*orders.Message, error) {
	var out []*orders.Message
	err := s.read(func(st *state) error {
		if _, ok := st.rooms[roomID]; !ok {
			return orders.ErrNotFound
		}
		for _, m := range st.messages[roomID] {
			out = append(out, cloneMessage(m))
		}
		return nil
	})
	return out, err
}

func (s *Store) GetSellerStats(_ context.Context, sellerID string) (*orders.SellerStats, error) {
	var out orders.SellerStats
	err := s.read(func(st *state) error {
		if ss, ok := st.sellers[sellerID]; ok {
			out = *ss
		} else {
			out = orders.SellerStats{SellerID: sellerID}
		}
		return nil
	})
	return &out, err
}

// Reservation returns the committed reservation for orderID, for tests.
func (s *Store) Reservation(orderID string) (orders.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.committed.reservations[orderID]
	if !ok {
		return orders.Reservation{}, false
	}
	return *r, true
}

// ---- transaction ----

type tx struct {
	s    *Store
	st   *state
	done bool
}

var errTxDone = errors.New("memstore: transaction already closed")

func (t *tx) op(name string) error {
	if t.done {
		return errTxDone
	}
	return t.s.fault(name)
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return errTxDone
	}
	if err := t.s.fault("Commit"); err != nil {
		t.release()
		return err
	}
	t.s.mu.Lock()
	t.s.committed = t.st
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *tx) release() {
	t.done = true
	t.st = nil
	<-t.s.sem
}

func (t *tx) LockCart(_ context.Context, buyerID string, create bool) (*orders.Cart, error) {
	if err := t.op("LockCart"); err != nil {
		return nil, err
	}
	c, ok := t.st.carts[buyerID]
	if !ok {
		if !create {
			return nil, orders.ErrNotFound
		}
		return &orders.Cart{BuyerID: buyerID, Items: []orders.CartItem{}, CreatedAt: time.Now()}, nil
	}
	return cloneCart(c), nil
}

func (t *tx) SaveCart(_ context.Context, c *orders.Cart) error {
	if err := t.op("SaveCart"); err != nil {
		return err
	}
	t.st.carts[c.BuyerID] = cloneCart(c)
	return nil
}

func (t *tx) LockProduct(_ context.Context, id string) (*orders.Product, error) {
	if err := t.op("LockProduct"); err != nil {
		return nil, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (t *tx) AdjustStock(_ context.Context, productID string, delta int) error {
	if err := t.op("AdjustStock"); err != nil {
		return err
	}
	p, ok := t.st.products[productID]
	if !ok {
		return orders.ErrNotFound
	}
	if p.Stock+delta < 0 {
		return orders.ErrInsufficientStock
	}
	p.Stock += delta
	return nil
}

func (t *tx) AddProductSales(_ context.Context, productID string, qty int) error {
	if err := t.op("AddProductSales"); err != nil {
		return err
	}
	p, ok := t.st.products[productID]
	if !ok {
		return orders.ErrNotFound
	}
	p.TotalSales += qty
	return nil
}

func (t *tx) PutReservation(_ context.Context, r orders.Reservation) error {
	if err := t.op("PutReservation"); err != nil {
		return err
	}
	if _, ok := t.st.reservations[r.OrderID]; ok {
		return nil
	}
	t.st.reservations[r.OrderID] = &r
	return nil
}

func (t *tx) MoveReservation(_ context.Context, orderID string, from, to orders.ReservationStatus) (orders.Reservation, bool, error) {
	if err := t.op("MoveReservation"); err != nil {
		return orders.Reservation{}, false, err
	}
	r, ok := t.st.reservations[orderID]
	if !ok || r.Status != from {
		return orders.Reservation{}, false, nil
	}
	r.Status = to
	return *r, true, nil
}

func (t *tx) FindOrderByIdempotencyKey(_ context.Context, buyerID, key string) (*orders.Order, error) {
	if err := t.op("FindOrderByIdempotencyKey"); err != nil {
		return nil, err
	}
	o, err := t.st.byIdem(buyerID, key)
	if err != nil {
		return nil, err
	}
	return cloneOrder(o), nil
}

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.op("InsertOrder"); err != nil {
		return err
	}
	if _, ok := t.st.orders[o.ID]; ok {
		return orders.ErrDuplicate
	}
	for _, x := range t.st.orders {
		if x.OrderNumber == o.OrderNumber {
			return orders.ErrDuplicateOrderNumber
		}
	}
	k := idemKey(o.BuyerID, o.IdempotencyKey)
	if o.IdempotencyKey != "" {
		if _, ok := t.st.idem[k]; ok {
			return orders.ErrDuplicate
		}
		t.st.idem[k] = o.ID
	}
	t.st.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *tx) LockOrder(_ context.Context, id string) (*orders.Order, error) {
	if err := t.op("LockOrder"); err != nil {
		return nil, err
	}
	o, ok := t.st.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (t *tx) UpdateOrder(_ context.Context, o *orders.Order) error {
	if err := t.op("UpdateOrder"); err != nil {
		return err
	}
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.Version != o.Version {
		return orders.ErrConflict
	}
	o.Version++
	t.st.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *tx) ClaimVerification(_ context.Context, orderID string, at time.Time) (bool, error) {
	if err := t.op("ClaimVerification"); err != nil {
		return false, err
	}
	o, ok := t.st.orders[orderID]
	if !ok {
		return false, orders.ErrNotFound
	}
	if o.Verification.Verified {
		return false, nil
	}
	o.Verification.Verified = true
	o.Verification.VerifiedAt = &at
	return true, nil
}

func (t *tx) AddSellerStats(_ context.Context, sellerID string, n, sales int, revenue int64) error {
	if err := t.op("AddSellerStats"); err != nil {
		return err
	}
	ss, ok := t.st.sellers[sellerID]
	if !ok {
		ss = &orders.SellerStats{SellerID: sellerID}
		t.st.sellers[sellerID] = ss
	}
	ss.TotalOrders += n
	ss.TotalSales += sales
	ss.TotalRevenue += revenue
	return nil
}

func (t *tx) InsertRoom(_ context.Context, r *orders.ChatRoom) error {
	if err := t.op("InsertRoom"); err != nil {
		return err
	}
	if _, ok := t.st.rooms[r.ID]; ok {
		return orders.ErrDuplicate
	}
	for _, x := range t.st.rooms {
		if x.OrderID == r.OrderID {
			return orders.ErrDuplicate
		}
	}
	t.st.rooms[r.ID] = cloneRoom(r)
	return nil
}

func (t *tx) LockRoom(_ context.Context, id string) (*orders.ChatRoom, error) {
	if err := t.op("LockRoom"); err != nil {
		return nil, err
	}
	r, ok := t.st.rooms[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneRoom(r), nil
}

func (t *tx) UpdateRoom(_ context.Context, r *orders.ChatRoom) error {
	if err := t.op("UpdateRoom"); err != nil {
		return err
	}
	if _, ok := t.st.rooms[r.ID]; !ok {
		return orders.ErrNotFound
	}
	t.st.rooms[r.ID] = cloneRoom(r)
	return nil
}

func (t *tx) InsertMessage(_ context.Context, m *orders.Message) error {
	if err := t.op("InsertMessage"); err != nil {
		return err
	}
	if _, ok := t.st.rooms[m.ChatRoomID]; !ok {
		return orders.ErrNotFound
	}
	t.st.messages[m.ChatRoomID] = append(t.st.messages[m.ChatRoomID], cloneMessage(m))
	return nil
}

func (t *tx) MarkMessagesRead(_ context.Context, roomID string, reader orders.PartyType, at time.Time) (int, error) {
	if err := t.op("MarkMessagesRead"); err != nil {
		return 0, err
	}
	n := 0
	for _, m := range t.st.messages[roomID] {
		if m.IsRead || m.SenderType == reader {
			continue
		}
		m.IsRead = true
		ts := at
		m.ReadAt = &ts
		n++
	}
	return n, nil
}

func idemKey(buyerID, key string) string { return buyerID + "|" + key }

func (st *state) byIdem(buyerID, key string) (*orders.Order, error) {
	id, ok := st.idem[idemKey(buyerID, key)]
	if !ok {
		return nil, orders.ErrNotFound
	}
	o, ok := st.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o, nil
}
