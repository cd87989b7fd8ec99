package memstore

import "github.com/ariefcatur/loceal-orders/internal/orders"

func (st *state) clone() *state {
	out := newState()
	for k, v := range st.carts {
		out.carts[k] = cloneCart(v)
	}
	for k, v := range st.products {
		out.products[k] = cloneProduct(v)
	}
	for k, v := range st.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range st.idem {
		out.idem[k] = v
	}
	for k, v := range st.rooms {
		out.rooms[k] = cloneRoom(v)
	}
	for k, msgs := range st.messages {
		cp := make([]*orders.Message, len(msgs))
		for i, m := range msgs {
			cp[i] = cloneMessage(m)
		}
		out.messages[k] = cp
	}
	for k, v := range st.reservations {
		r := *v
		out.reservations[k] = &r
	}
	for k, v := range st.sellers {
		s := *v
		out.sellers[k] = &s
	}
	return out
}

func cloneCart(c *orders.Cart) *orders.Cart {
	cp := *c
	cp.Items = append([]orders.CartItem{}, c.Items...)
	return &cp
}

func cloneProduct(p *orders.Product) *orders.Product {
	cp := *p
	cp.Images = append([]string(nil), p.Images...)
	return &cp
}

func cloneOrder(o *orders.Order) *orders.Order {
	cp := *o
	cp.Snapshot.Images = append([]string(nil), o.Snapshot.Images...)
	cp.History = append([]orders.StatusEntry(nil), o.History...)
	if o.PaymentConfirmedBy != nil {
		pc := *o.PaymentConfirmedBy
		cp.PaymentConfirmedBy = &pc
	}
	if o.Cancellation != nil {
		c := *o.Cancellation
		cp.Cancellation = &c
	}
	cp.Verification.GeneratedAt = clonePtr(o.Verification.GeneratedAt)
	cp.Verification.ExpiresAt = clonePtr(o.Verification.ExpiresAt)
	cp.Verification.VerifiedAt = clonePtr(o.Verification.VerifiedAt)
	return &cp
}

func cloneRoom(r *orders.ChatRoom) *orders.ChatRoom {
	cp := *r
	if r.LastMessage != nil {
		lm := *r.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

func cloneMessage(m *orders.Message) *orders.Message {
	cp := *m
	cp.ReadAt = clonePtr(m.ReadAt)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
