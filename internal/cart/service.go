// Package cart holds a buyer's pending line items awaiting conversion into orders.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

type Service struct {
	Store orders.Store
	Log   *slog.Logger
	Now   func() time.Time
}

func NewService(store orders.Store) *Service {
	return &Service{Store: store, Log: logx.New("cart"), Now: time.Now}
}

// View is a cart plus its computed total.
type View struct {
	*orders.Cart
	Total int64 `json:"total"`
}

func view(c *orders.Cart) *View { return &View{Cart: c, Total: c.Total()} }

func emptyView(buyerID string) *View {
	return view(&orders.Cart{BuyerID: buyerID, Items: []orders.CartItem{}})
}

func (s *Service) Get(ctx context.Context, buyer orders.Actor) (*View, error) {
	if err := requireBuyer(buyer); err != nil {
		return nil, err
	}
	c, err := s.Store.GetCart(ctx, buyer.ID)
	if errors.Is(err, orders.ErrNotFound) {
		return emptyView(buyer.ID), nil
	}
	if err != nil {
		return nil, err
	}
	return view(c), nil
}

// Add puts qty units of productID in the cart, merging with an existing line
// and refreshing its price. The cart is created on first add.
func (s *Service) Add(ctx context.Context, buyer orders.Actor, productID string, qty int) (*View, error) {
	if err := requireBuyer(buyer); err != nil {
		return nil, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: productId is required", orders.ErrValidation)
	}
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", orders.ErrValidation)
	}

	var out *orders.Cart
	err := s.mutate(ctx, buyer.ID, true, func(tx orders.Tx, c *orders.Cart) error {
		p, err := tx.LockProduct(ctx, productID)
		if errors.Is(err, orders.ErrNotFound) {
			return orders.ErrProductUnavailable
		}
		if err != nil {
			return err
		}
		if err := p.Purchasable(qty); err != nil {
			return err
		}
		total := qty
		i, exists := c.Find(productID)
		if exists {
			// compared against the remaining headroom so the sum cannot wrap
			if c.Items[i].Quantity > p.Stock-qty {
				return orders.ErrInsufficientStock
			}
			total += c.Items[i].Quantity
		}
		if exists {
			c.Items[i].Quantity = total
			c.Items[i].PriceAtAdd = p.Price
		} else {
			c.Items = append(c.Items, orders.CartItem{
				ProductID:  p.ID,
				SellerID:   p.SellerID,
				Quantity:   qty,
				PriceAtAdd: p.Price,
				AddedAt:    s.Now(),
			})
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Log.Debug("cart item added", "buyer_id", buyer.ID, "product_id", productID, "qty", qty)
	return view(out), nil
}

// Update sets the quantity of an existing line (1..stock).
func (s *Service) Update(ctx context.Context, buyer orders.Actor, productID string, qty int) (*View, error) {
	if err := requireBuyer(buyer); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", orders.ErrValidation)
	}
	var out *orders.Cart
	err := s.mutate(ctx, buyer.ID, false, func(tx orders.Tx, c *orders.Cart) error {
		i, ok := c.Find(productID)
		if !ok {
			return orders.ErrItemNotInCart
		}
		p, err := tx.LockProduct(ctx, productID)
		if errors.Is(err, orders.ErrNotFound) {
			return orders.ErrProductUnavailable
		}
		if err != nil {
			return err
		}
		if err := p.Purchasable(qty); err != nil {
			return err
		}
		c.Items[i].Quantity = qty
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view(out), nil
}

// Remove drops one line; siblings are untouched.
func (s *Service) Remove(ctx context.Context, buyer orders.Actor, productID string) (*View, error) {
	if err := requireBuyer(buyer); err != nil {
		return nil, err
	}
	var out *orders.Cart
	err := s.mutate(ctx, buyer.ID, false, func(_ orders.Tx, c *orders.Cart) error {
		if !c.Remove(productID) {
			return orders.ErrItemNotInCart
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view(out), nil
}

// Clear empties the cart. Carts are never deleted.
func (s *Service) Clear(ctx context.Context, buyer orders.Actor) (*View, error) {
	if err := requireBuyer(buyer); err != nil {
		return nil, err
	}
	err := s.mutate(ctx, buyer.ID, false, func(_ orders.Tx, c *orders.Cart) error {
		c.Items = c.Items[:0]
		return nil
	})
	if errors.Is(err, orders.ErrNotFound) {
		return emptyView(buyer.ID), nil
	}
	if err != nil {
		return nil, err
	}
	return emptyView(buyer.ID), nil
}

func (s *Service) mutate(ctx context.Context, buyerID string, create bool, fn func(tx orders.Tx, c *orders.Cart) error) error {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := tx.LockCart(ctx, buyerID, create)
	if err != nil {
		return err
	}
	if err := fn(tx, c); err != nil {
		return err
	}
	c.UpdatedAt = s.Now()
	if err := tx.SaveCart(ctx, c); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func requireBuyer(a orders.Actor) error {
	if a.Type != orders.PartyBuyer || a.ID == "" {
		return orders.ErrForbidden
	}
	return nil
}
