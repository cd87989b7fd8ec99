package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

type Tx struct {
	tx pgx.Tx
}

var _ orders.Tx = (*Tx)(nil)

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

// Rollback is a no-op once the transaction has been committed.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// ---- carts ----

func (t *Tx) LockCart(ctx context.Context, buyerID string, create bool) (*orders.Cart, error) {
	if create {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO carts (buyer_id) VALUES ($1) ON CONFLICT (buyer_id) DO NOTHING`, buyerID); err != nil {
			return nil, err
		}
	}
	return scanCart(t.tx.QueryRow(ctx, `SELECT `+cartCols+` FROM carts WHERE buyer_id = $1 FOR UPDATE`, buyerID))
}

func (t *Tx) SaveCart(ctx context.Context, c *orders.Cart) error {
	items := c.Items
	if items == nil {
		items = []orders.CartItem{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO carts (buyer_id, items, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (buyer_id) DO UPDATE SET items = EXCLUDED.items, updated_at = EXCLUDED.updated_at`,
		c.BuyerID, mustJSON(items), c.UpdatedAt)
	return err
}

// ---- products, reservations ----

func (t *Tx) LockProduct(ctx context.Context, id string) (*orders.Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (t *Tx) AdjustStock(ctx context.Context, productID string, delta int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0`, productID, delta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return orders.ErrNotFound
	}
	return orders.ErrInsufficientStock
}

func (t *Tx) AddProductSales(ctx context.Context, productID string, qty int) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE products SET total_sales = total_sales + $2, updated_at = now() WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (t *Tx) PutReservation(ctx context.Context, r orders.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations (order_id, product_id, qty, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (order_id) DO NOTHING`,
		r.OrderID, r.ProductID, r.Qty, string(r.Status), r.CreatedAt)
	return err
}

func (t *Tx) MoveReservation(ctx context.Context, orderID string, from, to orders.ReservationStatus) (orders.Reservation, bool, error) {
	r := orders.Reservation{OrderID: orderID, Status: to}
	err := t.tx.QueryRow(ctx, `
		UPDATE reservations SET status = $3, updated_at = now()
		WHERE order_id = $1 AND status = $2
		RETURNING product_id, qty, created_at`,
		orderID, string(from), string(to),
	).Scan(&r.ProductID, &r.Qty, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Reservation{}, false, nil
	}
	if err != nil {
		return orders.Reservation{}, false, err
	}
	return r, true, nil
}

// ---- orders ----

func (t *Tx) FindOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*orders.Order, error) {
	return findByIdem(ctx, t.tx, buyerID, key, true)
}

func (t *Tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	confirmed, err := jsonArg(o.PaymentConfirmedBy)
	if err != nil {
		return err
	}
	cancelled, err := jsonArg(o.Cancellation)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, buyer_id, seller_id, product_id, snapshot, quantity,
			price_per_unit_cents, total_amount_cents, status, history, payment_status, payment_method,
			payment_confirmed_by, chat_room_id, cancellation, idempotency_key, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		o.ID, o.OrderNumber, o.BuyerID, o.SellerID, o.ProductID, mustJSON(o.Snapshot), o.Quantity,
		o.PricePerUnit, o.TotalAmount, string(o.Status), mustJSON(o.History), string(o.PaymentStatus), o.PaymentMethod,
		confirmed, o.ChatRoomID, cancelled, o.IdempotencyKey, o.Version, o.CreatedAt, o.UpdatedAt)
	return mapErr(err)
}

func (t *Tx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *Tx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	confirmed, err := jsonArg(o.PaymentConfirmedBy)
	if err != nil {
		return err
	}
	cancelled, err := jsonArg(o.Cancellation)
	if err != nil {
		return err
	}
	v := o.Verification
	var hash any
	if v.CodeHash != "" {
		hash = v.CodeHash
	}
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			status = $3, history = $4, payment_status = $5, payment_confirmed_by = $6,
			otp_hash = $7, otp_generated_at = $8, otp_expires_at = $9, otp_verified = $10,
			otp_verified_at = $11, otp_attempts = $12, cancellation = $13,
			version = version + 1, updated_at = $14
		WHERE id = $1 AND version = $2`,
		o.ID, o.Version,
		string(o.Status), mustJSON(o.History), string(o.PaymentStatus), confirmed,
		hash, nullTime(v.GeneratedAt), nullTime(v.ExpiresAt), v.Verified,
		nullTime(v.VerifiedAt), v.Attempts, cancelled,
		o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrConflict
	}
	o.Version++
	return nil
}

func (t *Tx) ClaimVerification(ctx context.Context, orderID string, at time.Time) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET otp_verified = TRUE, otp_verified_at = $2
		WHERE id = $1 AND otp_verified = FALSE`, orderID, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *Tx) AddSellerStats(ctx context.Context, sellerID string, n, sales int, revenue int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO seller_stats (seller_id, total_orders, total_sales, total_revenue_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (seller_id) DO UPDATE SET
			total_orders = seller_stats.total_orders + EXCLUDED.total_orders,
			total_sales = seller_stats.total_sales + EXCLUDED.total_sales,
			total_revenue_cents = seller_stats.total_revenue_cents + EXCLUDED.total_revenue_cents`,
		sellerID, n, sales, revenue)
	return err
}

// ---- chat ----

func (t *Tx) InsertRoom(ctx context.Context, r *orders.ChatRoom) error {
	last, err := jsonArg(r.LastMessage)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO chat_rooms (id, order_id, buyer_id, seller_id, last_message, unread_buyer, unread_seller,
			last_seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.OrderID, r.BuyerID, r.SellerID, last, r.Unread.Buyer, r.Unread.Seller,
		r.LastSeq, r.CreatedAt, r.UpdatedAt)
	return mapErr(err)
}

func (t *Tx) LockRoom(ctx context.Context, id string) (*orders.ChatRoom, error) {
	return scanRoom(t.tx.QueryRow(ctx, `SELECT `+roomCols+` FROM chat_rooms WHERE id = $1 FOR UPDATE`, id))
}

func (t *Tx) UpdateRoom(ctx context.Context, r *orders.ChatRoom) error {
	last, err := jsonArg(r.LastMessage)
	if err != nil {
		return err
	}
	ct, err := t.tx.Exec(ctx, `
		UPDATE chat_rooms SET last_message = $2, unread_buyer = $3, unread_seller = $4,
			last_seq = $5, updated_at = $6
		WHERE id = $1`,
		r.ID, last, r.Unread.Buyer, r.Unread.Seller, r.LastSeq, r.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (t *Tx) InsertMessage(ctx context.Context, m *orders.Message) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO messages (id, chat_room_id, seq, sender_type, sender_id, content, message_type,
			is_read, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.ChatRoomID, m.Seq, string(m.SenderType), m.SenderID, m.Content, string(m.Type),
		m.IsRead, nullTime(m.ReadAt), m.CreatedAt)
	return mapErr(err)
}

func (t *Tx) MarkMessagesRead(ctx context.Context, roomID string, reader orders.PartyType, at time.Time) (int, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $3
		WHERE chat_room_id = $1 AND is_read = FALSE AND sender_type <> $2`,
		roomID, string(reader), at)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}
