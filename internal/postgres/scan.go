package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

const productCols = `id, seller_id, title, description, images, price_cents, stock, available,
	seller_verified, total_sales, created_at, updated_at`

func scanProduct(row pgx.Row) (*orders.Product, error) {
	var (
		p      orders.Product
		images []byte
	)
	err := row.Scan(&p.ID, &p.SellerID, &p.Title, &p.Description, &images, &p.Price, &p.Stock,
		&p.Available, &p.SellerVerified, &p.TotalSales, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := decode(images, &p.Images); err != nil {
		return nil, err
	}
	return &p, nil
}

const cartCols = `buyer_id, items, created_at, updated_at`

func scanCart(row pgx.Row) (*orders.Cart, error) {
	var (
		c     orders.Cart
		items []byte
	)
	if err := row.Scan(&c.BuyerID, &items, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	if err := decode(items, &c.Items); err != nil {
		return nil, err
	}
	if c.Items == nil {
		c.Items = []orders.CartItem{}
	}
	return &c, nil
}

const orderCols = `id, order_number, buyer_id, seller_id, product_id, snapshot, quantity,
	price_per_unit_cents, total_amount_cents, status, history, payment_status, payment_method,
	payment_confirmed_by, COALESCE(otp_hash, ''), otp_generated_at, otp_expires_at, otp_verified,
	otp_verified_at, otp_attempts, chat_room_id, cancellation, idempotency_key, version,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	var snapshot, history, confirmed, cancelled []byte
	err := row.Scan(&o.ID, &o.OrderNumber, &o.BuyerID, &o.SellerID, &o.ProductID, &snapshot, &o.Quantity,
		&o.PricePerUnit, &o.TotalAmount, &o.Status, &history, &o.PaymentStatus, &o.PaymentMethod,
		&confirmed, &o.Verification.CodeHash, &o.Verification.GeneratedAt, &o.Verification.ExpiresAt,
		&o.Verification.Verified, &o.Verification.VerifiedAt, &o.Verification.Attempts, &o.ChatRoomID,
		&cancelled, &o.IdempotencyKey, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := decode(snapshot, &o.Snapshot); err != nil {
		return nil, err
	}
	if err := decode(history, &o.History); err != nil {
		return nil, err
	}
	if len(confirmed) > 0 {
		o.PaymentConfirmedBy = &orders.PaymentConfirmation{}
		if err := decode(confirmed, o.PaymentConfirmedBy); err != nil {
			return nil, err
		}
	}
	if len(cancelled) > 0 {
		o.Cancellation = &orders.Cancellation{}
		if err := decode(cancelled, o.Cancellation); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*orders.Order, error) {
	defer rows.Close()
	var out []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const roomCols = `id, order_id, buyer_id, seller_id, last_message, unread_buyer, unread_seller,
	last_seq, created_at, updated_at`

func scanRoom(row pgx.Row) (*orders.ChatRoom, error) {
	var (
		r    orders.ChatRoom
		last []byte
	)
	err := row.Scan(&r.ID, &r.OrderID, &r.BuyerID, &r.SellerID, &last, &r.Unread.Buyer, &r.Unread.Seller,
		&r.LastSeq, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(last) > 0 {
		r.LastMessage = &orders.LastMessage{}
		if err := decode(last, r.LastMessage); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

const messageCols = `id, chat_room_id, seq, sender_type, sender_id, content, message_type,
	is_read, read_at, created_at`

func scanMessage(row pgx.Row) (*orders.Message, error) {
	var m orders.Message
	err := row.Scan(&m.ID, &m.ChatRoomID, &m.Seq, &m.SenderType, &m.SenderID, &m.Content, &m.Type,
		&m.IsRead, &m.ReadAt, &m.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func decode(b []byte, out any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}

// jsonArg encodes v for a JSONB parameter; nil pointers become SQL NULL.
func jsonArg[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
