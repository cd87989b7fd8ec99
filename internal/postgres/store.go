package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// Store is the Postgres orders.Store. Transactions run at READ COMMITTED and
// take row locks with SELECT ... FOR UPDATE.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

var _ orders.Store = (*Store)(nil)

func (s *Store) Begin(ctx context.Context) (orders.Tx, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) GetCart(ctx context.Context, buyerID string) (*orders.Cart, error) {
	return scanCart(s.DB.QueryRow(ctx, `SELECT `+cartCols+` FROM carts WHERE buyer_id = $1`, buyerID))
}

func (s *Store) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	return scanProduct(s.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1`, id))
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
}

func (s *Store) FindOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*orders.Order, error) {
	return findByIdem(ctx, s.DB, buyerID, key, false)
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]*orders.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.BuyerID != "" {
		add("buyer_id = $%d", f.BuyerID)
	}
	if f.SellerID != "" {
		add("seller_id = $%d", f.SellerID)
	}
	if len(f.Statuses) > 0 {
		st := make([]string, len(f.Statuses))
		for i, x := range f.Statuses {
			st[i] = string(x)
		}
		add("status = ANY($%d)", st)
	}
	q := `SELECT ` + orderCols + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, order_number DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (s *Store) GetRoom(ctx context.Context, id string) (*orders.ChatRoom, error) {
	return scanRoom(s.DB.QueryRow(ctx, `SELECT `+roomCols+` FROM chat_rooms WHERE id = $1`, id))
}

func (s *Store) ListMessages(ctx context.Context, roomID string) ([]*orders.Message, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `SELECT `+messageCols+` FROM messages WHERE chat_room_id = $1 ORDER BY seq`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*orders.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetSellerStats(ctx context.Context, sellerID string) (*orders.SellerStats, error) {
	st := orders.SellerStats{SellerID: sellerID}
	err := s.DB.QueryRow(ctx,
		`SELECT total_sales, total_orders, total_revenue_cents FROM seller_stats WHERE seller_id = $1`, sellerID,
	).Scan(&st.TotalSales, &st.TotalOrders, &st.TotalRevenue)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return &st, nil
}

func findByIdem(ctx context.Context, q querier, buyerID, key string, lock bool) (*orders.Order, error) {
	sql := `SELECT ` + orderCols + ` FROM orders WHERE buyer_id = $1 AND idempotency_key = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	return scanOrder(q.QueryRow(ctx, sql, buyerID, key))
}

// UpsertProducts writes catalog fixtures. Stock and flags are overwritten,
// sales counters are kept.
func (s *Store) UpsertProducts(ctx context.Context, ps []orders.Product) error {
	batch := &pgx.Batch{}
	for _, p := range ps {
		batch.Queue(`
			INSERT INTO products (id, seller_id, title, description, images, price_cents, stock, available,
				seller_verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				seller_id = EXCLUDED.seller_id, title = EXCLUDED.title, description = EXCLUDED.description,
				images = EXCLUDED.images, price_cents = EXCLUDED.price_cents, stock = EXCLUDED.stock,
				available = EXCLUDED.available, seller_verified = EXCLUDED.seller_verified,
				updated_at = EXCLUDED.updated_at`,
			p.ID, p.SellerID, p.Title, p.Description, mustJSON(nonNil(p.Images)), p.Price, p.Stock, p.Available,
			p.SellerVerified, p.CreatedAt, p.UpdatedAt)
	}
	return s.DB.SendBatch(ctx, batch).Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
