package cart_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/loceal-orders/internal/cart"
	"github.com/ariefcatur/loceal-orders/internal/memstore"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

var buyer = orders.Buyer("buyer-1")

func setup(t *testing.T) (*cart.Service, *memstore.Store) {
	t.Helper()
	ms := memstore.New()
	for _, p := range []orders.Product{
		{ID: "apple", SellerID: "s1", Title: "Apple", Price: 5, Stock: 10, Available: true, SellerVerified: true},
		{ID: "pear", SellerID: "s2", Title: "Pear", Price: 8, Stock: 2, Available: true, SellerVerified: true},
		{ID: "plum", SellerID: "s1", Title: "Plum", Price: 3, Stock: 10, Available: true},
	} {
		ms.PutProduct(p)
	}
	svc := cart.NewService(ms)
	svc.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return svc, ms
}

func TestService_GetEmpty(t *testing.T) {
	svc, _ := setup(t)
	v, err := svc.Get(context.Background(), buyer)
	require.NoError(t, err)
	assert.Empty(t, v.Items)
	assert.NotNil(t, v.Items)
	assert.Zero(t, v.Total)
}

func TestService_AddMergesLines(t *testing.T) {
	svc, ms := setup(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, buyer, "apple", 2)
	require.NoError(t, err)
	_, err = svc.Add(ctx, buyer, "pear", 1)
	require.NoError(t, err)

	// price moved since the first add; merging refreshes it
	ms.PutProduct(orders.Product{ID: "apple", SellerID: "s1", Price: 6, Stock: 10, Available: true, SellerVerified: true})
	v, err := svc.Add(ctx, buyer, "apple", 3)
	require.NoError(t, err)

	require.Len(t, v.Items, 2)
	assert.Equal(t, "apple", v.Items[0].ProductID)
	assert.Equal(t, 5, v.Items[0].Quantity)
	assert.Equal(t, int64(6), v.Items[0].PriceAtAdd)
	assert.Equal(t, "s2", v.Items[1].SellerID)
	assert.Equal(t, int64(5*6+8), v.Total)
}

func TestService_AddChecksStock(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, buyer, "pear", 2)
	require.NoError(t, err)
	_, err = svc.Add(ctx, buyer, "pear", 1)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)

	v, err := svc.Get(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Items[0].Quantity)
}

func TestService_AddHugeQuantityDoesNotWrap(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, buyer, "apple", 1)
	require.NoError(t, err)
	_, err = svc.Add(ctx, buyer, "apple", math.MaxInt)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)
	_, err = svc.Add(ctx, buyer, "apple", 10)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock, "1 held plus 10 exceeds stock 10")

	v, err := svc.Get(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, v.Items, 1)
	assert.Equal(t, 1, v.Items[0].Quantity)
	assert.Equal(t, int64(5), v.Total)

	v, err = svc.Add(ctx, buyer, "apple", 9)
	require.NoError(t, err)
	assert.Equal(t, 10, v.Items[0].Quantity)
}

func TestService_AddRejects(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, buyer, "plum", 1)
	assert.ErrorIs(t, err, orders.ErrProductUnavailable, "unverified seller")
	_, err = svc.Add(ctx, buyer, "ghost", 1)
	assert.ErrorIs(t, err, orders.ErrProductUnavailable)
	_, err = svc.Add(ctx, buyer, "apple", 0)
	assert.ErrorIs(t, err, orders.ErrValidation)
	_, err = svc.Add(ctx, buyer, "", 1)
	assert.ErrorIs(t, err, orders.ErrValidation)
	_, err = svc.Add(ctx, orders.Seller("s1"), "apple", 1)
	assert.ErrorIs(t, err, orders.ErrForbidden)
}

func TestService_Update(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, buyer, "apple", 1)
	require.NoError(t, err)

	v, err := svc.Update(ctx, buyer, "apple", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, v.Items[0].Quantity)

	_, err = svc.Update(ctx, buyer, "apple", 11)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)
	_, err = svc.Update(ctx, buyer, "apple", 0)
	assert.ErrorIs(t, err, orders.ErrValidation)
	_, err = svc.Update(ctx, buyer, "pear", 1)
	assert.ErrorIs(t, err, orders.ErrItemNotInCart)
}

func TestService_RemoveAndClear(t *testing.T) {
	svc, ms := setup(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, buyer, "apple", 1)
	require.NoError(t, err)
	_, err = svc.Add(ctx, buyer, "pear", 1)
	require.NoError(t, err)

	v, err := svc.Remove(ctx, buyer, "apple")
	require.NoError(t, err)
	require.Len(t, v.Items, 1)
	assert.Equal(t, "pear", v.Items[0].ProductID)

	_, err = svc.Remove(ctx, buyer, "apple")
	assert.ErrorIs(t, err, orders.ErrItemNotInCart)

	v, err = svc.Clear(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, v.Items)

	// the cart survives being emptied
	c, err := ms.GetCart(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestService_ClearWithoutCart(t *testing.T) {
	svc, _ := setup(t)
	v, err := svc.Clear(context.Background(), buyer)
	require.NoError(t, err)
	assert.Empty(t, v.Items)
}
