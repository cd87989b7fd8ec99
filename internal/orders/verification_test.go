package orders_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

func TestVerifier_RoundTrip(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 2)
	f.ready(t, o.ID)
	ctx := context.Background()

	res, err := f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Warning)
	assert.Equal(t, o.OrderNumber, res.OrderNumber)
	assert.Equal(t, int64(20), res.TotalAmount)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), res.ExpiresAt)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, buyerID, f.notifier.sent[0].PartyID)
	code := f.notifier.lastCode(t)
	assert.Len(t, code, 6)

	stored := f.order(t, o.ID)
	assert.NotEqual(t, code, stored.Verification.CodeHash, "only the hash is persisted")
	assert.True(t, stored.Verification.Issued())

	done, err := f.verifier.Verify(ctx, seller, o.ID, code)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, done.Status)
	assert.Equal(t, orders.PaymentCashCompleted, done.PaymentStatus)
	require.NotNil(t, done.PaymentConfirmedBy)
	assert.Equal(t, sellerID, done.PaymentConfirmedBy.PartyID)
	assert.True(t, done.Verification.Verified)
	assert.Equal(t, orders.StatusCompleted, done.History[len(done.History)-1].Status)

	p, err := f.store.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
	assert.Equal(t, 2, p.TotalSales)

	r, ok := f.store.Reservation(o.ID)
	require.True(t, ok)
	assert.Equal(t, orders.ReservationConsumed, r.Status)

	stats, err := f.ledger.SellerStats(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, 1, stats.TotalSales)
	assert.Equal(t, int64(20), stats.TotalRevenue)

	msgs := f.messages(t, o.ChatRoomID)
	assert.Contains(t, msgs[len(msgs)-2].Content, "verification code has been sent")
	assert.Contains(t, msgs[len(msgs)-1].Content, "Order completed successfully")

	types := f.events.types()
	assert.Equal(t, orders.EventVerificationRequested, types[len(types)-2])
	assert.Equal(t, orders.EventOrderCompleted, types[len(types)-1])
}

func TestVerifier_CompletionRefreshesStatusCache(t *testing.T) {
	f := newFixture(t)
	cache := &mapCache{m: map[string]orders.StatusSnapshot{}}
	f.ledger.UseStatusCache(cache)
	f.verifier.UseStatusCache(cache)
	o := f.placed(t, 10, 5, 1)
	f.ready(t, o.ID)
	ctx := context.Background()

	st, err := f.ledger.Status(ctx, buyer, o.ID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusReadyForPickup, st.Status)

	_, err = f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	done, err := f.verifier.Verify(ctx, seller, o.ID, f.notifier.lastCode(t))
	require.NoError(t, err)

	hits := cache.hits
	st, err = f.ledger.Status(ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, hits+1, cache.hits, "served from the cache")
	assert.Equal(t, orders.StatusCompleted, st.Status)
	assert.Equal(t, done.UpdatedAt, st.UpdatedAt)
}

func TestVerifier_Expired(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)
	f.ready(t, o.ID)
	ctx := context.Background()

	_, err := f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	code := f.notifier.lastCode(t)

	f.clock.Advance(11 * time.Minute)
	_, err = f.verifier.Verify(ctx, seller, o.ID, code)
	assert.ErrorIs(t, err, orders.ErrExpired)

	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusReadyForPickup, got.Status)
	assert.Zero(t, got.Verification.Attempts)
	assert.False(t, got.Verification.Verified)

	// a fresh code recovers
	_, err = f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	_, err = f.verifier.Verify(ctx, seller, o.ID, f.notifier.lastCode(t))
	require.NoError(t, err)
}

func TestVerifier_AttemptLimit(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)
	f.ready(t, o.ID)
	ctx := context.Background()

	_, err := f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	code := f.notifier.lastCode(t)
	bad := wrongCode(code)

	for _, remaining := range []int{2, 1} {
		_, err = f.verifier.Verify(ctx, seller, o.ID, bad)
		require.ErrorIs(t, err, orders.ErrInvalidCode)
		var ce *orders.CodeError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, remaining, ce.AttemptsRemaining)
	}

	_, err = f.verifier.Verify(ctx, seller, o.ID, bad)
	assert.ErrorIs(t, err, orders.ErrAttemptsExceeded)

	// the right code no longer helps
	_, err = f.verifier.Verify(ctx, seller, o.ID, code)
	assert.ErrorIs(t, err, orders.ErrAttemptsExceeded)

	got := f.order(t, o.ID)
	assert.Equal(t, orders.StatusReadyForPickup, got.Status)
	assert.Equal(t, 3, got.Verification.Attempts)

	// regenerating resets the counter
	_, err = f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	assert.Zero(t, f.order(t, o.ID).Verification.Attempts)
	_, err = f.verifier.Verify(ctx, seller, o.ID, f.notifier.lastCode(t))
	require.NoError(t, err)
}

func TestVerifier_ConcurrentCorrectCodes(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 2)
	f.ready(t, o.ID)
	ctx := context.Background()

	_, err := f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	code := f.notifier.lastCode(t)

	var won, already atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := f.verifier.Verify(ctx, seller, o.ID, code)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, orders.ErrAlreadyVerified):
				already.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(7), already.Load())

	p, err := f.store.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
	assert.Equal(t, 2, p.TotalSales)

	stats, err := f.ledger.SellerStats(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, int64(20), stats.TotalRevenue)
}

func TestVerifier_GenerateRequiresReadyForPickup(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)

	_, err := f.verifier.Generate(context.Background(), seller, o.ID)
	requireState(t, err, orders.ErrOTPNotEligible, orders.StatusPending)
	assert.Empty(t, f.notifier.sent)
	assert.False(t, f.order(t, o.ID).Verification.Issued())
}

func TestVerifier_GenerateAfterCompletion(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)
	f.ready(t, o.ID)
	ctx := context.Background()

	_, err := f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	_, err = f.verifier.Verify(ctx, seller, o.ID, f.notifier.lastCode(t))
	require.NoError(t, err)

	_, err = f.verifier.Generate(ctx, seller, o.ID)
	requireState(t, err, orders.ErrAlreadyVerified, orders.StatusCompleted)
}

func TestVerifier_OnlyTheSellerOperates(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)
	f.ready(t, o.ID)
	ctx := context.Background()

	_, err := f.verifier.Generate(ctx, buyer, o.ID)
	assert.ErrorIs(t, err, orders.ErrForbidden)
	_, err = f.verifier.Generate(ctx, orders.Seller("seller-2"), o.ID)
	assert.ErrorIs(t, err, orders.ErrForbidden)

	_, err = f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)
	_, err = f.verifier.Verify(ctx, buyer, o.ID, f.notifier.lastCode(t))
	assert.ErrorIs(t, err, orders.ErrForbidden)
}

func TestVerifier_VerifyWithoutCode(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)
	f.ready(t, o.ID)

	_, err := f.verifier.Verify(context.Background(), seller, o.ID, "123456")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestVerifier_MalformedCode(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)
	f.ready(t, o.ID)
	ctx := context.Background()
	_, err := f.verifier.Generate(ctx, seller, o.ID)
	require.NoError(t, err)

	for _, c := range []string{"", "12345", "abcdef", "012345"} {
		_, err := f.verifier.Verify(ctx, seller, o.ID, c)
		assert.ErrorIs(t, err, orders.ErrValidation, c)
	}
	assert.Zero(t, f.order(t, o.ID).Verification.Attempts, "malformed input does not burn attempts")
}

func TestVerifier_NotifierFailure(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)
	f.ready(t, o.ID)
	f.notifier.err = errors.New("smtp down")

	res, err := f.verifier.Generate(context.Background(), seller, o.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)
	assert.True(t, f.order(t, o.ID).Verification.Issued())

	ev := f.events.events[len(f.events.events)-1]
	require.Equal(t, orders.EventVerificationRequested, ev.Type)
	assert.False(t, ev.Payload.(orders.VerificationRequestedPayload).Delivered)
}

func TestVerifier_CancelledOrderCannotComplete(t *testing.T) {
	f := newFixture(t)
	o := f.placed(t, 10, 5, 1)
	ctx := context.Background()
	_, err := f.ledger.Cancel(ctx, buyer, o.ID, "")
	require.NoError(t, err)

	_, err = f.verifier.Generate(ctx, seller, o.ID)
	requireState(t, err, orders.ErrOTPNotEligible, orders.StatusCancelled)
}
