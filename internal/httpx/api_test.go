package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ariefcatur/loceal-orders/internal/cart"
	"github.com/ariefcatur/loceal-orders/internal/chat"
	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/memstore"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

var (
	buyer  = orders.Buyer("b1")
	seller = orders.Seller("s1")
)

type inbox struct {
	mu   sync.Mutex
	code string
}

func (n *inbox) Send(_ context.Context, _, _ string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.code = data["code"]
	return nil
}

type api struct {
	t      *testing.T
	router http.Handler
	inbox  *inbox
}

func newAPI(t *testing.T) *api {
	t.Helper()
	ms := memstore.New()
	ms.PutProduct(orders.Product{
		ID: "p1", SellerID: seller.ID, Title: "Durian", Price: 10, Stock: 5, Available: true, SellerVerified: true,
	})
	cm := chat.NewManager(ms, nil, nil)
	deps := orders.Deps{Store: ms, Rooms: cm}
	n := &inbox{}
	log := logx.New("http-test")

	router := NewRouter(RouterOptions{},
		&CartHandler{Cart: cart.NewService(ms), Log: log},
		&OrdersHandler{
			Coordinator: orders.NewCoordinator(deps, nil),
			Ledger:      orders.NewLedger(deps),
			Verifier:    orders.NewVerifier(deps, n, orders.VerifierConfig{HashCost: bcrypt.MinCost}),
			Log:         log,
		},
		&ChatHandler{Chat: cm, Log: log},
	)
	return &api{t: t, router: router, inbox: n}
}

func (a *api) do(method, path string, as *orders.Actor, body any, header ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		var buf bytes.Buffer
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
		rd = &buf
	}
	req := httptest.NewRequest(method, path, rd)
	if as != nil {
		req.Header.Set(HeaderPartyType, string(as.Type))
		req.Header.Set(HeaderPartyID, as.ID)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *api) order(productID string) orders.PlaceResult {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/cart/items", &buyer, map[string]any{"productId": productID, "quantity": 2})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(http.MethodPost, "/orders", &buyer, map[string]string{"productId": productID})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[orders.PlaceResult](a.t, rec)
}

func TestAPI_Healthz(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAPI_RequiresIdentity(t *testing.T) {
	a := newAPI(t)
	for _, as := range []*orders.Actor{nil, {Type: "admin", ID: "x"}, {Type: orders.PartyBuyer}} {
		rec := a.do(http.MethodGet, "/cart", as, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", decode[errorResp](t, rec).Code)
	}

	// query fallback for clients that cannot set headers
	rec := a.do(http.MethodGet, "/cart?party_type=buyer&party_id=b1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_CartLifecycle(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/cart/items", &buyer, map[string]any{"productId": "p1"})
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[cart.View](t, rec)
	require.Len(t, v.Items, 1)
	assert.Equal(t, 1, v.Items[0].Quantity, "quantity defaults to 1")
	assert.Equal(t, int64(10), v.Total)

	rec = a.do(http.MethodPatch, "/cart/items/p1", &buyer, map[string]int{"quantity": 9})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decode[errorResp](t, rec).Code)

	rec = a.do(http.MethodPatch, "/cart/items/p1", &buyer, map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(30), decode[cart.View](t, rec).Total)

	rec = a.do(http.MethodDelete, "/cart/items/p1", &buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cart.View](t, rec).Items)

	rec = a.do(http.MethodDelete, "/cart/items/p1", &buyer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "item_not_in_cart", decode[errorResp](t, rec).Code)

	rec = a.do(http.MethodPost, "/cart/items", &seller, map[string]any{"productId": "p1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_BadJSON(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{"))
	req.Header.Set(HeaderPartyType, "buyer")
	req.Header.Set(HeaderPartyID, "b1")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode[errorResp](t, rec).Code)
}

func TestAPI_CreateOrderIdempotent(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodPost, "/cart/items", &buyer, map[string]any{"productId": "p1", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	first := a.do(http.MethodPost, "/orders", &buyer, map[string]string{"productId": "p1"}, HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	again := a.do(http.MethodPost, "/orders", &buyer, map[string]string{"productId": "p1", "idempotencyKey": "ignored"}, HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())

	r1 := decode[orders.PlaceResult](t, first)
	r2 := decode[orders.PlaceResult](t, again)
	assert.Equal(t, r1.Order.ID, r2.Order.ID)
	assert.True(t, r2.Idempotent)
	assert.Equal(t, int64(20), r1.Order.TotalAmount)

	list := a.do(http.MethodGet, "/orders?scope=all", &buyer, nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Equal(t, 1, decode[listResp](t, list).Count)

	empty := a.do(http.MethodPost, "/orders", &buyer, map[string]string{"productId": "p1"})
	assert.Equal(t, http.StatusConflict, empty.Code)
	assert.Equal(t, "cart_empty", decode[errorResp](t, empty).Code)
}

func TestAPI_OrderAccess(t *testing.T) {
	a := newAPI(t)
	res := a.order("p1")
	id := res.Order.ID
	stranger := orders.Buyer("b2")

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/orders/"+id, &seller, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/orders/"+id, &stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/orders/missing", &buyer, nil).Code)

	rec := a.do(http.MethodGet, "/orders/"+id+"/status", &buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode[map[string]any](t, rec)["orderStatus"])
}

func TestAPI_TransitionErrors(t *testing.T) {
	a := newAPI(t)
	id := a.order("p1").Order.ID

	rec := a.do(http.MethodPost, "/orders/"+id+"/status", &seller, map[string]string{"status": "ready_for_pickup"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorResp](t, rec)
	assert.Equal(t, "invalid_transition", body.Code)
	assert.Equal(t, orders.StatusPending, body.CurrentStatus)

	rec = a.do(http.MethodPost, "/orders/"+id+"/status", &buyer, map[string]string{"status": "confirmed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/orders/"+id+"/cancel", &buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCancelled, decode[orders.Order](t, rec).Status)
}

func TestAPI_CashHandover(t *testing.T) {
	a := newAPI(t)
	id := a.order("p1").Order.ID

	for _, st := range []string{"confirmed", "meeting_scheduled", "ready_for_pickup"} {
		rec := a.do(http.MethodPost, "/orders/"+id+"/status", &seller, map[string]string{"status": st, "note": "ok"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := a.do(http.MethodPost, "/orders/"+id+"/otp", &seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, decode[map[string]any](t, rec), "code", "the code never travels back to the seller")
	gen := decode[orders.GenerateResult](t, rec)
	assert.Equal(t, int64(20), gen.TotalAmount)

	wrong := "123456"
	if a.inbox.code == wrong {
		wrong = "654321"
	}
	rec = a.do(http.MethodPost, "/orders/"+id+"/otp/verify", &seller, map[string]string{"code": wrong})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorResp](t, rec)
	require.NotNil(t, body.AttemptsRemaining)
	assert.Equal(t, 2, *body.AttemptsRemaining)

	rec = a.do(http.MethodPost, "/orders/"+id+"/otp/verify", &seller, map[string]string{"code": "12"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/orders/"+id+"/otp/verify", &seller, map[string]string{"code": a.inbox.code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[orders.Order](t, rec)
	assert.Equal(t, orders.StatusCompleted, done.Status)
	assert.Equal(t, orders.PaymentCashCompleted, done.PaymentStatus)

	rec = a.do(http.MethodPost, "/orders/"+id+"/otp/verify", &seller, map[string]string{"code": a.inbox.code})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_verified", decode[errorResp](t, rec).Code)

	rec = a.do(http.MethodGet, "/sellers/me/stats", &seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[orders.SellerStats](t, rec)
	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, int64(20), stats.TotalRevenue)
}

func TestAPI_Chat(t *testing.T) {
	a := newAPI(t)
	res := a.order("p1")
	roomPath := "/chat/rooms/" + res.ChatRoom.ID

	rec := a.do(http.MethodGet, "/orders/"+res.Order.ID+"/chat", &seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, res.ChatRoom.ID, decode[orders.ChatRoom](t, rec).ID)

	rec = a.do(http.MethodPost, roomPath+"/messages", &buyer, map[string]string{"content": "where do we meet?"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), decode[orders.Message](t, rec).Seq)

	rec = a.do(http.MethodGet, roomPath+"/messages", &seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[messagesResp](t, rec)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, 1, page.ChatRoom.Unread.Seller)

	rec = a.do(http.MethodPost, roomPath+"/read", &seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[map[string]int](t, rec)["markedRead"])

	stranger := orders.Seller("s9")
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, roomPath+"/messages", &stranger, nil).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{orders.ErrValidation, http.StatusBadRequest},
		{orders.ErrForbidden, http.StatusForbidden},
		{orders.ErrNotFound, http.StatusNotFound},
		{orders.ErrExpired, http.StatusGone},
		{&orders.CodeError{Err: orders.ErrAttemptsExceeded}, http.StatusTooManyRequests},
		{&orders.CodeError{Err: orders.ErrInvalidCode, AttemptsRemaining: 1}, http.StatusUnprocessableEntity},
		{&orders.StateError{Err: orders.ErrInvalidTransition}, http.StatusConflict},
		{fmt.Errorf("wrap: %w", orders.ErrInsufficientStock), http.StatusConflict},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("db on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestWriteError_HidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeError(rec, req, logx.New("test"), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[errorResp](t, rec)
	assert.Equal(t, "internal", body.Code)
	assert.Equal(t, "Internal Server Error", body.Error)
}
