package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrdersHandler struct {
	Coordinator *orders.Coordinator
	Ledger      *orders.Ledger
	Verifier    *orders.Verifier
	Log         *slog.Logger
}

type createOrderReq struct {
	ProductID string `json:"productId"`
	// IdempotencyKey may also arrive in the Idempotency-Key header, which wins.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type transitionReq struct {
	Status orders.Status `json:"status"`
	Note   string        `json:"note"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type verifyReq struct {
	Code string `json:"code"`
}

type listResp struct {
	Orders []*orders.Order `json:"orders"`
	Count  int             `json:"count"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/status", h.transition)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/otp", h.generateOTP)
	r.Post("/orders/{id}/otp/verify", h.verifyOTP)
	r.Get("/sellers/me/stats", h.sellerStats)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		key = req.IdempotencyKey
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Coordinator.PlaceOrder(ctx, actor(r), req.ProductID, key)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	code := http.StatusCreated
	if res.Idempotent {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Ledger.List(ctx, actor(r), orders.ListScope(r.URL.Query().Get("scope")))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, listResp{Orders: list, Count: len(list)})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Ledger.Get(ctx, actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus is the cached fast path; it may lag a just-committed change by
// the projector delay.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Ledger.Status(ctx, actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":     st.OrderID,
		"orderStatus": st.Status,
		"updatedAt":   st.UpdatedAt,
	})
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Ledger.Transition(ctx, actor(r), chi.URLParam(r, "id"), req.Status, req.Note)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, h.Log, err)
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Ledger.Cancel(ctx, actor(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) generateOTP(w http.ResponseWriter, r *http.Request) {
	// bcrypt plus the notifier round trip
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Verifier.Generate(ctx, actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Verifier.Verify(ctx, actor(r), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) sellerStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Ledger.SellerStats(ctx, actor(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
