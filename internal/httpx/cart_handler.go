package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/loceal-orders/internal/cart"
)

type CartHandler struct {
	Cart *cart.Service
	Log  *slog.Logger
}

type addItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/cart", h.get)
	r.Delete("/cart", h.clear)
	r.Post("/cart/items", h.add)
	r.Patch("/cart/items/{productId}", h.update)
	r.Delete("/cart/items/{productId}", h.remove)
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	v, err := h.Cart.Get(ctx, actor(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	v, err := h.Cart.Add(ctx, actor(r), req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CartHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateItemReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	v, err := h.Cart.Update(ctx, actor(r), chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	v, err := h.Cart.Remove(ctx, actor(r), chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	v, err := h.Cart.Clear(ctx, actor(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
