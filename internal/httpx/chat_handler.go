package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/loceal-orders/internal/chat"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

type ChatHandler struct {
	Chat *chat.Manager
	Log  *slog.Logger
}

type postMessageReq struct {
	Content     string             `json:"content"`
	MessageType orders.MessageType `json:"messageType"`
}

type messagesResp struct {
	ChatRoom *orders.ChatRoom  `json:"chatRoom"`
	Messages []*orders.Message `json:"messages"`
}

func (h *ChatHandler) Register(r chi.Router) {
	r.Get("/orders/{id}/chat", h.roomForOrder)
	r.Get("/chat/rooms/{roomId}/messages", h.listMessages)
	r.Post("/chat/rooms/{roomId}/messages", h.postMessage)
	r.Post("/chat/rooms/{roomId}/read", h.markRead)
}

func (h *ChatHandler) roomForOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	room, err := h.Chat.RoomForOrder(ctx, actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *ChatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	msgs, room, err := h.Chat.ListMessages(ctx, actor(r), chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if msgs == nil {
		msgs = []*orders.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResp{ChatRoom: room, Messages: msgs})
}

func (h *ChatHandler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	m, err := h.Chat.PostMessage(ctx, actor(r), chi.URLParam(r, "roomId"), req.Content, req.MessageType)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *ChatHandler) markRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	n, err := h.Chat.MarkRead(ctx, actor(r), chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"markedRead": n})
}
