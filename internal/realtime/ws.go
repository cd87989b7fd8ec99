package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// IdentityFunc resolves the authenticated party of an upgrade request.
type IdentityFunc func(r *http.Request) (orders.Actor, error)

// Handler upgrades GET /ws requests and runs the connection until it closes
// or ctx is done.
func (h *Hub) Handler(ctx context.Context, identify IdentityFunc, allowedOrigins []string) http.Handler {
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := identify(r)
		if err != nil || !actor.Type.Valid() {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			h.log.Debug("websocket upgrade failed", "error", err.Error())
			return
		}
		c := newClient(h, actor, conn)
		h.metrics.ConnOpened()
		h.log.Debug("websocket connected", "client_id", c.id, "party_type", actor.Type, "party_id", actor.ID)

		go c.writePump()
		go func() {
			defer h.metrics.ConnClosed()
			stop := context.AfterFunc(ctx, c.close)
			defer stop()
			c.readPump(ctx)
		}()
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := map[string]bool{}
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
