package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// Identity travels in trusted headers set by the gateway in front of this
// service. Browsers cannot set headers on a WebSocket upgrade, so /ws also
// accepts the query parameters.
const (
	HeaderPartyType = "X-Party-Type"
	HeaderPartyID   = "X-Party-Id"
)

type actorKey struct{}

// ActorFromRequest reads the caller identity without checking it.
func ActorFromRequest(r *http.Request) (orders.Actor, error) {
	a := orders.Actor{
		Type: orders.PartyType(r.Header.Get(HeaderPartyType)),
		ID:   r.Header.Get(HeaderPartyID),
	}
	if a.Type == "" && a.ID == "" {
		q := r.URL.Query()
		a = orders.Actor{Type: orders.PartyType(q.Get("party_type")), ID: q.Get("party_id")}
	}
	if !a.Type.Valid() || a.ID == "" {
		return orders.Actor{}, orders.ErrForbidden
	}
	return a, nil
}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, err := ActorFromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResp{Error: "missing or invalid party identity", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

func actor(r *http.Request) orders.Actor {
	a, _ := r.Context().Value(actorKey{}).(orders.Actor)
	return a
}
