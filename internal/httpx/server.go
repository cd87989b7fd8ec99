package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Registrar mounts a handler group on the authenticated API router.
type Registrar interface {
	Register(r chi.Router)
}

type RouterOptions struct {
	Metrics   http.Handler // served at /metrics when set
	WebSocket http.Handler // served at /ws when set; does its own identity check
}

func NewRouter(opts RouterOptions, groups ...Registrar) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.WebSocket != nil {
		// outside Timeout: the connection outlives the request
		r.Method(http.MethodGet, "/ws", opts.WebSocket)
	}
	r.Group(func(api chi.Router) {
		api.Use(middleware.Logger, middleware.Timeout(15*time.Second), requireActor)
		for _, g := range groups {
			g.Register(api)
		}
	})
	return r
}
