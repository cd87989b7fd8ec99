package orders

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/metrics"
)

// Deps are the collaborators shared by the ledger, verifier and coordinator.
type Deps struct {
	Store   Store
	Rooms   RoomLog
	Events  EventPublisher
	Metrics *metrics.Metrics
	Log     *slog.Logger
	Now     func() time.Time
}

func (d Deps) withDefaults(component string) Deps {
	if d.Events == nil {
		d.Events = NopEvents
	}
	if d.Log == nil {
		d.Log = logx.New(component)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// numberGen issues ORD<epoch-ms> order numbers that stay unique within one
// process even when two orders land in the same millisecond.
type numberGen struct {
	mu   sync.Mutex
	last int64
}

func (g *numberGen) next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return "ORD" + strconv.FormatInt(ms, 10)
}
