package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/metrics"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// ChatService is the persistence side the gateway writes through.
type ChatService interface {
	Room(ctx context.Context, actor orders.Actor, roomID string) (*orders.ChatRoom, error)
	PostMessage(ctx context.Context, actor orders.Actor, roomID, content string, typ orders.MessageType) (*orders.Message, error)
	MarkRead(ctx context.Context, actor orders.Actor, roomID string) (int, error)
}

// DefaultGapWait bounds how long a room holds messages behind a missing seq.
const DefaultGapWait = 500 * time.Millisecond

type Hub struct {
	chat    ChatService
	bus     Bus
	metrics *metrics.Metrics
	log     *slog.Logger
	GapWait time.Duration

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub(cs ChatService, bus Bus, m *metrics.Metrics) *Hub {
	return &Hub{
		chat:    cs,
		bus:     bus,
		metrics: m,
		log:     logx.New("realtime"),
		GapWait: DefaultGapWait,
		rooms:   map[string]*room{},
	}
}

// Run feeds bus deliveries to local room actors until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	return h.bus.Subscribe(ctx, h.dispatch)
}

func (h *Hub) dispatch(e Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[e.RoomID]
	if !ok {
		return // nobody connected here
	}
	r.inbox <- roomCmd{env: &e}
}

// Join authorizes c for roomID and adds it to the room's member set.
func (h *Hub) Join(ctx context.Context, c *Client, roomID string) error {
	cr, err := h.chat.Room(ctx, c.actor, roomID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		h.rooms[roomID] = r
		go r.run(cr.LastSeq, h.GapWait, h.log)
	}
	r.refs++
	r.inbox <- roomCmd{join: c}
	return nil
}

// Leave removes c from roomID; the actor stops with its last member.
func (h *Hub) Leave(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	r.inbox <- roomCmd{leave: c}
	r.refs--
	if r.refs <= 0 {
		delete(h.rooms, roomID)
		close(r.inbox)
	}
}

// Send persists the message and lets the bus bring it back to every member,
// the sender's own connections included.
func (h *Hub) Send(ctx context.Context, c *Client, req sendRequest) (*orders.Message, error) {
	return h.chat.PostMessage(ctx, c.actor, req.ChatRoomID, req.Content, req.MessageType)
}

func (h *Hub) MarkRead(ctx context.Context, c *Client, roomID string) (int, error) {
	return h.chat.MarkRead(ctx, c.actor, roomID)
}

// Typing is ephemeral: published, never stored.
func (h *Hub) Typing(ctx context.Context, c *Client, roomID string, on bool) error {
	return h.bus.Publish(ctx, Envelope{
		Kind:   KindTyping,
		RoomID: roomID,
		Origin: c.id,
		Typing: &Typing{RoomID: roomID, PartyType: c.actor.Type, PartyID: c.actor.ID, IsTyping: on},
	})
}

// Rooms returns the number of rooms with local members.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
