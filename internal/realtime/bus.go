// Package realtime keeps live WebSocket connections, joins them to per-room
// actors and fans committed chat events out to them.
package realtime

import (
	"context"
	"sync"

	"github.com/ariefcatur/loceal-orders/internal/chat"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindRead    Kind = "read"
	KindTyping  Kind = "typing"
)

type Typing struct {
	RoomID    string           `json:"chatRoomId"`
	PartyType orders.PartyType `json:"partyType"`
	PartyID   string           `json:"partyId"`
	IsTyping  bool             `json:"isTyping"`
}

// Envelope is the unit carried by a Bus. Origin identifies the connection
// that produced a typing event so it is not echoed back.
type Envelope struct {
	Kind    Kind              `json:"kind"`
	RoomID  string            `json:"roomId"`
	Message *orders.Message   `json:"message,omitempty"`
	Read    *chat.ReadReceipt `json:"read,omitempty"`
	Typing  *Typing           `json:"typing,omitempty"`
	Origin  string            `json:"origin,omitempty"`
}

// Bus carries envelopes between API instances. Subscribe blocks until ctx is
// done, calling fn for every envelope in arrival order.
type Bus interface {
	Publish(ctx context.Context, e Envelope) error
	Subscribe(ctx context.Context, fn func(Envelope)) error
}

// LocalBus delivers in-process only. Used for a single instance and in tests.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[int]func(Envelope)
	next int
}

func NewLocalBus() *LocalBus { return &LocalBus{subs: map[int]func(Envelope){}} }

func (b *LocalBus) Publish(_ context.Context, e Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.subs {
		fn(e)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
	return nil
}

// Publisher adapts a Bus to chat.Publisher.
type Publisher struct {
	Bus Bus
}

var _ chat.Publisher = Publisher{}

func (p Publisher) PublishMessage(ctx context.Context, m *orders.Message) error {
	return p.Bus.Publish(ctx, Envelope{Kind: KindMessage, RoomID: m.ChatRoomID, Message: m})
}

func (p Publisher) PublishRead(ctx context.Context, r chat.ReadReceipt) error {
	return p.Bus.Publish(ctx, Envelope{Kind: KindRead, RoomID: r.RoomID, Read: &r})
}
