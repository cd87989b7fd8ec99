// Package chat owns the per-order chat room and its messages.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/metrics"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

const maxContent = 2000

// ReadReceipt is emitted after a reader has marked a room read.
type ReadReceipt struct {
	RoomID   string           `json:"chatRoomId"`
	ReadBy   orders.PartyType `json:"readBy"`
	ReaderID string           `json:"readerId"`
	Count    int              `json:"count"`
	ReadAt   time.Time        `json:"readAt"`
}

// Publisher fans committed chat events out to live connections.
type Publisher interface {
	PublishMessage(ctx context.Context, m *orders.Message) error
	PublishRead(ctx context.Context, r ReadReceipt) error
}

type Manager struct {
	store   orders.Store
	pub     Publisher
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewManager(store orders.Store, pub Publisher, m *metrics.Metrics) *Manager {
	return &Manager{store: store, pub: pub, metrics: m, log: logx.New("chat"), now: time.Now}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetPublisher wires the fan-out transport once it exists.
func (m *Manager) SetPublisher(p Publisher) { m.pub = p }

// Room returns the room if actor is one of its two parties.
func (m *Manager) Room(ctx context.Context, actor orders.Actor, roomID string) (*orders.ChatRoom, error) {
	r, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.Member(actor) {
		return nil, orders.ErrForbidden
	}
	return r, nil
}

// RoomForOrder resolves the room bound to orderID for actor.
func (m *Manager) RoomForOrder(ctx context.Context, actor orders.Actor, orderID string) (*orders.ChatRoom, error) {
	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Party(actor) {
		return nil, orders.ErrForbidden
	}
	if o.ChatRoomID == "" {
		return nil, orders.ErrNotFound
	}
	return m.Room(ctx, actor, o.ChatRoomID)
}

// ListMessages returns the room history in ascending write order.
func (m *Manager) ListMessages(ctx context.Context, actor orders.Actor, roomID string) ([]*orders.Message, *orders.ChatRoom, error) {
	r, err := m.Room(ctx, actor, roomID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := m.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	return msgs, r, nil
}

// PostMessage persists a party message and only then publishes it.
func (m *Manager) PostMessage(ctx context.Context, actor orders.Actor, roomID, content string, typ orders.MessageType) (*orders.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", orders.ErrValidation)
	}
	if utf8.RuneCountInString(content) > maxContent {
		return nil, fmt.Errorf("%w: message too long", orders.ErrValidation)
	}
	if typ == "" {
		typ = orders.MessageText
	}
	if typ != orders.MessageText && typ != orders.MessageLocation {
		return nil, fmt.Errorf("%w: unsupported message type %q", orders.ErrValidation, typ)
	}
	if !actor.Type.Valid() {
		return nil, orders.ErrForbidden
	}

	var msg *orders.Message
	err := m.inTx(ctx, func(tx orders.Tx) error {
		r, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !r.Member(actor) {
			return orders.ErrForbidden
		}
		msg = &orders.Message{
			SenderType: actor.Type,
			SenderID:   actor.ID,
			Content:    content,
			Type:       typ,
		}
		return m.append(ctx, tx, r, msg)
	})
	if err != nil {
		return nil, err
	}
	m.metrics.ChatMessage(string(actor.Type))
	m.publish(ctx, msg)
	return msg, nil
}

// MarkRead marks every unread message from the other side as read and zeroes
// the reader's counter. Zero affected messages is not an error.
func (m *Manager) MarkRead(ctx context.Context, actor orders.Actor, roomID string) (int, error) {
	if !actor.Type.Valid() {
		return 0, orders.ErrForbidden
	}
	var (
		n   int
		now = m.now()
	)
	err := m.inTx(ctx, func(tx orders.Tx) error {
		r, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !r.Member(actor) {
			return orders.ErrForbidden
		}
		n, err = tx.MarkMessagesRead(ctx, roomID, actor.Type, now)
		if err != nil {
			return err
		}
		if actor.Type == orders.PartyBuyer {
			r.Unread.Buyer = 0
		} else {
			r.Unread.Seller = 0
		}
		r.UpdatedAt = now
		return tx.UpdateRoom(ctx, r)
	})
	if err != nil {
		return 0, err
	}
	if m.pub != nil {
		rr := ReadReceipt{RoomID: roomID, ReadBy: actor.Type, ReaderID: actor.ID, Count: n, ReadAt: now}
		if err := m.pub.PublishRead(ctx, rr); err != nil {
			m.log.Warn("publish read receipt failed", "room_id", roomID, "error", err.Error())
		}
	}
	return n, nil
}

// AppendSystem writes a platform-authored message inside tx. System messages
// refresh lastMessage but leave both unread counters untouched.
func (m *Manager) AppendSystem(ctx context.Context, tx orders.Tx, roomID, content string) (*orders.Message, error) {
	r, err := tx.LockRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	msg := &orders.Message{
		SenderType: orders.PartySystem,
		Content:    content,
		Type:       orders.MessageSystem,
	}
	if err := m.append(ctx, tx, r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Announce publishes system messages whose transaction has committed.
func (m *Manager) Announce(ctx context.Context, msgs ...*orders.Message) {
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		m.metrics.ChatMessage(string(orders.PartySystem))
		m.publish(ctx, msg)
	}
}

// append assigns the next room sequence, stores msg and updates the room's
// denormalized state. The room row lock orders writes within one room.
func (m *Manager) append(ctx context.Context, tx orders.Tx, r *orders.ChatRoom, msg *orders.Message) error {
	now := m.now()
	if r.LastMessage != nil && now.Before(r.LastMessage.Timestamp) {
		now = r.LastMessage.Timestamp
	}
	msg.ID = uuid.NewString()
	msg.ChatRoomID = r.ID
	msg.Seq = r.LastSeq + 1
	msg.CreatedAt = now
	if err := tx.InsertMessage(ctx, msg); err != nil {
		return err
	}

	r.LastSeq = msg.Seq
	r.LastMessage = &orders.LastMessage{
		Content:    msg.Content,
		SenderType: msg.SenderType,
		SenderID:   msg.SenderID,
		Timestamp:  now,
	}
	switch msg.SenderType {
	case orders.PartyBuyer:
		r.Unread.Seller++
	case orders.PartySeller:
		r.Unread.Buyer++
	}
	r.UpdatedAt = now
	return tx.UpdateRoom(ctx, r)
}

func (m *Manager) publish(ctx context.Context, msg *orders.Message) {
	if m.pub == nil {
		return
	}
	if err := m.pub.PublishMessage(ctx, msg); err != nil {
		// history already has it; clients recover on reload
		m.log.Warn("publish message failed", "room_id", msg.ChatRoomID, "seq", msg.Seq, "error", err.Error())
	}
}

func (m *Manager) inTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

var _ orders.RoomLog = (*Manager)(nil)
