package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 16 << 10
	sendBufferSize = 64
)

// Client is one WebSocket connection of an authenticated party. A party may
// hold several.
type Client struct {
	id    string
	actor orders.Actor
	hub   *Hub
	conn  *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	rooms map[string]struct{} // read loop only
}

func newClient(h *Hub, actor orders.Actor, conn *websocket.Conn) *Client {
	return &Client{
		id:    uuid.NewString(),
		actor: actor,
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
		rooms: map[string]struct{}{},
	}
}

// deliver queues b without blocking. A client that cannot keep up is dropped.
func (c *Client) deliver(b []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- b:
	default:
		c.hub.log.Warn("slow websocket client dropped", "client_id", c.id, "party_id", c.actor.ID)
		c.close()
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) reply(event string, data any) {
	b, err := encode(event, data)
	if err != nil {
		return
	}
	c.deliver(b)
}

func (c *Client) fail(event string, err error, roomID, ref string) {
	c.reply(event, errorBody{Error: publicError(err), Code: errorCode(err), ChatRoomID: roomID, ClientRef: ref})
}

// handle runs one inbound frame. Persistence happens here, before anything
// is broadcast.
func (c *Client) handle(ctx context.Context, f frame) {
	switch f.Event {
	case EventJoin, EventLeave, EventTypingOn, EventTypingOff, EventMarkRead:
		var ref roomRef
		if err := json.Unmarshal(f.Data, &ref); err != nil || ref.ChatRoomID == "" {
			c.fail(EventError, orders.ErrValidation, "", "")
			return
		}
		c.handleRoom(ctx, f.Event, ref.ChatRoomID)
	case EventSend:
		var req sendRequest
		if err := json.Unmarshal(f.Data, &req); err != nil || req.ChatRoomID == "" {
			c.fail(EventMessageError, orders.ErrValidation, req.ChatRoomID, req.ClientRef)
			return
		}
		if _, err := c.hub.Send(ctx, c, req); err != nil {
			c.fail(EventMessageError, err, req.ChatRoomID, req.ClientRef)
		}
	default:
		c.fail(EventError, errUnknownEvent, "", "")
	}
}

var errUnknownEvent = fmt.Errorf("%w: unknown event", orders.ErrValidation)

func (c *Client) handleRoom(ctx context.Context, event, roomID string) {
	_, joined := c.rooms[roomID]
	switch event {
	case EventJoin:
		if joined {
			return
		}
		if err := c.hub.Join(ctx, c, roomID); err != nil {
			c.fail(EventError, err, roomID, "")
			return
		}
		c.rooms[roomID] = struct{}{}
	case EventLeave:
		if !joined {
			return
		}
		delete(c.rooms, roomID)
		c.hub.Leave(c, roomID)
	case EventTypingOn, EventTypingOff:
		if !joined {
			return
		}
		if err := c.hub.Typing(ctx, c, roomID, event == EventTypingOn); err != nil {
			c.hub.log.Debug("typing publish failed", "room_id", roomID, "error", err.Error())
		}
	case EventMarkRead:
		if _, err := c.hub.MarkRead(ctx, c, roomID); err != nil {
			c.fail(EventError, err, roomID, "")
		}
	}
}

func (c *Client) leaveAll() {
	for id := range c.rooms {
		c.hub.Leave(c, id)
		delete(c.rooms, id)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.leaveAll()
		c.close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				c.fail(EventError, orders.ErrValidation, "", "")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read", "client_id", c.id, "error", err.Error())
			}
			return
		}
		c.handle(ctx, f)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
