package realtime

import (
	"encoding/json"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// client -> server
const (
	EventJoin      = "join_chat_room"
	EventLeave     = "leave_chat_room"
	EventSend      = "send_message"
	EventTypingOn  = "typing_start"
	EventTypingOff = "typing_stop"
	EventMarkRead  = "mark_messages_read"
)

// server -> client
const (
	EventReceive      = "receive_message"
	EventUserTyping   = "user_typing"
	EventMessagesRead = "messages_read"
	EventMessageError = "message_error"
	EventError        = "error"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type roomRef struct {
	ChatRoomID string `json:"chatRoomId"`
}

type sendRequest struct {
	ChatRoomID  string             `json:"chatRoomId"`
	Content     string             `json:"content"`
	MessageType orders.MessageType `json:"messageType"`
	// ClientRef is echoed in message_error so the sender can match a failed attempt.
	ClientRef string `json:"clientRef,omitempty"`
}

type errorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	ChatRoomID string `json:"chatRoomId,omitempty"`
	ClientRef  string `json:"clientRef,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: data})
}
