package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated          = "OrderCreated"
	EventOrderStatusChanged    = "OrderStatusChanged"
	EventOrderCancelled        = "OrderCancelled"
	EventOrderCompleted        = "OrderCompleted"
	EventVerificationRequested = "VerificationRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderCreatedPayload struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	ProductID   string    `json:"product_id"`
	Quantity    int       `json:"quantity"`
	TotalAmount int64     `json:"total_amount"`
	ChatRoomID  string    `json:"chat_room_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderStatusChangedPayload is shared by status change, cancel and completion events.
type OrderStatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Note      string    `json:"note,omitempty"`
	ActorType PartyType `json:"actor_type"`
	ActorID   string    `json:"actor_id"`
	At        time.Time `json:"at"`
}

// VerificationRequestedPayload never includes the code itself.
type VerificationRequestedPayload struct {
	OrderID   string    `json:"order_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Delivered bool      `json:"delivered"`
}
