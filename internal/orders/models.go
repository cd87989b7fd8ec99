package orders

import "time"

type PartyType string

const (
	PartyBuyer  PartyType = "buyer"
	PartySeller PartyType = "seller"
	PartySystem PartyType = "system"
)

func (p PartyType) Valid() bool {
	return p == PartyBuyer || p == PartySeller
}

// Actor is the authenticated caller of an operation, supplied by the identity layer.
type Actor struct {
	Type PartyType `json:"partyType"`
	ID   string    `json:"partyId"`
}

func Buyer(id string) Actor  { return Actor{Type: PartyBuyer, ID: id} }
func Seller(id string) Actor { return Actor{Type: PartySeller, ID: id} }

type Product struct {
	ID             string    `json:"id"`
	SellerID       string    `json:"sellerRef"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Images         []string  `json:"images"`
	Price          int64     `json:"price"`
	Stock          int       `json:"stock"`
	Available      bool      `json:"available"`
	SellerVerified bool      `json:"sellerVerified"`
	TotalSales     int       `json:"totalSales"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Purchasable checks availability, seller verification and stock for qty units.
func (p *Product) Purchasable(qty int) error {
	if !p.Available || p.Stock <= 0 || !p.SellerVerified {
		return ErrProductUnavailable
	}
	if qty < 1 {
		return invalid("quantity must be at least 1")
	}
	if qty > p.Stock {
		return ErrInsufficientStock
	}
	return nil
}

type CartItem struct {
	ProductID  string    `json:"productRef"`
	SellerID   string    `json:"sellerRef"`
	Quantity   int       `json:"quantity"`
	PriceAtAdd int64     `json:"priceAtAdd"`
	AddedAt    time.Time `json:"addedAt"`
}

type Cart struct {
	BuyerID   string     `json:"owner"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (c *Cart) Find(productID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

// Remove drops the line for productID, keeping the order of its siblings.
func (c *Cart) Remove(productID string) bool {
	i, ok := c.Find(productID)
	if !ok {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}

func (c *Cart) Total() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.PriceAtAdd * int64(it.Quantity)
	}
	return total
}

type ProductSnapshot struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
}

type StatusEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

type PaymentStatus string

const (
	PaymentCashPending   PaymentStatus = "cod_pending"
	PaymentCashCompleted PaymentStatus = "cod_completed"
)

type PaymentConfirmation struct {
	PartyType   PartyType `json:"partyType"`
	PartyID     string    `json:"partyId"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

type Cancellation struct {
	Reason    string    `json:"reason,omitempty"`
	PartyType PartyType `json:"partyType"`
	PartyID   string    `json:"partyId"`
	At        time.Time `json:"cancelledAt"`
}

// Verification is the one-time code record embedded in an Order. Only the
// bcrypt hash of the code is stored.
type Verification struct {
	CodeHash    string     `json:"-"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	Attempts    int        `json:"attempts"`
}

func (v *Verification) Issued() bool { return v.CodeHash != "" }

type Order struct {
	ID                 string               `json:"id"`
	OrderNumber        string               `json:"orderNumber"`
	BuyerID            string               `json:"buyerRef"`
	SellerID           string               `json:"sellerRef"`
	ProductID          string               `json:"productRef"`
	Snapshot           ProductSnapshot      `json:"productSnapshot"`
	Quantity           int                  `json:"quantity"`
	PricePerUnit       int64                `json:"pricePerUnit"`
	TotalAmount        int64                `json:"totalAmount"`
	Status             Status               `json:"orderStatus"`
	History            []StatusEntry        `json:"statusHistory"`
	PaymentStatus      PaymentStatus        `json:"paymentStatus"`
	PaymentMethod      string               `json:"paymentMethod"`
	PaymentConfirmedBy *PaymentConfirmation `json:"paymentConfirmedBy,omitempty"`
	Verification       Verification         `json:"verification"`
	ChatRoomID         string               `json:"chatRoomRef"`
	Cancellation       *Cancellation        `json:"cancellation,omitempty"`
	IdempotencyKey     string               `json:"-"`
	Version            int64                `json:"-"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// Party reports whether a is the buyer or the seller of the order.
func (o *Order) Party(a Actor) bool {
	switch a.Type {
	case PartyBuyer:
		return a.ID == o.BuyerID
	case PartySeller:
		return a.ID == o.SellerID
	}
	return false
}

type LastMessage struct {
	Content    string    `json:"content"`
	SenderType PartyType `json:"senderType"`
	SenderID   string    `json:"senderRef,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type UnreadCount struct {
	Buyer  int `json:"buyer"`
	Seller int `json:"seller"`
}

type ChatRoom struct {
	ID          string       `json:"id"`
	OrderID     string       `json:"orderRef"`
	BuyerID     string       `json:"buyerRef"`
	SellerID    string       `json:"sellerRef"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	Unread      UnreadCount  `json:"unreadCount"`
	LastSeq     int64        `json:"lastSeq"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func (r *ChatRoom) Member(a Actor) bool {
	switch a.Type {
	case PartyBuyer:
		return a.ID == r.BuyerID
	case PartySeller:
		return a.ID == r.SellerID
	}
	return false
}

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageSystem   MessageType = "system"
	MessageLocation MessageType = "location"
)

type Message struct {
	ID         string      `json:"id"`
	ChatRoomID string      `json:"chatRoomRef"`
	Seq        int64       `json:"seq"`
	SenderType PartyType   `json:"senderType"`
	SenderID   string      `json:"senderRef,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"messageType"`
	IsRead     bool        `json:"isRead"`
	ReadAt     *time.Time  `json:"readAt,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "RESERVED"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationConsumed ReservationStatus = "CONSUMED"
)

type Reservation struct {
	OrderID   string
	ProductID string
	Qty       int
	Status    ReservationStatus
	CreatedAt time.Time
}

type SellerStats struct {
	SellerID     string `json:"sellerRef"`
	TotalSales   int    `json:"totalSales"`
	TotalOrders  int    `json:"totalOrders"`
	TotalRevenue int64  `json:"totalRevenue"`
}
