package domain

import "time"

type ConversationState string

const (
	StateNew             ConversationState = "NEW"
	StateBrowsing        ConversationState = "BROWSING"
	StateAwaitingAddress ConversationState = "AWAITING_ADDRESS"
	StateAwaitingPayment ConversationState = "AWAITING_PAYMENT"
	StateCompleted       ConversationState = "COMPLETED"
	StateCancelled       ConversationState = "CANCELLED"
)

// AllConversationStates lists every state in funnel order.
var AllConversationStates = []ConversationState{
	StateNew,
	StateBrowsing,
	StateAwaitingAddress,
	StateAwaitingPayment,
	StateCompleted,
	StateCancelled,
}

// IsTerminal reports whether no further cancel is meaningful. COMPLETED customers
// may still start over, so only CANCELLED counts.
func (s ConversationState) IsTerminal() bool {
	return s == StateCancelled
}

// String representation (for logging)
func (s ConversationState) String() string {
	return string(s)
}

type AddressSource string

const (
	AddressSourceLocation AddressSource = "location"
	AddressSourceText     AddressSource = "text"
)

type GeoPoint struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// PendingAddress is an area-level address waiting for house/flat detail.
type PendingAddress struct {
	Text     string        `bson:"text" json:"text"`
	Source   AddressSource `bson:"source" json:"source"`
	Location *GeoPoint     `bson:"location,omitempty" json:"location,omitempty"`
}

// Conversation is keyed by (TenantID, PhoneNumber).
type Conversation struct {
	TenantID       string            `bson:"tenant_id" json:"tenantId"`
	PhoneNumber    string            `bson:"phone_number" json:"phoneNumber"`
	CustomerName   string            `bson:"customer_name" json:"customerName,omitempty"`
	State          ConversationState `bson:"state" json:"state"`
	Cart           *Cart             `bson:"cart" json:"cart,omitempty"`
	Address        string            `bson:"address" json:"address,omitempty"`
	PendingAddress *PendingAddress   `bson:"pending_address" json:"pendingAddress,omitempty"`
	OrderID        string            `bson:"order_id" json:"orderId,omitempty"`
	PaymentLinkID  string            `bson:"payment_link_id" json:"paymentLinkId,omitempty"`
	PaymentLinkURL string            `bson:"payment_link_url" json:"paymentLinkUrl,omitempty"`
	LastMessageAt  time.Time         `bson:"last_message_at" json:"lastMessageAt"`
	CreatedAt      time.Time         `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `bson:"updated_at" json:"updatedAt"`
}

// ClearCheckout drops the cart, address and order linkage without touching state.
func (c *Conversation) ClearCheckout() {
	c.Cart = nil
	c.Address = ""
	c.PendingAddress = nil
	c.OrderID = ""
	c.PaymentLinkID = ""
	c.PaymentLinkURL = ""
}

// Reset returns the conversation to the top of the funnel.
func (c *Conversation) Reset() {
	c.ClearCheckout()
	c.State = StateBrowsing
}

func (c *Conversation) HasCart() bool {
	return c.Cart != nil && len(c.Cart.Items) > 0
}
