package domain

import "time"

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeOrder       MessageType = "order"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeLocation    MessageType = "location"
)

// EventKind is the dispatch dimension of the conversation state machine.
type EventKind string

const (
	EventText             EventKind = "text"
	EventCatalogOrder     EventKind = "catalogOrder"
	EventInteractiveReply EventKind = "interactiveReply"
	EventLocationShare    EventKind = "locationShare"
	EventPaymentPaid      EventKind = "paymentPaid"
	EventPaymentExpired   EventKind = "paymentExpired"
	EventUnsupported      EventKind = "unsupported"
)

// InboundMessage is one customer message after webhook decoding.
type InboundMessage struct {
	PhoneNumberID string
	From          string
	Name          string
	MessageID     string
	Type          MessageType
	Timestamp     time.Time

	Text        string
	Order       *CatalogOrder
	Interactive *InteractiveReply
	Location    *LocationShare
}

type CatalogOrder struct {
	CatalogID string
	Items     []CatalogOrderItem
}

type CatalogOrderItem struct {
	ProductRetailerID string
	Quantity          int
	ItemPriceMinor    int64
	Currency          string
}

type InteractiveReply struct {
	ID    string
	Title string
}

type LocationShare struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// Kind classifies the message; a type whose payload is missing is unsupported.
func (m InboundMessage) Kind() EventKind {
	switch m.Type {
	case MessageTypeText:
		return EventText
	case MessageTypeOrder:
		if m.Order != nil {
			return EventCatalogOrder
		}
	case MessageTypeInteractive:
		if m.Interactive != nil {
			return EventInteractiveReply
		}
	case MessageTypeLocation:
		if m.Location != nil {
			return EventLocationShare
		}
	}
	return EventUnsupported
}

// ConversationKey identifies the single-writer lane for a customer of one business number.
func ConversationKey(phoneNumberID, from string) string {
	return phoneNumberID + ":" + from
}

type PaymentEventType string

const (
	PaymentLinkPaid      PaymentEventType = "payment_link.paid"
	PaymentLinkExpired   PaymentEventType = "payment_link.expired"
	PaymentLinkCancelled PaymentEventType = "payment_link.cancelled"
	PaymentCaptured      PaymentEventType = "payment.captured"
	PaymentFailed        PaymentEventType = "payment.failed"
)

// PaymentEvent is a decoded payment-provider webhook.
type PaymentEvent struct {
	EventID       string
	Type          PaymentEventType
	PaymentLinkID string
	ReferenceID   string
	PaymentID     string
	Method        string
	CreatedAt     time.Time
}

// Kind maps link lifecycle events onto the state machine's event kinds.
func (e PaymentEvent) Kind() EventKind {
	switch e.Type {
	case PaymentLinkPaid:
		return EventPaymentPaid
	case PaymentLinkExpired, PaymentLinkCancelled:
		return EventPaymentExpired
	}
	return EventUnsupported
}

// OrderEvent is published to downstream consumers through the outbox.
type OrderEvent struct {
	Type         string      `json:"type"`
	OrderID      string      `json:"order_id"`
	TenantID     string      `json:"tenant_id"`
	PhoneNumber  string      `json:"phone_number"`
	CustomerName string      `json:"customer_name,omitempty"`
	TotalMinor   int64       `json:"total_minor"`
	Currency     string      `json:"currency"`
	ItemCount    int         `json:"item_count"`
	Status       OrderStatus `json:"status"`
	PaymentID    string      `json:"payment_id,omitempty"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

const (
	OrderEventPaid      = "order.paid"
	OrderEventCancelled = "order.cancelled"
	OrderEventRefunded  = "order.refunded"
)

func NewOrderEvent(eventType string, o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:         eventType,
		OrderID:      o.OrderID,
		TenantID:     o.TenantID,
		PhoneNumber:  o.PhoneNumber,
		CustomerName: o.CustomerName,
		TotalMinor:   o.TotalMinor,
		Currency:     o.Currency,
		ItemCount:    len(o.Items),
		Status:       o.Status,
		PaymentID:    o.Payment.PaymentID,
		OccurredAt:   at,
	}
}
