package domain

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaymentPending,
	OrderStatusPaid,
	OrderStatusConfirmed,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusPaymentPending, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaymentPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusConfirmed, OrderStatusRefunded},
	OrderStatusConfirmed:      {OrderStatusShipped, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusShipped:        {OrderStatusDelivered},
	OrderStatusDelivered:      {OrderStatusRefunded},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsAwaitingPayment is true for statuses a payment webhook may still settle.
func (s OrderStatus) IsAwaitingPayment() bool {
	return s == OrderStatusPending || s == OrderStatusPaymentPending
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCreated   PaymentStatus = "CREATED"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

type OrderItem struct {
	ProductID      string `bson:"product_id" json:"productId"`
	ProductName    string `bson:"product_name,omitempty" json:"productName,omitempty"`
	Quantity       int    `bson:"quantity" json:"quantity"`
	UnitPriceMinor int64  `bson:"unit_price_minor" json:"unitPriceMinor"`
	LineTotalMinor int64  `bson:"line_total_minor" json:"lineTotalMinor"`
}

type ShippingAddress struct {
	FullAddress string `bson:"full_address" json:"fullAddress"`
	Country     string `bson:"country" json:"country"`
}

type PaymentDetails struct {
	PaymentLinkID  string        `bson:"payment_link_id" json:"paymentLinkId"`
	PaymentLinkURL string        `bson:"payment_link_url" json:"paymentLinkUrl"`
	PaymentID      string        `bson:"payment_id,omitempty" json:"paymentId,omitempty"`
	AmountMinor    int64         `bson:"amount_minor" json:"amountMinor"`
	Currency       string        `bson:"currency" json:"currency"`
	Status         PaymentStatus `bson:"status" json:"status"`
	PaidAt         *time.Time    `bson:"paid_at,omitempty" json:"paidAt,omitempty"`
	Method         string        `bson:"method,omitempty" json:"method,omitempty"`
	RefundID       string        `bson:"refund_id,omitempty" json:"refundId,omitempty"`
}

// Order items and address are a snapshot; only Status and Payment mutate.
type Order struct {
	OrderID         string          `bson:"order_id" json:"orderId"`
	TenantID        string          `bson:"tenant_id" json:"tenantId"`
	PhoneNumber     string          `bson:"phone_number" json:"phoneNumber"`
	CustomerName    string          `bson:"customer_name,omitempty" json:"customerName,omitempty"`
	Items           []OrderItem     `bson:"items" json:"items"`
	TotalMinor      int64           `bson:"total_minor" json:"totalMinor"`
	Currency        string          `bson:"currency" json:"currency"`
	ShippingAddress ShippingAddress `bson:"shipping_address" json:"shippingAddress"`
	Payment         PaymentDetails  `bson:"payment" json:"payment"`
	Status          OrderStatus     `bson:"status" json:"status"`
	CreatedAt       time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `bson:"updated_at" json:"updatedAt"`
}

// OrderItemsFromCart snapshots cart lines.
func OrderItemsFromCart(cart *Cart) []OrderItem {
	items := make([]OrderItem, 0, cart.ItemCount())
	for _, it := range cart.Items {
		items = append(items, OrderItem{
			ProductID:      it.ProductID,
			ProductName:    it.ProductName,
			Quantity:       it.Quantity,
			UnitPriceMinor: it.UnitPriceMinor,
			LineTotalMinor: it.LineTotalMinor(),
		})
	}
	return items
}

// orderSuffixSpace is 36^4, every 4 char base36 suffix.
var orderSuffixSpace = big.NewInt(36 * 36 * 36 * 36)

// GenerateOrderID returns ORD-<base36 unix millis>-<4 char base36 suffix>, upper case.
func GenerateOrderID(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	// crypto/rand.Reader does not fail on supported platforms.
	n, _ := rand.Int(rand.Reader, orderSuffixSpace)
	suffix := strings.ToUpper(strconv.FormatInt(n.Int64(), 36))
	if len(suffix) < 4 {
		suffix = strings.Repeat("0", 4-len(suffix)) + suffix
	}
	return "ORD-" + ts + "-" + suffix
}

// OrderStats summarizes a tenant's orders. Revenue counts settled orders only.
type OrderStats struct {
	TotalOrders  int64                 `json:"totalOrders"`
	ByStatus     map[OrderStatus]int64 `json:"byStatus"`
	RevenueMinor int64                 `json:"revenueMinor"`
}

// CountsTowardRevenue is true once money was captured and not returned.
func (s OrderStatus) CountsTowardRevenue() bool {
	switch s {
	case OrderStatusPaid, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}
