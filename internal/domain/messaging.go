package domain

import "time"

// MaxButtonTitle is the channel limit for reply button labels.
const MaxButtonTitle = 20

type Button struct {
	ID    string
	Title string
}

// Document is a hosted file sent to the customer.
type Document struct {
	URL      string
	Filename string
	Caption  string
	Path     string
}

type PaymentLinkRequest struct {
	OrderID       string
	AmountMinor   int64
	Currency      string
	CustomerName  string
	CustomerPhone string
	Description   string
	ExpireBy      time.Time
}

type PaymentLink struct {
	ID       string
	ShortURL string
	Status   string
}

// Receipt is what the receipt renderer needs about a paid order.
type Receipt struct {
	BusinessName  string
	BusinessPhone string
	Order         *Order
	CustomerName  string
}
