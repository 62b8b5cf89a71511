package service

import (
	"context"

	"github.com/fjod/wa-commerce/internal/domain"
)

// Messenger sends outbound channel messages for one tenant.
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []domain.Button) error
	SendCatalog(ctx context.Context, to, body, thumbnailProductID string) error
	SendDocument(ctx context.Context, to string, doc domain.Document) error
	MarkRead(ctx context.Context, messageID string) error
}

// PaymentProvider is one tenant's payment account.
type PaymentProvider interface {
	CreatePaymentLink(ctx context.Context, req domain.PaymentLinkRequest) (*domain.PaymentLink, error)
	CancelPaymentLink(ctx context.Context, id string) error
	Refund(ctx context.Context, paymentID string, amountMinor int64) (string, error)
}

type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (*domain.GeocodeResult, error)
}

type ReceiptRenderer interface {
	Render(ctx context.Context, r domain.Receipt) (*domain.Document, error)
}

// TenantResolver returns decrypted tenant configuration. Unknown or inactive
// tenants come back as a domain.NotFoundError.
type TenantResolver interface {
	ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*domain.TenantConfig, error)
	ByTenantID(ctx context.Context, tenantID string) (*domain.TenantConfig, error)
}

// ClientFactory hands out cached per-tenant collaborators.
type ClientFactory interface {
	Messenger(cfg *domain.TenantConfig) (Messenger, error)
	Payments(cfg *domain.TenantConfig) (PaymentProvider, error)
}

// Serializer runs conversation work one job at a time per key.
type Serializer interface {
	Submit(key string, fn func(context.Context) error) error
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}
