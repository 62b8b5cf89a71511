package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/wa-commerce/internal/domain"
)

var (
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrTenantNotFound         = errors.New("tenant not found")
	ErrDuplicatePhoneNumberID = errors.New("phone number id already registered")
	ErrDuplicateOrder         = errors.New("order already exists")
	ErrOrderStateConflict     = errors.New("order is not in the expected status")
)

// ConversationRepository stores one conversation per (tenant, phone number).
// Consumers define this interface, not the MongoDB implementation
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, tenantID, phoneNumber string) (*domain.Conversation, error)
	Get(ctx context.Context, tenantID, phoneNumber string) (*domain.Conversation, error)
	Save(ctx context.Context, conv *domain.Conversation) error
	FindByPaymentLinkID(ctx context.Context, tenantID, paymentLinkID string) (*domain.Conversation, error)
	ListByTenant(ctx context.Context, tenantID string, page Page) ([]*domain.Conversation, error)
	CountByState(ctx context.Context, tenantID string) (map[domain.ConversationState]int64, error)
	Count(ctx context.Context) (int64, error)
}

// OrderRepository looks orders up globally by payment link id; the index behind it spans all tenants.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByPaymentLinkID(ctx context.Context, paymentLinkID string) (*domain.Order, error)
	FindByOrderID(ctx context.Context, tenantID, orderID string) (*domain.Order, error)
	// MarkPaid settles a pending order. The bool is false when the order was not pending.
	MarkPaid(ctx context.Context, paymentLinkID, paymentID, method string, paidAt time.Time) (*domain.Order, bool, error)
	// ClosePayment cancels a pending order with the given payment status.
	ClosePayment(ctx context.Context, paymentLinkID string, status domain.PaymentStatus) (*domain.Order, bool, error)
	MarkRefunded(ctx context.Context, tenantID, orderID, refundID string) (*domain.Order, error)
	ListByTenant(ctx context.Context, tenantID string, page Page) ([]*domain.Order, error)
	Stats(ctx context.Context, tenantID string) (*domain.OrderStats, error)
	Count(ctx context.Context) (int64, error)
}

type TenantFilter struct {
	Page
	IsActive *bool
}

type TenantRepository interface {
	Create(ctx context.Context, tenant *domain.Tenant) error
	FindByTenantID(ctx context.Context, tenantID string) (*domain.Tenant, error)
	FindActiveByTenantID(ctx context.Context, tenantID string) (*domain.Tenant, error)
	FindActiveByPhoneNumberID(ctx context.Context, phoneNumberID string) (*domain.Tenant, error)
	List(ctx context.Context, filter TenantFilter) ([]*domain.Tenant, int64, error)
	Update(ctx context.Context, tenant *domain.Tenant) error
	Deactivate(ctx context.Context, tenantID string) (*domain.Tenant, error)
	Count(ctx context.Context, isActive *bool) (int64, error)
}

type OutboxEvent struct {
	ID          string     `bson:"_id"`
	AggregateID string     `bson:"aggregate_id"`
	EventType   string     `bson:"event_type"`
	Payload     []byte     `bson:"payload"`
	Processed   bool       `bson:"processed"`
	CreatedAt   time.Time  `bson:"created_at"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty"`
}

type OutboxRepository interface {
	Append(ctx context.Context, event *OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}
