package http

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/repository"
)

type MockQueue struct {
	mu   sync.Mutex
	Msgs []domain.InboundMessage
	Err  error
}

func (q *MockQueue) Enqueue(msg domain.InboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.Msgs = append(q.Msgs, msg)
	return nil
}

type MockPaymentEvents struct {
	mu      sync.Mutex
	Secrets map[string]string
	Default string
	Handled []*domain.PaymentEvent
	Err     error
}

func (m *MockPaymentEvents) WebhookSecretFor(_ context.Context, linkID string) string {
	if s, ok := m.Secrets[linkID]; ok {
		return s
	}
	return m.Default
}

func (m *MockPaymentEvents) HandlePaymentEvent(_ context.Context, ev *domain.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handled = append(m.Handled, ev)
	return m.Err
}

func (m *MockPaymentEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Handled)
}

// prefixCipher marks values instead of encrypting them.
type prefixCipher struct{}

func (prefixCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

type MockTenants struct {
	repository.TenantRepository
	mu      sync.Mutex
	tenants map[string]*domain.Tenant
}

func newMockTenants() *MockTenants {
	return &MockTenants{tenants: make(map[string]*domain.Tenant)}
}

func (m *MockTenants) phoneTaken(phoneNumberID, exceptTenantID string) bool {
	for _, t := range m.tenants {
		if t.TenantID != exceptTenantID && t.WhatsApp.PhoneNumberID == phoneNumberID {
			return true
		}
	}
	return false
}

func (m *MockTenants) Create(_ context.Context, t *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phoneTaken(t.WhatsApp.PhoneNumberID, "") {
		return repository.ErrDuplicatePhoneNumberID
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.tenants[t.TenantID] = &cp
	return nil
}

func (m *MockTenants) FindByTenantID(_ context.Context, tenantID string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, repository.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTenants) List(_ context.Context, f repository.TenantFilter) ([]*domain.Tenant, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Tenant
	for _, t := range m.tenants {
		if f.IsActive == nil || t.IsActive == *f.IsActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (m *MockTenants) Update(_ context.Context, t *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.TenantID]; !ok {
		return repository.ErrTenantNotFound
	}
	if m.phoneTaken(t.WhatsApp.PhoneNumberID, t.TenantID) {
		return repository.ErrDuplicatePhoneNumberID
	}
	cp := *t
	m.tenants[t.TenantID] = &cp
	return nil
}

func (m *MockTenants) Deactivate(_ context.Context, tenantID string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, repository.ErrTenantNotFound
	}
	t.IsActive = false
	cp := *t
	return &cp, nil
}

func (m *MockTenants) Count(_ context.Context, isActive *bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tenants {
		if isActive == nil || t.IsActive == *isActive {
			n++
		}
	}
	return n, nil
}

func (m *MockTenants) stored(tenantID string) *domain.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenants[tenantID]
}

type MockOrders struct {
	repository.OrderRepository
	Orders []*domain.Order
	Err    error
}

func (m *MockOrders) ListByTenant(_ context.Context, tenantID string, _ repository.Page) ([]*domain.Order, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*domain.Order, 0)
	for _, o := range m.Orders {
		if o.TenantID == tenantID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockOrders) Stats(_ context.Context, tenantID string) (*domain.OrderStats, error) {
	stats := &domain.OrderStats{ByStatus: map[domain.OrderStatus]int64{}}
	for _, o := range m.Orders {
		if o.TenantID != tenantID {
			continue
		}
		stats.TotalOrders++
		stats.ByStatus[o.Status]++
		if o.Status.CountsTowardRevenue() {
			stats.RevenueMinor += o.TotalMinor
		}
	}
	return stats, nil
}

func (m *MockOrders) Count(context.Context) (int64, error) {
	return int64(len(m.Orders)), m.Err
}

type MockConversations struct {
	repository.ConversationRepository
	Convs []*domain.Conversation
}

func (m *MockConversations) ListByTenant(_ context.Context, tenantID string, _ repository.Page) ([]*domain.Conversation, error) {
	out := make([]*domain.Conversation, 0)
	for _, c := range m.Convs {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockConversations) CountByState(_ context.Context, tenantID string) (map[domain.ConversationState]int64, error) {
	out := make(map[domain.ConversationState]int64)
	for _, c := range m.Convs {
		if c.TenantID == tenantID {
			out[c.State]++
		}
	}
	return out, nil
}

func (m *MockConversations) Count(context.Context) (int64, error) {
	return int64(len(m.Convs)), nil
}

type invalidation struct {
	TenantID       string
	PhoneNumberIDs []string
}

type MockResolverCache struct {
	mu    sync.Mutex
	Calls []invalidation
}

func (m *MockResolverCache) Invalidate(tenantID string, phoneNumberIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, invalidation{TenantID: tenantID, PhoneNumberIDs: phoneNumberIDs})
}

type MockClientCache struct {
	mu    sync.Mutex
	Calls []string
}

func (m *MockClientCache) Invalidate(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, tenantID)
}

type MockOps struct {
	mu       sync.Mutex
	Refunded *domain.Order
	Err      error
	Tested   []string
}

func (m *MockOps) RefundOrder(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Refunded, nil
}

func (m *MockOps) SendTestMessage(_ context.Context, tenantID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if strings.TrimSpace(phone) == "" {
		return domain.NewValidationError("phone", "required")
	}
	m.Tested = append(m.Tested, tenantID+"/"+phone)
	return nil
}
