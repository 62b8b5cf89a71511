package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/logger"
	"github.com/fjod/wa-commerce/internal/repository"
)

// MockConversations is an in-memory repository.ConversationRepository. It
// hands out copies so the engine cannot mutate stored state without Save.
type MockConversations struct {
	mu    sync.Mutex
	convs map[string]domain.Conversation
	saves int
}

func NewMockConversations() *MockConversations {
	return &MockConversations{convs: make(map[string]domain.Conversation)}
}

func convKey(tenantID, phone string) string { return tenantID + "|" + phone }

func (m *MockConversations) GetOrCreate(_ context.Context, tenantID, phone string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[convKey(tenantID, phone)]
	if !ok {
		c = domain.Conversation{TenantID: tenantID, PhoneNumber: phone, State: domain.StateNew, CreatedAt: time.Now()}
		m.convs[convKey(tenantID, phone)] = c
	}
	return &c, nil
}

func (m *MockConversations) Get(_ context.Context, tenantID, phone string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[convKey(tenantID, phone)]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	return &c, nil
}

func (m *MockConversations) Save(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.convs[convKey(conv.TenantID, conv.PhoneNumber)] = *conv
	return nil
}

func (m *MockConversations) FindByPaymentLinkID(_ context.Context, tenantID, linkID string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.TenantID == tenantID && linkID != "" && c.PaymentLinkID == linkID {
			return &c, nil
		}
	}
	return nil, repository.ErrConversationNotFound
}

func (m *MockConversations) ListByTenant(_ context.Context, tenantID string, _ repository.Page) ([]*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Conversation
	for _, c := range m.convs {
		if c.TenantID == tenantID {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockConversations) CountByState(_ context.Context, tenantID string) (map[domain.ConversationState]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.ConversationState]int64)
	for _, c := range m.convs {
		if c.TenantID == tenantID {
			counts[c.State]++
		}
	}
	return counts, nil
}

func (m *MockConversations) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.convs)), nil
}

// put seeds a conversation directly.
func (m *MockConversations) put(c domain.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[convKey(c.TenantID, c.PhoneNumber)] = c
}

func (m *MockConversations) get(tenantID, phone string) domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs[convKey(tenantID, phone)]
}

// MockOrders is an in-memory repository.OrderRepository with the same
// conditional update semantics as the MongoDB implementation.
type MockOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	CreateErr error
}

func NewMockOrders() *MockOrders {
	return &MockOrders{orders: make(map[string]domain.Order)}
}

func (m *MockOrders) Create(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.orders[o.OrderID]; ok {
		return repository.ErrDuplicateOrder
	}
	m.orders[o.OrderID] = *o
	return nil
}

func (m *MockOrders) byLink(linkID string) (string, bool) {
	for id, o := range m.orders {
		if o.Payment.PaymentLinkID == linkID {
			return id, true
		}
	}
	return "", false
}

func (m *MockOrders) FindByPaymentLinkID(_ context.Context, linkID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byLink(linkID)
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	o := m.orders[id]
	return &o, nil
}

func (m *MockOrders) FindByOrderID(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (m *MockOrders) MarkPaid(_ context.Context, linkID, paymentID, method string, paidAt time.Time) (*domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byLink(linkID)
	if !ok {
		return nil, false, repository.ErrOrderNotFound
	}
	o := m.orders[id]
	if !o.Status.IsAwaitingPayment() {
		return &o, false, nil
	}
	at := paidAt.UTC()
	o.Status = domain.OrderStatusPaid
	o.Payment.Status = domain.PaymentStatusPaid
	o.Payment.PaymentID = paymentID
	o.Payment.Method = method
	o.Payment.PaidAt = &at
	m.orders[id] = o
	return &o, true, nil
}

func (m *MockOrders) ClosePayment(_ context.Context, linkID string, status domain.PaymentStatus) (*domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byLink(linkID)
	if !ok {
		return nil, false, repository.ErrOrderNotFound
	}
	o := m.orders[id]
	if !o.Status.IsAwaitingPayment() {
		return &o, false, nil
	}
	o.Status = domain.OrderStatusCancelled
	o.Payment.Status = status
	m.orders[id] = o
	return &o, true, nil
}

func (m *MockOrders) MarkRefunded(_ context.Context, tenantID, orderID, refundID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, repository.ErrOrderNotFound
	}
	if o.Status != domain.OrderStatusPaid {
		return nil, repository.ErrOrderStateConflict
	}
	o.Status = domain.OrderStatusRefunded
	o.Payment.Status = domain.PaymentStatusRefunded
	o.Payment.RefundID = refundID
	m.orders[orderID] = o
	return &o, nil
}

func (m *MockOrders) ListByTenant(_ context.Context, tenantID string, _ repository.Page) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.TenantID == tenantID {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (m *MockOrders) Stats(_ context.Context, tenantID string) (*domain.OrderStats, error) {
	return &domain.OrderStats{ByStatus: map[domain.OrderStatus]int64{}}, nil
}

func (m *MockOrders) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.orders)), nil
}

func (m *MockOrders) all() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

type MockOutbox struct {
	mu     sync.Mutex
	Events []*repository.OutboxEvent
}

func (m *MockOutbox) Append(_ context.Context, ev *repository.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockOutbox) GetUnprocessedEvents(_ context.Context, _ int) ([]*repository.OutboxEvent, error) {
	return nil, nil
}

func (m *MockOutbox) MarkEventAsProcessed(_ context.Context, _ string) error { return nil }

func (m *MockOutbox) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Events))
	for _, ev := range m.Events {
		out = append(out, ev.EventType)
	}
	return out
}

type MockResolver struct {
	tenants map[string]*domain.TenantConfig
	Err     error
}

func (m *MockResolver) ByPhoneNumberID(_ context.Context, phoneNumberID string) (*domain.TenantConfig, error) {
	for _, t := range m.tenants {
		if t.WhatsApp.PhoneNumberID == phoneNumberID {
			return t, nil
		}
	}
	return nil, domain.NewNotFoundError("tenant", phoneNumberID, repository.ErrTenantNotFound)
}

func (m *MockResolver) ByTenantID(_ context.Context, tenantID string) (*domain.TenantConfig, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if t, ok := m.tenants[tenantID]; ok {
		return t, nil
	}
	return nil, domain.NewNotFoundError("tenant", tenantID, repository.ErrTenantNotFound)
}

type sent struct {
	Kind    string
	To      string
	Body    string
	Buttons []domain.Button
	Doc     domain.Document
}

type MockMessenger struct {
	mu      sync.Mutex
	Sent    []sent
	Read    []string
	SendErr error
}

func (m *MockMessenger) record(s sent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, s)
	return nil
}

func (m *MockMessenger) SendText(_ context.Context, to, body string) error {
	return m.record(sent{Kind: "text", To: to, Body: body})
}

func (m *MockMessenger) SendButtons(_ context.Context, to, body string, buttons []domain.Button) error {
	return m.record(sent{Kind: "buttons", To: to, Body: body, Buttons: buttons})
}

func (m *MockMessenger) SendCatalog(_ context.Context, to, body, _ string) error {
	return m.record(sent{Kind: "catalog", To: to, Body: body})
}

func (m *MockMessenger) SendDocument(_ context.Context, to string, doc domain.Document) error {
	return m.record(sent{Kind: "document", To: to, Doc: doc})
}

func (m *MockMessenger) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Read = append(m.Read, id)
	return nil
}

func (m *MockMessenger) last() sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return sent{}
	}
	return m.Sent[len(m.Sent)-1]
}

func (m *MockMessenger) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func (m *MockMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = nil
}

type MockPayments struct {
	mu        sync.Mutex
	Requests  []domain.PaymentLinkRequest
	Cancelled []string
	Refunded  []string
	CreateErr error
	seq       int
}

func (m *MockPayments) CreatePaymentLink(_ context.Context, req domain.PaymentLinkRequest) (*domain.PaymentLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.seq++
	m.Requests = append(m.Requests, req)
	id := fmt.Sprintf("plink_%d", m.seq)
	return &domain.PaymentLink{ID: id, ShortURL: "https://rzp.io/i/" + id, Status: "created"}, nil
}

func (m *MockPayments) CancelPaymentLink(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, id)
	return nil
}

func (m *MockPayments) Refund(_ context.Context, paymentID string, _ int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refunded = append(m.Refunded, paymentID)
	return "rfnd_" + paymentID, nil
}

type MockClients struct {
	messenger *MockMessenger
	payments  *MockPayments
}

func (m *MockClients) Messenger(_ *domain.TenantConfig) (Messenger, error) {
	return m.messenger, nil
}

func (m *MockClients) Payments(_ *domain.TenantConfig) (PaymentProvider, error) {
	return m.payments, nil
}

type MockGeocoder struct {
	Result *domain.GeocodeResult
	Err    error
	Calls  int
}

func (m *MockGeocoder) Reverse(_ context.Context, _, _ float64) (*domain.GeocodeResult, error) {
	m.Calls++
	return m.Result, m.Err
}

type MockReceipts struct {
	Rendered []string
	Err      error
}

func (m *MockReceipts) Render(_ context.Context, r domain.Receipt) (*domain.Document, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.Rendered = append(m.Rendered, r.Order.OrderID)
	return &domain.Document{URL: "https://shop.example/receipts/" + r.Order.OrderID + ".pdf", Filename: r.Order.OrderID + ".pdf"}, nil
}

// inlineSerializer runs jobs on the calling goroutine. failNext rejects the
// next job without running it.
type inlineSerializer struct {
	mu       sync.Mutex
	keys     []string
	failNext error
}

func (s *inlineSerializer) Submit(key string, fn func(context.Context) error) error {
	return s.Do(context.Background(), key, fn)
}

func (s *inlineSerializer) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	err := s.failNext
	s.failNext = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

const (
	testTenantID      = "tnt_handloom01"
	testPhoneNumberID = "1098765432"
	testCustomer      = "919800000001"
)

var errBoom = errors.New("boom")

type fixture struct {
	engine        *Engine
	conversations *MockConversations
	orders        *MockOrders
	outbox        *MockOutbox
	messenger     *MockMessenger
	payments      *MockPayments
	geocoder      *MockGeocoder
	receipts      *MockReceipts
	serializer    *inlineSerializer
	resolver      *MockResolver
	tenant        *domain.TenantConfig
}

func newFixture() *fixture {
	tenant := &domain.TenantConfig{
		TenantID:      testTenantID,
		BusinessName:  "Handloom House",
		BusinessPhone: "+91 98000 00000",
		WhatsApp:      domain.WhatsAppConfig{PhoneNumberID: testPhoneNumberID, APIVersion: domain.DefaultWhatsAppAPIVersion},
		Razorpay:      domain.RazorpayConfig{KeyID: "rzp_test", KeySecret: "secret", WebhookSecret: "tenant-whsec"},
		Settings:      domain.TenantSettings{Currency: "INR"},
	}
	f := &fixture{
		conversations: NewMockConversations(),
		orders:        NewMockOrders(),
		outbox:        &MockOutbox{},
		messenger:     &MockMessenger{},
		payments:      &MockPayments{},
		geocoder:      &MockGeocoder{Err: errBoom},
		receipts:      &MockReceipts{},
		serializer:    &inlineSerializer{},
		resolver:      &MockResolver{tenants: map[string]*domain.TenantConfig{tenant.TenantID: tenant}},
		tenant:        tenant,
	}
	f.engine = NewEngine(Deps{
		Conversations:        f.conversations,
		Orders:               f.orders,
		Outbox:               f.outbox,
		Tenants:              f.resolver,
		Clients:              &MockClients{messenger: f.messenger, payments: f.payments},
		Geocoder:             f.geocoder,
		Receipts:             f.receipts,
		Serializer:           f.serializer,
		Logger:               logger.Discard(),
		DefaultCountry:       "India",
		DefaultWebhookSecret: "default-whsec",
	})
	return f
}

func (f *fixture) conv() domain.Conversation {
	return f.conversations.get(testTenantID, testCustomer)
}

func (f *fixture) seed(c domain.Conversation) {
	c.TenantID = testTenantID
	c.PhoneNumber = testCustomer
	f.conversations.put(c)
}

func textMsg(body string) domain.InboundMessage {
	return domain.InboundMessage{
		PhoneNumberID: testPhoneNumberID,
		From:          testCustomer,
		Name:          "Priya",
		MessageID:     "wamid.1",
		Type:          domain.MessageTypeText,
		Text:          body,
	}
}

func orderMsg(items ...domain.CatalogOrderItem) domain.InboundMessage {
	m := textMsg("")
	m.Type = domain.MessageTypeOrder
	m.Order = &domain.CatalogOrder{CatalogID: "cat_1", Items: items}
	return m
}

func buttonMsg(id string) domain.InboundMessage {
	m := textMsg("")
	m.Type = domain.MessageTypeInteractive
	m.Interactive = &domain.InteractiveReply{ID: id}
	return m
}

func locationMsg(lat, lng float64, address string) domain.InboundMessage {
	m := textMsg("")
	m.Type = domain.MessageTypeLocation
	m.Location = &domain.LocationShare{Latitude: lat, Longitude: lng, Address: address}
	return m
}

func sampleCart() *domain.Cart {
	return domain.NewCart("cat_1", []domain.CartItem{
		{ProductID: "saree-1", Quantity: 1, UnitPriceMinor: 249900},
	})
}
