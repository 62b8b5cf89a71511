package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/repository"
)

type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

type ResolverCache interface {
	Invalidate(tenantID string, phoneNumberIDs ...string)
}

type ClientCache interface {
	Invalidate(tenantID string)
}

// OrderOps are the tenant operations that go through the ordering engine.
type OrderOps interface {
	RefundOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error)
	SendTestMessage(ctx context.Context, tenantID, phone string) error
}

type TenantHandler struct {
	tenants       repository.TenantRepository
	orders        repository.OrderRepository
	conversations repository.ConversationRepository
	cipher        Encrypter
	resolver      ResolverCache
	clients       ClientCache
	ops           OrderOps
	timeout       time.Duration
	logger        *slog.Logger
}

type TenantHandlerDeps struct {
	Tenants       repository.TenantRepository
	Orders        repository.OrderRepository
	Conversations repository.ConversationRepository
	Cipher        Encrypter
	Resolver      ResolverCache
	Clients       ClientCache
	Ops           OrderOps
	Timeout       time.Duration
	Logger        *slog.Logger
}

func NewTenantHandler(d TenantHandlerDeps) *TenantHandler {
	return &TenantHandler{
		tenants:       d.Tenants,
		orders:        d.Orders,
		conversations: d.Conversations,
		cipher:        d.Cipher,
		resolver:      d.Resolver,
		clients:       d.Clients,
		ops:           d.Ops,
		timeout:       d.Timeout,
		logger:        d.Logger,
	}
}

type WhatsAppDTO struct {
	PhoneNumberID     string `json:"phoneNumberId"`
	BusinessAccountID string `json:"businessAccountId"`
	AccessToken       string `json:"accessToken"`
	VerifyToken       string `json:"verifyToken"`
	CatalogID         string `json:"catalogId"`
	APIVersion        string `json:"apiVersion,omitempty"`
}

type RazorpayDTO struct {
	KeyID         string `json:"keyId"`
	KeySecret     string `json:"keySecret"`
	WebhookSecret string `json:"webhookSecret"`
}

type SMSDTO struct {
	Provider domain.SMSProvider `json:"provider"`
	MSG91    *struct {
		APIKey   string `json:"apiKey"`
		SenderID string `json:"senderId"`
		FlowID   string `json:"flowId"`
	} `json:"msg91,omitempty"`
	Twilio *struct {
		AccountSID  string `json:"accountSid"`
		AuthToken   string `json:"authToken"`
		PhoneNumber string `json:"phoneNumber"`
	} `json:"twilio,omitempty"`
}

type CreateTenantRequestDTO struct {
	BusinessName  string                 `json:"businessName"`
	BusinessPhone string                 `json:"businessPhone"`
	BusinessEmail string                 `json:"businessEmail"`
	WhatsApp      WhatsAppDTO            `json:"whatsapp"`
	Razorpay      RazorpayDTO            `json:"razorpay"`
	SMS           *SMSDTO                `json:"sms,omitempty"`
	Settings      *domain.TenantSettings `json:"settings,omitempty"`
}

// UpdateTenantRequestDTO carries only the fields being changed.
type UpdateTenantRequestDTO struct {
	BusinessName  *string `json:"businessName"`
	BusinessPhone *string `json:"businessPhone"`
	BusinessEmail *string `json:"businessEmail"`
	WhatsApp      *struct {
		PhoneNumberID     *string `json:"phoneNumberId"`
		BusinessAccountID *string `json:"businessAccountId"`
		AccessToken       *string `json:"accessToken"`
		VerifyToken       *string `json:"verifyToken"`
		CatalogID         *string `json:"catalogId"`
		APIVersion        *string `json:"apiVersion"`
	} `json:"whatsapp"`
	Razorpay *struct {
		KeyID         *string `json:"keyId"`
		KeySecret     *string `json:"keySecret"`
		WebhookSecret *string `json:"webhookSecret"`
	} `json:"razorpay"`
	SMS      *SMSDTO `json:"sms"`
	Settings *struct {
		WelcomeMessage *string `json:"welcomeMessage"`
		Currency       *string `json:"currency"`
		Timezone       *string `json:"timezone"`
	} `json:"settings"`
	IsActive *bool `json:"isActive"`
}

// TenantResponseDTO never carries credentials, only whether they are set.
type TenantResponseDTO struct {
	TenantID      string                `json:"tenantId"`
	BusinessName  string                `json:"businessName"`
	BusinessPhone string                `json:"businessPhone"`
	BusinessEmail string                `json:"businessEmail"`
	WhatsApp      TenantWhatsAppView    `json:"whatsapp"`
	Razorpay      ConfiguredView        `json:"razorpay"`
	SMS           *TenantSMSView        `json:"sms,omitempty"`
	Settings      domain.TenantSettings `json:"settings"`
	IsActive      bool                  `json:"isActive"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

type TenantWhatsAppView struct {
	PhoneNumberID     string `json:"phoneNumberId"`
	BusinessAccountID string `json:"businessAccountId"`
	CatalogID         string `json:"catalogId"`
	APIVersion        string `json:"apiVersion"`
}

type ConfiguredView struct {
	IsConfigured bool `json:"isConfigured"`
}

type TenantSMSView struct {
	Provider     domain.SMSProvider `json:"provider"`
	IsConfigured bool               `json:"isConfigured"`
}

type PaginationDTO struct {
	Total int64 `json:"total,omitempty"`
	Limit int64 `json:"limit"`
	Skip  int64 `json:"skip"`
}

func toTenantResponse(t *domain.Tenant) TenantResponseDTO {
	dto := TenantResponseDTO{
		TenantID:      t.TenantID,
		BusinessName:  t.BusinessName,
		BusinessPhone: t.BusinessPhone,
		BusinessEmail: t.BusinessEmail,
		WhatsApp: TenantWhatsAppView{
			PhoneNumberID:     t.WhatsApp.PhoneNumberID,
			BusinessAccountID: t.WhatsApp.BusinessAccountID,
			CatalogID:         t.WhatsApp.CatalogID,
			APIVersion:        t.WhatsApp.APIVersion,
		},
		Razorpay:  ConfiguredView{IsConfigured: t.Razorpay.KeyID != "" && t.Razorpay.KeySecret != ""},
		Settings:  t.Settings,
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.SMS != nil {
		dto.SMS = &TenantSMSView{
			Provider:     t.SMS.Provider,
			IsConfigured: (t.SMS.MSG91 != nil && t.SMS.MSG91.APIKey != "") || (t.SMS.Twilio != nil && t.SMS.Twilio.AccountSID != ""),
		}
	}
	return dto
}

func (req *CreateTenantRequestDTO) validate() error {
	required := []struct{ field, value string }{
		{"businessName", req.BusinessName},
		{"whatsapp.phoneNumberId", req.WhatsApp.PhoneNumberID},
		{"whatsapp.accessToken", req.WhatsApp.AccessToken},
		{"razorpay.keyId", req.Razorpay.KeyID},
		{"razorpay.keySecret", req.Razorpay.KeySecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.NewValidationError(r.field, "required")
		}
	}
	if req.SMS != nil {
		if err := validateSMSProvider(req.SMS.Provider); err != nil {
			return err
		}
	}
	return nil
}

func validateSMSProvider(p domain.SMSProvider) error {
	switch p {
	case domain.SMSProviderNone, domain.SMSProviderMSG91, domain.SMSProviderTwilio:
		return nil
	}
	return domain.NewValidationError("sms.provider", "must be none, msg91 or twilio")
}

// sealer encrypts a run of credential fields, keeping the first failure.
type sealer struct {
	cipher Encrypter
	err    error
}

func (s *sealer) seal(plain string) string {
	if s.err != nil || plain == "" {
		return ""
	}
	out, err := s.cipher.Encrypt(plain)
	if err != nil {
		s.err = err
		return ""
	}
	return out
}

func (s *sealer) smsAccount(dto *SMSDTO) *domain.SMSAccount {
	acc := &domain.SMSAccount{Provider: dto.Provider}
	if acc.Provider == "" {
		acc.Provider = domain.SMSProviderNone
	}
	if dto.MSG91 != nil {
		acc.MSG91 = &domain.MSG91Account{
			APIKey:   s.seal(dto.MSG91.APIKey),
			SenderID: dto.MSG91.SenderID,
			FlowID:   dto.MSG91.FlowID,
		}
	}
	if dto.Twilio != nil {
		acc.Twilio = &domain.TwilioAccount{
			AccountSID:  s.seal(dto.Twilio.AccountSID),
			AuthToken:   s.seal(dto.Twilio.AuthToken),
			PhoneNumber: dto.Twilio.PhoneNumber,
		}
	}
	return acc
}

func (h *TenantHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// POST /api/tenants
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateTenantRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	s := &sealer{cipher: h.cipher}
	t := &domain.Tenant{
		TenantID:      domain.NewTenantID(),
		BusinessName:  req.BusinessName,
		BusinessPhone: req.BusinessPhone,
		BusinessEmail: req.BusinessEmail,
		WhatsApp: domain.WhatsAppAccount{
			PhoneNumberID:     req.WhatsApp.PhoneNumberID,
			BusinessAccountID: req.WhatsApp.BusinessAccountID,
			AccessToken:       s.seal(req.WhatsApp.AccessToken),
			VerifyToken:       req.WhatsApp.VerifyToken,
			CatalogID:         req.WhatsApp.CatalogID,
			APIVersion:        req.WhatsApp.APIVersion,
		},
		Razorpay: domain.RazorpayAccount{
			KeyID:         s.seal(req.Razorpay.KeyID),
			KeySecret:     s.seal(req.Razorpay.KeySecret),
			WebhookSecret: s.seal(req.Razorpay.WebhookSecret),
		},
		Settings: domain.TenantSettings{Currency: domain.DefaultCurrency},
		IsActive: true,
	}
	if t.WhatsApp.APIVersion == "" {
		t.WhatsApp.APIVersion = domain.DefaultWhatsAppAPIVersion
	}
	if req.SMS != nil {
		t.SMS = s.smsAccount(req.SMS)
	}
	if req.Settings != nil {
		t.Settings = *req.Settings
		if t.Settings.Currency == "" {
			t.Settings.Currency = domain.DefaultCurrency
		}
	}
	if s.err != nil {
		handleError(w, r, h.logger, s.err)
		return
	}

	if err := h.tenants.Create(ctx, t); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	h.logger.Info("tenant created", "tenant_id", t.TenantID, "phone_number_id", t.WhatsApp.PhoneNumberID, "admin", adminSubject(r.Context()))
	respondJSON(w, http.StatusCreated, map[string]interface{}{"tenant": toTenantResponse(t)})
}

func parsePage(r *http.Request) repository.Page {
	q := r.URL.Query()
	limit, _ := strconv.ParseInt(q.Get("limit"), 10, 64)
	skip, _ := strconv.ParseInt(q.Get("skip"), 10, 64)
	return repository.Page{Limit: limit, Skip: skip}.Normalize()
}

// GET /api/tenants
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	filter := repository.TenantFilter{Page: parsePage(r)}
	switch r.URL.Query().Get("isActive") {
	case "true":
		v := true
		filter.IsActive = &v
	case "false":
		v := false
		filter.IsActive = &v
	}

	tenants, total, err := h.tenants.List(ctx, filter)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	dtos := make([]TenantResponseDTO, 0, len(tenants))
	for _, t := range tenants {
		dtos = append(dtos, toTenantResponse(t))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenants":    dtos,
		"pagination": PaginationDTO{Total: total, Limit: filter.Limit, Skip: filter.Skip},
	})
}

// GET /api/tenants/{tenantId}
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	t, err := h.tenants.FindByTenantID(ctx, chi.URLParam(r, "tenantId"))
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tenant": toTenantResponse(t)})
}

// PUT /api/tenants/{tenantId}
func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantId")
	var req UpdateTenantRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.SMS != nil {
		if err := validateSMSProvider(req.SMS.Provider); err != nil {
			handleError(w, r, h.logger, err)
			return
		}
	}

	t, err := h.tenants.FindByTenantID(ctx, tenantID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	oldPhoneNumberID := t.WhatsApp.PhoneNumberID

	s := &sealer{cipher: h.cipher}
	applyUpdate(t, &req, s)
	if s.err != nil {
		handleError(w, r, h.logger, s.err)
		return
	}
	if t.WhatsApp.PhoneNumberID == "" {
		handleError(w, r, h.logger, domain.NewValidationError("whatsapp.phoneNumberId", "must not be empty"))
		return
	}

	if err := h.tenants.Update(ctx, t); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	h.invalidate(tenantID, oldPhoneNumberID, t.WhatsApp.PhoneNumberID)

	h.logger.Info("tenant updated", "tenant_id", tenantID, "admin", adminSubject(r.Context()))
	respondJSON(w, http.StatusOK, map[string]interface{}{"tenant": toTenantResponse(t)})
}

// applyUpdate copies the provided fields onto t. Credentials are re-encrypted
// only when a new value is supplied.
func applyUpdate(t *domain.Tenant, req *UpdateTenantRequestDTO, s *sealer) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	seal := func(dst *string, src *string) {
		if src != nil && *src != "" {
			*dst = s.seal(*src)
		}
	}

	set(&t.BusinessName, req.BusinessName)
	set(&t.BusinessPhone, req.BusinessPhone)
	set(&t.BusinessEmail, req.BusinessEmail)
	if wa := req.WhatsApp; wa != nil {
		set(&t.WhatsApp.PhoneNumberID, wa.PhoneNumberID)
		set(&t.WhatsApp.BusinessAccountID, wa.BusinessAccountID)
		seal(&t.WhatsApp.AccessToken, wa.AccessToken)
		set(&t.WhatsApp.VerifyToken, wa.VerifyToken)
		set(&t.WhatsApp.CatalogID, wa.CatalogID)
		set(&t.WhatsApp.APIVersion, wa.APIVersion)
	}
	if rp := req.Razorpay; rp != nil {
		seal(&t.Razorpay.KeyID, rp.KeyID)
		seal(&t.Razorpay.KeySecret, rp.KeySecret)
		seal(&t.Razorpay.WebhookSecret, rp.WebhookSecret)
	}
	if req.SMS != nil {
		t.SMS = s.smsAccount(req.SMS)
	}
	if st := req.Settings; st != nil {
		set(&t.Settings.WelcomeMessage, st.WelcomeMessage)
		set(&t.Settings.Currency, st.Currency)
		set(&t.Settings.Timezone, st.Timezone)
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
}

func (h *TenantHandler) invalidate(tenantID string, phoneNumberIDs ...string) {
	h.resolver.Invalidate(tenantID, phoneNumberIDs...)
	h.clients.Invalidate(tenantID)
}

// DELETE /api/tenants/{tenantId} deactivates; tenants are never removed.
func (h *TenantHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantId")
	t, err := h.tenants.Deactivate(ctx, tenantID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	h.invalidate(tenantID, t.WhatsApp.PhoneNumberID)

	h.logger.Info("tenant deactivated", "tenant_id", tenantID, "admin", adminSubject(r.Context()))
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Tenant deactivated"})
}

// GET /api/tenants/{tenantId}/orders
func (h *TenantHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantId")
	page := parsePage(r)
	orders, err := h.orders.ListByTenant(ctx, tenantID, page)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	stats, err := h.orders.Stats(ctx, tenantID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"orders":     orders,
		"stats":      stats,
		"pagination": PaginationDTO{Limit: page.Limit, Skip: page.Skip},
	})
}

// POST /api/tenants/{tenantId}/orders/{orderId}/refund
func (h *TenantHandler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID, orderID := chi.URLParam(r, "tenantId"), chi.URLParam(r, "orderId")
	order, err := h.ops.RefundOrder(ctx, tenantID, orderID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	h.logger.Info("refund issued", "tenant_id", tenantID, "order_id", orderID, "admin", adminSubject(r.Context()))
	respondJSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

type ConversationSummaryDTO struct {
	PhoneNumber   string                   `json:"phoneNumber"`
	CustomerName  string                   `json:"customerName,omitempty"`
	State         domain.ConversationState `json:"state"`
	LastMessageAt time.Time                `json:"lastMessageAt"`
	HasCart       bool                     `json:"hasCart"`
}

// GET /api/tenants/{tenantId}/conversations
func (h *TenantHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantId")
	page := parsePage(r)
	convs, err := h.conversations.ListByTenant(ctx, tenantID, page)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	byState, err := h.conversations.CountByState(ctx, tenantID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	dtos := make([]ConversationSummaryDTO, 0, len(convs))
	for _, c := range convs {
		dtos = append(dtos, ConversationSummaryDTO{
			PhoneNumber:   c.PhoneNumber,
			CustomerName:  c.CustomerName,
			State:         c.State,
			LastMessageAt: c.LastMessageAt,
			HasCart:       c.Cart != nil,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": dtos,
		"stats":         byState,
		"pagination":    PaginationDTO{Limit: page.Limit, Skip: page.Skip},
	})
}

// GET /api/tenants/{tenantId}/stats
func (h *TenantHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenantID := chi.URLParam(r, "tenantId")
	orderStats, err := h.orders.Stats(ctx, tenantID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	byState, err := h.conversations.CountByState(ctx, tenantID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"orders":        orderStats,
		"conversations": byState,
	})
}

type TestMessageRequestDTO struct {
	Phone string `json:"phone"`
}

// POST /api/tenants/{tenantId}/test-whatsapp
func (h *TenantHandler) TestWhatsApp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req TestMessageRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ops.SendTestMessage(ctx, chi.URLParam(r, "tenantId"), strings.TrimSpace(req.Phone)); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Test message sent"})
}

// GET /api/stats
func (h *TenantHandler) PlatformStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	active := true
	counts := make([]int64, 4)
	steps := []func() (int64, error){
		func() (int64, error) { return h.tenants.Count(ctx, nil) },
		func() (int64, error) { return h.tenants.Count(ctx, &active) },
		func() (int64, error) { return h.conversations.Count(ctx) },
		func() (int64, error) { return h.orders.Count(ctx) },
	}
	for i, step := range steps {
		n, err := step()
		if err != nil {
			handleError(w, r, h.logger, err)
			return
		}
		counts[i] = n
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":     time.Now().UTC(),
		"tenants":       map[string]int64{"total": counts[0], "active": counts[1]},
		"conversations": map[string]int64{"total": counts[2]},
		"orders":        map[string]int64{"total": counts[3]},
	})
}
