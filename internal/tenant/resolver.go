package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/metrics"
	"github.com/fjod/wa-commerce/internal/repository"
)

// Store is the slice of the tenant repository the resolver reads from.
type Store interface {
	FindActiveByTenantID(ctx context.Context, tenantID string) (*domain.Tenant, error)
	FindActiveByPhoneNumberID(ctx context.Context, phoneNumberID string) (*domain.Tenant, error)
}

type Decrypter interface {
	Decrypt(value string) (string, error)
}

type entry struct {
	cfg       *domain.TenantConfig
	expiresAt time.Time
}

// Resolver maps a phone number id or tenant id to a decrypted TenantConfig.
// Entries live for ttl and are stored under both keys after a single load.
type Resolver struct {
	store   Store
	cipher  Decrypter
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]entry
	epoch   uint64             // bumped by Invalidate
	sfg     singleflight.Group // one store read per key on concurrent misses
}

func NewResolver(store Store, cipher Decrypter, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		cipher:  cipher,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		metrics: m,
		entries: make(map[string]entry),
	}
}

func phoneKey(phoneNumberID string) string { return "phone:" + phoneNumberID }
func tenantKey(tenantID string) string     { return "tenant:" + tenantID }

// ByPhoneNumberID resolves the tenant owning an inbound business number.
func (r *Resolver) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*domain.TenantConfig, error) {
	return r.resolve(ctx, phoneKey(phoneNumberID), func(ctx context.Context) (*domain.Tenant, error) {
		return r.store.FindActiveByPhoneNumberID(ctx, phoneNumberID)
	})
}

func (r *Resolver) ByTenantID(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	return r.resolve(ctx, tenantKey(tenantID), func(ctx context.Context) (*domain.Tenant, error) {
		return r.store.FindActiveByTenantID(ctx, tenantID)
	})
}

func (r *Resolver) resolve(ctx context.Context, key string, load func(context.Context) (*domain.Tenant, error)) (*domain.TenantConfig, error) {
	if cfg, ok := r.lookup(key); ok {
		r.metrics.TenantCacheHits.Inc()
		return cfg, nil
	}
	r.metrics.TenantCacheMisses.Inc()

	v, err, _ := r.sfg.Do(key, func() (interface{}, error) {
		epoch := r.currentEpoch()
		t, err := load(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrTenantNotFound) {
				return nil, domain.NewNotFoundError("tenant", key, err)
			}
			return nil, fmt.Errorf("failed to load tenant %s: %w", key, err)
		}

		cfg, err := r.decrypt(t)
		if err != nil {
			return nil, err
		}

		if !r.put(cfg, epoch) {
			r.logger.Debug("tenant invalidated during load, not caching", "tenant_id", cfg.TenantID, "key", key)
			return cfg, nil
		}
		r.logger.Debug("tenant config loaded", "tenant_id", cfg.TenantID, "key", key)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.TenantConfig), nil
}

func (r *Resolver) lookup(key string) (*domain.TenantConfig, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok || !r.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.cfg, true
}

func (r *Resolver) currentEpoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// put caches cfg under both of its lookup keys unless an invalidation happened
// after the load began at epoch.
func (r *Resolver) put(cfg *domain.TenantConfig, epoch uint64) bool {
	e := entry{cfg: cfg, expiresAt: r.now().Add(r.ttl)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return false
	}
	r.entries[tenantKey(cfg.TenantID)] = e
	if cfg.WhatsApp.PhoneNumberID != "" {
		r.entries[phoneKey(cfg.WhatsApp.PhoneNumberID)] = e
	}
	return true
}

// Invalidate drops every cached entry of tenantID. Extra phone number ids cover a
// number that was just moved off the tenant. Loads already in flight finish for
// their callers but are not cached, and later callers start a fresh load.
func (r *Resolver) Invalidate(tenantID string, phoneNumberIDs ...string) {
	keys := []string{tenantKey(tenantID)}
	for _, id := range phoneNumberIDs {
		keys = append(keys, phoneKey(id))
	}

	r.mu.Lock()
	r.epoch++
	for k, e := range r.entries {
		if e.cfg.TenantID == tenantID {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		delete(r.entries, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.sfg.Forget(k)
	}
}

// Sweep removes expired entries and returns how many were dropped.
func (r *Resolver) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, k)
			n++
		}
	}
	return n
}

func (r *Resolver) decrypt(t *domain.Tenant) (*domain.TenantConfig, error) {
	d := decryptor{cipher: r.cipher, tenantID: t.TenantID}

	cfg := &domain.TenantConfig{
		TenantID:      t.TenantID,
		BusinessName:  t.BusinessName,
		BusinessPhone: t.BusinessPhone,
		BusinessEmail: t.BusinessEmail,
		WhatsApp: domain.WhatsAppConfig{
			PhoneNumberID:     t.WhatsApp.PhoneNumberID,
			BusinessAccountID: t.WhatsApp.BusinessAccountID,
			AccessToken:       d.field("whatsapp.access_token", t.WhatsApp.AccessToken),
			VerifyToken:       t.WhatsApp.VerifyToken,
			CatalogID:         t.WhatsApp.CatalogID,
			APIVersion:        t.WhatsApp.APIVersion,
		},
		Razorpay: domain.RazorpayConfig{
			KeyID:         d.field("razorpay.key_id", t.Razorpay.KeyID),
			KeySecret:     d.field("razorpay.key_secret", t.Razorpay.KeySecret),
			WebhookSecret: d.field("razorpay.webhook_secret", t.Razorpay.WebhookSecret),
		},
		Settings: t.Settings,
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = domain.DefaultWhatsAppAPIVersion
	}

	if t.SMS != nil {
		sms := &domain.SMSConfig{Provider: t.SMS.Provider}
		if t.SMS.MSG91 != nil {
			sms.MSG91 = &domain.MSG91Config{
				APIKey:   d.field("sms.msg91.api_key", t.SMS.MSG91.APIKey),
				SenderID: t.SMS.MSG91.SenderID,
				FlowID:   t.SMS.MSG91.FlowID,
			}
		}
		if t.SMS.Twilio != nil {
			sms.Twilio = &domain.TwilioConfig{
				AccountSID:  d.field("sms.twilio.account_sid", t.SMS.Twilio.AccountSID),
				AuthToken:   d.field("sms.twilio.auth_token", t.SMS.Twilio.AuthToken),
				PhoneNumber: t.SMS.Twilio.PhoneNumber,
			}
		}
		cfg.SMS = sms
	}

	if d.err != nil {
		return nil, d.err
	}
	return cfg, nil
}

// decryptor keeps the first failure so every field can be written inline.
type decryptor struct {
	cipher   Decrypter
	tenantID string
	err      error
}

func (d *decryptor) field(name, value string) string {
	if value == "" || d.err != nil {
		return ""
	}
	plain, err := d.cipher.Decrypt(value)
	if err != nil {
		d.err = &domain.ConfigurationError{TenantID: d.tenantID, Field: name, Err: err}
		return ""
	}
	return plain
}
