package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/sony/gobreaker/v2"

	"github.com/fjod/wa-commerce/internal/domain"
)

// linkAPI and refundAPI are the parts of the Razorpay SDK this package calls.
type linkAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(id string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Cancel(id string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type refundAPI interface {
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Provider issues payment links and refunds on one tenant's Razorpay account.
type Provider struct {
	links       linkAPI
	payments    refundAPI
	callbackURL string
	breaker     *gobreaker.CircuitBreaker[map[string]interface{}]
	logger      *slog.Logger
}

func NewProvider(cfg domain.RazorpayConfig, appURL string, logger *slog.Logger) *Provider {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return newProvider(client.PaymentLink, client.Payment, appURL, logger)
}

func newProvider(links linkAPI, payments refundAPI, appURL string, logger *slog.Logger) *Provider {
	return &Provider{
		links:       links,
		payments:    payments,
		callbackURL: strings.TrimRight(appURL, "/") + "/payment/success",
		breaker: gobreaker.NewCircuitBreaker[map[string]interface{}](gobreaker.Settings{
			Name:    "razorpay",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		logger: logger,
	}
}

func (p *Provider) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewExternalServiceError("razorpay", op, err)
	}
	body, err := p.breaker.Execute(fn)
	if err != nil {
		return nil, domain.NewExternalServiceError("razorpay", op, err)
	}
	return body, nil
}

// CreatePaymentLink requests a link for req.AmountMinor in the currency's minor unit.
func (p *Provider) CreatePaymentLink(ctx context.Context, req domain.PaymentLinkRequest) (*domain.PaymentLink, error) {
	currency := req.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	name := req.CustomerName
	if name == "" {
		name = "Customer"
	}

	data := map[string]interface{}{
		"amount":         req.AmountMinor,
		"currency":       currency,
		"accept_partial": false,
		"reference_id":   req.OrderID,
		"description":    req.Description,
		"customer": map[string]interface{}{
			"name":    name,
			"contact": FormatContact(req.CustomerPhone),
		},
		"notify": map[string]interface{}{
			"sms":   false,
			"email": false,
		},
		"reminder_enable": true,
		"notes": map[string]interface{}{
			"order_id": req.OrderID,
			"phone":    req.CustomerPhone,
		},
		"callback_url":    p.callbackURL,
		"callback_method": "get",
		"expire_by":       req.ExpireBy.Unix(),
	}

	body, err := p.call(ctx, "create payment link", func() (map[string]interface{}, error) {
		return p.links.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}

	link := toLink(body)
	if link.ID == "" || link.ShortURL == "" {
		return nil, domain.NewExternalServiceError("razorpay", "create payment link", fmt.Errorf("response missing id or short_url"))
	}
	p.logger.Info("payment link created", "order_id", req.OrderID, "payment_link_id", link.ID)
	return link, nil
}

func (p *Provider) FetchPaymentLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	body, err := p.call(ctx, "fetch payment link", func() (map[string]interface{}, error) {
		return p.links.Fetch(id, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return toLink(body), nil
}

func (p *Provider) CancelPaymentLink(ctx context.Context, id string) error {
	_, err := p.call(ctx, "cancel payment link", func() (map[string]interface{}, error) {
		return p.links.Cancel(id, nil, nil)
	})
	if err != nil {
		return err
	}
	p.logger.Info("payment link cancelled", "payment_link_id", id)
	return nil
}

// Refund returns amountMinor of a captured payment; zero refunds it in full.
func (p *Provider) Refund(ctx context.Context, paymentID string, amountMinor int64) (string, error) {
	body, err := p.call(ctx, "refund", func() (map[string]interface{}, error) {
		return p.payments.Refund(paymentID, int(amountMinor), nil, nil)
	})
	if err != nil {
		return "", err
	}
	id, _ := body["id"].(string)
	p.logger.Info("refund issued", "payment_id", paymentID, "refund_id", id)
	return id, nil
}

func toLink(body map[string]interface{}) *domain.PaymentLink {
	link := &domain.PaymentLink{}
	link.ID, _ = body["id"].(string)
	link.ShortURL, _ = body["short_url"].(string)
	link.Status, _ = body["status"].(string)
	return link
}

// FormatContact prefixes a bare number with "+".
func FormatContact(phone string) string {
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + phone
}
