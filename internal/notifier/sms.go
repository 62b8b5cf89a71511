package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/metrics"
)

const (
	DefaultMSG91URL   = "https://api.msg91.com/api/v5/flow/"
	DefaultTwilioBase = "https://api.twilio.com/2010-04-01"

	providerSimulated = "simulated"
)

// Gateway sends one SMS through whichever provider a tenant has configured.
type Gateway struct {
	msg91URL   string
	twilioBase string
	http       *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewGateway(timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		msg91URL:   DefaultMSG91URL,
		twilioBase: DefaultTwilioBase,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger,
		metrics: m,
	}
}

// Send delivers body to phone. Tenants without a usable provider get a logged
// simulated send. The returned string names the provider that was used.
func (g *Gateway) Send(ctx context.Context, cfg *domain.SMSConfig, phone, body string) (string, error) {
	provider, err := g.send(ctx, cfg, phone, body)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.SMSSent.WithLabelValues(provider, outcome).Inc()
	return provider, err
}

func (g *Gateway) send(ctx context.Context, cfg *domain.SMSConfig, phone, body string) (string, error) {
	switch {
	case cfg == nil:
	case cfg.Provider == domain.SMSProviderMSG91 && cfg.MSG91 != nil && cfg.MSG91.APIKey != "":
		return string(domain.SMSProviderMSG91), g.sendMSG91(ctx, cfg.MSG91, phone, body)
	case cfg.Provider == domain.SMSProviderTwilio && cfg.Twilio != nil && cfg.Twilio.AccountSID != "":
		return string(domain.SMSProviderTwilio), g.sendTwilio(ctx, cfg.Twilio, phone, body)
	}

	g.logger.InfoContext(ctx, "sms simulated, no provider configured", "to", phone, "preview", preview(body))
	return providerSimulated, nil
}

type msg91Flow struct {
	FlowID  string `json:"flow_id"`
	Sender  string `json:"sender"`
	Mobiles string `json:"mobiles"`
	VAR1    string `json:"VAR1"`
}

func (g *Gateway) sendMSG91(ctx context.Context, cfg *domain.MSG91Config, phone, body string) error {
	payload, err := json.Marshal(msg91Flow{
		FlowID:  cfg.FlowID,
		Sender:  cfg.SenderID,
		Mobiles: FormatPhone(phone, false),
		VAR1:    body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode msg91 request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.msg91URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build msg91 request: %w", err)
	}
	req.Header.Set("authkey", cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	if err := g.do(req, "msg91"); err != nil {
		return err
	}
	g.logger.InfoContext(ctx, "sms sent", "provider", "msg91", "to", phone)
	return nil
}

func (g *Gateway) sendTwilio(ctx context.Context, cfg *domain.TwilioConfig, phone, body string) error {
	form := url.Values{}
	form.Set("To", FormatPhone(phone, true))
	form.Set("From", cfg.PhoneNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", g.twilioBase, url.PathEscape(cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err := g.do(req, "twilio"); err != nil {
		return err
	}
	g.logger.InfoContext(ctx, "sms sent", "provider", "twilio", "to", phone)
	return nil
}

func (g *Gateway) do(req *http.Request, service string) error {
	resp, err := g.http.Do(req)
	if err != nil {
		return domain.NewExternalServiceError(service, "send sms", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.NewExternalServiceError(service, "send sms",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	return nil
}

// FormatPhone strips everything but digits; MSG91 wants bare digits, Twilio E.164.
func FormatPhone(phone string, withPlus bool) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if withPlus {
		return "+" + b.String()
	}
	return b.String()
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50])
	}
	return s
}
