package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/razorpay/razorpay-go/utils"

	"github.com/fjod/wa-commerce/internal/domain"
)

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink *struct {
			Entity struct {
				ID          string `json:"id"`
				ReferenceID string `json:"reference_id"`
				Status      string `json:"status"`
				Payments    []struct {
					PaymentID string `json:"payment_id"`
					Method    string `json:"method"`
				} `json:"payments"`
			} `json:"entity"`
		} `json:"payment_link"`
		Payment *struct {
			Entity struct {
				ID     string `json:"id"`
				Method string `json:"method"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseWebhook decodes a Razorpay webhook body. eventID comes from the
// x-razorpay-event-id header.
func ParseWebhook(body []byte, eventID string) (*domain.PaymentEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.NewValidationError("body", fmt.Sprintf("invalid json: %v", err))
	}
	if p.Event == "" {
		return nil, domain.NewValidationError("event", "missing")
	}

	ev := &domain.PaymentEvent{
		EventID:   eventID,
		Type:      domain.PaymentEventType(p.Event),
		CreatedAt: time.Unix(p.CreatedAt, 0).UTC(),
	}

	if pl := p.Payload.PaymentLink; pl != nil {
		ev.PaymentLinkID = pl.Entity.ID
		ev.ReferenceID = pl.Entity.ReferenceID
		if len(pl.Entity.Payments) > 0 {
			ev.PaymentID = pl.Entity.Payments[0].PaymentID
			ev.Method = pl.Entity.Payments[0].Method
		}
	}
	if pm := p.Payload.Payment; pm != nil {
		if ev.PaymentID == "" {
			ev.PaymentID = pm.Entity.ID
		}
		if ev.Method == "" {
			ev.Method = pm.Entity.Method
		}
	}

	if ev.Kind() != domain.EventUnsupported && ev.PaymentLinkID == "" {
		return nil, domain.NewValidationError("payload.payment_link", "missing entity for "+p.Event)
	}
	return ev, nil
}

// VerifySignature checks the x-razorpay-signature HMAC over the raw body.
func VerifySignature(body []byte, signature, secret string) error {
	if signature == "" {
		return &domain.SignatureVerificationError{Reason: "missing signature"}
	}
	if secret == "" {
		return &domain.SignatureVerificationError{Reason: "no webhook secret configured"}
	}
	if !utils.VerifyWebhookSignature(string(body), signature, secret) {
		return &domain.SignatureVerificationError{Reason: "signature mismatch"}
	}
	return nil
}
