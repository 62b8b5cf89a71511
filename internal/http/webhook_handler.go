package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/fjod/wa-commerce/internal/cache"
	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/payment"
	"github.com/fjod/wa-commerce/internal/whatsapp"
)

const (
	headerSignature = "X-Razorpay-Signature"
	headerEventID   = "X-Razorpay-Event-Id"
)

// InboundQueue accepts decoded customer messages for asynchronous handling.
type InboundQueue interface {
	Enqueue(msg domain.InboundMessage) error
}

type WhatsAppHandler struct {
	verifyToken string
	queue       InboundQueue
	maxBody     int64
	logger      *slog.Logger
}

func NewWhatsAppHandler(verifyToken string, queue InboundQueue, maxBody int64, logger *slog.Logger) *WhatsAppHandler {
	return &WhatsAppHandler{
		verifyToken: verifyToken,
		queue:       queue,
		maxBody:     maxBody,
		logger:      logger,
	}
}

// GET /webhook/whatsapp
func (h *WhatsAppHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("webhook verification failed", "mode", mode, "has_token", token != "")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	h.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// POST /webhook/whatsapp always answers 200 so Meta does not redeliver;
// messages are handled after the response on their conversation lanes.
func (h *WhatsAppHandler) Receive(w http.ResponseWriter, r *http.Request) {
	limitBody(r, w, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read whatsapp webhook", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	msgs, err := whatsapp.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("ignoring whatsapp webhook", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	for _, msg := range msgs {
		if err := h.queue.Enqueue(msg); err != nil {
			h.logger.Error("failed to enqueue message", "from", msg.From, "message_id", msg.MessageID, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PaymentEvents verifies and applies payment webhooks.
type PaymentEvents interface {
	WebhookSecretFor(ctx context.Context, paymentLinkID string) string
	HandlePaymentEvent(ctx context.Context, ev *domain.PaymentEvent) error
}

type PaymentHandler struct {
	events  PaymentEvents
	ledger  cache.EventStore
	maxBody int64
	logger  *slog.Logger
}

func NewPaymentHandler(events PaymentEvents, ledger cache.EventStore, maxBody int64, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		events:  events,
		ledger:  ledger,
		maxBody: maxBody,
		logger:  logger,
	}
}

// POST /webhook/razorpay
//
// The body is decoded before the signature check because the signing secret
// belongs to the tenant that owns the payment link. Nothing is applied until
// the signature verifies.
func (h *PaymentHandler) Receive(w http.ResponseWriter, r *http.Request) {
	limitBody(r, w, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	signature := r.Header.Get(headerSignature)
	if signature == "" {
		h.logger.Warn("payment webhook without signature")
		respondError(w, http.StatusBadRequest, "missing_signature", "signature header required")
		return
	}

	ev, err := payment.ParseWebhook(body, r.Header.Get(headerEventID))
	if err != nil {
		h.logger.Warn("invalid payment webhook", "error", err)
		handleError(w, r, h.logger, err)
		return
	}
	log := h.logger.With("event", ev.Type, "event_id", ev.EventID, "payment_link_id", ev.PaymentLinkID)

	secret := h.events.WebhookSecretFor(r.Context(), ev.PaymentLinkID)
	if err := payment.VerifySignature(body, signature, secret); err != nil {
		log.Warn("payment webhook rejected", "error", err)
		handleError(w, r, h.logger, err)
		return
	}

	if ev.EventID != "" && h.ledger != nil {
		first, err := h.ledger.MarkProcessed(r.Context(), ev.EventID)
		if err != nil {
			// The conditional order update still guards against double application.
			log.Warn("event ledger unavailable", "error", err)
		} else if !first {
			log.Info("duplicate payment webhook acknowledged")
			respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	if err := h.events.HandlePaymentEvent(r.Context(), ev); err != nil {
		log.Error("payment webhook processing failed", "error", err)
		if ev.EventID != "" && h.ledger != nil {
			if ferr := h.ledger.Forget(r.Context(), ev.EventID); ferr != nil {
				log.Warn("failed to release event id", "error", ferr)
			}
		}
		respondError(w, http.StatusInternalServerError, "processing_failed", "payment event not applied")
		return
	}

	log.Info("payment webhook processed")
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
