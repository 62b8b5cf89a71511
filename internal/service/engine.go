package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/metrics"
	"github.com/fjod/wa-commerce/internal/repository"
)

const paymentLinkTTL = 24 * time.Hour

type Deps struct {
	Conversations repository.ConversationRepository
	Orders        repository.OrderRepository
	Outbox        repository.OutboxRepository
	Tenants       TenantResolver
	Clients       ClientFactory
	Geocoder      Geocoder
	Receipts      ReceiptRenderer
	Serializer    Serializer
	Logger        *slog.Logger
	Metrics       *metrics.Metrics

	DefaultCountry       string
	DefaultWebhookSecret string
	// JobTimeout bounds one queued inbound message. Zero means no limit.
	JobTimeout time.Duration
}

// Engine runs the conversation state machine and reconciles payment events.
type Engine struct {
	conversations repository.ConversationRepository
	orders        repository.OrderRepository
	outbox        repository.OutboxRepository
	tenants       TenantResolver
	clients       ClientFactory
	geocoder      Geocoder
	receipts      ReceiptRenderer
	serializer    Serializer
	logger        *slog.Logger
	metrics       *metrics.Metrics

	defaultCountry       string
	defaultWebhookSecret string
	jobTimeout           time.Duration
	now                  func() time.Time
}

func NewEngine(d Deps) *Engine {
	m := d.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		conversations:        d.Conversations,
		orders:               d.Orders,
		outbox:               d.Outbox,
		tenants:              d.Tenants,
		clients:              d.Clients,
		geocoder:             d.Geocoder,
		receipts:             d.Receipts,
		serializer:           d.Serializer,
		logger:               d.Logger,
		metrics:              m,
		defaultCountry:       d.DefaultCountry,
		defaultWebhookSecret: d.DefaultWebhookSecret,
		jobTimeout:           d.JobTimeout,
		now:                  time.Now,
	}
}

// turn is one inbound message being handled for a resolved tenant and conversation.
type turn struct {
	tenant *domain.TenantConfig
	conv   *domain.Conversation
	msg    domain.InboundMessage
	out    Messenger
	log    *slog.Logger
}

// Enqueue queues msg on its conversation lane and returns without waiting.
func (e *Engine) Enqueue(msg domain.InboundMessage) error {
	key := domain.ConversationKey(msg.PhoneNumberID, msg.From)
	return e.serializer.Submit(key, func(ctx context.Context) error {
		if e.jobTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.jobTimeout)
			defer cancel()
		}
		return e.HandleInbound(ctx, msg)
	})
}

// HandleInbound processes one customer message. Callers must serialize calls
// per conversation key. Unknown tenants are dropped without error.
func (e *Engine) HandleInbound(ctx context.Context, msg domain.InboundMessage) error {
	kind := msg.Kind()
	e.metrics.InboundMessages.WithLabelValues(string(kind)).Inc()

	tenant, err := e.tenants.ByPhoneNumberID(ctx, msg.PhoneNumberID)
	if err != nil {
		if domain.IsNotFound(err) {
			e.logger.Warn("dropping message for unknown tenant",
				"phone_number_id", msg.PhoneNumberID, "from", msg.From)
			return nil
		}
		return fmt.Errorf("failed to resolve tenant: %w", err)
	}
	log := e.logger.With("tenant_id", tenant.TenantID, "from", msg.From)

	out, err := e.clients.Messenger(tenant)
	if err != nil {
		log.Error("messaging client unavailable", "error", err)
		return err
	}

	conv, err := e.conversations.GetOrCreate(ctx, tenant.TenantID, msg.From)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if msg.Name != "" && conv.CustomerName == "" {
		conv.CustomerName = msg.Name
		if err := e.conversations.Save(ctx, conv); err != nil {
			return fmt.Errorf("failed to save customer name: %w", err)
		}
	}

	if msg.MessageID != "" {
		if err := out.MarkRead(ctx, msg.MessageID); err != nil {
			log.Warn("failed to mark message read", "message_id", msg.MessageID, "error", err)
		}
	}

	t := &turn{tenant: tenant, conv: conv, msg: msg, out: out, log: log}
	log.Debug("handling message", "kind", kind, "state", conv.State)

	if err := e.dispatch(ctx, t, kind); err != nil {
		log.Error("failed to process message", "kind", kind, "state", conv.State, "error", err)
		if sendErr := out.SendText(ctx, msg.From, msgError); sendErr != nil {
			log.Error("failed to send error message", "error", sendErr)
		}
		return err
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, t *turn, kind domain.EventKind) error {
	if kind == domain.EventText {
		switch parseCommand(t.msg.Text) {
		case cmdRestart:
			return e.restart(ctx, t)
		case cmdCancel:
			return e.cancel(ctx, t)
		case cmdHelp:
			return t.out.SendText(ctx, t.msg.From, helpMessage(t.tenant))
		}
	}

	switch a := route(t.conv.State, kind); a {
	case actGreet:
		return e.greet(ctx, t)
	case actBrowse:
		return e.browse(ctx, t)
	case actAddress:
		return e.handleAddressText(ctx, t)
	case actLocation:
		return e.handleLocation(ctx, t)
	case actResendLink:
		return t.out.SendText(ctx, t.msg.From, awaitingPaymentMessage(t.conv))
	case actShopAgain:
		return t.out.SendButtons(ctx, t.msg.From, msgShopAgain, shopAgainButton)
	case actAcceptCart:
		return e.acceptCart(ctx, t)
	case actButton:
		return e.handleButton(ctx, t)
	case actUnsupported:
		t.log.Warn("unsupported message type", "type", t.msg.Type)
		return t.out.SendText(ctx, t.msg.From, msgUnsupported)
	default:
		t.log.Debug("event ignored in state", "kind", kind, "state", t.conv.State, "action", a)
		return nil
	}
}

// transition moves conv to next and persists it.
func (e *Engine) transition(ctx context.Context, conv *domain.Conversation, next domain.ConversationState, log *slog.Logger) error {
	prev := conv.State
	conv.State = next
	if err := e.conversations.Save(ctx, conv); err != nil {
		return err
	}
	if prev != next {
		e.metrics.Transitions.WithLabelValues(string(prev), string(next)).Inc()
		log.Info("conversation state changed", "from", prev, "to", next)
	}
	return nil
}

// WebhookSecretFor returns the signing secret of the tenant owning linkID,
// falling back to the process default.
func (e *Engine) WebhookSecretFor(ctx context.Context, paymentLinkID string) string {
	if paymentLinkID == "" {
		return e.defaultWebhookSecret
	}
	order, err := e.orders.FindByPaymentLinkID(ctx, paymentLinkID)
	if err != nil {
		if !errors.Is(err, repository.ErrOrderNotFound) {
			e.logger.Warn("webhook secret lookup failed", "payment_link_id", paymentLinkID, "error", err)
		}
		return e.defaultWebhookSecret
	}
	tenant, err := e.tenants.ByTenantID(ctx, order.TenantID)
	if err != nil || tenant.Razorpay.WebhookSecret == "" {
		return e.defaultWebhookSecret
	}
	return tenant.Razorpay.WebhookSecret
}
