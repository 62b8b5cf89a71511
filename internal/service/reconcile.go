package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/repository"
)

func isOrderNotFound(err error) bool {
	return errors.Is(err, repository.ErrOrderNotFound)
}

// HandlePaymentEvent routes a verified payment webhook. Returning an error
// asks the provider to redeliver.
func (e *Engine) HandlePaymentEvent(ctx context.Context, ev *domain.PaymentEvent) error {
	switch ev.Kind() {
	case domain.EventPaymentPaid:
		return e.ReconcilePaymentPaid(ctx, ev)
	case domain.EventPaymentExpired:
		status := domain.PaymentStatusExpired
		if ev.Type == domain.PaymentLinkCancelled {
			status = domain.PaymentStatusCancelled
		}
		return e.ReconcilePaymentClosed(ctx, ev, status)
	default:
		e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "ignored").Inc()
		e.logger.Info("payment event acknowledged", "event", ev.Type, "payment_id", ev.PaymentID)
		return nil
	}
}

// ReconcilePaymentPaid settles the order behind ev.PaymentLinkID. Only the
// delivery that moves the order to PAID records order.paid. A redelivery for an
// already PAID order finishes the conversation step if it is still pending,
// so a first delivery that failed after settling can be recovered.
func (e *Engine) ReconcilePaymentPaid(ctx context.Context, ev *domain.PaymentEvent) error {
	log := e.logger.With("payment_link_id", ev.PaymentLinkID, "event", ev.Type)

	paidAt := ev.CreatedAt
	if paidAt.IsZero() || paidAt.Unix() <= 0 {
		paidAt = e.now()
	}
	order, applied, err := e.orders.MarkPaid(ctx, ev.PaymentLinkID, ev.PaymentID, ev.Method, paidAt)
	if err != nil {
		if isOrderNotFound(err) {
			e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "unknown_order").Inc()
			log.Warn("no order for payment link")
			return nil
		}
		e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "error").Inc()
		return fmt.Errorf("failed to mark order paid: %w", err)
	}
	log = log.With("order_id", order.OrderID, "tenant_id", order.TenantID)

	if !applied {
		e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "duplicate").Inc()
		switch order.Status {
		case domain.OrderStatusCancelled:
			log.Error("payment received for a cancelled order", "payment_id", ev.PaymentID)
			return nil
		case domain.OrderStatusPaid:
			log.Info("paid event already applied, checking conversation")
		default:
			log.Info("paid event already applied", "status", order.Status)
			return nil
		}
	} else {
		e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "applied").Inc()
		log.Info("order paid", "payment_id", order.Payment.PaymentID, "total_minor", order.TotalMinor)
		e.appendOrderEvent(ctx, domain.OrderEventPaid, order)
	}

	tenant, err := e.tenantForOrder(ctx, order, log)
	if tenant == nil {
		return err
	}

	key := domain.ConversationKey(tenant.WhatsApp.PhoneNumberID, order.PhoneNumber)
	return e.serializer.Do(ctx, key, func(ctx context.Context) error {
		if applied {
			return e.completeConversation(ctx, tenant, order, log)
		}
		return e.resumePaid(ctx, tenant, order, log)
	})
}

// tenantForOrder resolves the order's tenant. An unknown or inactive tenant
// yields (nil, nil): the event is settled and nobody can be notified. Other
// failures are returned so the provider redelivers.
func (e *Engine) tenantForOrder(ctx context.Context, order *domain.Order, log *slog.Logger) (*domain.TenantConfig, error) {
	tenant, err := e.tenants.ByTenantID(ctx, order.TenantID)
	if err == nil {
		return tenant, nil
	}
	if domain.IsNotFound(err) {
		log.Warn("tenant not found, customer not notified", "error", err)
		return nil, nil
	}
	return nil, fmt.Errorf("failed to resolve tenant: %w", err)
}

// completeConversation moves the conversation to COMPLETED and notifies the
// customer. The confirmation goes out even when no conversation matches; it is
// withheld only when the conversation could not be read or saved.
func (e *Engine) completeConversation(ctx context.Context, tenant *domain.TenantConfig, order *domain.Order, log *slog.Logger) error {
	conv, err := e.conversations.FindByPaymentLinkID(ctx, tenant.TenantID, order.Payment.PaymentLinkID)
	switch {
	case err == nil:
		if route(conv.State, domain.EventPaymentPaid) == actPaid {
			if order.CustomerName == "" {
				order.CustomerName = conv.CustomerName
			}
			if err := e.transition(ctx, conv, domain.StateCompleted, log); err != nil {
				return fmt.Errorf("failed to complete conversation: %w", err)
			}
		} else {
			log.Info("conversation not awaiting payment", "state", conv.State)
		}
	case errors.Is(err, repository.ErrConversationNotFound):
		log.Warn("no conversation for paid order")
	default:
		return fmt.Errorf("failed to load conversation for paid order: %w", err)
	}

	e.notifyPaid(ctx, tenant, order, log)
	return nil
}

// resumePaid completes a conversation still awaiting payment for an order that
// is already PAID. Anything else means the first delivery finished its work.
func (e *Engine) resumePaid(ctx context.Context, tenant *domain.TenantConfig, order *domain.Order, log *slog.Logger) error {
	conv, err := e.conversations.FindByPaymentLinkID(ctx, tenant.TenantID, order.Payment.PaymentLinkID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if route(conv.State, domain.EventPaymentPaid) != actPaid {
		return nil
	}
	log.Info("resuming paid order left awaiting payment")
	return e.completeConversation(ctx, tenant, order, log)
}

func (e *Engine) notifyPaid(ctx context.Context, tenant *domain.TenantConfig, order *domain.Order, log *slog.Logger) {
	out, err := e.clients.Messenger(tenant)
	if err != nil {
		log.Error("messaging client unavailable", "error", err)
		return
	}
	if err := out.SendText(ctx, order.PhoneNumber, confirmationMessage(order)); err != nil {
		log.Error("failed to send payment confirmation", "error", err)
	}
	e.sendReceipt(ctx, tenant, order, out, log)
}

// sendReceipt is best-effort.
func (e *Engine) sendReceipt(ctx context.Context, tenant *domain.TenantConfig, order *domain.Order, out Messenger, log *slog.Logger) {
	if e.receipts == nil {
		return
	}
	doc, err := e.receipts.Render(ctx, domain.Receipt{
		BusinessName:  tenant.BusinessName,
		BusinessPhone: tenant.BusinessPhone,
		Order:         order,
		CustomerName:  order.CustomerName,
	})
	if err != nil {
		log.Error("failed to generate receipt", "error", err)
		return
	}
	if err := out.SendDocument(ctx, order.PhoneNumber, *doc); err != nil {
		log.Error("failed to send receipt", "error", err)
	}
}

// ReconcilePaymentClosed cancels a still-pending order whose link expired or
// was cancelled, and returns its conversation to BROWSING. A PAID order is left
// alone. A redelivery for an order already cancelled by this link resets a
// conversation that is still waiting on it.
func (e *Engine) ReconcilePaymentClosed(ctx context.Context, ev *domain.PaymentEvent, status domain.PaymentStatus) error {
	log := e.logger.With("payment_link_id", ev.PaymentLinkID, "event", ev.Type)

	order, applied, err := e.orders.ClosePayment(ctx, ev.PaymentLinkID, status)
	if err != nil {
		if isOrderNotFound(err) {
			e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "unknown_order").Inc()
			log.Warn("no order for payment link")
			return nil
		}
		e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "error").Inc()
		return fmt.Errorf("failed to close order payment: %w", err)
	}
	log = log.With("order_id", order.OrderID, "tenant_id", order.TenantID)

	if !applied {
		e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "duplicate").Inc()
		log.Info("close event already applied", "status", order.Status)
		if order.Status != domain.OrderStatusCancelled {
			return nil
		}
	} else {
		e.metrics.PaymentEvents.WithLabelValues(string(ev.Type), "applied").Inc()
		log.Info("order payment closed", "payment_status", status)
		e.appendOrderEvent(ctx, domain.OrderEventCancelled, order)
	}

	tenant, err := e.tenantForOrder(ctx, order, log)
	if tenant == nil {
		return err
	}

	body := msgExpired
	if status == domain.PaymentStatusCancelled {
		body = msgLinkCancelled
	}

	key := domain.ConversationKey(tenant.WhatsApp.PhoneNumberID, order.PhoneNumber)
	return e.serializer.Do(ctx, key, func(ctx context.Context) error {
		conv, err := e.conversations.FindByPaymentLinkID(ctx, tenant.TenantID, ev.PaymentLinkID)
		if err != nil {
			if errors.Is(err, repository.ErrConversationNotFound) {
				if applied {
					log.Warn("no conversation for closed payment link")
				}
				return nil
			}
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		if route(conv.State, domain.EventPaymentExpired) != actExpired {
			return nil
		}

		conv.Reset()
		if err := e.transition(ctx, conv, domain.StateBrowsing, log); err != nil {
			return err
		}
		out, err := e.clients.Messenger(tenant)
		if err != nil {
			log.Error("messaging client unavailable", "error", err)
			return nil
		}
		if err := out.SendButtons(ctx, order.PhoneNumber, body, startNewButton); err != nil {
			log.Error("failed to send expiry notice", "error", err)
		}
		return nil
	})
}

// appendOrderEvent records an order lifecycle event for the publisher. It is
// not atomic with the order update; failures are logged.
func (e *Engine) appendOrderEvent(ctx context.Context, eventType string, order *domain.Order) {
	if e.outbox == nil {
		return
	}
	payload, err := json.Marshal(domain.NewOrderEvent(eventType, order, e.now().UTC()))
	if err != nil {
		e.logger.Error("failed to encode order event", "event", eventType, "order_id", order.OrderID, "error", err)
		return
	}
	err = e.outbox.Append(ctx, &repository.OutboxEvent{
		AggregateID: order.OrderID,
		EventType:   eventType,
		Payload:     payload,
	})
	if err != nil {
		e.logger.Error("failed to append outbox event", "event", eventType, "order_id", order.OrderID, "error", err)
	}
}
