package service

import (
	"context"
	"fmt"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/repository"
)

// RefundOrder returns the full amount of a PAID order through the tenant's
// payment account and marks it REFUNDED. Orders in any other status yield
// repository.ErrOrderStateConflict.
func (e *Engine) RefundOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	tenant, err := e.tenants.ByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	order, err := e.orders.FindByOrderID(ctx, tenantID, orderID)
	if err != nil {
		if isOrderNotFound(err) {
			return nil, domain.NewNotFoundError("order", orderID, err)
		}
		return nil, err
	}
	if order.Status != domain.OrderStatusPaid {
		return nil, fmt.Errorf("refund order %s in status %s: %w", orderID, order.Status, repository.ErrOrderStateConflict)
	}
	if order.Payment.PaymentID == "" {
		return nil, domain.NewValidationError("payment_id", "paid order has no payment id")
	}

	payments, err := e.clients.Payments(tenant)
	if err != nil {
		return nil, err
	}
	refundID, err := payments.Refund(ctx, order.Payment.PaymentID, 0)
	if err != nil {
		return nil, err
	}

	refunded, err := e.orders.MarkRefunded(ctx, tenantID, orderID, refundID)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("tenant_id", tenantID, "order_id", orderID)
	log.Info("order refunded", "refund_id", refundID)
	e.appendOrderEvent(ctx, domain.OrderEventRefunded, refunded)

	if out, err := e.clients.Messenger(tenant); err == nil {
		if err := out.SendText(ctx, refunded.PhoneNumber, refundMessage(refunded)); err != nil {
			log.Warn("failed to notify customer of refund", "error", err)
		}
	}
	return refunded, nil
}

// SendTestMessage checks a tenant's messaging credentials by sending a plain text.
func (e *Engine) SendTestMessage(ctx context.Context, tenantID, phone string) error {
	if phone == "" {
		return domain.NewValidationError("phone", "required")
	}
	tenant, err := e.tenants.ByTenantID(ctx, tenantID)
	if err != nil {
		return err
	}
	out, err := e.clients.Messenger(tenant)
	if err != nil {
		return err
	}
	return out.SendText(ctx, phone, fmt.Sprintf("✅ Test message from %s. Your WhatsApp integration is working!", tenant.BusinessName))
}
