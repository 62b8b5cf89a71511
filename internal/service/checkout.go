package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/wa-commerce/internal/domain"
)

// checkout runs the address-confirmed step: on an empty cart the customer goes back to BROWSING.
func (e *Engine) checkout(ctx context.Context, t *turn, address string) error {
	err := e.InitiateCheckout(ctx, t.tenant, t.conv, address, t.out)
	if errors.Is(err, domain.ErrEmptyCart) {
		if err := t.out.SendText(ctx, t.msg.From, msgCartMissing); err != nil {
			return err
		}
		return e.transition(ctx, t.conv, domain.StateBrowsing, t.log)
	}
	return err
}

// InitiateCheckout creates a payment link for the conversation's cart, then
// persists the order and moves the conversation to AWAITING_PAYMENT. The order
// is only written once the link exists. Payment provider failures are reported
// to the customer and leave the conversation where it was.
func (e *Engine) InitiateCheckout(ctx context.Context, tenant *domain.TenantConfig, conv *domain.Conversation, address string, out Messenger) error {
	if !conv.HasCart() {
		return domain.ErrEmptyCart
	}
	log := e.logger.With("tenant_id", tenant.TenantID, "from", conv.PhoneNumber)

	if err := out.SendText(ctx, conv.PhoneNumber, msgProcessing); err != nil {
		log.Warn("failed to send processing notice", "error", err)
	}

	payments, err := e.clients.Payments(tenant)
	if err != nil {
		log.Error("payment client unavailable", "error", err)
		e.metrics.CheckoutsTotal.WithLabelValues("config_error").Inc()
		return out.SendText(ctx, conv.PhoneNumber, msgLinkError)
	}

	now := e.now().UTC()
	orderID := domain.GenerateOrderID(now)
	currency := tenant.Currency()
	cart := conv.Cart

	link, err := payments.CreatePaymentLink(ctx, domain.PaymentLinkRequest{
		OrderID:       orderID,
		AmountMinor:   cart.TotalMinor,
		Currency:      currency,
		CustomerName:  conv.CustomerName,
		CustomerPhone: conv.PhoneNumber,
		Description:   fmt.Sprintf("Order %s - %d item(s)", orderID, cart.ItemCount()),
		ExpireBy:      now.Add(paymentLinkTTL),
	})
	if err != nil {
		log.Error("failed to create payment link", "order_id", orderID, "error", err)
		e.metrics.CheckoutsTotal.WithLabelValues("link_failed").Inc()
		return out.SendText(ctx, conv.PhoneNumber, msgLinkError)
	}
	log = log.With("order_id", orderID, "payment_link_id", link.ID)

	order := &domain.Order{
		OrderID:      orderID,
		TenantID:     tenant.TenantID,
		PhoneNumber:  conv.PhoneNumber,
		CustomerName: conv.CustomerName,
		Items:        domain.OrderItemsFromCart(cart),
		TotalMinor:   cart.TotalMinor,
		Currency:     currency,
		ShippingAddress: domain.ShippingAddress{
			FullAddress: address,
			Country:     e.defaultCountry,
		},
		Payment: domain.PaymentDetails{
			PaymentLinkID:  link.ID,
			PaymentLinkURL: link.ShortURL,
			AmountMinor:    cart.TotalMinor,
			Currency:       currency,
			Status:         domain.PaymentStatusCreated,
		},
		Status:    domain.OrderStatusPaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.orders.Create(ctx, order); err != nil {
		if cancelErr := payments.CancelPaymentLink(ctx, link.ID); cancelErr != nil {
			log.Warn("failed to cancel orphaned payment link", "error", cancelErr)
		}
		e.metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to create order: %w", err)
	}

	conv.Address = address
	conv.PendingAddress = nil
	conv.OrderID = orderID
	conv.PaymentLinkID = link.ID
	conv.PaymentLinkURL = link.ShortURL
	if err := e.transition(ctx, conv, domain.StateAwaitingPayment, log); err != nil {
		// The order exists without its conversation link; the paid event still settles it.
		log.Error("order created but conversation not updated", "error", err)
		return err
	}

	e.metrics.CheckoutsTotal.WithLabelValues("ok").Inc()
	log.Info("payment link sent", "total_minor", order.TotalMinor)
	return out.SendText(ctx, conv.PhoneNumber, paymentMessage(order, link.ShortURL))
}
