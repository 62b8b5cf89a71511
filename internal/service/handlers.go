package service

import (
	"context"
	"fmt"

	"github.com/fjod/wa-commerce/internal/domain"
)

func (e *Engine) greet(ctx context.Context, t *turn) error {
	if err := t.out.SendButtons(ctx, t.msg.From, greetingMessage(t.tenant), viewCatalogButton); err != nil {
		return err
	}
	if t.conv.State == domain.StateCancelled {
		t.conv.ClearCheckout()
	}
	return e.transition(ctx, t.conv, domain.StateBrowsing, t.log)
}

func (e *Engine) browse(ctx context.Context, t *turn) error {
	if isCatalogRequest(t.msg.Text) {
		return t.out.SendCatalog(ctx, t.msg.From, msgCatalogBody, "")
	}
	return t.out.SendText(ctx, t.msg.From, msgBrowsingReminder)
}

// acceptCart replaces whatever checkout was in progress with the new cart.
func (e *Engine) acceptCart(ctx context.Context, t *turn) error {
	order := t.msg.Order
	items := make([]domain.CartItem, 0, len(order.Items))
	for _, it := range order.Items {
		if it.Quantity <= 0 {
			continue
		}
		items = append(items, domain.CartItem{
			ProductID:      it.ProductRetailerID,
			Quantity:       it.Quantity,
			UnitPriceMinor: it.ItemPriceMinor,
		})
	}
	if len(items) == 0 {
		return t.out.SendText(ctx, t.msg.From, msgEmptyCart)
	}

	cart := domain.NewCart(order.CatalogID, items)
	t.conv.ClearCheckout()
	t.conv.Cart = cart
	if err := e.transition(ctx, t.conv, domain.StateAwaitingAddress, t.log); err != nil {
		return err
	}
	t.log.Info("cart received", "items", len(cart.Items), "total_minor", cart.TotalMinor)
	return t.out.SendText(ctx, t.msg.From, cartSummaryMessage(cart, t.tenant.Currency()))
}

func (e *Engine) handleButton(ctx context.Context, t *turn) error {
	id := t.msg.Interactive.ID
	switch id {
	case ButtonViewCatalog:
		if err := t.out.SendCatalog(ctx, t.msg.From, msgCatalogBody, ""); err != nil {
			return err
		}
		// A pending payment link stays on the order; a later paid event still
		// settles it and confirms to the customer.
		return e.transition(ctx, t.conv, domain.StateBrowsing, t.log)
	case ButtonRestart:
		return e.restart(ctx, t)
	case ButtonHelp:
		return t.out.SendText(ctx, t.msg.From, helpMessage(t.tenant))
	case ButtonAddressManual:
		return e.rejectPendingAddress(ctx, t)
	default:
		t.log.Warn("unknown button", "button_id", id)
		return nil
	}
}

// restart clears the checkout and greets the customer again from BROWSING.
func (e *Engine) restart(ctx context.Context, t *turn) error {
	t.conv.Reset()
	if err := e.transition(ctx, t.conv, domain.StateBrowsing, t.log); err != nil {
		return err
	}
	t.log.Info("conversation restarted")
	return t.out.SendButtons(ctx, t.msg.From, greetingMessage(t.tenant), viewCatalogButton)
}

// cancel abandons the checkout. A pending order is cancelled with its payment
// link unless the payment already went through.
func (e *Engine) cancel(ctx context.Context, t *turn) error {
	conv := t.conv
	if conv.State.IsTerminal() || conv.State == domain.StateNew {
		return t.out.SendText(ctx, t.msg.From, msgNothingToCancel)
	}

	if conv.State == domain.StateAwaitingPayment && conv.PaymentLinkID != "" {
		paid, err := e.cancelPendingOrder(ctx, t)
		if err != nil {
			return err
		}
		if paid {
			return t.out.SendText(ctx, t.msg.From, alreadyPaidMessage(conv.OrderID))
		}
	}

	conv.ClearCheckout()
	if err := e.transition(ctx, conv, domain.StateCancelled, t.log); err != nil {
		return err
	}
	return t.out.SendText(ctx, t.msg.From, msgCancelled)
}

// cancelPendingOrder reports paid=true when the order settled before it could be cancelled.
func (e *Engine) cancelPendingOrder(ctx context.Context, t *turn) (paid bool, err error) {
	linkID := t.conv.PaymentLinkID
	order, applied, err := e.orders.ClosePayment(ctx, linkID, domain.PaymentStatusCancelled)
	if err != nil {
		if isOrderNotFound(err) {
			t.log.Warn("no order for conversation payment link", "payment_link_id", linkID)
			return false, nil
		}
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	if !applied {
		return order.Status == domain.OrderStatusPaid, nil
	}

	e.appendOrderEvent(ctx, domain.OrderEventCancelled, order)

	payments, err := e.clients.Payments(t.tenant)
	if err == nil {
		err = payments.CancelPaymentLink(ctx, linkID)
	}
	if err != nil {
		t.log.Warn("failed to cancel payment link", "payment_link_id", linkID, "order_id", order.OrderID, "error", err)
	}
	t.log.Info("order cancelled by customer", "order_id", order.OrderID, "payment_link_id", linkID)
	return false, nil
}
