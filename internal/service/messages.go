package service

import (
	"fmt"
	"strings"

	"github.com/fjod/wa-commerce/internal/domain"
)

// Reply button ids.
const (
	ButtonViewCatalog   = "view_catalog"
	ButtonRestart       = "restart"
	ButtonHelp          = "help"
	ButtonAddressManual = "address_manual"
)

const (
	msgBrowsingReminder = "Please browse our collection and add items to your cart! 🛒\n\n" +
		"Once you've selected your items, send your cart and I'll help you complete your order.\n\n" +
		"_Type 'catalog' to view our collection_"

	msgCatalogBody   = "Browse our collection and add the items you like to your cart 🛒"
	msgEmptyCart     = "Your cart appears to be empty. Please add some items and try again! 🛒"
	msgCartMissing   = "It seems your cart is empty. Please add items to your cart first!"
	msgProcessing    = "📝 Address received! Generating your payment link..."
	msgLinkError     = "Sorry, there was an issue generating your payment link. Please try again or contact us for assistance."
	msgError         = "Sorry, something went wrong. Please try again or type 'restart' to start fresh. 🙏"
	msgShopAgain     = "Thank you for your order! 🙏\n\nWould you like to place another order?"
	msgExpired       = "Your payment link has expired. Would you like to place the order again?"
	msgLinkCancelled = "Your payment link was cancelled. Would you like to place the order again?"

	msgUnsupported = "Sorry, I can only process text messages and orders from our catalog. 🙏\n\n" +
		"Please send your order from the catalog or type your message."

	msgInvalidAddress = "That address seems incomplete. Please provide your full delivery address including:\n\n" +
		addressChecklist

	msgManualAddress = "I couldn't work out an address from that location. 📍\n\n" +
		"Please type your complete delivery address including:\n\n" + addressChecklist

	msgCancelled = "Your order has been cancelled. ❌\n\n" +
		"Whenever you're ready, just send us a message to start shopping again."

	msgNothingToCancel = "You don't have an active order to cancel.\n\n_Type 'catalog' to view our collection_"
)

const addressChecklist = "• House/Flat number\n" +
	"• Street name\n" +
	"• City, State\n" +
	"• PIN code"

var (
	viewCatalogButton = []domain.Button{{ID: ButtonViewCatalog, Title: "🛍️ View Collection"}}
	shopAgainButton   = []domain.Button{{ID: ButtonViewCatalog, Title: "🛍️ Shop Again"}}
	startNewButton    = []domain.Button{{ID: ButtonViewCatalog, Title: "🛍️ Start New Order"}}
	manualAddrButton  = []domain.Button{{ID: ButtonAddressManual, Title: "✏️ Type Full Address"}}
)

func greetingMessage(tenant *domain.TenantConfig) string {
	if tenant.Settings.WelcomeMessage != "" {
		return tenant.Settings.WelcomeMessage
	}
	return fmt.Sprintf("🙏 *Welcome to %s!*\n\n", tenant.BusinessName) +
		"We have a beautiful collection of handpicked items waiting for you.\n\n" +
		"Click the button below to browse our collection. Add items you like to your cart, " +
		"and send the cart when you're ready to order!"
}

func helpMessage(tenant *domain.TenantConfig) string {
	var b strings.Builder
	b.WriteString("*How to Order:* 📦\n\n")
	b.WriteString("1️⃣ Browse our collection\n")
	b.WriteString("2️⃣ Add items to your cart\n")
	b.WriteString("3️⃣ Send your cart when ready\n")
	b.WriteString("4️⃣ Share your delivery address\n")
	b.WriteString("5️⃣ Complete payment\n\n")
	b.WriteString("*Commands:*\n")
	b.WriteString("• _catalog_ - View our collection\n")
	b.WriteString("• _restart_ - Start a new order\n")
	b.WriteString("• _cancel_ - Cancel your current order\n")
	b.WriteString("• _help_ - Show this message")
	if tenant.BusinessPhone != "" {
		b.WriteString("\n\nNeed human assistance? Call us at " + tenant.BusinessPhone)
	}
	return b.String()
}

func cartSummaryMessage(cart *domain.Cart, currency string) string {
	var b strings.Builder
	b.WriteString("✨ *Great choices!* Here's your order:\n\n")
	for i, item := range cart.Items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.DisplayName())
		fmt.Fprintf(&b, "   Qty: %d × %s = %s\n", item.Quantity,
			domain.FormatAmount(item.UnitPriceMinor, currency),
			domain.FormatAmount(item.LineTotalMinor(), currency))
	}
	fmt.Fprintf(&b, "\n*Total: %s*\n\n", domain.FormatAmount(cart.TotalMinor, currency))
	b.WriteString("📍 To calculate shipping and generate your bill, please reply with your *complete delivery address* including:\n")
	b.WriteString(addressChecklist)
	b.WriteString("\n\n_You can also share your location_ 📌")
	return b.String()
}

func awaitingPaymentMessage(conv *domain.Conversation) string {
	link := conv.PaymentLinkURL
	if link == "" {
		link = "Check previous message"
	}
	return "Please complete your payment using the link I sent earlier.\n\n" +
		"💳 Payment Link: " + link + "\n\n" +
		"_Type 'restart' to start a new order or 'help' for assistance._"
}

func paymentMessage(order *domain.Order, paymentURL string) string {
	return "✅ *Order Summary*\n\n" +
		"Order ID: " + order.OrderID + "\n" +
		fmt.Sprintf("Items: %d\n", len(order.Items)) +
		"Total: *" + domain.FormatAmount(order.TotalMinor, order.Currency) + "*\n\n" +
		"📍 *Delivery Address:*\n" + order.ShippingAddress.FullAddress + "\n\n" +
		"💳 *Click below to pay securely:*\n" + paymentURL + "\n\n" +
		"_This link is valid for 24 hours._"
}

func confirmationMessage(order *domain.Order) string {
	name := order.CustomerName
	if name == "" {
		name = "valued customer"
	}
	return "🎉 *Payment Received!*\n\n" +
		"Thank you, " + name + "!\n\n" +
		"✅ *Order Confirmed*\n" +
		"Order ID: " + order.OrderID + "\n" +
		"Amount Paid: " + domain.FormatAmount(order.TotalMinor, order.Currency) + "\n\n" +
		"📦 Your order will be shipped within 2-3 business days.\n\n" +
		"📍 *Shipping to:*\n" + order.ShippingAddress.FullAddress + "\n\n" +
		"We'll send you tracking details once shipped.\n\n" +
		"Thank you for shopping with us! 🙏"
}

func pendingAddressMessage(address string) string {
	return "📍 *Location received!*\n\n" + address + "\n\n" +
		"Please reply with your *house/flat number and building name* to complete the address.\n\n" +
		"_If this location is wrong, tap the button below to type your full address instead._"
}

func alreadyPaidMessage(orderID string) string {
	return "We've already received your payment for order " + orderID + ", so it can no longer be cancelled.\n\n" +
		"_Type 'help' for assistance._"
}

func refundMessage(order *domain.Order) string {
	return "💸 A refund of " + domain.FormatAmount(order.TotalMinor, order.Currency) +
		" for order " + order.OrderID + " has been initiated.\n\n" +
		"It usually reaches your account within 5-7 business days."
}
