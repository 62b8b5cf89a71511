package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/wa-commerce/internal/domain"
)

var orderIDPattern = regexp.MustCompile(`ORD-[0-9A-Z]+-[0-9A-Z]{4}`)

func TestHandleInbound_NewCustomerGetsGreeting(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("hi")))

	conv := f.conv()
	assert.Equal(t, domain.StateBrowsing, conv.State)
	assert.Equal(t, "Priya", conv.CustomerName)
	last := f.messenger.last()
	assert.Equal(t, "buttons", last.Kind)
	assert.Contains(t, last.Body, "Welcome to Handloom House")
	require.Len(t, last.Buttons, 1)
	assert.Equal(t, ButtonViewCatalog, last.Buttons[0].ID)
	assert.Equal(t, []string{"wamid.1"}, f.messenger.Read)
}

func TestHandleInbound_CustomWelcomeMessage(t *testing.T) {
	f := newFixture()
	f.tenant.Settings.WelcomeMessage = "Namaste! Tap below to shop."

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("hello")))
	assert.Equal(t, "Namaste! Tap below to shop.", f.messenger.last().Body)
}

func TestHandleInbound_UnknownTenantIsDropped(t *testing.T) {
	f := newFixture()
	msg := textMsg("hi")
	msg.PhoneNumberID = "unknown"

	require.NoError(t, f.engine.HandleInbound(context.Background(), msg))
	assert.Empty(t, f.messenger.Sent)
	n, err := f.conversations.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleInbound_FirstSeenNameWins(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateBrowsing, CustomerName: "Priya S"})

	msg := textMsg("hello")
	msg.Name = "Someone Else"
	require.NoError(t, f.engine.HandleInbound(context.Background(), msg))
	assert.Equal(t, "Priya S", f.conv().CustomerName)
}

func TestHandleInbound_BrowsingCatalogKeyword(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateBrowsing})

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("show me your collection")))
	assert.Equal(t, "catalog", f.messenger.last().Kind)

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("hello there")))
	assert.Equal(t, msgBrowsingReminder, f.messenger.last().Body)
	assert.Equal(t, domain.StateBrowsing, f.conv().State)
}

func TestHandleInbound_CatalogOrderBuildsCart(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateBrowsing})

	msg := orderMsg(
		domain.CatalogOrderItem{ProductRetailerID: "saree-1", Quantity: 2, ItemPriceMinor: 249900},
		domain.CatalogOrderItem{ProductRetailerID: "stole-3", Quantity: 1, ItemPriceMinor: 49950},
	)
	require.NoError(t, f.engine.HandleInbound(context.Background(), msg))

	conv := f.conv()
	assert.Equal(t, domain.StateAwaitingAddress, conv.State)
	require.NotNil(t, conv.Cart)
	assert.Equal(t, int64(549750), conv.Cart.TotalMinor)
	assert.InDelta(t, 5497.50, conv.Cart.TotalMajor, 0.001)

	body := f.messenger.last().Body
	assert.Contains(t, body, "1. saree-1\n   Qty: 2 × ₹2499 = ₹4998")
	assert.Contains(t, body, "2. stole-3\n   Qty: 1 × ₹499.50 = ₹499.50")
	assert.Contains(t, body, "*Total: ₹5497.50*")
	assert.Contains(t, body, "PIN code")
}

func TestHandleInbound_EmptyCartKeepsState(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateBrowsing})

	require.NoError(t, f.engine.HandleInbound(context.Background(), orderMsg()))
	assert.Equal(t, domain.StateBrowsing, f.conv().State)
	assert.Equal(t, msgEmptyCart, f.messenger.last().Body)
}

func TestHandleInbound_NewCartReplacesOldCheckout(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{
		State:          domain.StateAwaitingAddress,
		Cart:           sampleCart(),
		PendingAddress: &domain.PendingAddress{Text: "Hyderabad"},
	})

	msg := orderMsg(domain.CatalogOrderItem{ProductRetailerID: "kurta-9", Quantity: 3, ItemPriceMinor: 100000})
	require.NoError(t, f.engine.HandleInbound(context.Background(), msg))

	conv := f.conv()
	assert.Equal(t, domain.StateAwaitingAddress, conv.State)
	assert.Nil(t, conv.PendingAddress)
	require.Len(t, conv.Cart.Items, 1)
	assert.Equal(t, "kurta-9", conv.Cart.Items[0].ProductID)
}

func TestHandleInbound_ShortAddressRejected(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateAwaitingAddress, Cart: sampleCart()})

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("MG Road Bengaluru")))
	assert.Equal(t, domain.StateAwaitingAddress, f.conv().State)
	assert.Equal(t, msgInvalidAddress, f.messenger.last().Body)
	assert.Empty(t, f.payments.Requests)
}

func TestHandleInbound_AddressWithoutCartGoesBackToBrowsing(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateAwaitingAddress})

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("12 MG Road, Bengaluru 560001")))
	assert.Equal(t, domain.StateBrowsing, f.conv().State)
	assert.Equal(t, msgCartMissing, f.messenger.last().Body)
	assert.Empty(t, f.orders.all())
}

func TestHandleInbound_PaymentLinkFailureKeepsState(t *testing.T) {
	f := newFixture()
	f.payments.CreateErr = domain.NewExternalServiceError("razorpay", "create payment link", errBoom)
	f.seed(domain.Conversation{State: domain.StateAwaitingAddress, Cart: sampleCart()})

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("12 MG Road, Bengaluru 560001")))

	assert.Equal(t, domain.StateAwaitingAddress, f.conv().State)
	assert.Empty(t, f.orders.all())
	assert.Equal(t, msgLinkError, f.messenger.last().Body)
}

func TestHandleInbound_OrderCreateFailureCancelsLink(t *testing.T) {
	f := newFixture()
	f.orders.CreateErr = errBoom
	f.seed(domain.Conversation{State: domain.StateAwaitingAddress, Cart: sampleCart()})

	err := f.engine.HandleInbound(context.Background(), textMsg("12 MG Road, Bengaluru 560001"))
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, []string{"plink_1"}, f.payments.Cancelled)
	assert.Equal(t, domain.StateAwaitingAddress, f.conv().State)
	assert.Equal(t, msgError, f.messenger.last().Body)
}

func TestHandleInbound_AwaitingPaymentResendsLink(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{
		State:          domain.StateAwaitingPayment,
		Cart:           sampleCart(),
		PaymentLinkID:  "plink_x",
		PaymentLinkURL: "https://rzp.io/i/x",
	})

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("did it work?")))
	assert.Equal(t, domain.StateAwaitingPayment, f.conv().State)
	assert.Contains(t, f.messenger.last().Body, "💳 Payment Link: https://rzp.io/i/x")

}

func TestHandleInbound_ViewCatalogLeavesAwaitingPayment(t *testing.T) {
	f := newFixture()
	pendingCheckout(t, f)

	require.NoError(t, f.engine.HandleInbound(context.Background(), buttonMsg(ButtonViewCatalog)))
	assert.Equal(t, "catalog", f.messenger.last().Kind)
	conv := f.conv()
	assert.Equal(t, domain.StateBrowsing, conv.State)
	assert.Equal(t, "plink_7", conv.PaymentLinkID)

	require.NoError(t, f.engine.HandlePaymentEvent(context.Background(), paidEvent()))
	assert.Equal(t, domain.OrderStatusPaid, f.orders.all()[0].Status)
	assert.Equal(t, domain.StateBrowsing, f.conv().State)
	assert.Equal(t, 1, f.messenger.count("text"))
}

func TestHandleInbound_CompletedOffersShopAgain(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateCompleted})

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("thanks")))
	last := f.messenger.last()
	assert.Equal(t, msgShopAgain, last.Body)
	assert.Equal(t, "🛍️ Shop Again", last.Buttons[0].Title)
	assert.Equal(t, domain.StateCompleted, f.conv().State)
}

func TestHandleInbound_RestartClearsEverythingFromAnyState(t *testing.T) {
	for _, state := range domain.AllConversationStates {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture()
			f.seed(domain.Conversation{
				State:          state,
				Cart:           sampleCart(),
				Address:        "12 MG Road, Bengaluru 560001",
				PendingAddress: &domain.PendingAddress{Text: "Bengaluru"},
				OrderID:        "ORD-1",
				PaymentLinkID:  "plink_1",
				PaymentLinkURL: "https://rzp.io/i/1",
			})

			require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("Restart")))

			conv := f.conv()
			assert.Equal(t, domain.StateBrowsing, conv.State)
			assert.Nil(t, conv.Cart)
			assert.Empty(t, conv.Address)
			assert.Nil(t, conv.PendingAddress)
			assert.Empty(t, conv.OrderID)
			assert.Empty(t, conv.PaymentLinkID)
			assert.Empty(t, conv.PaymentLinkURL)
		})
	}
}

func TestHandleInbound_RestartButton(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateAwaitingAddress, Cart: sampleCart()})

	require.NoError(t, f.engine.HandleInbound(context.Background(), buttonMsg(ButtonRestart)))
	assert.Equal(t, domain.StateBrowsing, f.conv().State)
	assert.Nil(t, f.conv().Cart)
}

func TestHandleInbound_HelpDoesNotChangeState(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateAwaitingAddress, Cart: sampleCart()})

	require.NoError(t, f.engine.HandleInbound(context.Background(), textMsg("help")))
	assert.Equal(t, domain.StateAwaitingAddress, f.conv().State)
	body := f.messenger.last().Body
	assert.Contains(t, body, "*How to Order:*")
	assert.Contains(t, body, "Call us at +91 98000 00000")
}

func TestHandleInbound_UnsupportedType(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateBrowsing})
	msg := textMsg("")
	msg.Type = "image"

	require.NoError(t, f.engine.HandleInbound(context.Background(), msg))
	assert.Equal(t, msgUnsupported, f.messenger.last().Body)
	assert.Equal(t, domain.StateBrowsing, f.conv().State)
}

func TestHandleInbound_LocationIgnoredOutsideAddressStep(t *testing.T) {
	f := newFixture()
	f.seed(domain.Conversation{State: domain.StateBrowsing})

	require.NoError(t, f.engine.HandleInbound(context.Background(), locationMsg(17.4, 78.4, "")))
	assert.Empty(t, f.messenger.Sent)
	assert.Equal(t, 0, f.geocoder.Calls)
}

func TestHandleInbound_SendFailureReportsError(t *testing.T) {
	f := newFixture()
	f.messenger.SendErr = errBoom

	err := f.engine.HandleInbound(context.Background(), textMsg("hi"))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, domain.StateNew, f.conv().State)
}

func TestEnqueue_UsesConversationKey(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.engine.Enqueue(textMsg("hi")))
	assert.Equal(t, []string{testPhoneNumberID + ":" + testCustomer}, f.serializer.keys)
	assert.Equal(t, domain.StateBrowsing, f.conv().State)
}

// A customer goes from cart to paid order.
func TestEndToEnd_CartToCompletedOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.HandleInbound(ctx, textMsg("hi")))

	cart := orderMsg(
		domain.CatalogOrderItem{ProductRetailerID: "saree-1", Quantity: 1, ItemPriceMinor: 249900},
		domain.CatalogOrderItem{ProductRetailerID: "saree-2", Quantity: 2, ItemPriceMinor: 249900},
		domain.CatalogOrderItem{ProductRetailerID: "saree-3", Quantity: 3, ItemPriceMinor: 249900},
	)
	require.NoError(t, f.engine.HandleInbound(ctx, cart))
	assert.Equal(t, domain.StateAwaitingAddress, f.conv().State)
	assert.Contains(t, f.messenger.last().Body, "*Total: ₹14994*")

	address := "12 MG Road, Bengaluru 560"
	require.Len(t, address, 25)
	require.NoError(t, f.engine.HandleInbound(ctx, textMsg(address)))

	conv := f.conv()
	assert.Equal(t, domain.StateAwaitingPayment, conv.State)
	assert.Regexp(t, `^ORD-[0-9A-Z]+-[0-9A-Z]{4}$`, conv.OrderID)
	assert.Equal(t, "plink_1", conv.PaymentLinkID)

	paymentMsg := f.messenger.last().Body
	assert.Contains(t, paymentMsg, "✅ *Order Summary*")
	assert.Equal(t, conv.OrderID, orderIDPattern.FindString(paymentMsg))
	assert.Contains(t, paymentMsg, "https://rzp.io/i/plink_1")
	assert.Contains(t, paymentMsg, address)

	require.Len(t, f.payments.Requests, 1)
	req := f.payments.Requests[0]
	assert.Equal(t, int64(1499400), req.AmountMinor)
	assert.Equal(t, conv.OrderID, req.OrderID)
	assert.Equal(t, "Priya", req.CustomerName)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), req.ExpireBy, time.Minute)

	orders := f.orders.all()
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusPaymentPending, orders[0].Status)
	assert.Equal(t, domain.PaymentStatusCreated, orders[0].Payment.Status)
	assert.Equal(t, address, orders[0].ShippingAddress.FullAddress)

	err := f.engine.HandlePaymentEvent(ctx, &domain.PaymentEvent{
		EventID:       "evt_1",
		Type:          domain.PaymentLinkPaid,
		PaymentLinkID: "plink_1",
		PaymentID:     "pay_1",
		Method:        "upi",
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StateCompleted, f.conv().State)
	assert.Equal(t, 1, f.messenger.count("document"))
	var confirmation string
	for _, s := range f.messenger.Sent {
		if s.Kind == "text" {
			confirmation = s.Body
		}
	}
	assert.Contains(t, confirmation, "🎉 *Payment Received!*")
	assert.Contains(t, confirmation, "Thank you, Priya!")
	assert.Contains(t, confirmation, "Amount Paid: ₹14994")
	assert.Equal(t, []string{domain.OrderEventPaid}, f.outbox.types())
}
