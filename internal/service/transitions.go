package service

import (
	"strings"

	"github.com/fjod/wa-commerce/internal/domain"
)

type action int

const (
	actNone action = iota
	actGreet
	actBrowse
	actAddress
	actLocation
	actResendLink
	actShopAgain
	actAcceptCart
	actButton
	actUnsupported
	actPaid
	actExpired
)

var actionNames = map[action]string{
	actNone:        "none",
	actGreet:       "greet",
	actBrowse:      "browse",
	actAddress:     "address",
	actLocation:    "location",
	actResendLink:  "resend_link",
	actShopAgain:   "shop_again",
	actAcceptCart:  "accept_cart",
	actButton:      "button",
	actUnsupported: "unsupported",
	actPaid:        "paid",
	actExpired:     "expired",
}

func (a action) String() string {
	return actionNames[a]
}

// anyState applies to every conversation state.
var anyState = map[domain.EventKind]action{
	domain.EventInteractiveReply: actButton,
	domain.EventUnsupported:      actUnsupported,
	domain.EventPaymentExpired:   actExpired,
	domain.EventCatalogOrder:     actAcceptCart,
}

// routes is the (state, event kind) dispatch table. Pairs found in neither
// routes nor anyState are ignored and leave the state unchanged.
var routes = map[domain.ConversationState]map[domain.EventKind]action{
	domain.StateNew: {
		domain.EventText: actGreet,
	},
	domain.StateBrowsing: {
		domain.EventText: actBrowse,
	},
	domain.StateAwaitingAddress: {
		domain.EventText:          actAddress,
		domain.EventLocationShare: actLocation,
	},
	domain.StateAwaitingPayment: {
		domain.EventText:         actResendLink,
		domain.EventCatalogOrder: actResendLink,
		domain.EventPaymentPaid:  actPaid,
	},
	domain.StateCompleted: {
		domain.EventText: actShopAgain,
	},
	domain.StateCancelled: {
		domain.EventText: actGreet,
	},
}

func route(state domain.ConversationState, kind domain.EventKind) action {
	if a, ok := routes[state][kind]; ok {
		return a
	}
	if a, ok := anyState[kind]; ok {
		return a
	}
	return actNone
}

type command int

const (
	cmdNone command = iota
	cmdRestart
	cmdCancel
	cmdHelp
)

var commands = map[string]command{
	"restart":      cmdRestart,
	"reset":        cmdRestart,
	"start over":   cmdRestart,
	"new order":    cmdRestart,
	"cancel":       cmdCancel,
	"cancel order": cmdCancel,
	"help":         cmdHelp,
	"support":      cmdHelp,
	"assistance":   cmdHelp,
	"?":            cmdHelp,
}

var catalogKeywords = map[string]bool{
	"catalog":    true,
	"catalogue":  true,
	"collection": true,
	"products":   true,
	"items":      true,
	"browse":     true,
	"shop":       true,
}

// normalize lower-cases, trims and collapses inner whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// parseCommand matches the whole message, so "help me with my address" is not a command.
func parseCommand(text string) command {
	return commands[strings.TrimRight(normalize(text), "!.")]
}

func isCatalogRequest(text string) bool {
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if catalogKeywords[word] {
			return true
		}
	}
	return false
}
