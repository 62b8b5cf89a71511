package service

import (
	"context"
	"strings"
	"unicode"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/geocoding"
)

const minAddressLength = 20

// ValidAddress accepts text of at least 20 characters after trimming that
// contains an ASCII letter or digit.
func ValidAddress(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < minAddressLength {
		return false
	}
	return strings.IndexFunc(trimmed, func(r rune) bool {
		return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
	}) >= 0
}

// IsDetailedAddress reports whether a provider-supplied address carries at
// least two of: a comma, more than 30 characters, a digit.
func IsDetailedAddress(address string) bool {
	a := strings.TrimSpace(address)
	if a == "" {
		return false
	}
	score := 0
	if strings.Contains(a, ",") {
		score++
	}
	if len([]rune(a)) > 30 {
		score++
	}
	if strings.ContainsAny(a, "0123456789") {
		score++
	}
	return score >= 2
}

// MergeAddress prefixes the area-level pending address with the customer's house detail.
func MergeAddress(detail, pending string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return pending
	}
	return detail + ", " + pending
}

func (e *Engine) handleAddressText(ctx context.Context, t *turn) error {
	conv := t.conv
	if conv.PendingAddress != nil {
		if strings.TrimSpace(t.msg.Text) == "" {
			return t.out.SendButtons(ctx, t.msg.From, pendingAddressMessage(conv.PendingAddress.Text), manualAddrButton)
		}
		address := MergeAddress(t.msg.Text, conv.PendingAddress.Text)
		conv.PendingAddress = nil
		return e.checkout(ctx, t, address)
	}
	if !ValidAddress(t.msg.Text) {
		return t.out.SendText(ctx, t.msg.From, msgInvalidAddress)
	}
	return e.checkout(ctx, t, strings.TrimSpace(t.msg.Text))
}

func (e *Engine) handleLocation(ctx context.Context, t *turn) error {
	loc := t.msg.Location
	address := e.extractAddress(ctx, t, loc)
	if address == "" {
		return t.out.SendText(ctx, t.msg.From, msgManualAddress)
	}

	t.conv.PendingAddress = &domain.PendingAddress{
		Text:     address,
		Source:   domain.AddressSourceLocation,
		Location: &domain.GeoPoint{Latitude: loc.Latitude, Longitude: loc.Longitude},
	}
	if err := e.conversations.Save(ctx, t.conv); err != nil {
		return err
	}
	t.log.Info("pending address stored", "source", domain.AddressSourceLocation)
	return t.out.SendButtons(ctx, t.msg.From, pendingAddressMessage(address), manualAddrButton)
}

// extractAddress prefers a detailed provider address, then reverse geocoding,
// then whatever the provider sent. Empty means nothing usable.
func (e *Engine) extractAddress(ctx context.Context, t *turn, loc *domain.LocationShare) string {
	provided := strings.TrimSpace(loc.Address)
	if IsDetailedAddress(provided) {
		return provided
	}

	if e.geocoder != nil {
		result, err := e.geocoder.Reverse(ctx, loc.Latitude, loc.Longitude)
		if err == nil {
			if result.Confidence == domain.ConfidenceLow {
				t.log.Warn("low confidence geocode", "lat", loc.Latitude, "lng", loc.Longitude)
			}
			if formatted := geocoding.FormatDeliveryAddress(result, e.defaultCountry); formatted != "" {
				return formatted
			}
		} else {
			t.log.Warn("reverse geocoding failed", "lat", loc.Latitude, "lng", loc.Longitude, "error", err)
		}
	}
	return provided
}

// rejectPendingAddress drops a location-derived address and asks for a typed one.
func (e *Engine) rejectPendingAddress(ctx context.Context, t *turn) error {
	if t.conv.State != domain.StateAwaitingAddress {
		t.log.Debug("address button outside address step", "state", t.conv.State)
		return nil
	}
	if t.conv.PendingAddress != nil {
		t.conv.PendingAddress = nil
		if err := e.conversations.Save(ctx, t.conv); err != nil {
			return err
		}
	}
	return t.out.SendText(ctx, t.msg.From, "Please type your complete delivery address including:\n\n"+addressChecklist)
}
