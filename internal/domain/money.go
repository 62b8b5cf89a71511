package domain

import (
	"fmt"
	"strings"
)

const DefaultCurrency = "INR"

// MinorToMajor is for display only. Exact whenever minor is a multiple of 100.
func MinorToMajor(minor int64) float64 {
	return float64(minor) / 100
}

// FormatMinor renders minor units without going through float64:
// 250000 -> "2500", 249950 -> "2499.50".
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	if minor%100 == 0 {
		return fmt.Sprintf("%s%d", sign, minor/100)
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// FormatAmount prefixes the currency symbol, e.g. "₹2499.50".
func FormatAmount(minor int64, currency string) string {
	return CurrencySymbol(currency) + FormatMinor(minor)
}

func CurrencySymbol(currency string) string {
	switch strings.ToUpper(currency) {
	case "", "INR":
		return "₹"
	case "USD":
		return "$"
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	default:
		return strings.ToUpper(currency) + " "
	}
}
