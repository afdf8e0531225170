package model

import (
	"strings"

	"golang.org/x/text/currency"
)

// currencyKeywords is checked in order so that "canadian dollar" resolves to
// CAD before the bare "dollar" rule fires.
var currencyKeywords = []struct {
	keyword string
	code    string
}{
	{"canadian", "CAD"},
	{"cad", "CAD"},
	{"c$", "CAD"},
	{"australian", "AUD"},
	{"aud", "AUD"},
	{"a$", "AUD"},
	{"euro", "EUR"},
	{"eur", "EUR"},
	{"€", "EUR"},
	{"pound", "GBP"},
	{"sterling", "GBP"},
	{"gbp", "GBP"},
	{"£", "GBP"},
	{"yen", "JPY"},
	{"jpy", "JPY"},
	{"¥", "JPY"},
	{"dollar", "USD"},
	{"usd", "USD"},
	{"$", "USD"},
}

// ParseCurrency maps an ISO code, currency name or symbol onto an ISO 4217
// code.
func ParseCurrency(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if len(s) == 3 {
		if unit, err := currency.ParseISO(strings.ToUpper(s)); err == nil {
			return unit.String(), true
		}
	}
	lower := strings.ToLower(s)
	for _, kw := range currencyKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.code, true
		}
	}
	return "", false
}

// NormalizeCurrency returns the ISO code for s, or DefaultCurrency.
func NormalizeCurrency(s string) string {
	if code, ok := ParseCurrency(s); ok {
		return code
	}
	return DefaultCurrency
}
