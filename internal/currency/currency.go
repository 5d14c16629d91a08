package currency

import (
	"math"
	"strings"
)

// Supported settlement currencies. Anything outside this set is
// substituted by the fallback and ultimately USD.
var supported = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
	"KZT": true,
	"RUB": true,
	"KGS": true,
	"UZS": true,
	"TRY": true,
	"AED": true,
	"CNY": true,
	"INR": true,
	"JPY": true,
	"KRW": true,
}

// Currencies with no minor unit; amounts in them round to integers.
var zeroDecimal = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
	"KZT": true,
	"UZS": true,
}

// Normalize uppercases and trims a currency code and returns it only
// if it is supported; otherwise the normalized fallback, finally USD.
func Normalize(code, fallback string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if supported[c] {
		return c
	}
	f := strings.ToUpper(strings.TrimSpace(fallback))
	if supported[f] {
		return f
	}
	return "USD"
}

// IsSupported reports whether the (already trimmed/uppercased or raw)
// code is a settlement currency.
func IsSupported(code string) bool {
	return supported[strings.ToUpper(strings.TrimSpace(code))]
}

// RoundAmount rounds to the currency's precision: integers for
// zero-decimal currencies, two decimal places otherwise.
func RoundAmount(amount float64, code string) float64 {
	if zeroDecimal[strings.ToUpper(strings.TrimSpace(code))] {
		return math.Round(amount)
	}
	return math.Round(amount*100) / 100
}
