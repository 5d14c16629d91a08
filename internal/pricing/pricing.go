package pricing

import (
	"context"
	"strings"

	"github.com/example/city-rides/internal/currency"
)

// Mode selects how a ride's base price is computed.
type Mode string

const (
	ModeFixed    Mode = "fixed"
	ModeDistance Mode = "distance"
)

// Input carries everything needed to price a ride in its base currency.
type Input struct {
	Mode        Mode
	FixedAmount float64
	DistanceKm  float64
	PricePerKm  float64
	Passengers  int
	Currency    string
}

// Display is a price prepared for a viewer, possibly converted to
// their local currency. When no rate is available the base amount
// still renders and RatesUnavailable flags the missing conversion.
type Display struct {
	Amount           float64  `json:"amount"`
	Currency         string   `json:"currency"`
	LocalAmount      *float64 `json:"local_amount,omitempty"`
	LocalCurrency    string   `json:"local_currency,omitempty"`
	IsFallback       bool     `json:"is_fallback,omitempty"`
	RatesUnavailable bool     `json:"rates_unavailable,omitempty"`
}

// Engine computes ride prices and localized displays.
type Engine struct {
	Converter *currency.Converter
}

// Price computes the base-currency price: fixed amount or distance
// rate, multiplied by passenger count, rounded per currency, floored
// at zero.
func (e *Engine) Price(in Input) float64 {
	passengers := in.Passengers
	if passengers < 1 {
		passengers = 1
	}
	var raw float64
	switch in.Mode {
	case ModeFixed:
		raw = in.FixedAmount * float64(passengers)
	default:
		raw = in.DistanceKm * in.PricePerKm * float64(passengers)
	}
	price := currency.RoundAmount(raw, in.Currency)
	if price < 0 {
		return 0
	}
	return price
}

// Localize prepares a base-currency amount for a viewer in the given
// country. Conversion failures never block: the base amount is shown
// and the missing rate is flagged.
func (e *Engine) Localize(ctx context.Context, amount float64, baseCurrency, viewerCountry string) Display {
	d := Display{Amount: amount, Currency: currency.Normalize(baseCurrency, "")}
	if e.Converter == nil || strings.TrimSpace(viewerCountry) == "" {
		return d
	}

	local, isFallback := e.Converter.ForCountry(ctx, viewerCountry, "")
	d.IsFallback = isFallback
	if local == d.Currency {
		return d
	}

	rate, ok := e.Converter.Rate(ctx, d.Currency, local)
	if !ok {
		d.RatesUnavailable = true
		return d
	}
	converted := currency.RoundAmount(amount*rate, local)
	d.LocalAmount = &converted
	d.LocalCurrency = local
	return d
}
