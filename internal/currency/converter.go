package currency

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/example/city-rides/internal/cache"
)

// RateSource fetches a full exchange-rate table for a base currency.
type RateSource interface {
	RatesFor(ctx context.Context, base string) (map[string]float64, error)
}

// CountryDirectory maps an ISO country code to its native currency.
type CountryDirectory interface {
	CurrencyFor(ctx context.Context, countryCode string) (string, error)
}

// Converter resolves exchange rates and per-country currencies through
// TTL caches. Every failure degrades to "no conversion available";
// callers must never block a ride on it.
type Converter struct {
	Source    RateSource
	Directory CountryDirectory
	Cache     cache.Store

	RateTTL    time.Duration
	CountryTTL time.Duration

	Logger *slog.Logger
}

// Rate returns the base→target rate and whether one is available.
func (c *Converter) Rate(ctx context.Context, base, target string) (float64, bool) {
	base = strings.ToUpper(strings.TrimSpace(base))
	target = strings.ToUpper(strings.TrimSpace(target))
	if base == "" || target == "" {
		return 0, false
	}
	if base == target {
		return 1, true
	}

	rates, ok := c.cachedRates(ctx, base)
	if !ok {
		if c.Source == nil {
			return 0, false
		}
		fetched, err := c.Source.RatesFor(ctx, base)
		if err != nil || len(fetched) == 0 {
			c.Logger.Warn("rate fetch failed", "base", base, "error", err)
			return 0, false
		}
		rates = fetched
		c.storeRates(ctx, base, rates)
	}

	r, ok := rates[target]
	if !ok || r <= 0 {
		return 0, false
	}
	return r, true
}

// ForCountry resolves the settlement currency for a country and
// reports whether a fallback substitution occurred. Results are cached
// per country.
func (c *Converter) ForCountry(ctx context.Context, countryCode, fallback string) (string, bool) {
	cc := strings.ToUpper(strings.TrimSpace(countryCode))
	if cc == "" || c.Directory == nil {
		return Normalize("", fallback), true
	}

	native, ok := c.cachedCountry(ctx, cc)
	if !ok {
		fetched, err := c.Directory.CurrencyFor(ctx, cc)
		if err != nil {
			c.Logger.Warn("country currency lookup failed", "country", cc, "error", err)
			return Normalize("", fallback), true
		}
		native = strings.ToUpper(strings.TrimSpace(fetched))
		c.storeCountry(ctx, cc, native)
	}

	code := Normalize(native, fallback)
	return code, code != native
}

func rateKey(base string) string  { return "fx:rates:" + base }
func countryKey(cc string) string { return "fx:country:" + cc }

func (c *Converter) cachedRates(ctx context.Context, base string) (map[string]float64, bool) {
	b, err := c.Cache.Get(ctx, rateKey(base))
	if err != nil {
		return nil, false
	}
	var rates map[string]float64
	if err := json.Unmarshal(b, &rates); err != nil {
		return nil, false
	}
	return rates, true
}

func (c *Converter) storeRates(ctx context.Context, base string, rates map[string]float64) {
	b, err := json.Marshal(rates)
	if err != nil {
		return
	}
	if err := c.Cache.Set(ctx, rateKey(base), b, c.RateTTL); err != nil {
		c.Logger.Warn("rate cache write failed", "base", base, "error", err)
	}
}

func (c *Converter) cachedCountry(ctx context.Context, cc string) (string, bool) {
	b, err := c.Cache.Get(ctx, countryKey(cc))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (c *Converter) storeCountry(ctx context.Context, cc, code string) {
	if err := c.Cache.Set(ctx, countryKey(cc), []byte(code), c.CountryTTL); err != nil {
		c.Logger.Warn("country cache write failed", "country", cc, "error", err)
	}
}
