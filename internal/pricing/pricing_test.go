package pricing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/city-rides/internal/cache"
	"github.com/example/city-rides/internal/currency"
	"github.com/example/city-rides/internal/geo"
	"github.com/example/city-rides/internal/models"
)

func TestPriceDistanceMode(t *testing.T) {
	e := &Engine{}
	// Short cross-town trip, per-km price 1, two passengers.
	pickup := models.GeoPoint{Lat: 43.2389, Lng: 76.8897}
	dropoff := models.GeoPoint{Lat: 43.2500, Lng: 76.9500}
	dist := geo.Haversine(pickup, dropoff)

	got := e.Price(Input{Mode: ModeDistance, DistanceKm: dist, PricePerKm: 1, Passengers: 2, Currency: "USD"})
	want := currency.RoundAmount(dist*1*2, "USD")
	if got != want {
		t.Fatalf("price = %f, want %f", got, want)
	}
	if got <= 0 {
		t.Fatalf("price = %f, want > 0 for a real trip", got)
	}
}

func TestPriceFixedMode(t *testing.T) {
	e := &Engine{}
	got := e.Price(Input{Mode: ModeFixed, FixedAmount: 1500, Passengers: 3, Currency: "KZT"})
	if got != 4500 {
		t.Fatalf("price = %f, want 4500", got)
	}
}

func TestPriceFlooredAtZero(t *testing.T) {
	e := &Engine{}
	if got := e.Price(Input{Mode: ModeFixed, FixedAmount: -10, Passengers: 1, Currency: "USD"}); got != 0 {
		t.Fatalf("price = %f, want 0", got)
	}
}

func TestPriceZeroDecimalCurrencyIsInteger(t *testing.T) {
	e := &Engine{}
	got := e.Price(Input{Mode: ModeDistance, DistanceKm: 7.77, PricePerKm: 101.3, Passengers: 1, Currency: "KZT"})
	if got != float64(int64(got)) {
		t.Fatalf("price %f not integral for KZT", got)
	}
}

type stubSource struct{ rates map[string]float64 }

func (s *stubSource) RatesFor(ctx context.Context, base string) (map[string]float64, error) {
	return s.rates, nil
}

type stubDirectory struct{ code string }

func (s *stubDirectory) CurrencyFor(ctx context.Context, cc string) (string, error) {
	return s.code, nil
}

func newConverter(src currency.RateSource, dir currency.CountryDirectory) *currency.Converter {
	return &currency.Converter{
		Source:     src,
		Directory:  dir,
		Cache:      cache.NewMemory(),
		RateTTL:    time.Hour,
		CountryTTL: time.Hour,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestLocalizeConverts(t *testing.T) {
	conv := newConverter(&stubSource{rates: map[string]float64{"USD": 0.002}}, &stubDirectory{code: "USD"})
	e := &Engine{Converter: conv}

	d := e.Localize(context.Background(), 5000, "KZT", "US")
	if d.Amount != 5000 || d.Currency != "KZT" {
		t.Fatalf("base display wrong: %+v", d)
	}
	if d.LocalAmount == nil || *d.LocalAmount != 10 || d.LocalCurrency != "USD" {
		t.Fatalf("local display wrong: %+v", d)
	}
	if d.RatesUnavailable {
		t.Fatal("rates flagged unavailable")
	}
}

func TestLocalizeUnsupportedLocalFallsBackFlagged(t *testing.T) {
	// Viewer's native currency is outside the settlement set: display
	// falls back with is_fallback so the UI can disclose it.
	conv := newConverter(&stubSource{rates: map[string]float64{"USD": 0.002}}, &stubDirectory{code: "TMT"})
	e := &Engine{Converter: conv}

	d := e.Localize(context.Background(), 5000, "KZT", "TM")
	if !d.IsFallback {
		t.Fatal("expected is_fallback for unsupported local currency")
	}
	if d.LocalCurrency != "USD" || d.LocalAmount == nil {
		t.Fatalf("expected USD fallback conversion, got %+v", d)
	}
}

func TestLocalizeNoRatesNeverBlocks(t *testing.T) {
	conv := newConverter(nil, &stubDirectory{code: "USD"})
	e := &Engine{Converter: conv}

	d := e.Localize(context.Background(), 5000, "KZT", "US")
	if !d.RatesUnavailable {
		t.Fatal("expected rates_unavailable flag")
	}
	if d.Amount != 5000 || d.Currency != "KZT" {
		t.Fatalf("base amount must survive: %+v", d)
	}
	if d.LocalAmount != nil {
		t.Fatal("no local amount expected without rates")
	}
}

func TestLocalizeSameCurrencyNoConversion(t *testing.T) {
	conv := newConverter(nil, &stubDirectory{code: "KZT"})
	e := &Engine{Converter: conv}
	d := e.Localize(context.Background(), 5000, "KZT", "KZ")
	if d.LocalAmount != nil || d.RatesUnavailable {
		t.Fatalf("same-currency viewer should get base display only: %+v", d)
	}
}
