package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/city-rides/internal/models"
)

// IPFix is the normalized answer of one IP geolocation provider.
// Providers return heterogeneous shapes; the resolver only sees this.
type IPFix struct {
	City        string
	CountryCode string
	Point       *models.GeoPoint
}

// IPProvider is one independently queryable geolocation source.
type IPProvider interface {
	Name() string
	Lookup(ctx context.Context) (IPFix, error)
}

// DefaultIPProviders returns the production provider set, each bounded
// by the given per-call timeout.
func DefaultIPProviders(timeout time.Duration) []IPProvider {
	client := &http.Client{Timeout: timeout}
	return []IPProvider{
		&ipAPIProvider{endpoint: "http://ip-api.com/json", client: client},
		&ipapiCoProvider{endpoint: "https://ipapi.co/json", client: client},
		&ipwhoProvider{endpoint: "https://ipwho.is", client: client},
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type ipAPIProvider struct {
	endpoint string
	client   *http.Client
}

func (p *ipAPIProvider) Name() string { return "ip-api" }

func (p *ipAPIProvider) Lookup(ctx context.Context) (IPFix, error) {
	var out struct {
		Status      string  `json:"status"`
		City        string  `json:"city"`
		CountryCode string  `json:"countryCode"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
	}
	if err := getJSON(ctx, p.client, p.endpoint, &out); err != nil {
		return IPFix{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if out.Status != "success" {
		return IPFix{}, fmt.Errorf("%s: status %q", p.Name(), out.Status)
	}
	return IPFix{
		City:        out.City,
		CountryCode: out.CountryCode,
		Point:       &models.GeoPoint{Lat: out.Lat, Lng: out.Lon},
	}, nil
}

type ipapiCoProvider struct {
	endpoint string
	client   *http.Client
}

func (p *ipapiCoProvider) Name() string { return "ipapi.co" }

func (p *ipapiCoProvider) Lookup(ctx context.Context) (IPFix, error) {
	var out struct {
		City        string  `json:"city"`
		CountryCode string  `json:"country_code"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Error       bool    `json:"error"`
	}
	if err := getJSON(ctx, p.client, p.endpoint, &out); err != nil {
		return IPFix{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if out.Error {
		return IPFix{}, fmt.Errorf("%s: provider error", p.Name())
	}
	fix := IPFix{City: out.City, CountryCode: out.CountryCode}
	if out.Latitude != 0 || out.Longitude != 0 {
		fix.Point = &models.GeoPoint{Lat: out.Latitude, Lng: out.Longitude}
	}
	return fix, nil
}

type ipwhoProvider struct {
	endpoint string
	client   *http.Client
}

func (p *ipwhoProvider) Name() string { return "ipwho.is" }

func (p *ipwhoProvider) Lookup(ctx context.Context) (IPFix, error) {
	var out struct {
		Success     bool    `json:"success"`
		City        string  `json:"city"`
		CountryCode string  `json:"country_code"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
	}
	if err := getJSON(ctx, p.client, p.endpoint, &out); err != nil {
		return IPFix{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if !out.Success {
		return IPFix{}, fmt.Errorf("%s: unsuccessful lookup", p.Name())
	}
	return IPFix{
		City:        out.City,
		CountryCode: out.CountryCode,
		Point:       &models.GeoPoint{Lat: out.Latitude, Lng: out.Longitude},
	}, nil
}
