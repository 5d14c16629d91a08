package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ERAPISource fetches full rate tables from an open.er-api.com style
// endpoint: GET {base}/{currency} -> {"result":"success","rates":{...}}.
type ERAPISource struct {
	BaseURL string
	Client  *http.Client
}

func NewERAPISource(baseURL string) *ERAPISource {
	return &ERAPISource{BaseURL: baseURL, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *ERAPISource) RatesFor(ctx context.Context, base string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/"+base, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fx rates: status %d", resp.StatusCode)
	}
	var out struct {
		Result string             `json:"result"`
		Rates  map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Result != "success" || len(out.Rates) == 0 {
		return nil, fmt.Errorf("fx rates: result %q", out.Result)
	}
	return out.Rates, nil
}

// RESTCountriesDirectory answers country→currency lookups against a
// restcountries.com style endpoint.
type RESTCountriesDirectory struct {
	BaseURL string
	Client  *http.Client
}

func NewRESTCountriesDirectory(baseURL string) *RESTCountriesDirectory {
	return &RESTCountriesDirectory{BaseURL: baseURL, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (d *RESTCountriesDirectory) CurrencyFor(ctx context.Context, countryCode string) (string, error) {
	url := d.BaseURL + "/" + countryCode + "?fields=currencies"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("country currency: status %d", resp.StatusCode)
	}
	var out []struct {
		Currencies map[string]struct {
			Name string `json:"name"`
		} `json:"currencies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", fmt.Errorf("country currency: no result for %s", countryCode)
	}
	for code := range out[0].Currencies {
		return code, nil
	}
	return "", fmt.Errorf("country currency: empty set for %s", countryCode)
}
