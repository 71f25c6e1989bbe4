package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
)

const (
	DefaultFuelBaseURL = "https://creativecommons.tankerkoenig.de/json"
)

var (
	ErrFuelRejected = errors.New("fuel price provider rejected request")
)

// Fuel looks up fuel stations with current prices around a point.
type Fuel struct {
	client
	baseURL string
	apiKey  string
}

func NewFuel(cfg Config) *Fuel {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultFuelBaseURL
	}
	return &Fuel{
		client:  newClient(cfg, "fuel-proxy"),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
	}
}

func (f *Fuel) Prices(ctx context.Context, lat, lon, radiusKm float64) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("rad", strconv.FormatFloat(radiusKm, 'f', -1, 64))
	q.Set("sort", "dist")
	q.Set("type", "all")
	q.Set("apikey", f.apiKey)
	endpoint := f.baseURL + "/list.php?" + q.Encode()

	body, err := f.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	var status struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	if err = json.Unmarshal(body, &status); err != nil {
		return nil, err
	}
	if !status.OK {
		return nil, errors.Join(ErrFuelRejected, errors.New(status.Message))
	}
	return body, nil
}
