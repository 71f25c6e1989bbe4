package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

	overpassAmenities = "fuel|charging_station|parking|restaurant|cafe|toilets"
)

// Overpass looks up map features around a point in OpenStreetMap data.
type Overpass struct {
	client
	endpoint string
}

func NewOverpass(cfg Config) *Overpass {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	return &Overpass{
		client:   newClient(cfg, "overpass-proxy"),
		endpoint: endpoint,
	}
}

func (o *Overpass) Features(ctx context.Context, lat, lon, radiusKm float64) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("data", overpassQuery(lat, lon, radiusKm))
	payload := form.Encode()

	body, err := o.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, strings.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("overpass returned non-json body")
	}
	return body, nil
}

func overpassQuery(lat, lon, radiusKm float64) string {
	return fmt.Sprintf(`[out:json][timeout:25];node["amenity"~"%s"](around:%.0f,%f,%f);out body;`,
		overpassAmenities, radiusKm*1000, lat, lon)
}
