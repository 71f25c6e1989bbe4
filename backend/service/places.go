package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/adwski/waypoint/backend/model"
	"github.com/rs/zerolog"
)

const (
	DefaultRadiusKm = 5.0
	MaxRadiusKm     = 25.0

	maxPlaceNameLength = 200
)

var (
	ErrUpstream = errors.New("upstream request failed")
)

type (
	FuelPrices interface {
		Prices(ctx context.Context, lat, lon, radiusKm float64) (json.RawMessage, error)
	}

	MapFeatures interface {
		Features(ctx context.Context, lat, lon, radiusKm float64) (json.RawMessage, error)
	}

	Assistant interface {
		Describe(ctx context.Context, name string, lat, lon float64) (string, error)
	}

	DescribeRequest struct {
		Name string  `json:"name"`
		Lat  float64 `json:"lat"`
		Lon  float64 `json:"lon"`
	}

	// Places fronts third-party lookups. Any nil collaborator turns its feature off.
	Places struct {
		fuel      FuelPrices
		maps      MapFeatures
		assistant Assistant
		logger    zerolog.Logger
	}

	PlacesConfig struct {
		Fuel      FuelPrices
		Maps      MapFeatures
		Assistant Assistant
		Logger    *zerolog.Logger
	}
)

func NewPlaces(cfg PlacesConfig) *Places {
	return &Places{
		fuel:      cfg.Fuel,
		maps:      cfg.Maps,
		assistant: cfg.Assistant,
		logger:    cfg.Logger.With().Str("component", "places").Logger(),
	}
}

func (svc *Places) FuelEnabled() bool      { return svc.fuel != nil }
func (svc *Places) MapsEnabled() bool      { return svc.maps != nil }
func (svc *Places) AssistantEnabled() bool { return svc.assistant != nil }

func (svc *Places) FuelPrices(ctx context.Context, lat, lon, radiusKm float64) (json.RawMessage, error) {
	if !svc.FuelEnabled() {
		return nil, ErrDisabled
	}
	radiusKm, err := checkArea(lat, lon, radiusKm)
	if err != nil {
		return nil, err
	}
	res, err := svc.fuel.Prices(ctx, lat, lon, radiusKm)
	if err != nil {
		svc.logger.Error().Err(err).Msg("fuel price lookup failed")
		return nil, errors.Join(ErrUpstream, err)
	}
	return res, nil
}

func (svc *Places) MapFeatures(ctx context.Context, lat, lon, radiusKm float64) (json.RawMessage, error) {
	if !svc.MapsEnabled() {
		return nil, ErrDisabled
	}
	radiusKm, err := checkArea(lat, lon, radiusKm)
	if err != nil {
		return nil, err
	}
	res, err := svc.maps.Features(ctx, lat, lon, radiusKm)
	if err != nil {
		svc.logger.Error().Err(err).Msg("map feature lookup failed")
		return nil, errors.Join(ErrUpstream, err)
	}
	return res, nil
}

func (svc *Places) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	if !svc.AssistantEnabled() {
		return "", ErrDisabled
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || utf8.RuneCountInString(req.Name) > maxPlaceNameLength {
		return "", errors.Join(ErrInvalidInput, errors.New("place name is empty or too long"))
	}
	if !model.ValidLatLon(req.Lat, req.Lon) {
		return "", errors.Join(ErrInvalidInput, errors.New("coordinates out of range"))
	}
	text, err := svc.assistant.Describe(ctx, req.Name, req.Lat, req.Lon)
	if err != nil {
		svc.logger.Error().Err(err).Str("place", req.Name).Msg("place description failed")
		return "", errors.Join(ErrUpstream, err)
	}
	return text, nil
}

func checkArea(lat, lon, radiusKm float64) (float64, error) {
	if !model.ValidLatLon(lat, lon) {
		return 0, errors.Join(ErrInvalidInput, errors.New("coordinates out of range"))
	}
	switch {
	case radiusKm == 0:
		return DefaultRadiusKm, nil
	case radiusKm < 0 || radiusKm > MaxRadiusKm:
		return 0, errors.Join(ErrInvalidInput, errors.New("radius is out of range"))
	}
	return radiusKm, nil
}
