package model

import (
	"math"
	"time"
)

const (
	coordPrecision = 1e4

	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

type Review struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoundCoord rounds a coordinate to 4 decimal places (roughly 11 meters),
// reviews are keyed by rounded coordinates.
func RoundCoord(v float64) float64 {
	return math.Round(v*coordPrecision) / coordPrecision
}

func ValidLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 &&
		!math.IsNaN(lat) && !math.IsNaN(lon)
}

// Capabilities reports which optional features are configured.
type Capabilities struct {
	Reviews     bool `json:"reviews"`
	Assistant   bool `json:"assistant"`
	FuelPrices  bool `json:"fuelPrices"`
	MapFeatures bool `json:"mapFeatures"`
}

type RelayStats struct {
	Connections int `json:"connections"`
	Advertisers int `json:"advertisers"`
	Subscribers int `json:"subscribers"`
	Codes       int `json:"codes"`
}
