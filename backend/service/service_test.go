package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/adwski/waypoint/backend/model"
	"github.com/adwski/waypoint/backend/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier struct {
	valid bool
	sub   string
	err   error
}

func (v staticVerifier) Verify(context.Context, string) (bool, error) { return v.valid, v.err }
func (v staticVerifier) SubjectOf(context.Context, string) (string, error) {
	return v.sub, v.err
}

type failingStore struct{}

func (failingStore) Insert(context.Context, model.Review) (model.Review, error) {
	return model.Review{}, errors.New("disk full")
}
func (failingStore) QueryByLocation(context.Context, float64, float64) ([]model.Review, error) {
	return nil, errors.New("disk full")
}

func newReviews(store ReviewStore, v Verifier) *Reviews {
	logger := zerolog.Nop()
	return NewReviews(ReviewsConfig{Store: store, Verifier: v, Logger: &logger})
}

func TestReviews_Submit(t *testing.T) {
	svc := newReviews(memory.NewMemStore(), staticVerifier{valid: true, sub: "user-7"})
	ctx := context.Background()

	review, err := svc.Submit(ctx, "token", ReviewRequest{Lat: 48.13743, Lon: 11.57549, Rating: 4, Comment: "nice"})
	require.NoError(t, err)
	assert.Equal(t, "user-7", review.UserID)
	assert.Equal(t, 48.1374, review.Lat)
	assert.Equal(t, 11.5755, review.Lon)
	assert.False(t, review.CreatedAt.IsZero())

	list, err := svc.List(ctx, 48.13741, 11.57551)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, review.ID, list[0].ID)
}

func TestReviews_Rejects(t *testing.T) {
	ctx := context.Background()
	valid := ReviewRequest{Lat: 1, Lon: 1, Rating: 3}

	_, err := newReviews(nil, nil).Submit(ctx, "token", valid)
	assert.ErrorIs(t, err, ErrDisabled)

	svc := newReviews(memory.NewMemStore(), staticVerifier{valid: false})
	_, err = svc.Submit(ctx, "token", valid)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Submit(ctx, "", valid)
	assert.ErrorIs(t, err, ErrUnauthorized)

	svc = newReviews(memory.NewMemStore(), staticVerifier{valid: true, err: errors.New("provider down")})
	_, err = svc.Submit(ctx, "token", valid)
	assert.ErrorIs(t, err, ErrUnauthorized)

	svc = newReviews(memory.NewMemStore(), staticVerifier{valid: true})
	_, err = svc.Submit(ctx, "token", valid)
	assert.ErrorIs(t, err, ErrUnauthorized, "token without subject")

	svc = newReviews(memory.NewMemStore(), staticVerifier{valid: true, sub: "u"})
	for _, req := range []ReviewRequest{
		{Lat: 1, Lon: 1, Rating: 0},
		{Lat: 1, Lon: 1, Rating: 6},
		{Lat: -91, Lon: 1, Rating: 3},
		{Lat: 1, Lon: 181, Rating: 3},
		{Lat: 1, Lon: 1, Rating: 3, Comment: strings.Repeat("a", model.MaxCommentLength+1)},
	} {
		_, err = svc.Submit(ctx, "token", req)
		assert.ErrorIs(t, err, ErrInvalidInput, req)
	}

	svc = newReviews(failingStore{}, staticVerifier{valid: true, sub: "u"})
	_, err = svc.Submit(ctx, "token", valid)
	assert.ErrorIs(t, err, ErrStore)
	_, err = svc.List(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrStore)
}

type fakeMaps struct{ radius float64 }

func (f *fakeMaps) Features(_ context.Context, _, _, radiusKm float64) (json.RawMessage, error) {
	f.radius = radiusKm
	return json.RawMessage(`{"elements":[]}`), nil
}

type fakeAssistant struct{ err error }

func (f fakeAssistant) Describe(_ context.Context, name string, _, _ float64) (string, error) {
	return "About " + name, f.err
}

func newPlaces(cfg PlacesConfig) *Places {
	logger := zerolog.Nop()
	cfg.Logger = &logger
	return NewPlaces(cfg)
}

func TestPlaces_MapFeatures(t *testing.T) {
	maps := &fakeMaps{}
	svc := newPlaces(PlacesConfig{Maps: maps})
	ctx := context.Background()

	_, err := svc.MapFeatures(ctx, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultRadiusKm, maps.radius)

	_, err = svc.MapFeatures(ctx, 1, 1, MaxRadiusKm+1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.FuelPrices(ctx, 1, 1, 1)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestPlaces_Describe(t *testing.T) {
	ctx := context.Background()
	svc := newPlaces(PlacesConfig{Assistant: fakeAssistant{}})

	text, err := svc.Describe(ctx, DescribeRequest{Name: "  Lake Bled ", Lat: 46.36, Lon: 14.09})
	require.NoError(t, err)
	assert.Equal(t, "About Lake Bled", text)

	_, err = svc.Describe(ctx, DescribeRequest{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	// length is counted in characters, not bytes
	_, err = svc.Describe(ctx, DescribeRequest{Name: strings.Repeat("ж", maxPlaceNameLength)})
	require.NoError(t, err)
	_, err = svc.Describe(ctx, DescribeRequest{Name: strings.Repeat("ж", maxPlaceNameLength+1)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	svc = newPlaces(PlacesConfig{Assistant: fakeAssistant{err: errors.New("quota")}})
	_, err = svc.Describe(ctx, DescribeRequest{Name: "x"})
	assert.ErrorIs(t, err, ErrUpstream)
}
