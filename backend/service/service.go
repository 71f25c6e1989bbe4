package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/adwski/waypoint/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrDisabled     = errors.New("feature is not configured")
	ErrUnauthorized = errors.New("invalid credentials")
	ErrInvalidInput = errors.New("invalid input")
	ErrStore        = errors.New("review storage failure")
)

type (
	// Verifier checks bearer credentials issued by the identity provider.
	Verifier interface {
		Verify(ctx context.Context, token string) (bool, error)
		SubjectOf(ctx context.Context, token string) (string, error)
	}

	ReviewStore interface {
		Insert(ctx context.Context, review model.Review) (model.Review, error)
		QueryByLocation(ctx context.Context, lat, lon float64) ([]model.Review, error)
	}

	ReviewRequest struct {
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		Rating  int     `json:"rating"`
		Comment string  `json:"comment"`
	}

	Reviews struct {
		store    ReviewStore
		verifier Verifier
		logger   zerolog.Logger
	}

	ReviewsConfig struct {
		Store    ReviewStore
		Verifier Verifier
		Logger   *zerolog.Logger
	}
)

// NewReviews returns review service. Nil store or verifier disables it.
func NewReviews(cfg ReviewsConfig) *Reviews {
	return &Reviews{
		store:    cfg.Store,
		verifier: cfg.Verifier,
		logger:   cfg.Logger.With().Str("component", "reviews").Logger(),
	}
}

func (svc *Reviews) Enabled() bool {
	return svc.store != nil && svc.verifier != nil
}

// Submit authenticates token and stores the review under rounded coordinates.
func (svc *Reviews) Submit(ctx context.Context, token string, req ReviewRequest) (*model.Review, error) {
	if !svc.Enabled() {
		return nil, ErrDisabled
	}
	if token == "" {
		return nil, ErrUnauthorized
	}
	valid, err := svc.verifier.Verify(ctx, token)
	if err != nil || !valid {
		svc.logger.Debug().Err(err).Msg("token rejected")
		return nil, ErrUnauthorized
	}
	userID, err := svc.verifier.SubjectOf(ctx, token)
	if err != nil || userID == "" {
		return nil, errors.Join(ErrUnauthorized, err)
	}

	if err = validateReview(&req); err != nil {
		return nil, err
	}

	review, err := svc.store.Insert(ctx, model.Review{
		UserID:    userID,
		Lat:       model.RoundCoord(req.Lat),
		Lon:       model.RoundCoord(req.Lon),
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	svc.logger.Debug().
		Str("userID", userID).
		Int64("reviewID", review.ID).
		Msg("review stored")
	return &review, nil
}

func (svc *Reviews) List(ctx context.Context, lat, lon float64) ([]model.Review, error) {
	if !svc.Enabled() {
		return nil, ErrDisabled
	}
	if !model.ValidLatLon(lat, lon) {
		return nil, errors.Join(ErrInvalidInput, errors.New("coordinates out of range"))
	}
	reviews, err := svc.store.QueryByLocation(ctx, model.RoundCoord(lat), model.RoundCoord(lon))
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	if reviews == nil {
		reviews = []model.Review{}
	}
	return reviews, nil
}

func validateReview(req *ReviewRequest) error {
	req.Comment = strings.TrimSpace(req.Comment)
	switch {
	case !model.ValidLatLon(req.Lat, req.Lon):
		return errors.Join(ErrInvalidInput, errors.New("coordinates out of range"))
	case req.Rating < model.MinRating || req.Rating > model.MaxRating:
		return errors.Join(ErrInvalidInput, errors.New("rating must be between 1 and 5"))
	case utf8.RuneCountInString(req.Comment) > model.MaxCommentLength:
		return errors.Join(ErrInvalidInput, errors.New("comment is too long"))
	}
	return nil
}
