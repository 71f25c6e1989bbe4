package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adwski/waypoint/backend/model"
	"github.com/adwski/waypoint/backend/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultRequestTimeout   = 60 * time.Second
	maxRequestBodySize      = 64 << 10
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	ReviewService interface {
		Enabled() bool
		Submit(ctx context.Context, token string, req service.ReviewRequest) (*model.Review, error)
		List(ctx context.Context, lat, lon float64) ([]model.Review, error)
	}

	PlaceService interface {
		FuelEnabled() bool
		MapsEnabled() bool
		AssistantEnabled() bool
		FuelPrices(ctx context.Context, lat, lon, radiusKm float64) (json.RawMessage, error)
		MapFeatures(ctx context.Context, lat, lon, radiusKm float64) (json.RawMessage, error)
		Describe(ctx context.Context, req service.DescribeRequest) (string, error)
	}

	RelayStats interface {
		Stats() model.RelayStats
	}

	GenericResponse struct {
		Message string      `json:"message,omitempty"`
		Error   string      `json:"error,omitempty"`
		Data    interface{} `json:"data,omitempty"`
	}

	Server struct {
		logger  zerolog.Logger
		reviews ReviewService
		places  PlaceService
		relay   RelayStats
		*http.Server
	}

	Config struct {
		Logger        *zerolog.Logger
		ReviewService ReviewService
		PlaceService  PlaceService
		RelayStats    RelayStats
		ListenAddr    string
		CORSOrigins   []string
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:  cfg.Logger.With().Str("component", "api-server").Logger(),
		reviews: cfg.ReviewService,
		places:  cfg.PlaceService,
		relay:   cfg.RelayStats,
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(srv.accessLog)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(defaultRequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, &GenericResponse{Message: "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/capabilities", srv.capabilities)
		r.Get("/relay/stats", srv.relayStats)
		r.Get("/reviews", srv.listReviews)
		r.Post("/reviews", srv.submitReview)
		r.Get("/fuel-prices", srv.fuelPrices)
		r.Get("/map-features", srv.mapFeatures)
		r.Post("/assistant/describe", srv.describePlace)
	})

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			srv.logger.Debug().
				Str("requestID", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("request served")
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, &GenericResponse{Error: msg})
}

// writeServiceError maps service errors to statuses.
func (srv *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, service.ErrDisabled.Error())
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, service.ErrUnauthorized.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, strings.ReplaceAll(err.Error(), "\n", ": "))
	case errors.Is(err, service.ErrUpstream):
		writeError(w, http.StatusBadGateway, service.ErrUpstream.Error())
	default:
		srv.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, ErrUnexpected.Error())
	}
}
