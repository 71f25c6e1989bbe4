package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/waypoint/backend/auth"
	"github.com/adwski/waypoint/backend/config"
	"github.com/adwski/waypoint/backend/directory"
	"github.com/adwski/waypoint/backend/proxy"
	"github.com/adwski/waypoint/backend/registry"
	httpServer "github.com/adwski/waypoint/backend/server/http"
	websocketServer "github.com/adwski/waypoint/backend/server/websocket"
	"github.com/adwski/waypoint/backend/service"
	"github.com/adwski/waypoint/backend/storage/memory"
	"github.com/adwski/waypoint/backend/storage/postgres"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reviewStore, closeStore := newReviewStore(ctx, cfg, &logger)
	defer closeStore()

	relay := service.NewRelay(service.RelayConfig{
		Directory:  directory.New(&logger),
		Registry:   registry.New(),
		Logger:     &logger,
		CodeLength: cfg.CodeLength,
	})
	reviews := service.NewReviews(service.ReviewsConfig{
		Store:    reviewStore,
		Verifier: newVerifier(cfg, &logger),
		Logger:   &logger,
	})
	places := service.NewPlaces(newPlacesConfig(cfg, &logger))

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:        &logger,
		ReviewService: reviews,
		PlaceService:  places,
		RelayStats:    relay,
		ListenAddr:    cfg.APIListenAddr,
		CORSOrigins:   cfg.CORSOrigins,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:       &logger,
		RelayService: relay,
		ListenAddr:   cfg.WSListenAddr,
		OutboxSize:   cfg.OutboxSize,
	})

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}

// newReviewStore picks postgres when configured, in-memory storage otherwise.
// Store is nil when reviews are disabled.
func newReviewStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (service.ReviewStore, func()) {
	if cfg.AuthSecret == "" {
		logger.Info().Msg("reviews are disabled, no auth secret")
		return nil, func() {}
	}
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("no database url, reviews are kept in memory")
		return memory.NewMemStore(), func() {}
	}

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err = store.Migrate(ctx); err != nil {
		store.Close()
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	logger.Info().Msg("connected to database")
	return store, store.Close
}

func newVerifier(cfg *config.Config, logger *zerolog.Logger) service.Verifier {
	if cfg.AuthSecret == "" {
		return nil
	}
	v, err := auth.NewJWTVerifier(auth.JWTConfig{
		Secret:   cfg.AuthSecret,
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up token verifier")
	}
	return v
}

func newPlacesConfig(cfg *config.Config, logger *zerolog.Logger) service.PlacesConfig {
	pc := service.PlacesConfig{
		Logger: logger,
		Maps: proxy.NewOverpass(proxy.Config{
			BaseURL: cfg.OverpassURL,
			Timeout: cfg.UpstreamTimeout,
			Logger:  logger,
		}),
	}
	if cfg.FuelAPIKey != "" {
		pc.Fuel = proxy.NewFuel(proxy.Config{
			BaseURL: cfg.FuelBaseURL,
			APIKey:  cfg.FuelAPIKey,
			Timeout: cfg.UpstreamTimeout,
			Logger:  logger,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		pc.Assistant = proxy.NewOpenAI(proxy.Config{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Timeout: cfg.UpstreamTimeout,
			Logger:  logger,
		}, cfg.OpenAIModel)
	}
	return pc
}
