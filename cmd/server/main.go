package main

import (
	"context"
	"database/sql"
	"errors"
	"field-route-planner/internal/adapters/cache"
	"field-route-planner/internal/adapters/events"
	"field-route-planner/internal/adapters/repositories"
	"field-route-planner/internal/adapters/routes"
	"field-route-planner/internal/api"
	"field-route-planner/internal/config"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/platform/db"
	"field-route-planner/internal/platform/metrics"
	"field-route-planner/internal/platform/obs"
	"field-route-planner/internal/ports"
	"field-route-planner/internal/services"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// main is the application composition root.
// It wires concrete adapters (SQL store, routing provider, broker) behind
// ports and starts the HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	obs.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	// Local sqlite runs initialize and seed on startup; postgres is managed
	// with cmd/dbtool.
	if cfg.DBDriver == db.DriverSQLite {
		if err := initAndSeed(conn, cfg.DBDriver, cfg.SeedPath); err != nil {
			log.Fatal().Err(err).Msg("init database")
		}
	}

	store := repositories.NewSQLPlanningStore(conn, cfg.DBDriver)

	provider, closeCache := newProvider(ctx, cfg, conn, store)
	defer closeCache()

	publisher, closePublisher := newPublisher(cfg)
	defer closePublisher()

	planner := services.NewPlanner(store,
		services.NewBatchOptimizer(provider),
		services.WithPublisher(publisher),
		services.WithBatchRunOptions(services.BatchRunOptions{
			Concurrency:     cfg.BatchConcurrency,
			InterChunkDelay: cfg.BatchChunkDelay,
		}),
	)

	router := api.NewRouter(api.Deps{
		Planner:        planner,
		Ping:           conn.PingContext,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// Timeouts are tuned for cold-cache route planning (external API latency).
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", srv.Addr).Str("db_driver", cfg.DBDriver).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func initAndSeed(conn *sql.DB, driver, seedPath string) error {
	if err := repositories.InitSchema(conn); err != nil {
		return err
	}
	if strings.TrimSpace(seedPath) == "" {
		return nil
	}
	return repositories.SeedFromYAML(conn, driver, seedPath)
}

// newProvider returns the Google Routes provider when an API key is set and
// the offline haversine estimator otherwise.
func newProvider(
	ctx context.Context,
	cfg config.Config,
	conn *sql.DB,
	store ports.PlanningStore,
) (ports.RouteOptimizer, func()) {
	if strings.TrimSpace(cfg.RoutesAPIKey) == "" {
		speed := offlineSpeedKmph(ctx, store)
		log.Warn().Float64("speed_kmph", speed).Msg("GOOGLE_ROUTES_API_KEY not set, using straight-line route estimates")
		return routes.NewHaversineOptimizer(speed), func() {}
	}

	var routeCache ports.RouteCache = cache.NewSQLRouteCache(conn, cfg.DBDriver)
	closeCache := func() {}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisRouteCacheFromURL(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, caching routes in the database")
		} else {
			routeCache = rc
			closeCache = func() { _ = rc.Close() }
		}
	}

	policy := routes.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RoutesMaxAttempts
	policy.BaseDelay = cfg.RoutesBaseDelay
	policy.Timeout = cfg.RoutesTimeout
	exec := routes.NewExecutor(policy, routes.WithRateLimit(cfg.RoutesRPS, cfg.BatchConcurrency))

	provider, err := routes.NewGoogleRoutesProvider(cfg.RoutesAPIKey, exec,
		routes.WithBaseURL(cfg.RoutesBaseURL),
		routes.WithCache(routeCache, cfg.RouteCacheTTL),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("create routes provider")
	}
	return provider, closeCache
}

// offlineSpeedKmph reads the average travel speed from the planning settings.
func offlineSpeedKmph(ctx context.Context, store ports.PlanningStore) float64 {
	fallback := domain.DefaultPlanningParams().AvgTravelSpeedKmph
	params, err := store.FetchPlanningParams(ctx)
	if err != nil {
		log.Warn().Err(err).Float64("speed_kmph", fallback).Msg("could not read planning settings, using default travel speed")
		return fallback
	}
	if params.AvgTravelSpeedKmph <= 0 {
		return fallback
	}
	return params.AvgTravelSpeedKmph
}

func newPublisher(cfg config.Config) (ports.RoutePublisher, func()) {
	if cfg.AMQPURL == "" {
		return events.NoopPublisher{}, func() {}
	}
	pub, err := events.NewRabbitPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable, route events disabled")
		return events.NoopPublisher{}, func() {}
	}
	return pub, func() { _ = pub.Close() }
}
