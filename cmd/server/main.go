package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/xtrntr/meetswap/internal/api"
	"github.com/xtrntr/meetswap/internal/auth"
	"github.com/xtrntr/meetswap/internal/clock"
	"github.com/xtrntr/meetswap/internal/config"
	"github.com/xtrntr/meetswap/internal/db"
	"github.com/xtrntr/meetswap/internal/exchange"
	"github.com/xtrntr/meetswap/internal/logging"
	"github.com/xtrntr/meetswap/internal/negotiation"
	"github.com/xtrntr/meetswap/internal/notify"
	"github.com/xtrntr/meetswap/internal/payment"
	"github.com/xtrntr/meetswap/internal/query"
	"github.com/xtrntr/meetswap/internal/rating"
	"github.com/xtrntr/meetswap/internal/store"
	"github.com/xtrntr/meetswap/internal/telemetry"
	"github.com/xtrntr/meetswap/internal/tracker"
)

// backend is what the server needs from a store: negotiation rows and accounts
type backend interface {
	store.Store
	auth.UserStore
}

// Main entry point: loads config, opens the store, wires the engine and serves HTTP
func main() {
	configPath := flag.String("config", os.Getenv("MEETSWAP_CONFIG"), "path to YAML config")
	memory := flag.Bool("memory", false, "use the in-memory store instead of Postgres")
	migrations := flag.String("migrate", "", "apply this SQL file before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.Setup(logging.Options{
		Service: "meetswap",
		Env:     cfg.Logging.Env,
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "meetswap",
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Traces:      cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialise telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	// Initialize store
	var st backend
	if *memory {
		logger.Warn("using in-memory store; state is lost on exit")
		st = store.NewMemStore()
	} else {
		if cfg.DatabaseURL == "" {
			log.Fatalf("databaseURL is required unless -memory is set")
		}
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close(context.Background())
		if err := database.Ping(ctx); err != nil {
			log.Fatalf("Failed to reach database: %v", err)
		}
		if *migrations != "" {
			script, err := os.ReadFile(*migrations)
			if err != nil {
				log.Fatalf("Failed to read migration: %v", err)
			}
			if err := database.Migrate(ctx, string(script)); err != nil {
				log.Fatalf("Failed to migrate: %v", err)
			}
		}
		st = database
	}

	clk := clock.System{}

	// Exchange rates
	var source exchange.RateSource
	if cfg.Rates.URL != "" {
		source = exchange.NewHTTPSource(cfg.Rates.URL, cfg.Rates.Refresh.Duration)
	} else {
		rates, err := cfg.StaticRates()
		if err != nil {
			log.Fatalf("Invalid rate table: %v", err)
		}
		source = exchange.NewStaticSource(rates, time.Time{})
	}
	locker := exchange.NewLocker(source, clk)

	gateway := newGateway(cfg.Gateway, *memory, logger)

	// Notifications
	hub := notify.NewHub(logger, nil)
	dispatcher := notify.NewDispatcher(st, logger, cfg.Notifier.QueueSize, hub, notify.LogSink{Logger: logger})
	go dispatcher.Run(ctx)

	engine := negotiation.NewEngine(st, clk, locker, gateway, dispatcher, logger)

	tr := tracker.New(st, clk, tracker.Config{
		Lead:         cfg.Tracker.Window.Duration,
		RadiusMeters: cfg.Tracker.RadiusMeters,
	}, logger)
	go tr.Run(ctx, time.Minute)

	authService := auth.NewAuthService(st, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL.Duration)

	handler := api.NewHandler(st, engine, query.NewService(st, logger), tr, rating.NewRecorder(st, clk, logger), authService, logger)
	handler.Hub = hub
	if cfg.Metrics.Enabled || cfg.Tracing.Enabled {
		handler.Metrics = api.NewObservability("meetswap")
	}

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	go limiter.Run(ctx)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", api.NewRouter(handler, limiter))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "addr", cfg.Listen, "memory_store", *memory)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	logger.Info("server stopped", "dropped_notifications", dispatcher.Dropped())
}

// newGateway picks the fee processor. The in-memory store serializes every
// command behind one lock, so it is never paired with a remote gateway.
func newGateway(cfg config.GatewayConfig, memory bool, logger *slog.Logger) payment.Gateway {
	if cfg.Sandbox || memory {
		logger.Warn("payment gateway in sandbox mode; fees are not charged", "memory_store", memory)
		return payment.Sandbox{}
	}
	return payment.NewHTTPGateway(cfg.BaseURL, cfg.APIKey, cfg.Timeout.Duration)
}
