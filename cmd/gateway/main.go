package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/api"
	"github.com/wishwell/wishwell/internal/auth"
	"github.com/wishwell/wishwell/internal/circuitbreaker"
	"github.com/wishwell/wishwell/internal/config"
	"github.com/wishwell/wishwell/internal/correlate"
	"github.com/wishwell/wishwell/internal/db"
	"github.com/wishwell/wishwell/internal/dispatch"
	"github.com/wishwell/wishwell/internal/metrics"
	"github.com/wishwell/wishwell/internal/observ"
	"github.com/wishwell/wishwell/internal/provider"
	"github.com/wishwell/wishwell/internal/redis"
	"github.com/wishwell/wishwell/internal/settings"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting wishwell gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	store := db.NewStore(database, logger)

	// Redis degrades gracefully: without it the settings cache and rate
	// limiting are disabled and every read goes to Postgres.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, caching and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var settingsCache settings.Cache
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		defer redisClient.Close()
		settingsCache = redis.NewCache(redisClient, "settings")
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  60,
			Window: 1 * time.Minute,
		})
	}

	loader := settings.NewLoader(store, settingsCache, logger)

	smsSender, err := provider.NewSMSSender(ctx, provider.SMSConfig{
		Region:      cfg.SNSRegion,
		CountryCode: cfg.CountryCode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SNS sms sender: %w", err)
	}

	emailSender, err := provider.NewEmailSender(ctx, provider.EmailConfig{
		Region: cfg.AWSRegion,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email sender: %w", err)
	}

	senders := map[string]provider.Sender{
		provider.ChannelSMS: circuitbreaker.NewProtectedSender(
			smsSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("sns-sms"), logger),
			logger,
		),
		provider.ChannelEmail: circuitbreaker.NewProtectedSender(
			emailSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses-email"), logger),
			logger,
		),
	}

	pipeline := dispatch.NewPipeline(store, senders, logger)
	dispatcher := dispatch.NewDispatcher(store, store, loader, pipeline, logger)
	correlator := correlate.NewCorrelator(store, logger)
	resolver := auth.NewResolver(cfg.ServiceSecret, cfg.JWTSecret, logger)

	handler := api.NewHandler(logger, resolver, store, loader, pipeline, dispatcher, correlator)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(api.RateLimitMiddleware(rateLimiter, logger, api.CredentialKeyFunc)).
			Post("/send", handler.SendGreeting)

		r.Post("/scheduler/run", handler.RunScheduler)

		// Provider callbacks carry no credential; the correlator only
		// trusts message ids it issued itself.
		r.Post("/webhooks/delivery-status", handler.DeliveryStatus)
	})

	r.Get("/health", handler.Health)

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
