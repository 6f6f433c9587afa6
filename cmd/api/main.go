// Package main provides the entrypoint for the airwatch API server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airwatch/airwatch/internal/airquality"
	"github.com/airwatch/airwatch/internal/airquality/waqi"
	"github.com/airwatch/airwatch/internal/api"
	"github.com/airwatch/airwatch/internal/api/middleware"
	"github.com/airwatch/airwatch/internal/auth"
	"github.com/airwatch/airwatch/internal/config"
	"github.com/airwatch/airwatch/internal/ingest"
	"github.com/airwatch/airwatch/internal/provider/resilience"
	"github.com/airwatch/airwatch/internal/store"
	"github.com/airwatch/airwatch/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "airwatch-api"

func main() {
	adminToken := flag.String("admin-token", "", "print an admin access token for `subject` and exit")
	tokenTTL := flag.Duration("token-ttl", auth.DefaultTokenExpiry, "lifetime of the token printed by -admin-token")
	migrate := flag.Bool("migrate", false, "apply embedded migrations on startup (postgres)")
	flag.Parse()

	cfg, err := config.Load(serviceName, Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := cfg.NewLogger(os.Stdout, serviceName, Version)

	if *adminToken != "" {
		if cfg.JWTSecret == "" {
			log.Fatal().Msg("JWT_SECRET must be set to issue tokens")
		}
		tokens := auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.JWTSecret})
		token, expiresAt, err := tokens.GenerateAccessToken(*adminToken, []string{auth.RoleAdmin}, *tokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to issue token")
		}
		fmt.Println(token)
		log.Info().Str("subject", *adminToken).Time("expires_at", expiresAt).Msg("admin token issued")
		return
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting airwatch API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_rate", cfg.Telemetry.SampleRate).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	storeCfg := cfg.Store
	storeCfg.Migrate = *migrate
	storeCfg.Logger = log
	handle, err := store.Open(ctx, storeCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	serviceCfg := cfg.Service
	serviceCfg.Repository = handle.Store
	serviceCfg.Logger = log
	service := airquality.NewService(serviceCfg)

	providers := resilience.NewRegistry()
	var ingestRunner *ingest.Job
	if cfg.WAQIToken != "" {
		httpClient := resilience.NewClient(resilience.Config{
			Name:   waqi.ProviderName,
			Logger: log,
		})
		providers.Add(httpClient)

		ingestRunner = ingest.NewJob(ingest.JobConfig{
			Config: cfg.Ingest,
			Store:  handle.Store,
			Fetcher: waqi.NewClient(waqi.ClientConfig{
				BaseURL:    cfg.WAQIBaseURL,
				Token:      cfg.WAQIToken,
				HTTPClient: httpClient,
				Logger:     log,
			}),
			Logger: log,
		})
	} else {
		log.Warn().Msg("WAQI_TOKEN not set - admin ingest is disabled")
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		// A random key keeps the admin endpoints closed until a secret is configured.
		jwtSecret = randomKey()
		log.Warn().Msg("JWT_SECRET not set - admin endpoints will reject every token")
	}

	routerCfg := api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		RequireTLS:  cfg.RequireTLS,
		Readings:    service,
		Store:       handle.Store,
		StoreDriver: handle.Driver,
		Providers:   providers,
		Tokens:      auth.NewJWTService(auth.JWTConfig{SigningKey: jwtSecret}),
	}
	if ingestRunner != nil {
		routerCfg.Ingest = ingestRunner
	}
	router := api.NewRouter(routerCfg)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Admin ingest runs synchronously.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("store", handle.Driver).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}

func randomKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
