// Package main provides the entrypoint for the airwatch ingest worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/airquality/waqi"
	"github.com/airwatch/airwatch/internal/config"
	"github.com/airwatch/airwatch/internal/ingest"
	"github.com/airwatch/airwatch/internal/provider/resilience"
	"github.com/airwatch/airwatch/internal/store"
	"github.com/airwatch/airwatch/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "airwatch-worker"

func main() {
	once := flag.Bool("once", false, "run a single ingest pass and exit")
	migrate := flag.Bool("migrate", false, "apply embedded migrations on startup (postgres)")
	flag.Parse()

	cfg, err := config.Load(serviceName, Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := cfg.NewLogger(os.Stdout, serviceName, Version)
	log.Info().Str("build_time", BuildTime).Msg("starting airwatch worker")

	if cfg.WAQIToken == "" {
		log.Fatal().Msg("WAQI_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	jobCfg := ingest.JobConfig{
		Config: cfg.Ingest,
		Store:  handle.Store,
		Fetcher: waqi.NewClient(waqi.ClientConfig{
			BaseURL: cfg.WAQIBaseURL,
			Token:   cfg.WAQIToken,
			HTTPClient: resilience.NewClient(resilience.Config{
				Name:    waqi.ProviderName,
				Timeout: cfg.Ingest.Timeout,
				Logger:  log,
			}),
			Logger: log,
		}),
		Logger: log,
	}

	if cfg.RedisURL != "" {
		notifier, err := ingest.NewRedisNotifierFromURL(ctx, cfg.RedisURL, ingest.DefaultChannel)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer func() { _ = notifier.Close() }()
		jobCfg.Notifier = notifier
		log.Info().Str("channel", ingest.DefaultChannel).Msg("publishing ingest events to redis")
	}

	job := ingest.NewJob(jobCfg)

	if *once {
		if _, err := job.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ingest failed")
			os.Exit(1) //nolint:gocritic // deferred closes are best-effort
		}
		return
	}

	server := newHealthServer(cfg.Port, job, handle.Store.Ping)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	if err := runLoop(ctx, cfg, job, handle.Store.Ping, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker stopped with error")
	}

	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// runLoop blocks until ctx ends, triggering ingest from Pub/Sub when a
// project is configured and from a ticker otherwise.
func runLoop(ctx context.Context, cfg config.Config, job *ingest.Job, ping func(context.Context) error, log zerolog.Logger) error {
	if cfg.PubSubProjectID == "" {
		return worker.NewScheduler(job, cfg.IngestInterval, log).Start(ctx)
	}

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        cfg.PubSubProjectID,
		SubscriptionName: cfg.PubSubSubscription,
		Dispatcher:       worker.NewDispatcher(job, ping, log),
		Logger:           log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := handler.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pubsub client")
		}
	}()

	return handler.Start(ctx)
}

func newHealthServer(port string, job *ingest.Job, ping func(context.Context) error) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{
			"status":  "healthy",
			"version": Version,
			"ingest":  job.Metrics().Snapshot(),
		}
		if err := ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["error"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
}
