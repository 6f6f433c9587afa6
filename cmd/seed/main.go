// Package main loads station and pollutant reference data into the store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/airwatch/airwatch/internal/config"
	"github.com/airwatch/airwatch/internal/seed"
	"github.com/airwatch/airwatch/internal/store"
)

// Version is set at compile time via ldflags.
var Version = "dev"

const serviceName = "airwatch-seed"

func main() {
	file := flag.String("file", "configs/seed.yaml", "seed file (.yaml, .yml or .toml)")
	migrate := flag.Bool("migrate", true, "apply embedded migrations before seeding (postgres)")
	flag.Parse()

	cfg, err := config.Load(serviceName, Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := cfg.NewLogger(os.Stderr, serviceName, Version)

	data, err := seed.Load(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("failed to load seed file")
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

	summary, err := seed.Apply(ctx, handle.Store, data, log)
	closeErr := handle.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}
	if closeErr != nil {
		log.Error().Err(closeErr).Msg("failed to close store")
	}

	fmt.Printf("seeded %d pollutants and %d stations\n", summary.Pollutants, summary.Stations)
}
