package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"regime-tracker/internal/candlestore"
	"regime-tracker/internal/config"
	"regime-tracker/internal/database"
	"regime-tracker/internal/outcome"
	"regime-tracker/internal/snapshotstore"
)

func main() {
	horizonName := flag.String("horizon", "short", "labeling horizon: short, medium or long")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	var window time.Duration
	switch *horizonName {
	case "short":
		window = cfg.HorizonShort
	case "medium":
		window = cfg.HorizonMedium
	case "long":
		window = cfg.HorizonLong
	default:
		log.Fatal().Str("horizon", *horizonName).Msg("Unknown horizon")
	}

	db, err := database.New(database.ConnectionParams{
		Host: cfg.DBHost, Port: cfg.DBPort, User: cfg.DBUser,
		Password: cfg.DBPassword, DBName: cfg.DBName, SSLMode: cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	labeler := outcome.NewLabeler(
		snapshotstore.New(db),
		candlestore.New(db),
		outcome.Horizon{Name: *horizonName, Window: window},
		outcome.Params{NoiseFloorPct: cfg.NoiseFloorPct, Multiple: cfg.LabelMultiple},
		cfg.LabelWorkers,
		cfg.LabelBatch,
	)

	res, err := labeler.Sweep(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Labeling sweep failed")
	}
	log.Info().
		Int("labeled", res.Labeled).
		Int("insufficient", res.Insufficient).
		Int("already_labeled", res.AlreadyLabeled).
		Int("failed", res.Failed).
		Msg("Sweep done")
}

// setupSignalHandling configures signal handling for graceful shutdown
func setupSignalHandling(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info().Msg("Shutdown signal received, exiting...")
		cancel()
	}()
}

// setupLogging configures the logger
func setupLogging(logLevel string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(output)

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(level)
}
