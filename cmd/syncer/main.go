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
	"regime-tracker/internal/errs"
	"regime-tracker/internal/histsync"
	"regime-tracker/internal/models"
	"regime-tracker/internal/provider"
)

func main() {
	source := flag.String("source", "binance", "data source name")
	symbol := flag.String("symbol", "", "symbol to sync, e.g. BTCUSDT")
	timeframe := flag.String("timeframe", "1h", "candle timeframe")
	kind := flag.String("kind", "ohlcv", "data kind for this stream")
	fromArg := flag.String("from", "", "range start, RFC3339")
	toArg := flag.String("to", "", "range end, RFC3339 (default: now)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	if *symbol == "" || *fromArg == "" {
		log.Fatal().Msg("-symbol and -from are required")
	}
	from, err := time.Parse(time.RFC3339, *fromArg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -from")
	}
	to := time.Now().UTC().Truncate(time.Minute)
	if *toArg != "" {
		if to, err = time.Parse(time.RFC3339, *toArg); err != nil {
			log.Fatal().Err(err).Msg("Invalid -to")
		}
	}

	db, err := database.New(database.ConnectionParams{
		Host: cfg.DBHost, Port: cfg.DBPort, User: cfg.DBUser,
		Password: cfg.DBPassword, DBName: cfg.DBName, SSLMode: cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	client := provider.NewClient(provider.ClientOptions{
		BaseURL:        cfg.ProviderBaseURL,
		APIKey:         cfg.ProviderAPIKey,
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		RequestsPerSec: cfg.ProviderRPS,
	})

	runner := histsync.NewRunner(
		client,
		candlestore.New(db),
		histsync.NewProgressStore(db),
		cfg.SyncBatchSize,
	)

	key := models.SyncKey{Source: *source, Symbol: *symbol, Timeframe: *timeframe, DataKind: *kind}
	log.Info().Str("key", key.String()).Time("from", from).Time("to", to).Msg("Starting sync")

	if err := runner.Run(ctx, key, from, to); err != nil {
		if errs.IsKind(err, errs.KindAlreadyRunning) {
			log.Warn().Str("key", key.String()).Msg("Sync already running for this key, back off and retry later")
			return
		}
		log.Fatal().Err(err).Str("key", key.String()).Msg("Sync failed")
	}
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
