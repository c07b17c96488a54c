package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"regime-tracker/internal/analyzer"
	"regime-tracker/internal/candlestore"
	"regime-tracker/internal/config"
	"regime-tracker/internal/configstore"
	"regime-tracker/internal/database"
	"regime-tracker/internal/models"
	"regime-tracker/internal/replay"
	"regime-tracker/internal/snapshotstore"
)

func main() {
	batchID := flag.String("batch", "", "replay batch identifier")
	source := flag.String("source", "binance", "data source name")
	symbol := flag.String("symbol", "", "symbol to replay")
	timeframe := flag.String("timeframe", "1h", "candle timeframe")
	fromArg := flag.String("from", "", "first as-of time, RFC3339")
	toArg := flag.String("to", "", "last as-of time, RFC3339")
	every := flag.Duration("every", time.Hour, "spacing between generated as-of times")
	asOfArg := flag.String("asof", "", "comma-separated explicit as-of list, RFC3339 (overrides -from/-to)")
	pinVersion := flag.Int64("config-version", 0, "pin a historical config version (0 = active)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	if *batchID == "" || *symbol == "" {
		log.Fatal().Msg("-batch and -symbol are required")
	}

	asOf, err := buildAsOfList(*asOfArg, *fromArg, *toArg, *every)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid as-of arguments")
	}

	db, err := database.New(database.ConnectionParams{
		Host: cfg.DBHost, Port: cfg.DBPort, User: cfg.DBUser,
		Password: cfg.DBPassword, DBName: cfg.DBName, SSLMode: cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	configs := configstore.New(db)
	analyzerCfg, err := loadAnalyzerConfig(ctx, configs, *pinVersion)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load analyzer configuration")
	}

	orchestrator := replay.NewOrchestrator(
		candlestore.New(db),
		snapshotstore.New(db),
		analyzer.New(),
	)

	res, err := orchestrator.Run(ctx, replay.Batch{
		BatchID:   *batchID,
		Source:    *source,
		Symbol:    *symbol,
		Timeframe: *timeframe,
		AsOf:      asOf,
		Config:    analyzerCfg,
	})
	if err != nil {
		log.Fatal().Err(err).Str("batch", *batchID).Msg("Replay batch failed")
	}
	log.Info().
		Str("batch", *batchID).
		Int("evaluated", res.Evaluated).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Replay done")
}

func buildAsOfList(asOfArg, fromArg, toArg string, every time.Duration) ([]time.Time, error) {
	if asOfArg != "" {
		var asOf []time.Time
		for _, part := range strings.Split(asOfArg, ",") {
			t, err := time.Parse(time.RFC3339, strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			asOf = append(asOf, t)
		}
		return asOf, nil
	}

	from, err := time.Parse(time.RFC3339, fromArg)
	if err != nil {
		return nil, err
	}
	to, err := time.Parse(time.RFC3339, toArg)
	if err != nil {
		return nil, err
	}
	var asOf []time.Time
	for t := from; !t.After(to); t = t.Add(every) {
		asOf = append(asOf, t)
	}
	return asOf, nil
}

func loadAnalyzerConfig(ctx context.Context, configs *configstore.Store, pin int64) (*models.AnalyzerConfig, error) {
	if pin == 0 {
		return configs.GetActive(ctx)
	}
	cv, err := configs.GetVersion(ctx, pin)
	if err != nil {
		return nil, err
	}
	return &models.AnalyzerConfig{
		Version:          cv.Version,
		Document:         cv.Document,
		ValidationStatus: "valid",
		CreatedBy:        cv.CreatedBy,
	}, nil
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
