package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"regime-tracker/internal/config"
	"regime-tracker/internal/configstore"
	"regime-tracker/internal/database"
)

func main() {
	action := flag.String("action", "show", "show | history | validate | propose | rollback")
	file := flag.String("file", "", "path to a configuration document (propose, validate)")
	author := flag.String("author", "operator", "who is making the change")
	notes := flag.String("notes", "", "free-form notes stored with the proposal")
	version := flag.Int64("version", 0, "history version (rollback)")
	limit := flag.Int("limit", 10, "history entries to show")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	// validate needs no database
	if *action == "validate" {
		document := mustReadDocument(*file)
		if issues := configstore.Validate(document); len(issues) > 0 {
			for _, issue := range issues {
				fmt.Println("invalid:", issue)
			}
			os.Exit(1)
		}
		fmt.Println("valid")
		return
	}

	db, err := database.New(database.ConnectionParams{
		Host: cfg.DBHost, Port: cfg.DBPort, User: cfg.DBUser,
		Password: cfg.DBPassword, DBName: cfg.DBName, SSLMode: cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	store := configstore.New(db)

	switch *action {
	case "show":
		active, err := store.GetActive(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("No active configuration")
		}
		fmt.Printf("version %d (by %s, %s)\n%s\n",
			active.Version, active.CreatedBy, active.UpdatedAt.Format(time.RFC3339), active.Document)

	case "history":
		history, err := store.History(ctx, *limit)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load history")
		}
		for _, cv := range history {
			based := "-"
			if cv.BasedOnVersion != nil {
				based = fmt.Sprintf("v%d", *cv.BasedOnVersion)
			}
			fmt.Printf("v%d\t%s\tby %s\tbased on %s\tdiff %s\n",
				cv.Version, cv.Action, cv.CreatedBy, based, cv.DiffSummary)
		}

	case "propose":
		document := mustReadDocument(*file)
		newVersion, err := store.Propose(ctx, document, *author, *notes, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("Proposal rejected")
		}
		fmt.Printf("accepted as version %d\n", newVersion)

	case "rollback":
		if *version == 0 {
			log.Fatal().Msg("-version is required for rollback")
		}
		newVersion, err := store.Rollback(ctx, *version, *author)
		if err != nil {
			log.Fatal().Err(err).Int64("version", *version).Msg("Rollback failed")
		}
		fmt.Printf("rolled back to v%d as new version %d\n", *version, newVersion)

	default:
		log.Fatal().Str("action", *action).Msg("Unknown action")
	}
}

func mustReadDocument(path string) []byte {
	if path == "" {
		log.Fatal().Msg("-file is required for this action")
	}
	document, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to read document")
	}
	return document
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
