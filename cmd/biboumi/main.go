// Command biboumi runs the XMPP-IRC gateway: it loads configuration,
// opens the archive database (running pending migrations), and drives the
// single-threaded event loop until SIGINT/SIGTERM. Mirrors the
// serve-command shape of AmityVox's cmd/server/main.go (load config,
// connect to storage, run migrations, start the main loop, handle
// signals) adapted to this gateway's single cooperative loop instead of
// an HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/biboumi-go/biboumi/internal/config"
	"github.com/biboumi-go/biboumi/internal/gateway"
	"github.com/biboumi-go/biboumi/internal/store"
)

func main() {
	// flag is used rather than a third-party CLI framework: the gateway
	// takes two optional named flags (-config and -database-url); no
	// subcommands or rich flag grammar are needed.
	configPath := flag.String("config", "", "path to the biboumi configuration file")
	databaseURL := flag.String("database-url", os.Getenv("BIBOUMI_DATABASE_URL"), "PostgreSQL connection string for the archive database")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *store.DB
	if *databaseURL != "" {
		db, err = store.Open(ctx, *databaseURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("opening archive database")
		}
		defer db.Close()
	} else {
		logger.Warn().Msg("no database configured: MUC history and persisted options are disabled")
	}

	gw := gateway.New(cfg, db, logger)
	gw.Run(ctx)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	out := os.Stderr
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}

	var dest io.Writer = writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			dest = f
		}
	}

	level := zerolog.InfoLevel
	switch cfg.LogLevel {
	case 0:
		level = zerolog.ErrorLevel
	case 1:
		level = zerolog.InfoLevel
	case 2:
		level = zerolog.DebugLevel
	case 3:
		level = zerolog.TraceLevel
	}

	return zerolog.New(dest).Level(level).With().Timestamp().Logger()
}
