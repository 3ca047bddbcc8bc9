package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/db"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/esp"
	ninhomcp "github.com/urmzd/ninho/pkg/mcp"
	"github.com/urmzd/ninho/pkg/serialport"
)

func main() {
	// Logging must go to stderr, stdout is the MCP transport
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/ninho/ninho.db)")
	portPath := flag.String("port", "", "Serial port of the board (default: first ESP32-looking port)")
	baud := flag.Int("baud", 0, "Serial baud rate (default: from the active profile)")
	profileName := flag.String("profile", "", "Activate this profile, creating it with defaults if missing")
	flag.Parse()

	ctx := context.Background()

	// Open database
	database, err := db.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	log.Info().Str("path", database.Path()).Msg("Database opened")

	// Run migrations
	if err := database.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Bootstrap if needed (first run)
	needsBootstrap, err := database.NeedsBootstrap(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to check bootstrap status")
	}
	if needsBootstrap {
		log.Info().Msg("First run detected, bootstrapping database...")
		if err := database.Bootstrap(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to bootstrap database")
		}
		log.Info().Msg("Database bootstrapped successfully")
	}

	if *profileName != "" {
		if _, err := database.UseProfile(ctx, *profileName); err != nil {
			log.Fatal().Err(err).Str("profile", *profileName).Msg("Failed to select profile")
		}
	}

	cfg, err := database.ActiveConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Override(db.Overrides{Port: *portPath, BaudRate: *baud}); err != nil {
		log.Fatal().Err(err).Msg("Invalid command-line configuration")
	}
	espCfg := cfg.ESP()

	var controller device.Controller
	var subscriber device.EventSubscriber
	if serialport.Supported() {
		m := esp.NewManager(espCfg)
		defer m.Close()
		controller, subscriber = m, m
	} else {
		log.Warn().Msg("Serial ports unavailable on this host, using null controller")
		controller = device.NewNullController()
		subscriber = device.NewNullEventSubscriber()
	}

	mcpServer := ninhomcp.NewServer(controller, subscriber, ninhomcp.WithExpectedFirmware(cfg.ExpectedFirmware()))

	log.Info().Str("profile", cfg.Profile.Name).Msg("Starting MCP server on stdio")

	if err := mcpServer.ServeStdio(); err != nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
}
