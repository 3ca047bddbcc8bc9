package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/api"
	"github.com/urmzd/ninho/pkg/db"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/esp"
	"github.com/urmzd/ninho/pkg/firmware"
	"github.com/urmzd/ninho/pkg/serialport"
	"golang.org/x/sync/errgroup"

	_ "github.com/urmzd/ninho/docs"
)

// @title           Ninho API
// @version         1.0
// @description     REST bridge to an ESP32 lesson board over USB serial

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/ninho/ninho.db)")
	portPath := flag.String("port", "", "Serial port of the board (default: first ESP32-looking port)")
	baud := flag.Int("baud", 0, "Serial baud rate (default: from the active profile)")
	addr := flag.String("addr", "", "Listen address (default: from the active profile)")
	stubPath := flag.String("stub", "", "Path to a flasher stub JSON file")
	manifestPath := flag.String("firmware", "", "Firmware manifest overriding the stored flash layout and expected version")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	profileName := flag.String("profile", "", "Activate this profile, creating it with defaults if missing")
	listProfiles := flag.Bool("list-profiles", false, "Print the stored profiles and exit")
	save := flag.Bool("save", false, "Persist -port, -baud, -stub, -addr and -firmware into the active profile")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if *listProfiles {
		printProfiles(ctx, database)
		return
	}

	if *profileName != "" {
		p, err := database.UseProfile(ctx, *profileName)
		if err != nil {
			log.Fatal().Err(err).Str("profile", *profileName).Msg("Failed to select profile")
		}
		log.Info().Str("profile", p.Name).Msg("Profile activated")
	}

	// Load configuration
	cfg, err := database.ActiveConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	overrides := db.Overrides{
		Port:     *portPath,
		BaudRate: *baud,
		StubPath: *stubPath,
		Address:  *addr,
	}
	if *manifestPath != "" {
		overrides.Manifest, err = firmware.LoadManifest(*manifestPath)
		if err != nil {
			log.Fatal().Err(err).Str("manifest", *manifestPath).Msg("Failed to load firmware manifest")
		}
	}
	if err := cfg.Override(overrides); err != nil {
		log.Fatal().Err(err).Msg("Invalid command-line configuration")
	}
	if *save {
		if err := database.SaveConfig(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to save configuration")
		}
		log.Info().Str("profile", cfg.Profile.Name).Msg("Configuration saved")
	}

	espCfg := cfg.ESP()
	listen := cfg.APIAddress()

	log.Info().
		Str("profile", cfg.Profile.Name).
		Str("board", cfg.Profile.Board).
		Str("port", espCfg.Port).
		Int("baud", espCfg.BaudRate).
		Str("api_address", listen).
		Int("segments", len(cfg.Layout)).
		Str("expected_firmware", cfg.ExpectedFirmware()).
		Msg("Configuration loaded")

	// Hosts without serial support get the null controller
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

	router := api.NewRouter(controller, subscriber,
		api.WithFirmwareLayout(cfg.Layout.Segments()),
		api.WithExpectedFirmware(cfg.ExpectedFirmware()),
	)

	srv := &http.Server{
		Addr:              listen,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("address", listen).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		controller.Disconnect()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server failed")
	}
}

func printProfiles(ctx context.Context, database *db.DB) {
	profiles, err := database.Profiles().List(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list profiles")
	}
	for _, p := range profiles {
		marker := " "
		if p.IsActive {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s\n", marker, p.Name, p.Board)
	}
}
