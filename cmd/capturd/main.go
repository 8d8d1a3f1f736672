// Package main provides the capture coordinator daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/snapcase/internal/bridge"
	"github.com/thebtf/snapcase/internal/bus"
	"github.com/thebtf/snapcase/internal/clients"
	"github.com/thebtf/snapcase/internal/config"
	"github.com/thebtf/snapcase/internal/coordinator"
	"github.com/thebtf/snapcase/internal/recorder"
	"github.com/thebtf/snapcase/internal/server"
	"github.com/thebtf/snapcase/internal/store"
	"github.com/thebtf/snapcase/internal/watcher"
	"github.com/thebtf/snapcase/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.snapcase)")
	port := flag.Int("port", 0, "HTTP port (overrides settings)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.Port = *port
	}

	dbPath := config.DBPath()
	if *dataDir != "" {
		dbPath = *dataDir + "/snapcase.db"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down capturd")
		cancel()
	}()

	st, err := store.New(store.Config{Path: dbPath, MaxConns: cfg.MaxConns})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open durable store")
	}
	defer st.Close()

	b, err := buildBus(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize message bus")
	}
	defer b.Close()

	var browser coordinator.Browser
	sources := map[models.RecordingType]recorder.Source{
		models.RecordingTypeDesktop: &recorder.FFmpegSource{
			Binary:  cfg.FFmpegBinary,
			Display: cfg.Display,
		},
	}
	if cfg.DevToolsURL != "" {
		chrome, err := bridge.Connect(ctx, cfg.DevToolsURL, cfg.Port)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to browser")
		}
		defer chrome.Close()
		browser = chrome
		sources[models.RecordingTypeTab] = &bridge.ScreencastSource{
			Chrome: chrome,
			Binary: cfg.FFmpegBinary,
		}
	} else {
		log.Warn().Msg("No devtools URL configured, tab capture disabled")
		browser = bridge.Disconnected{}
	}

	var uploader *clients.Uploader
	if cfg.UploadBaseURL != "" {
		rest := clients.NewRESTClient(cfg.UploadBaseURL, cfg.UploadToken)
		uploader = &clients.Uploader{Auth: rest, Upload: rest, Cases: rest}
	}

	coord := coordinator.New(coordinator.Options{
		Store:    st,
		Bus:      b,
		Engine:   recorder.NewEngine(sources),
		Browser:  browser,
		Surface:  bridge.NewBusSurface(b),
		Uploader: uploader,
	})

	svc := server.NewService(Version, cfg, b, coord)

	startWatchers(cancel, dbPath)

	log.Info().Str("version", Version).Str("db", dbPath).Str("bus", cfg.Bus).Msg("Starting capturd")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return svc.Run(gctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("capturd error")
	}
}

func buildBus(cfg *config.Config) (bus.Bus, error) {
	if cfg.Bus == "redis" {
		return bus.NewRedisBus(cfg.RedisAddr)
	}
	return bus.NewRouter(), nil
}

// startWatchers exits the process when the settings file changes or the
// store is deleted out from under us; the supervisor restart picks up the
// new settings and recreates the store.
func startWatchers(cancel context.CancelFunc, dbPath string) {
	settingsPath := config.SettingsPath()
	settingsWatcher, err := watcher.New(settingsPath,
		func() {
			log.Info().Str("path", settingsPath).Msg("Settings changed, restarting")
			cancel()
		},
		nil,
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
	} else if err := settingsWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
	}

	dbWatcher, err := watcher.New(dbPath,
		nil,
		func() {
			log.Warn().Str("path", dbPath).Msg("Durable store deleted, restarting")
			cancel()
		},
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create store watcher")
	} else if err := dbWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start store watcher")
	}
}
