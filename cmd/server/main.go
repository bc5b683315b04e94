// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/tagtune/tagtune/internal/api/httpapi"
	"github.com/tagtune/tagtune/internal/api/ws"
	"github.com/tagtune/tagtune/internal/app/broadcast"
	"github.com/tagtune/tagtune/internal/app/controls"
	"github.com/tagtune/tagtune/internal/app/nfc"
	"github.com/tagtune/tagtune/internal/app/player"
	"github.com/tagtune/tagtune/internal/app/sequence"
	"github.com/tagtune/tagtune/internal/infra/audio"
	"github.com/tagtune/tagtune/internal/infra/config"
	"github.com/tagtune/tagtune/internal/infra/gpio"
	"github.com/tagtune/tagtune/internal/infra/logger"
	"github.com/tagtune/tagtune/internal/infra/store"
)

var (
	app        = kingpin.New("tagtune-server", "tagtune music box server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	broadcaster := broadcast.New(sequence.New())
	defer broadcaster.Close()

	nfcMgr := nfc.NewManager(st, broadcaster, nfc.Config{
		ListenTimeout: time.Duration(cfg.NFC.ListenTimeoutMs) * time.Millisecond,
		GracePeriod:   time.Duration(cfg.NFC.GraceMs) * time.Millisecond,
		SweepInterval: time.Duration(cfg.NFC.SweepMs) * time.Millisecond,
	})
	go nfcMgr.Run(ctx)

	backend := audio.NewBeep(cfg.Audio.MediaDir)
	defer func() { _ = backend.Cleanup() }()

	coordinator := player.New(backend, st, broadcaster, nfcMgr, player.Config{
		FinishPollInterval:   time.Duration(cfg.Playback.FinishPollMs) * time.Millisecond,
		PresencePollInterval: time.Duration(cfg.Playback.PresencePollMs) * time.Millisecond,
		TagPauseThreshold:    time.Duration(cfg.Playback.PauseThresholdMs) * time.Millisecond,
		Loop:                 cfg.Playback.Loop,
		InitialVolume:        cfg.Audio.InitialVolume,
	})
	coordinator.Run(ctx)
	defer coordinator.Close()

	if cfg.Controls.Enabled {
		normalizer := controls.New(coordinator, controls.Config{
			Debounce:          time.Duration(cfg.Controls.DebounceMs) * time.Millisecond,
			LongPress:         time.Duration(cfg.Controls.LongPressMs) * time.Millisecond,
			EncoderDetents:    cfg.Controls.EncoderDetents,
			AccelWindow:       time.Duration(cfg.Controls.AccelWindowMs) * time.Millisecond,
			MaxAccelStep:      cfg.Controls.MaxAccelStep,
			VolumeStepPercent: cfg.Controls.VolumeStepPercent,
			Pins: controls.PinMapping{
				PlayPause: cfg.Controls.Pins.PlayPause,
				Next:      cfg.Controls.Pins.Next,
				Previous:  cfg.Controls.Pins.Previous,
				EncoderA:  cfg.Controls.Pins.EncoderA,
				EncoderB:  cfg.Controls.Pins.EncoderB,
			},
		})
		// TODO: swap in the hardware pin driver once the reader hat
		// ships; the simulated source keeps the wiring exercised.
		pinSource := gpio.NewSim()
		defer func() { _ = pinSource.Close() }()
		go normalizer.Run(ctx, pinSource)
		zlog.Info().Msg("Physical controls enabled")
	}

	mux := http.NewServeMux()
	httpapi.New(coordinator, nfcMgr, st, cfg).Register(mux)
	mux.Handle("GET /api/v1/events", ws.NewHandler(coordinator, broadcaster))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// executeHooks executes lifecycle hook commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
