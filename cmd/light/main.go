package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"rgblight/internal/agent"
	"rgblight/internal/config"
	"rgblight/internal/logging"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.StringP("config", "c", "light.yaml", "Path to configuration file")
	showVersion := flag.BoolP("version", "v", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rgblight %s (%s, built %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("config", *configPath).
		Msg("Starting light")

	a, err := agent.NewAgent(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create agent")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := a.Run(ctx)
	stop()

	log.Info().Msg("Shutting down agent...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	cancel()

	if errors.Is(runErr, agent.ErrRestart) {
		restart()
	}
	log.Info().Msg("Agent shut down gracefully.")
}

// restart replaces the process with the freshly written image.
func restart() {
	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate executable for restart")
	}
	log.Info().Str("executable", exe).Msg("Restarting into updated image")
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		log.Fatal().Err(err).Msg("Restart failed")
	}
}
