package main

import (
	"os"
	"time"

	"github.com/dkeye/meet/internal/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "meet",
	Short: "Headless participant for multi-party WebRTC rooms",
	Long: `meet joins a room on a signaling server, keeps one peer connection per
remote participant and serves the room state on a local HTTP API.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		// .env is optional; real environment variables win.
		_ = godotenv.Load(".env")
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("mode", config.ModeDevelopment, "development or production")
	pf.String("log-level", "info", "zerolog level")
	pf.String("signal-url", "ws://localhost:8080/ws", "signaling websocket url")
	pf.String("codec", "json", "signaling codec: json or msgpack")

	rootCmd.AddCommand(joinCmd)
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("meet failed")
		os.Exit(1)
	}
}

// setupLogger switches to JSON output in production and applies the level.
func setupLogger(cfg *config.Config) {
	if cfg.Mode == config.ModeProduction {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
