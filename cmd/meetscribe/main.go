package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petems/meetscribe/internal/app"
	"github.com/petems/meetscribe/internal/audio"
	"github.com/petems/meetscribe/internal/audio/backends"
	"github.com/petems/meetscribe/internal/capture"
	"github.com/petems/meetscribe/internal/config"
	"github.com/petems/meetscribe/internal/logging"
	"github.com/petems/meetscribe/internal/stream"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	cfgFile     string
	backendName string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "meetscribe",
	Short: "Record meeting audio from speakers or microphones",
	Long: `meetscribe records what a speaker device plays, or what a microphone hears,
into WAV files and can stream it to a speech recognition service.

Without a subcommand it runs in the system tray.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTray(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "meetscribe %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "audio backend (default "+backends.Default()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env bundles what every command needs.
type env struct {
	cfg  *config.Config
	log  zerolog.Logger
	ctrl *capture.Controller
}

// loadConfig reads the config file and applies global flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if backendName != "" {
		cfg.Audio.Backend = backendName
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setup() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logging.NewWithLevel(cfg.Level())

	backend, err := newBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	ctrl := capture.New(capture.Config{
		Backend:      backend,
		PollInterval: cfg.PollInterval(),
		Logger:       log,
	})
	return &env{cfg: cfg, log: log, ctrl: ctrl}, nil
}

func newBackend(cfg *config.Config, log zerolog.Logger) (audio.Backend, error) {
	enc := audio.PCM16LE
	if cfg.Audio.Encoding != "" {
		var err error
		if enc, err = audio.ParseEncoding(cfg.Audio.Encoding); err != nil {
			return nil, err
		}
	}
	return backends.New(cfg.Audio.Backend, backends.Options{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Encoding:   enc,
		Logger:     log,
	})
}

// streamDialer returns nil when streaming is off.
func streamDialer(cfg *config.Config, log zerolog.Logger) app.DialFunc {
	if !cfg.Streaming.Enabled {
		return nil
	}
	opts := stream.Options{
		URL:        cfg.Streaming.URL,
		Token:      cfg.StreamToken(),
		Model:      cfg.Streaming.Model,
		Language:   cfg.Streaming.Language,
		Diarize:    cfg.Streaming.Diarize,
		Interim:    cfg.Streaming.InterimResults,
		SampleRate: cfg.Streaming.TargetSampleRate,
		KeepAlive:  cfg.KeepAlive(),
		Logger:     log,
	}
	return func(ctx context.Context) (app.Transcriber, error) {
		return stream.Dial(ctx, opts)
	}
}
