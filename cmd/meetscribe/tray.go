package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petems/meetscribe/internal/app"
	"github.com/petems/meetscribe/internal/hotkey"
	"github.com/petems/meetscribe/internal/tray"
)

var trayCmd = &cobra.Command{
	Use:   "tray",
	Short: "Run in the system tray (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTray(cmd)
	},
}

func init() {
	rootCmd.AddCommand(trayCmd)
}

func runTray(cmd *cobra.Command) error {
	env, err := setup()
	if err != nil {
		return err
	}
	log := env.log

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Create app first, tray attaches as status updater below
	application := app.New(app.Config{
		Capture: env.ctrl,
		Devices: env.ctrl.Devices(),
		Dial:    streamDialer(env.cfg, log),
		Config:  env.cfg,
		Logger:  log,
	})
	trayUI := tray.New(application, env.cfg, Version, Commit, log)
	application.SetStatusUpdater(trayUI)

	// A missing hotkey leaves the tray menu usable
	hkManager, err := hotkey.New()
	switch {
	case errors.Is(err, hotkey.ErrUnsupported):
		log.Warn().Msg("Global hotkey not available on this platform")
	case err != nil:
		log.Error().Err(err).Msg("Failed to initialize hotkeys")
	default:
		defer hkManager.Close()
		if err := hkManager.Register(env.cfg.PlatformHotkey(), application.OnHotkey); err != nil {
			log.Error().Err(err).Str("hotkey", env.cfg.PlatformHotkey()).Msg("Failed to register hotkey")
		}
	}

	log.Info().Str("version", Version).Str("recordings", env.cfg.RecordingsDir()).Msg("meetscribe starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Start tray UI - MUST run on main thread; saving happens in its exit hook
	return trayUI.Run(ctx)
}
