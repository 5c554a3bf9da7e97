package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petems/meetscribe/internal/app"
	"github.com/petems/meetscribe/internal/audio"
	"github.com/petems/meetscribe/internal/permissions"
	"github.com/petems/meetscribe/internal/stream"
)

var (
	recordDevice   string
	recordDuration time.Duration
	recordOut      string
	recordStream   bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one meeting from the command line",
	Long: `Record from a device until the duration elapses or Ctrl+C is pressed.
Final transcript segments are printed when streaming is enabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord(cmd)
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordDevice, "device", "d", "", "device index from 'meetscribe devices' (default from config)")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "stop after this long (default until interrupted)")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "write the recording to this file")
	recordCmd.Flags().BoolVar(&recordStream, "stream", false, "stream audio for live transcription")

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command) error {
	env, err := setup()
	if err != nil {
		return err
	}
	if recordStream {
		env.cfg.Streaming.Enabled = true
	}
	selector := recordDevice
	if selector == "" {
		selector = env.cfg.Audio.Device
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := env.ctrl.Devices().Resolve(ctx, selector)
	if err != nil {
		return err
	}
	if dev.Kind == audio.KindInput {
		if err := permissions.EnsureMicrophone(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	application := app.New(app.Config{
		Capture: env.ctrl,
		Devices: env.ctrl.Devices(),
		Dial:    streamDialer(env.cfg, env.log),
		Config:  env.cfg,
		Logger:  env.log,
		OnSegment: func(seg stream.Segment) {
			if seg.Final {
				fmt.Fprintln(out, seg)
			}
		},
	})

	if _, err := application.StartMeeting(ctx, selector); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Recording %s, press Ctrl+C to stop\n", dev)

	var deadline <-chan time.Time
	if recordDuration > 0 {
		timer := time.NewTimer(recordDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case <-ticker.C:
			if !application.IsRecording() {
				break wait // capture ended on its own
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	m, err := application.StopMeeting(stopCtx)
	if errors.Is(err, app.ErrNoMeeting) {
		m, _ = application.LastMeeting()
		err = m.Err
	}

	paths := m.Paths
	if recordOut != "" && len(paths) > 0 {
		var moveErr error
		if paths, moveErr = moveRecording(paths, recordOut); moveErr != nil {
			return moveErr
		}
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.ErrOrStderr(), "Saved", p)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Recorded %s (%d samples at %s)\n", m.Duration().Round(time.Millisecond), m.Samples, m.Format)
	return err
}

// moveRecording renames the meeting's files to out, keeping the _NNN
// suffix when the recording was split.
func moveRecording(paths []string, out string) ([]string, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return paths, fmt.Errorf("failed to create output dir: %w", err)
	}

	base := strings.TrimSuffix(out, filepath.Ext(out))
	moved := make([]string, 0, len(paths))
	for i, p := range paths {
		dst := out
		if len(paths) > 1 {
			dst = fmt.Sprintf("%s_%03d.wav", base, i+1)
		}
		if err := os.Rename(p, dst); err != nil {
			return append(moved, paths[i:]...), fmt.Errorf("failed to move recording: %w", err)
		}
		moved = append(moved, dst)
	}
	return moved, nil
}
