package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	onlySpeakers    bool
	onlyMicrophones bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List capture devices as "<index>: <name> (<role>)". Index 0 is always the
system default speaker. Pass the index to --device or set audio.device.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		devices := env.ctrl.Devices()
		var labels []string
		switch {
		case onlySpeakers:
			labels = devices.ListSpeakerDevices(ctx)
		case onlyMicrophones:
			labels = devices.ListMicrophoneDevices(ctx)
		default:
			labels = devices.ListDevices(ctx)
		}

		out := cmd.OutOrStdout()
		for _, label := range labels {
			fmt.Fprintln(out, label)
		}
		if len(labels) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "no devices found")
		}
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&onlySpeakers, "speakers", false, "list speaker (loopback) devices only")
	devicesCmd.Flags().BoolVar(&onlyMicrophones, "microphones", false, "list microphone devices only")
	devicesCmd.MarkFlagsMutuallyExclusive("speakers", "microphones")

	rootCmd.AddCommand(devicesCmd)
}
