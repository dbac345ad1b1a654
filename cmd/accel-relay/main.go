package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/accel.relay/internal/config"
	"github.com/banshee-data/accel.relay/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "accel-relay",
		Short:         "stream accelerometer batches to network clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "configuration file path")
	root.PersistentFlags().Bool("debug", false, "toggle debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the relay",
		Long: `serve starts the relay using configuration found, in order, at:
1. the path given by --config
2. the path in the ACCELRELAY_CONFIG environment variable
3. config.yaml in $HOME/.config/accel-relay, /etc/accel-relay or the current directory
Values from the file are overridden by ACCELRELAY_* environment variables and
then by command-line flags.
`,
		Example: `  accel-relay serve --config=/etc/accel-relay/config.yaml`,
		RunE:    runServe,
	}
	serve.Flags().String("listen", config.DefaultListen, "client listen address")
	root.AddCommand(serve)

	tail := &cobra.Command{
		Use:     "tail",
		Short:   "connect to a relay and print stream frames",
		Example: `  accel-relay tail --addr localhost:3806 --pose --count 10`,
		RunE:    runTail,
	}
	tail.Flags().String("addr", "localhost:3806", "relay address")
	tail.Flags().Bool("pose", false, "request the rig pose with every frame")
	tail.Flags().Int("count", 0, "stop after this many frames (0 = until interrupted)")
	tail.Flags().Duration("timeout", defaultDialTimeout, "dial timeout")
	root.AddCommand(tail)

	calibration := &cobra.Command{
		Use:   "calibration",
		Short: "fetch the sensor extrinsics from a relay",
		RunE:  runCalibration,
	}
	calibration.Flags().String("addr", "localhost:3806", "relay address")
	calibration.Flags().Duration("timeout", defaultDialTimeout, "dial timeout")
	root.AddCommand(calibration)

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as YAML",
		RunE:  runConfig,
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})
	return root
}

func runConfig(cmd *cobra.Command, _ []string) error {
	var desc config.Desc
	if err := desc.Parse(cmd); err != nil {
		return err
	}
	out, err := desc.Opt.YAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
