package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"uwb-engine/config"
	"uwb-engine/server"
)

var (
	flagProject string
	flagPort    string
	flagBaud    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "uwbctl",
		Short: "Operator tool for the UWB tag: calibration, verification and configuration",
		Long: `uwbctl talks to a UWB tag over its serial link.

It fits per-anchor range corrections, checks them live, pushes anchor
coordinates and correction constants to the tag, and solves captured
frame logs offline.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "Path to project.xml (serial port, anchors, calibration plan)")
	rootCmd.PersistentFlags().StringVar(&flagPort, "port", "", "Serial port (overrides project.xml)")
	rootCmd.PersistentFlags().IntVar(&flagBaud, "baud", 0, "Baud rate (overrides project.xml)")

	rootCmd.AddCommand(
		newCalibrateCmd(),
		newVerifyCmd(),
		newPushAnchorCmd(),
		newPushKBCmd(),
		newSolveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadProject returns nil without error when no project file was given.
func loadProject() (*config.Project, error) {
	if flagProject == "" {
		return nil, nil
	}
	return config.LoadProject(flagProject)
}

func openPort(proj *config.Project) (io.ReadWriteCloser, error) {
	name, baud := flagPort, flagBaud
	if proj != nil {
		if name == "" {
			name = proj.Serial.Port
		}
		if baud <= 0 {
			baud = proj.Serial.Baud
		}
	}
	if name == "" {
		return nil, fmt.Errorf("no serial port: use --port or --project")
	}
	return server.OpenSerial(name, baud)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
