package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"uwb-engine/server"
)

func newPushAnchorCmd() *cobra.Command {
	var (
		zone int
		x, y float64
	)
	cmd := &cobra.Command{
		Use:   "push-anchor",
		Short: "Send an anchor's x/y coordinates (metres) to the tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pushCommand(server.EncodePositionCommand(float32(x), float32(y), zone), zone)
		},
	}
	cmd.Flags().IntVar(&zone, "zone", 1, "Anchor zone 1..4")
	cmd.Flags().Float64Var(&x, "x", 0, "Anchor x in metres")
	cmd.Flags().Float64Var(&y, "y", 0, "Anchor y in metres")
	return cmd
}

func newPushKBCmd() *cobra.Command {
	var (
		zone int
		k, b float64
	)
	cmd := &cobra.Command{
		Use:   "push-kb",
		Short: "Send correction constants k and b for one anchor to the tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pushCommand(server.EncodeCalibrationCommand(float32(k), float32(b), zone), zone)
		},
	}
	cmd.Flags().IntVar(&zone, "zone", 1, "Anchor zone 1..4")
	cmd.Flags().Float64Var(&k, "k", 1, "Correction slope")
	cmd.Flags().Float64Var(&b, "b", 0, "Correction intercept")
	return cmd
}

func pushCommand(data []byte, zone int) error {
	if zone < 1 || zone > 4 {
		fmt.Printf("warning: zone %d is outside 1..4, the tag will receive selector %d\n", zone, server.SelectorDefault)
	}
	proj, err := loadProject()
	if err != nil {
		return err
	}
	port, err := openPort(proj)
	if err != nil {
		return err
	}
	defer port.Close()
	if _, err := port.Write(data); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	fmt.Printf("Sent % X\n", data)
	return nil
}
