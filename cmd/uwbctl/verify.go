package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"uwb-engine/calib"
	"uwb-engine/server"
)

func newVerifyCmd() *cobra.Command {
	var (
		anchor int
		k, b   float64
		count  int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Stream raw and corrected ranges of one anchor",
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := loadProject()
			if err != nil {
				return err
			}
			port, err := openPort(proj)
			if err != nil {
				return err
			}
			defer port.Close()
			stream := server.NewStream(port)
			defer stream.Close()

			ctx, stop := signalContext(cmd)
			defer stop()

			corr := calib.Correction{K: k, B: b}
			fmt.Printf("Using k=%.4f b=%.4f on d%d, Ctrl+C to stop\n", k, b, anchor)
			return server.VerifyAnchor(ctx, server.RawDistanceSource{Frames: stream}, anchor, corr, count, func(v server.Verification) {
				fmt.Printf("raw %.3fm -> corrected %.3fm\n", v.Raw, v.Corrected)
			})
		},
	}
	cmd.Flags().IntVar(&anchor, "anchor", 0, "Anchor slot 0..7")
	cmd.Flags().Float64Var(&k, "k", 0.7135, "Correction slope")
	cmd.Flags().Float64Var(&b, "b", -0.3434, "Correction intercept")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many ranges (0 runs until interrupted)")
	return cmd
}
