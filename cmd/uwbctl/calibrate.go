package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uwb-engine/calib"
	"uwb-engine/config"
	"uwb-engine/rbc"
	"uwb-engine/server"
	"uwb-engine/telemetry"
)

func newCalibrateCmd() *cobra.Command {
	var (
		anchor    int
		stations  int
		samples   int
		distances string
		timeout   time.Duration
		csvPath   string
		push      bool
		broker    string
	)
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Fit true = k*measured + b for one anchor and push it to the tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCalibrationTarget(anchor, push); err != nil {
				return err
			}
			proj, err := loadProject()
			if err != nil {
				return err
			}
			plan := calib.DefaultPlan(stations)
			if proj != nil {
				plan = proj.Calibration
				if broker == "" {
					broker = proj.MQTT.Broker
				}
			}
			if cmd.Flags().Changed("stations") {
				plan = calib.DefaultPlan(stations)
			}
			if distances != "" {
				ds, err := parseDistances(distances)
				if err != nil {
					return err
				}
				plan.Distances = ds
			}
			if samples > 0 {
				plan.SamplesPerDistance = samples
			}
			if timeout > 0 {
				plan.SampleTimeout = timeout
			}
			if err := plan.Validate(); err != nil {
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

			stdin := bufio.NewReader(os.Stdin)
			ready := func(ctx context.Context, d float64) error {
				fmt.Printf("\nPlace the tag %.2f m from anchor d%d and press Enter...", d, anchor)
				if err := waitEnter(ctx, stdin); err != nil {
					return err
				}
				stream.Flush()
				return nil
			}

			rep, err := calib.Run(ctx, plan, anchor, server.RawDistanceSource{Frames: stream}, ready)
			if err != nil {
				return err
			}
			res := rep.Result
			fmt.Printf("\ntrue = %.4f * measured + %.4f   (R^2 %.4f, %d samples)\n", res.K, res.B, res.RSquared, res.Samples)

			if csvPath != "" {
				if err := writeSamples(csvPath, rep.Samples); err != nil {
					return err
				}
				fmt.Printf("Samples written to %s\n", csvPath)
			}
			if push {
				cmdBytes := server.EncodeCalibrationResult(res)
				if _, err := port.Write(cmdBytes); err != nil {
					return fmt.Errorf("push calibration: %w", err)
				}
				sel, _ := server.CalibrationSlot(res.AnchorID)
				fmt.Printf("Sent k/b to selector %d\n", sel)
			}
			if proj != nil {
				if err := sendCalibrationLine(proj, res); err != nil {
					log.Printf("rbc: %v", err)
				}
			}
			if broker != "" {
				pub, err := telemetry.Connect(telemetry.Config{Broker: broker, ClientID: "uwbctl", Topic: topicOf(proj)})
				if err != nil {
					log.Printf("telemetry: %v", err)
					return nil
				}
				defer pub.Close()
				if err := pub.PublishCalibration(time.Now().UnixMilli(), res); err != nil {
					log.Printf("telemetry: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&anchor, "anchor", 0, "Anchor slot 0..7 to calibrate; only 0..3 can be pushed")
	cmd.Flags().IntVar(&stations, "stations", 4, "Number of stations at 1.2 m + 0.6 m steps")
	cmd.Flags().IntVar(&samples, "samples", 0, "Samples per station (default from project or 20)")
	cmd.Flags().StringVar(&distances, "distances", "", "Comma separated station distances in metres")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-sample timeout (default from project or 2s)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write collected samples to this CSV file")
	cmd.Flags().BoolVar(&push, "push", true, "Send the fitted k and b to the tag")
	cmd.Flags().StringVar(&broker, "mqtt", "", "Publish the result to this MQTT broker")
	return cmd
}

var errSharedSlot = errors.New("anchor has no calibration selector of its own")

// checkCalibrationTarget rejects anchors outside the frame and, when the
// result is to be pushed, anchors whose command would land on another
// anchor's selector.
func checkCalibrationTarget(anchor int, push bool) error {
	if anchor < 0 || anchor >= server.AnchorNum {
		return fmt.Errorf("anchor d%d outside 0..%d", anchor, server.AnchorNum-1)
	}
	if !push {
		return nil
	}
	if sel, own := server.CalibrationSlot(anchor); !own {
		return fmt.Errorf("%w: d%d would overwrite selector %d, rerun with --push=false", errSharedSlot, anchor, sel)
	}
	return nil
}

// sendCalibrationLine reports a fitted result to the project's RBC targets.
func sendCalibrationLine(proj *config.Project, res calib.Result) error {
	snd, err := proj.RbcSender()
	if err != nil || snd == nil {
		return err
	}
	if err := snd.Start(); err != nil {
		return err
	}
	defer snd.Stop()
	snd.Send(rbc.FormatCalibration(time.Now().UnixMilli(), res), rbc.FlagCalibration)
	return nil
}

func topicOf(proj *config.Project) string {
	if proj == nil || proj.MQTT.Topic == "" {
		return config.DefaultTopic
	}
	return proj.MQTT.Topic
}

// waitEnter blocks for one line on stdin or until ctx is done.
func waitEnter(ctx context.Context, r *bufio.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := r.ReadString('\n')
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseDistances(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("distance %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func writeSamples(path string, samples []calib.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"true_m", "measured_m"})
	for _, s := range samples {
		w.Write([]string{fmt.Sprintf("%.3f", s.GroundTruth), fmt.Sprintf("%.3f", s.Measured)})
	}
	w.Flush()
	return w.Error()
}
