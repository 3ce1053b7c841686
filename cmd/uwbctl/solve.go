package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"uwb-engine/binlog"
	"uwb-engine/fusion"
	"uwb-engine/server"
)

func newSolveCmd() *cobra.Command {
	var (
		capturePath string
		outPath     string
		dims        int
		window      int
		weight      string
		refPath     string
		maxShift    int
	)
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve every frame of a capture file offline and write a CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if capturePath == "" {
				return errors.New("--capture required")
			}
			recs, err := binlog.ReadAll(capturePath)
			if err != nil {
				return err
			}

			proj, err := loadProject()
			if err != nil {
				return err
			}
			var pipeline *fusion.Pipeline
			if proj != nil {
				pipeline, err = proj.Pipeline()
			} else {
				pipeline, err = pipelineFromRecords(recs, dims, window, weight)
			}
			if err != nil {
				return err
			}

			rows, failures := solveRecords(pipeline, recs)
			if err := writeCSV(outPath, rows); err != nil {
				return err
			}
			fmt.Printf("Written %d rows to %s (%d frames without a fix)\n", len(rows)-1, outPath, failures)

			if refPath != "" {
				rmse, shift, err := compareWithRef(outPath, refPath, maxShift)
				if err != nil {
					return fmt.Errorf("rmse compare: %w", err)
				}
				fmt.Printf("ref shift %d frames, RMSE %.3f m\n", shift, rmse)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&capturePath, "capture", "", "Input capture file")
	cmd.Flags().StringVar(&outPath, "out", "solved.csv", "Output CSV path")
	cmd.Flags().IntVar(&dims, "dims", 2, "Solve dimension when no project is given")
	cmd.Flags().IntVar(&window, "window", fusion.DefaultWindowSize, "Filter window when no project is given")
	cmd.Flags().StringVar(&weight, "weight", "linear", "Filter weighting when no project is given")
	cmd.Flags().StringVar(&refPath, "ref", "", "Optional reference CSV for RMSE")
	cmd.Flags().IntVar(&maxShift, "max-shift", 400, "Max frame shift for RMSE")
	return cmd
}

func pipelineFromRecords(recs []binlog.Record, dims, window int, weight string) (*fusion.Pipeline, error) {
	w, err := fusion.ParseWeighting(weight)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.Flag != binlog.FlagAnchor {
			continue
		}
		anchors, err := r.Anchors()
		if err != nil {
			return nil, err
		}
		g, err := fusion.NewGeometry(dims, anchors)
		if err != nil {
			return nil, err
		}
		return fusion.NewPipeline(g, dims, fusion.NewPositionFilter(window, w))
	}
	return nil, errors.New("capture has no anchor table, pass --project")
}

// solveRecords runs every received frame through the pipeline. Frames
// without a fix are counted but produce no row.
func solveRecords(p *fusion.Pipeline, recs []binlog.Record) ([][]string, int) {
	rows := [][]string{{"seq", "ts_ms", "raw_x_m", "raw_y_m", "raw_z_m", "x_m", "y_m", "z_m", "flag", "used"}}
	seq := 1
	failures := 0
	for _, r := range recs {
		if r.Flag != binlog.FlagSerialRx {
			continue
		}
		f, _, err := server.DecodeFrame(r.Data)
		if err != nil {
			continue
		}
		ts := r.Time.UnixMilli()
		res, err := p.Process(ts, f.ActiveMeasurements())
		if err != nil {
			failures++
			continue
		}
		rows = append(rows, []string{
			strconv.Itoa(seq),
			strconv.FormatInt(ts, 10),
			fmt.Sprintf("%.4f", res.Raw.X), fmt.Sprintf("%.4f", res.Raw.Y), fmt.Sprintf("%.4f", res.Raw.Z),
			fmt.Sprintf("%.4f", res.Smoothed.X), fmt.Sprintf("%.4f", res.Smoothed.Y), fmt.Sprintf("%.4f", res.Smoothed.Z),
			strconv.Itoa(res.Flag),
			strconv.Itoa(res.Used),
		})
		seq++
	}
	return rows, failures
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// compareWithRef finds the frame shift that best aligns the two tracks and
// returns the RMSE at that shift.
func compareWithRef(predPath, refPath string, maxShift int) (float64, int, error) {
	pred, err := readXY(predPath)
	if err != nil {
		return 0, 0, err
	}
	ref, err := readXY(refPath)
	if err != nil {
		return 0, 0, err
	}
	bestShift := 0
	bestRmse := math.MaxFloat64
	for shift := -maxShift; shift <= maxShift; shift++ {
		pi, ri := 0, 0
		if shift >= 0 {
			pi = shift
		} else {
			ri = -shift
		}
		n := min(len(pred)-pi, len(ref)-ri)
		if n <= 0 {
			continue
		}
		var sum float64
		for i := 0; i < n; i++ {
			dx := pred[i+pi][0] - ref[i+ri][0]
			dy := pred[i+pi][1] - ref[i+ri][1]
			sum += dx*dx + dy*dy
		}
		if rmse := math.Sqrt(sum / float64(n)); rmse < bestRmse {
			bestRmse = rmse
			bestShift = shift
		}
	}
	if bestRmse == math.MaxFloat64 {
		return 0, 0, errors.New("tracks do not overlap")
	}
	return bestRmse, bestShift, nil
}

func readXY(path string) ([][2]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) <= 1 {
		return nil, fmt.Errorf("%s: no rows", path)
	}
	idxX, idxY := indexOf(recs[0], "x_m"), indexOf(recs[0], "y_m")
	if idxX < 0 || idxY < 0 {
		return nil, fmt.Errorf("%s: x_m/y_m columns not found", path)
	}
	out := make([][2]float64, 0, len(recs)-1)
	for _, row := range recs[1:] {
		if len(row) <= idxX || len(row) <= idxY {
			continue
		}
		x, _ := strconv.ParseFloat(row[idxX], 64)
		y, _ := strconv.ParseFloat(row[idxY], 64)
		out = append(out, [2]float64{x, y})
	}
	return out, nil
}

func indexOf(arr []string, key string) int {
	for i, v := range arr {
		if strings.EqualFold(v, key) {
			return i
		}
	}
	return -1
}
