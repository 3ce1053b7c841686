package calib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrSampleTimeout = errors.New("timed out waiting for a calibration sample")
	ErrBadPlan       = errors.New("invalid calibration plan")
)

const (
	DefaultSamplesPerDistance = 20
	DefaultSampleTimeout      = 2 * time.Second
	DefaultFirstDistance      = 1.2
	DefaultDistanceStep       = 0.6
)

// Plan lists the surveyed distances and how many ranges to take at each.
type Plan struct {
	Distances          []float64
	SamplesPerDistance int
	SampleTimeout      time.Duration
}

// DefaultPlan places n stations at 1.2 m, 1.8 m, 2.4 m, ...
func DefaultPlan(n int) Plan {
	d := make([]float64, n)
	for i := range d {
		d[i] = DefaultFirstDistance + float64(i)*DefaultDistanceStep
	}
	return Plan{
		Distances:          d,
		SamplesPerDistance: DefaultSamplesPerDistance,
		SampleTimeout:      DefaultSampleTimeout,
	}
}

func (p Plan) Validate() error {
	if len(p.Distances) == 0 {
		return fmt.Errorf("%w: no distances", ErrBadPlan)
	}
	if p.SamplesPerDistance <= 0 {
		return fmt.Errorf("%w: samples per distance must be positive", ErrBadPlan)
	}
	if p.SampleTimeout <= 0 {
		return fmt.Errorf("%w: sample timeout must be positive", ErrBadPlan)
	}
	for _, d := range p.Distances {
		if !finite(d) || d <= 0 {
			return fmt.Errorf("%w: distance %v", ErrBadPlan, d)
		}
	}
	return nil
}

// Source yields raw ranges for one anchor. Measure blocks until a range is
// available or ctx is done.
type Source interface {
	Measure(ctx context.Context, anchor int) (float64, error)
}

// ReadyFunc is called before each distance so the operator can place the tag.
type ReadyFunc func(ctx context.Context, distance float64) error

// DistanceStats summarises the ranges collected at one station.
type DistanceStats struct {
	GroundTruth float64 `json:"true"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std"`
	Count       int     `json:"n"`
}

// Report is everything a calibration run produced.
type Report struct {
	Result   Result          `json:"result"`
	Stations []DistanceStats `json:"stations"`
	Samples  []Sample        `json:"samples"`
}

// Run walks the plan for one anchor and fits the pooled samples once.
// Every sample wait is bounded by plan.SampleTimeout.
func Run(ctx context.Context, plan Plan, anchor int, src Source, ready ReadyFunc) (*Report, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	arena := NewArena(len(plan.Distances), plan.SamplesPerDistance)
	rep := &Report{Stations: make([]DistanceStats, 0, len(plan.Distances))}

	for _, dist := range plan.Distances {
		if ready != nil {
			if err := ready(ctx, dist); err != nil {
				return nil, fmt.Errorf("station %.2fm: %w", dist, err)
			}
		}
		got := make([]float64, 0, plan.SamplesPerDistance)
		for len(got) < plan.SamplesPerDistance {
			v, err := measure(ctx, src, anchor, plan.SampleTimeout)
			if err != nil {
				return nil, fmt.Errorf("station %.2fm sample %d/%d: %w", dist, len(got)+1, plan.SamplesPerDistance, err)
			}
			if err := arena.Add(dist, v); err != nil {
				return nil, err
			}
			got = append(got, v)
		}
		mean, std := stat.Mean(got, nil), stat.PopStdDev(got, nil)
		rep.Stations = append(rep.Stations, DistanceStats{GroundTruth: dist, Mean: mean, StdDev: std, Count: len(got)})
		log.Printf("calib: d%d at %.2fm: mean=%.3fm std=%.3fm n=%d", anchor, dist, mean, std, len(got))
	}

	rep.Samples = arena.Samples()
	res, err := arena.Fit(anchor)
	if err != nil {
		return nil, err
	}
	rep.Result = res
	log.Printf("calib: d%d fit true = %.4f * measured + %.4f (R^2 %.4f, %d samples)", anchor, res.K, res.B, res.RSquared, res.Samples)
	return rep, nil
}

func measure(ctx context.Context, src Source, anchor int, timeout time.Duration) (float64, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := src.Measure(sctx, anchor)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, fmt.Errorf("%w (d%d, %s)", ErrSampleTimeout, anchor, timeout)
	}
	return 0, err
}
