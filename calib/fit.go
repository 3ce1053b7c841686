// Package calib derives per-anchor linear range corrections
// (true = K*measured + B) from ranges collected at known distances.
package calib

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrInsufficientSamples = errors.New("insufficient calibration samples")
	ErrDegenerateVariance  = errors.New("degenerate calibration variance")
)

// Sample pairs a surveyed distance with the range the tag reported there.
type Sample struct {
	GroundTruth float64 `json:"true"`
	Measured    float64 `json:"measured"`
}

// Result is the fitted correction for one anchor.
type Result struct {
	AnchorID int     `json:"anchor"`
	K        float64 `json:"k"`
	B        float64 `json:"b"`
	RSquared float64 `json:"r2"`
	Samples  int     `json:"samples"`
}

func (r Result) Correction() Correction { return Correction{K: r.K, B: r.B} }

// Fit solves ground_truth ~ K*measured + B by ordinary least squares.
//
// At least two distinct measured values are required (ErrInsufficientSamples).
// If every ground truth is identical, SS_tot is zero and R^2 is undefined
// (ErrDegenerateVariance).
func Fit(anchorID int, samples []Sample) (Result, error) {
	res := Result{AnchorID: anchorID, Samples: len(samples)}
	if len(samples) < 2 {
		return res, fmt.Errorf("%w: anchor %d has %d samples", ErrInsufficientSamples, anchorID, len(samples))
	}
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	distinctX, distinctY := false, false
	for i, s := range samples {
		if !finite(s.Measured) || !finite(s.GroundTruth) {
			return res, fmt.Errorf("%w: anchor %d sample %d is not finite", ErrInsufficientSamples, anchorID, i)
		}
		xs[i], ys[i] = s.Measured, s.GroundTruth
		distinctX = distinctX || xs[i] != xs[0]
		distinctY = distinctY || ys[i] != ys[0]
	}
	if !distinctX {
		return res, fmt.Errorf("%w: anchor %d measured a single value %.4f", ErrInsufficientSamples, anchorID, xs[0])
	}
	if !distinctY {
		return res, fmt.Errorf("%w: anchor %d has a single ground truth %.4f", ErrDegenerateVariance, anchorID, ys[0])
	}

	// stat.LinearRegression fits y = alpha + beta*x.
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) {
		return res, fmt.Errorf("%w: anchor %d R^2 undefined", ErrDegenerateVariance, anchorID)
	}
	res.K, res.B = beta, alpha
	res.RSquared = math.Max(0, math.Min(1, r2))
	return res, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
