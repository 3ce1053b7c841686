package calib

import (
	"errors"
	"fmt"
)

var ErrArenaFull = errors.New("calibration arena full")

// Arena holds the samples of one calibration run. Its capacity is fixed to
// distances*samplesPerDistance and the backing storage is released by Fit.
type Arena struct {
	samples []Sample
	limit   int
}

func NewArena(distances, samplesPerDistance int) *Arena {
	n := distances * samplesPerDistance
	if n < 0 {
		n = 0
	}
	return &Arena{samples: make([]Sample, 0, n), limit: n}
}

func (a *Arena) Add(groundTruth, measured float64) error {
	if len(a.samples) >= a.limit {
		return fmt.Errorf("%w: capacity %d", ErrArenaFull, a.limit)
	}
	a.samples = append(a.samples, Sample{GroundTruth: groundTruth, Measured: measured})
	return nil
}

func (a *Arena) Len() int { return len(a.samples) }

func (a *Arena) Cap() int { return a.limit }

// Samples returns a copy of the collected pairs, e.g. for export.
func (a *Arena) Samples() []Sample {
	out := make([]Sample, len(a.samples))
	copy(out, a.samples)
	return out
}

// Fit runs the linear fit over everything collected and frees the arena.
// The arena cannot be reused afterwards.
func (a *Arena) Fit(anchorID int) (Result, error) {
	res, err := Fit(anchorID, a.samples)
	a.samples = nil
	a.limit = 0
	return res, err
}
