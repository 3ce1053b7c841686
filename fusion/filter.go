package fusion

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Weighting selects how recent positions are favoured inside the window.
type Weighting int

const (
	Uniform Weighting = iota
	Linear
	Exponential
)

func (w Weighting) String() string {
	switch w {
	case Uniform:
		return "uniform"
	case Linear:
		return "linear"
	case Exponential:
		return "exp"
	}
	return fmt.Sprintf("Weighting(%d)", int(w))
}

// ParseWeighting accepts uniform, linear, exp and exponential.
func ParseWeighting(s string) (Weighting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uniform":
		return Uniform, nil
	case "linear", "":
		return Linear, nil
	case "exp", "exponential":
		return Exponential, nil
	}
	return Uniform, fmt.Errorf("unknown weighting %q", s)
}

// PositionFilter is a weighted moving average over the last N positions.
// It is owned by a single loop and must be fed in arrival order.
type PositionFilter struct {
	size      int
	weighting Weighting
	window    []Position

	std    Position
	stable bool
}

func NewPositionFilter(windowSize int, w Weighting) *PositionFilter {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &PositionFilter{
		size:      windowSize,
		weighting: w,
		window:    make([]Position, 0, windowSize),
	}
}

// Update pushes p (evicting the oldest entry when full) and returns the
// weighted mean of the window.
func (f *PositionFilter) Update(p Position) Position {
	if len(f.window) == f.size {
		copy(f.window, f.window[1:])
		f.window = f.window[:f.size-1]
	}
	f.window = append(f.window, p)

	n := len(f.window)
	weights := f.weights(n)

	// Accumulate offsets from the newest sample so a constant window
	// reproduces its value exactly.
	var out Position
	col := make([]float64, n)
	stable := true
	for k := 0; k < 3; k++ {
		ref := p.axis(k)
		acc := 0.0
		for i, q := range f.window {
			col[i] = q.axis(k)
			acc += weights[i] * (col[i] - ref)
		}
		out.setAxis(k, ref+acc)

		sd := 0.0
		if n > 1 {
			sd = stat.PopStdDev(col, nil)
		}
		f.std.setAxis(k, sd)
		if !(sd < StableStdDev) {
			stable = false
		}
	}
	f.stable = stable
	return out
}

// weights returns normalised weights, oldest first.
func (f *PositionFilter) weights(n int) []float64 {
	w := make([]float64, n)
	sum := 0.0
	for i := range w {
		switch f.weighting {
		case Linear:
			w[i] = float64(i + 1)
		case Exponential:
			w[i] = math.Exp(float64(i))
		default:
			w[i] = 1
		}
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// IsStable reports whether every axis standard deviation of the current
// window is under StableStdDev. An empty window is not stable.
func (f *PositionFilter) IsStable() bool { return len(f.window) > 0 && f.stable }

// StdDev is the unweighted per-axis population standard deviation of the window.
func (f *PositionFilter) StdDev() Position { return f.std }

func (f *PositionFilter) Len() int { return len(f.window) }

func (f *PositionFilter) Size() int { return f.size }

func (f *PositionFilter) Weighting() Weighting { return f.weighting }

// Reset drops the window.
func (f *PositionFilter) Reset() {
	f.window = f.window[:0]
	f.std = Position{}
	f.stable = false
}
