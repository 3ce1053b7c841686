package fusion

// Wire and geometry constants shared by the locator.
const (
	// AnchorNum is the number of anchor slots carried by every frame.
	AnchorNum = 8

	MinAnchors2D = 3
	MinAnchors3D = 4

	// DefaultWindowSize is the filter window when none is configured.
	DefaultWindowSize = 10

	// StableStdDev is the per-axis standard deviation (m) below which a
	// filter window counts as stable.
	StableStdDev = 0.1

	// RankTol is the singular value cutoff, relative to the largest one,
	// under which the linearised system is treated as rank deficient.
	RankTol = 1e-10
)

// Result flags.
const (
	FlagNoFix  = 0
	FlagFix    = 1
	FlagStable = 2
)

// MinAnchors returns the geometric minimum for dims, or 0 for an unsupported dims.
func MinAnchors(dims int) int {
	switch dims {
	case 2:
		return MinAnchors2D
	case 3:
		return MinAnchors3D
	}
	return 0
}

func pow2(x float64) float64 { return x * x }
