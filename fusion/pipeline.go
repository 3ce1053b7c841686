package fusion

import "fmt"

// Result is the outcome of one frame through the pipeline.
type Result struct {
	TimestampMs int64    `json:"ts"`
	Raw         Position `json:"raw"`
	Smoothed    Position `json:"pos"`
	StdDev      Position `json:"std"`
	Stable      bool     `json:"stable"`
	Used        int      `json:"used"`
	Flag        int      `json:"flag"`
}

// Pipeline turns per-frame anchor ranges into smoothed positions.
type Pipeline struct {
	geom   *Geometry
	dims   int
	filter *PositionFilter
}

func NewPipeline(g *Geometry, dims int, f *PositionFilter) (*Pipeline, error) {
	if MinAnchors(dims) == 0 || dims > g.Dims() {
		return nil, fmt.Errorf("%w: cannot solve %dD on %dD anchor table", ErrInvalidGeometry, dims, g.Dims())
	}
	if f == nil {
		f = NewPositionFilter(DefaultWindowSize, Linear)
	}
	return &Pipeline{geom: g, dims: dims, filter: f}, nil
}

func (p *Pipeline) Geometry() *Geometry { return p.geom }

func (p *Pipeline) Dims() int { return p.dims }

func (p *Pipeline) Filter() *PositionFilter { return p.filter }

// Process solves one set of ranges and, only on success, advances the filter.
// On error the returned Result carries FlagNoFix and the filter is untouched.
func (p *Pipeline) Process(tsMs int64, meas []Measurement) (Result, error) {
	res := Result{TimestampMs: tsMs, Used: distinctAnchors(meas), Flag: FlagNoFix}
	raw, err := Solve(meas, p.geom, p.dims)
	if err != nil {
		return res, err
	}
	res.Raw = raw
	res.Smoothed = p.filter.Update(raw)
	res.StdDev = p.filter.StdDev()
	res.Stable = p.filter.IsStable()
	res.Flag = FlagFix
	if res.Stable {
		res.Flag = FlagStable
	}
	return res, nil
}

// distinctAnchors counts the anchors Solve will use; repeated ids count once.
func distinctAnchors(meas []Measurement) int {
	seen := make(map[int]bool, len(meas))
	for _, m := range meas {
		seen[m.AnchorID] = true
	}
	return len(seen)
}

// Reset clears the smoothing window, e.g. after a long gap in frames.
func (p *Pipeline) Reset() { p.filter.Reset() }
