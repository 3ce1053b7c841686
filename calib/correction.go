package calib

// Correction is the linear model the tag applies to raw ranges.
type Correction struct {
	K float64 `json:"k"`
	B float64 `json:"b"`
}

// Identity leaves ranges unchanged.
var Identity = Correction{K: 1, B: 0}

func (c Correction) Apply(measured float64) float64 {
	return c.K*measured + c.B
}
