package fusion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInsufficientAnchors = errors.New("insufficient active anchors")
	ErrDegenerate          = errors.New("degenerate anchor geometry")
	ErrUnknownAnchor       = errors.New("unknown anchor")
	ErrInvalidMeasurement  = errors.New("invalid range measurement")
)

// Measurement is one active anchor range (metres).
type Measurement struct {
	AnchorID int
	Distance float64
}

// Position is a tag estimate in the anchor frame. Z stays 0 for 2D solves.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Position) axis(k int) float64 {
	switch k {
	case 0:
		return p.X
	case 1:
		return p.Y
	}
	return p.Z
}

func (p *Position) setAxis(k int, v float64) {
	switch k {
	case 0:
		p.X = v
	case 1:
		p.Y = v
	default:
		p.Z = v
	}
}

// Dist returns the euclidean distance between two positions.
func (p Position) Dist(q Position) float64 {
	return math.Sqrt(pow2(p.X-q.X) + pow2(p.Y-q.Y) + pow2(p.Z-q.Z))
}

// Solve estimates the tag position from ranges by linearised least squares.
//
// Each row subtracts the squared-range equation of the previous anchor in
// meas from the current one:
//
//	2(a_r - a_i) . p = d_i^2 - d_r^2 - |a_i|^2 + |a_r|^2
//
// and the reference r then advances to i. The pivot walks along the list
// instead of staying on the first anchor; calibration constants in the field
// were tuned against this row layout.
func Solve(meas []Measurement, g *Geometry, dims int) (Position, error) {
	need := MinAnchors(dims)
	if need == 0 {
		return Position{}, fmt.Errorf("%w: dims must be 2 or 3, got %d", ErrInvalidGeometry, dims)
	}
	if dims > g.Dims() {
		return Position{}, fmt.Errorf("%w: %dD solve on %dD anchor table", ErrInvalidGeometry, dims, g.Dims())
	}

	type ranged struct {
		a Anchor
		d float64
	}
	used := make([]ranged, 0, len(meas))
	seen := make(map[int]bool, len(meas))
	for _, m := range meas {
		if seen[m.AnchorID] {
			continue
		}
		a, ok := g.Lookup(m.AnchorID)
		if !ok {
			return Position{}, fmt.Errorf("%w: d%d", ErrUnknownAnchor, m.AnchorID)
		}
		if m.Distance < 0 || math.IsNaN(m.Distance) || math.IsInf(m.Distance, 0) {
			return Position{}, fmt.Errorf("%w: d%d=%v", ErrInvalidMeasurement, m.AnchorID, m.Distance)
		}
		seen[m.AnchorID] = true
		used = append(used, ranged{a: a, d: m.Distance})
	}
	if len(used) < need {
		return Position{}, fmt.Errorf("%w: %d active, %dD needs %d", ErrInsufficientAnchors, len(used), dims, need)
	}

	rows := len(used) - 1
	A := mat.NewDense(rows, dims, nil)
	b := mat.NewVecDense(rows, nil)
	ref := used[0]
	for i, cur := range used[1:] {
		for k := 0; k < dims; k++ {
			A.Set(i, k, 2*(ref.a.coord(k)-cur.a.coord(k)))
		}
		b.SetVec(i, pow2(cur.d)-pow2(ref.d)-cur.a.normSq(dims)+ref.a.normSq(dims))
		ref = cur
	}

	x, err := lstsq(A, b, dims)
	if err != nil {
		return Position{}, err
	}
	var p Position
	for k := 0; k < dims; k++ {
		p.setAxis(k, x[k])
	}
	return p, nil
}

// lstsq returns the minimum-norm least squares solution of A x = b using a
// thin SVD, and ErrDegenerate when A has rank below dims.
func lstsq(A *mat.Dense, b *mat.VecDense, dims int) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrDegenerate)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	maxS := 0.0
	if len(s) > 0 {
		maxS = s[0]
	}
	tol := RankTol * maxS
	rank := 0
	for _, val := range s {
		if val > tol {
			rank++
		}
	}
	if maxS == 0 || rank < dims {
		return nil, fmt.Errorf("%w: rank %d < %d", ErrDegenerate, rank, dims)
	}

	// x = V * diag(1/s) * U^T * b
	var utb mat.VecDense
	utb.MulVec(u.T(), b)
	for i, val := range s {
		utb.SetVec(i, utb.AtVec(i)/val)
	}
	var x mat.VecDense
	x.MulVec(&v, &utb)

	out := make([]float64, dims)
	for k := range out {
		out[k] = x.AtVec(k)
	}
	return out, nil
}
