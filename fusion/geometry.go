package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInvalidGeometry = errors.New("invalid anchor geometry")

// Anchor is a fixed UWB anchor in the tag coordinate frame (metres).
type Anchor struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

func (a Anchor) coord(axis int) float64 {
	switch axis {
	case 0:
		return a.X
	case 1:
		return a.Y
	}
	return a.Z
}

func (a Anchor) normSq(dims int) float64 {
	s := 0.0
	for k := 0; k < dims; k++ {
		s += pow2(a.coord(k))
	}
	return s
}

// Geometry is the read-only anchor table. It is validated once at
// construction and has no mutators afterwards.
type Geometry struct {
	dims    int
	anchors map[int]Anchor
}

// NewGeometry validates and copies the anchor table.
func NewGeometry(dims int, anchors []Anchor) (*Geometry, error) {
	need := MinAnchors(dims)
	if need == 0 {
		return nil, fmt.Errorf("%w: dims must be 2 or 3, got %d", ErrInvalidGeometry, dims)
	}
	g := &Geometry{dims: dims, anchors: make(map[int]Anchor, len(anchors))}
	for _, a := range anchors {
		if a.ID < 0 || a.ID >= AnchorNum {
			return nil, fmt.Errorf("%w: anchor id %d outside [0,%d)", ErrInvalidGeometry, a.ID, AnchorNum)
		}
		if _, dup := g.anchors[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate anchor id %d", ErrInvalidGeometry, a.ID)
		}
		for _, v := range []float64{a.X, a.Y, a.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: anchor %d has non-finite coordinate", ErrInvalidGeometry, a.ID)
			}
		}
		if dims == 2 {
			a.Z = 0
		}
		g.anchors[a.ID] = a
	}
	if len(g.anchors) < need {
		return nil, fmt.Errorf("%w: %d anchors configured, %dD needs at least %d", ErrInvalidGeometry, len(g.anchors), dims, need)
	}
	return g, nil
}

func (g *Geometry) Dims() int { return g.dims }

func (g *Geometry) Len() int { return len(g.anchors) }

func (g *Geometry) Lookup(id int) (Anchor, bool) {
	a, ok := g.anchors[id]
	return a, ok
}

// Anchors returns a copy of the table ordered by id.
func (g *Geometry) Anchors() []Anchor {
	out := make([]Anchor, 0, len(g.anchors))
	for _, a := range g.anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Geometry) String() string {
	s := fmt.Sprintf("%dD[", g.dims)
	for i, a := range g.Anchors() {
		if i > 0 {
			s += " "
		}
		if g.dims == 2 {
			s += fmt.Sprintf("d%d=(%.2f,%.2f)", a.ID, a.X, a.Y)
		} else {
			s += fmt.Sprintf("d%d=(%.2f,%.2f,%.2f)", a.ID, a.X, a.Y, a.Z)
		}
	}
	return s + "]"
}
