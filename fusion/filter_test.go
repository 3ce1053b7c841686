package fusion

import (
	"math"
	"testing"
)

var allWeightings = []Weighting{Uniform, Linear, Exponential}

func TestFilterConstantInputIsExact(t *testing.T) {
	p := Position{X: 1.234567, Y: -0.1, Z: 3.3}
	for _, w := range allWeightings {
		t.Run(w.String(), func(t *testing.T) {
			f := NewPositionFilter(5, w)
			for i := 0; i < 12; i++ {
				if got := f.Update(p); got != p {
					t.Fatalf("update %d: got %+v, want %+v", i, got, p)
				}
			}
			if !f.IsStable() {
				t.Fatal("constant window not stable")
			}
			if sd := f.StdDev(); sd.X > 1e-12 || sd.Y > 1e-12 || sd.Z > 1e-12 {
				t.Fatalf("StdDev = %+v, want zero", sd)
			}
		})
	}
}

func TestFilterFirstUpdateReturnsInput(t *testing.T) {
	for _, w := range allWeightings {
		f := NewPositionFilter(10, w)
		p := Position{X: 7, Y: 8}
		if got := f.Update(p); got != p {
			t.Fatalf("%s: got %+v, want %+v", w, got, p)
		}
	}
}

func TestFilterWeightedMean(t *testing.T) {
	tests := []struct {
		w    Weighting
		want float64
	}{
		{Uniform, 2},
		{Linear, (1*1 + 2*2 + 3*3) / 6.0},
		{Exponential, (1 + 2*math.E + 3*math.E*math.E) / (1 + math.E + math.E*math.E)},
	}
	for _, tt := range tests {
		f := NewPositionFilter(3, tt.w)
		var got Position
		for _, x := range []float64{1, 2, 3} {
			got = f.Update(Position{X: x})
		}
		if math.Abs(got.X-tt.want) > 1e-12 {
			t.Errorf("%s: got %.15f, want %.15f", tt.w, got.X, tt.want)
		}
	}
}

func TestFilterEvictsOldest(t *testing.T) {
	f := NewPositionFilter(3, Uniform)
	var got Position
	for _, x := range []float64{100, 2, 3, 4} {
		got = f.Update(Position{X: x})
	}
	if f.Len() != 3 {
		t.Fatalf("Len = %d, want 3", f.Len())
	}
	if math.Abs(got.X-3) > 1e-12 {
		t.Fatalf("got %v, want 3 after the outlier left the window", got.X)
	}
}

// An outlier followed by K true values decays faster with exponential
// weights than with uniform ones while the outlier is still in the window.
func TestFilterExponentialRespondsFaster(t *testing.T) {
	const window = 10
	outlier := Position{X: 5, Y: -5}
	truth := Position{X: 1, Y: 1}
	for k := 1; k < window; k++ {
		run := func(w Weighting) float64 {
			f := NewPositionFilter(window, w)
			f.Update(outlier)
			var got Position
			for i := 0; i < k; i++ {
				got = f.Update(truth)
			}
			return got.Dist(truth)
		}
		exp, uni := run(Exponential), run(Uniform)
		if !(exp < uni) {
			t.Fatalf("K=%d: exponential error %.6f not below uniform %.6f", k, exp, uni)
		}
	}
}

func TestFilterStability(t *testing.T) {
	f := NewPositionFilter(4, Linear)
	if f.IsStable() {
		t.Fatal("empty filter reported stable")
	}
	f.Update(Position{X: 0})
	f.Update(Position{X: 1})
	// population std of {0,1} is 0.5
	if f.IsStable() {
		t.Fatal("spread window reported stable")
	}
	if sd := f.StdDev().X; math.Abs(sd-0.5) > 1e-12 {
		t.Fatalf("std X = %v, want 0.5", sd)
	}
	for i := 0; i < 4; i++ {
		f.Update(Position{X: 1.01 * float64(i%2)})
	}
	if f.IsStable() {
		t.Fatal("alternating window reported stable")
	}
	for i := 0; i < 4; i++ {
		f.Update(Position{X: 2, Y: 2 + 0.01*float64(i)})
	}
	if !f.IsStable() {
		t.Fatalf("tight window not stable, std %+v", f.StdDev())
	}
}

func TestFilterReset(t *testing.T) {
	f := NewPositionFilter(3, Exponential)
	f.Update(Position{X: 10})
	f.Update(Position{X: 20})
	f.Reset()
	if f.Len() != 0 || f.IsStable() {
		t.Fatalf("after Reset: Len=%d stable=%v", f.Len(), f.IsStable())
	}
	p := Position{X: -1, Y: 4}
	if got := f.Update(p); got != p {
		t.Fatalf("first update after reset: got %+v, want %+v", got, p)
	}
}

func TestNewPositionFilterDefaults(t *testing.T) {
	f := NewPositionFilter(0, Linear)
	if f.Size() != DefaultWindowSize || f.Weighting() != Linear {
		t.Fatalf("Size=%d Weighting=%s", f.Size(), f.Weighting())
	}
}

func TestParseWeighting(t *testing.T) {
	for in, want := range map[string]Weighting{
		"uniform":      Uniform,
		"LINEAR":       Linear,
		"":             Linear,
		"exp":          Exponential,
		" exponential": Exponential,
	} {
		got, err := ParseWeighting(in)
		if err != nil || got != want {
			t.Errorf("ParseWeighting(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseWeighting("gaussian"); err == nil {
		t.Error("ParseWeighting accepted an unknown scheme")
	}
}
