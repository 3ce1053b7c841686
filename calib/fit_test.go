package calib

import (
	"errors"
	"math"
	"testing"
)

func TestFitRecoversLine(t *testing.T) {
	var samples []Sample
	for _, m := range []float64{1, 2, 3, 4} {
		samples = append(samples, Sample{GroundTruth: 2*m + 0.5, Measured: m})
	}
	res, err := Fit(3, samples)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if math.Abs(res.K-2) > 1e-12 || math.Abs(res.B-0.5) > 1e-12 {
		t.Fatalf("k=%v b=%v, want 2 and 0.5", res.K, res.B)
	}
	if res.RSquared != 1 {
		t.Fatalf("R^2 = %v, want 1", res.RSquared)
	}
	if res.AnchorID != 3 || res.Samples != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := res.Correction().Apply(10); math.Abs(got-20.5) > 1e-9 {
		t.Fatalf("Apply(10) = %v", got)
	}
}

func TestFitNoisyRSquaredInRange(t *testing.T) {
	samples := []Sample{
		{1.2, 1.10}, {1.2, 1.14}, {1.8, 1.70}, {1.8, 1.62},
		{2.4, 2.31}, {2.4, 2.20}, {3.0, 2.95}, {3.0, 2.80},
	}
	res, err := Fit(0, samples)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if res.RSquared <= 0.9 || res.RSquared > 1 {
		t.Fatalf("R^2 = %v", res.RSquared)
	}
}

func TestFitErrors(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
		want    error
	}{
		{"none", nil, ErrInsufficientSamples},
		{"one", []Sample{{1, 1}}, ErrInsufficientSamples},
		{"single measured value", []Sample{{1, 2}, {2, 2}, {3, 2}}, ErrInsufficientSamples},
		{"not finite", []Sample{{1, 1}, {2, math.NaN()}}, ErrInsufficientSamples},
		{"single ground truth", []Sample{{1.2, 1}, {1.2, 1.1}, {1.2, 0.9}}, ErrDegenerateVariance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Fit(0, tt.samples); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestArenaBounds(t *testing.T) {
	a := NewArena(2, 2)
	if a.Cap() != 4 {
		t.Fatalf("Cap = %d", a.Cap())
	}
	for i, s := range []Sample{{1, 1.1}, {1, 0.9}, {2, 2.1}, {2, 1.9}} {
		if err := a.Add(s.GroundTruth, s.Measured); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if err := a.Add(3, 3); !errors.Is(err, ErrArenaFull) {
		t.Fatalf("err = %v, want ErrArenaFull", err)
	}

	snap := a.Samples()
	snap[0].Measured = 100
	if a.Samples()[0].Measured != 1.1 {
		t.Fatal("Samples() exposed internal storage")
	}

	res, err := a.Fit(1)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if math.Abs(res.K-1) > 1e-12 || math.Abs(res.B) > 1e-12 {
		t.Fatalf("k=%v b=%v", res.K, res.B)
	}
	if a.Len() != 0 || a.Cap() != 0 {
		t.Fatalf("arena not released: Len=%d Cap=%d", a.Len(), a.Cap())
	}
	if err := a.Add(1, 1); !errors.Is(err, ErrArenaFull) {
		t.Fatalf("released arena accepted a sample: %v", err)
	}
}

func TestIdentityCorrection(t *testing.T) {
	if got := Identity.Apply(3.25); got != 3.25 {
		t.Fatalf("Identity.Apply(3.25) = %v", got)
	}
}
