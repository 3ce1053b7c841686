package fusion

import (
	"errors"
	"testing"
)

func TestPipelineProcess(t *testing.T) {
	anchors := roomAnchors2D()
	p, err := NewPipeline(mustGeometry(t, 2, anchors), 2, NewPositionFilter(3, Uniform))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	truth := Position{X: 2.1, Y: 0.6}
	var res Result
	for i := 0; i < 3; i++ {
		res, err = p.Process(int64(i*100), rangesTo(truth, anchors, 2))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	assertNear(t, res.Smoothed, truth, 1e-9)
	assertNear(t, res.Raw, truth, 1e-9)
	if res.Flag != FlagStable || !res.Stable || res.Used != 4 || res.TimestampMs != 200 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPipelineUsedCountsDistinctAnchors(t *testing.T) {
	anchors := roomAnchors2D()
	p, err := NewPipeline(mustGeometry(t, 2, anchors), 2, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	meas := rangesTo(Position{X: 1, Y: 1}, anchors, 2)
	meas = append(meas, meas[0], meas[1])
	res, err := p.Process(0, meas)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Used != len(anchors) {
		t.Fatalf("Used = %d with repeated anchors, want %d", res.Used, len(anchors))
	}
}

func TestPipelineFailureLeavesFilterUntouched(t *testing.T) {
	anchors := roomAnchors2D()
	f := NewPositionFilter(5, Linear)
	p, err := NewPipeline(mustGeometry(t, 2, anchors), 2, f)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := p.Process(0, rangesTo(Position{X: 1, Y: 1}, anchors, 2)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	res, err := p.Process(1, rangesTo(Position{X: 1, Y: 1}, anchors, 2)[:2])
	if !errors.Is(err, ErrInsufficientAnchors) {
		t.Fatalf("err = %v, want ErrInsufficientAnchors", err)
	}
	if res.Flag != FlagNoFix {
		t.Fatalf("flag = %d on failure", res.Flag)
	}
	if f.Len() != 1 {
		t.Fatalf("filter length %d after a failed frame, want 1", f.Len())
	}
}

func TestNewPipelineRejectsDims(t *testing.T) {
	g := mustGeometry(t, 2, roomAnchors2D())
	if _, err := NewPipeline(g, 3, nil); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("err = %v, want ErrInvalidGeometry", err)
	}
	p, err := NewPipeline(g, 2, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if p.Filter().Size() != DefaultWindowSize {
		t.Fatalf("default filter size %d", p.Filter().Size())
	}
}
