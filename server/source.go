package server

import (
	"context"
	"fmt"

	"uwb-engine/calib"
)

// FrameSource yields decoded frames in arrival order.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// RawDistanceSource adapts a frame source to calib.Source. Frames in which
// the requested anchor is inactive are skipped; the caller's context bounds
// how long that may go on.
type RawDistanceSource struct {
	Frames FrameSource
}

func (s RawDistanceSource) Measure(ctx context.Context, anchor int) (float64, error) {
	if anchor < 0 || anchor >= AnchorNum {
		return 0, fmt.Errorf("anchor d%d out of range", anchor)
	}
	for {
		f, err := s.Frames.Next(ctx)
		if err != nil {
			return 0, err
		}
		if d, ok := f.RawDistance(anchor); ok {
			return d, nil
		}
	}
}

// CalibrationSlot returns the selector a fitted result for anchor is pushed
// to, and whether that selector belongs to the anchor alone. Anchors past the
// last selector share SelectorDefault with another anchor.
func CalibrationSlot(anchor int) (AnchorSelector, bool) {
	sel := SelectorForZone(anchor + 1)
	return sel, anchor >= 0 && int(sel) == anchor
}

// EncodeCalibrationResult builds the command that stores a fitted k and b
// on the tag. Anchor slot n is addressed as zone n+1.
func EncodeCalibrationResult(r calib.Result) []byte {
	return EncodeCalibrationCommand(float32(r.K), float32(r.B), r.AnchorID+1)
}

// Verification is one raw range and its corrected value.
type Verification struct {
	Raw       float64 `json:"raw"`
	Corrected float64 `json:"corrected"`
}

// VerifyAnchor reads n ranges of one anchor and applies corr to each,
// calling fn as they arrive. n <= 0 runs until ctx is done.
func VerifyAnchor(ctx context.Context, src calib.Source, anchor int, corr calib.Correction, n int, fn func(Verification)) error {
	for i := 0; n <= 0 || i < n; i++ {
		raw, err := src.Measure(ctx, anchor)
		if err != nil {
			if n <= 0 && ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(Verification{Raw: raw, Corrected: corr.Apply(raw)})
	}
	return nil
}
