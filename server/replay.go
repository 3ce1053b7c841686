package server

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"time"

	"uwb-engine/binlog"
)

// Replay feeds the received frames of a capture file through the pipeline,
// pacing them by their stored timestamps divided by speed. speed <= 0 runs
// as fast as possible. Anchor tables and transmitted commands are skipped.
func (s *SerialServer) Replay(ctx context.Context, path string, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	rd, err := binlog.NewReader(f)
	if err != nil {
		return err
	}

	log.Printf("replay: %s at %.1fx speed", path, speed)
	var first time.Time
	var startReal time.Time
	count := 0
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if rec.Flag != binlog.FlagSerialRx {
			continue
		}

		if first.IsZero() {
			first = rec.Time
			startReal = time.Now()
		} else if speed > 0 {
			target := time.Duration(float64(rec.Time.Sub(first)) / speed)
			if wait := target - time.Since(startReal); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, _, err := DecodeFrame(rec.Data)
		if err != nil {
			continue
		}
		count++
		s.handleFrame(frame, rec.Time.UnixMilli())
	}
	st := s.Stats()
	log.Printf("replay: done, %d frames, %d positions, %d failures", count, st.Positions, st.Failures)
	return nil
}
