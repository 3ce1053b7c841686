package rbc

import (
	"fmt"
	"time"

	"uwb-engine/calib"
	"uwb-engine/fusion"
)

const timeLayout = "20060102150405.000"

// FormatTagPos renders a position line:
//
//	display:NNN,<id hex16>,<seq>,<time>,<flag>,<x>,<y>,<z>\r\n
//
// Positions are printed in metres with centimetre resolution.
func FormatTagPos(id int, ts int64, seq uint16, res fusion.Result) []byte {
	p := res.Smoothed
	body := fmt.Sprintf("display:   ,%016X,%d,%s,%d,%.2f,%.2f,%.2f\r\n",
		id, seq, time.UnixMilli(ts).Format(timeLayout), res.Flag, p.X, p.Y, p.Z)
	return fillLength([]byte(body))
}

// FormatRanges renders the raw anchor ranges of one frame, -1 for inactive slots.
func FormatRanges(ts int64, ranges [fusion.AnchorNum]float64) []byte {
	body := fmt.Sprintf("ranges:    ,%s", time.UnixMilli(ts).Format(timeLayout))
	for _, r := range ranges {
		body += fmt.Sprintf(",%.3f", r)
	}
	return fillLength([]byte(body + "\r\n"))
}

// FormatCalibration renders a fitted correction for one anchor.
func FormatCalibration(ts int64, r calib.Result) []byte {
	body := fmt.Sprintf("calib:     ,%s,d%d,%.6f,%.6f,%.6f,%d\r\n",
		time.UnixMilli(ts).Format(timeLayout), r.AnchorID, r.K, r.B, r.RSquared, r.Samples)
	return fillLength([]byte(body))
}

// fillLength writes the total line length as decimal digits over bytes 8..10
// of the 11 byte prefix.
func fillLength(b []byte) []byte {
	n := len(b)
	if n >= 100 {
		b[8] = byte('0' + (n/100)%10)
	}
	b[9] = byte('0' + ((n / 10) % 10))
	b[10] = byte('0' + (n % 10))
	return b
}
