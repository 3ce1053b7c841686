package server

import (
	"bytes"
	"errors"
	"testing"
)

func testFrame(ranges map[int]float32) Frame {
	var f Frame
	copy(f.Header[:], FrameHeader)
	copy(f.Tail[:], FrameTail)
	f.Command = [2]byte{0x00, 0x01}
	for id, d := range ranges {
		f.OriginalDistances[id] = d + 0.25
		f.CalibratedDistances[id] = d
		f.IsActive[id] = 1
	}
	f.Position = [3]float32{1, 2, 3}
	return f
}

func frameBytes(t *testing.T, f Frame) []byte {
	t.Helper()
	b, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return b
}

func TestFrameRoundTrip(t *testing.T) {
	f := testFrame(map[int]float32{0: 1.5, 3: 2.25, 7: 4})
	raw := frameBytes(t, f)
	if len(raw) != FrameLen || FrameLen != 96 {
		t.Fatalf("encoded %d bytes, FrameLen %d", len(raw), FrameLen)
	}

	junk := []byte{0x01, 0x02, 0xFF}
	buf := append(append(append([]byte{}, junk...), raw...), 0x55, 0x66)
	got, n, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if n != len(junk)+FrameLen {
		t.Fatalf("consumed %d, want %d", n, len(junk)+FrameLen)
	}
	if got != f {
		t.Fatalf("decoded frame differs:\n got %+v\nwant %+v", got, f)
	}
	if p := got.DevicePosition(); p.X != 1 || p.Y != 2 || p.Z != 3 {
		t.Fatalf("DevicePosition = %+v", p)
	}
}

func TestDecodeFrameNotFound(t *testing.T) {
	raw := frameBytes(t, testFrame(map[int]float32{0: 1}))
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"no header", []byte{0x00, 0x01, 0x02, 0x03}},
		{"header without tail", raw[:FrameLen-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, n, err := DecodeFrame(tt.buf)
			if !errors.Is(err, ErrFrameNotFound) {
				t.Fatalf("err = %v, want ErrFrameNotFound", err)
			}
			if n != 0 {
				t.Fatalf("consumed %d bytes of an incomplete buffer", n)
			}
		})
	}
}

func TestDecodeFrameLengthMismatch(t *testing.T) {
	short := append(append([]byte{}, FrameHeader...), 1, 2, 3, 4)
	short = append(short, FrameTail...)
	good := frameBytes(t, testFrame(map[int]float32{2: 3}))

	buf := append(append([]byte{}, short...), good...)
	_, n, err := DecodeFrame(buf)
	if !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("err = %v, want ErrFrameNotFound", err)
	}
	if n != len(short) {
		t.Fatalf("droppable = %d, want %d", n, len(short))
	}

	f, _, err := DecodeFrame(buf[n:])
	if err != nil {
		t.Fatalf("frame after the bad span: %v", err)
	}
	if f.CalibratedDistances[2] != 3 {
		t.Fatalf("wrong frame decoded: %+v", f)
	}
}

func TestActiveMeasurementsSlotOrder(t *testing.T) {
	f := testFrame(map[int]float32{5: 5.5, 1: 1.5, 6: 6.5})
	f.IsActive[6] = 2 // only 1 means active
	meas := f.ActiveMeasurements()
	if len(meas) != 2 {
		t.Fatalf("got %d measurements, want 2", len(meas))
	}
	if meas[0].AnchorID != 1 || meas[0].Distance != 1.5 || meas[1].AnchorID != 5 || meas[1].Distance != 5.5 {
		t.Fatalf("measurements %+v", meas)
	}

	if d, ok := f.RawDistance(5); !ok || d != 5.75 {
		t.Fatalf("RawDistance(5) = %v, %v", d, ok)
	}
	if _, ok := f.RawDistance(0); ok {
		t.Fatal("RawDistance(0) reported an inactive slot as active")
	}
	if _, ok := f.RawDistance(AnchorNum); ok {
		t.Fatal("RawDistance accepted an out of range slot")
	}
}

func TestSelectorForZone(t *testing.T) {
	tests := []struct {
		zone int
		want AnchorSelector
	}{
		{1, Selector0},
		{2, Selector1},
		{3, Selector2},
		{4, Selector3},
		{0, Selector3},
		{5, Selector3},
		{-7, Selector3},
	}
	for _, tt := range tests {
		if got := SelectorForZone(tt.zone); got != tt.want {
			t.Errorf("SelectorForZone(%d) = %d, want %d", tt.zone, got, tt.want)
		}
	}
	for zone := 1; zone <= 4; zone++ {
		if SelectorForZone(zone).Zone() != zone {
			t.Errorf("zone %d does not round trip", zone)
		}
	}
}

func TestEncodePositionCommand(t *testing.T) {
	got := EncodePositionCommand(1.5, -2, 2)
	want := []byte{
		0xFF, 0xAA, 0x02, 0x01,
		0x00, 0x00, 0xC0, 0x3F,
		0x00, 0x00, 0x00, 0xC0,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x80, 0x7F, 0x00, 0x00, 0x00, 0x0A,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % X\nwant % X", got, want)
	}
}

func TestEncodeCalibrationCommand(t *testing.T) {
	got := EncodeCalibrationCommand(1, 0.5, 4)
	want := []byte{
		0xFF, 0xAA, 0x01, 0x03,
		0x00, 0x00, 0x80, 0x3F,
		0x00, 0x00, 0x00, 0x3F,
		0x00, 0x00, 0x80, 0x7F, 0x00, 0x00, 0x00, 0x0A,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % X\nwant % X", got, want)
	}
	if len(EncodeCalibrationCommand(0.7135, -0.3434, 9)) != CalibrationCommandLen {
		t.Fatal("calibration command length")
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(EncodePositionCommand(3.5, 1.25, 3))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Kind != CmdPosition || cmd.Selector != Selector2 || cmd.Values != [2]float32{3.5, 1.25} {
		t.Fatalf("position command %+v", cmd)
	}

	cmd, err = ParseCommand(EncodeCalibrationCommand(0.75, -0.5, 1))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Kind != CmdCalibration || cmd.Selector != Selector0 || cmd.Values != [2]float32{0.75, -0.5} {
		t.Fatalf("calibration command %+v", cmd)
	}

	good := EncodeCalibrationCommand(1, 1, 1)
	bad := [][]byte{
		nil,
		good[:10],
		append([]byte{0xFE}, good[1:]...),
		append(append([]byte{}, good[:2]...), append([]byte{0x09}, good[3:]...)...),
		append(append([]byte{}, good[:len(good)-1]...), 0x0B),
		append(append([]byte{}, good[:3]...), append([]byte{0x04}, good[4:]...)...),
	}
	for i, b := range bad {
		if _, err := ParseCommand(b); !errors.Is(err, ErrBadCommand) {
			t.Errorf("case %d: err = %v, want ErrBadCommand", i, err)
		}
	}
}
