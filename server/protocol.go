package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"uwb-engine/fusion"
)

const (
	AnchorNum = fusion.AnchorNum

	// header(2) + command(2) + original(8*4) + calibrated(8*4) + position(3*4) + active(8) + tail(8)
	FrameLen = 2 + 2 + AnchorNum*4 + AnchorNum*4 + 3*4 + AnchorNum + 8

	CmdCalibration = 0x01
	CmdPosition    = 0x02

	PositionCommandLen    = 3 + 1 + 4 + 4 + 4 + 8
	CalibrationCommandLen = 3 + 1 + 4 + 4 + 8
)

var (
	FrameHeader = []byte{0xFF, 0xAA}
	FrameTail   = []byte{0x00, 0x00, 0x80, 0x7F, 0x00, 0x00, 0x00, 0x0A}
)

var (
	ErrFrameNotFound = errors.New("frame not found")
	ErrBadCommand    = errors.New("malformed command frame")
)

// Frame is one fixed-layout report from the tag, little endian on the wire.
type Frame struct {
	Header              [2]byte
	Command             [2]byte
	OriginalDistances   [AnchorNum]float32
	CalibratedDistances [AnchorNum]float32
	Position            [3]float32
	IsActive            [AnchorNum]uint8
	Tail                [8]byte
}

// DecodeFrame looks for the first header and the first tail at or after it.
// The returned count is how many leading bytes of buf the caller may drop:
// the tail end on success or on a length mismatch, zero when the frame is
// still incomplete. buf is never modified.
func DecodeFrame(buf []byte) (Frame, int, error) {
	var f Frame
	start := bytes.Index(buf, FrameHeader)
	if start < 0 {
		return f, 0, ErrFrameNotFound
	}
	rel := bytes.Index(buf[start:], FrameTail)
	if rel < 0 {
		return f, 0, ErrFrameNotFound
	}
	end := start + rel + len(FrameTail)
	if end-start != FrameLen {
		return f, end, fmt.Errorf("%w: span %d bytes, want %d", ErrFrameNotFound, end-start, FrameLen)
	}
	if err := binary.Read(bytes.NewReader(buf[start:end]), binary.LittleEndian, &f); err != nil {
		return Frame{}, end, fmt.Errorf("%w: %v", ErrFrameNotFound, err)
	}
	return f, end, nil
}

// MarshalBinary packs the frame back into its wire layout.
func (f *Frame) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(FrameLen)
	if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ActiveMeasurements returns the calibrated distance of every active slot
// in slot order. The solver pivots on the first entry, so order matters.
func (f *Frame) ActiveMeasurements() []fusion.Measurement {
	meas := make([]fusion.Measurement, 0, AnchorNum)
	for i := 0; i < AnchorNum; i++ {
		if f.IsActive[i] != 1 {
			continue
		}
		meas = append(meas, fusion.Measurement{
			AnchorID: i,
			Distance: float64(f.CalibratedDistances[i]),
		})
	}
	return meas
}

// RawDistance returns the uncalibrated range of one slot and its activity flag.
func (f *Frame) RawDistance(anchor int) (float64, bool) {
	if anchor < 0 || anchor >= AnchorNum {
		return 0, false
	}
	return float64(f.OriginalDistances[anchor]), f.IsActive[anchor] == 1
}

// DevicePosition is the position reported by the tag firmware itself.
func (f *Frame) DevicePosition() fusion.Position {
	return fusion.Position{
		X: float64(f.Position[0]),
		Y: float64(f.Position[1]),
		Z: float64(f.Position[2]),
	}
}

// AnchorSelector addresses one of the four anchor slots a command can target.
type AnchorSelector uint8

const (
	Selector0 AnchorSelector = iota
	Selector1
	Selector2
	Selector3

	// SelectorDefault is used for any zone outside 1..4.
	// TODO: decide with the firmware side whether out-of-range zones should be rejected instead.
	SelectorDefault = Selector3
)

// SelectorForZone maps operator zones 1..4 onto selector bytes 0..3.
func SelectorForZone(zone int) AnchorSelector {
	switch zone {
	case 1:
		return Selector0
	case 2:
		return Selector1
	case 3:
		return Selector2
	case 4:
		return Selector3
	default:
		return SelectorDefault
	}
}

// Zone is the inverse of SelectorForZone.
func (s AnchorSelector) Zone() int { return int(s) + 1 }

// EncodePositionCommand builds FF AA 02 <sel> x y 00000000 <tail>.
func EncodePositionCommand(x, y float32, zone int) []byte {
	b := make([]byte, 0, PositionCommandLen)
	b = append(b, FrameHeader...)
	b = append(b, CmdPosition, byte(SelectorForZone(zone)))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(x))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(y))
	b = append(b, 0, 0, 0, 0)
	return append(b, FrameTail...)
}

// EncodeCalibrationCommand builds FF AA 01 <sel> k b <tail>.
func EncodeCalibrationCommand(k, b float32, zone int) []byte {
	out := make([]byte, 0, CalibrationCommandLen)
	out = append(out, FrameHeader...)
	out = append(out, CmdCalibration, byte(SelectorForZone(zone)))
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(k))
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(b))
	return append(out, FrameTail...)
}

// Command is a decoded host-to-tag command frame.
type Command struct {
	Kind     byte
	Selector AnchorSelector
	Values   [2]float32
}

// ParseCommand decodes a frame produced by EncodePositionCommand or
// EncodeCalibrationCommand.
func ParseCommand(data []byte) (*Command, error) {
	if len(data) < 4 || !bytes.HasPrefix(data, FrameHeader) {
		return nil, fmt.Errorf("%w: missing header", ErrBadCommand)
	}
	var want int
	switch data[2] {
	case CmdPosition:
		want = PositionCommandLen
	case CmdCalibration:
		want = CalibrationCommandLen
	default:
		return nil, fmt.Errorf("%w: unknown command 0x%02x", ErrBadCommand, data[2])
	}
	if len(data) != want {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrBadCommand, len(data), want)
	}
	if !bytes.HasSuffix(data, FrameTail) {
		return nil, fmt.Errorf("%w: missing tail", ErrBadCommand)
	}
	if data[3] > byte(Selector3) {
		return nil, fmt.Errorf("%w: selector %d", ErrBadCommand, data[3])
	}
	return &Command{
		Kind:     data[2],
		Selector: AnchorSelector(data[3]),
		Values: [2]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(data[4:8])),
			math.Float32frombits(binary.LittleEndian.Uint32(data[8:12])),
		},
	}, nil
}
