package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"uwb-engine/binlog"
	"uwb-engine/fusion"
	"uwb-engine/rbc"
)

const (
	DefaultBaud = 115200

	// failures of the same kind are logged once per this many frames
	failureLogEvery = 100
)

// OpenSerial opens the tag's serial link as 8N1 raw bytes.
func OpenSerial(name string, baud int) (io.ReadWriteCloser, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	opts := serial.OpenOptions{
		PortName:              name,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	log.Printf("serial: opened %s at %d baud", name, baud)
	return port, nil
}

// Broadcaster receives JSON position messages, e.g. a websocket hub.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// PositionPublisher forwards results to an external consumer.
type PositionPublisher interface {
	PublishPosition(tag int, res fusion.Result) error
}

type wsPos struct {
	ID   int     `json:"id"`
	TS   int64   `json:"ts"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Flag int     `json:"flag"`
}

// Stats counts what the processing loop has seen.
type Stats struct {
	Frames    int `json:"frames"`
	Positions int `json:"positions"`
	Failures  int `json:"failures"`
	Dropped   int `json:"dropped_bytes"`

	// CaptureErrors counts records the capture file did not accept.
	CaptureErrors int `json:"capture_errors"`
}

// SerialServer reads frames from the tag, solves each one and fans the
// result out to the configured outputs.
type SerialServer struct {
	port     io.ReadWriteCloser
	pipeline *fusion.Pipeline
	tagID    int

	capture   *binlog.Writer
	sender    *rbc.Sender
	hub       Broadcaster
	publisher PositionPublisher
	now       func() time.Time

	wmu sync.Mutex // serialises writes to port

	mu       sync.Mutex
	latest   fusion.Result
	haveLast bool
	seq      uint16
	stats    Stats
	failures map[string]int
}

// NewSerialServer wires a port to a pipeline. port may be nil when the
// server is only used for Replay.
func NewSerialServer(port io.ReadWriteCloser, pipeline *fusion.Pipeline) *SerialServer {
	return &SerialServer{
		port:     port,
		pipeline: pipeline,
		now:      time.Now,
		failures: make(map[string]int),
	}
}

func (s *SerialServer) SetTagID(id int) { s.tagID = id }

func (s *SerialServer) SetCaptureWriter(w *binlog.Writer) { s.capture = w }

func (s *SerialServer) SetRbcSender(snd *rbc.Sender) { s.sender = snd }

func (s *SerialServer) SetWebHub(h Broadcaster) { s.hub = h }

func (s *SerialServer) SetPublisher(p PositionPublisher) { s.publisher = p }

// Latest returns the last successful result.
func (s *SerialServer) Latest() (fusion.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.haveLast
}

func (s *SerialServer) Anchors() []fusion.Anchor {
	return s.pipeline.Geometry().Anchors()
}

func (s *SerialServer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Start runs the processing loop until ctx is done or the port fails.
func (s *SerialServer) Start(ctx context.Context) error {
	if s.port == nil {
		return errors.New("serial server has no port")
	}
	stream := NewStream(s.port)
	defer stream.Close()
	log.Printf("serial: solving %dD on %d anchors", s.pipeline.Dims(), s.pipeline.Geometry().Len())

	for {
		f, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				log.Printf("serial: port closed")
				return nil
			}
			return fmt.Errorf("serial read: %w", err)
		}
		s.mu.Lock()
		s.stats.Dropped = stream.Drops
		s.mu.Unlock()

		if s.capture != nil {
			if raw, err := f.MarshalBinary(); err == nil {
				s.record(binlog.FlagSerialRx, raw)
			}
		}
		s.handleFrame(f, s.now().UnixMilli())
	}
}

// SendCommand writes one command frame to the tag.
func (s *SerialServer) SendCommand(cmd []byte) error {
	if s.port == nil {
		return errors.New("serial server has no port")
	}
	if _, err := ParseCommand(cmd); err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.port.Write(cmd); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if s.capture != nil {
		s.record(binlog.FlagSerialTx, cmd)
	}
	return nil
}

// record appends to the capture file. Failures do not stop the loop; the
// first one and every failureLogEvery-th after it are logged.
func (s *SerialServer) record(flag uint16, data []byte) {
	err := s.capture.WriteRecord(flag, data)
	if err == nil {
		return
	}
	s.mu.Lock()
	n := s.stats.CaptureErrors
	s.stats.CaptureErrors++
	s.mu.Unlock()
	if n%failureLogEvery == 0 {
		log.Printf("serial: capture write: %v (x%d)", err, n+1)
	}
}

func (s *SerialServer) handleFrame(f Frame, ts int64) {
	s.mu.Lock()
	s.stats.Frames++
	s.mu.Unlock()

	if s.sender != nil {
		var ranges [AnchorNum]float64
		for i := range ranges {
			ranges[i] = -1
			if f.IsActive[i] == 1 {
				ranges[i] = float64(f.CalibratedDistances[i])
			}
		}
		s.sender.Send(rbc.FormatRanges(ts, ranges), rbc.FlagRaw)
	}

	res, err := s.pipeline.Process(ts, f.ActiveMeasurements())
	if err != nil {
		s.logFailure(err)
		return
	}
	s.sendResult(ts, res)
}

func (s *SerialServer) logFailure(err error) {
	kind := "other"
	switch {
	case errors.Is(err, fusion.ErrInsufficientAnchors):
		kind = "insufficient"
	case errors.Is(err, fusion.ErrDegenerate):
		kind = "degenerate"
	case errors.Is(err, fusion.ErrUnknownAnchor):
		kind = "unknown"
	case errors.Is(err, fusion.ErrInvalidMeasurement):
		kind = "invalid"
	}
	s.mu.Lock()
	s.stats.Failures++
	n := s.failures[kind]
	s.failures[kind] = n + 1
	s.mu.Unlock()

	if n%failureLogEvery != 0 {
		return
	}
	if kind == "degenerate" {
		log.Printf("serial: %v (x%d); anchors %s", err, n+1, s.pipeline.Geometry())
		return
	}
	log.Printf("serial: %v (x%d)", err, n+1)
}

func (s *SerialServer) sendResult(ts int64, res fusion.Result) {
	p := res.Smoothed
	if math.Abs(p.X) > 1000.0 || math.Abs(p.Y) > 1000.0 {
		log.Printf("serial: large coordinate x=%.2f y=%.2f", p.X, p.Y)
	}

	s.mu.Lock()
	s.latest = res
	s.haveLast = true
	s.stats.Positions++
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	if s.sender != nil {
		s.sender.Send(rbc.FormatTagPos(s.tagID, ts, seq, res), rbc.FlagPosition)
	}
	if s.hub != nil {
		b, _ := json.Marshal(wsPos{ID: s.tagID, TS: ts, X: p.X, Y: p.Y, Z: p.Z, Flag: res.Flag})
		s.hub.Broadcast(b)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishPosition(s.tagID, res); err != nil {
			log.Printf("serial: publish: %v", err)
		}
	}
}
