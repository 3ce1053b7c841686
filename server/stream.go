package server

import (
	"bytes"
	"context"
	"io"
	"sync"
)

const (
	readChunk = 256

	// maxBuffered bounds the retained bytes while no frame decodes.
	maxBuffered = 8 * FrameLen
)

type chunk struct {
	data []byte
	err  error
}

// Stream cuts frames out of a byte stream such as a serial port. A single
// goroutine reads from r; Next may be abandoned through its context without
// losing bytes already read.
type Stream struct {
	chunks chan chunk
	buf    []byte
	err    error

	once sync.Once
	done chan struct{}

	// Drops counts bytes discarded while resynchronising.
	Drops int
}

func NewStream(r io.Reader) *Stream {
	s := &Stream{
		chunks: make(chan chunk, 16),
		done:   make(chan struct{}),
	}
	go s.pump(r)
	return s
}

func (s *Stream) pump(r io.Reader) {
	defer close(s.chunks)
	for {
		b := make([]byte, readChunk)
		n, err := r.Read(b)
		if n > 0 {
			select {
			case s.chunks <- chunk{data: b[:n]}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.chunks <- chunk{err: err}:
			case <-s.done:
			}
			return
		}
	}
}

// Next returns the next complete frame. It blocks until one is available,
// the reader fails, or ctx is done.
func (s *Stream) Next(ctx context.Context) (Frame, error) {
	for {
		f, err := s.tryDecode()
		if err == nil {
			return f, nil
		}
		if s.err != nil {
			return Frame{}, s.err
		}
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case c, ok := <-s.chunks:
			if !ok {
				s.err = io.EOF
				continue
			}
			if c.err != nil {
				s.err = c.err
				continue
			}
			s.buf = append(s.buf, c.data...)
		}
	}
}

func (s *Stream) tryDecode() (Frame, error) {
	for {
		f, n, err := DecodeFrame(s.buf)
		if n > 0 {
			if err != nil {
				n = s.resyncPoint(n)
				s.Drops += n
			}
			s.buf = s.buf[n:]
		}
		if err == nil {
			return f, nil
		}
		if n == 0 {
			s.trim()
			return Frame{}, err
		}
	}
}

// resyncPoint shortens a mismatched span to the next header inside it, so a
// stray header in line noise does not swallow the frame that follows.
func (s *Stream) resyncPoint(end int) int {
	start := bytes.Index(s.buf, FrameHeader)
	if start < 0 {
		return end
	}
	next := bytes.Index(s.buf[start+1:end], FrameHeader)
	if next < 0 {
		return end
	}
	return start + 1 + next
}

// trim keeps the buffer bounded when junk accumulates without a frame.
func (s *Stream) trim() {
	start := bytes.Index(s.buf, FrameHeader)
	switch {
	case start > 0:
		s.Drops += start
		s.buf = s.buf[start:]
	case start < 0 && len(s.buf) > 1:
		// the first header byte may be the last byte read
		s.Drops += len(s.buf) - 1
		s.buf = s.buf[len(s.buf)-1:]
	}
	if len(s.buf) > maxBuffered {
		s.Drops += len(s.buf) - 1
		s.buf = s.buf[len(s.buf)-1:]
	}
}

// Flush discards everything read so far, so the next frame is a fresh one.
func (s *Stream) Flush() {
	s.Drops += len(s.buf)
	s.buf = s.buf[:0]
	for {
		select {
		case c, ok := <-s.chunks:
			if !ok {
				s.err = io.EOF
				return
			}
			if c.err != nil {
				s.err = c.err
				return
			}
			s.Drops += len(c.data)
		default:
			return
		}
	}
}

// Buffered is the number of bytes held back for the next decode.
func (s *Stream) Buffered() int { return len(s.buf) }

// Close stops the read goroutine once its pending Read returns.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}
