package rbc

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Target kinds as written in the project file. RBCC is the legacy name for
// a UDP listener.
const (
	KindUDP  = "UDP"
	KindTCP  = "TCP"
	KindRBCC = "RBCC"
)

const (
	tcpQueueLen    = 1000
	tcpDialTimeout = 2 * time.Second
	tcpWriteWait   = 5 * time.Second
	tcpRetryDelay  = 500 * time.Millisecond
)

var ErrUnknownKind = errors.New("unknown rbc target kind")

// ParseKind normalises a target kind; an empty kind means UDP.
func ParseKind(s string) (string, error) {
	switch k := strings.ToUpper(strings.TrimSpace(s)); k {
	case "", KindUDP, KindRBCC:
		return KindUDP, nil
	case KindTCP:
		return KindTCP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type target interface {
	wants(flag uint32) bool
	open() error
	deliver(line []byte)
	close()
}

// Sender fans result lines out to UDP listeners and reconnecting TCP
// listeners. Targets are added before Start; Send may be called from any
// goroutine and never blocks on the network.
type Sender struct {
	mu      sync.RWMutex
	targets []target
	prefix  []byte
	running bool
}

func NewSender() *Sender {
	return &Sender{}
}

// SetHeader prefixes every line with hdr and a colon.
func (s *Sender) SetHeader(hdr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefix = nil
	if hdr != "" {
		s.prefix = []byte(hdr + ":")
	}
}

// AddTarget registers a destination. A line reaches it only when mask
// covers every bit of the line's flag.
func (s *Sender) AddTarget(kind, addr string, mask uint32) error {
	k, err := ParseKind(kind)
	if err != nil {
		return err
	}
	var t target
	switch k {
	case KindUDP:
		ua, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return fmt.Errorf("rbc target %s: %w", addr, err)
		}
		t = &udpTarget{addr: ua, mask: mask}
	case KindTCP:
		t = &tcpTarget{addr: addr, mask: mask}
	}
	s.mu.Lock()
	s.targets = append(s.targets, t)
	s.mu.Unlock()
	return nil
}

// Targets is the number of configured destinations.
func (s *Sender) Targets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}

func (s *Sender) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.targets {
		if err := t.open(); err != nil {
			for _, o := range s.targets[:i] {
				o.close()
			}
			return err
		}
	}
	s.running = true
	return nil
}

// Stop flushes queued TCP lines and closes every target.
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	for _, t := range s.targets {
		t.close()
	}
}

// Send delivers line to every target whose mask covers flag.
func (s *Sender) Send(line []byte, flag uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return
	}
	msg := line
	if len(s.prefix) > 0 {
		msg = make([]byte, 0, len(s.prefix)+len(line))
		msg = append(append(msg, s.prefix...), line...)
	}
	for _, t := range s.targets {
		if t.wants(flag) {
			t.deliver(msg)
		}
	}
}

type udpTarget struct {
	addr *net.UDPAddr
	mask uint32
	conn *net.UDPConn
}

func (u *udpTarget) wants(flag uint32) bool { return u.mask&flag == flag }

func (u *udpTarget) open() error {
	conn, err := net.DialUDP("udp", nil, u.addr)
	if err != nil {
		return fmt.Errorf("rbc udp %s: %w", u.addr, err)
	}
	u.conn = conn
	return nil
}

func (u *udpTarget) deliver(line []byte) {
	u.conn.Write(line)
}

func (u *udpTarget) close() { u.conn.Close() }

// tcpTarget queues lines for a writer goroutine that dials on demand and
// redials after a failed write. Lines are dropped while the queue is full.
type tcpTarget struct {
	addr    string
	mask    uint32
	queue   chan []byte
	done    sync.WaitGroup
	dropped atomic.Int64
}

func (c *tcpTarget) wants(flag uint32) bool { return c.mask&flag == flag }

func (c *tcpTarget) open() error {
	c.queue = make(chan []byte, tcpQueueLen)
	c.done.Add(1)
	go c.run()
	return nil
}

func (c *tcpTarget) deliver(line []byte) {
	select {
	case c.queue <- line:
	default:
		if c.dropped.Add(1) == 1 {
			log.Printf("rbc: tcp %s queue full, dropping lines", c.addr)
		}
	}
}

// close runs under the sender's write lock, so no deliver is in flight.
func (c *tcpTarget) close() {
	close(c.queue)
	c.done.Wait()
}

func (c *tcpTarget) run() {
	defer c.done.Done()
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for line := range c.queue {
		if conn == nil {
			conn = c.dial()
			if conn == nil {
				continue
			}
		}
		conn.SetWriteDeadline(time.Now().Add(tcpWriteWait))
		if _, err := conn.Write(line); err != nil {
			log.Printf("rbc: tcp write to %s failed: %v", c.addr, err)
			conn.Close()
			conn = nil
		}
	}
}

// dial tries twice before giving up on the current line.
func (c *tcpTarget) dial() net.Conn {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(tcpRetryDelay)
		}
		conn, err := net.DialTimeout("tcp", c.addr, tcpDialTimeout)
		if err == nil {
			return conn
		}
	}
	return nil
}
