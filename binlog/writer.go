package binlog

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"uwb-engine/fusion"
)

const (
	PcapMagic = 0xA1B2C3D4

	pcapGlobalLen = 24
	pcapRecordLen = 16
	phdr2Len      = 8

	// anchor table entry: id(8) x(4) y(4) z(4) reserved(4), centimetres
	anchorItemLen = 24
)

// Record flags stored in the second record header.
const (
	FlagSerialRx = 0x01
	FlagSerialTx = 0x02
	FlagAnchor   = 0x04
)

type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
	now func() time.Time
}

// Create opens path for writing and emits the global header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func NewWriter(w io.Writer) (*Writer, error) {
	bw := &Writer{
		w:   w,
		buf: make([]byte, pcapRecordLen),
		now: time.Now,
	}
	if err := bw.writeGlobalHeader(); err != nil {
		return nil, err
	}
	return bw, nil
}

func (bw *Writer) writeGlobalHeader() error {
	// Magic(4), Major(2), Minor(2), Zone(4), Sig(4), Snap(4), Link(4)
	b := make([]byte, pcapGlobalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint16(b[6:], 4)
	binary.LittleEndian.PutUint32(b[16:], 65535)
	binary.LittleEndian.PutUint32(b[20:], 147) // LINKTYPE_USER0
	_, err := bw.w.Write(b)
	return err
}

// WriteRecord stores data stamped with the current time.
func (bw *Writer) WriteRecord(flag uint16, data []byte) error {
	return bw.writeRecord(bw.now(), flag, 0, 0, data)
}

// WriteRecordAt stores data with an explicit timestamp.
func (bw *Writer) WriteRecordAt(t time.Time, flag uint16, data []byte) error {
	return bw.writeRecord(t, flag, 0, 0, data)
}

// WriteAnchors stores the anchor table so a capture can be solved without
// its project file. The item count and size ride in the port and addr words.
func (bw *Writer) WriteAnchors(anchors []fusion.Anchor) error {
	data := make([]byte, len(anchors)*anchorItemLen)
	for i, a := range anchors {
		item := data[i*anchorItemLen:]
		binary.LittleEndian.PutUint64(item[0:], uint64(a.ID))
		binary.LittleEndian.PutUint32(item[8:], uint32(int32(math.Round(a.X*100))))
		binary.LittleEndian.PutUint32(item[12:], uint32(int32(math.Round(a.Y*100))))
		binary.LittleEndian.PutUint32(item[16:], uint32(int32(math.Round(a.Z*100))))
	}
	return bw.writeRecord(bw.now(), FlagAnchor, uint16(len(anchors)), anchorItemLen, data)
}

func (bw *Writer) writeRecord(t time.Time, flag, port uint16, addr uint32, data []byte) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	totalLen := uint32(len(data) + phdr2Len)

	// ts_sec(4), ts_usec(4), incl_len(4), orig_len(4)
	binary.LittleEndian.PutUint32(bw.buf[0:], uint32(t.Unix()))
	binary.LittleEndian.PutUint32(bw.buf[4:], uint32(t.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(bw.buf[8:], totalLen)
	binary.LittleEndian.PutUint32(bw.buf[12:], totalLen)
	if _, err := bw.w.Write(bw.buf[:pcapRecordLen]); err != nil {
		return err
	}

	// flag(2), port(2), addr(4)
	binary.LittleEndian.PutUint16(bw.buf[0:], flag)
	binary.LittleEndian.PutUint16(bw.buf[2:], port)
	binary.LittleEndian.PutUint32(bw.buf[4:], addr)
	if _, err := bw.w.Write(bw.buf[:phdr2Len]); err != nil {
		return err
	}

	_, err := bw.w.Write(data)
	return err
}

func (bw *Writer) Close() error {
	if c, ok := bw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
