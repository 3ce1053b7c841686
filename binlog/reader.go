package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"uwb-engine/fusion"
)

var ErrBadCapture = errors.New("not a capture file")

// Record is one stored chunk of bytes.
type Record struct {
	Time time.Time
	Flag uint16
	Port uint16
	Addr uint32
	Data []byte
}

// Reader walks the records of a capture file in order.
type Reader struct {
	r   io.Reader
	rec []byte
}

func NewReader(r io.Reader) (*Reader, error) {
	hdr := make([]byte, pcapGlobalLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != PcapMagic {
		return nil, ErrBadCapture
	}
	return &Reader{r: r, rec: make([]byte, pcapRecordLen)}, nil
}

// Next returns the next record, or io.EOF at the end of the file. A record
// cut short by the end of file is treated as the end.
func (rd *Reader) Next() (Record, error) {
	for {
		if _, err := io.ReadFull(rd.r, rd.rec); err != nil {
			return Record{}, eof(err)
		}
		tsSec := binary.LittleEndian.Uint32(rd.rec[0:4])
		tsUsec := binary.LittleEndian.Uint32(rd.rec[4:8])
		inclLen := binary.LittleEndian.Uint32(rd.rec[8:12])
		if inclLen < phdr2Len {
			// malformed record, skip the stated length
			if _, err := io.CopyN(io.Discard, rd.r, int64(inclLen)); err != nil {
				return Record{}, eof(err)
			}
			continue
		}

		body := make([]byte, inclLen)
		if _, err := io.ReadFull(rd.r, body); err != nil {
			return Record{}, eof(err)
		}
		return Record{
			Time: time.Unix(int64(tsSec), int64(tsUsec)*1000),
			Flag: binary.LittleEndian.Uint16(body[0:2]),
			Port: binary.LittleEndian.Uint16(body[2:4]),
			Addr: binary.LittleEndian.Uint32(body[4:8]),
			Data: body[phdr2Len:],
		}, nil
	}
}

func eof(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return fmt.Errorf("pcap record: %w", err)
}

// Anchors decodes a FlagAnchor record.
func (r Record) Anchors() ([]fusion.Anchor, error) {
	if r.Flag != FlagAnchor {
		return nil, fmt.Errorf("record flag %#x is not an anchor table", r.Flag)
	}
	itemnum, itemsize := int(r.Port), int(r.Addr)
	if itemsize < 20 {
		return nil, fmt.Errorf("anchor item size %d", itemsize)
	}
	out := make([]fusion.Anchor, 0, itemnum)
	for i := 0; i < itemnum; i++ {
		start := i * itemsize
		end := start + itemsize
		if end > len(r.Data) {
			break
		}
		chunk := r.Data[start:end]
		out = append(out, fusion.Anchor{
			ID: int(binary.LittleEndian.Uint64(chunk[0:8]) & 0xFFFF),
			X:  float64(int32(binary.LittleEndian.Uint32(chunk[8:12]))) / 100.0,
			Y:  float64(int32(binary.LittleEndian.Uint32(chunk[12:16]))) / 100.0,
			Z:  float64(int32(binary.LittleEndian.Uint32(chunk[16:20]))) / 100.0,
		})
	}
	return out, nil
}

// ReadAll loads every record of the file at path.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rd, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
