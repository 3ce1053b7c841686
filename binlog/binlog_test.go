package binlog

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"uwb-engine/fusion"
)

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t0 := time.Unix(1700000000, 250000*1000)
	w.WriteRecordAt(t0, FlagSerialRx, []byte{0xFF, 0xAA, 1, 2})
	w.WriteRecordAt(t0.Add(100*time.Millisecond), FlagSerialTx, []byte{9})

	if got := buf.Len(); got != pcapGlobalLen+2*(pcapRecordLen+phdr2Len)+5 {
		t.Fatalf("file length %d", got)
	}

	rd, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rec, err := rd.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Flag != FlagSerialRx || !bytes.Equal(rec.Data, []byte{0xFF, 0xAA, 1, 2}) || !rec.Time.Equal(t0) {
		t.Fatalf("first record %+v", rec)
	}
	rec, err = rd.Next()
	if err != nil || rec.Flag != FlagSerialTx || rec.Time.Sub(t0) != 100*time.Millisecond {
		t.Fatalf("second record %+v, %v", rec, err)
	}
	if _, err := rd.Next(); err != io.EOF {
		t.Fatalf("end: %v, want io.EOF", err)
	}
}

func TestTruncatedRecordIsEOF(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewWriter(&buf)
	w.WriteRecord(FlagSerialRx, make([]byte, 96))
	data := buf.Bytes()[:buf.Len()-10]

	rd, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := rd.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestBadMagic(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, pcapGlobalLen)))
	if !errors.Is(err, ErrBadCapture) {
		t.Fatalf("err = %v, want ErrBadCapture", err)
	}
	if _, err := NewReader(bytes.NewReader([]byte{1, 2})); err == nil {
		t.Fatal("short header accepted")
	}
}

func TestAnchorTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pcap")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	in := []fusion.Anchor{
		{ID: 0, X: 0, Y: 0, Z: 2.5},
		{ID: 3, X: 4.2, Y: -1.35, Z: 0},
	}
	if err := w.WriteAnchors(in); err != nil {
		t.Fatalf("WriteAnchors: %v", err)
	}
	w.WriteRecord(FlagSerialRx, []byte{1})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 || recs[0].Flag != FlagAnchor {
		t.Fatalf("records %+v", recs)
	}
	out, err := recs[0].Anchors()
	if err != nil {
		t.Fatalf("Anchors: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d anchors", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("anchor %d = %+v, want %+v", i, out[i], in[i])
		}
	}
	if _, err := recs[1].Anchors(); err == nil {
		t.Fatal("frame record decoded as anchor table")
	}
}
