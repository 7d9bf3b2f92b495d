package codex

import (
	"bytes"
	"testing"
	"time"
)

func TestWriterReaderRoundTripPrimitives(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(-42)
	w.WriteUint64(123456789)
	w.WriteBool(true)
	w.WriteFloat64(3.14159)
	w.WriteString("hello world", 0)
	w.WriteUUID(UUID{1, 2, 3, 4})

	r := NewReader(w.Bytes())
	if v, err := r.ReadInt32(); err != nil || v != -42 {
		t.Fatalf("int32 round-trip: v=%d err=%v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 123456789 {
		t.Fatalf("uint64 round-trip: v=%d err=%v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("bool round-trip: v=%v err=%v", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != 3.14159 {
		t.Fatalf("float64 round-trip: v=%v err=%v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "hello world" {
		t.Fatalf("string round-trip: v=%q err=%v", v, err)
	}
	if v, err := r.ReadUUID(); err != nil || v != (UUID{1, 2, 3, 4}) {
		t.Fatalf("uuid round-trip: v=%v err=%v", v, err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected reader fully drained, %d bytes left", r.Len())
	}
}

func TestWriteBytesCompressesAboveThreshold(t *testing.T) {
	payload := bytes.Repeat([]byte("compressible-compressible-compressible-"), 50)

	w := NewWriter()
	w.WriteBytes(payload, 16)
	encoded := w.Bytes()

	r := NewReader(encoded)
	out, err := r.ReadBytes()
	if err != nil {
		t.Fatalf("read compressed bytes: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("round-trip mismatch after compression")
	}
	if len(encoded) >= len(payload) {
		t.Fatalf("expected compressed encoding to be smaller than input, got %d vs %d", len(encoded), len(payload))
	}
}

func TestWriteBytesSkipsCompressionBelowThreshold(t *testing.T) {
	payload := []byte("short")
	w := NewWriter()
	w.WriteBytes(payload, 1000)
	r := NewReader(w.Bytes())
	out, err := r.ReadBytes()
	if err != nil || !bytes.Equal(out, payload) {
		t.Fatalf("uncompressed round-trip failed: out=%q err=%v", out, err)
	}
}

func TestWriteValueReadValueDispatch(t *testing.T) {
	w := NewWriter()
	if err := w.WriteValue(TypeInt64, int64(9001)); err != nil {
		t.Fatalf("write value: %v", err)
	}
	r := NewReader(w.Bytes())
	v, err := r.ReadValue(TypeInt64)
	if err != nil {
		t.Fatalf("read value: %v", err)
	}
	if v.(int64) != 9001 {
		t.Fatalf("expected 9001, got %v", v)
	}
}

func TestWriteValueUnknownTypeErrors(t *testing.T) {
	w := NewWriter()
	if err := w.WriteValue(99999, "x"); err == nil {
		t.Fatalf("expected error for unregistered type id")
	}
}

func TestRegisterTypeRejectsReservedIDs(t *testing.T) {
	err := RegisterType(5, func(w *Writer, v any) error { return nil }, func(r *Reader) (any, error) { return nil, nil })
	if err == nil {
		t.Fatalf("expected RegisterType to reject an id below FirstUserType")
	}
}

func TestTimeRoundTripIsUTC(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	in := time.Date(2024, 3, 15, 10, 30, 0, 0, loc)

	w := NewWriter()
	w.WriteTime(in)
	r := NewReader(w.Bytes())
	out, err := r.ReadTime()
	if err != nil {
		t.Fatalf("read time: %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("expected equal instants, got %v vs %v", out, in)
	}
	if out.Location() != time.UTC {
		t.Fatalf("expected decoded time in UTC, got %v", out.Location())
	}
}

func TestReadCorruptTruncatedStream(t *testing.T) {
	w := NewWriter()
	w.WriteString("a longer string than the truncated buffer will hold", 0)
	truncated := w.Bytes()[:4]
	r := NewReader(truncated)
	if _, err := r.ReadString(); err == nil {
		t.Fatalf("expected corruption error reading a truncated stream")
	}
}
