// Binary codec for entity payloads and composite values.
//
// Writer/Reader are the typed stream primitives described in §4.1: fixed
// width integers (little-endian), IEEE-754 floats, length-prefixed
// strings and bytes, and the composite forms (array, set, dict) built on
// top of them. A process-wide type registry assigns each supported shape
// a stable small integer ("db type id", §6) so a schema fingerprint can
// be computed from the declared ids and checked against the on-disk
// header on open.
//
// Mirrors the teacher's read.go/write.go split (low-level stream
// primitives vs. higher-level record assembly) but works over an
// in-memory buffer rather than a file handle, since the index stream is
// always read and written whole (§4.3 "Loading").
package codex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Reserved built-in type ids (§6). User ids must be >= 2000.
const (
	TypeString           = 0
	TypeByte             = 1
	TypeInt32            = 2
	TypeBool             = 3
	TypeFloat32          = 4
	TypeFloat64          = 5
	TypeDecimal          = 6
	TypeUUID             = 7
	TypeDateTime         = 8
	TypeTimespan         = 9
	TypeInt64            = 10
	TypeDateTimeOffset   = 11
	TypeURI              = 12
	TypeURIBuilder       = 13
	TypeStringBuilder    = 14
	TypeInt8             = 15
	TypeInt16            = 16
	TypeUint16           = 17
	TypeUint32           = 18
	TypeUint64           = 19

	// Composite container ids. These never appear as a registry entry
	// and FieldDef does not use them — a List/Set/Dict field records
	// its FieldKind plus one or two element type ids (see schema.go
	// FieldDef).
	TypeList = -1
	TypeDict = -2

	// FirstUserType is the smallest id a caller may register.
	FirstUserType = 2000
)

// Decimal is a fixed-point decimal value: Unscaled * 10^-Scale.
// Go has no built-in decimal type; this is the wire shape for TypeDecimal.
type Decimal struct {
	Unscaled int64
	Scale    int32
}

// UUID is a 16-byte universally unique identifier.
type UUID [16]byte

// WriteFunc serializes a value of a registered type onto w.
type WriteFunc func(w *Writer, v any) error

// ReadFunc deserializes a value of a registered type from r.
type ReadFunc func(r *Reader) (any, error)

type typeCodec struct {
	write WriteFunc
	read  ReadFunc
}

var (
	registryMu sync.RWMutex
	registry   = map[int]typeCodec{}
	frozen     atomic.Bool
)

func init() {
	registerBuiltins()
}

// RegisterType registers an explicit (read, write) pair for a
// user-defined element type under id, which must be >= FirstUserType.
// Registration is only permitted before the registry is frozen — the
// first call to Instance.Initialize freezes it (Design Notes 9:
// "process-wide registry with init-only writes").
func RegisterType(id int, write WriteFunc, read ReadFunc) error {
	if id < FirstUserType {
		return fmt.Errorf("%w: user type id %d below FirstUserType (%d)", ErrUsageError, id, FirstUserType)
	}
	if frozen.Load() {
		return fmt.Errorf("%w: type registry is frozen after Initialize", ErrUsageError)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = typeCodec{write: write, read: read}
	return nil
}

// freezeRegistry is called once by the first Instance.Initialize.
func freezeRegistry() {
	frozen.Store(true)
}

func lookupType(id int) (typeCodec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[id]
	return c, ok
}

// Writer accumulates a serialized byte stream.
type Writer struct {
	buf bytes.Buffer

	// compressThreshold is consulted by the registered string codec
	// (registerBuiltins) so Config.CompressThreshold reaches
	// WriteValue-dispatched string fields without every call site
	// threading it through by hand.
	compressThreshold int
}

// NewWriter returns an empty Writer with compression disabled.
func NewWriter() *Writer { return &Writer{} }

// NewWriterT returns an empty Writer whose string/bytes fields
// zstd-compress once they exceed compressThreshold bytes (§4.1,
// Config.CompressThreshold).
func NewWriterT(compressThreshold int) *Writer {
	return &Writer{compressThreshold: compressThreshold}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) WriteUint8(v uint8)   { w.buf.WriteByte(v) }
func (w *Writer) WriteInt8(v int8)     { w.buf.WriteByte(byte(v)) }
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteBytes writes a 32-bit length prefix followed by raw bytes. If
// compressThreshold > 0 and len(b) exceeds it, the payload is
// zstd-compressed and the length-prefix high bit flags compression
// (domain-stack wiring for klauspost/compress/zstd, mirroring the
// teacher's compress.go inline-snapshot strategy).
func (w *Writer) WriteBytes(b []byte, compressThreshold int) {
	payload := b
	compressed := false
	if compressThreshold > 0 && len(b) > compressThreshold {
		payload = zstdEncoder.EncodeAll(b, nil)
		compressed = true
	}
	length := uint32(len(payload))
	if compressed {
		length |= 1 << 31
	}
	w.WriteUint32(length)
	w.buf.Write(payload)
}

// WriteString writes a UTF-8 string with the same framing as WriteBytes.
func (w *Writer) WriteString(s string, compressThreshold int) {
	w.WriteBytes([]byte(s), compressThreshold)
}

func (w *Writer) WriteUUID(u UUID) { w.buf.Write(u[:]) }

func (w *Writer) WriteTime(t time.Time) { w.WriteInt64(t.UTC().UnixNano()) }

func (w *Writer) WriteDuration(d time.Duration) { w.WriteInt64(int64(d)) }

func (w *Writer) WriteDecimal(d Decimal) {
	w.WriteInt64(d.Unscaled)
	w.WriteInt32(d.Scale)
}

// WriteLen writes a length prefix for an array/set/dict.
func (w *Writer) WriteLen(n int) { w.WriteUint32(uint32(n)) }

// WriteValue dispatches to the registered codec for typeID.
func (w *Writer) WriteValue(typeID int, v any) error {
	c, ok := lookupType(typeID)
	if !ok {
		return fmt.Errorf("%w: type id %d", ErrUnknownType, typeID)
	}
	return c.write(w, v)
}

// Reader consumes a serialized byte stream in order.
type Reader struct {
	b   []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.b) - r.pos }

func (r *Reader) need(n int) error {
	if r.Len() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrCorruption, n, r.Len())
	}
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}
func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBytes reads a length-prefixed byte slice, transparently
// decompressing it if the length prefix's compression flag is set.
func (r *Reader) ReadBytes() ([]byte, error) {
	raw, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	compressed := raw&(1<<31) != 0
	length := int(raw &^ (1 << 31))
	if err := r.need(length); err != nil {
		return nil, err
	}
	b := make([]byte, length)
	copy(b, r.b[r.pos:r.pos+length])
	r.pos += length
	if compressed {
		out, err := zstdDecoder.DecodeAll(b, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruption, err)
		}
		return out, nil
	}
	return b, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadUUID() (UUID, error) {
	var u UUID
	if err := r.need(16); err != nil {
		return u, err
	}
	copy(u[:], r.b[r.pos:r.pos+16])
	r.pos += 16
	return u, nil
}

func (r *Reader) ReadTime() (time.Time, error) {
	v, err := r.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, v).UTC(), nil
}

func (r *Reader) ReadDuration() (time.Duration, error) {
	v, err := r.ReadInt64()
	return time.Duration(v), err
}

func (r *Reader) ReadDecimal() (Decimal, error) {
	u, err := r.ReadInt64()
	if err != nil {
		return Decimal{}, err
	}
	s, err := r.ReadInt32()
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Unscaled: u, Scale: s}, nil
}

// ReadLen reads an array/set/dict length prefix.
func (r *Reader) ReadLen() (int, error) {
	v, err := r.ReadUint32()
	return int(v), err
}

// ReadValue dispatches to the registered codec for typeID.
func (r *Reader) ReadValue(typeID int) (any, error) {
	c, ok := lookupType(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: type id %d", ErrUnknownType, typeID)
	}
	return c.read(r)
}

// Shared zstd encoder/decoder, constructed once like the teacher's
// compress.go — construction cost (dictionaries, internal state
// tables) would otherwise dominate small-payload compression.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func registerBuiltins() {
	reg := func(id int, w WriteFunc, rd ReadFunc) { registry[id] = typeCodec{write: w, read: rd} }

	reg(TypeString, func(w *Writer, v any) error { w.WriteString(v.(string), w.compressThreshold); return nil },
		func(r *Reader) (any, error) { return r.ReadString() })

	reg(TypeByte, func(w *Writer, v any) error { w.WriteUint8(v.(byte)); return nil },
		func(r *Reader) (any, error) { return r.ReadUint8() })

	reg(TypeInt32, func(w *Writer, v any) error { w.WriteInt32(v.(int32)); return nil },
		func(r *Reader) (any, error) { return r.ReadInt32() })

	reg(TypeBool, func(w *Writer, v any) error { w.WriteBool(v.(bool)); return nil },
		func(r *Reader) (any, error) { return r.ReadBool() })

	reg(TypeFloat32, func(w *Writer, v any) error { w.WriteFloat32(v.(float32)); return nil },
		func(r *Reader) (any, error) { return r.ReadFloat32() })

	reg(TypeFloat64, func(w *Writer, v any) error { w.WriteFloat64(v.(float64)); return nil },
		func(r *Reader) (any, error) { return r.ReadFloat64() })

	reg(TypeDecimal, func(w *Writer, v any) error { w.WriteDecimal(v.(Decimal)); return nil },
		func(r *Reader) (any, error) { return r.ReadDecimal() })

	reg(TypeUUID, func(w *Writer, v any) error { w.WriteUUID(v.(UUID)); return nil },
		func(r *Reader) (any, error) { return r.ReadUUID() })

	reg(TypeDateTime, func(w *Writer, v any) error { w.WriteTime(v.(time.Time)); return nil },
		func(r *Reader) (any, error) { return r.ReadTime() })

	reg(TypeTimespan, func(w *Writer, v any) error { w.WriteDuration(v.(time.Duration)); return nil },
		func(r *Reader) (any, error) { return r.ReadDuration() })

	reg(TypeInt64, func(w *Writer, v any) error { w.WriteInt64(v.(int64)); return nil },
		func(r *Reader) (any, error) { return r.ReadInt64() })

	reg(TypeDateTimeOffset, func(w *Writer, v any) error { w.WriteTime(v.(time.Time)); return nil },
		func(r *Reader) (any, error) { return r.ReadTime() })

	reg(TypeURI, func(w *Writer, v any) error { w.WriteString(v.(string), w.compressThreshold); return nil },
		func(r *Reader) (any, error) { return r.ReadString() })

	reg(TypeURIBuilder, func(w *Writer, v any) error { w.WriteString(v.(string), w.compressThreshold); return nil },
		func(r *Reader) (any, error) { return r.ReadString() })

	reg(TypeStringBuilder, func(w *Writer, v any) error { w.WriteString(v.(string), w.compressThreshold); return nil },
		func(r *Reader) (any, error) { return r.ReadString() })

	reg(TypeInt8, func(w *Writer, v any) error { w.WriteInt8(v.(int8)); return nil },
		func(r *Reader) (any, error) { return r.ReadInt8() })

	reg(TypeInt16, func(w *Writer, v any) error { w.WriteInt16(v.(int16)); return nil },
		func(r *Reader) (any, error) { return r.ReadInt16() })

	reg(TypeUint16, func(w *Writer, v any) error { w.WriteUint16(v.(uint16)); return nil },
		func(r *Reader) (any, error) { return r.ReadUint16() })

	reg(TypeUint32, func(w *Writer, v any) error { w.WriteUint32(v.(uint32)); return nil },
		func(r *Reader) (any, error) { return r.ReadUint32() })

	reg(TypeUint64, func(w *Writer, v any) error { w.WriteUint64(v.(uint64)); return nil },
		func(r *Reader) (any, error) { return r.ReadUint64() })
}
