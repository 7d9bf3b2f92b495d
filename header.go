package codex

import (
	"encoding/binary"
	"fmt"
)

// indexMagic identifies an index stream. "CDXI" — codex index.
var indexMagic = [4]byte{'C', 'D', 'X', 'I'}

const indexVersion uint16 = 1

// encodeIndex serializes the full index stream (§6 "On-disk layout of
// index stream"): header, primary entries, then each secondary index in
// declared order.
func encodeIndex(schema *TableSchema, alloc *allocator, primary *primaryIndex, secondaries []*secondaryIndex) ([]byte, error) {
	w := NewWriter()
	w.buf.Write(indexMagic[:])
	var vbuf [2]byte
	binary.LittleEndian.PutUint16(vbuf[:], indexVersion)
	w.buf.Write(vbuf[:])
	w.WriteUint32(schema.Fingerprint())
	w.WriteUint32(uint32(primary.Len()))

	free := alloc.FreeRanges()
	w.WriteUint32(uint32(len(free)))
	for _, r := range free {
		w.WriteUint64(uint64(r.Offset))
		w.WriteUint64(uint64(r.Length))
	}

	for _, k := range primary.Keys() {
		if err := w.WriteValue(schema.KeyTypeID, k); err != nil {
			return nil, fmt.Errorf("codex: encode key: %w", err)
		}
		e, _ := primary.Get(k)
		w.WriteUint64(uint64(e.Slot.Offset))
		w.WriteUint32(uint32(e.Slot.Length))
		w.WriteUint32(e.Fingerprint)
	}

	for i, def := range schema.Indexes {
		sec := secondaries[i]
		var count uint32
		for _, b := range sec.buckets {
			count += uint32(len(b))
		}
		w.WriteUint32(count)
		for vi, v := range sec.values {
			for _, k := range sec.buckets[vi] {
				if err := writeNullable(w, def.TypeID, v, def.Nullable); err != nil {
					return nil, fmt.Errorf("codex: encode index %q value: %w", def.Name, err)
				}
				if err := w.WriteValue(schema.KeyTypeID, k); err != nil {
					return nil, fmt.Errorf("codex: encode index %q key: %w", def.Name, err)
				}
			}
		}
	}

	return w.Bytes(), nil
}

// writeNullable writes a one-byte presence flag ahead of the value when
// the index permits nulls, so decodeIndex can tell a null bucket apart
// from a zero-valued one.
func writeNullable(w *Writer, typeID int, v any, nullable bool) error {
	if !nullable {
		return w.WriteValue(typeID, v)
	}
	if v == nil {
		w.WriteBool(false)
		return nil
	}
	w.WriteBool(true)
	return w.WriteValue(typeID, v)
}

func readNullable(r *Reader, typeID int, nullable bool) (any, error) {
	if !nullable {
		return r.ReadValue(typeID)
	}
	present, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return r.ReadValue(typeID)
}

// decodedIndex holds the result of parsing an index stream.
type decodedIndex struct {
	primary     *primaryIndex
	secondaries []*secondaryIndex
	free        []freeRange
	usedEnd     int64
}

// decodeIndex parses an index stream previously produced by encodeIndex,
// validating magic, version, and schema fingerprint against schema.
func decodeIndex(b []byte, schema *TableSchema) (*decodedIndex, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruption)
	}
	var magic [4]byte
	copy(magic[:], b[:4])
	if magic != indexMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruption)
	}
	version := binary.LittleEndian.Uint16(b[4:6])
	if version != indexVersion {
		return nil, fmt.Errorf("%w: version %d", ErrSchemaMismatch, version)
	}

	r := NewReader(b[6:])
	fp, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if fp != schema.Fingerprint() {
		return nil, fmt.Errorf("%w: schema fingerprint", ErrSchemaMismatch)
	}

	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	fcount, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	free := make([]freeRange, fcount)
	var usedEnd int64
	for i := range free {
		off, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		length, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		free[i] = freeRange{Offset: int64(off), Length: int64(length)}
		if end := free[i].End(); end > usedEnd {
			usedEnd = end
		}
	}

	primary := newPrimaryIndex(schema.KeyCompare)
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadValue(schema.KeyTypeID)
		if err != nil {
			return nil, fmt.Errorf("%w: primary key %d: %v", ErrCorruption, i, err)
		}
		off, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		length, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		fp, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		slot := Slot{Offset: int64(off), Length: int64(length)}
		if end := slot.End(); end > usedEnd {
			usedEnd = end
		}
		primary.Put(key, KeyEntry{Slot: slot, Fingerprint: fp})
	}

	secondaries := make([]*secondaryIndex, len(schema.Indexes))
	for i, def := range schema.Indexes {
		sec := newSecondaryIndex(def, schema.KeyCompare)
		count, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < count; j++ {
			v, err := readNullable(r, def.TypeID, def.Nullable)
			if err != nil {
				return nil, fmt.Errorf("%w: index %q value %d: %v", ErrCorruption, def.Name, j, err)
			}
			k, err := r.ReadValue(schema.KeyTypeID)
			if err != nil {
				return nil, fmt.Errorf("%w: index %q key %d: %v", ErrCorruption, def.Name, j, err)
			}
			sec.Add(v, k)
		}
		secondaries[i] = sec
	}

	return &decodedIndex{primary: primary, secondaries: secondaries, free: free, usedEnd: usedEnd}, nil
}
