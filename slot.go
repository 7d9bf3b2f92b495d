package codex

// Slot is a contiguous byte range [Offset, Offset+Length) in the data
// stream holding one serialized entity (§3 "Slot").
type Slot struct {
	Offset int64
	Length int64
}

// End returns the exclusive end of the slot.
func (s Slot) End() int64 { return s.Offset + s.Length }

// Overlaps reports whether s and o share any byte.
func (s Slot) Overlaps(o Slot) bool {
	return s.Offset < o.End() && o.Offset < s.End()
}

// KeyEntry is a primary index value: a slot plus the fingerprint of the
// bytes last written there, used to detect no-op updates (§3 "Key entry").
type KeyEntry struct {
	Slot        Slot
	Fingerprint uint32
}
