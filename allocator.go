// Free-list allocator over the data stream (§4.4).
//
// Updates that shrink or stay the same size must never move their slot:
// a concurrent reader holding an older on-disk index snapshot needs the
// old offset to stay valid until the writer's index rewrite commits.
// Growth and fragmentation are tolerated between compactions, which are
// a deliberate, exclusive operation (table.go's compact session).
package codex

import "sort"

// freeRange is one entry of the ordered, non-overlapping free list. The
// tail sentinel [usedEnd, ∞) is implicit and never stored.
type freeRange struct {
	Offset int64
	Length int64
}

func (r freeRange) End() int64 { return r.Offset + r.Length }

// allocator tracks free space in a table's data stream. It is not
// safe for concurrent use; callers serialize access via the table's
// write lock.
type allocator struct {
	free    []freeRange // sorted ascending by Offset, non-overlapping
	usedEnd int64       // start of the implicit tail sentinel
}

func newAllocator(usedEnd int64) *allocator {
	return &allocator{usedEnd: usedEnd}
}

// Reserve finds space for length bytes: first-fit over the ordered free
// list, ties broken by lowest offset (free is kept offset-sorted, so the
// first fitting entry is automatically the lowest). Falls back to
// extending the tail when no interior range fits.
func (a *allocator) Reserve(length int64) int64 {
	if length < 0 {
		panic("codex: negative reserve length")
	}
	for i := range a.free {
		r := &a.free[i]
		if r.Length >= length {
			offset := r.Offset
			if r.Length == length {
				a.free = append(a.free[:i], a.free[i+1:]...)
			} else {
				r.Offset += length
				r.Length -= length
			}
			return offset
		}
	}
	offset := a.usedEnd
	a.usedEnd += length
	return offset
}

// Release returns [offset, offset+length) to the free list, coalescing
// with adjacent ranges (and shrinking the tail sentinel directly when the
// released range abuts it, so the tail never accumulates a spurious
// trailing free entry).
func (a *allocator) Release(offset, length int64) {
	if length <= 0 {
		return
	}
	if offset+length == a.usedEnd {
		a.usedEnd = offset
		// Releasing into the tail may expose the previous free range
		// as newly tail-adjacent; keep shrinking.
		for len(a.free) > 0 {
			last := a.free[len(a.free)-1]
			if last.End() == a.usedEnd {
				a.usedEnd = last.Offset
				a.free = a.free[:len(a.free)-1]
				continue
			}
			break
		}
		return
	}

	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Offset >= offset })
	a.free = append(a.free, freeRange{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = freeRange{Offset: offset, Length: length}

	// Coalesce with the following neighbor.
	if i+1 < len(a.free) && a.free[i].End() == a.free[i+1].Offset {
		a.free[i].Length += a.free[i+1].Length
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	// Coalesce with the preceding neighbor.
	if i > 0 && a.free[i-1].End() == a.free[i].Offset {
		a.free[i-1].Length += a.free[i].Length
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// Replace reallocates a slot for a new length. When the new content fits
// in the existing slot (or is smaller), the offset is kept stable and any
// tail remainder is released; otherwise the old slot is released and a
// fresh one reserved.
func (a *allocator) Replace(old Slot, newLength int64) Slot {
	if newLength <= old.Length {
		if rem := old.Length - newLength; rem > 0 {
			a.Release(old.Offset+newLength, rem)
		}
		return Slot{Offset: old.Offset, Length: newLength}
	}
	a.Release(old.Offset, old.Length)
	return Slot{Offset: a.Reserve(newLength), Length: newLength}
}

// MoveOp is one step of a compaction plan: copy Length bytes from
// SrcOffset to DstOffset, in order.
type MoveOp struct {
	SrcOffset int64
	Length    int64
	DstOffset int64
}

// CompactionPlan computes the moves needed to pack liveSlots, in the
// order given, with no interior gaps. Applying the moves in order within
// one stream is safe only when liveSlots is sorted ascending by Offset;
// Table.Compact passes the slots in primary-key order and copies them
// into a fresh data file, so it does not depend on that. It resets the
// allocator's free list to the empty tail-only state, since after the
// plan is applied every byte below the new usedEnd is live.
func (a *allocator) CompactionPlan(liveSlots []Slot) ([]MoveOp, int64) {
	var plan []MoveOp
	var dst int64
	for _, s := range liveSlots {
		if s.Offset != dst {
			plan = append(plan, MoveOp{SrcOffset: s.Offset, Length: s.Length, DstOffset: dst})
		}
		dst += s.Length
	}
	a.free = nil
	a.usedEnd = dst
	return plan, dst
}

// UsedEnd returns the current end of the allocated region (the start of
// the implicit tail sentinel).
func (a *allocator) UsedEnd() int64 { return a.usedEnd }

// FreeRanges returns a copy of the interior free list, for serialization
// into the table header (§6 "free ranges").
func (a *allocator) FreeRanges() []freeRange {
	out := make([]freeRange, len(a.free))
	copy(out, a.free)
	return out
}

// setFreeRanges replaces the free list wholesale, used when loading a
// table header on open.
func (a *allocator) setFreeRanges(ranges []freeRange, usedEnd int64) {
	a.free = append([]freeRange(nil), ranges...)
	a.usedEnd = usedEnd
}
