// In-memory key directory: the primary index and secondary indexes held
// for a table's lifetime (§4.3). Both are backed by ordered slices rather
// than a tree — the spec targets small-to-medium datasets (§1), so O(n)
// insertion with O(log n) lookup via binary search is the right tradeoff
// against the complexity of a balanced tree, and it keeps iteration (for
// load_all and range scans) a simple slice walk.
package codex

import "sort"

// primaryIndex is the ordered map from primary key to key entry (§3
// "Primary index"). Keys are unique and iterate in their natural order.
type primaryIndex struct {
	cmp     Comparator
	keys    []any
	entries map[any]KeyEntry
}

func newPrimaryIndex(cmp Comparator) *primaryIndex {
	return &primaryIndex{cmp: cmp, entries: map[any]KeyEntry{}}
}

func (p *primaryIndex) search(key any) int {
	return sort.Search(len(p.keys), func(i int) bool { return p.cmp(p.keys[i], key) >= 0 })
}

// Get returns the entry for key, if present.
func (p *primaryIndex) Get(key any) (KeyEntry, bool) {
	e, ok := p.entries[key]
	return e, ok
}

// Put inserts or updates the entry for key. Returns true if key already
// existed.
func (p *primaryIndex) Put(key any, e KeyEntry) bool {
	_, existed := p.entries[key]
	p.entries[key] = e
	if !existed {
		i := p.search(key)
		p.keys = append(p.keys, nil)
		copy(p.keys[i+1:], p.keys[i:])
		p.keys[i] = key
	}
	return existed
}

// Delete removes the entry for key, if present.
func (p *primaryIndex) Delete(key any) (KeyEntry, bool) {
	e, ok := p.entries[key]
	if !ok {
		return KeyEntry{}, false
	}
	delete(p.entries, key)
	i := p.search(key)
	if i < len(p.keys) && p.keys[i] == key {
		p.keys = append(p.keys[:i], p.keys[i+1:]...)
	}
	return e, true
}

// Len returns the number of live entries.
func (p *primaryIndex) Len() int { return len(p.keys) }

// Keys returns a copy of the keys in primary-key order.
func (p *primaryIndex) Keys() []any {
	out := make([]any, len(p.keys))
	copy(out, p.keys)
	return out
}

// Slots returns the live slots in primary-key order, the shape the
// allocator's CompactionPlan expects. Callers needing contiguous byte
// order (compaction) must sort the result by Offset separately.
func (p *primaryIndex) Slots() []Slot {
	out := make([]Slot, len(p.keys))
	for i, k := range p.keys {
		out[i] = p.entries[k].Slot
	}
	return out
}

// Snapshot returns a deep-enough copy for rollback on a failed bulk write
// (§4.5 "Failure policy").
func (p *primaryIndex) Snapshot() *primaryIndex {
	cp := &primaryIndex{cmp: p.cmp, keys: append([]any(nil), p.keys...), entries: make(map[any]KeyEntry, len(p.entries))}
	for k, v := range p.entries {
		cp.entries[k] = v
	}
	return cp
}

// secondaryIndex is a named, ordered value -> set<primary key> multimap
// (§3 "Secondary index"). Null values sort as a distinct lowest element.
type secondaryIndex struct {
	def     IndexDef
	keyCmp  Comparator // orders primary keys within a value's bucket
	values  []any      // sorted ascending by def.Comparator
	buckets [][]any    // buckets[i] holds the primary keys for values[i], sorted by keyCmp
}

func newSecondaryIndex(def IndexDef, keyCmp Comparator) *secondaryIndex {
	return &secondaryIndex{def: def, keyCmp: keyCmp}
}

func (s *secondaryIndex) idxGE(v any) int {
	return sort.Search(len(s.values), func(i int) bool { return s.def.Comparator(s.values[i], v) >= 0 })
}

func (s *secondaryIndex) idxGT(v any) int {
	return sort.Search(len(s.values), func(i int) bool { return s.def.Comparator(s.values[i], v) > 0 })
}

// Add inserts key into the bucket for value, creating the bucket if
// needed. A key already present in the bucket is not duplicated.
func (s *secondaryIndex) Add(value any, key any) {
	i := s.idxGE(value)
	if i >= len(s.values) || s.def.Comparator(s.values[i], value) != 0 {
		s.values = append(s.values, nil)
		copy(s.values[i+1:], s.values[i:])
		s.values[i] = value
		s.buckets = append(s.buckets, nil)
		copy(s.buckets[i+1:], s.buckets[i:])
		s.buckets[i] = nil
	}
	bucket := s.buckets[i]
	j := sort.Search(len(bucket), func(k int) bool { return s.keyCmp(bucket[k], key) >= 0 })
	if j < len(bucket) && bucket[j] == key {
		return
	}
	bucket = append(bucket, nil)
	copy(bucket[j+1:], bucket[j:])
	bucket[j] = key
	s.buckets[i] = bucket
}

// Remove deletes key from the bucket for value, dropping the bucket
// entirely if it becomes empty.
func (s *secondaryIndex) Remove(value any, key any) {
	i := s.idxGE(value)
	if i >= len(s.values) || s.def.Comparator(s.values[i], value) != 0 {
		return
	}
	bucket := s.buckets[i]
	j := sort.Search(len(bucket), func(k int) bool { return s.keyCmp(bucket[k], key) >= 0 })
	if j >= len(bucket) || bucket[j] != key {
		return
	}
	bucket = append(bucket[:j], bucket[j+1:]...)
	if len(bucket) == 0 {
		s.values = append(s.values[:i], s.values[i+1:]...)
		s.buckets = append(s.buckets[:i], s.buckets[i+1:]...)
	} else {
		s.buckets[i] = bucket
	}
}

// Update moves key from oldValue's bucket to newValue's bucket, a no-op
// when the values compare equal.
func (s *secondaryIndex) Update(oldValue, newValue any, key any) {
	if s.def.Comparator(oldValue, newValue) == 0 {
		return
	}
	s.Remove(oldValue, key)
	s.Add(newValue, key)
}

// Keys returns every primary key referenced by this index, for the
// "referenced set equals primary map" invariant (§8).
func (s *secondaryIndex) Keys() []any {
	var out []any
	for _, b := range s.buckets {
		out = append(out, b...)
	}
	return out
}
