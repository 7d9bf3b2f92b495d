// KeepHistory is a supplemental feature: a table opened with it retains
// the last n superseded slots per key as still-readable history
// entries, grounded on the teacher's History feature (history.go) but
// adapted from the teacher's separate-version-record model to this
// engine's slot model — a superseded slot is simply left un-released
// until it falls off the ring or a compaction discards it, rather than
// written out as a new kind of record.
package codex

// historyEntry is one superseded version of a key: the slot it used to
// occupy and the fingerprint it had, still resolvable against the data
// stream until evicted.
type historyEntry struct {
	Slot        Slot
	Fingerprint uint32
}

// historyLog is the per-table ring of superseded slots. It is mutated
// only while the owning table holds its exclusive lock, matching the
// rest of the in-memory directory's concurrency story.
type historyLog struct {
	depth   int
	entries map[any][]historyEntry
}

func newHistoryLog(depth int) *historyLog {
	return &historyLog{depth: depth, entries: map[any][]historyEntry{}}
}

// push records old as a superseded version of key. When the ring for key
// exceeds depth, the oldest entry's slot is released back to alloc —
// this is the only path by which a history-tracked slot is ever freed
// outside of compaction.
func (h *historyLog) push(key any, old KeyEntry, alloc *allocator) {
	entries := append(h.entries[key], historyEntry{Slot: old.Slot, Fingerprint: old.Fingerprint})
	if over := len(entries) - h.depth; over > 0 {
		for _, e := range entries[:over] {
			alloc.Release(e.Slot.Offset, e.Slot.Length)
		}
		entries = entries[over:]
	}
	h.entries[key] = entries
}

// Versions returns the retained superseded slots for key, oldest first.
func (h *historyLog) Versions(key any) []historyEntry {
	out := h.entries[key]
	cp := make([]historyEntry, len(out))
	copy(cp, out)
	return cp
}

// History returns the retained superseded versions of the entity stored
// under key, oldest first, decoded from their still-resident bytes. It
// does not include the current live version (use LoadByKey for that).
func (t *Table[E]) History(key any) ([]E, error) {
	if t.history == nil {
		return nil, nil
	}
	if err := t.ensureOpen(); err != nil {
		return nil, err
	}
	rs, err := openReadSession(t.lock, t.fs, t.indexName, t.dataName, t.ts, t.config.ReadBuffer)
	if err != nil {
		return nil, err
	}
	defer rs.Release()
	if err := t.ensureLoaded(&rs.readSession); err != nil {
		return nil, err
	}
	versions := t.history.Versions(key)
	out := make([]E, 0, len(versions))
	for _, v := range versions {
		buf, err := rs.readData(v.Slot.Offset, v.Slot.Length)
		if err != nil {
			return nil, err
		}
		ePtr, err := t.schema.Decode(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, *(ePtr.(*E)))
	}
	return out, nil
}

// KeepHistory enables retention of the last n superseded versions per
// key on this table. Passing n <= 0 disables retention again.
func (t *Table[E]) KeepHistory(n int) *Table[E] {
	t.loadMu.Lock()
	defer t.loadMu.Unlock()
	if n <= 0 {
		t.history = nil
		return t
	}
	t.history = newHistoryLog(n)
	return t
}
