// Table storage: the per-entity-type façade over index/data streams,
// the allocator, and the key directory (§4.2, §4.3). This is the
// replacement for the teacher's record.go/get.go/delete.go/scan.go —
// same responsibilities (load, save, delete, scan), rebuilt around a
// binary slot model instead of JSON lines.
package codex

import (
	"fmt"
	"sync"
)

// SaveResult reports what Table.Save actually did (§4.3 "save").
type SaveResult int

const (
	Inserted SaveResult = iota
	Updated
	Unchanged
)

func (r SaveResult) String() string {
	switch r {
	case Inserted:
		return "Inserted"
	case Updated:
		return "Updated"
	case Unchanged:
		return "Unchanged"
	default:
		return "unknown"
	}
}

// tableState mirrors §4.6's per-table state machine.
type tableState int

const (
	tableUnopened tableState = iota
	tableOpen
	tablePurged
)

// Table is one entity type's storage: index + data stream, in-memory
// key directory, and the free-list allocator (§4.2).
type Table[E any] struct {
	name      string
	schema    *TableSchema
	fs        *fileSystem
	config    Config
	indexName string
	dataName  string

	lock *tableLock

	stateMu sync.Mutex
	state   tableState

	loadMu      sync.Mutex
	loaded      bool
	primary     *primaryIndex
	secondaries []*secondaryIndex
	alloc       *allocator
	ts          int64
	autoInc     int64

	writeMu     sync.Mutex
	activeWrite *writeSession
	writeDepth  int

	history *historyLog
}

func openTable[E any](fs *fileSystem, name string, schema *TableSchema, config Config) *Table[E] {
	t := &Table[E]{
		name:      name,
		schema:    schema,
		fs:        fs,
		config:    config,
		indexName: name + ".index",
		dataName:  name + ".data",
		lock:      newTableLock(),
		state:     tableUnopened,
	}
	if config.HistoryDepth > 0 {
		t.history = newHistoryLog(config.HistoryDepth)
	}
	return t
}

func (t *Table[E]) ensureOpen() error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	switch t.state {
	case tableUnopened:
		t.lock.Reopen()
		t.state = tableOpen
	case tablePurged:
		t.lock.Reopen()
		t.state = tableOpen
		t.loadMu.Lock()
		t.loaded = false
		t.loadMu.Unlock()
	case tableOpen:
	}
	return nil
}

// dispose transitions Open -> Unopened (§4.6), releasing in-memory
// state. Callers must ensure no session is in flight.
func (t *Table[E]) dispose() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.lock.Close()
	t.state = tableUnopened
	t.loadMu.Lock()
	t.loaded = false
	t.loadMu.Unlock()
}

// disposeHandle, rebind, and compactHandle satisfy tableHandle, letting
// the instance manager operate on tables of different entity types
// uniformly (instance.go).
func (t *Table[E]) disposeHandle() { t.dispose() }

func (t *Table[E]) rebind(fs *fileSystem) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.fs = fs
	t.state = tableUnopened
}

func (t *Table[E]) compactHandle() error { return t.Compact() }

func (t *Table[E]) ensureLoaded(rs *readSession) error {
	t.loadMu.Lock()
	defer t.loadMu.Unlock()
	if t.loaded {
		return nil
	}
	blob, err := rs.readIndex()
	if err != nil {
		return err
	}
	if blob == nil {
		t.primary = newPrimaryIndex(t.schema.KeyCompare)
		t.secondaries = make([]*secondaryIndex, len(t.schema.Indexes))
		for i, def := range t.schema.Indexes {
			t.secondaries[i] = newSecondaryIndex(def, t.schema.KeyCompare)
		}
		t.alloc = newAllocator(0)
		t.loaded = true
		return nil
	}
	dec, err := decodeIndex(blob, t.schema)
	if err != nil {
		return err
	}
	t.primary = dec.primary
	t.secondaries = dec.secondaries
	t.alloc = newAllocator(dec.usedEnd)
	t.alloc.setFreeRanges(dec.free, dec.usedEnd)
	t.ts = rs.ts
	for _, k := range t.primary.Keys() {
		var n int64
		switch v := k.(type) {
		case int64:
			n = v
		case int32:
			n = int64(v)
		}
		if n > t.autoInc {
			t.autoInc = n
		}
	}
	t.loaded = true
	return nil
}

// LoadByKey returns the entity stored under key, if present (§4.3
// "load_by_key").
func (t *Table[E]) LoadByKey(key any) (E, bool, error) {
	var zero E
	if err := t.ensureOpen(); err != nil {
		return zero, false, err
	}
	rs, err := openReadSession(t.lock, t.fs, t.indexName, t.dataName, t.ts, t.config.ReadBuffer)
	if err != nil {
		return zero, false, err
	}
	defer rs.Release()
	if err := t.ensureLoaded(&rs.readSession); err != nil {
		return zero, false, err
	}
	entry, ok := t.primary.Get(key)
	if !ok {
		return zero, false, nil
	}
	buf, err := rs.readData(entry.Slot.Offset, entry.Slot.Length)
	if err != nil {
		return zero, false, err
	}
	ePtr, err := t.schema.Decode(buf)
	if err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return *(ePtr.(*E)), true, nil
}

// LoadAll returns every entity in primary-key order (§4.3 "load_all").
func (t *Table[E]) LoadAll() ([]E, error) {
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
	keys := t.primary.Keys()
	out := make([]E, 0, len(keys))
	for _, k := range keys {
		entry, _ := t.primary.Get(k)
		buf, err := rs.readData(entry.Slot.Offset, entry.Slot.Length)
		if err != nil {
			return nil, err
		}
		ePtr, err := t.schema.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
		}
		out = append(out, *(ePtr.(*E)))
	}
	return out, nil
}

// withWrite runs fn under an exclusive session, rewriting the index once
// on success and rolling the in-memory directory back on failure (§4.5).
// A nested call from within an already-active write (same goroutine, via
// BulkWrite) reuses the outer session instead of opening a new one.
func (t *Table[E]) withWrite(fn func(*writeSession) error) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}

	t.writeMu.Lock()
	if t.activeWrite != nil {
		ws := t.activeWrite
		t.writeDepth++
		t.writeMu.Unlock()
		err := fn(ws)
		t.writeMu.Lock()
		t.writeDepth--
		t.writeMu.Unlock()
		return err
	}
	t.writeMu.Unlock()

	ws, err := openWriteSession(t.lock, t.fs, t.indexName, t.dataName, t.ts, t.config.ReadBuffer, t.config.SyncWrites)
	if err != nil {
		return err
	}
	if err := t.ensureLoaded(&ws.readSession); err != nil {
		ws.Release()
		return err
	}

	snapPrimary := t.primary.Snapshot()
	snapFree := append([]freeRange(nil), t.alloc.FreeRanges()...)
	snapUsedEnd := t.alloc.UsedEnd()
	snapSecondaries := snapshotSecondaries(t.secondaries)
	snapAutoInc := t.autoInc

	t.writeMu.Lock()
	t.activeWrite = ws
	t.writeDepth = 1
	t.writeMu.Unlock()

	bodyErr := fn(ws)

	t.writeMu.Lock()
	t.activeWrite = nil
	t.writeDepth = 0
	t.writeMu.Unlock()

	rollback := func() {
		t.primary = snapPrimary
		t.secondaries = snapSecondaries
		t.alloc.setFreeRanges(snapFree, snapUsedEnd)
		t.autoInc = snapAutoInc
	}

	if bodyErr != nil {
		rollback()
		ws.Release()
		return bodyErr
	}

	blob, err := encodeIndex(t.schema, t.alloc, t.primary, t.secondaries)
	if err != nil {
		rollback()
		ws.Release()
		return err
	}
	if err := ws.writeIndex(blob); err != nil {
		rollback()
		ws.Release()
		return err
	}
	t.ts = ws.ts
	return ws.Release()
}

func snapshotSecondaries(in []*secondaryIndex) []*secondaryIndex {
	out := make([]*secondaryIndex, len(in))
	for i, s := range in {
		cp := newSecondaryIndex(s.def, s.keyCmp)
		cp.values = append([]any(nil), s.values...)
		cp.buckets = make([][]any, len(s.buckets))
		for j, b := range s.buckets {
			cp.buckets[j] = append([]any(nil), b...)
		}
		out[i] = cp
	}
	return out
}

func isZeroKey(v any) bool {
	if v == nil {
		return true
	}
	switch n := v.(type) {
	case int64:
		return n == 0
	case int32:
		return n == 0
	case string:
		return n == ""
	default:
		return false
	}
}

// Save inserts or updates e, returning Inserted, Updated, or Unchanged
// when the serialized bytes are identical to what's stored (§4.3
// "save"). An existing key is always treated as an update, even when
// the caller supplied it explicitly rather than relying on
// auto-increment; use Insert to reject an explicit-key collision.
func (t *Table[E]) Save(e E) (SaveResult, error) {
	return t.save(e, false)
}

// Insert adds e as a new entity, returning Inserted. If the table's key
// is not auto-increment and e's key already exists, it returns
// ErrKeyConflict and leaves the table unchanged (§7 "KeyConflict").
// Auto-increment keys never conflict: a zero key is always assigned a
// fresh value.
func (t *Table[E]) Insert(e E) (SaveResult, error) {
	return t.save(e, true)
}

func (t *Table[E]) save(e E, insertOnly bool) (SaveResult, error) {
	result := Unchanged
	err := t.withWrite(func(ws *writeSession) error {
		ePtr := any(&e)
		key := t.schema.GetKey(ePtr)
		if t.schema.AutoInc && isZeroKey(key) {
			t.autoInc++
			if t.schema.KeyTypeID == TypeInt32 {
				key = int32(t.autoInc)
			} else {
				key = t.autoInc
			}
			t.schema.SetKey(ePtr, key)
		}

		existing, exists := t.primary.Get(key)
		if insertOnly && exists && !t.schema.AutoInc {
			return fmt.Errorf("%w: %v", ErrKeyConflict, key)
		}

		encoded, err := t.schema.Encode(ePtr, t.config.CompressThreshold)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUsageError, err)
		}
		if t.config.MaxRecordSize > 0 && len(encoded) > t.config.MaxRecordSize {
			return ErrQuotaExceeded
		}
		fp := fingerprint(encoded, t.config.HashAlgorithm)

		if exists && existing.Fingerprint == fp {
			return nil
		}

		var oldPtr any
		if exists {
			oldBytes, err := ws.readData(existing.Slot.Offset, existing.Slot.Length)
			if err != nil {
				return err
			}
			oldPtr, err = t.schema.Decode(oldBytes)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorruption, err)
			}
		}

		var slot Slot
		switch {
		case exists && t.history != nil:
			// Keep the superseded slot readable instead of reusing or
			// releasing it immediately (§ supplemental KeepHistory).
			slot = Slot{Offset: t.alloc.Reserve(int64(len(encoded))), Length: int64(len(encoded))}
			t.history.push(key, existing, t.alloc)
		case exists:
			slot = t.alloc.Replace(existing.Slot, int64(len(encoded)))
		default:
			slot = Slot{Offset: t.alloc.Reserve(int64(len(encoded))), Length: int64(len(encoded))}
		}
		if err := ws.writeData(encoded, slot.Offset); err != nil {
			return err
		}
		t.primary.Put(key, KeyEntry{Slot: slot, Fingerprint: fp})

		for i, def := range t.schema.Indexes {
			newVal := def.Get(ePtr)
			if exists {
				oldVal := def.Get(oldPtr)
				t.secondaries[i].Update(oldVal, newVal, key)
			} else {
				t.secondaries[i].Add(newVal, key)
			}
		}

		if exists {
			result = Updated
		} else {
			result = Inserted
		}
		return nil
	})
	return result, err
}

// DeleteByKey removes the entity stored under key, returning whether it
// was present (§4.3 "delete_by_key").
func (t *Table[E]) DeleteByKey(key any) (bool, error) {
	var removed bool
	err := t.withWrite(func(ws *writeSession) error {
		entry, ok := t.primary.Get(key)
		if !ok {
			return nil
		}
		var ePtr any
		if len(t.schema.Indexes) > 0 {
			buf, err := ws.readData(entry.Slot.Offset, entry.Slot.Length)
			if err != nil {
				return err
			}
			ePtr, err = t.schema.Decode(buf)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorruption, err)
			}
		}
		for i, def := range t.schema.Indexes {
			t.secondaries[i].Remove(def.Get(ePtr), key)
		}
		if t.history != nil {
			t.history.push(key, entry, t.alloc)
		} else {
			t.alloc.Release(entry.Slot.Offset, entry.Slot.Length)
		}
		t.primary.Delete(key)
		removed = true
		return nil
	})
	return removed, err
}

// Purge truncates both streams to zero and clears the in-memory
// directory (§4.2 "purge").
func (t *Table[E]) Purge() error {
	return t.withWrite(func(ws *writeSession) error {
		if err := ws.purge(); err != nil {
			return err
		}
		t.primary = newPrimaryIndex(t.schema.KeyCompare)
		t.secondaries = make([]*secondaryIndex, len(t.schema.Indexes))
		for i, def := range t.schema.Indexes {
			t.secondaries[i] = newSecondaryIndex(def, t.schema.KeyCompare)
		}
		t.alloc = newAllocator(0)
		t.autoInc = 0
		return nil
	})
}

// Compact reclaims fragmented free space: it copies every live record
// contiguously into a fresh data file and rewrites the index with the
// new offsets (§4.4, §4.2 "Compact session").
func (t *Table[E]) Compact() error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	cs, err := openCompactSession(t.lock, t.fs, t.indexName, t.dataName, t.ts, t.config.ReadBuffer, t.config.SyncWrites)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			cs.Release()
		}
	}()

	blob, err := cs.readIndex()
	if err != nil {
		return err
	}
	if blob == nil {
		if err := cs.commit(); err != nil {
			return err
		}
		committed = true
		return cs.Release()
	}
	dec, err := decodeIndex(blob, t.schema)
	if err != nil {
		return err
	}

	keys := dec.primary.Keys()
	slots := make([]Slot, len(keys))
	for i, k := range keys {
		e, _ := dec.primary.Get(k)
		slots[i] = e.Slot
	}

	alloc := newAllocator(dec.usedEnd)
	alloc.setFreeRanges(dec.free, dec.usedEnd)
	plan, newUsedEnd := alloc.CompactionPlan(slots)

	planned := map[int64]int64{}
	for _, mv := range plan {
		planned[mv.SrcOffset] = mv.DstOffset
	}
	var dst int64
	for _, k := range keys {
		e, _ := dec.primary.Get(k)
		newOffset := dst
		if d, ok := planned[e.Slot.Offset]; ok {
			newOffset = d
		}
		buf, err := cs.readSide(e.Slot.Offset, e.Slot.Length)
		if err != nil {
			return err
		}
		if err := cs.writeFresh(buf, newOffset); err != nil {
			return err
		}
		dec.primary.Put(k, KeyEntry{Slot: Slot{Offset: newOffset, Length: e.Slot.Length}, Fingerprint: e.Fingerprint})
		dst += e.Slot.Length
	}
	_ = newUsedEnd

	newBlob, err := encodeIndex(t.schema, alloc, dec.primary, dec.secondaries)
	if err != nil {
		return err
	}
	if err := cs.writeIndex(newBlob); err != nil {
		return err
	}
	if err := cs.commit(); err != nil {
		return err
	}
	committed = true

	t.loadMu.Lock()
	t.primary = dec.primary
	t.secondaries = dec.secondaries
	t.alloc = alloc
	t.ts = cs.ts
	t.loaded = true
	if t.history != nil {
		t.history = newHistoryLog(t.history.depth)
	}
	t.loadMu.Unlock()

	return cs.Release()
}

// IndexQuery returns a range-query cursor over the named secondary index
// (§4.3 "index_query"). Returns ErrUsageError if no index by that name
// was declared.
func (t *Table[E]) IndexQuery(name string) (*IndexQuery[E], error) {
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
	for i, def := range t.schema.Indexes {
		if def.Name == name {
			return newIndexQuery(t, t.secondaries[i]), nil
		}
	}
	return nil, fmt.Errorf("%w: no index named %q", ErrUsageError, name)
}

// BulkWrite opens one write session, runs action, and rewrites the index
// once at the end (§4.5). Calls to Save/Delete/Rekey made from within
// action, on this table, reuse the same session.
func (t *Table[E]) BulkWrite(action func() error) error {
	return t.withWrite(func(ws *writeSession) error {
		return action()
	})
}
