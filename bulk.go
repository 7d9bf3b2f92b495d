// bulk_read: groups multiple reads under one shared-lock session so
// they observe the same snapshot (§4.3 "Loading" / §5 "ordering
// guarantees"). Table.BulkWrite (table.go's withWrite) is bulk_write's
// implementation; this file is its read-side counterpart.
package codex

import "fmt"

// ReadTx exposes the same query surface as Table, but scoped to one
// already-open read session — every call observes the same ts snapshot.
type ReadTx[E any] struct {
	t  *Table[E]
	rs *readSession
}

// LoadByKey returns the entity stored under key, if present.
func (tx *ReadTx[E]) LoadByKey(key any) (E, bool, error) {
	var zero E
	entry, ok := tx.t.primary.Get(key)
	if !ok {
		return zero, false, nil
	}
	buf, err := tx.rs.readData(entry.Slot.Offset, entry.Slot.Length)
	if err != nil {
		return zero, false, err
	}
	ePtr, err := tx.t.schema.Decode(buf)
	if err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return *(ePtr.(*E)), true, nil
}

// LoadAll returns every entity in primary-key order.
func (tx *ReadTx[E]) LoadAll() ([]E, error) {
	keys := tx.t.primary.Keys()
	out := make([]E, 0, len(keys))
	for _, k := range keys {
		e, ok, err := tx.LoadByKey(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// IndexQuery returns a cursor over the named secondary index, resolved
// against this transaction's snapshot.
func (tx *ReadTx[E]) IndexQuery(name string) (*IndexQuery[E], error) {
	for i, def := range tx.t.schema.Indexes {
		if def.Name == name {
			return newIndexQuery(tx.t, tx.t.secondaries[i]), nil
		}
	}
	return nil, fmt.Errorf("%w: no index named %q", ErrUsageError, name)
}

// BulkRead opens one read session and runs action against it, so every
// call made through tx sees a consistent snapshot (§4.3).
func (t *Table[E]) BulkRead(action func(tx *ReadTx[E]) error) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	rs, err := openReadSession(t.lock, t.fs, t.indexName, t.dataName, t.ts, t.config.ReadBuffer)
	if err != nil {
		return err
	}
	defer rs.Release()
	if err := t.ensureLoaded(&rs.readSession); err != nil {
		return err
	}
	return action(&ReadTx[E]{t: t, rs: rs})
}
