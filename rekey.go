// Rekey is a typed-table analogue of the teacher's label rename
// (rename.go): move an entity from one primary key to another under a
// single lock hold, rather than a manual load/save/delete round trip.
package codex

import "fmt"

// Rekey moves the entity stored under oldKey to newKey. Returns
// ErrNotFound if oldKey does not exist, ErrExists if newKey already
// does. Secondary index entries move with it; history, if enabled,
// stays addressed by oldKey's retained slots and is not carried to
// newKey (those versions belong to the old identity).
func (t *Table[E]) Rekey(oldKey, newKey any) error {
	return t.withWrite(func(ws *writeSession) error {
		entry, ok := t.primary.Get(oldKey)
		if !ok {
			return fmt.Errorf("%w: %v", ErrNotFound, oldKey)
		}
		if _, exists := t.primary.Get(newKey); exists {
			return fmt.Errorf("%w: %v", ErrExists, newKey)
		}

		buf, err := ws.readData(entry.Slot.Offset, entry.Slot.Length)
		if err != nil {
			return err
		}
		ePtr, err := t.schema.Decode(buf)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, err)
		}
		t.schema.SetKey(ePtr, newKey)
		encoded, err := t.schema.Encode(ePtr, t.config.CompressThreshold)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUsageError, err)
		}
		fp := fingerprint(encoded, t.config.HashAlgorithm)

		slot := t.alloc.Replace(entry.Slot, int64(len(encoded)))
		if err := ws.writeData(encoded, slot.Offset); err != nil {
			return err
		}

		t.primary.Delete(oldKey)
		t.primary.Put(newKey, KeyEntry{Slot: slot, Fingerprint: fp})

		for i, def := range t.schema.Indexes {
			v := def.Get(ePtr)
			t.secondaries[i].Remove(v, oldKey)
			t.secondaries[i].Add(v, newKey)
		}
		return nil
	})
}
