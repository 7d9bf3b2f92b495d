// Package codex is an embedded, in-process database engine that persists
// typed entity collections ("tables") to local storage. Each table is a
// pair of files — an index stream and a data stream — in a schema
// directory, and supports primary-key lookup, secondary-index range
// queries, bulk-write transactions and online compaction.
//
// codex has no server, no query language and no cross-table transactions:
// it is a library for applications that want SQLite-class persistence
// without installing SQLite.
package codex

import "errors"

// Sentinel errors returned by engine operations. Use errors.Is to test
// for a specific kind; wrapped errors (fmt.Errorf("%w: ...")) carry
// additional context without losing the sentinel identity.
var (
	// ErrIoFailure wraps an underlying filesystem call that failed.
	// The in-flight write is abandoned, the lock released, and the
	// in-memory key directory rolled back to the entry snapshot.
	ErrIoFailure = errors.New("codex: io failure")

	// ErrSchemaMismatch is returned when the on-disk type ids or
	// version disagree with the declared schema. Surfaced on the first
	// access to the table (Initialize does not read index streams);
	// there is no automatic migration.
	ErrSchemaMismatch = errors.New("codex: schema mismatch")

	// ErrUnknownType is returned when serialization is requested for
	// a type with no registered codec. Fatal at the call site; no
	// state change occurs.
	ErrUnknownType = errors.New("codex: unknown type")

	// ErrKeyConflict is returned by Insert when the entity's primary
	// key already exists and the table's key is not auto-increment.
	// Save never returns it: Save always upserts an existing key.
	ErrKeyConflict = errors.New("codex: key conflict")

	// ErrQuotaExceeded is returned by Save and Insert when an entity's
	// encoded size exceeds Config.MaxRecordSize. A filesystem
	// out-of-space condition is not mapped to it; it surfaces as the
	// failing write's error (ErrIoFailure for data and index writes).
	ErrQuotaExceeded = errors.New("codex: quota exceeded")

	// ErrUsageError is returned for invalid calls: a user type id below
	// FirstUserType, registering a type after the registry is frozen,
	// registering a table after Initialize or twice, an unknown table
	// or index name, an entity that fails to encode, and a session
	// released twice. Keys are not checked for nil, and a negative
	// allocation length panics instead of returning this error.
	ErrUsageError = errors.New("codex: usage error")

	// ErrCorruption is returned when the header magic is wrong, a
	// stored record or index entry cannot be decoded, or a slot
	// extends past the data stream length. Stored content fingerprints
	// are not re-checked against the bytes read on load. The table is
	// unreadable until purged or repaired.
	ErrCorruption = errors.New("codex: corruption")

	// ErrNotFound is returned by Rekey when the old key does not
	// exist. LoadByKey and DeleteByKey report a missing key through
	// their bool result instead.
	ErrNotFound = errors.New("codex: not found")

	// ErrClosed is returned when a session is requested on a table
	// whose lock was closed by dispose (Instance.Close or
	// Instance.Purge) after the operation began. A table handle used
	// after dispose or purge is reopened by its next operation rather
	// than failing with ErrClosed.
	ErrClosed = errors.New("codex: closed")

	// ErrExists is returned by Rekey when the destination key is
	// already occupied.
	ErrExists = errors.New("codex: key already exists")
)
