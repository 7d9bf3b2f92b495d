package codex

// Fingerprint algorithm selectors. Mirrors the teacher's hash-algorithm
// switch, but here the hash is used only for the change-detection
// fingerprint (§3 "Key entry"), never for key identity — keys are
// compared directly under their natural ordering.
const (
	AlgXXHash3 = 1 // default: fastest, used by zeebo/xxh3
	AlgFNV1a   = 2 // dependency-free fallback (hash/fnv)
	AlgBlake2b = 3 // best distribution, golang.org/x/crypto/blake2b
)

// Config holds per-table configuration. The zero value is valid; Open
// fills in defaults for any unset field.
type Config struct {
	// HashAlgorithm selects the fingerprint algorithm used to detect
	// no-op updates (§3, §4.1). Default AlgXXHash3.
	HashAlgorithm int

	// ReadBuffer sizes the buffered reader used when the index stream
	// is read in one call (§4.3 "Loading"). Default 64KB.
	ReadBuffer int

	// MaxRecordSize bounds the largest single serialized entity Save
	// and Insert accept; a larger one is rejected with ErrQuotaExceeded.
	// Default 16MB.
	MaxRecordSize int

	// SyncWrites calls fsync after every data and index write. Off by
	// default; callers needing durability per write should set it,
	// accepting the latency cost the teacher's compress.go comment
	// warns about for the analogous case.
	SyncWrites bool

	// CompressThreshold is the length, in bytes, above which the codec
	// zstd-compresses a string-typed field (a field of exactly this
	// length is stored uncompressed)
	// (domain-stack wiring for github.com/klauspost/compress/zstd,
	// grounded on the teacher's compress.go). Zero disables
	// compression. Default 0 (off) — most entities are small enough
	// that compression overhead would dominate; callers storing large
	// blobs opt in explicitly.
	CompressThreshold int

	// HistoryDepth, when non-zero, keeps the last N superseded slots
	// per key as read-only history entries instead of immediately
	// releasing them to the allocator (see history.go). Default 0.
	HistoryDepth int
}

func (c Config) withDefaults() Config {
	if c.HashAlgorithm == 0 {
		c.HashAlgorithm = AlgXXHash3
	}
	if c.ReadBuffer == 0 {
		c.ReadBuffer = 64 * 1024
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = 16 * 1024 * 1024
	}
	return c
}
