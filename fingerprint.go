// Content fingerprinting for change detection.
//
// Every key entry carries a 32-bit fingerprint of its serialized bytes
// (§3 "Key entry"). Save short-circuits to Unchanged when the new bytes'
// fingerprint equals the stored one, without a byte-for-byte compare.
//
// Unlike the teacher's hash.go — which hashes a label to pick a 16-hex
// document ID — this hash never determines identity, only equality, and
// wider hashes are truncated to 32 bits. No byte-for-byte compare backs
// it up: if two different encodings collide, Save reports Unchanged and
// does not write the new bytes.
//
// REDESIGN FLAG (spec.md §9, open question): the source hash was not
// endian-normalized. fingerprint hashes the serialized byte stream
// directly — never host-ordered words — so files are portable across
// architectures.
package codex

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// fingerprint returns a 32-bit hash of data using the algorithm selected
// by alg. Unknown alg values fall back to AlgXXHash3.
func fingerprint(data []byte, alg int) uint32 {
	switch alg {
	case AlgFNV1a:
		h := fnv.New32a()
		h.Write(data)
		return h.Sum32()
	case AlgBlake2b:
		sum := blake2b.Sum256(data)
		return binary.LittleEndian.Uint32(sum[:4])
	default:
		// xxh3.Hash returns 64 bits computed over the byte stream
		// (not host words), so truncation keeps the result portable.
		full := xxh3.Hash(data)
		return uint32(full)
	}
}
