package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Uint64 folds the first eight bytes of a sha256 over the parts into an
// integer. Used for RNG stream seeds and advisory lock keys.
func Uint64(parts ...string) uint64 {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// AdvisoryKey returns the bigint key for pg_advisory_xact_lock scoped to one
// namespace and resource id.
func AdvisoryKey(namespace, id string) int64 {
	return int64(Uint64(namespace, id))
}
