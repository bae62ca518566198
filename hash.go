// Package medcompanion holds the identifiers shared by the artifact cache and
// the series converter: the BLAKE3 hash type and the cache key layout.
package medcompanion

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a BLAKE3 digest in bytes.
const HashSize = 32

// Hash identifies a cached document.
type Hash [HashSize]byte

// String returns the lowercase hex form used in cache file names.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns the first 16 hex characters, for logs.
func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:8])
}

// ParseHash parses the hex form produced by String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return Hash{}, fmt.Errorf("invalid hash length: expected %d hex chars, got %d", HashSize*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// HashBytes computes the BLAKE3 hash of data.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// HashPath computes the cache identity of a source document: the BLAKE3 hash
// of its absolute, cleaned path string. The document contents are not read,
// so the same path always maps to the same key across process runs.
func HashPath(path string) (Hash, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Hash{}, fmt.Errorf("resolving path %q: %w", path, err)
	}
	return HashBytes([]byte(abs)), nil
}
