package medcompanion

import (
	"fmt"
	"strings"
)

// Cache key layout. Each cached document owns exactly two keys in the cache
// directory, both named after the path hash.

const (
	// TextExt is the extension of the extracted text blob.
	TextExt = ".txt"
	// SidecarExt is the extension of the metadata sidecar.
	SidecarExt = ".json"
)

// TextKey returns the backend key of the extracted text for h.
// Format: {hex}.txt
func TextKey(h Hash) string {
	return h.String() + TextExt
}

// SidecarKey returns the backend key of the metadata sidecar for h.
// Format: {hex}.json
func SidecarKey(h Hash) string {
	return h.String() + SidecarExt
}

// ParseCacheKey extracts the hash and the extension from a cache key.
// Only the two extensions of the layout are accepted.
func ParseCacheKey(key string) (Hash, string, error) {
	var ext string
	switch {
	case strings.HasSuffix(key, TextExt):
		ext = TextExt
	case strings.HasSuffix(key, SidecarExt):
		ext = SidecarExt
	default:
		return Hash{}, "", fmt.Errorf("invalid cache key extension: %s", key)
	}
	if strings.Contains(key, "/") {
		return Hash{}, "", fmt.Errorf("invalid cache key format: %s", key)
	}
	h, err := ParseHash(strings.TrimSuffix(key, ext))
	if err != nil {
		return Hash{}, "", fmt.Errorf("invalid hash in cache key %q: %w", key, err)
	}
	return h, ext, nil
}
