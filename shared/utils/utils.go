package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// HashContent returns the hex sha256 of content. It is the hash callers pass
// back as expected_hash.
func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
