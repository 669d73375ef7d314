// Package merkle folds an ordered digest sequence into a single root.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

// NoRoot is returned for an empty sequence.
const NoRoot = ""

// Root pairs adjacent digests left to right and hashes their concatenation
// until one remains. Children are concatenated as hex text, and an odd
// trailing element is paired with itself. Both rules are part of the stored
// root format and must not change.
func Root(digests []string) string {
	if len(digests) == 0 {
		return NoRoot
	}

	level := make([]string, len(digests))
	copy(level, digests)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}
	return level[0]
}

func hashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left))
	h.Write([]byte(right))
	return hex.EncodeToString(h.Sum(nil))
}
