// Package simhash produces locality-sensitive 64-bit fingerprints of document
// text. Near-duplicate documents hash to fingerprints with a small Hamming
// distance, so downstream caches and dedup layers can compare documents
// without storing their text.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// shingleSize is the token-window width. Word bigrams keep some ordering
// signal, which single-word hashing loses on reshuffled boilerplate.
const shingleSize = 2

// Fingerprint computes the 64-bit simhash of text. Tokens are lower-cased
// word shingles hashed with FNV-64a and accumulated into a bit vector.
// Empty or whitespace-only text maps to 0.
func Fingerprint(text string) uint64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	var vector [64]int
	accumulate := func(token string) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	if len(words) < shingleSize {
		accumulate(words[0])
	} else {
		for i := 0; i+shingleSize <= len(words); i++ {
			accumulate(strings.Join(words[i:i+shingleSize], " "))
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether two fingerprints are within threshold bits of each
// other.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}
