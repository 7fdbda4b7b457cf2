package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeterministicID hashes the given parts into a stable hex identifier. The
// same parts in the same order always produce the same id; it is the building
// block for idempotency keys and close-event ids.
func DeterministicID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ShortID returns the first n characters of a DeterministicID over parts.
// Useful where the consumer caps identifier length (exchange client order
// ids are limited to 36 characters).
func ShortID(n int, parts ...string) string {
	id := DeterministicID(parts...)
	if n > 0 && n < len(id) {
		return id[:n]
	}
	return id
}
