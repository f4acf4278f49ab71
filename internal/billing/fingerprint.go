package billing

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint hashes the parameters of an idempotent request. A request id replayed with a
// different fingerprint is a conflict, not a retry.
func Fingerprint(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
