// Package sha256 digests result files.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Algorithm prefixes every digest, in the style of OCI content digests.
const Algorithm = "sha256:"

// Hasher implements voyage.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns "sha256:" followed by the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Algorithm + hex.EncodeToString(sum[:]), nil
}
