package crypto

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// KeyID returns a short identifier for a public key:
// hex(BLAKE3(curve || 0x00 || pub)[:8]).
func KeyID(c Curve, pub []byte) string {
	buf := make([]byte, 0, len(c)+1+len(pub))
	buf = append(buf, c...)
	buf = append(buf, 0)
	buf = append(buf, pub...)
	h := Hash(buf)
	return hex.EncodeToString(h[:8])
}
