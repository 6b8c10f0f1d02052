// Package crypto provides the elliptic-curve primitives used by the key store.
package crypto

import (
	"strings"

	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// Curve names a supported key type.
type Curve string

const (
	Secp256k1 Curve = "secp256k1"
	NISTP256  Curve = "nistp256"
	Ed25519   Curve = "ed25519"
)

// Curves lists every supported curve.
var Curves = []Curve{Secp256k1, NISTP256, Ed25519}

// ParseCurve maps a curve name to a Curve. Unknown or unsupported names
// (x25519, cardano variants) are an InvalidParameter error.
func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "secp256k1":
		return Secp256k1, nil
	case "nistp256", "p256", "nist256p1":
		return NISTP256, nil
	case "ed25519":
		return Ed25519, nil
	default:
		return "", hsmerr.Invalid("unsupported curve %q", s)
	}
}

// Valid reports whether c is a supported curve.
func (c Curve) Valid() bool {
	switch c {
	case Secp256k1, NISTP256, Ed25519:
		return true
	}
	return false
}

// PublicKeySize returns the encoded public key length for the curve.
// Weierstrass curves use the 33-byte compressed form.
func (c Curve) PublicKeySize() int {
	if c == Ed25519 {
		return 32
	}
	return 33
}

func (c Curve) String() string { return string(c) }

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
