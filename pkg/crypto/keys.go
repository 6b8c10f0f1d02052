package crypto

import (
	"crypto/ed25519"
	"crypto/elliptic"
	"fmt"
	"io"
	"math/big"

	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PrivateKeySize is the length of every private scalar or ed25519 seed.
const PrivateKeySize = 32

var p256N = elliptic.P256().Params().N

// ValidPrivateKey reports whether k is a usable private key on curve c:
// 32 bytes, and for Weierstrass curves in [1, n-1].
func ValidPrivateKey(c Curve, k []byte) bool {
	if len(k) != PrivateKeySize {
		return false
	}
	switch c {
	case Secp256k1:
		var s secp256k1.ModNScalar
		overflow := s.SetByteSlice(k)
		ok := !overflow && !s.IsZero()
		s.Zero()
		return ok
	case NISTP256:
		n := new(big.Int).SetBytes(k)
		return n.Sign() > 0 && n.Cmp(p256N) < 0
	case Ed25519:
		return true
	}
	return false
}

// GenerateKey reads a fresh private key for curve c from rand.
func GenerateKey(c Curve, rand io.Reader) ([]byte, error) {
	if !c.Valid() {
		return nil, hsmerr.Invalid("unsupported curve %q", c)
	}
	k := make([]byte, PrivateKeySize)
	for {
		if _, err := io.ReadFull(rand, k); err != nil {
			return nil, fmt.Errorf("read entropy: %w", err)
		}
		if ValidPrivateKey(c, k) {
			return k, nil
		}
	}
}

// PublicKey returns the encoded public key for private key priv.
func PublicKey(c Curve, priv []byte) ([]byte, error) {
	if !ValidPrivateKey(c, priv) {
		return nil, hsmerr.Invalid("invalid %s private key", c)
	}
	switch c {
	case Secp256k1:
		key := secp256k1.PrivKeyFromBytes(priv)
		defer key.Zero()
		return key.PubKey().SerializeCompressed(), nil
	case NISTP256:
		x, y := elliptic.P256().ScalarBaseMult(priv)
		return elliptic.MarshalCompressed(elliptic.P256(), x, y), nil
	default:
		return []byte(ed25519.NewKeyFromSeed(priv).Public().(ed25519.PublicKey)), nil
	}
}

// ParsePublicKey validates an encoded public key for curve c.
func ParsePublicKey(c Curve, pub []byte) error {
	switch c {
	case Secp256k1:
		if len(pub) != 33 {
			return hsmerr.Invalid("secp256k1 public key must be 33 bytes compressed, got %d", len(pub))
		}
		if _, err := secp256k1.ParsePubKey(pub); err != nil {
			return hsmerr.Invalid("secp256k1 public key: %v", err)
		}
	case NISTP256:
		if x, _ := elliptic.UnmarshalCompressed(elliptic.P256(), pub); x == nil {
			return hsmerr.Invalid("nistp256 public key must be a 33-byte compressed point")
		}
	case Ed25519:
		if len(pub) != ed25519.PublicKeySize {
			return hsmerr.Invalid("ed25519 public key must be 32 bytes, got %d", len(pub))
		}
	default:
		return hsmerr.Invalid("unsupported curve %q", c)
	}
	return nil
}
