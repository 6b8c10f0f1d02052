package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// DigestSize is the digest length accepted by the ECDSA curves.
const DigestSize = 32

// Sign signs digest with priv. ECDSA curves return r||s (64 bytes) over a
// 32-byte digest; ed25519 signs the message bytes directly.
func Sign(c Curve, priv, digest []byte) ([]byte, error) {
	if !ValidPrivateKey(c, priv) {
		return nil, hsmerr.Invalid("invalid %s private key", c)
	}
	switch c {
	case Secp256k1:
		sig, err := SignRecoverable(priv, digest)
		if err != nil {
			return nil, err
		}
		return sig[:64], nil
	case NISTP256:
		if len(digest) != DigestSize {
			return nil, hsmerr.Invalid("digest must be %d bytes, got %d", DigestSize, len(digest))
		}
		key := p256PrivateKey(priv)
		r, s, err := ecdsa.Sign(rand.Reader, key, digest)
		key.D.SetInt64(0)
		if err != nil {
			return nil, fmt.Errorf("p256 sign: %w", err)
		}
		out := make([]byte, 64)
		r.FillBytes(out[:32])
		s.FillBytes(out[32:])
		return out, nil
	default:
		return ed25519.Sign(ed25519.NewKeyFromSeed(priv), digest), nil
	}
}

// SignRecoverable produces a secp256k1 signature in [R || S || V] form with
// V in {0, 1}, the layout used by Ethereum.
func SignRecoverable(priv, digest []byte) ([]byte, error) {
	if len(digest) != DigestSize {
		return nil, hsmerr.Invalid("digest must be %d bytes, got %d", DigestSize, len(digest))
	}
	if !ValidPrivateKey(Secp256k1, priv) {
		return nil, hsmerr.Invalid("invalid secp256k1 private key")
	}
	key := secp256k1.PrivKeyFromBytes(priv)
	defer key.Zero()

	compact := secpecdsa.SignCompact(key, digest, true)
	// compact = [27 + 4 + recid] || R || S
	out := make([]byte, 65)
	copy(out, compact[1:])
	out[64] = compact[0] - 27 - 4
	return out, nil
}

// Verify checks a signature produced by Sign. Returns false on any error.
func Verify(c Curve, pub, digest, sig []byte) bool {
	switch c {
	case Secp256k1:
		if len(sig) != 64 || len(digest) != DigestSize {
			return false
		}
		key, err := secp256k1.ParsePubKey(pub)
		if err != nil {
			return false
		}
		var r, s secp256k1.ModNScalar
		if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) {
			return false
		}
		return secpecdsa.NewSignature(&r, &s).Verify(digest, key)
	case NISTP256:
		if len(sig) != 64 || len(digest) != DigestSize {
			return false
		}
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pub)
		if x == nil {
			return false
		}
		key := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		return ecdsa.Verify(key, digest, r, s)
	case Ed25519:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
	}
	return false
}

// ECDH computes the raw shared secret (x coordinate) between priv and peer.
func ECDH(c Curve, priv, peer []byte) ([]byte, error) {
	if !ValidPrivateKey(c, priv) {
		return nil, hsmerr.Invalid("invalid %s private key", c)
	}
	if err := ParsePublicKey(c, peer); err != nil {
		return nil, err
	}
	switch c {
	case Secp256k1:
		key := secp256k1.PrivKeyFromBytes(priv)
		defer key.Zero()
		peerKey, err := secp256k1.ParsePubKey(peer)
		if err != nil {
			return nil, hsmerr.Invalid("peer public key: %v", err)
		}
		return secp256k1.GenerateSharedSecret(key, peerKey), nil
	case NISTP256:
		key, err := ecdh.P256().NewPrivateKey(priv)
		if err != nil {
			return nil, hsmerr.Invalid("p256 private key: %v", err)
		}
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), peer)
		peerKey, err := ecdh.P256().NewPublicKey(elliptic.Marshal(elliptic.P256(), x, y))
		if err != nil {
			return nil, hsmerr.Invalid("peer public key: %v", err)
		}
		return key.ECDH(peerKey)
	default:
		return nil, hsmerr.Invalid("ecdh is not defined for %s keys", c)
	}
}

func p256PrivateKey(priv []byte) *ecdsa.PrivateKey {
	x, y := elliptic.P256().ScalarBaseMult(priv)
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y},
		D:         new(big.Int).SetBytes(priv),
	}
}
