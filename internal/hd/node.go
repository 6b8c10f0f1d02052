// Package hd derives hierarchical deterministic key trees.
//
// secp256k1 trees follow BIP-32; nistp256 and ed25519 trees follow SLIP-10.
// ed25519 only supports hardened derivation.
package hd

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/tyler-smith/go-bip32"
)

// HardenedOffset is the first hardened child index (2^31).
const HardenedOffset = bip32.FirstHardenedChild

// ChainCodeSize is the length of a chain code in bytes.
const ChainCodeSize = 32

// Seed length bounds accepted by NewMaster (BIP-32).
const (
	MinSeedSize = 16
	MaxSeedSize = 64
)

// MaxDepth is the deepest node a tree can hold.
const MaxDepth = 255

// defaultGeneratorKeys are the SLIP-10 HMAC keys used when a wallet has no
// custom master generator key.
var defaultGeneratorKeys = map[crypto.Curve][]byte{
	crypto.Secp256k1: []byte("Bitcoin seed"),
	crypto.NISTP256:  []byte("Nist256p1 seed"),
	crypto.Ed25519:   []byte("ed25519 seed"),
}

// Node is one key in a derivation tree. A node without a private key can
// still derive non-hardened children on the Weierstrass curves.
type Node struct {
	curve     crypto.Curve
	private   []byte
	public    []byte
	chainCode []byte
	depth     uint8
}

// NewMaster computes the master node for seed. generatorKey replaces the
// curve's default HMAC key when non-empty.
func NewMaster(curve crypto.Curve, seed, generatorKey []byte) (*Node, error) {
	if !curve.Valid() {
		return nil, hsmerr.Invalid("unsupported curve %q", curve)
	}
	if len(seed) < MinSeedSize || len(seed) > MaxSeedSize {
		return nil, hsmerr.Invalid("seed must be %d-%d bytes, got %d", MinSeedSize, MaxSeedSize, len(seed))
	}
	key := generatorKey
	if len(key) == 0 {
		key = defaultGeneratorKeys[curve]
	}

	I := hmacSHA512(key, seed)
	for !crypto.ValidPrivateKey(curve, I[:32]) {
		next := hmacSHA512(key, I)
		crypto.Wipe(I)
		I = next
	}
	defer crypto.Wipe(I)
	return newPrivateNode(curve, I[:32], I[32:], 0)
}

// FromPrivate rebuilds a node from a stored private key and chain code.
func FromPrivate(curve crypto.Curve, priv, chainCode []byte, depth uint8) (*Node, error) {
	if !curve.Valid() {
		return nil, hsmerr.Invalid("unsupported curve %q", curve)
	}
	if len(chainCode) != ChainCodeSize {
		return nil, hsmerr.Invalid("chain code must be %d bytes, got %d", ChainCodeSize, len(chainCode))
	}
	return newPrivateNode(curve, priv, chainCode, depth)
}

// FromPublic builds a public-only node, as used by oversight wallets.
func FromPublic(curve crypto.Curve, pub, chainCode []byte, depth uint8) (*Node, error) {
	if err := crypto.ParsePublicKey(curve, pub); err != nil {
		return nil, err
	}
	if len(chainCode) != ChainCodeSize {
		return nil, hsmerr.Invalid("chain code must be %d bytes, got %d", ChainCodeSize, len(chainCode))
	}
	return &Node{
		curve:     curve,
		public:    append([]byte(nil), pub...),
		chainCode: append([]byte(nil), chainCode...),
		depth:     depth,
	}, nil
}

func newPrivateNode(curve crypto.Curve, priv, chainCode []byte, depth uint8) (*Node, error) {
	pub, err := crypto.PublicKey(curve, priv)
	if err != nil {
		return nil, err
	}
	return &Node{
		curve:     curve,
		private:   append([]byte(nil), priv...),
		public:    pub,
		chainCode: append([]byte(nil), chainCode...),
		depth:     depth,
	}, nil
}

// Child derives the child at index. Indices >= HardenedOffset are hardened
// and need the private key.
func (n *Node) Child(index uint32) (*Node, error) {
	hardened := index >= HardenedOffset
	if hardened && n.private == nil {
		return nil, hsmerr.New(hsmerr.KindPrivateMaterialRequired, "hardened child %d needs a private key", index-HardenedOffset)
	}
	if n.depth == MaxDepth {
		return nil, hsmerr.Invalid("node is at maximum depth %d", MaxDepth)
	}

	switch n.curve {
	case crypto.Secp256k1:
		return n.childBIP32(index)
	case crypto.NISTP256:
		return n.childP256(index)
	case crypto.Ed25519:
		if !hardened {
			return nil, hsmerr.Invalid("ed25519 supports hardened derivation only")
		}
		return n.childEd25519(index)
	}
	return nil, hsmerr.Invalid("unsupported curve %q", n.curve)
}

// DerivePath derives a descendant along a sequence of indices.
func (n *Node) DerivePath(indices ...uint32) (*Node, error) {
	current := n
	for _, idx := range indices {
		child, err := current.Child(idx)
		if current != n {
			current.Zero()
		}
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// childBIP32 derives through go-bip32.
func (n *Node) childBIP32(index uint32) (*Node, error) {
	parent := &bip32.Key{
		Version:     bip32.PublicWalletVersion,
		Depth:       n.depth,
		ChildNumber: make([]byte, 4),
		FingerPrint: make([]byte, 4),
		ChainCode:   n.chainCode,
		Key:         n.public,
	}
	if n.private != nil {
		parent.Version = bip32.PrivateWalletVersion
		parent.Key = n.private
		parent.IsPrivate = true
	}

	child, err := parent.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	if !child.IsPrivate {
		return FromPublic(n.curve, child.Key, child.ChainCode, child.Depth)
	}

	priv := leftPad32(child.Key)
	defer crypto.Wipe(priv)
	crypto.Wipe(child.Key)
	return newPrivateNode(n.curve, priv, child.ChainCode, child.Depth)
}

// childEd25519 is SLIP-10 hardened derivation.
func (n *Node) childEd25519(index uint32) (*Node, error) {
	data := make([]byte, 0, 37)
	data = append(data, 0)
	data = append(data, n.private...)
	data = binary.BigEndian.AppendUint32(data, index)
	I := hmacSHA512(n.chainCode, data)
	crypto.Wipe(data)
	defer crypto.Wipe(I)
	return newPrivateNode(n.curve, I[:32], I[32:], n.depth+1)
}

// Curve returns the node's curve.
func (n *Node) Curve() crypto.Curve { return n.curve }

// Depth returns the derivation depth (0 for master).
func (n *Node) Depth() uint8 { return n.depth }

// IsPrivate reports whether the node holds a private key.
func (n *Node) IsPrivate() bool { return n.private != nil }

// PrivateKey returns a copy of the private key, or nil for public-only nodes.
func (n *Node) PrivateKey() []byte {
	if n.private == nil {
		return nil
	}
	return append([]byte(nil), n.private...)
}

// PublicKey returns a copy of the encoded public key.
func (n *Node) PublicKey() []byte { return append([]byte(nil), n.public...) }

// ChainCode returns a copy of the chain code.
func (n *Node) ChainCode() []byte { return append([]byte(nil), n.chainCode...) }

// Neuter returns a public-only copy.
func (n *Node) Neuter() *Node {
	return &Node{
		curve:     n.curve,
		public:    n.PublicKey(),
		chainCode: n.ChainCode(),
		depth:     n.depth,
	}
}

// Zero wipes the node's secret material.
func (n *Node) Zero() {
	crypto.Wipe(n.private)
	crypto.Wipe(n.chainCode)
	n.private = nil
}

func hmacSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// leftPad32 returns b as a 32-byte big-endian scalar. go-bip32 may hand
// back 33 bytes with a leading zero, or fewer than 32.
func leftPad32(b []byte) []byte {
	out := make([]byte, 32)
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}
