package keyslot

import (
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// privateOp runs fn on the private key of an own slot.
func (s *Store) privateOp(id int, fn func(c crypto.Curve, priv []byte) error) error {
	v, err := s.Get(id, false)
	if err != nil {
		return err
	}
	if !v.HasPrivate {
		return hsmerr.New(hsmerr.KindPrivateMaterialRequired, "slot %d holds no private key", id)
	}
	return s.WithSecret(id, func(priv, _ []byte) error {
		if priv == nil {
			return hsmerr.New(hsmerr.KindPrivateMaterialRequired, "slot %d holds no private key", id)
		}
		return fn(v.Curve, priv)
	})
}

// Sign signs digest with the key in slot id.
func (s *Store) Sign(id int, digest []byte) ([]byte, error) {
	var sig []byte
	err := s.privateOp(id, func(c crypto.Curve, priv []byte) error {
		var err error
		sig, err = crypto.Sign(c, priv, digest)
		return err
	})
	return sig, err
}

// SignRecoverable signs digest with a secp256k1 slot key and returns
// [R || S || V].
func (s *Store) SignRecoverable(id int, digest []byte) ([]byte, error) {
	var sig []byte
	err := s.privateOp(id, func(c crypto.Curve, priv []byte) error {
		if c != crypto.Secp256k1 {
			return hsmerr.Invalid("recoverable signatures need a secp256k1 key, slot %d is %s", id, c)
		}
		var err error
		sig, err = crypto.SignRecoverable(priv, digest)
		return err
	})
	return sig, err
}

// Verify checks sig over digest against the public key in slot id.
func (s *Store) Verify(id int, foreign bool, digest, sig []byte) (bool, error) {
	v, err := s.Get(id, foreign)
	if err != nil {
		return false, err
	}
	return crypto.Verify(v.Curve, v.PublicKey, digest, sig), nil
}

// ECDH computes the shared secret between slot id and a peer public key.
func (s *Store) ECDH(id int, peer []byte) ([]byte, error) {
	var shared []byte
	err := s.privateOp(id, func(c crypto.Curve, priv []byte) error {
		var err error
		shared, err = crypto.ECDH(c, priv, peer)
		return err
	})
	return shared, err
}

// ECDHForeign computes the shared secret between slot id and a stored
// foreign public key.
func (s *Store) ECDHForeign(id, foreignID int) ([]byte, error) {
	peer, err := s.Get(foreignID, true)
	if err != nil {
		return nil, err
	}
	return s.ECDH(id, peer.PublicKey)
}
