package keyslot

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltSize is the length of the store key salt.
const SaltSize = 32

// errWrongPassphrase is returned when the store key does not open the
// passphrase check record.
var errWrongPassphrase = errors.New("wrong store passphrase")

// KDFParams holds the Argon2id parameters for the store key.
type KDFParams struct {
	Memory      uint32 `json:"memory"` // in KiB
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultKDFParams returns recommended Argon2id parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

// sealer encrypts slot secrets with a key derived once per store.
// Every ciphertext is bound to its slot id and namespace.
type sealer struct {
	aead cipher.AEAD
	rand io.Reader
}

func newSealer(passphrase, salt []byte, params KDFParams, rand io.Reader) (*sealer, error) {
	key := argon2.IDKey(
		passphrase,
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		chacha20poly1305.KeySize,
	)
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &sealer{aead: aead, rand: rand}, nil
}

func additionalData(ns byte, id int) []byte {
	ad := []byte{ns}
	return binary.BigEndian.AppendUint32(ad, uint32(id))
}

// seal returns nonce || ciphertext.
func (s *sealer) seal(ns byte, id int, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, additionalData(ns, id)), nil
}

// open reverses seal.
func (s *sealer) open(ns byte, id int, sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize+s.aead.Overhead() {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(sealed))
	}
	plaintext, err := s.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], additionalData(ns, id))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
