// Package mnemonic encodes seed entropy as BIP-39 word sequences and
// stretches a sentence plus passphrase into a 64-byte seed.
package mnemonic

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/tyler-smith/go-bip39"
)

// Entropy bounds in bits. Valid sizes are multiples of 32 in between.
const (
	MinEntropyBits = 128
	MaxEntropyBits = 256
)

// SeedSize is the length of a derived seed in bytes (512 bits).
const SeedSize = 64

var (
	wordIndexOnce sync.Once
	wordIndex     map[string]struct{}
)

func isWord(w string) bool {
	wordIndexOnce.Do(func() {
		list := bip39.GetWordList()
		wordIndex = make(map[string]struct{}, len(list))
		for _, word := range list {
			wordIndex[word] = struct{}{}
		}
	})
	_, ok := wordIndex[w]
	return ok
}

// ValidEntropyBits reports whether bits is a BIP-39 entropy size.
func ValidEntropyBits(bits int) bool {
	return bits >= MinEntropyBits && bits <= MaxEntropyBits && bits%32 == 0
}

// WordCount returns the sentence length for an entropy size in bits.
func WordCount(bits int) int {
	return (bits + bits/32) / 11
}

// Normalize lowercases a sentence and collapses runs of whitespace.
func Normalize(sentence string) string {
	return strings.Join(strings.Fields(strings.ToLower(sentence)), " ")
}

// Generate reads bits of entropy from r and returns its sentence.
func Generate(r io.Reader, bits int) (string, error) {
	if !ValidEntropyBits(bits) {
		return "", hsmerr.Invalid("entropy must be 128-256 bits in steps of 32, got %d", bits)
	}
	entropy := make([]byte, bits/8)
	defer crypto.Wipe(entropy)
	if _, err := io.ReadFull(r, entropy); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return Encode(entropy)
}

// Encode maps entropy to its checksummed word sequence.
func Encode(entropy []byte) (string, error) {
	if !ValidEntropyBits(len(entropy) * 8) {
		return "", hsmerr.Invalid("entropy must be 16-32 bytes in steps of 4, got %d", len(entropy))
	}
	sentence, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("encode mnemonic: %w", err)
	}
	return sentence, nil
}

// Decode validates a sentence and returns the entropy it encodes.
// Unknown words fail with UnknownWord, a bad checksum with ChecksumMismatch.
func Decode(sentence string) ([]byte, error) {
	sentence = Normalize(sentence)
	words := strings.Fields(sentence)
	switch len(words) {
	case 12, 15, 18, 21, 24:
	default:
		return nil, hsmerr.Invalid("mnemonic must have 12, 15, 18, 21 or 24 words, got %d", len(words))
	}
	for i, w := range words {
		if !isWord(w) {
			return nil, hsmerr.New(hsmerr.KindUnknownWord, "word %d is not in the wordlist", i+1)
		}
	}

	entropy, err := bip39.EntropyFromMnemonic(sentence)
	if errors.Is(err, bip39.ErrChecksumIncorrect) {
		return nil, hsmerr.New(hsmerr.KindChecksumMismatch, "mnemonic checksum does not match")
	}
	if err != nil {
		return nil, hsmerr.Invalid("decode mnemonic: %v", err)
	}
	return entropy, nil
}

// Seed validates a sentence and derives its 64-byte seed. An empty
// passphrase is the same as no passphrase.
func Seed(sentence, passphrase string) ([]byte, error) {
	entropy, err := Decode(sentence)
	if err != nil {
		return nil, err
	}
	crypto.Wipe(entropy)
	return bip39.NewSeed(Normalize(sentence), passphrase), nil
}
