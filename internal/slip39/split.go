// Package slip39 implements SLIP-39 Shamir backups: two-level threshold
// splitting of a master secret into mnemonic shares and recovery from them.
package slip39

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

const (
	digestLength = 4
	digestIndex  = 254
	secretIndex  = 255
)

// GroupSpec configures one group of member shares.
type GroupSpec struct {
	MemberThreshold int
	MemberCount     int
}

// Validate checks the member threshold and count.
func (g GroupSpec) Validate() error {
	if g.MemberCount < 1 || g.MemberCount > MaxShareCount {
		return hsmerr.Invalid("member count must be 1-%d, got %d", MaxShareCount, g.MemberCount)
	}
	if g.MemberThreshold < 1 || g.MemberThreshold > g.MemberCount {
		return hsmerr.Invalid("member threshold %d out of range 1-%d", g.MemberThreshold, g.MemberCount)
	}
	if g.MemberThreshold == 1 && g.MemberCount > 1 {
		return hsmerr.Invalid("a member threshold of 1 requires a single member, use more groups instead")
	}
	return nil
}

// SplitParams configures GenerateMnemonics.
type SplitParams struct {
	GroupThreshold    int
	Groups            []GroupSpec
	Passphrase        string
	IterationExponent int
	Extendable        bool
}

// ValidateSecret checks a master secret length.
func ValidateSecret(secret []byte) error {
	if len(secret)*8 < MinStrengthBits {
		return hsmerr.Invalid("master secret must be at least %d bits", MinStrengthBits)
	}
	if len(secret)%2 != 0 {
		return hsmerr.Invalid("master secret length must be even")
	}
	return nil
}

func validateGroupLayout(groupThreshold, groupCount, exponent int) error {
	if groupCount < 1 || groupCount > MaxShareCount {
		return hsmerr.Invalid("group count must be 1-%d, got %d", MaxShareCount, groupCount)
	}
	if groupThreshold < 1 || groupThreshold > groupCount {
		return hsmerr.Invalid("group threshold %d out of range 1-%d", groupThreshold, groupCount)
	}
	if exponent < 0 || exponent > MaxIterationExponent {
		return hsmerr.Invalid("iteration exponent must be 0-%d", MaxIterationExponent)
	}
	return nil
}

// GenerateMnemonics splits secret into groups of mnemonic shares.
// The result holds one slice of mnemonics per group.
func GenerateMnemonics(secret []byte, p SplitParams, rand io.Reader) ([][]string, error) {
	for _, g := range p.Groups {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}
	gen, err := NewGenerator(secret, GeneratorParams{
		GroupThreshold:    p.GroupThreshold,
		GroupCount:        len(p.Groups),
		Passphrase:        p.Passphrase,
		IterationExponent: p.IterationExponent,
		Extendable:        p.Extendable,
	}, rand)
	if err != nil {
		return nil, err
	}
	defer gen.Zero()

	out := make([][]string, len(p.Groups))
	for i, g := range p.Groups {
		if err := gen.SetGroup(i, g.MemberCount, g.MemberThreshold); err != nil {
			return nil, err
		}
		for m := 0; m < g.MemberCount; m++ {
			mn, err := gen.NextMember()
			if err != nil {
				return nil, err
			}
			out[i] = append(out[i], mn)
		}
	}
	return out, nil
}

// CombineMnemonics recovers the master secret from a set of mnemonics.
func CombineMnemonics(mnemonics []string, passphrase string) ([]byte, error) {
	if len(mnemonics) == 0 {
		return nil, hsmerr.Invalid("no mnemonics given")
	}
	r := NewRestorer(passphrase)
	defer r.Zero()
	for _, m := range mnemonics {
		secret, err := r.Add(passphrase, m)
		if err != nil {
			return nil, err
		}
		if secret != nil {
			return secret, nil
		}
	}
	done, need := r.Progress()
	return nil, hsmerr.Invalid("insufficient shares: %d of %d groups complete", done, need)
}

// splitSecret splits secret into count shares, threshold of which recover it.
func splitSecret(threshold, count int, secret []byte, rand io.Reader) ([]rawShare, error) {
	if threshold < 1 || threshold > count || count > MaxShareCount {
		return nil, hsmerr.Invalid("threshold %d of %d is not splittable", threshold, count)
	}

	if threshold == 1 {
		shares := make([]rawShare, count)
		for i := range shares {
			shares[i] = rawShare{x: byte(i), value: append([]byte(nil), secret...)}
		}
		return shares, nil
	}

	randomCount := threshold - 2
	shares := make([]rawShare, 0, count)
	for i := 0; i < randomCount; i++ {
		v := make([]byte, len(secret))
		if _, err := io.ReadFull(rand, v); err != nil {
			return nil, fmt.Errorf("read randomness: %w", err)
		}
		shares = append(shares, rawShare{x: byte(i), value: v})
	}

	randomPart := make([]byte, len(secret)-digestLength)
	if _, err := io.ReadFull(rand, randomPart); err != nil {
		return nil, fmt.Errorf("read randomness: %w", err)
	}
	digest := append(shareDigest(randomPart, secret), randomPart...)

	base := append(append([]rawShare(nil), shares...),
		rawShare{x: digestIndex, value: digest},
		rawShare{x: secretIndex, value: secret},
	)
	for i := randomCount; i < count; i++ {
		v, err := interpolate(base, byte(i))
		if err != nil {
			return nil, err
		}
		shares = append(shares, rawShare{x: byte(i), value: v})
	}
	crypto.Wipe(digest)
	return shares, nil
}

// recoverSecret interpolates the secret from exactly threshold shares and
// verifies the embedded digest.
func recoverSecret(threshold int, shares []rawShare) ([]byte, error) {
	if threshold == 1 {
		return append([]byte(nil), shares[0].value...), nil
	}
	secret, err := interpolate(shares, secretIndex)
	if err != nil {
		return nil, err
	}
	digest, err := interpolate(shares, digestIndex)
	if err != nil {
		crypto.Wipe(secret)
		return nil, err
	}
	defer crypto.Wipe(digest)
	if !hmac.Equal(digest[:digestLength], shareDigest(digest[digestLength:], secret)) {
		crypto.Wipe(secret)
		return nil, hsmerr.New(hsmerr.KindInconsistentShareSet, "share digest mismatch")
	}
	return secret, nil
}

func shareDigest(randomPart, secret []byte) []byte {
	mac := hmac.New(sha256.New, randomPart)
	mac.Write(secret)
	return mac.Sum(nil)[:digestLength]
}

// randomIdentifier draws a 15-bit share set identifier.
func randomIdentifier(rand io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return 0, fmt.Errorf("read randomness: %w", err)
	}
	return binary.BigEndian.Uint16(b[:]) & (1<<idBits - 1), nil
}
