package slip39

import (
	"strings"

	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

const (
	// idBits is the size of the random share set identifier.
	idBits = 15

	// headerWords covers identifier, flags, exponent and indices.
	headerWords = 4

	// MinStrengthBits is the smallest master secret size.
	MinStrengthBits = 128

	// MinMnemonicWords is the word count of a share carrying a 128-bit value.
	MinMnemonicWords = headerWords + (MinStrengthBits+RadixBits-1)/RadixBits + ChecksumWords

	// MaxShareCount bounds both group and member counts.
	MaxShareCount = 16
)

// Share is one decoded SLIP-39 mnemonic.
type Share struct {
	Identifier        uint16
	Extendable        bool
	IterationExponent uint8
	GroupIndex        uint8
	GroupThreshold    uint8
	GroupCount        uint8
	MemberIndex       uint8
	MemberThreshold   uint8
	Value             []byte
}

// commonParams are the fields every share of one secret carries.
type commonParams struct {
	identifier        uint16
	extendable        bool
	iterationExponent uint8
	groupThreshold    uint8
	groupCount        uint8
}

func (s *Share) common() commonParams {
	return commonParams{
		identifier:        s.Identifier,
		extendable:        s.Extendable,
		iterationExponent: s.IterationExponent,
		groupThreshold:    s.GroupThreshold,
		groupCount:        s.GroupCount,
	}
}

func (s *Share) header() uint64 {
	var ext uint64
	if s.Extendable {
		ext = 1
	}
	return uint64(s.Identifier)<<25 |
		ext<<24 |
		uint64(s.IterationExponent)<<20 |
		uint64(s.GroupIndex)<<16 |
		uint64(s.GroupThreshold-1)<<12 |
		uint64(s.GroupCount-1)<<8 |
		uint64(s.MemberIndex)<<4 |
		uint64(s.MemberThreshold-1)
}

// Words encodes the share as word indices including the checksum.
func (s *Share) Words() []int {
	h := s.header()
	data := make([]int, 0, headerWords+len(s.Value)+ChecksumWords)
	for i := headerWords - 1; i >= 0; i-- {
		data = append(data, int(h>>(uint(i)*RadixBits))&1023)
	}
	padBits := (RadixBits - len(s.Value)*8%RadixBits) % RadixBits
	data = append(data, bytesToWords(s.Value, padBits)...)
	return append(data, rs1024CreateChecksum(data, s.Extendable)...)
}

// Mnemonic encodes the share as a space separated sentence.
func (s *Share) Mnemonic() string {
	idx := s.Words()
	words := make([]string, len(idx))
	for i, w := range idx {
		words[i] = wordlist[w]
	}
	return strings.Join(words, " ")
}

// ParseShare decodes and validates a mnemonic sentence.
func ParseShare(mnemonic string) (*Share, error) {
	fields := strings.Fields(strings.ToLower(mnemonic))
	if len(fields) < MinMnemonicWords {
		return nil, hsmerr.New(hsmerr.KindShareMalformed, "share has %d words, need at least %d", len(fields), MinMnemonicWords)
	}
	data := make([]int, len(fields))
	for i, w := range fields {
		idx, ok := wordIndex[w]
		if !ok {
			return nil, hsmerr.New(hsmerr.KindUnknownWord, "word %d is not in the wordlist", i+1)
		}
		data[i] = idx
	}

	valueWords := len(data) - headerWords - ChecksumWords
	padBits := valueWords * RadixBits % 16
	if padBits > 8 {
		return nil, hsmerr.New(hsmerr.KindShareMalformed, "invalid share length")
	}

	extendable := (data[1]>>4)&1 == 1
	if !rs1024VerifyChecksum(data, extendable) {
		return nil, hsmerr.New(hsmerr.KindChecksumMismatch, "share checksum mismatch")
	}

	var h uint64
	for _, w := range data[:headerWords] {
		h = h<<RadixBits | uint64(w)
	}
	s := &Share{
		Identifier:        uint16(h >> 25),
		Extendable:        extendable,
		IterationExponent: uint8(h>>20) & 0xf,
		GroupIndex:        uint8(h>>16) & 0xf,
		GroupThreshold:    uint8(h>>12)&0xf + 1,
		GroupCount:        uint8(h>>8)&0xf + 1,
		MemberIndex:       uint8(h>>4) & 0xf,
		MemberThreshold:   uint8(h)&0xf + 1,
	}
	if s.GroupThreshold > s.GroupCount {
		return nil, hsmerr.New(hsmerr.KindShareMalformed, "group threshold %d exceeds group count %d", s.GroupThreshold, s.GroupCount)
	}
	if s.GroupIndex >= s.GroupCount {
		return nil, hsmerr.New(hsmerr.KindShareMalformed, "group index %d exceeds group count %d", s.GroupIndex, s.GroupCount)
	}

	value, err := wordsToBytes(data[headerWords:len(data)-ChecksumWords], padBits)
	if err != nil {
		return nil, err
	}
	if len(value)*8 < MinStrengthBits {
		return nil, hsmerr.New(hsmerr.KindShareMalformed, "share value too short")
	}
	s.Value = value
	return s, nil
}

// bytesToWords packs data into 10-bit words after padBits leading zeros.
func bytesToWords(data []byte, padBits int) []int {
	acc := uint32(0)
	bits := uint(padBits)
	out := make([]int, 0, (len(data)*8+padBits)/RadixBits)
	for _, b := range data {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= RadixBits {
			bits -= RadixBits
			out = append(out, int(acc>>bits)&1023)
			acc &= 1<<bits - 1
		}
	}
	return out
}

// wordsToBytes is the inverse of bytesToWords. The padding must be zero.
func wordsToBytes(words []int, padBits int) ([]byte, error) {
	acc := uint32(0)
	bits := uint(0)
	pad := uint(padBits)
	out := make([]byte, 0, (len(words)*RadixBits-padBits)/8)
	for _, w := range words {
		acc = acc<<RadixBits | uint32(w)
		bits += RadixBits
		if pad > 0 {
			if acc>>(bits-pad) != 0 {
				return nil, hsmerr.New(hsmerr.KindShareMalformed, "non-zero padding")
			}
			bits -= pad
			pad = 0
		}
		for bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
			acc &= 1<<bits - 1
		}
	}
	return out, nil
}
