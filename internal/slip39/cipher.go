package slip39

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// baseIterationCount is the PBKDF2 iteration total at exponent 0.
	baseIterationCount = 10000

	// roundCount is the number of Feistel rounds.
	roundCount = 4

	// MaxIterationExponent is the largest encodable iteration exponent.
	MaxIterationExponent = 15
)

// ValidatePassphrase checks that a passphrase is printable ASCII.
func ValidatePassphrase(passphrase string) error {
	for i := 0; i < len(passphrase); i++ {
		if c := passphrase[i]; c < 32 || c > 126 {
			return hsmerr.Invalid("passphrase must be printable ASCII")
		}
	}
	return nil
}

// encrypt applies the four-round Feistel cipher to a master secret.
func encrypt(secret []byte, passphrase string, exponent uint8, id uint16, extendable bool) []byte {
	return feistel(secret, passphrase, exponent, id, extendable, false)
}

// decrypt reverses encrypt.
func decrypt(encrypted []byte, passphrase string, exponent uint8, id uint16, extendable bool) []byte {
	return feistel(encrypted, passphrase, exponent, id, extendable, true)
}

func feistel(data []byte, passphrase string, exponent uint8, id uint16, extendable, reverse bool) []byte {
	half := len(data) / 2
	l := append([]byte(nil), data[:half]...)
	r := append([]byte(nil), data[half:]...)
	salt := cipherSalt(id, extendable)
	iterations := (baseIterationCount << exponent) / roundCount

	for n := 0; n < roundCount; n++ {
		i := n
		if reverse {
			i = roundCount - 1 - n
		}
		f := roundFunction(byte(i), passphrase, iterations, salt, r)
		for k := range l {
			l[k] ^= f[k]
		}
		crypto.Wipe(f)
		l, r = r, l
	}

	out := make([]byte, 0, len(data))
	out = append(out, r...)
	out = append(out, l...)
	crypto.Wipe(l)
	crypto.Wipe(r)
	return out
}

func roundFunction(i byte, passphrase string, iterations int, salt, r []byte) []byte {
	password := make([]byte, 0, 1+len(passphrase))
	password = append(password, i)
	password = append(password, passphrase...)
	defer crypto.Wipe(password)

	s := make([]byte, 0, len(salt)+len(r))
	s = append(s, salt...)
	s = append(s, r...)
	return pbkdf2.Key(password, s, iterations, len(r), sha256.New)
}

// cipherSalt binds the identifier into the salt of non-extendable shares.
func cipherSalt(id uint16, extendable bool) []byte {
	if extendable {
		return nil
	}
	salt := []byte(customizationNonExtendable)
	return binary.BigEndian.AppendUint16(salt, id)
}
