package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

func mustKey(t *testing.T, c Curve) []byte {
	t.Helper()
	k, err := GenerateKey(c, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey(%s): %v", c, err)
	}
	return k
}

func TestParseCurve(t *testing.T) {
	tests := []struct {
		in      string
		want    Curve
		wantErr bool
	}{
		{"secp256k1", Secp256k1, false},
		{"SECP256K1", Secp256k1, false},
		{"nistp256", NISTP256, false},
		{"p256", NISTP256, false},
		{"ed25519", Ed25519, false},
		{"x25519", "", true},
		{"cardano", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCurve(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCurve(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCurve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPublicKey_Sizes(t *testing.T) {
	for _, c := range Curves {
		pub, err := PublicKey(c, mustKey(t, c))
		if err != nil {
			t.Fatalf("PublicKey(%s): %v", c, err)
		}
		if len(pub) != c.PublicKeySize() {
			t.Errorf("%s pubkey length = %d, want %d", c, len(pub), c.PublicKeySize())
		}
		if err := ParsePublicKey(c, pub); err != nil {
			t.Errorf("ParsePublicKey(%s): %v", c, err)
		}
	}
}

func TestPublicKey_KnownSecp256k1(t *testing.T) {
	// Private key 1 maps to the generator point.
	priv := make([]byte, 32)
	priv[31] = 1
	pub, err := PublicKey(Secp256k1, priv)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	want := "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	if hex.EncodeToString(pub) != want {
		t.Errorf("pubkey = %x, want %s", pub, want)
	}
}

func TestValidPrivateKey(t *testing.T) {
	zero := make([]byte, 32)
	ones := bytes.Repeat([]byte{0xff}, 32)
	for _, c := range []Curve{Secp256k1, NISTP256} {
		if ValidPrivateKey(c, zero) {
			t.Errorf("%s: zero scalar accepted", c)
		}
		if ValidPrivateKey(c, ones) {
			t.Errorf("%s: scalar >= n accepted", c)
		}
		if ValidPrivateKey(c, []byte{1}) {
			t.Errorf("%s: short scalar accepted", c)
		}
	}
}

func TestSignVerify(t *testing.T) {
	digest := sha256.Sum256([]byte("sign me"))
	other := sha256.Sum256([]byte("not me"))

	for _, c := range Curves {
		t.Run(string(c), func(t *testing.T) {
			priv := mustKey(t, c)
			pub, _ := PublicKey(c, priv)

			sig, err := Sign(c, priv, digest[:])
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if !Verify(c, pub, digest[:], sig) {
				t.Error("valid signature rejected")
			}
			if Verify(c, pub, other[:], sig) {
				t.Error("signature accepted for a different digest")
			}
			sig[5] ^= 0x01
			if Verify(c, pub, digest[:], sig) {
				t.Error("tampered signature accepted")
			}
		})
	}
}

func TestSignRecoverable(t *testing.T) {
	priv := mustKey(t, Secp256k1)
	pub, _ := PublicKey(Secp256k1, priv)
	digest := sha256.Sum256([]byte("recover me"))

	sig, err := SignRecoverable(priv, digest[:])
	if err != nil {
		t.Fatalf("SignRecoverable: %v", err)
	}
	if len(sig) != 65 || sig[64] > 1 {
		t.Fatalf("bad signature layout: len=%d v=%d", len(sig), sig[64])
	}

	compact := append([]byte{27 + 4 + sig[64]}, sig[:64]...)
	recovered, _, err := secpecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		t.Fatalf("RecoverCompact: %v", err)
	}
	if !bytes.Equal(recovered.SerializeCompressed(), pub) {
		t.Error("recovered key does not match signer")
	}
}

func TestECDH_Agreement(t *testing.T) {
	for _, c := range []Curve{Secp256k1, NISTP256} {
		a, b := mustKey(t, c), mustKey(t, c)
		pubA, _ := PublicKey(c, a)
		pubB, _ := PublicKey(c, b)

		s1, err := ECDH(c, a, pubB)
		if err != nil {
			t.Fatalf("%s ECDH(a, B): %v", c, err)
		}
		s2, err := ECDH(c, b, pubA)
		if err != nil {
			t.Fatalf("%s ECDH(b, A): %v", c, err)
		}
		if !bytes.Equal(s1, s2) || len(s1) != 32 {
			t.Errorf("%s shared secrets differ", c)
		}
	}

	ed := mustKey(t, Ed25519)
	pub, _ := PublicKey(Ed25519, ed)
	if _, err := ECDH(Ed25519, ed, pub); err == nil {
		t.Error("ECDH on ed25519 should fail")
	}
}

func TestKeyID(t *testing.T) {
	priv := secp256k1.PrivKeyFromBytes(bytes.Repeat([]byte{7}, 32))
	pub := priv.PubKey().SerializeCompressed()

	id := KeyID(Secp256k1, pub)
	if len(id) != 16 {
		t.Errorf("KeyID length = %d, want 16", len(id))
	}
	if id == KeyID(NISTP256, pub) {
		t.Error("KeyID should depend on the curve")
	}
	if id != KeyID(Secp256k1, pub) {
		t.Error("KeyID not deterministic")
	}
}
