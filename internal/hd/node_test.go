package hd

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// testSeed is the seed of BIP-32 / SLIP-10 test vector 1.
func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	if err != nil {
		t.Fatal(err)
	}
	return seed
}

func mustMaster(t *testing.T, c crypto.Curve) *Node {
	t.Helper()
	m, err := NewMaster(c, testSeed(t), nil)
	if err != nil {
		t.Fatalf("NewMaster(%s): %v", c, err)
	}
	return m
}

func TestNewMaster_Vectors(t *testing.T) {
	tests := []struct {
		curve     crypto.Curve
		priv      string
		chainCode string
	}{
		{crypto.Secp256k1, "e8f32e723decf4051aefac8e2c93c9c5b214313817cdb01a1494b917c8436b35", "873dff81c02f525623fd1fe5167eac3a55a049de3d314bb42ee227ffed37d508"},
		{crypto.NISTP256, "612091aaa12e22dd2abef664f8a01a82cae99ad7441b7ef8110424915c268bc2", "beeb672fe4621673f722f38529c07392fecaa61015c80c34f29ce8b41b3cb6ea"},
		{crypto.Ed25519, "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7", "90046a93de5380a72b5e45010748567d5ea02bbf6522f979e05c0d8d8ca9fffb"},
	}
	for _, tt := range tests {
		m := mustMaster(t, tt.curve)
		if got := hex.EncodeToString(m.PrivateKey()); got != tt.priv {
			t.Errorf("%s master key = %s, want %s", tt.curve, got, tt.priv)
		}
		if got := hex.EncodeToString(m.ChainCode()); got != tt.chainCode {
			t.Errorf("%s chain code = %s, want %s", tt.curve, got, tt.chainCode)
		}
		if m.Depth() != 0 || !m.IsPrivate() {
			t.Errorf("%s master depth=%d private=%v", tt.curve, m.Depth(), m.IsPrivate())
		}
	}
}

func TestChild_Vectors(t *testing.T) {
	tests := []struct {
		curve crypto.Curve
		path  []uint32
		priv  string
		pub   string
	}{
		{crypto.Secp256k1, []uint32{HardenedOffset}, "edb2e14f9ee77d26dd93b4ecede8d16ed408ce149b6cd80b0715a2d911a0afea", ""},
		{crypto.Secp256k1, []uint32{HardenedOffset, 1}, "3c6cb8d0f6a264c91ea8b5030fadaa8e538b020f0a387421a12de9319dc93368", "03501e454bf00751f24b1b489aa925215d66af2234e3891c3b21a52bedb3cd711c"},
		{crypto.NISTP256, []uint32{HardenedOffset}, "6939694369114c67917a182c59ddb8cafc3004e63ca5d3b84403ba8613debc0c", ""},
		{crypto.NISTP256, []uint32{HardenedOffset, 1}, "284e9d38d07d21e4e281b645089a94f4cf5a5a81369acf151a1c3a57f18b2129", "03526c63f8d0b4bbbf9c80df553fe66742df4676b241dabefdef67733e070f6844"},
		{crypto.Ed25519, []uint32{HardenedOffset}, "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3", ""},
	}
	for _, tt := range tests {
		child, err := mustMaster(t, tt.curve).DerivePath(tt.path...)
		if err != nil {
			t.Fatalf("%s DerivePath(%v): %v", tt.curve, tt.path, err)
		}
		if got := hex.EncodeToString(child.PrivateKey()); got != tt.priv {
			t.Errorf("%s %v key = %s, want %s", tt.curve, tt.path, got, tt.priv)
		}
		if tt.pub != "" {
			if got := hex.EncodeToString(child.PublicKey()); got != tt.pub {
				t.Errorf("%s %v pub = %s, want %s", tt.curve, tt.path, got, tt.pub)
			}
		}
		if int(child.Depth()) != len(tt.path) {
			t.Errorf("%s depth = %d, want %d", tt.curve, child.Depth(), len(tt.path))
		}
	}
}

func TestNewMaster_GeneratorKey(t *testing.T) {
	seed := testSeed(t)
	def, _ := NewMaster(crypto.Secp256k1, seed, nil)
	custom, err := NewMaster(crypto.Secp256k1, seed, []byte("my generator"))
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	if bytes.Equal(def.PrivateKey(), custom.PrivateKey()) {
		t.Error("generator key did not change the master key")
	}

	again, _ := NewMaster(crypto.Secp256k1, seed, []byte("my generator"))
	if !bytes.Equal(custom.PrivateKey(), again.PrivateKey()) {
		t.Error("master key not deterministic")
	}
}

func TestNewMaster_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		curve crypto.Curve
		seed  []byte
	}{
		{"short seed", crypto.Secp256k1, make([]byte, 15)},
		{"long seed", crypto.Secp256k1, make([]byte, 65)},
		{"bad curve", crypto.Curve("x25519"), make([]byte, 32)},
	}
	for _, tt := range tests {
		_, err := NewMaster(tt.curve, tt.seed, nil)
		if !errors.Is(err, hsmerr.ErrInvalidParameter) {
			t.Errorf("%s: error = %v, want InvalidParameter", tt.name, err)
		}
	}
}

func TestNeuter_PublicDerivationMatches(t *testing.T) {
	for _, c := range []crypto.Curve{crypto.Secp256k1, crypto.NISTP256} {
		parent, err := mustMaster(t, c).Child(HardenedOffset + 44)
		if err != nil {
			t.Fatalf("%s hardened child: %v", c, err)
		}
		for _, idx := range []uint32{0, 1, 7, HardenedOffset - 1} {
			priv, err := parent.Child(idx)
			if err != nil {
				t.Fatalf("%s private child %d: %v", c, idx, err)
			}
			pub, err := parent.Neuter().Child(idx)
			if err != nil {
				t.Fatalf("%s public child %d: %v", c, idx, err)
			}
			if pub.IsPrivate() {
				t.Errorf("%s public derivation produced a private node", c)
			}
			if !bytes.Equal(priv.PublicKey(), pub.PublicKey()) {
				t.Errorf("%s child %d: public derivation mismatch", c, idx)
			}
			if !bytes.Equal(priv.ChainCode(), pub.ChainCode()) {
				t.Errorf("%s child %d: chain code mismatch", c, idx)
			}
		}
	}
}

func TestChild_HardenedFromPublic(t *testing.T) {
	for _, c := range []crypto.Curve{crypto.Secp256k1, crypto.NISTP256} {
		public := mustMaster(t, c).Neuter()
		_, err := public.Child(HardenedOffset)
		if !errors.Is(err, hsmerr.ErrPrivateMaterialRequired) {
			t.Errorf("%s: error = %v, want PrivateMaterialRequired", c, err)
		}
	}
}

func TestChild_Ed25519NonHardened(t *testing.T) {
	_, err := mustMaster(t, crypto.Ed25519).Child(0)
	if !errors.Is(err, hsmerr.ErrInvalidParameter) {
		t.Errorf("error = %v, want InvalidParameter", err)
	}
}

func TestFromPrivate_Rebuild(t *testing.T) {
	m := mustMaster(t, crypto.Secp256k1)
	rebuilt, err := FromPrivate(crypto.Secp256k1, m.PrivateKey(), m.ChainCode(), 0)
	if err != nil {
		t.Fatalf("FromPrivate: %v", err)
	}
	a, _ := m.Child(5)
	b, _ := rebuilt.Child(5)
	if !bytes.Equal(a.PrivateKey(), b.PrivateKey()) {
		t.Error("rebuilt node derives a different child")
	}

	if _, err := FromPrivate(crypto.Secp256k1, m.PrivateKey(), []byte{1, 2}, 0); err == nil {
		t.Error("short chain code accepted")
	}
	if _, err := FromPublic(crypto.Secp256k1, []byte{2, 3}, m.ChainCode(), 0); err == nil {
		t.Error("malformed public key accepted")
	}
}

func TestZero(t *testing.T) {
	m := mustMaster(t, crypto.Secp256k1)
	m.Zero()
	if m.IsPrivate() || m.PrivateKey() != nil {
		t.Error("Zero left private material behind")
	}
	if !bytes.Equal(m.ChainCode(), make([]byte, ChainCodeSize)) {
		t.Error("Zero did not wipe the chain code")
	}
}
