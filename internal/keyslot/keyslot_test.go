package keyslot

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-hsm/internal/metrics"
	"github.com/Klingon-tech/klingnet-hsm/internal/storage"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fastKDF returns low-cost Argon2 params for fast tests.
func fastKDF() KDFParams {
	return KDFParams{
		Memory:      64, // 64 KiB (minimal)
		Iterations:  1,
		Parallelism: 1,
	}
}

func testOptions() Options {
	return Options{
		MaxSlots:   20,
		MaxForeign: 2,
		Passphrase: []byte("store-pass"),
		KDF:        fastKDF(),
		Rand:       rand.Reader,
	}
}

func testStore(t *testing.T) (*Store, storage.DB) {
	t.Helper()
	db := storage.NewMemory()
	s, err := Open(db, testOptions())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s, db
}

func testDigest() []byte {
	d := sha256.Sum256([]byte("message"))
	return d[:]
}

func TestAllocate_LowestFirst(t *testing.T) {
	s, _ := testStore(t)

	var ids []int
	for i := 0; i < 3; i++ {
		v, err := s.GenKeyPair(crypto.Secp256k1)
		if err != nil {
			t.Fatalf("GenKeyPair() error: %v", err)
		}
		ids = append(ids, v.ID)
	}
	if ids[0] != FirstWalletSlot || ids[1] != FirstWalletSlot+1 || ids[2] != FirstWalletSlot+2 {
		t.Fatalf("ids = %v, want consecutive from %d", ids, FirstWalletSlot)
	}

	if err := s.Remove(ids[0], false); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	v, err := s.GenKeyPair(crypto.NISTP256)
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != ids[0] {
		t.Errorf("reused id = %d, want %d", v.ID, ids[0])
	}
}

func TestAllocate_Exhausted(t *testing.T) {
	s, _ := testStore(t)
	for i := FirstWalletSlot; i < 20; i++ {
		if _, err := s.GenKeyPair(crypto.Ed25519); err != nil {
			t.Fatalf("GenKeyPair #%d: %v", i, err)
		}
	}
	before := s.IDs(false)
	_, err := s.GenKeyPair(crypto.Ed25519)
	if !errors.Is(err, hsmerr.ErrSlotExhausted) {
		t.Fatalf("error = %v, want SlotExhausted", err)
	}
	if len(s.IDs(false)) != len(before) {
		t.Error("failed allocation changed the slot table")
	}
}

func TestAllocate_SelfBinding(t *testing.T) {
	s, _ := testStore(t)
	priv, _ := crypto.GenerateKey(crypto.Secp256k1, rand.Reader)
	v, err := s.Allocate(Material{
		Curve:     crypto.Secp256k1,
		Private:   priv,
		ChainCode: make([]byte, 32),
		Wallet:    &WalletBinding{Name: "w"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Wallet.MasterSlot != v.ID || !v.IsWalletRoot() {
		t.Errorf("binding = %+v, want self master", v.Wallet)
	}
	if !v.HasPrivate || !v.HasChainCode {
		t.Error("material flags not set")
	}
}

func TestRemove_ZeroesSecret(t *testing.T) {
	s, _ := testStore(t)
	v, _ := s.GenKeyPair(crypto.Secp256k1)

	s.mu.RLock()
	held := s.own[v.ID].private
	s.mu.RUnlock()

	if err := s.Remove(v.ID, false); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(held, make([]byte, len(held))) {
		t.Error("private key not zeroed on free")
	}
	if _, err := s.Get(v.ID, false); !errors.Is(err, hsmerr.ErrNotFound) {
		t.Errorf("Get after Remove: %v", err)
	}
	if err := s.Remove(v.ID, false); !errors.Is(err, hsmerr.ErrNotFound) {
		t.Errorf("second Remove: %v", err)
	}
}

func TestRemoveMany_AllOrNothing(t *testing.T) {
	s, _ := testStore(t)
	a, _ := s.GenKeyPair(crypto.Secp256k1)
	b, _ := s.GenKeyPair(crypto.Secp256k1)

	if err := s.RemoveMany([]int{a.ID, 19}, false); !errors.Is(err, hsmerr.ErrNotFound) {
		t.Fatalf("error = %v, want NotFound", err)
	}
	if len(s.IDs(false)) != 2 {
		t.Fatal("partial removal")
	}
	if err := s.RemoveMany([]int{a.ID, b.ID}, false); err != nil {
		t.Fatal(err)
	}
	if len(s.IDs(false)) != 0 {
		t.Fatal("slots left after RemoveMany")
	}
}

func TestPersistence_Reopen(t *testing.T) {
	db := storage.NewMemory()
	s, err := Open(db, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	kept, _ := s.GenKeyPair(crypto.Secp256k1)
	sig1, err := s.Sign(kept.ID, testDigest())
	if err != nil {
		t.Fatal(err)
	}
	peer, _ := crypto.GenerateKey(crypto.NISTP256, rand.Reader)
	peerPub, _ := crypto.PublicKey(crypto.NISTP256, peer)
	foreign, _ := s.StoreForeignPubKey(crypto.NISTP256, peerPub)
	s.GenEphemeralKeyPair(crypto.Secp256k1)
	s.DisablePubKeyExport(foreign.ID, true)

	re, err := Open(db, testOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := re.Get(kept.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.PublicKey, kept.PublicKey) {
		t.Error("public key changed across reopen")
	}
	ok, err := re.Verify(kept.ID, false, testDigest(), sig1)
	if err != nil || !ok {
		t.Errorf("Verify after reopen = %v, %v", ok, err)
	}
	if _, err := re.Get(EphemeralSlot, false); !errors.Is(err, hsmerr.ErrNotFound) {
		t.Error("ephemeral key survived reopen")
	}
	if _, err := re.PublicKey(foreign.ID, true); !errors.Is(err, hsmerr.ErrInvalidParameter) {
		t.Errorf("export flag lost across reopen: %v", err)
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	db := storage.NewMemory()
	if _, err := Open(db, testOptions()); err != nil {
		t.Fatal(err)
	}
	opts := testOptions()
	opts.Passphrase = []byte("wrong")
	if _, err := Open(db, opts); err == nil {
		t.Fatal("opened with the wrong passphrase")
	}
}

func TestOpen_BadOptions(t *testing.T) {
	for _, opts := range []Options{
		{MaxSlots: FirstWalletSlot, Rand: rand.Reader},
		{MaxSlots: 10000, Rand: rand.Reader},
		{MaxForeign: -1, Rand: rand.Reader},
		{},
	} {
		if _, err := Open(storage.NewMemory(), opts); err == nil {
			t.Errorf("Open(%+v) succeeded", opts)
		}
	}
}

func TestSealing_BoundToSlot(t *testing.T) {
	s, _ := testStore(t)
	sealed, err := s.sealer.seal(nsOwn, 16, []byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.sealer.open(nsOwn, 17, sealed); err == nil {
		t.Error("ciphertext opened under another slot id")
	}
	if _, err := s.sealer.open(nsForeign, 16, sealed); err == nil {
		t.Error("ciphertext opened under another namespace")
	}
	plain, err := s.sealer.open(nsOwn, 16, sealed)
	if err != nil || string(plain) != "key" {
		t.Errorf("open = %q, %v", plain, err)
	}
}

func TestEphemeral(t *testing.T) {
	s, _ := testStore(t)
	if err := s.InvalidateEphemeral(); !errors.Is(err, hsmerr.ErrNotFound) {
		t.Fatalf("InvalidateEphemeral on empty: %v", err)
	}
	first, err := s.GenEphemeralKeyPair(crypto.Secp256k1)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != EphemeralSlot || !first.Ephemeral {
		t.Fatalf("ephemeral slot = %+v", first)
	}
	second, _ := s.GenEphemeralKeyPair(crypto.Secp256k1)
	if bytes.Equal(first.PublicKey, second.PublicKey) {
		t.Fatal("ephemeral key not replaced")
	}
	if _, err := s.ECDH(EphemeralSlot, first.PublicKey); err != nil {
		t.Fatalf("ECDH with ephemeral: %v", err)
	}
	if err := s.Remove(EphemeralSlot, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sign(EphemeralSlot, testDigest()); !errors.Is(err, hsmerr.ErrNotFound) {
		t.Errorf("Sign after invalidate: %v", err)
	}
}

func TestForeign(t *testing.T) {
	s, _ := testStore(t)
	own, _ := s.GenKeyPair(crypto.Secp256k1)
	sig, _ := s.Sign(own.ID, testDigest())

	f1, err := s.StoreForeignPubKey(crypto.Secp256k1, own.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if f1.ID != 0 || !f1.Foreign {
		t.Fatalf("foreign slot = %+v", f1)
	}
	ok, err := s.Verify(f1.ID, true, testDigest(), sig)
	if err != nil || !ok {
		t.Errorf("Verify via foreign = %v, %v", ok, err)
	}
	if _, err := s.Sign(f1.ID, testDigest()); err == nil {
		t.Error("signed with a foreign id")
	}

	s.StoreForeignPubKey(crypto.Secp256k1, own.PublicKey)
	if _, err := s.StoreForeignPubKey(crypto.Secp256k1, own.PublicKey); !errors.Is(err, hsmerr.ErrSlotExhausted) {
		t.Errorf("third foreign key: %v", err)
	}
	if _, err := s.StoreForeignPubKey(crypto.Secp256k1, []byte{1, 2, 3}); !errors.Is(err, hsmerr.ErrInvalidParameter) {
		t.Errorf("malformed foreign key: %v", err)
	}
}

func TestECDHForeign(t *testing.T) {
	s, _ := testStore(t)
	a, _ := s.GenKeyPair(crypto.NISTP256)
	b, _ := s.GenKeyPair(crypto.NISTP256)
	fb, _ := s.StoreForeignPubKey(crypto.NISTP256, b.PublicKey)

	ab, err := s.ECDHForeign(a.ID, fb.ID)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := s.ECDH(b.ID, a.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ab, ba) {
		t.Error("shared secrets differ")
	}
}

func TestPublicOnlySlot(t *testing.T) {
	s, _ := testStore(t)
	key, _ := crypto.GenerateKey(crypto.Secp256k1, rand.Reader)
	pub, _ := crypto.PublicKey(crypto.Secp256k1, key)
	v, err := s.Allocate(Material{Curve: crypto.Secp256k1, Public: pub, ChainCode: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	if v.HasPrivate {
		t.Fatal("public-only slot reports a private key")
	}
	if _, err := s.Sign(v.ID, testDigest()); !errors.Is(err, hsmerr.ErrPrivateMaterialRequired) {
		t.Errorf("Sign on public-only slot: %v", err)
	}
}

func TestSignRecoverable_CurveCheck(t *testing.T) {
	s, _ := testStore(t)
	v, _ := s.GenKeyPair(crypto.NISTP256)
	if _, err := s.SignRecoverable(v.ID, testDigest()); !errors.Is(err, hsmerr.ErrInvalidParameter) {
		t.Errorf("error = %v, want InvalidParameter", err)
	}
	k, _ := s.GenKeyPair(crypto.Secp256k1)
	sig, err := s.SignRecoverable(k.ID, testDigest())
	if err != nil || len(sig) != 65 {
		t.Fatalf("SignRecoverable = %d bytes, %v", len(sig), err)
	}
}

func TestEntropy(t *testing.T) {
	s, _ := testStore(t)
	b, err := s.Entropy(32)
	if err != nil || len(b) != 32 {
		t.Fatalf("Entropy(32) = %d bytes, %v", len(b), err)
	}
	for _, n := range []int{0, -1, MaxEntropy + 1} {
		if _, err := s.Entropy(n); !errors.Is(err, hsmerr.ErrInvalidParameter) {
			t.Errorf("Entropy(%d): %v", n, err)
		}
	}
}

func TestFind(t *testing.T) {
	s, _ := testStore(t)
	s.GenKeyPair(crypto.Secp256k1)
	want, _ := s.GenKeyPair(crypto.Ed25519)
	got, ok := s.Find(func(v Slot) bool { return v.Curve == crypto.Ed25519 })
	if !ok || got.ID != want.ID {
		t.Fatalf("Find = %d, %v", got.ID, ok)
	}
	if _, ok := s.Find(func(v Slot) bool { return v.Curve == crypto.NISTP256 }); ok {
		t.Fatal("Find matched nothing but returned ok")
	}
}

func TestMetricsGauges(t *testing.T) {
	m := metrics.New()
	opts := testOptions()
	opts.Metrics = m
	s, err := Open(storage.NewMemory(), opts)
	if err != nil {
		t.Fatal(err)
	}
	s.GenKeyPair(crypto.Secp256k1)
	s.GenKeyPair(crypto.Secp256k1)
	s.GenEphemeralKeyPair(crypto.Secp256k1)

	n, err := testutil.GatherAndCount(m.Registry(), "klinghsm_slots_in_use")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("slot gauge series = %d, want 3", n)
	}
}

func TestPersistence_Badger(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	s, err := Open(db, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	v, _ := s.GenKeyPair(crypto.Ed25519)
	db.Close()

	db, err = storage.NewBadger(dir)
	if err != nil {
		t.Fatalf("reopen badger: %v", err)
	}
	defer db.Close()
	re, err := Open(db, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	got, err := re.Get(v.ID, false)
	if err != nil || !bytes.Equal(got.PublicKey, v.PublicKey) {
		t.Fatalf("slot after badger reopen = %+v, %v", got, err)
	}
}
