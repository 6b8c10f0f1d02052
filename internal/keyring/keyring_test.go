package keyring

import (
	"crypto/rand"
	"testing"

	"github.com/Klingon-tech/klingnet-hsm/internal/keyslot"
	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/storage"
	"github.com/Klingon-tech/klingnet-hsm/internal/wallet"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Account 0 of the "abandon ... about" mnemonic with no passphrase.
const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testAccount0 = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

func testEngine(t *testing.T, db storage.DB) *wallet.Engine {
	t.Helper()
	klog.Init("error", false, "")
	store, err := keyslot.Open(db, keyslot.Options{
		MaxSlots:   64,
		Passphrase: []byte("pass"),
		KDF:        keyslot.KDFParams{Memory: 64, Iterations: 1, Parallelism: 1},
		Rand:       rand.Reader,
	})
	if err != nil {
		t.Fatalf("keyslot.Open() error: %v", err)
	}
	e, err := wallet.New(store, db, wallet.Config{})
	if err != nil {
		t.Fatalf("wallet.New() error: %v", err)
	}
	return e
}

func restoreTestWallet(t *testing.T, e *wallet.Engine) int {
	t.Helper()
	slot, err := e.RestoreFromMnemonic(crypto.Secp256k1, "eth", nil, testMnemonic, wallet.BIP39Strategy{})
	if err != nil {
		t.Fatalf("RestoreFromMnemonic() error: %v", err)
	}
	return slot
}

func TestKeyring_KnownAddress(t *testing.T) {
	e := testEngine(t, storage.NewMemory())
	restoreTestWallet(t, e)

	k, err := Open(e, Options{WalletName: "eth"})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if n := len(k.Accounts()); n != 0 {
		t.Fatalf("fresh keyring has %d accounts", n)
	}
	addrs, err := k.AddAccounts(2)
	if err != nil {
		t.Fatalf("AddAccounts() error: %v", err)
	}
	if addrs[0] != common.HexToAddress(testAccount0) {
		t.Fatalf("account 0 = %s, want %s", addrs[0].Hex(), testAccount0)
	}
	if addrs[0] == addrs[1] {
		t.Fatal("accounts 0 and 1 share an address")
	}

	_, path, err := k.Slot(addrs[1])
	if err != nil || path != "m/44'/60'/0'/0/1" {
		t.Fatalf("Slot() = %q, %v", path, err)
	}
}

func TestKeyring_SignHash(t *testing.T) {
	e := testEngine(t, storage.NewMemory())
	restoreTestWallet(t, e)
	k, err := Open(e, Options{WalletName: "eth"})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	addrs, err := k.AddAccounts(1)
	if err != nil {
		t.Fatalf("AddAccounts() error: %v", err)
	}

	hash := ethcrypto.Keccak256([]byte("hello"))
	sig, err := k.SignHash(addrs[0], hash)
	if err != nil {
		t.Fatalf("SignHash() error: %v", err)
	}
	if len(sig) != 65 || sig[64] > 1 {
		t.Fatalf("signature = %x, want 65 bytes with V in {0,1}", sig)
	}
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		t.Fatalf("SigToPub() error: %v", err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != addrs[0] {
		t.Fatal("signature does not recover to the account")
	}

	_, err = k.SignHash(common.Address{}, hash)
	if hsmerr.KindOf(err) != hsmerr.KindNotFound {
		t.Fatalf("SignHash(unknown) error = %v, want NotFound", err)
	}
	_, err = k.SignHash(addrs[0], hash[:31])
	if hsmerr.KindOf(err) != hsmerr.KindInvalidParameter {
		t.Fatalf("SignHash(short) error = %v, want InvalidParameter", err)
	}
}

func TestKeyring_ReopenLoadsAccounts(t *testing.T) {
	db := storage.NewMemory()
	e := testEngine(t, db)
	master := restoreTestWallet(t, e)

	k, err := Open(e, Options{WalletName: "eth"})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	want, err := k.AddAccounts(3)
	if err != nil {
		t.Fatalf("AddAccounts() error: %v", err)
	}

	k2, err := Open(testEngine(t, db), Options{MasterSlot: master})
	if err != nil {
		t.Fatalf("Open(reopen) error: %v", err)
	}
	got := k2.Accounts()
	if len(got) != len(want) {
		t.Fatalf("reopened keyring has %d accounts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("account %d = %s, want %s", i, got[i].Hex(), want[i].Hex())
		}
	}
}

func TestKeyring_Errors(t *testing.T) {
	e := testEngine(t, storage.NewMemory())
	if _, err := e.GenerateMasterSeed(wallet.GenerateRequest{Curve: crypto.NISTP256, WalletName: "p256"}); err != nil {
		t.Fatalf("GenerateMasterSeed() error: %v", err)
	}

	tests := []struct {
		name string
		opts Options
		kind hsmerr.Kind
	}{
		{"no wallet", Options{}, hsmerr.KindAmbiguousWallet},
		{"missing", Options{WalletName: "nope"}, hsmerr.KindNotFound},
		{"wrong curve", Options{WalletName: "p256"}, hsmerr.KindInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(e, tt.opts)
			if hsmerr.KindOf(err) != tt.kind {
				t.Fatalf("Open() error = %v, want %s", err, tt.kind)
			}
		})
	}

	restoreTestWallet(t, e)
	k, err := Open(e, Options{WalletName: "eth"})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := k.AddAccounts(0); hsmerr.KindOf(err) != hsmerr.KindInvalidParameter {
		t.Fatalf("AddAccounts(0) error = %v", err)
	}
}
