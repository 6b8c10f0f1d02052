// Package keyring exposes a secp256k1 wallet as a list of Ethereum
// accounts at m/44'/60'/0'/0/i.
package keyring

import (
	"fmt"
	"strconv"
	"sync"

	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/wallet"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// BasePath is the parent node of all keyring accounts.
const BasePath = "m/44'/60'/0'/0"

// MaxAccounts bounds a single AddAccounts call.
const MaxAccounts = 100

// Options selects the wallet a keyring attaches to.
type Options struct {
	WalletName string
	MasterSlot int
}

type account struct {
	index   uint32
	slot    int
	address common.Address
}

// Keyring maps Ethereum addresses to wallet slots.
type Keyring struct {
	mu       sync.RWMutex
	engine   *wallet.Engine
	ref      wallet.WalletRef
	base     int
	accounts []account
	byAddr   map[common.Address]int
}

// Open attaches to a secp256k1 wallet, deriving any missing node of
// BasePath and loading the accounts already derived below it.
func Open(e *wallet.Engine, opts Options) (*Keyring, error) {
	root, err := e.Root(wallet.WalletRef{Name: opts.WalletName, MasterSlot: opts.MasterSlot})
	if err != nil {
		return nil, err
	}
	if root.Curve != crypto.Secp256k1 {
		return nil, hsmerr.Invalid("keyring needs a secp256k1 wallet, %q is %s", root.Wallet.Name, root.Curve)
	}
	ref := wallet.WalletRef{MasterSlot: root.ID}
	base, err := e.DerivePath(ref, BasePath)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", BasePath, err)
	}

	k := &Keyring{
		engine: e,
		ref:    ref,
		base:   base,
		byAddr: make(map[common.Address]int),
	}
	for i := uint32(0); ; i++ {
		slot, err := e.SlotOf(accountPath(i), k.ref)
		if hsmerr.KindOf(err) == hsmerr.KindNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := k.add(i, slot); err != nil {
			return nil, err
		}
	}
	klog.Keyring.Info().
		Str("wallet", root.Wallet.Name).
		Int("accounts", len(k.accounts)).
		Msg("Keyring opened")
	return k, nil
}

func accountPath(i uint32) string {
	return BasePath + "/" + strconv.FormatUint(uint64(i), 10)
}

// add records an account slot. Caller holds mu or owns k exclusively.
func (k *Keyring) add(index uint32, slot int) error {
	pub, err := k.engine.Store().PublicKey(slot, false)
	if err != nil {
		return err
	}
	addr, err := Address(pub)
	if err != nil {
		return err
	}
	k.byAddr[addr] = len(k.accounts)
	k.accounts = append(k.accounts, account{index: index, slot: slot, address: addr})
	return nil
}

// Address converts a compressed secp256k1 public key to its Ethereum
// address.
func Address(pub []byte) (common.Address, error) {
	key, err := ethcrypto.DecompressPubkey(pub)
	if err != nil {
		return common.Address{}, hsmerr.Invalid("parse public key: %v", err)
	}
	return ethcrypto.PubkeyToAddress(*key), nil
}

// AddAccounts derives n more accounts and returns their addresses.
func (k *Keyring) AddAccounts(n int) ([]common.Address, error) {
	if n < 1 || n > MaxAccounts {
		return nil, hsmerr.Invalid("account count must be 1-%d", MaxAccounts)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]common.Address, 0, n)
	next := uint32(len(k.accounts))
	for i := 0; i < n; i++ {
		res, err := k.engine.DeriveChild(wallet.DeriveRequest{Parent: k.base, Index: next})
		if err != nil {
			return out, err
		}
		if err := k.add(next, res.Slot); err != nil {
			return out, err
		}
		out = append(out, k.accounts[len(k.accounts)-1].address)
		next++
	}
	klog.Keyring.Debug().Int("added", n).Int("total", len(k.accounts)).Msg("Accounts added")
	return out, nil
}

// Accounts lists the addresses in derivation order.
func (k *Keyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, len(k.accounts))
	for i, a := range k.accounts {
		out[i] = a.address
	}
	return out
}

// Slot returns the key slot and node address of an account.
func (k *Keyring) Slot(addr common.Address) (int, string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	i, ok := k.byAddr[addr]
	if !ok {
		return 0, "", hsmerr.New(hsmerr.KindNotFound, "account %s not in keyring", addr.Hex())
	}
	a := k.accounts[i]
	return a.slot, accountPath(a.index), nil
}

// SignHash signs a 32-byte hash with an account key and returns
// [R || S || V] with V in {0, 1}.
func (k *Keyring) SignHash(addr common.Address, hash []byte) ([]byte, error) {
	slot, _, err := k.Slot(addr)
	if err != nil {
		return nil, err
	}
	sig, err := k.engine.Store().SignRecoverable(slot, hash)
	if err != nil {
		return nil, err
	}
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != addr {
		return nil, fmt.Errorf("recovered signer does not match %s", addr.Hex())
	}
	return sig, nil
}
