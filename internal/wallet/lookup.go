package wallet

import (
	"time"

	"github.com/Klingon-tech/klingnet-hsm/internal/keyslot"
	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/nodeaddr"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// WalletRef identifies a wallet by name or by master slot. A MasterSlot
// of 0 means unset.
type WalletRef struct {
	Name       string
	MasterSlot int
}

// AddressResult locates a slot in its wallet tree.
type AddressResult struct {
	NodeAddress string
	WalletName  string
	MasterSlot  int
}

// AddressOf returns the node address and wallet of a slot.
func (e *Engine) AddressOf(slot int) (*AddressResult, error) {
	v, err := e.store.Get(slot, false)
	if err != nil {
		return nil, err
	}
	if v.Wallet == nil {
		return nil, hsmerr.New(hsmerr.KindNotFound, "slot %d is not part of a wallet", slot)
	}
	return &AddressResult{
		NodeAddress: nodeaddr.Format(v.Wallet.Path),
		WalletName:  v.Wallet.Name,
		MasterSlot:  v.Wallet.MasterSlot,
	}, nil
}

// SlotOf resolves a node address inside a wallet.
func (e *Engine) SlotOf(addr string, ref WalletRef) (int, error) {
	path, err := nodeaddr.Parse(addr)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	root, err := e.resolveWallet(ref)
	if err != nil {
		return 0, err
	}
	v, ok := e.findNode(root.ID, path)
	if !ok {
		return 0, hsmerr.New(hsmerr.KindNotFound, "no slot at %s in wallet %q", nodeaddr.Format(path), root.Wallet.Name)
	}
	return v.ID, nil
}

// Root returns the root slot of a wallet.
func (e *Engine) Root(ref WalletRef) (keyslot.Slot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveWallet(ref)
}

// resolveWallet finds the root slot a reference points at. Caller holds mu.
func (e *Engine) resolveWallet(ref WalletRef) (keyslot.Slot, error) {
	switch {
	case ref.Name == "" && ref.MasterSlot == 0:
		return keyslot.Slot{}, hsmerr.New(hsmerr.KindAmbiguousWallet, "neither wallet name nor master slot given")
	case ref.MasterSlot != 0:
		v, err := e.store.Get(ref.MasterSlot, false)
		if err != nil {
			return keyslot.Slot{}, err
		}
		if !v.IsWalletRoot() {
			return keyslot.Slot{}, hsmerr.New(hsmerr.KindNotFound, "slot %d is not a wallet root", ref.MasterSlot)
		}
		if ref.Name != "" && ref.Name != v.Wallet.Name {
			return keyslot.Slot{}, hsmerr.Invalid("slot %d belongs to wallet %q, not %q", ref.MasterSlot, v.Wallet.Name, ref.Name)
		}
		return v, nil
	}
	v, ok := e.walletRoot(ref.Name)
	if !ok {
		return keyslot.Slot{}, hsmerr.New(hsmerr.KindNotFound, "wallet %q not found", ref.Name)
	}
	return v, nil
}

// walletRoot finds the root slot of a wallet by name.
func (e *Engine) walletRoot(name string) (keyslot.Slot, bool) {
	return e.store.Find(func(v keyslot.Slot) bool {
		return v.IsWalletRoot() && v.Wallet.Name == name
	})
}

// findNode finds the slot of a path in the wallet rooted at master.
func (e *Engine) findNode(master int, path []uint32) (keyslot.Slot, bool) {
	return e.store.Find(func(v keyslot.Slot) bool {
		return v.Wallet != nil && v.Wallet.MasterSlot == master && samePath(v.Wallet.Path, path)
	})
}

func samePath(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WalletInfo summarizes one wallet.
type WalletInfo struct {
	Name        string       `json:"name"`
	MasterSlot  int          `json:"master_slot"`
	Curve       crypto.Curve `json:"curve"`
	Oversight   bool         `json:"oversight"`
	NodeAddress string       `json:"node_address"`
	KeyID       string       `json:"key_id"`
	Slots       int          `json:"slots"`
}

// Wallets lists every wallet ordered by master slot.
func (e *Engine) Wallets() []WalletInfo {
	slots := e.store.Slots(false)
	counts := make(map[int]int)
	for _, v := range slots {
		if v.Wallet != nil {
			counts[v.Wallet.MasterSlot]++
		}
	}
	var out []WalletInfo
	for _, v := range slots {
		if !v.IsWalletRoot() {
			continue
		}
		out = append(out, WalletInfo{
			Name:        v.Wallet.Name,
			MasterSlot:  v.ID,
			Curve:       v.Curve,
			Oversight:   v.Wallet.Oversight,
			NodeAddress: nodeaddr.Format(v.Wallet.Path),
			KeyID:       crypto.KeyID(v.Curve, v.PublicKey),
			Slots:       counts[v.ID],
		})
	}
	return out
}

// WalletSlots lists the slots of a wallet in ascending order.
func (e *Engine) WalletSlots(ref WalletRef) ([]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	root, err := e.resolveWallet(ref)
	if err != nil {
		return nil, err
	}
	return e.walletSlotIDs(root.ID), nil
}

func (e *Engine) walletSlotIDs(master int) []int {
	var ids []int
	for _, v := range e.store.Slots(false) {
		if v.Wallet != nil && v.Wallet.MasterSlot == master {
			ids = append(ids, v.ID)
		}
	}
	return ids
}

// DeleteWallet removes a wallet and every slot derived from it.
func (e *Engine) DeleteWallet(ref WalletRef) (err error) {
	defer e.observe("delete_wallet", time.Now(), &err)
	e.mu.Lock()
	defer e.mu.Unlock()
	root, err := e.resolveWallet(ref)
	if err != nil {
		return err
	}
	ids := e.walletSlotIDs(root.ID)
	if err := e.store.RemoveMany(ids, false); err != nil {
		return err
	}
	klog.WithWallet(root.Wallet.Name).Info().Int("slots", len(ids)).Msg("Wallet deleted")
	return nil
}
