package wallet

import (
	"time"

	"github.com/Klingon-tech/klingnet-hsm/internal/hd"
	"github.com/Klingon-tech/klingnet-hsm/internal/keyslot"
	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/nodeaddr"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// DeriveRequest names a child of a wallet slot.
type DeriveRequest struct {
	Parent int
	// Index is the child number. With Hardened set, indices below 2^31
	// are offset into the hardened range.
	Index         uint32
	Hardened      bool
	WantChainCode bool
}

// DeriveResult is the child slot and, on request, its chain code.
type DeriveResult struct {
	Slot        int
	NodeAddress string
	ChainCode   []byte
}

// DeriveChild derives one child of a wallet slot. Deriving a node that is
// already stored returns its slot.
func (e *Engine) DeriveChild(req DeriveRequest) (res *DeriveResult, err error) {
	defer e.observe("derive", time.Now(), &err)

	index := req.Index
	switch {
	case !req.Hardened && index >= hd.HardenedOffset:
		return nil, hsmerr.Invalid("index %d is in the hardened range but hardened is not set", index)
	case req.Hardened && index < hd.HardenedOffset:
		index += hd.HardenedOffset
	}
	if req.WantChainCode && !req.Hardened {
		return nil, hsmerr.New(hsmerr.KindChainCodeUnavailable, "chain codes are only returned for hardened nodes")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deriveChild(req.Parent, index, req.WantChainCode)
}

// deriveChild derives child index of parentID, index already carrying the
// hardened offset. Caller holds mu.
func (e *Engine) deriveChild(parentID int, index uint32, wantChainCode bool) (res *DeriveResult, err error) {
	parent, err := e.store.Get(parentID, false)
	if err != nil {
		return nil, err
	}
	if parent.Wallet == nil {
		return nil, hsmerr.Invalid("slot %d is not part of a wallet", parentID)
	}
	if !parent.HasChainCode {
		return nil, hsmerr.Invalid("slot %d has no chain code", parentID)
	}
	path := append(append([]uint32(nil), parent.Wallet.Path...), index)
	if len(path) > hd.MaxDepth {
		return nil, hsmerr.Invalid("path deeper than %d", hd.MaxDepth)
	}
	binding := keyslot.WalletBinding{
		Name:       parent.Wallet.Name,
		MasterSlot: parent.Wallet.MasterSlot,
		Path:       path,
		Oversight:  parent.Wallet.Oversight,
	}

	if existing, ok := e.findNode(binding.MasterSlot, path); ok {
		res := &DeriveResult{Slot: existing.ID, NodeAddress: nodeaddr.Format(path)}
		if wantChainCode {
			if res.ChainCode, err = e.chainCode(existing.ID); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	var child *hd.Node
	err = e.store.WithSecret(parent.ID, func(priv, chainCode []byte) error {
		var node *hd.Node
		var err error
		if priv != nil {
			node, err = hd.FromPrivate(parent.Curve, priv, chainCode, uint8(len(path)-1))
		} else {
			node, err = hd.FromPublic(parent.Curve, parent.PublicKey, chainCode, uint8(len(path)-1))
		}
		if err != nil {
			return err
		}
		defer node.Zero()
		child, err = node.Child(index)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer child.Zero()

	priv := child.PrivateKey()
	defer crypto.Wipe(priv)
	v, err := e.store.Allocate(keyslot.Material{
		Curve:      parent.Curve,
		Private:    priv,
		Public:     child.PublicKey(),
		ChainCode:  child.ChainCode(),
		Exportable: true,
		Wallet:     &binding,
	})
	if err != nil {
		return nil, err
	}

	res = &DeriveResult{Slot: v.ID, NodeAddress: nodeaddr.Format(path)}
	if wantChainCode {
		res.ChainCode = child.ChainCode()
	}
	klog.WithWallet(binding.Name).Debug().
		Int("slot", v.ID).
		Str("node", res.NodeAddress).
		Msg("Child derived")
	return res, nil
}

// DerivePath derives every missing node along a node address below a
// wallet root and returns the slot of the last one. The whole path is
// derived under one lock, so a concurrent delete cannot reparent it.
func (e *Engine) DerivePath(ref WalletRef, addr string) (slot int, err error) {
	defer e.observe("derive_path", time.Now(), &err)
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
	if !nodeaddr.HasPrefix(path, root.Wallet.Path) {
		return 0, hsmerr.Invalid("%s is not below the wallet root %s", addr, nodeaddr.Format(root.Wallet.Path))
	}

	id := root.ID
	for _, idx := range path[len(root.Wallet.Path):] {
		res, err := e.deriveChild(id, idx, false)
		if err != nil {
			return 0, err
		}
		id = res.Slot
	}
	return id, nil
}

// OversightRequest anchors a public-only wallet at an extended public key.
type OversightRequest struct {
	Curve       crypto.Curve
	PublicKey   []byte
	ChainCode   []byte
	NodeAddress string
	WalletName  string
	Variant     string
}

// GenerateOversightWallet stores a public-only wallet root. Its children
// can be derived non-hardened only.
func (e *Engine) GenerateOversightWallet(req OversightRequest) (slot int, err error) {
	defer e.observe("oversight", time.Now(), &err)
	if err := validateVariant(req.Variant); err != nil {
		return 0, err
	}
	if req.Curve == crypto.Ed25519 {
		return 0, hsmerr.Invalid("ed25519 has no public derivation")
	}
	if err := e.validateWallet(req.Curve, req.WalletName, nil); err != nil {
		return 0, err
	}
	path, err := nodeaddr.Parse(req.NodeAddress)
	if err != nil {
		return 0, err
	}
	// Validates the key and chain code.
	if _, err := hd.FromPublic(req.Curve, req.PublicKey, req.ChainCode, 0); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.walletRoot(req.WalletName); exists {
		return 0, hsmerr.Invalid("wallet %q already exists", req.WalletName)
	}
	if err := e.checkSessionName(req.WalletName); err != nil {
		return 0, err
	}
	v, err := e.store.Allocate(keyslot.Material{
		Curve:      req.Curve,
		Public:     req.PublicKey,
		ChainCode:  req.ChainCode,
		Exportable: true,
		Wallet: &keyslot.WalletBinding{
			Name:      req.WalletName,
			Path:      path,
			Oversight: true,
		},
	})
	if err != nil {
		return 0, err
	}
	klog.WithWallet(req.WalletName).Info().
		Int("slot", v.ID).
		Str("node", nodeaddr.Format(path)).
		Msg("Oversight wallet stored")
	return v.ID, nil
}

func (e *Engine) chainCode(id int) ([]byte, error) {
	var out []byte
	err := e.store.WithSecret(id, func(_, chainCode []byte) error {
		if chainCode == nil {
			return hsmerr.New(hsmerr.KindChainCodeUnavailable, "slot %d has no chain code", id)
		}
		out = append([]byte(nil), chainCode...)
		return nil
	})
	return out, err
}
