package rpc

import (
	"encoding/hex"

	"github.com/Klingon-tech/klingnet-hsm/internal/nodeaddr"
	"github.com/Klingon-tech/klingnet-hsm/internal/wallet"
)

// toStrategy converts a strategy param to a RecoveryStrategy. A nil param
// is NoRecovery.
func toStrategy(p *StrategyParam) (wallet.RecoveryStrategy, *Error) {
	if p == nil {
		return wallet.NoRecovery{}, nil
	}
	switch p.Type {
	case "", "none":
		return wallet.NoRecovery{}, nil
	case "bip39":
		return wallet.BIP39Strategy{Passphrase: p.Passphrase, Variant: p.Variant}, nil
	case "slip39":
		return wallet.SLIP39Strategy{
			GroupCount:        p.GroupCount,
			GroupThreshold:    p.GroupThreshold,
			IterationExponent: p.IterationExponent,
			Passphrase:        p.Passphrase,
			Variant:           p.Variant,
		}, nil
	}
	return nil, &Error{Code: CodeInvalidParams, Message: "unknown strategy type " + p.Type}
}

func (s *Server) handleWalletGenerate(req *Request) (interface{}, *Error) {
	var p WalletGenerateParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	curve, rpcErr := parseCurve(p.Curve)
	if rpcErr != nil {
		return nil, rpcErr
	}
	genKey, rpcErr := decodeHex("generator_key", p.GeneratorKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	st, rpcErr := toStrategy(p.Strategy)
	if rpcErr != nil {
		return nil, rpcErr
	}

	res, err := s.engine.GenerateMasterSeed(wallet.GenerateRequest{
		Curve:        curve,
		WalletName:   p.WalletName,
		GeneratorKey: genKey,
		Strategy:     st,
	})
	if err != nil {
		return nil, errorFrom(err)
	}
	out := &GenerateResult{Slot: res.Slot, Mnemonic: res.Mnemonic}
	if res.Session != nil {
		out.SessionID = res.Session.ID()
	}
	return out, nil
}

func (s *Server) handleWalletRestore(req *Request) (interface{}, *Error) {
	var p WalletRestoreParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if p.Strategy == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "strategy required"}
	}
	curve, rpcErr := parseCurve(p.Curve)
	if rpcErr != nil {
		return nil, rpcErr
	}
	genKey, rpcErr := decodeHex("generator_key", p.GeneratorKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	st, rpcErr := toStrategy(p.Strategy)
	if rpcErr != nil {
		return nil, rpcErr
	}

	res, err := s.engine.RestoreMasterSeed(wallet.RestoreRequest{
		Curve:        curve,
		WalletName:   p.WalletName,
		GeneratorKey: genKey,
		Strategy:     st,
		Mnemonic:     p.Mnemonic,
	})
	if err != nil {
		return nil, errorFrom(err)
	}
	out := &RestoreResult{Slot: res.Slot}
	if res.Session != nil && res.Slot == 0 {
		out.SessionID = res.Session.ID()
	}
	if res.Shares != nil {
		out.Progress = shareResult(res.Shares)
	}
	return out, nil
}

func shareResult(r *wallet.ShareResult) *ShareResult {
	return &ShareResult{
		Slot:           r.Slot,
		Done:           r.Done,
		GroupsComplete: r.GroupsComplete,
		GroupThreshold: r.GroupThreshold,
		Shares:         r.Shares,
	}
}

func (s *Server) handleWalletDerive(req *Request) (interface{}, *Error) {
	var p DeriveParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	res, err := s.engine.DeriveChild(wallet.DeriveRequest{
		Parent:        p.Parent,
		Index:         p.Index,
		Hardened:      p.Hardened,
		WantChainCode: p.WantChainCode,
	})
	if err != nil {
		return nil, errorFrom(err)
	}
	out := &DeriveResult{Slot: res.Slot, NodeAddress: res.NodeAddress}
	if res.ChainCode != nil {
		out.ChainCode = hex.EncodeToString(res.ChainCode)
	}
	return out, nil
}

func (s *Server) handleWalletDerivePath(req *Request) (interface{}, *Error) {
	var p NodeParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	slot, err := s.engine.DerivePath(p.ref(), p.NodeAddress)
	if err != nil {
		return nil, errorFrom(err)
	}
	return s.slotResult(slot), nil
}

func (s *Server) handleWalletOversight(req *Request) (interface{}, *Error) {
	var p OversightParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	curve, rpcErr := parseCurve(p.Curve)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pub, rpcErr := requireHex("public_key", p.PublicKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	cc, rpcErr := requireHex("chain_code", p.ChainCode)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if p.NodeAddress == "" {
		p.NodeAddress = nodeaddr.Root
	}

	slot, err := s.engine.GenerateOversightWallet(wallet.OversightRequest{
		Curve:       curve,
		PublicKey:   pub,
		ChainCode:   cc,
		NodeAddress: p.NodeAddress,
		WalletName:  p.WalletName,
		Variant:     p.Variant,
	})
	if err != nil {
		return nil, errorFrom(err)
	}
	return s.slotResult(slot), nil
}

func (s *Server) handleWalletAddressOf(req *Request) (interface{}, *Error) {
	var p SlotParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	res, err := s.engine.AddressOf(p.Slot)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &AddressResult{
		NodeAddress: res.NodeAddress,
		WalletName:  res.WalletName,
		MasterSlot:  res.MasterSlot,
	}, nil
}

func (s *Server) handleWalletSlotOf(req *Request) (interface{}, *Error) {
	var p NodeParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	slot, err := s.engine.SlotOf(p.NodeAddress, p.ref())
	if err != nil {
		return nil, errorFrom(err)
	}
	return s.slotResult(slot), nil
}

func (s *Server) handleWalletList(_ *Request) (interface{}, *Error) {
	wallets := s.engine.Wallets()
	if wallets == nil {
		wallets = []wallet.WalletInfo{}
	}
	return &WalletListResult{Wallets: wallets}, nil
}

func (s *Server) handleWalletSlots(req *Request) (interface{}, *Error) {
	var p WalletRefParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	ids, err := s.engine.WalletSlots(p.ref())
	if err != nil {
		return nil, errorFrom(err)
	}
	if ids == nil {
		ids = []int{}
	}
	return &SlotListResult{Slots: ids}, nil
}

func (s *Server) handleWalletDelete(req *Request) (interface{}, *Error) {
	var p WalletRefParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if err := s.engine.DeleteWallet(p.ref()); err != nil {
		return nil, errorFrom(err)
	}
	return &OKResult{OK: true}, nil
}

// slotResult reports a slot with its public key when export is allowed.
func (s *Server) slotResult(id int) *SlotResult {
	res := &SlotResult{Slot: id}
	if v, err := s.engine.Store().Get(id, false); err == nil && v.Exportable {
		res.PublicKey = hex.EncodeToString(v.PublicKey)
	}
	return res
}
