package rpc

import (
	"encoding/hex"

	"github.com/Klingon-tech/klingnet-hsm/internal/keyring"
	"github.com/ethereum/go-ethereum/common"
)

func (s *Server) openKeyring(p WalletRefParam) (*keyring.Keyring, *Error) {
	kr, err := keyring.Open(s.engine, keyring.Options{WalletName: p.WalletName, MasterSlot: p.MasterSlot})
	if err != nil {
		return nil, errorFrom(err)
	}
	return kr, nil
}

func hexAddresses(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func (s *Server) handleEthAccounts(req *Request) (interface{}, *Error) {
	var p EthAccountsParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	kr, rpcErr := s.openKeyring(p.WalletRefParam)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &EthAccountsResult{Accounts: hexAddresses(kr.Accounts())}, nil
}

func (s *Server) handleEthAddAccounts(req *Request) (interface{}, *Error) {
	var p EthAccountsParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if p.Count == 0 {
		p.Count = 1
	}
	kr, rpcErr := s.openKeyring(p.WalletRefParam)
	if rpcErr != nil {
		return nil, rpcErr
	}
	added, err := kr.AddAccounts(p.Count)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &EthAccountsResult{Accounts: hexAddresses(added)}, nil
}

func (s *Server) handleEthSignHash(req *Request) (interface{}, *Error) {
	var p EthSignParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(p.Address) {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid address"}
	}
	hash, rpcErr := requireHex("hash", p.Hash)
	if rpcErr != nil {
		return nil, rpcErr
	}
	kr, rpcErr := s.openKeyring(p.WalletRefParam)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, err := kr.SignHash(common.HexToAddress(p.Address), hash)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &SignatureResult{Signature: hex.EncodeToString(sig)}, nil
}
