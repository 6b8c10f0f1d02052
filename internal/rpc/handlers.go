package rpc

import (
	"encoding/hex"
	"strings"

	"github.com/Klingon-tech/klingnet-hsm/config"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
)

func (s *Server) handleGetInfo(_ *Request) (interface{}, *Error) {
	store := s.engine.Store()
	res := &InfoResult{
		Version:      config.Version,
		Slots:        len(store.IDs(false)),
		ForeignSlots: len(store.IDs(true)),
		Wallets:      len(s.engine.Wallets()),
	}
	if info, ok := s.engine.ActiveSession(); ok {
		res.ActiveSession = &info
	}
	if info, ok := s.engine.LostSession(); ok {
		res.LostSession = &info
	}
	return res, nil
}

// decodeHex decodes a hex param, with or without a 0x prefix. An empty
// string decodes to nil.
func decodeHex(field, s string) ([]byte, *Error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid " + field + ": " + err.Error()}
	}
	return b, nil
}

// requireHex is decodeHex for mandatory params.
func requireHex(field, s string) ([]byte, *Error) {
	b, rpcErr := decodeHex(field, s)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(b) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: field + " required"}
	}
	return b, nil
}

func parseCurve(s string) (crypto.Curve, *Error) {
	c, err := crypto.ParseCurve(s)
	if err != nil {
		return "", errorFrom(err)
	}
	return c, nil
}
