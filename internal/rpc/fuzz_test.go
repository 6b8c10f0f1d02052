package rpc

import (
	"encoding/json"
	"testing"
)

// FuzzRPCRequestUnmarshal tests that arbitrary JSON does not panic
// when parsed as a JSON-RPC 2.0 request.
func FuzzRPCRequestUnmarshal(f *testing.F) {
	f.Add([]byte(`{"jsonrpc":"2.0","method":"hsm_getInfo","params":null,"id":1}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"wallet_derive","params":{"parent":16,"index":1},"id":"test"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"method":"","params":[]}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"key_sign","params":[1,2,3],"id":999}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		_ = req.Method
		_ = req.ID
	})
}

// FuzzParseParams feeds arbitrary params through every param decoder
// used by the handlers.
func FuzzParseParams(f *testing.F) {
	f.Add([]byte(`{"parent":16,"index":2147483648,"hardened":true}`))
	f.Add([]byte(`{"slot":-1,"foreign_slot":null}`))
	f.Add([]byte(`{"strategy":{"type":"slip39","group_count":300}}`))
	f.Add([]byte(`[]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var params interface{}
		if err := json.Unmarshal(data, &params); err != nil {
			return
		}
		req := &Request{Params: params}
		targets := []interface{}{
			&DeriveParam{}, &NodeParam{}, &WalletGenerateParam{}, &WalletRestoreParam{},
			&ECDHParam{}, &SignParam{}, &GroupInfoParam{}, &EthSignParam{},
		}
		for _, target := range targets {
			_ = parseParams(req, target)
		}
		var p WalletGenerateParam
		if parseParams(req, &p) == nil {
			toStrategy(p.Strategy)
			decodeHex("generator_key", p.GeneratorKey)
		}
	})
}
