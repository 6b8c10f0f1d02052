package rpc

import (
	"encoding/hex"

	"github.com/Klingon-tech/klingnet-hsm/internal/keyslot"
)

func newSlotResult(v keyslot.Slot) *SlotResult {
	return &SlotResult{Slot: v.ID, PublicKey: hex.EncodeToString(v.PublicKey)}
}

func (s *Server) handleKeyGenerate(req *Request) (interface{}, *Error) {
	var p CurveParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	curve, rpcErr := parseCurve(p.Curve)
	if rpcErr != nil {
		return nil, rpcErr
	}
	v, err := s.engine.Store().GenKeyPair(curve)
	if err != nil {
		return nil, errorFrom(err)
	}
	return newSlotResult(v), nil
}

func (s *Server) handleKeyGenerateEphemeral(req *Request) (interface{}, *Error) {
	var p CurveParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	curve, rpcErr := parseCurve(p.Curve)
	if rpcErr != nil {
		return nil, rpcErr
	}
	v, err := s.engine.Store().GenEphemeralKeyPair(curve)
	if err != nil {
		return nil, errorFrom(err)
	}
	return newSlotResult(v), nil
}

func (s *Server) handleKeyInvalidateEphemeral(_ *Request) (interface{}, *Error) {
	if err := s.engine.Store().InvalidateEphemeral(); err != nil {
		return nil, errorFrom(err)
	}
	return &OKResult{OK: true}, nil
}

func (s *Server) handleKeyStoreForeign(req *Request) (interface{}, *Error) {
	var p ForeignKeyParam
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
	v, err := s.engine.Store().StoreForeignPubKey(curve, pub)
	if err != nil {
		return nil, errorFrom(err)
	}
	return newSlotResult(v), nil
}

func (s *Server) handleKeyRemove(req *Request) (interface{}, *Error) {
	var p SlotParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if err := s.engine.Store().Remove(p.Slot, p.Foreign); err != nil {
		return nil, errorFrom(err)
	}
	return &OKResult{OK: true}, nil
}

func (s *Server) handleKeyDisableExport(req *Request) (interface{}, *Error) {
	var p SlotParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if err := s.engine.Store().DisablePubKeyExport(p.Slot, p.Foreign); err != nil {
		return nil, errorFrom(err)
	}
	return &OKResult{OK: true}, nil
}

func (s *Server) handleKeyGet(req *Request) (interface{}, *Error) {
	var p SlotParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	v, err := s.engine.Store().Get(p.Slot, p.Foreign)
	if err != nil {
		return nil, errorFrom(err)
	}
	return slotInfo(v), nil
}

func (s *Server) handleKeyList(req *Request) (interface{}, *Error) {
	var p ListParam
	if err := parseOptionalParams(req, &p); err != nil {
		return nil, err
	}
	ids := s.engine.Store().IDs(p.Foreign)
	if ids == nil {
		ids = []int{}
	}
	return &SlotListResult{Slots: ids}, nil
}

func (s *Server) handleKeySign(req *Request, recoverable bool) (interface{}, *Error) {
	var p SignParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	digest, rpcErr := requireHex("digest", p.Digest)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var (
		sig []byte
		err error
	)
	if recoverable {
		sig, err = s.engine.Store().SignRecoverable(p.Slot, digest)
	} else {
		sig, err = s.engine.Store().Sign(p.Slot, digest)
	}
	if err != nil {
		return nil, errorFrom(err)
	}
	return &SignatureResult{Signature: hex.EncodeToString(sig)}, nil
}

func (s *Server) handleKeyVerify(req *Request) (interface{}, *Error) {
	var p VerifyParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	digest, rpcErr := requireHex("digest", p.Digest)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := requireHex("signature", p.Signature)
	if rpcErr != nil {
		return nil, rpcErr
	}
	ok, err := s.engine.Store().Verify(p.Slot, p.Foreign, digest, sig)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &VerifyResult{Valid: ok}, nil
}

func (s *Server) handleKeyECDH(req *Request) (interface{}, *Error) {
	var p ECDHParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	var (
		secret []byte
		err    error
	)
	switch {
	case p.ForeignSlot != nil && p.PeerPublicKey != "":
		return nil, &Error{Code: CodeInvalidParams, Message: "peer_public_key and foreign_slot are mutually exclusive"}
	case p.ForeignSlot != nil:
		secret, err = s.engine.Store().ECDHForeign(p.Slot, *p.ForeignSlot)
	default:
		peer, rpcErr := requireHex("peer_public_key", p.PeerPublicKey)
		if rpcErr != nil {
			return nil, rpcErr
		}
		secret, err = s.engine.Store().ECDH(p.Slot, peer)
	}
	if err != nil {
		return nil, errorFrom(err)
	}
	return &BytesResult{Data: hex.EncodeToString(secret)}, nil
}

func (s *Server) handleKeyEntropy(req *Request) (interface{}, *Error) {
	var p EntropyParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	b, err := s.engine.Store().Entropy(p.Length)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &BytesResult{Data: hex.EncodeToString(b)}, nil
}
