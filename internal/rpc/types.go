package rpc

import (
	"encoding/hex"

	"github.com/Klingon-tech/klingnet-hsm/internal/keyslot"
	"github.com/Klingon-tech/klingnet-hsm/internal/nodeaddr"
	"github.com/Klingon-tech/klingnet-hsm/internal/wallet"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
)

// JSON-RPC 2.0 error codes. Key management failures use hsmerr.Kind.Code,
// counting down from -32011, with the kind name in the error data.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// StrategyParam selects a recovery strategy. Type is none, bip39 or slip39.
type StrategyParam struct {
	Type              string `json:"type"`
	Passphrase        string `json:"passphrase,omitempty"`
	Variant           string `json:"variant,omitempty"`
	GroupCount        int    `json:"group_count,omitempty"`
	GroupThreshold    int    `json:"group_threshold,omitempty"`
	IterationExponent int    `json:"iteration_exponent,omitempty"`
}

// WalletGenerateParam is used by wallet_generate.
type WalletGenerateParam struct {
	Curve        string         `json:"curve"`
	WalletName   string         `json:"wallet_name"`
	GeneratorKey string         `json:"generator_key,omitempty"` // hex
	Strategy     *StrategyParam `json:"strategy,omitempty"`
}

// WalletRestoreParam is used by wallet_restore.
type WalletRestoreParam struct {
	Curve        string         `json:"curve"`
	WalletName   string         `json:"wallet_name"`
	GeneratorKey string         `json:"generator_key,omitempty"` // hex
	Strategy     *StrategyParam `json:"strategy"`
	Mnemonic     string         `json:"mnemonic,omitempty"`
}

// WalletRefParam names a wallet by name or master slot.
type WalletRefParam struct {
	WalletName string `json:"wallet_name,omitempty"`
	MasterSlot int    `json:"master_slot,omitempty"`
}

func (p WalletRefParam) ref() wallet.WalletRef {
	return wallet.WalletRef{Name: p.WalletName, MasterSlot: p.MasterSlot}
}

// DeriveParam is used by wallet_derive.
type DeriveParam struct {
	Parent        int    `json:"parent"`
	Index         uint32 `json:"index"`
	Hardened      bool   `json:"hardened"`
	WantChainCode bool   `json:"want_chain_code"`
}

// NodeParam is used by wallet_derivePath and wallet_slotOf.
type NodeParam struct {
	WalletRefParam
	NodeAddress string `json:"node_address"`
}

// OversightParam is used by wallet_oversight.
type OversightParam struct {
	Curve       string `json:"curve"`
	PublicKey   string `json:"public_key"` // hex
	ChainCode   string `json:"chain_code"` // hex
	NodeAddress string `json:"node_address"`
	WalletName  string `json:"wallet_name"`
	Variant     string `json:"variant,omitempty"`
}

// SlotParam names one slot.
type SlotParam struct {
	Slot    int  `json:"slot"`
	Foreign bool `json:"foreign,omitempty"`
}

// CurveParam is used by the key generation endpoints.
type CurveParam struct {
	Curve string `json:"curve"`
}

// ForeignKeyParam is used by key_storeForeign.
type ForeignKeyParam struct {
	Curve     string `json:"curve"`
	PublicKey string `json:"public_key"` // hex
}

// ListParam is used by key_list.
type ListParam struct {
	Foreign bool `json:"foreign,omitempty"`
}

// SignParam is used by key_sign and key_signRecoverable.
type SignParam struct {
	Slot   int    `json:"slot"`
	Digest string `json:"digest"` // hex
}

// VerifyParam is used by key_verify.
type VerifyParam struct {
	Slot      int    `json:"slot"`
	Foreign   bool   `json:"foreign,omitempty"`
	Digest    string `json:"digest"`    // hex
	Signature string `json:"signature"` // hex
}

// ECDHParam is used by key_ecdh. Exactly one of PeerPublicKey and
// ForeignSlot identifies the peer.
type ECDHParam struct {
	Slot          int    `json:"slot"`
	PeerPublicKey string `json:"peer_public_key,omitempty"` // hex
	ForeignSlot   *int   `json:"foreign_slot,omitempty"`
}

// EntropyParam is used by key_entropy.
type EntropyParam struct {
	Length int `json:"length"`
}

// SessionParam names a SLIP-39 session.
type SessionParam struct {
	SessionID string `json:"session_id"`
}

// GroupInfoParam is used by slip39_setGroupInfo.
type GroupInfoParam struct {
	SessionID       string `json:"session_id"`
	GroupIndex      int    `json:"group_index"`
	MemberCount     int    `json:"member_count"`
	MemberThreshold int    `json:"member_threshold"`
}

// AddMemberParam is used by slip39_addMember.
type AddMemberParam struct {
	SessionID  string `json:"session_id"`
	Passphrase string `json:"passphrase"`
}

// AddMnemonicParam is used by slip39_addMnemonic.
type AddMnemonicParam struct {
	SessionID  string `json:"session_id"`
	Passphrase string `json:"passphrase"`
	Mnemonic   string `json:"mnemonic"`
}

// EthAccountsParam is used by eth_accounts and eth_addAccounts.
type EthAccountsParam struct {
	WalletRefParam
	Count int `json:"count,omitempty"`
}

// EthSignParam is used by eth_signHash.
type EthSignParam struct {
	WalletRefParam
	Address string `json:"address"`
	Hash    string `json:"hash"` // hex
}

// ── Result types ────────────────────────────────────────────────────────

// InfoResult is returned by hsm_getInfo.
type InfoResult struct {
	Version       string              `json:"version"`
	Slots         int                 `json:"slots"`
	ForeignSlots  int                 `json:"foreign_slots"`
	Wallets       int                 `json:"wallets"`
	ActiveSession *wallet.SessionInfo `json:"active_session,omitempty"`
	LostSession   *wallet.SessionInfo `json:"lost_session,omitempty"`
}

// GenerateResult is returned by wallet_generate.
type GenerateResult struct {
	Slot      int    `json:"slot,omitempty"`
	Mnemonic  string `json:"mnemonic,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ShareResult reports SLIP-39 restoration progress.
type ShareResult struct {
	Slot           int         `json:"slot,omitempty"`
	Done           bool        `json:"done"`
	GroupsComplete int         `json:"groups_complete"`
	GroupThreshold int         `json:"group_threshold"`
	Shares         map[int]int `json:"shares"`
}

// RestoreResult is returned by wallet_restore.
type RestoreResult struct {
	Slot      int          `json:"slot,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Progress  *ShareResult `json:"progress,omitempty"`
}

// DeriveResult is returned by wallet_derive.
type DeriveResult struct {
	Slot        int    `json:"slot"`
	NodeAddress string `json:"node_address"`
	ChainCode   string `json:"chain_code,omitempty"` // hex
}

// SlotResult is returned by endpoints that allocate or resolve one slot.
type SlotResult struct {
	Slot      int    `json:"slot"`
	PublicKey string `json:"public_key,omitempty"` // hex
}

// AddressResult is returned by wallet_addressOf.
type AddressResult struct {
	NodeAddress string `json:"node_address"`
	WalletName  string `json:"wallet_name"`
	MasterSlot  int    `json:"master_slot"`
}

// SlotInfoResult is returned by key_get.
type SlotInfoResult struct {
	Slot         int            `json:"slot"`
	Curve        string         `json:"curve"`
	Foreign      bool           `json:"foreign"`
	Ephemeral    bool           `json:"ephemeral"`
	Exportable   bool           `json:"exportable"`
	HasPrivate   bool           `json:"has_private"`
	HasChainCode bool           `json:"has_chain_code"`
	PublicKey    string         `json:"public_key,omitempty"` // hex, omitted when export is disabled
	KeyID        string         `json:"key_id,omitempty"`
	Wallet       *AddressResult `json:"wallet,omitempty"`
}

// SlotListResult is returned by key_list and wallet_slots.
type SlotListResult struct {
	Slots []int `json:"slots"`
}

// SignatureResult is returned by the signing endpoints.
type SignatureResult struct {
	Signature string `json:"signature"` // hex
}

// VerifyResult is returned by key_verify.
type VerifyResult struct {
	Valid bool `json:"valid"`
}

// BytesResult carries opaque bytes (shared secrets, entropy).
type BytesResult struct {
	Data string `json:"data"` // hex
}

// MemberResult is returned by slip39_addMember.
type MemberResult struct {
	Mnemonic string `json:"mnemonic"`
	Group    int    `json:"group"`
	Done     bool   `json:"done"`
	Slot     int    `json:"slot,omitempty"`
}

// SessionStatusResult is returned by slip39_status.
type SessionStatusResult struct {
	Active *wallet.SessionInfo `json:"active,omitempty"`
	Lost   *wallet.SessionInfo `json:"lost,omitempty"`
}

// WalletListResult is returned by wallet_list.
type WalletListResult struct {
	Wallets []wallet.WalletInfo `json:"wallets"`
}

// EthAccountsResult is returned by eth_accounts and eth_addAccounts.
type EthAccountsResult struct {
	Accounts []string `json:"accounts"`
}

// OKResult acknowledges an operation with no other output.
type OKResult struct {
	OK bool `json:"ok"`
}

func slotInfo(v keyslot.Slot) *SlotInfoResult {
	r := &SlotInfoResult{
		Slot:         v.ID,
		Curve:        string(v.Curve),
		Foreign:      v.Foreign,
		Ephemeral:    v.Ephemeral,
		Exportable:   v.Exportable,
		HasPrivate:   v.HasPrivate,
		HasChainCode: v.HasChainCode,
	}
	if v.Exportable {
		r.PublicKey = hex.EncodeToString(v.PublicKey)
		r.KeyID = crypto.KeyID(v.Curve, v.PublicKey)
	}
	if v.Wallet != nil {
		r.Wallet = &AddressResult{
			NodeAddress: nodeaddr.Format(v.Wallet.Path),
			WalletName:  v.Wallet.Name,
			MasterSlot:  v.Wallet.MasterSlot,
		}
	}
	return r
}
