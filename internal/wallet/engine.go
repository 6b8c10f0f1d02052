// Package wallet is the facade of the key-management engine. It generates
// and restores master seeds, derives wallet trees into key slots, maps
// node addresses to slots and runs SLIP-39 generation and restoration
// sessions.
package wallet

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Klingon-tech/klingnet-hsm/internal/hd"
	"github.com/Klingon-tech/klingnet-hsm/internal/keyslot"
	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/metrics"
	"github.com/Klingon-tech/klingnet-hsm/internal/mnemonic"
	"github.com/Klingon-tech/klingnet-hsm/internal/slip39"
	"github.com/Klingon-tech/klingnet-hsm/internal/storage"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// Limits on caller supplied values.
const (
	MaxWalletNameLen   = 64
	MaxGeneratorKeyLen = 256
	DefaultEntropyBits = 256
)

// Config configures an Engine.
type Config struct {
	// EntropyBits is the size of generated master secrets (128-256, step 32).
	EntropyBits int
	Metrics     *metrics.Metrics
}

// Engine is the wallet facade. One mutex serializes generation,
// derivation and restoration; at most one SLIP-39 session is open.
type Engine struct {
	mu      sync.Mutex
	store   *keyslot.Store
	cfg     Config
	metrics *metrics.Metrics

	session   session
	sessionDB *storage.PrefixDB
	lost      *SessionInfo
}

// New creates an engine over store. db holds the open-session marker used
// to report sessions lost to a restart.
func New(store *keyslot.Store, db storage.DB, cfg Config) (*Engine, error) {
	if cfg.EntropyBits == 0 {
		cfg.EntropyBits = DefaultEntropyBits
	}
	if !mnemonic.ValidEntropyBits(cfg.EntropyBits) {
		return nil, hsmerr.Invalid("entropy bits must be 128-256 in steps of 32, got %d", cfg.EntropyBits)
	}
	e := &Engine{
		store:     store,
		cfg:       cfg,
		metrics:   cfg.Metrics,
		sessionDB: storage.NewPrefixDB(db, []byte("session/")),
	}
	if err := e.recoverSessionMarker(); err != nil {
		return nil, err
	}
	return e, nil
}

// Store returns the underlying slot store for pass-through key operations.
func (e *Engine) Store() *keyslot.Store { return e.store }

func (e *Engine) observe(op string, start time.Time, err *error) {
	e.metrics.ObserveOp(op, start, *err)
}

// GenerateRequest describes a new master seed.
type GenerateRequest struct {
	Curve        crypto.Curve
	WalletName   string
	GeneratorKey []byte
	// Strategy defaults to NoRecovery.
	Strategy RecoveryStrategy
}

// GenerateResult is the outcome of GenerateMasterSeed. A SLIP-39 strategy
// opens a generation session instead of allocating a slot.
type GenerateResult struct {
	Slot     int
	Mnemonic string
	Session  *GenerationSession
}

// GenerateMasterSeed creates a wallet master seed. With a SLIP-39
// strategy the seed slot is allocated by the final AddMember of the
// returned session.
func (e *Engine) GenerateMasterSeed(req GenerateRequest) (res *GenerateResult, err error) {
	defer e.observe("generate", time.Now(), &err)
	if err := e.validateWallet(req.Curve, req.WalletName, req.GeneratorKey); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.walletRoot(req.WalletName); exists {
		return nil, hsmerr.Invalid("wallet %q already exists", req.WalletName)
	}
	// A new SLIP-39 session supersedes the open one, so only the one-shot
	// strategies must stay clear of its name.
	if _, ok := req.Strategy.(SLIP39Strategy); !ok {
		if err := e.checkSessionName(req.WalletName); err != nil {
			return nil, err
		}
	}

	switch st := req.Strategy.(type) {
	case nil, NoRecovery:
		seed, err := e.store.Entropy(e.cfg.EntropyBits / 8)
		if err != nil {
			return nil, err
		}
		defer crypto.Wipe(seed)
		v, err := e.createMaster(req.Curve, req.WalletName, req.GeneratorKey, seed, false)
		if err != nil {
			return nil, err
		}
		return &GenerateResult{Slot: v.ID}, nil

	case BIP39Strategy:
		if err := validateVariant(st.Variant); err != nil {
			return nil, err
		}
		sentence, err := mnemonic.Generate(entropyReader{e.store}, e.cfg.EntropyBits)
		if err != nil {
			return nil, err
		}
		seed, err := mnemonic.Seed(sentence, st.Passphrase)
		if err != nil {
			return nil, err
		}
		defer crypto.Wipe(seed)
		v, err := e.createMaster(req.Curve, req.WalletName, req.GeneratorKey, seed, false)
		if err != nil {
			return nil, err
		}
		return &GenerateResult{Slot: v.ID, Mnemonic: sentence}, nil

	case SLIP39Strategy:
		s, err := e.startGeneration(req, st)
		if err != nil {
			return nil, err
		}
		return &GenerateResult{Session: s}, nil
	}
	return nil, hsmerr.Invalid("unknown recovery strategy %T", req.Strategy)
}

// RestoreRequest describes a master seed restored from a backup.
type RestoreRequest struct {
	Curve        crypto.Curve
	WalletName   string
	GeneratorKey []byte
	Strategy     RecoveryStrategy
	// Mnemonic is the BIP-39 sentence, or an optional first SLIP-39 share.
	Mnemonic string
}

// RestoreResult is the outcome of RestoreMasterSeed. Slot is zero while a
// SLIP-39 restoration still needs shares.
type RestoreResult struct {
	Slot    int
	Session *RestoreSession
	Shares  *ShareResult
}

// RestoreMasterSeed rebuilds a master seed. A BIP-39 strategy restores in
// one call; a SLIP-39 strategy opens a restoration session seeded with
// Mnemonic when one is given. A rejected first share opens no session.
// Restoring a wallet that already exists with the same master key returns
// the existing slot.
func (e *Engine) RestoreMasterSeed(req RestoreRequest) (res *RestoreResult, err error) {
	defer e.observe("restore", time.Now(), &err)
	if err := e.validateWallet(req.Curve, req.WalletName, req.GeneratorKey); err != nil {
		return nil, err
	}

	switch st := req.Strategy.(type) {
	case BIP39Strategy:
		if err := validateVariant(st.Variant); err != nil {
			return nil, err
		}
		seed, err := mnemonic.Seed(req.Mnemonic, st.Passphrase)
		if err != nil {
			return nil, err
		}
		defer crypto.Wipe(seed)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.checkSessionName(req.WalletName); err != nil {
			return nil, err
		}
		v, err := e.createMaster(req.Curve, req.WalletName, req.GeneratorKey, seed, true)
		if err != nil {
			return nil, err
		}
		return &RestoreResult{Slot: v.ID}, nil

	case SLIP39Strategy:
		if err := validateVariant(st.Variant); err != nil {
			return nil, err
		}
		// The first share is checked before the session opens, so a
		// rejected share neither supersedes the open session nor leaves a
		// new one behind.
		r := slip39.NewRestorer(st.Passphrase)
		var secret []byte
		if strings.TrimSpace(req.Mnemonic) != "" {
			if secret, err = r.Add(st.Passphrase, req.Mnemonic); err != nil {
				r.Zero()
				return nil, err
			}
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		s := e.startRestore(req, r)
		res := &RestoreResult{Session: s}
		if strings.TrimSpace(req.Mnemonic) == "" {
			return res, nil
		}
		sr, err := s.accept(secret)
		if err != nil {
			return nil, err
		}
		res.Shares = sr
		res.Slot = sr.Slot
		return res, nil
	}
	return nil, hsmerr.Invalid("restoration needs a BIP-39 or SLIP-39 strategy")
}

// RestoreFromMnemonic restores a BIP-39 backed wallet.
func (e *Engine) RestoreFromMnemonic(curve crypto.Curve, name string, generatorKey []byte, sentence string, st BIP39Strategy) (int, error) {
	res, err := e.RestoreMasterSeed(RestoreRequest{
		Curve:        curve,
		WalletName:   name,
		GeneratorKey: generatorKey,
		Strategy:     st,
		Mnemonic:     sentence,
	})
	if err != nil {
		return 0, err
	}
	return res.Slot, nil
}

// createMaster derives and stores a master node. Caller holds mu.
// With restore set, an existing wallet with the same master key is
// returned instead of failing.
func (e *Engine) createMaster(curve crypto.Curve, name string, generatorKey, seed []byte, restore bool) (keyslot.Slot, error) {
	node, err := hd.NewMaster(curve, seed, generatorKey)
	if err != nil {
		return keyslot.Slot{}, err
	}
	defer node.Zero()

	if root, exists := e.walletRoot(name); exists {
		if restore && !root.Wallet.Oversight && root.Curve == curve && bytes.Equal(root.PublicKey, node.PublicKey()) {
			klog.WithWallet(name).Info().Int("slot", root.ID).Msg("Wallet already present, restore is a no-op")
			return root, nil
		}
		return keyslot.Slot{}, hsmerr.Invalid("wallet %q already exists with a different master key", name)
	}

	priv := node.PrivateKey()
	defer crypto.Wipe(priv)
	v, err := e.store.Allocate(keyslot.Material{
		Curve:      curve,
		Private:    priv,
		ChainCode:  node.ChainCode(),
		Exportable: true,
		Wallet:     &keyslot.WalletBinding{Name: name},
	})
	if err != nil {
		return keyslot.Slot{}, err
	}
	klog.WithWallet(name).Info().
		Int("slot", v.ID).
		Str("curve", string(curve)).
		Str("key_id", crypto.KeyID(curve, v.PublicKey)).
		Msg("Master seed stored")
	return v, nil
}

// checkSessionName fails when the open session will create a wallet
// called name. Caller holds mu.
func (e *Engine) checkSessionName(name string) error {
	if e.session == nil {
		return nil
	}
	if info := e.session.Info(); info.WalletName == name {
		return hsmerr.New(hsmerr.KindSessionConflict, "wallet %q is reserved by open session %s", name, info.ID)
	}
	return nil
}

func (e *Engine) validateWallet(curve crypto.Curve, name string, generatorKey []byte) error {
	if !curve.Valid() {
		return hsmerr.Invalid("unsupported curve %q", curve)
	}
	if len(generatorKey) > MaxGeneratorKeyLen {
		return hsmerr.Invalid("generator key longer than %d bytes", MaxGeneratorKeyLen)
	}
	return validateWalletName(name)
}

func validateWalletName(name string) error {
	if name == "" {
		return hsmerr.Invalid("wallet name is empty")
	}
	if len(name) > MaxWalletNameLen {
		return hsmerr.Invalid("wallet name longer than %d bytes", MaxWalletNameLen)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return hsmerr.Invalid("wallet name contains control characters")
		}
	}
	return nil
}

// entropyReader draws randomness from the key store.
type entropyReader struct {
	store *keyslot.Store
}

func (r entropyReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		chunk := len(p) - n
		if chunk > keyslot.MaxEntropy {
			chunk = keyslot.MaxEntropy
		}
		b, err := r.store.Entropy(chunk)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], b)
	}
	return n, nil
}

var _ io.Reader = entropyReader{}
