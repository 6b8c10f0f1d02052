// Package keyslot is the slot table of the key store: an arena of key
// slots addressed by small integer handles.
//
// Own slots live in one id space. Ids below EphemeralSlot are reserved,
// EphemeralSlot holds the single in-memory ephemeral key and persistent
// keys use FirstWalletSlot and up. Foreign public keys have their own id
// space starting at 0. Freed ids are reused lowest first and their secret
// material is zeroed.
package keyslot

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/metrics"
	"github.com/Klingon-tech/klingnet-hsm/internal/storage"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// Slot layout.
const (
	EphemeralSlot     = 15
	FirstWalletSlot   = 16
	DefaultMaxSlots   = 512
	DefaultMaxForeign = 64
	maxSlotLimit      = 4096
)

// MaxEntropy bounds a single Entropy request.
const MaxEntropy = 4096

// Storage namespaces, also mixed into the sealing additional data.
const (
	nsOwn     byte = 'o'
	nsForeign byte = 'f'
	nsMeta    byte = 'm'
)

// WalletBinding ties a slot to a node of a wallet tree.
type WalletBinding struct {
	Name       string   `json:"name"`
	MasterSlot int      `json:"master_slot"`
	Path       []uint32 `json:"path"`
	Oversight  bool     `json:"oversight,omitempty"`
}

func (b *WalletBinding) clone() *WalletBinding {
	if b == nil {
		return nil
	}
	c := *b
	c.Path = append([]uint32(nil), b.Path...)
	return &c
}

// Slot is a read-only view of an allocated slot.
type Slot struct {
	ID           int
	Curve        crypto.Curve
	Foreign      bool
	Ephemeral    bool
	Exportable   bool
	HasPrivate   bool
	HasChainCode bool
	PublicKey    []byte
	Wallet       *WalletBinding
}

// IsWalletRoot reports whether the slot is the root of its wallet tree:
// a master seed or the anchor of an oversight wallet.
func (s Slot) IsWalletRoot() bool {
	return s.Wallet != nil && s.Wallet.MasterSlot == s.ID
}

// Material is the key material for a new slot. Public is derived from
// Private when Private is set.
type Material struct {
	Curve      crypto.Curve
	Private    []byte
	Public     []byte
	ChainCode  []byte
	Exportable bool
	// Wallet binds the slot to a wallet tree. A MasterSlot of 0 binds the
	// slot to itself.
	Wallet *WalletBinding
}

type slot struct {
	view      Slot
	private   []byte
	chainCode []byte
}

func (s *slot) zero() {
	crypto.Wipe(s.private)
	crypto.Wipe(s.chainCode)
	s.private = nil
	s.chainCode = nil
}

func (s *slot) snapshot() Slot {
	v := s.view
	v.PublicKey = append([]byte(nil), s.view.PublicKey...)
	v.Wallet = s.view.Wallet.clone()
	return v
}

// Options configures Open.
type Options struct {
	MaxSlots   int
	MaxForeign int
	Passphrase []byte
	KDF        KDFParams
	Rand       io.Reader // nil = crypto/rand
	Metrics    *metrics.Metrics
}

// Store is the slot table. It is safe for concurrent use; allocation and
// removal are atomic with respect to lookups.
type Store struct {
	mu sync.RWMutex

	own         []*slot
	foreign     []*slot
	ownFree     *freeList
	foreignFree *freeList

	ownDB     *storage.PrefixDB
	foreignDB *storage.PrefixDB
	metaDB    *storage.PrefixDB

	sealer  *sealer
	rand    io.Reader
	metrics *metrics.Metrics
}

// Open loads the slot table from db, creating the store key on first use.
func Open(db storage.DB, opts Options) (*Store, error) {
	if opts.MaxSlots == 0 {
		opts.MaxSlots = DefaultMaxSlots
	}
	if opts.MaxForeign == 0 {
		opts.MaxForeign = DefaultMaxForeign
	}
	if opts.MaxSlots <= FirstWalletSlot || opts.MaxSlots > maxSlotLimit {
		return nil, hsmerr.Invalid("max slots must be %d-%d", FirstWalletSlot+1, maxSlotLimit)
	}
	if opts.MaxForeign < 1 || opts.MaxForeign > maxSlotLimit {
		return nil, hsmerr.Invalid("max foreign slots must be 1-%d", maxSlotLimit)
	}
	if opts.KDF == (KDFParams{}) {
		opts.KDF = DefaultKDFParams()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}

	s := &Store{
		own:         make([]*slot, opts.MaxSlots),
		foreign:     make([]*slot, opts.MaxForeign),
		ownFree:     newFreeList(FirstWalletSlot, opts.MaxSlots),
		foreignFree: newFreeList(0, opts.MaxForeign),
		ownDB:       storage.NewPrefixDB(db, []byte("slot/own/")),
		foreignDB:   storage.NewPrefixDB(db, []byte("slot/foreign/")),
		metaDB:      storage.NewPrefixDB(db, []byte("slot/meta/")),
		rand:        opts.Rand,
		metrics:     opts.Metrics,
	}

	sl, err := s.openSealer(opts.Passphrase, opts.KDF)
	if err != nil {
		return nil, err
	}
	s.sealer = sl

	if err := s.load(nsOwn); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if err := s.load(nsForeign); err != nil {
		return nil, fmt.Errorf("load foreign slots: %w", err)
	}
	s.updateGauges()

	klog.Store.Info().
		Int("slots", len(s.IDs(false))).
		Int("foreign", len(s.IDs(true))).
		Msg("Slot table loaded")
	return s, nil
}

// kdfRecord persists the store key parameters.
type kdfRecord struct {
	Salt   []byte    `json:"salt"`
	Params KDFParams `json:"params"`
	Check  []byte    `json:"check"`
}

var (
	kdfKey     = []byte("kdf")
	checkValue = []byte("klinghsm slot store")
)

func (s *Store) openSealer(passphrase []byte, params KDFParams) (*sealer, error) {
	data, err := s.metaDB.Get(kdfKey)
	if errors.Is(err, storage.ErrNotFound) {
		salt := make([]byte, SaltSize)
		if _, err := io.ReadFull(s.rand, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		sl, err := newSealer(passphrase, salt, params, s.rand)
		if err != nil {
			return nil, err
		}
		check, err := sl.seal(nsMeta, 0, checkValue)
		if err != nil {
			return nil, err
		}
		rec, err := json.Marshal(kdfRecord{Salt: salt, Params: params, Check: check})
		if err != nil {
			return nil, fmt.Errorf("marshal kdf record: %w", err)
		}
		if err := s.metaDB.Put(kdfKey, rec); err != nil {
			return nil, fmt.Errorf("store kdf record: %w", err)
		}
		klog.Store.Info().Msg("Created new store key")
		return sl, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read kdf record: %w", err)
	}

	var rec kdfRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse kdf record: %w", err)
	}
	sl, err := newSealer(passphrase, rec.Salt, rec.Params, s.rand)
	if err != nil {
		return nil, err
	}
	if _, err := sl.open(nsMeta, 0, rec.Check); err != nil {
		return nil, errWrongPassphrase
	}
	return sl, nil
}

// record is the persisted form of a slot.
type record struct {
	Curve      crypto.Curve   `json:"curve"`
	Exportable bool           `json:"exportable"`
	PublicKey  []byte         `json:"public_key"`
	Secret     []byte         `json:"secret,omitempty"`
	Wallet     *WalletBinding `json:"wallet,omitempty"`
}

// Secret plaintext layout: flags(1) | private(32)? | chain code(32)?
const (
	flagPrivate   = 1 << 0
	flagChainCode = 1 << 1
)

func (s *Store) encode(ns byte, sl *slot) ([]byte, error) {
	rec := record{
		Curve:      sl.view.Curve,
		Exportable: sl.view.Exportable,
		PublicKey:  sl.view.PublicKey,
		Wallet:     sl.view.Wallet,
	}
	if sl.private != nil || sl.chainCode != nil {
		var flags byte
		plain := make([]byte, 1, 1+len(sl.private)+len(sl.chainCode))
		if sl.private != nil {
			flags |= flagPrivate
			plain = append(plain, sl.private...)
		}
		if sl.chainCode != nil {
			flags |= flagChainCode
			plain = append(plain, sl.chainCode...)
		}
		plain[0] = flags
		sealed, err := s.sealer.seal(ns, sl.view.ID, plain)
		crypto.Wipe(plain)
		if err != nil {
			return nil, err
		}
		rec.Secret = sealed
	}
	return json.Marshal(rec)
}

func (s *Store) decode(ns byte, id int, data []byte) (*slot, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse slot %d: %w", id, err)
	}
	sl := &slot{view: Slot{
		ID:         id,
		Curve:      rec.Curve,
		Foreign:    ns == nsForeign,
		Exportable: rec.Exportable,
		PublicKey:  rec.PublicKey,
		Wallet:     rec.Wallet,
	}}
	if rec.Secret == nil {
		return sl, nil
	}

	plain, err := s.sealer.open(ns, id, rec.Secret)
	if err != nil {
		return nil, fmt.Errorf("open slot %d: %w", id, err)
	}
	defer crypto.Wipe(plain)
	flags, rest := plain[0], plain[1:]
	if flags&flagPrivate != 0 {
		if len(rest) < crypto.PrivateKeySize {
			return nil, fmt.Errorf("slot %d: truncated secret", id)
		}
		sl.private = append([]byte(nil), rest[:crypto.PrivateKeySize]...)
		rest = rest[crypto.PrivateKeySize:]
	}
	if flags&flagChainCode != 0 {
		sl.chainCode = append([]byte(nil), rest...)
	}
	sl.view.HasPrivate = sl.private != nil
	sl.view.HasChainCode = sl.chainCode != nil
	return sl, nil
}

func (s *Store) load(ns byte) error {
	db, table, free := s.table(ns)
	return db.ForEach(nil, func(key, value []byte) error {
		id, err := strconv.Atoi(string(key))
		if err != nil {
			return fmt.Errorf("bad slot key %q", key)
		}
		if id < 0 || id >= len(table) || !free.remove(id) {
			klog.Store.Warn().Int("slot", id).Msg("Stored slot outside the configured range, skipping")
			return nil
		}
		sl, err := s.decode(ns, id, value)
		if err != nil {
			return err
		}
		table[id] = sl
		return nil
	})
}

func (s *Store) table(ns byte) (*storage.PrefixDB, []*slot, *freeList) {
	if ns == nsForeign {
		return s.foreignDB, s.foreign, s.foreignFree
	}
	return s.ownDB, s.own, s.ownFree
}

func slotKey(id int) []byte { return []byte(strconv.Itoa(id)) }

// insert persists sl under a fresh id and publishes it. Caller holds mu.
func (s *Store) insert(ns byte, sl *slot) (Slot, error) {
	db, table, free := s.table(ns)
	id, ok := free.take()
	if !ok {
		if ns == nsForeign {
			return Slot{}, hsmerr.New(hsmerr.KindSlotExhausted, "no free foreign slot")
		}
		return Slot{}, hsmerr.New(hsmerr.KindSlotExhausted, "no free key slot")
	}
	sl.view.ID = id
	if b := sl.view.Wallet; b != nil && b.MasterSlot == 0 {
		b.MasterSlot = id
	}

	data, err := s.encode(ns, sl)
	if err == nil {
		err = db.Put(slotKey(id), data)
	}
	if err != nil {
		free.release(id)
		return Slot{}, fmt.Errorf("persist slot %d: %w", id, err)
	}
	table[id] = sl
	return sl.snapshot(), nil
}

func (s *Store) newSlot(m Material) (*slot, error) {
	if !m.Curve.Valid() {
		return nil, hsmerr.Invalid("unsupported curve %q", m.Curve)
	}
	sl := &slot{view: Slot{
		Curve:      m.Curve,
		Exportable: m.Exportable,
		Wallet:     m.Wallet.clone(),
	}}
	if m.Private != nil {
		pub, err := crypto.PublicKey(m.Curve, m.Private)
		if err != nil {
			return nil, err
		}
		sl.view.PublicKey = pub
		sl.private = append([]byte(nil), m.Private...)
	} else {
		if err := crypto.ParsePublicKey(m.Curve, m.Public); err != nil {
			return nil, err
		}
		sl.view.PublicKey = append([]byte(nil), m.Public...)
	}
	if m.ChainCode != nil {
		sl.chainCode = append([]byte(nil), m.ChainCode...)
	}
	sl.view.HasPrivate = sl.private != nil
	sl.view.HasChainCode = sl.chainCode != nil
	return sl, nil
}

// Allocate stores m in the lowest free persistent slot.
func (s *Store) Allocate(m Material) (Slot, error) {
	sl, err := s.newSlot(m)
	if err != nil {
		return Slot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.insert(nsOwn, sl)
	if err != nil {
		sl.zero()
		return Slot{}, err
	}
	s.updateGaugesLocked()
	klog.Store.Debug().Int("slot", v.ID).Str("curve", string(v.Curve)).Msg("Slot allocated")
	return v, nil
}

// GenKeyPair generates a random key pair in a persistent slot.
func (s *Store) GenKeyPair(curve crypto.Curve) (Slot, error) {
	priv, err := crypto.GenerateKey(curve, s.rand)
	if err != nil {
		return Slot{}, err
	}
	defer crypto.Wipe(priv)
	return s.Allocate(Material{Curve: curve, Private: priv, Exportable: true})
}

// GenEphemeralKeyPair replaces the ephemeral key with a fresh one.
// The ephemeral key is never persisted.
func (s *Store) GenEphemeralKeyPair(curve crypto.Curve) (Slot, error) {
	priv, err := crypto.GenerateKey(curve, s.rand)
	if err != nil {
		return Slot{}, err
	}
	defer crypto.Wipe(priv)
	sl, err := s.newSlot(Material{Curve: curve, Private: priv, Exportable: true})
	if err != nil {
		return Slot{}, err
	}
	sl.view.ID = EphemeralSlot
	sl.view.Ephemeral = true

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.own[EphemeralSlot]; old != nil {
		old.zero()
	}
	s.own[EphemeralSlot] = sl
	s.updateGaugesLocked()
	return sl.snapshot(), nil
}

// InvalidateEphemeral destroys the ephemeral key.
func (s *Store) InvalidateEphemeral() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.own[EphemeralSlot]
	if sl == nil {
		return hsmerr.New(hsmerr.KindNotFound, "no ephemeral key")
	}
	sl.zero()
	s.own[EphemeralSlot] = nil
	s.updateGaugesLocked()
	return nil
}

// StoreForeignPubKey keeps a peer public key for Verify and ECDH.
func (s *Store) StoreForeignPubKey(curve crypto.Curve, pub []byte) (Slot, error) {
	sl, err := s.newSlot(Material{Curve: curve, Public: pub, Exportable: true})
	if err != nil {
		return Slot{}, err
	}
	sl.view.Foreign = true

	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.insert(nsForeign, sl)
	if err != nil {
		return Slot{}, err
	}
	s.updateGaugesLocked()
	return v, nil
}

// Remove frees a slot, zeroing its secrets. Removing EphemeralSlot
// invalidates the ephemeral key.
func (s *Store) Remove(id int, foreign bool) error {
	if !foreign && id == EphemeralSlot {
		return s.InvalidateEphemeral()
	}
	return s.RemoveMany([]int{id}, foreign)
}

// RemoveMany frees several slots in one storage batch. Nothing is removed
// if any id is not allocated.
func (s *Store) RemoveMany(ids []int, foreign bool) error {
	ns := nsOwn
	if foreign {
		ns = nsForeign
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, table, free := s.table(ns)
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if s.lookup(id, foreign) == nil || id == EphemeralSlot && !foreign {
			return hsmerr.New(hsmerr.KindNotFound, "slot %d is not allocated", id)
		}
		if seen[id] {
			return hsmerr.Invalid("slot %d listed twice", id)
		}
		seen[id] = true
	}

	batch := db.NewBatch()
	for _, id := range ids {
		if err := batch.Delete(slotKey(id)); err != nil {
			return fmt.Errorf("delete slot %d: %w", id, err)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("delete slots: %w", err)
	}
	for _, id := range ids {
		table[id].zero()
		table[id] = nil
		free.release(id)
		klog.Store.Debug().Int("slot", id).Bool("foreign", foreign).Msg("Slot freed")
	}
	s.updateGaugesLocked()
	return nil
}

// DisablePubKeyExport makes PublicKey fail for the slot from now on.
func (s *Store) DisablePubKeyExport(id int, foreign bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.lookup(id, foreign)
	if sl == nil {
		return hsmerr.New(hsmerr.KindNotFound, "slot %d is not allocated", id)
	}
	if !sl.view.Exportable {
		return nil
	}
	sl.view.Exportable = false
	if sl.view.Ephemeral {
		return nil
	}

	ns := nsOwn
	if foreign {
		ns = nsForeign
	}
	db, _, _ := s.table(ns)
	data, err := s.encode(ns, sl)
	if err == nil {
		err = db.Put(slotKey(id), data)
	}
	if err != nil {
		sl.view.Exportable = true
		return fmt.Errorf("persist slot %d: %w", id, err)
	}
	return nil
}

// lookup returns the slot or nil. Caller holds mu.
func (s *Store) lookup(id int, foreign bool) *slot {
	table := s.own
	if foreign {
		table = s.foreign
	}
	if id < 0 || id >= len(table) {
		return nil
	}
	return table[id]
}

// Get returns a view of a slot.
func (s *Store) Get(id int, foreign bool) (Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl := s.lookup(id, foreign)
	if sl == nil {
		return Slot{}, hsmerr.New(hsmerr.KindNotFound, "slot %d is not allocated", id)
	}
	return sl.snapshot(), nil
}

// PublicKey exports the public key of a slot.
func (s *Store) PublicKey(id int, foreign bool) ([]byte, error) {
	v, err := s.Get(id, foreign)
	if err != nil {
		return nil, err
	}
	if !v.Exportable {
		return nil, hsmerr.Invalid("public key export is disabled for slot %d", id)
	}
	return v.PublicKey, nil
}

// IDs lists allocated slot ids in ascending order.
func (s *Store) IDs(foreign bool) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := s.own
	if foreign {
		table = s.foreign
	}
	var ids []int
	for id, sl := range table {
		if sl != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Slots returns views of all allocated slots in ascending id order.
func (s *Store) Slots(foreign bool) []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := s.own
	if foreign {
		table = s.foreign
	}
	var out []Slot
	for _, sl := range table {
		if sl != nil {
			out = append(out, sl.snapshot())
		}
	}
	return out
}

// Find returns the lowest own slot matching fn.
func (s *Store) Find(fn func(Slot) bool) (Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sl := range s.own {
		if sl != nil && fn(sl.view) {
			return sl.snapshot(), true
		}
	}
	return Slot{}, false
}

// WithSecret calls fn with copies of the slot's private key and chain
// code. Either may be nil. The copies are wiped when fn returns.
func (s *Store) WithSecret(id int, fn func(priv, chainCode []byte) error) error {
	s.mu.RLock()
	sl := s.lookup(id, false)
	if sl == nil {
		s.mu.RUnlock()
		return hsmerr.New(hsmerr.KindNotFound, "slot %d is not allocated", id)
	}
	var priv, cc []byte
	if sl.private != nil {
		priv = append([]byte(nil), sl.private...)
	}
	if sl.chainCode != nil {
		cc = append([]byte(nil), sl.chainCode...)
	}
	s.mu.RUnlock()

	defer crypto.Wipe(priv)
	defer crypto.Wipe(cc)
	return fn(priv, cc)
}

// Entropy returns n random bytes.
func (s *Store) Entropy(n int) ([]byte, error) {
	if n < 1 || n > MaxEntropy {
		return nil, hsmerr.Invalid("entropy length must be 1-%d", MaxEntropy)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(s.rand, out); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	return out, nil
}

func (s *Store) updateGauges() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.updateGaugesLocked()
}

func (s *Store) updateGaugesLocked() {
	if s.metrics == nil {
		return
	}
	own, eph := 0, 0
	for id, sl := range s.own {
		switch {
		case sl == nil:
		case id == EphemeralSlot:
			eph++
		default:
			own++
		}
	}
	foreign := 0
	for _, sl := range s.foreign {
		if sl != nil {
			foreign++
		}
	}
	s.metrics.SetSlots("own", own)
	s.metrics.SetSlots("ephemeral", eph)
	s.metrics.SetSlots("foreign", foreign)
}
