package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/metrics"
	"github.com/Klingon-tech/klingnet-hsm/internal/slip39"
	"github.com/Klingon-tech/klingnet-hsm/internal/storage"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/google/uuid"
)

// Session modes.
const (
	ModeGenerate = "generate"
	ModeRestore  = "restore"
)

var activeSessionKey = []byte("active")

// SessionInfo describes an open or lost SLIP-39 session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	WalletName string    `json:"wallet_name"`
	Started    time.Time `json:"started"`
}

// session is the state shared by both session kinds.
type session interface {
	Info() SessionInfo
	wipe()
}

// GenerationSession emits the SLIP-39 shares of a new master secret.
// The handle is invalid once the session completes, is cancelled or is
// superseded by another session.
type GenerationSession struct {
	e    *Engine
	info SessionInfo

	curve        crypto.Curve
	generatorKey []byte
	strategy     SLIP39Strategy
	secret       []byte
	gen          *slip39.Generator
}

// MemberResult is one emitted member share. Slot is set by the member
// that completes the share set.
type MemberResult struct {
	Mnemonic string
	Group    int
	Done     bool
	Slot     int
}

// RestoreSession accumulates SLIP-39 shares until the master secret can
// be rebuilt.
type RestoreSession struct {
	e    *Engine
	info SessionInfo

	curve        crypto.Curve
	generatorKey []byte
	restorer     *slip39.Restorer
}

// ShareResult reports restoration progress after one share. Slot is set
// once the master seed has been restored.
type ShareResult struct {
	Slot           int
	Done           bool
	GroupsComplete int
	GroupThreshold int
	Shares         map[int]int
}

// startGeneration opens a generation session. Caller holds mu.
func (e *Engine) startGeneration(req GenerateRequest, st SLIP39Strategy) (*GenerationSession, error) {
	if err := validateVariant(st.Variant); err != nil {
		return nil, err
	}
	secret, err := e.store.Entropy(e.cfg.EntropyBits / 8)
	if err != nil {
		return nil, err
	}
	gen, err := slip39.NewGenerator(secret, slip39.GeneratorParams{
		GroupThreshold:    st.GroupThreshold,
		GroupCount:        st.GroupCount,
		Passphrase:        st.Passphrase,
		IterationExponent: st.IterationExponent,
		Extendable:        true,
	}, entropyReader{e.store})
	if err != nil {
		crypto.Wipe(secret)
		return nil, err
	}
	s := &GenerationSession{
		e:            e,
		info:         newSessionInfo(ModeGenerate, req.WalletName),
		curve:        req.Curve,
		generatorKey: append([]byte(nil), req.GeneratorKey...),
		strategy:     st,
		secret:       secret,
		gen:          gen,
	}
	e.openSession(s)
	klog.WithSession(s.info.ID).Info().
		Str("wallet", req.WalletName).
		Int("groups", st.GroupCount).
		Int("group_threshold", st.GroupThreshold).
		Msg("Generation session started")
	return s, nil
}

// startRestore opens a restoration session. Caller holds mu.
func (e *Engine) startRestore(req RestoreRequest, r *slip39.Restorer) *RestoreSession {
	s := &RestoreSession{
		e:            e,
		info:         newSessionInfo(ModeRestore, req.WalletName),
		curve:        req.Curve,
		generatorKey: append([]byte(nil), req.GeneratorKey...),
		restorer:     r,
	}
	e.openSession(s)
	klog.WithSession(s.info.ID).Info().
		Str("wallet", req.WalletName).
		Msg("Restoration session started")
	return s
}

func newSessionInfo(mode, wallet string) SessionInfo {
	return SessionInfo{
		ID:         uuid.NewString(),
		Mode:       mode,
		WalletName: wallet,
		Started:    time.Now().UTC(),
	}
}

// openSession replaces the active session. Caller holds mu.
func (e *Engine) openSession(s session) {
	if prev := e.session; prev != nil {
		info := prev.Info()
		prev.wipe()
		e.metrics.Session(info.Mode, metrics.OutcomeSuperseded)
		klog.WithSession(info.ID).Warn().Str("mode", info.Mode).Msg("Session superseded")
	}
	e.session = s
	info := s.Info()
	e.metrics.Session(info.Mode, metrics.OutcomeStarted)
	if err := e.writeSessionMarker(info); err != nil {
		klog.SLIP39.Error().Err(err).Msg("Failed to persist session marker")
	}
}

// closeSession ends s if it is still active. Caller holds mu.
func (e *Engine) closeSession(s session, outcome string) {
	if e.session != s {
		return
	}
	info := s.Info()
	s.wipe()
	e.session = nil
	e.metrics.Session(info.Mode, outcome)
	if err := e.sessionDB.Delete(activeSessionKey); err != nil {
		klog.SLIP39.Error().Err(err).Msg("Failed to clear session marker")
	}
	klog.WithSession(info.ID).Info().Str("outcome", outcome).Msg("Session closed")
}

// checkActive fails with SessionConflict unless s is the open session.
// Caller holds mu.
func (e *Engine) checkActive(s session) error {
	if e.session != s {
		return hsmerr.New(hsmerr.KindSessionConflict, "session %s is no longer active", s.Info().ID)
	}
	return nil
}

func (e *Engine) writeSessionMarker(info SessionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal session marker: %w", err)
	}
	return e.sessionDB.Put(activeSessionKey, data)
}

// recoverSessionMarker reports a session that was open when the process
// stopped. Its shares were held in memory only and are gone.
func (e *Engine) recoverSessionMarker() error {
	data, err := e.sessionDB.Get(activeSessionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session marker: %w", err)
	}
	var info SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		klog.SLIP39.Warn().Err(err).Msg("Discarding unreadable session marker")
	} else {
		e.lost = &info
		e.metrics.Session(info.Mode, metrics.OutcomeLost)
		klog.WithSession(info.ID).Warn().
			Str("mode", info.Mode).
			Str("wallet", info.WalletName).
			Time("started", info.Started).
			Msg("Session lost at restart")
	}
	return e.sessionDB.DeleteAll()
}

// Close wipes the open session without clearing its marker, so the next
// engine on the same storage reports it through LostSession.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	info := e.session.Info()
	e.session.wipe()
	e.session = nil
	klog.WithSession(info.ID).Warn().
		Str("mode", info.Mode).
		Str("wallet", info.WalletName).
		Msg("Session dropped at shutdown")
}

// ActiveSession returns the open session, if any.
func (e *Engine) ActiveSession() (SessionInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return SessionInfo{}, false
	}
	return e.session.Info(), true
}

// LostSession returns the session that was open when the process last
// stopped, if any.
func (e *Engine) LostSession() (SessionInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lost == nil {
		return SessionInfo{}, false
	}
	return *e.lost, true
}

// CancelSession discards the open session. An empty id cancels whatever
// session is open.
func (e *Engine) CancelSession(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return hsmerr.New(hsmerr.KindNotFound, "no session is open")
	}
	if id != "" && e.session.Info().ID != id {
		return hsmerr.New(hsmerr.KindSessionConflict, "session %s is not the open session", id)
	}
	e.closeSession(e.session, metrics.OutcomeCancelled)
	return nil
}

// GenerationSession returns the open generation session with the given id.
func (e *Engine) GenerationSession(id string) (*GenerationSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.session.(*GenerationSession)
	if !ok || s.info.ID != id {
		return nil, hsmerr.New(hsmerr.KindSessionConflict, "no generation session %s", id)
	}
	return s, nil
}

// RestoreSession returns the open restoration session with the given id.
func (e *Engine) RestoreSession(id string) (*RestoreSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.session.(*RestoreSession)
	if !ok || s.info.ID != id {
		return nil, hsmerr.New(hsmerr.KindSessionConflict, "no restoration session %s", id)
	}
	return s, nil
}

// Info returns the session description.
func (s *GenerationSession) Info() SessionInfo { return s.info }

// ID returns the session handle id.
func (s *GenerationSession) ID() string { return s.info.ID }

// SetGroupInfo configures the member layout of a group. Members of the
// group are then emitted by AddMember.
func (s *GenerationSession) SetGroupInfo(groupIndex, memberCount, memberThreshold int) (err error) {
	defer s.e.observe("slip39_set_group", time.Now(), &err)
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if err := s.e.checkActive(s); err != nil {
		return err
	}
	if err := s.gen.SetGroup(groupIndex, memberCount, memberThreshold); err != nil {
		return err
	}
	klog.WithSession(s.info.ID).Debug().
		Int("group", groupIndex).
		Int("members", memberCount).
		Int("threshold", memberThreshold).
		Msg("Group configured")
	return nil
}

// AddMember emits the next member mnemonic of the configured group. The
// member that completes the share set allocates the master seed slot
// first, so no share set is handed out without its wallet.
func (s *GenerationSession) AddMember(passphrase string) (res *MemberResult, err error) {
	defer s.e.observe("slip39_add_member", time.Now(), &err)
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if err := s.e.checkActive(s); err != nil {
		return nil, err
	}
	if passphrase != s.strategy.Passphrase {
		return nil, hsmerr.New(hsmerr.KindPassphraseMismatch, "passphrase differs from the session passphrase")
	}

	if err := s.gen.Ready(); err != nil {
		return nil, err
	}

	res = &MemberResult{Group: s.gen.ActiveGroup()}
	if s.gen.LastMember() {
		v, err := s.e.createMaster(s.curve, s.info.WalletName, s.generatorKey, s.secret, false)
		if err != nil {
			return nil, err
		}
		res.Slot = v.ID
	}
	if res.Mnemonic, err = s.gen.NextMember(); err != nil {
		if res.Slot != 0 {
			if rmErr := s.e.store.Remove(res.Slot, false); rmErr != nil {
				klog.WithSession(s.info.ID).Error().Err(rmErr).Int("slot", res.Slot).Msg("Failed to release master slot")
			}
		}
		return nil, err
	}
	if s.gen.Done() {
		res.Done = true
		s.e.closeSession(s, metrics.OutcomeCompleted)
	}
	return res, nil
}

// Progress returns the number of fully emitted groups and the group count.
func (s *GenerationSession) Progress() (completed, total int) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.gen.Progress()
}

// Cancel discards the session and its share material.
func (s *GenerationSession) Cancel() error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if err := s.e.checkActive(s); err != nil {
		return err
	}
	s.e.closeSession(s, metrics.OutcomeCancelled)
	return nil
}

func (s *GenerationSession) wipe() {
	s.gen.Zero()
	crypto.Wipe(s.secret)
	crypto.Wipe(s.generatorKey)
}

// Info returns the session description.
func (s *RestoreSession) Info() SessionInfo { return s.info }

// ID returns the session handle id.
func (s *RestoreSession) ID() string { return s.info.ID }

// AddMnemonic feeds one share. Duplicates are accepted as no-ops. Once
// enough groups are complete the master seed is stored and the session
// closes. A failure to store the seed also closes the session.
func (s *RestoreSession) AddMnemonic(passphrase, mnemonic string) (res *ShareResult, err error) {
	defer s.e.observe("slip39_add_mnemonic", time.Now(), &err)
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if err := s.e.checkActive(s); err != nil {
		return nil, err
	}

	secret, err := s.restorer.Add(passphrase, mnemonic)
	if err != nil {
		klog.WithSession(s.info.ID).Debug().Err(err).Msg("Share rejected")
		return nil, err
	}
	return s.accept(secret)
}

// accept reports progress after a share and stores the master seed once
// secret is recovered. Caller holds mu.
func (s *RestoreSession) accept(secret []byte) (*ShareResult, error) {
	res := s.progress()
	if secret == nil {
		return res, nil
	}
	defer crypto.Wipe(secret)

	v, err := s.e.createMaster(s.curve, s.info.WalletName, s.generatorKey, secret, true)
	if err != nil {
		s.e.closeSession(s, metrics.OutcomeCancelled)
		return nil, err
	}
	res.Slot = v.ID
	res.Done = true
	s.e.closeSession(s, metrics.OutcomeCompleted)
	return res, nil
}

// Progress reports accepted shares without adding one.
func (s *RestoreSession) Progress() *ShareResult {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.progress()
}

func (s *RestoreSession) progress() *ShareResult {
	complete, threshold := s.restorer.Progress()
	return &ShareResult{
		GroupsComplete: complete,
		GroupThreshold: threshold,
		Shares:         s.restorer.Shares(),
	}
}

// Cancel discards the session and the shares it holds.
func (s *RestoreSession) Cancel() error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if err := s.e.checkActive(s); err != nil {
		return err
	}
	s.e.closeSession(s, metrics.OutcomeCancelled)
	return nil
}

func (s *RestoreSession) wipe() {
	s.restorer.Zero()
	crypto.Wipe(s.generatorKey)
}
