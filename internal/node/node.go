// Package node wires the slot store, wallet engine and RPC server into a
// running key-management daemon.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-hsm/config"
	"github.com/Klingon-tech/klingnet-hsm/internal/keyslot"
	klog "github.com/Klingon-tech/klingnet-hsm/internal/log"
	"github.com/Klingon-tech/klingnet-hsm/internal/metrics"
	"github.com/Klingon-tech/klingnet-hsm/internal/rpc"
	"github.com/Klingon-tech/klingnet-hsm/internal/storage"
	"github.com/Klingon-tech/klingnet-hsm/internal/wallet"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/rs/zerolog"
)

// gcInterval is how often the Badger value log is compacted.
const gcInterval = 10 * time.Minute

// Node is a fully-initialized key-management daemon.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db      storage.DB
	store   *keyslot.Store
	engine  *wallet.Engine
	metrics *metrics.Metrics

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new Node. It opens storage, unseals the
// slot table with passphrase and builds the RPC server, but does NOT start
// listening. Call Start() for that. The passphrase is wiped before New
// returns.
func New(cfg *config.Config, passphrase []byte) (*Node, error) {
	defer crypto.Wipe(passphrase)

	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "klinghsmd.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	logger.Info().
		Str("version", config.Version).
		Str("datadir", cfg.DataDir).
		Str("backend", cfg.Store.Backend).
		Msg("Starting Klingnet HSM")

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.StoreDir()).Msg("Database opened")

	// ── 3. Unseal slot table ────────────────────────────────────────
	m := metrics.New()
	store, err := keyslot.Open(db, storeOptions(cfg, passphrase))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open slot store: %w", err)
	}

	// ── 4. Wallet engine ────────────────────────────────────────────
	engine, err := wallet.New(store, db, wallet.Config{
		EntropyBits: cfg.Wallet.EntropyBits,
		Metrics:     m,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create wallet engine: %w", err)
	}
	if info, ok := engine.LostSession(); ok {
		logger.Warn().
			Str("session", info.ID).
			Str("mode", info.Mode).
			Str("wallet", info.WalletName).
			Time("started", info.Started).
			Msg("SLIP-39 session was lost to a restart")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		store:   store,
		engine:  engine,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	// ── 5. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		n.rpcServer = rpc.New(cfg.RPCListenAddr(), engine, m, cfg.RPC)
	}
	return n, nil
}

// Start begins serving RPC and background maintenance.
func (n *Node) Start() error {
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start rpc: %w", err)
		}
	}

	if bdb, ok := n.db.(*storage.BadgerDB); ok {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runValueLogGC(bdb)
		}()
	}

	n.logger.Info().
		Int("slots", len(n.store.IDs(false))).
		Int("wallets", len(n.engine.Wallets())).
		Msg("Node started")
	return nil
}

// Stop shuts the RPC server down, drops any open SLIP-39 session and
// closes storage. A dropped session is reported as lost on the next start.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	n.engine.Close()
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Engine returns the wallet engine.
func (n *Node) Engine() *wallet.Engine { return n.engine }

// Metrics returns the node's collectors.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

func (n *Node) runValueLogGC(db *storage.BadgerDB) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			rewritten, err := db.RunGC(0.5)
			if err != nil {
				n.logger.Warn().Err(err).Msg("Value log GC failed")
				continue
			}
			if rewritten > 0 {
				n.logger.Debug().Int("files", rewritten).Msg("Value log GC")
			}
		}
	}
}
