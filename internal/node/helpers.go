package node

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-hsm/config"
	"github.com/Klingon-tech/klingnet-hsm/internal/keyslot"
	"github.com/Klingon-tech/klingnet-hsm/internal/storage"
)

// PassphraseEnv names the environment variable consulted when no
// passphrase file is configured.
const PassphraseEnv = "KLINGHSM_PASSPHRASE"

// ErrNoPassphrase is returned by ResolvePassphrase when neither a file nor
// the environment supplies one. Interactive binaries prompt instead.
var ErrNoPassphrase = fmt.Errorf("no store passphrase: set store.passphrasefile or %s", PassphraseEnv)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadPassphrase reads a passphrase file, dropping one trailing newline.
func loadPassphrase(path string) ([]byte, error) {
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read passphrase file: %w", err)
	}
	data = bytes.TrimSuffix(data, []byte("\n"))
	data = bytes.TrimSuffix(data, []byte("\r"))
	if len(data) == 0 {
		return nil, fmt.Errorf("passphrase file %s is empty", path)
	}
	return data, nil
}

// ResolvePassphrase returns the store passphrase from the configured file
// or the environment.
func ResolvePassphrase(cfg *config.Config) ([]byte, error) {
	if cfg.Store.PassphraseFile != "" {
		return loadPassphrase(cfg.Store.PassphraseFile)
	}
	if v := os.Getenv(PassphraseEnv); v != "" {
		return []byte(v), nil
	}
	return nil, ErrNoPassphrase
}

// openDB opens the configured storage backend.
func openDB(cfg *config.Config) (storage.DB, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return storage.NewMemory(), nil
	case config.BackendBadger, "":
		return storage.NewBadger(cfg.StoreDir())
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// storeOptions maps the store settings onto keyslot options.
func storeOptions(cfg *config.Config, passphrase []byte) keyslot.Options {
	return keyslot.Options{
		MaxSlots:   cfg.Store.MaxSlots,
		MaxForeign: cfg.Store.MaxForeign,
		Passphrase: passphrase,
		KDF: keyslot.KDFParams{
			Memory:      cfg.Store.KDFMemory,
			Iterations:  cfg.Store.KDFIterations,
			Parallelism: cfg.Store.KDFParallelism,
		},
	}
}
