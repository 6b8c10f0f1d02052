// Package config handles klinghsmd configuration.
//
// Settings come from built-in defaults, then the key = value config file
// in the data directory, then command-line flags.
package config

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config holds the daemon's runtime configuration.
type Config struct {
	DataDir string `conf:"datadir"`

	// Key slot store
	Store StoreConfig

	// Wallet engine
	Wallet WalletConfig

	// RPC server
	RPC RPCConfig

	// Logging
	Log LogConfig
}

// StoreConfig holds key slot store settings.
type StoreConfig struct {
	Backend        string `conf:"store.backend"` // badger or memory
	MaxSlots       int    `conf:"store.maxslots"`
	MaxForeign     int    `conf:"store.maxforeign"`
	PassphraseFile string `conf:"store.passphrasefile"` // Empty = prompt or KLINGHSM_PASSPHRASE.
	KDFMemory      uint32 `conf:"store.kdf.memory"`     // Argon2id memory in KiB.
	KDFIterations  uint32 `conf:"store.kdf.iterations"`
	KDFParallelism uint8  `conf:"store.kdf.parallelism"`
}

// WalletConfig holds wallet engine settings.
type WalletConfig struct {
	EntropyBits       int    `conf:"wallet.entropybits"`
	Curve             string `conf:"wallet.curve"`        // Default curve for the CLI.
	IterationExponent int    `conf:"wallet.iterationexp"` // Default SLIP-39 work factor.
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"`    // Allowed CORS origins ("*" = all).
	Metrics     bool     `conf:"rpc.metrics"` // Serve Prometheus metrics on /metrics.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klinghsm
//	macOS:   ~/Library/Application Support/KlingHSM
//	Windows: %APPDATA%\KlingHSM
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klinghsm"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingHSM")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingHSM")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingHSM")
	default:
		return filepath.Join(home, ".klinghsm")
	}
}

// StoreDir returns the key slot database directory.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, "store")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klinghsm.conf")
}

// RPCListenAddr returns host:port for the RPC listener.
func (c *Config) RPCListenAddr() string {
	return net.JoinHostPort(c.RPC.Addr, strconv.Itoa(c.RPC.Port))
}
