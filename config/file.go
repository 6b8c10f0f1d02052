package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads configuration values from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "datadir":
		cfg.DataDir = value

	// Store
	case "store.backend":
		cfg.Store.Backend = strings.ToLower(value)
	case "store.maxslots":
		cfg.Store.MaxSlots, err = strconv.Atoi(value)
	case "store.maxforeign":
		cfg.Store.MaxForeign, err = strconv.Atoi(value)
	case "store.passphrasefile":
		cfg.Store.PassphraseFile = value
	case "store.kdf.memory":
		cfg.Store.KDFMemory, err = parseUint32(value)
	case "store.kdf.iterations":
		cfg.Store.KDFIterations, err = parseUint32(value)
	case "store.kdf.parallelism":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 8)
		cfg.Store.KDFParallelism = uint8(n)

	// Wallet
	case "wallet.entropybits":
		cfg.Wallet.EntropyBits, err = strconv.Atoi(value)
	case "wallet.curve":
		cfg.Wallet.Curve = strings.ToLower(value)
	case "wallet.iterationexp":
		cfg.Wallet.IterationExponent, err = strconv.Atoi(value)

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		cfg.RPC.Port, err = strconv.Atoi(value)
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)
	case "rpc.metrics":
		cfg.RPC.Metrics = parseBool(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string) error {
	content := `# KlingHSM Daemon Configuration

# Data directory (default: ~/.klinghsm)
# datadir = ~/.klinghsm

# ============================================================================
# Key Slot Store
# ============================================================================

# badger (persistent) or memory (lost on exit)
store.backend = badger
store.maxslots = 512
store.maxforeign = 64

# File holding the store passphrase. When unset the daemon reads
# KLINGHSM_PASSPHRASE or prompts on the terminal.
# store.passphrasefile =

# Argon2id parameters, applied when the store is first created.
# store.kdf.memory = 65536
# store.kdf.iterations = 3
# store.kdf.parallelism = 4

# ============================================================================
# Wallet Engine
# ============================================================================

# Master secret size in bits (128-256, multiple of 32)
wallet.entropybits = 256
wallet.curve = secp256k1
# SLIP-39 PBKDF2 work factor (0-15)
wallet.iterationexp = 1

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = 8745
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000
rpc.metrics = true

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}
