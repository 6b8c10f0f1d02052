package config

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
)

// Validate checks the configuration for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Store.Backend {
	case BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("store.backend must be %q or %q", BackendBadger, BackendMemory)
	}
	if cfg.Store.MaxSlots < 17 || cfg.Store.MaxSlots > 4096 {
		return fmt.Errorf("store.maxslots must be in range [17, 4096]")
	}
	if cfg.Store.MaxForeign < 1 || cfg.Store.MaxForeign > 4096 {
		return fmt.Errorf("store.maxforeign must be in range [1, 4096]")
	}
	if cfg.Store.KDFMemory < 8 || cfg.Store.KDFIterations < 1 || cfg.Store.KDFParallelism < 1 {
		return fmt.Errorf("store.kdf parameters must be positive (memory >= 8 KiB)")
	}
	if b := cfg.Wallet.EntropyBits; b < 128 || b > 256 || b%32 != 0 {
		return fmt.Errorf("wallet.entropybits must be 128-256 in steps of 32")
	}
	if _, err := crypto.ParseCurve(cfg.Wallet.Curve); err != nil {
		return fmt.Errorf("wallet.curve: %w", err)
	}
	if cfg.Wallet.IterationExponent < 0 || cfg.Wallet.IterationExponent > 15 {
		return fmt.Errorf("wallet.iterationexp must be in range [0, 15]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	return nil
}
