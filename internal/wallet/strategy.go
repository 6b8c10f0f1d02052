package wallet

import (
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// RecoveryStrategy selects how a master seed is backed up or restored.
// The variants are NoRecovery, BIP39Strategy and SLIP39Strategy.
type RecoveryStrategy interface {
	recoveryStrategy()
}

// NoRecovery generates a master seed with no backup.
type NoRecovery struct{}

// BIP39Strategy backs the seed up as a BIP-39 mnemonic.
type BIP39Strategy struct {
	Passphrase string
	Variant    string
}

// SLIP39Strategy backs the seed up as SLIP-39 group shares.
type SLIP39Strategy struct {
	GroupCount        int
	GroupThreshold    int
	IterationExponent int
	Passphrase        string
	Variant           string
}

func (NoRecovery) recoveryStrategy()     {}
func (BIP39Strategy) recoveryStrategy()  {}
func (SLIP39Strategy) recoveryStrategy() {}

// Variant names.
const (
	VariantStandard = "standard"
	VariantCardano  = "cardano"
)

func validateVariant(v string) error {
	switch v {
	case "", VariantStandard:
		return nil
	case VariantCardano:
		return hsmerr.Invalid("variant %q is not supported", v)
	}
	return hsmerr.Invalid("unknown variant %q", v)
}

// StrategyName returns a short label for logs and metrics.
func StrategyName(s RecoveryStrategy) string {
	switch s.(type) {
	case nil, NoRecovery:
		return "none"
	case BIP39Strategy:
		return "bip39"
	case SLIP39Strategy:
		return "slip39"
	}
	return "unknown"
}
