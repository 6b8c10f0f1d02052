// Package hsmerr defines the error kinds reported by the key-management engine.
package hsmerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidParameter
	KindSlotExhausted
	KindChainCodeUnavailable
	KindPrivateMaterialRequired
	KindChecksumMismatch
	KindUnknownWord
	KindShareMalformed
	KindPassphraseMismatch
	KindInconsistentShareSet
	KindAmbiguousWallet
	KindNotFound
	KindSessionConflict
)

var kindNames = [...]string{
	KindUnknown:                 "Unknown",
	KindInvalidParameter:        "InvalidParameter",
	KindSlotExhausted:           "SlotExhausted",
	KindChainCodeUnavailable:    "ChainCodeUnavailable",
	KindPrivateMaterialRequired: "PrivateMaterialRequired",
	KindChecksumMismatch:        "ChecksumMismatch",
	KindUnknownWord:             "UnknownWord",
	KindShareMalformed:          "ShareMalformed",
	KindPassphraseMismatch:      "PassphraseMismatch",
	KindInconsistentShareSet:    "InconsistentShareSet",
	KindAmbiguousWallet:         "AmbiguousWallet",
	KindNotFound:                "NotFound",
	KindSessionConflict:         "SessionConflict",
}

// String returns the kind name.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for i, name := range kindNames {
		if name == s {
			return Kind(i)
		}
	}
	return KindUnknown
}

// Error is an engine error with a kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is reports whether target is an *Error of the same kind.
// This lets errors.Is(err, hsmerr.ErrNotFound) match any NotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel values, one per kind.
var (
	ErrInvalidParameter        = &Error{Kind: KindInvalidParameter}
	ErrSlotExhausted           = &Error{Kind: KindSlotExhausted}
	ErrChainCodeUnavailable    = &Error{Kind: KindChainCodeUnavailable}
	ErrPrivateMaterialRequired = &Error{Kind: KindPrivateMaterialRequired}
	ErrChecksumMismatch        = &Error{Kind: KindChecksumMismatch}
	ErrUnknownWord             = &Error{Kind: KindUnknownWord}
	ErrShareMalformed          = &Error{Kind: KindShareMalformed}
	ErrPassphraseMismatch      = &Error{Kind: KindPassphraseMismatch}
	ErrInconsistentShareSet    = &Error{Kind: KindInconsistentShareSet}
	ErrAmbiguousWallet         = &Error{Kind: KindAmbiguousWallet}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrSessionConflict         = &Error{Kind: KindSessionConflict}
)

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Invalid is shorthand for New(KindInvalidParameter, ...).
func Invalid(format string, args ...interface{}) error {
	return New(KindInvalidParameter, format, args...)
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// codeBase is the first JSON-RPC server error code used for kinds.
const codeBase = -32010

// Code returns the JSON-RPC error code for the kind.
func (k Kind) Code() int {
	return codeBase - int(k)
}

// KindFromCode is the inverse of Kind.Code.
func KindFromCode(code int) Kind {
	k := Kind(codeBase - code)
	if k <= KindUnknown || int(k) >= len(kindNames) {
		return KindUnknown
	}
	return k
}
