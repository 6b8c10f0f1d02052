// Package nodeaddr converts derivation paths to and from their textual
// node address form, e.g. "m/44'/60'/0'/0".
package nodeaddr

import (
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingnet-hsm/internal/hd"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// Root is the address of a master seed.
const Root = "m"

// Format renders a path. Hardened indices carry an apostrophe.
func Format(path []uint32) string {
	var sb strings.Builder
	sb.Grow(2 + len(path)*6)
	sb.WriteString(Root)
	for _, idx := range path {
		sb.WriteByte('/')
		if idx >= hd.HardenedOffset {
			sb.WriteString(strconv.FormatUint(uint64(idx-hd.HardenedOffset), 10))
			sb.WriteByte('\'')
		} else {
			sb.WriteString(strconv.FormatUint(uint64(idx), 10))
		}
	}
	return sb.String()
}

// Parse reads a node address. The hardened marker may be ', h or H.
// Indices must be canonical decimal below 2^31.
func Parse(addr string) ([]uint32, error) {
	addr = strings.TrimSpace(addr)
	parts := strings.Split(addr, "/")
	if parts[0] != Root && parts[0] != "M" {
		return nil, hsmerr.Invalid("node address %q must start with %q", addr, Root)
	}
	parts = parts[1:]
	if len(parts) > hd.MaxDepth {
		return nil, hsmerr.Invalid("node address deeper than %d", hd.MaxDepth)
	}

	path := make([]uint32, 0, len(parts))
	for i, p := range parts {
		hardened := false
		if n := len(p); n > 0 {
			switch p[n-1] {
			case '\'', 'h', 'H':
				hardened = true
				p = p[:n-1]
			}
		}
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return nil, hsmerr.Invalid("node address %q: bad index at level %d", addr, i+1)
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return nil, hsmerr.Invalid("node address %q: bad index at level %d", addr, i+1)
			}
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil || v >= uint64(hd.HardenedOffset) {
			return nil, hsmerr.Invalid("node address %q: index out of range at level %d", addr, i+1)
		}
		idx := uint32(v)
		if hardened {
			idx += hd.HardenedOffset
		}
		path = append(path, idx)
	}
	return path, nil
}

// Normalize returns the canonical form of addr.
func Normalize(addr string) (string, error) {
	path, err := Parse(addr)
	if err != nil {
		return "", err
	}
	return Format(path), nil
}

// IsHardened reports whether the last step of path is hardened.
// The root is treated as hardened since it holds private material.
func IsHardened(path []uint32) bool {
	return len(path) == 0 || path[len(path)-1] >= hd.HardenedOffset
}

// Parent returns the path without its last step.
func Parent(path []uint32) []uint32 {
	if len(path) == 0 {
		return nil
	}
	return append([]uint32(nil), path[:len(path)-1]...)
}

// HasPrefix reports whether path descends from (or equals) prefix.
func HasPrefix(path, prefix []uint32) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
