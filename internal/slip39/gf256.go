package slip39

import (
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// GF(256) with the Rijndael polynomial x^8 + x^4 + x^3 + x + 1.
var (
	gfExp [255]byte
	gfLog [256]int
)

func init() {
	p := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = byte(p)
		gfLog[p] = i
		// Multiply by the generator 3.
		p ^= p << 1
		if p&0x100 != 0 {
			p ^= 0x11b
		}
	}
}

// rawShare is one point of a split secret.
type rawShare struct {
	x     byte
	value []byte
}

// interpolate evaluates at x the polynomial passing through shares.
// All share values must have the same length and distinct x coordinates.
func interpolate(shares []rawShare, x byte) ([]byte, error) {
	if len(shares) == 0 {
		return nil, hsmerr.Invalid("no shares to interpolate")
	}
	size := len(shares[0].value)
	seen := make(map[byte]bool, len(shares))
	for _, s := range shares {
		if seen[s.x] {
			return nil, hsmerr.New(hsmerr.KindInconsistentShareSet, "duplicate share index %d", s.x)
		}
		seen[s.x] = true
		if len(s.value) != size {
			return nil, hsmerr.New(hsmerr.KindInconsistentShareSet, "share values differ in length")
		}
	}
	for _, s := range shares {
		if s.x == x {
			return append([]byte(nil), s.value...), nil
		}
	}

	// Sum of log(x_i - x) over all shares; subtraction is XOR.
	logProd := 0
	for _, s := range shares {
		logProd += gfLog[s.x^x]
	}

	result := make([]byte, size)
	for i, si := range shares {
		logBasis := logProd - gfLog[si.x^x]
		for j, sj := range shares {
			if i != j {
				logBasis -= gfLog[si.x^sj.x]
			}
		}
		logBasis = ((logBasis % 255) + 255) % 255

		for k, y := range si.value {
			if y != 0 {
				result[k] ^= gfExp[(gfLog[y]+logBasis)%255]
			}
		}
	}
	return result, nil
}
