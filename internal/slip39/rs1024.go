package slip39

// Customization strings mixed into the RS1024 checksum.
const (
	customizationNonExtendable = "shamir"
	customizationExtendable    = "shamir_extendable"
)

// ChecksumWords is the number of checksum words at the end of a share.
const ChecksumWords = 3

func customization(extendable bool) string {
	if extendable {
		return customizationExtendable
	}
	return customizationNonExtendable
}

// rs1024Polymod computes the RS1024 polynomial modulus over 10-bit symbols.
func rs1024Polymod(values []int) uint32 {
	gen := [10]uint32{
		0xE0E040, 0x1C1C080, 0x3838100, 0x7070200, 0xE0E0009,
		0x1C0C2412, 0x38086C24, 0x3090FC48, 0x21B1F890, 0x3F3F120,
	}
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 20
		chk = (chk&0xFFFFF)<<10 ^ uint32(v)
		for i := 0; i < 10; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func customizationValues(extendable bool) []int {
	cs := customization(extendable)
	out := make([]int, len(cs))
	for i := 0; i < len(cs); i++ {
		out[i] = int(cs[i])
	}
	return out
}

// rs1024CreateChecksum returns the checksum words for data.
func rs1024CreateChecksum(data []int, extendable bool) []int {
	values := append(customizationValues(extendable), data...)
	values = append(values, 0, 0, 0)
	polymod := rs1024Polymod(values) ^ 1
	ret := make([]int, ChecksumWords)
	for i := 0; i < ChecksumWords; i++ {
		ret[i] = int((polymod >> uint(RadixBits*(ChecksumWords-1-i))) & 1023)
	}
	return ret
}

// rs1024VerifyChecksum verifies data including its trailing checksum words.
func rs1024VerifyChecksum(data []int, extendable bool) bool {
	return rs1024Polymod(append(customizationValues(extendable), data...)) == 1
}
