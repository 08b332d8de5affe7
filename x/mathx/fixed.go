package mathx

import "golang.org/x/exp/constraints"

// RoundShift returns v >> shift rounded to nearest (half up), i.e.
// (v + 2^(shift-1)) >> shift. A zero shift returns v unchanged.
func RoundShift[T constraints.Unsigned](v T, shift uint) T {
	if shift == 0 {
		return v
	}
	return (v + T(1)<<(shift-1)) >> shift
}

// SatU16 narrows v to uint16, saturating at the type maximum.
func SatU16[T constraints.Unsigned](v T) uint16 {
	if uint64(v) > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
