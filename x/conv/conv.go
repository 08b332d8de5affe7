// Package conv appends numbers to byte slices without fmt or strconv, for
// MCU builds.
package conv

const hexDigits = "0123456789abcdef"

// AppendUint appends the decimal form of n.
func AppendUint(dst []byte, n uint64) []byte {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, buf[i:]...)
}

// AppendInt appends the decimal form of n.
func AppendInt(dst []byte, n int64) []byte {
	if n < 0 {
		dst = append(dst, '-')
		return AppendUint(dst, uint64(-n))
	}
	return AppendUint(dst, uint64(n))
}

// AppendHex appends the low 4*digits bits of v as zero-padded lowercase hex.
func AppendHex(dst []byte, v uint32, digits int) []byte {
	for s := 4 * (digits - 1); s >= 0; s -= 4 {
		dst = append(dst, hexDigits[(v>>uint(s))&0xF])
	}
	return dst
}
