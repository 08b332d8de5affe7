package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Cycles converts a duration into a whole number of sampling periods,
// rounding down. A non-positive period yields 0.
func Cycles(d, period time.Duration) uint16 {
	if period <= 0 || d <= 0 {
		return 0
	}
	n := d / period
	if n > 0xFFFF {
		return 0xFFFF
	}
	return uint16(n)
}
