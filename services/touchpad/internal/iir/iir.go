// Package iir implements the first-order integer IIR smoother used for raw
// touch samples and for slider positions.
package iir

import "touchpad-go/x/mathx"

// Defaults for both the per-channel sample filter and the slider position.
const (
	DefaultFactor = 4
	DefaultShift  = 4
)

// Step returns (in + (k-1)*prev) / k using integer division.
// k == 0 disables filtering and returns in unchanged.
func Step(in, prev, k uint32) uint32 {
	if k == 0 {
		return in
	}
	return (in + (k-1)*prev) / k
}

// Smoother keeps the fixed-point state of one filtered stream.
// The zero value is ready to use; the first Update seeds the state with the
// input so the output does not ramp up from zero.
type Smoother struct {
	K     uint32 // smoothing factor; 0 passes input through
	Shift uint   // fixed-point precision bits

	prev uint32
}

// New returns a Smoother with the given factor and precision.
func New(k uint32, shift uint) Smoother {
	return Smoother{K: k, Shift: shift}
}

// Update feeds one sample and returns the rounded filtered value.
func (s *Smoother) Update(in uint32) uint32 {
	scaled := in << s.Shift
	if s.prev == 0 {
		s.prev = scaled
	}
	s.prev = Step(scaled, s.prev, s.K)
	return mathx.RoundShift(s.prev, s.Shift)
}

// Seeded reports whether at least one sample has been fed.
func (s *Smoother) Seeded() bool { return s.prev != 0 }

// Reset forgets the filter state; the next Update reseeds it.
func (s *Smoother) Reset() { s.prev = 0 }
