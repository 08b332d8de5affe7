package iir

import "testing"

func TestStepZeroFactorPassesThrough(t *testing.T) {
	for _, in := range []uint32{0, 1, 977, 65535} {
		if got := Step(in, 12345, 0); got != in {
			t.Fatalf("k=0: got %d want %d", got, in)
		}
	}
}

func TestStepFormula(t *testing.T) {
	// (100 + 3*200) / 4 = 175
	if got := Step(100, 200, 4); got != 175 {
		t.Fatalf("got %d", got)
	}
}

func TestSmootherSeedsAndConverges(t *testing.T) {
	s := New(DefaultFactor, DefaultShift)
	if s.Seeded() {
		t.Fatal("fresh smoother must not be seeded")
	}
	if got := s.Update(1000); got != 1000 {
		t.Fatalf("first output should equal seed, got %d", got)
	}
	// Step input; the output must approach the new level and settle on it.
	var out uint32
	for i := 0; i < 200; i++ {
		out = s.Update(1200)
	}
	if out < 1199 || out > 1200 {
		t.Fatalf("did not converge: %d", out)
	}
	s.Reset()
	if s.Seeded() {
		t.Fatal("reset should clear state")
	}
	if got := s.Update(50); got != 50 {
		t.Fatalf("reseed after reset: got %d", got)
	}
}

func TestSmootherZeroFactorIsExact(t *testing.T) {
	s := New(0, DefaultShift)
	for _, in := range []uint32{10, 900, 3, 3, 65535} {
		if got := s.Update(in); got != in {
			t.Fatalf("k=0 should follow input exactly: in=%d got=%d", in, got)
		}
	}
}
