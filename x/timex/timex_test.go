package timex

import (
	"testing"
	"time"
)

func TestCycles(t *testing.T) {
	const period = 20 * time.Millisecond
	if got := Cycles(80*time.Millisecond, period); got != 4 {
		t.Fatalf("debounce cycles: got %d", got)
	}
	if got := Cycles(800*time.Millisecond, period); got != 40 {
		t.Fatalf("baseline cycles: got %d", got)
	}
	if Cycles(time.Second, 0) != 0 || Cycles(-time.Second, period) != 0 {
		t.Fatal("degenerate inputs should yield 0")
	}
}

func TestNowMsMonotonicEnough(t *testing.T) {
	a := NowMs()
	b := NowMs()
	if b < a {
		t.Fatalf("clock went backwards: %d < %d", b, a)
	}
}
