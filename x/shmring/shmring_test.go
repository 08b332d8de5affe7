package shmring

import "testing"

func TestOrderAcrossWrap(t *testing.T) {
	r := New(64)

	const N = 2000
	src := make([]byte, N)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 0, N)

	// Odd step sizes force partial progress on both sides and frequent wraps.
	p := src
	var tmp [17]byte
	for len(dst) < N {
		if len(p) > 0 {
			step := 7
			if step > len(p) {
				step = len(p)
			}
			p = p[r.TryWrite(p[:step]):]
		}
		n := r.TryRead(tmp[:])
		dst = append(dst, tmp[:n]...)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("mismatch at %d: got=%d want=%d", i, dst[i], src[i])
		}
	}
}

func TestFullRingRejectsWrites(t *testing.T) {
	r := New(8)
	if n := r.TryWrite(make([]byte, 12)); n != 8 {
		t.Fatalf("write 12 into 8 -> %d", n)
	}
	if r.Space() != 0 || r.Available() != 8 {
		t.Fatalf("space=%d avail=%d", r.Space(), r.Available())
	}
	if n := r.TryWrite([]byte{1}); n != 0 {
		t.Fatalf("write into full ring -> %d", n)
	}
	if n := r.TryRead(nil); n != 0 {
		t.Fatalf("read into empty slice -> %d", n)
	}
}

func TestReadableWritableEdges(t *testing.T) {
	r := New(8)
	select {
	case <-r.Readable():
		t.Fatal("unexpected Readable on empty ring")
	default:
	}

	r.TryWrite([]byte{1, 2, 3})
	select {
	case <-r.Readable():
	default:
		t.Fatal("expected Readable")
	}
	r.TryWrite([]byte{4})
	select {
	case <-r.Readable():
		t.Fatal("non-empty to non-empty must not signal")
	default:
	}

	r.TryWrite([]byte{5, 6, 7, 8})
	r.TryRead(make([]byte, 2))
	select {
	case <-r.Writable():
	default:
		t.Fatal("expected Writable after draining a full ring")
	}
}

func TestNewRejectsBadSize(t *testing.T) {
	for _, n := range []int{0, 1, 6} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("New(%d) did not panic", n)
				}
			}()
			New(n)
		}()
	}
}
