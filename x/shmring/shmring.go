// Package shmring is a single-producer, single-consumer byte ring with
// coalesced edge notifications.
package shmring

import "sync/atomic"

// Ring indices grow monotonically and wrap through mask.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer
	wr   atomic.Uint32 // producer

	readable chan struct{} // empty -> non-empty
	writable chan struct{} // full -> not full
}

// New allocates a ring. size must be a power of two >= 2.
func New(size int) *Ring {
	if size < 2 || size&(size-1) != 0 {
		panic("shmring: size must be power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (r *Ring) Cap() int { return len(r.buf) }

// Available is the number of bytes ready for the consumer.
func (r *Ring) Available() int { return int(r.wr.Load() - r.rd.Load()) }

// Space is the number of bytes the producer can write without blocking.
func (r *Ring) Space() int { return len(r.buf) - r.Available() }

// TryWrite copies as much of p as fits and returns the count. Producer only.
func (r *Ring) TryWrite(p []byte) int {
	rd, wr := r.rd.Load(), r.wr.Load()
	used := wr - rd
	n := len(r.buf) - int(used)
	if n > len(p) {
		n = len(p)
	}
	if n <= 0 {
		return 0
	}
	at := int(wr & r.mask)
	k := copy(r.buf[at:], p[:n])
	copy(r.buf, p[k:n])
	r.wr.Store(wr + uint32(n))

	if used == 0 {
		notify(r.readable)
	}
	return n
}

// TryRead copies up to len(p) buffered bytes into p. Consumer only.
func (r *Ring) TryRead(p []byte) int {
	rd, wr := r.rd.Load(), r.wr.Load()
	used := int(wr - rd)
	n := used
	if n > len(p) {
		n = len(p)
	}
	if n <= 0 {
		return 0
	}
	at := int(rd & r.mask)
	k := copy(p[:n], r.buf[at:])
	copy(p[k:n], r.buf)
	r.rd.Store(rd + uint32(n))

	if used == len(r.buf) {
		notify(r.writable)
	}
	return n
}

// Readable receives a token when the ring goes from empty to non-empty.
func (r *Ring) Readable() <-chan struct{} { return r.readable }

// Writable receives a token when a full ring frees space.
func (r *Ring) Writable() <-chan struct{} { return r.writable }

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
