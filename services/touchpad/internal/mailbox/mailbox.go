// Package mailbox carries raw samples from interrupt context to the
// processing goroutine without locks on the interrupt side.
package mailbox

import "sync/atomic"

// Signal is a coalescing, non-queued wake-up. Any number of Notify calls
// before the receiver drains collapse into one pending wake.
type Signal struct {
	ch        chan struct{}
	coalesced atomic.Uint32
}

// NewSignal returns a ready Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify never blocks. It is safe to call from interrupt context.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
		s.coalesced.Add(1)
	}
}

// C is readable once per pending wake.
func (s *Signal) C() <-chan struct{} { return s.ch }

// Coalesced counts wakes that found one already pending.
func (s *Signal) Coalesced() uint32 { return s.coalesced.Load() }

// Samples is a double-buffered table of raw readings, one slot per channel.
//
// The single writer (interrupt side) fills the back buffer with Put and
// publishes it with Commit. The single reader copies the front buffer with
// Snapshot. Elements are stored atomically so a reader never observes a
// torn value; the sequence check detects a writer that lapped the reader
// during the copy.
type Samples struct {
	buf [2][]atomic.Uint32
	seq atomic.Uint32 // committed frames; front buffer is buf[seq&1]
}

// NewSamples allocates a table for n channels.
func NewSamples(n int) *Samples {
	return &Samples{buf: [2][]atomic.Uint32{
		make([]atomic.Uint32, n),
		make([]atomic.Uint32, n),
	}}
}

// Len is the number of channel slots.
func (s *Samples) Len() int { return len(s.buf[0]) }

// Put writes a sample for channel i into the back buffer.
// Out-of-range indices are ignored.
func (s *Samples) Put(i int, v uint16) {
	back := s.buf[(s.seq.Load()+1)&1]
	if i < 0 || i >= len(back) {
		return
	}
	back[i].Store(uint32(v))
}

// Clear zeroes channel i in both buffers. The writer must already skip the
// slot, as it does for an unregistered channel.
func (s *Samples) Clear(i int) {
	if i < 0 || i >= len(s.buf[0]) {
		return
	}
	s.buf[0][i].Store(0)
	s.buf[1][i].Store(0)
}

// Commit publishes the back buffer as the new front.
func (s *Samples) Commit() { s.seq.Add(1) }

// Seq returns the number of committed frames.
func (s *Samples) Seq() uint32 { return s.seq.Load() }

// Snapshot copies the current front buffer into dst and returns the frame
// sequence it belongs to. dst shorter than Len is filled partially.
func (s *Samples) Snapshot(dst []uint16) uint32 {
	for {
		seq := s.seq.Load()
		front := s.buf[seq&1]
		n := min(len(dst), len(front))
		for i := 0; i < n; i++ {
			dst[i] = uint16(front[i].Load())
		}
		if s.seq.Load() == seq {
			return seq
		}
	}
}
