// Package lineout renders touch events as short text lines for a UART
// console. Events are queued in a byte ring so the emitting goroutine never
// waits on the port; lines that do not fit are dropped whole.
//
//	ch <id> <kind>
//	mx <id> <row> <col> <kind>
//	sl <id> <pos> <range>
//	st <level> <channels>
package lineout

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"touchpad-go/services/touchpad"
	"touchpad-go/x/conv"
	"touchpad-go/x/shmring"
)

const maxLine = 48

// Emitter implements touchpad.Emitter.
type Emitter struct {
	ring    *shmring.Ring
	mu      sync.Mutex // producers: processing and timer goroutines
	line    [maxLine]byte
	dropped atomic.Uint32
}

// New returns an emitter queueing up to size bytes (power of two).
func New(size int) *Emitter {
	return &Emitter{ring: shmring.New(size)}
}

// Dropped is the number of lines discarded because the ring was full.
func (e *Emitter) Dropped() uint32 { return e.dropped.Load() }

func (e *Emitter) ChannelEvent(ev touchpad.Event) {
	e.mu.Lock()
	b := append(e.line[:0], "ch "...)
	b = conv.AppendInt(b, int64(ev.Channel))
	b = append(b, ' ')
	b = append(b, ev.Kind.String()...)
	e.put(b)
	e.mu.Unlock()
}

func (e *Emitter) MatrixEvent(matrix int, ev touchpad.Event) {
	e.mu.Lock()
	b := append(e.line[:0], "mx "...)
	b = conv.AppendInt(b, int64(matrix))
	b = append(b, ' ')
	b = conv.AppendInt(b, int64(ev.Row))
	b = append(b, ' ')
	b = conv.AppendInt(b, int64(ev.Col))
	b = append(b, ' ')
	b = append(b, ev.Kind.String()...)
	e.put(b)
	e.mu.Unlock()
}

func (e *Emitter) SliderMoved(slider int, pos, posRange uint32) {
	e.mu.Lock()
	b := append(e.line[:0], "sl "...)
	b = conv.AppendInt(b, int64(slider))
	b = append(b, ' ')
	b = conv.AppendUint(b, uint64(pos))
	b = append(b, ' ')
	b = conv.AppendUint(b, uint64(posRange))
	e.put(b)
	e.mu.Unlock()
}

func (e *Emitter) StateChanged(level string, channels int) {
	e.mu.Lock()
	b := append(e.line[:0], "st "...)
	b = append(b, level...)
	b = append(b, ' ')
	b = conv.AppendInt(b, int64(channels))
	e.put(b)
	e.mu.Unlock()
}

// put queues b plus a newline, or drops it. Caller holds mu.
func (e *Emitter) put(b []byte) {
	b = append(b, '\n')
	if e.ring.Space() < len(b) {
		e.dropped.Add(1)
		return
	}
	e.ring.TryWrite(b)
}

// Pump copies queued lines to w until ctx is done or w fails.
func (e *Emitter) Pump(ctx context.Context, w io.Writer) error {
	var buf [64]byte
	for {
		for {
			n := e.ring.TryRead(buf[:])
			if n == 0 {
				break
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.ring.Readable():
		}
	}
}
