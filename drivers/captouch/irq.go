// drivers/captouch/irq.go
package captouch

import (
	"context"
	"errors"
	"sync/atomic"
)

// IRQPin is the controller's active-low interrupt line, armed on the
// falling edge.
type IRQPin interface {
	Get() bool
	SetIRQ(handler func()) error
	ClearIRQ() error
}

// Watcher samples the controller whenever its interrupt line asserts. The
// pin handler only posts a wake; the burst read runs on the watcher's
// goroutine.
type Watcher struct {
	dev   *Device
	pin   IRQPin
	wake  chan struct{}
	drops atomic.Uint32 // edges merged into a pending wake
}

func NewWatcher(dev *Device, pin IRQPin) *Watcher {
	return &Watcher{dev: dev, pin: pin, wake: make(chan struct{}, 1)}
}

// Drops counts edges that arrived while a wake was already pending.
func (w *Watcher) Drops() uint32 { return w.drops.Load() }

func (w *Watcher) edge() {
	select {
	case w.wake <- struct{}{}:
	default:
		w.drops.Add(1)
	}
}

// Run arms the pin and samples on every wake until ctx is done. A line
// still low after a sample means the controller has more to report, so
// it is sampled again.
func (w *Watcher) Run(ctx context.Context) (err error) {
	if err := w.pin.SetIRQ(w.edge); err != nil {
		return err
	}
	defer func() {
		if cerr := w.pin.ClearIRQ(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	reported := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wake:
		}
		for ctx.Err() == nil {
			err := w.dev.Sample()
			if err != nil && !errors.Is(err, ErrNotReady) && !reported {
				println("[captouch] irq sample failed:", err.Error())
				reported = true
			}
			if err != nil || w.pin.Get() {
				break
			}
		}
	}
}
