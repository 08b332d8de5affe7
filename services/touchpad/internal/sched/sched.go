// services/touchpad/internal/sched/sched.go
package sched

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoTimers is returned when a Factory has handed out all of its timers.
var ErrNoTimers = errors.New("sched: no free timers")

// ErrBadDuration is returned by Start for a non-positive duration.
var ErrBadDuration = errors.New("sched: duration must be positive")

// Timer is a one-shot or periodic timer owned by a single channel or group.
// Callbacks run on a goroutine owned by the timer service.
type Timer interface {
	// Start (re)arms the timer. A running timer is restarted from now.
	Start(d time.Duration) error
	// Stop disarms the timer. A callback already running is not interrupted.
	Stop()
	// Delete stops the timer and returns it to the factory.
	Delete()
}

// Factory creates timers.
type Factory interface {
	NewTimer(periodic bool, fn func()) (Timer, error)
}

// Runtime is the default Factory, backed by time.AfterFunc.
type Runtime struct {
	max  int32 // 0 = unlimited
	live atomic.Int32
}

// NewRuntime returns a Factory that allows at most max live timers.
// A max of 0 means no limit.
func NewRuntime(max int) *Runtime {
	return &Runtime{max: int32(max)}
}

// Live reports the number of timers created and not yet deleted.
func (r *Runtime) Live() int { return int(r.live.Load()) }

func (r *Runtime) NewTimer(periodic bool, fn func()) (Timer, error) {
	if fn == nil {
		return nil, errors.New("sched: nil callback")
	}
	if n := r.live.Add(1); r.max > 0 && n > r.max {
		r.live.Add(-1)
		return nil, ErrNoTimers
	}
	return &rtTimer{owner: r, periodic: periodic, fn: fn}, nil
}

type rtTimer struct {
	owner    *Runtime
	periodic bool
	fn       func()

	mu      sync.Mutex
	t       *time.Timer
	gen     uint64 // bumped on every Start/Stop; stale fires are ignored
	d       time.Duration
	deleted bool
}

func (t *rtTimer) Start(d time.Duration) error {
	if d <= 0 {
		return ErrBadDuration
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deleted {
		return errors.New("sched: timer deleted")
	}
	t.stopLocked()
	t.d = d
	t.armLocked(t.gen)
	return nil
}

func (t *rtTimer) armLocked(gen uint64) {
	t.t = time.AfterFunc(t.d, func() { t.fire(gen) })
}

func (t *rtTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.deleted {
		t.mu.Unlock()
		return
	}
	if t.periodic {
		t.armLocked(gen)
	} else {
		t.t = nil
	}
	t.mu.Unlock()
	t.fn()
}

func (t *rtTimer) stopLocked() {
	t.gen++
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *rtTimer) Stop() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

func (t *rtTimer) Delete() {
	t.mu.Lock()
	if t.deleted {
		t.mu.Unlock()
		return
	}
	t.stopLocked()
	t.deleted = true
	t.mu.Unlock()
	t.owner.live.Add(-1)
}
