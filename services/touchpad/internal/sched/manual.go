package sched

import (
	"errors"
	"sync"
	"time"
)

// Manual is a Factory whose timers only advance when Advance is called.
// Callbacks run on the goroutine calling Advance. Intended for host tests.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	max    int
	timers []*manTimer
}

// NewManual returns a Manual factory allowing at most max live timers
// (0 = unlimited).
func NewManual(max int) *Manual { return &Manual{max: max} }

func (m *Manual) NewTimer(periodic bool, fn func()) (Timer, error) {
	if fn == nil {
		return nil, errors.New("sched: nil callback")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && len(m.timers) >= m.max {
		return nil, ErrNoTimers
	}
	t := &manTimer{m: m, periodic: periodic, fn: fn}
	m.timers = append(m.timers, t)
	return t, nil
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Live reports timers created and not deleted.
func (m *Manual) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Armed reports timers currently started.
func (m *Manual) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.armed {
			n++
		}
	}
	return n
}

// Advance moves virtual time forward by d, firing every timer that falls due
// in order of deadline. Periodic timers may fire several times.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	for {
		var next *manTimer
		for _, t := range m.timers {
			if t.armed && t.due <= target && (next == nil || t.due < next.due) {
				next = t
			}
		}
		if next == nil {
			break
		}
		m.now = next.due
		if next.periodic {
			next.due += next.d
		} else {
			next.armed = false
		}
		fn := next.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

type manTimer struct {
	m        *Manual
	periodic bool
	fn       func()

	armed bool
	d     time.Duration
	due   time.Duration
}

func (t *manTimer) Start(d time.Duration) error {
	if d <= 0 {
		return ErrBadDuration
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.d = d
	t.due = t.m.now + d
	t.armed = true
	return nil
}

func (t *manTimer) Stop() {
	t.m.mu.Lock()
	t.armed = false
	t.m.mu.Unlock()
}

func (t *manTimer) Delete() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.armed = false
	for i, x := range t.m.timers {
		if x == t {
			t.m.timers = append(t.m.timers[:i], t.m.timers[i+1:]...)
			return
		}
	}
}
