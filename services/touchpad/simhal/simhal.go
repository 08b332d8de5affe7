// Package simhal is an in-memory capacitive front end for host builds and
// tests. Samples are set by hand and the measurement interrupt is raised
// with Fire.
package simhal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrRange = errors.New("simhal: channel out of range")

// Sensor implements touchpad.SensorHAL.
type Sensor struct {
	vals    []atomic.Uint32
	pending atomic.Int32 // raised and not yet acknowledged

	mu         sync.Mutex
	handler    func()
	configured map[int]uint16
	failCfg    map[int]error
	failRead   map[int]error
}

// New returns a sensor with n channels, all reading initial.
func New(n int, initial uint16) *Sensor {
	s := &Sensor{
		vals:       make([]atomic.Uint32, n),
		configured: map[int]uint16{},
		failCfg:    map[int]error{},
		failRead:   map[int]error{},
	}
	for i := range s.vals {
		s.vals[i].Store(uint32(initial))
	}
	return s
}

func (s *Sensor) Channels() int { return len(s.vals) }

// Set changes the sample channel ch will report.
func (s *Sensor) Set(ch int, v uint16) {
	if ch >= 0 && ch < len(s.vals) {
		s.vals[ch].Store(uint32(v))
	}
}

// SetAll sets every channel to v.
func (s *Sensor) SetAll(v uint16) {
	for i := range s.vals {
		s.vals[i].Store(uint32(v))
	}
}

// FailConfigure makes Configure(ch) return err; nil clears it.
func (s *Sensor) FailConfigure(ch int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failCfg, ch)
		return
	}
	s.failCfg[ch] = err
}

// FailRead makes ReadRaw(ch) return err; nil clears it.
func (s *Sensor) FailRead(ch int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failRead, ch)
		return
	}
	s.failRead[ch] = err
}

func (s *Sensor) Configure(ch int, threshold uint16) error {
	if ch < 0 || ch >= len(s.vals) {
		return ErrRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failCfg[ch]; err != nil {
		return err
	}
	s.configured[ch] = threshold
	return nil
}

// Threshold returns the threshold ch was last configured with.
func (s *Sensor) Threshold(ch int) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.configured[ch]
	return v, ok
}

func (s *Sensor) ReadRaw(ch int) (uint16, error) {
	if ch < 0 || ch >= len(s.vals) {
		return 0, ErrRange
	}
	s.mu.Lock()
	err := s.failRead[ch]
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return uint16(s.vals[ch].Load()), nil
}

func (s *Sensor) ReadRawISR(ch int) uint16 {
	if ch < 0 || ch >= len(s.vals) {
		return 0
	}
	return uint16(s.vals[ch].Load())
}

func (s *Sensor) SetIRQ(h func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return errors.New("simhal: irq already set")
	}
	s.handler = h
	return nil
}

func (s *Sensor) ClearIRQ() error {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
	return nil
}

func (s *Sensor) ClearPending() { s.pending.Store(0) }

// Pending reports interrupts raised since the last ClearPending.
func (s *Sensor) Pending() int { return int(s.pending.Load()) }

// Fire raises the measurement interrupt, calling the handler synchronously.
// It reports whether a handler was registered.
func (s *Sensor) Fire() bool {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	s.pending.Add(1)
	if h == nil {
		return false
	}
	h()
	return true
}

// Run raises the interrupt every period until ctx is done, standing in for
// the controller's measurement timer.
func (s *Sensor) Run(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Fire()
		}
	}
}
