// services/touchpad/bridge.go
package touchpad

import "context"

// isr runs in interrupt context: it acknowledges the controller, latches one
// sample per registered channel and wakes the processing goroutine. It must
// not block, allocate or take locks.
func (s *Service) isr() {
	s.hal.ClearPending()
	for i := range s.table {
		if s.table[i].Load() != nil {
			s.samples.Put(i, s.hal.ReadRawISR(i))
		}
	}
	s.samples.Commit()
	s.wake.Notify()
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake.C():
			s.cycle()
		}
	}
}

// cycle processes the latest latched frame: filter, per-channel state
// machines, then the single slide dispatch.
func (s *Service) cycle() {
	s.samples.Snapshot(s.raw)

	var slide *Channel
	for i := range s.table {
		c := s.table[i].Load()
		if c == nil {
			continue
		}
		raw := s.raw[i]
		if raw == 0 {
			continue // slot not latched since the channel was registered
		}
		if c.process(raw, c.filter(raw)) {
			slide = c
		}
	}
	if slide != nil {
		slide.dispatch(EventSlide)
	}
	s.cycles.Add(1)
}
