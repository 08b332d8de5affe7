// services/touchpad/slider.go
package touchpad

import (
	"sync"

	"touchpad-go/services/touchpad/internal/iir"
)

// SliderGroup tracks a finger position across an ordered row of channels.
type SliderGroup struct {
	svc      *Service
	id       int
	chans    []*Channel
	owned    []bool
	posScale float32
	posRange uint32

	mu     sync.Mutex
	excess []float32 // per-channel weighted excess, recomputed every cycle
	thr    []float32
	smooth iir.Smoother
	pos    uint32
	valid  bool
}

func (g *SliderGroup) ID() int { return g.id }

// Channels returns the slider's channels in position order.
func (g *SliderGroup) Channels() []*Channel { return append([]*Channel(nil), g.chans...) }

// Range is the position reported when the last channel alone is touched.
func (g *SliderGroup) Range() uint32 { return g.posRange }

// Position returns the smoothed position. ok is false until a touch has been
// resolved at least once. The position is not reset when the finger lifts.
func (g *SliderGroup) Position() (pos uint32, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos, g.valid
}

// HandleTouch receives the Slide event of whichever member channel was the
// cycle's slide source.
func (g *SliderGroup) HandleTouch(ev Event) {
	if ev.Kind != EventSlide {
		return
	}
	g.mu.Lock()
	for i, c := range g.chans {
		g.excess[i], g.thr[i] = c.slideInputs()
	}
	raw, ok := g.resolve()
	if ok {
		g.pos = g.smooth.Update(raw)
		g.valid = true
	}
	pos := g.pos
	g.mu.Unlock()

	if ok {
		g.svc.emitSlider(g.id, pos, g.posRange)
	}
}

// resolve computes the unsmoothed position from g.excess (holding diff
// rates on entry) and g.thr. It returns ok=false when nothing should be
// reported this cycle.
func (g *SliderGroup) resolve() (uint32, bool) {
	e, n := g.excess, len(g.excess)

	var weightSum float32
	for i := range e {
		weightSum += g.thr[i]
		e[i] -= g.thr[i]
		if e[i] < 0 {
			e[i] = 0
		}
	}
	for i := range e {
		e[i] = e[i] * weightSum / g.thr[i]
	}

	// Heaviest window of three neighbours.
	var valSum float32
	maxIdx, non0 := 0, 0
	for i := 2; i < n; i++ {
		if s := e[i-2] + e[i-1] + e[i]; s > valSum {
			valSum = s
			maxIdx = i - 1
			non0 = 0
			for j := i - 2; j <= i; j++ {
				if e[j] > 0 {
					non0++
				}
			}
		}
	}

	switch non0 {
	case 0:
		return 0, false
	case 1:
		total := 0
		for _, v := range e {
			if v > 0 {
				total++
			}
		}
		if total > 1 {
			return 0, false // two separate touches, likely a duplex layout
		}
		for i := maxIdx - 1; i <= maxIdx+1; i++ {
			if e[i] != 0 {
				if i == n-1 {
					return g.posRange, true
				}
				return uint32(float32(i) * g.posScale), true
			}
		}
		return 0, false
	case 2:
		lo, mid, hi := float32(maxIdx-1), float32(maxIdx), float32(maxIdx+1)
		switch {
		case e[maxIdx-1] == 0:
			return uint32((hi*e[maxIdx+1] + mid*e[maxIdx]) * g.posScale / valSum), true
		case e[maxIdx+1] == 0:
			return uint32((lo*e[maxIdx-1] + mid*e[maxIdx]) * g.posScale / valSum), true
		default:
			return 0, false // outer pair with a quiet centre
		}
	default:
		lo, mid, hi := float32(maxIdx-1), float32(maxIdx), float32(maxIdx+1)
		pos := (lo*e[maxIdx-1] + mid*e[maxIdx] + hi*e[maxIdx+1]) * g.posScale
		return uint32(pos / valSum), true
	}
}
