package touchpad

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"touchpad-go/services/touchpad/internal/sched"
	"touchpad-go/services/touchpad/simhal"
)

const flat = 1000

// rig is a service wired to a simulated front end and a manual clock. Cycles
// are driven synchronously with step; Start is not called.
type rig struct {
	svc *Service
	hal *simhal.Sensor
	tm  *sched.Manual
}

func newRig(t *testing.T, n int, opts ...Option) *rig {
	t.Helper()
	hal := simhal.New(n, flat)
	tm := sched.NewManual(0)
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	svc, err := New(hal, cfg, append([]Option{WithTimers(tm)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return &rig{svc: svc, hal: hal, tm: tm}
}

// step runs n interrupt + processing cycles.
func (r *rig) step(n int) {
	for i := 0; i < n; i++ {
		r.svc.isr()
		r.svc.cycle()
	}
}

// touch sets the raw sample for each channel so its diff rate is rate.
func (r *rig) touch(rate float64, chans ...int) {
	for _, ch := range chans {
		r.hal.Set(ch, uint16(math.Round(flat-rate*flat)))
	}
}

func (r *rig) release(chans ...int) {
	for _, ch := range chans {
		r.hal.Set(ch, flat)
	}
}

type recorder struct {
	mu  sync.Mutex
	evs []Event
}

func (r *recorder) HandleTouch(ev Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.evs...)
}

func (r *recorder) kinds() []EventKind {
	var out []EventKind
	for _, ev := range r.events() {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.evs = nil
	r.mu.Unlock()
}

// on registers rec for Push, Release and Tap.
func on(t *testing.T, c interface {
	On(EventKind, Handler) error
}, rec *recorder) {
	t.Helper()
	for _, k := range []EventKind{EventPush, EventRelease, EventTap} {
		require.NoError(t, c.On(k, rec))
	}
}

var errBoom = errors.New("boom")

type failingFactory struct{}

func (failingFactory) NewTimer(bool, func()) (sched.Timer, error) { return nil, errBoom }

// emitRecorder is an Emitter keeping everything it is given.
type emitRecorder struct {
	mu      sync.Mutex
	channel []Event
	matrix  []Event
	sliders []uint32
	states  []string
}

func (e *emitRecorder) ChannelEvent(ev Event) {
	e.mu.Lock()
	e.channel = append(e.channel, ev)
	e.mu.Unlock()
}

func (e *emitRecorder) MatrixEvent(_ int, ev Event) {
	e.mu.Lock()
	e.matrix = append(e.matrix, ev)
	e.mu.Unlock()
}

func (e *emitRecorder) SliderMoved(_ int, pos, _ uint32) {
	e.mu.Lock()
	e.sliders = append(e.sliders, pos)
	e.mu.Unlock()
}

func (e *emitRecorder) StateChanged(level string, _ int) {
	e.mu.Lock()
	e.states = append(e.states, level)
	e.mu.Unlock()
}
