// services/touchpad/channel.go
package touchpad

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"

	"touchpad-go/errcode"
	"touchpad-go/services/touchpad/internal/iir"
	"touchpad-go/services/touchpad/internal/sched"
	"touchpad-go/x/mathx"
)

// LowSensitivity is the sensitivity below which debounce is skipped in both
// directions.
const LowSensitivity float32 = 0.03

// Threshold ratios.
const (
	touchRatio      float32 = 0.75 // of sensitivity
	noiseRatio      float32 = 0.20 // of touch threshold
	hysteresisRatio float32 = 0.10
	resetRatio      float32 = 0.20
	slideRatio      float32 = 0.50
)

// Channel is one sensing element. It is created by Service.CreateChannel or
// implicitly by slider and matrix construction, and stays valid until
// deleted.
type Channel struct {
	svc   *Service
	id    int
	state atomic.Uint32 // State
	btype atomic.Uint32 // ButtonType
	owner any           // *SliderGroup or *MatrixGroup that created it; guarded by Service.admin

	mu          sync.Mutex
	sensitivity float32
	touchThr    float32
	noiseThr    float32
	hystThr     float32
	resetThr    float32
	slideThr    float32

	baseline uint16 // never 0
	raw      uint16
	filtered uint16
	diffRate float32

	debounce, debounceTh uint16
	blReset, blResetTh   uint16
	blUpdate, blUpdateTh uint16
	held                 time.Duration

	handlers [EventSlide + 1]Handler
	repeat   *repeatTrigger
	holds    []*holdTimer

	filt iir.Smoother // processing goroutine only
}

type repeatTrigger struct {
	after, every time.Duration
	h            Handler
	tmr          sched.Timer
}

type holdTimer struct {
	after time.Duration
	h     Handler
	tmr   sched.Timer
}

func (c *Channel) setThresholds(touch float32) {
	c.touchThr = touch
	c.noiseThr = touch * noiseRatio
	c.hystThr = touch * hysteresisRatio
	c.resetThr = touch * resetRatio
	c.slideThr = touch * slideRatio
}

func (c *Channel) ID() int { return c.id }

func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) Type() ButtonType { return ButtonType(c.btype.Load()) }

func (c *Channel) Baseline() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

func (c *Channel) Raw() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

func (c *Channel) Filtered() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filtered
}

// DiffRate is (baseline - raw) / baseline from the last processed sample.
func (c *Channel) DiffRate() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diffRate
}

// Threshold returns the touch threshold (a diff rate).
func (c *Channel) Threshold() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touchThr
}

// SetThreshold replaces the touch threshold and re-derives the noise,
// hysteresis, baseline reset and slide thresholds from it.
func (c *Channel) SetThreshold(touch float32) error {
	if !(touch > 0) {
		return errcode.New(errcode.InvalidArgument, "set_threshold", "threshold must be positive")
	}
	c.mu.Lock()
	c.setThresholds(touch)
	c.mu.Unlock()
	return nil
}

// On registers h for Push, Release, Tap or Slide. A kind can only be
// registered once; a second registration fails and keeps the first handler.
func (c *Channel) On(kind EventKind, h Handler) error {
	const op = "channel_on"
	if kind > EventSlide {
		return errcode.New(errcode.InvalidArgument, op, "event kind not registrable on a channel")
	}
	if h == nil {
		return errcode.New(errcode.InvalidArgument, op, "nil handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[kind] != nil {
		return errcode.New(errcode.InvalidArgument, op, kind.String()+" handler already registered")
	}
	c.handlers[kind] = h
	return nil
}

func (c *Channel) off(kind EventKind) {
	c.mu.Lock()
	c.handlers[kind] = nil
	c.mu.Unlock()
}

// SetRepeatTrigger calls h once the channel has been held for after, and
// then every interval until release. Calling it again replaces the
// configuration.
func (c *Channel) SetRepeatTrigger(after, every time.Duration, h Handler) error {
	const op = "set_repeat_trigger"
	if after <= 0 || every <= 0 {
		return errcode.New(errcode.InvalidArgument, op, "durations must be positive")
	}
	if h == nil {
		return errcode.New(errcode.InvalidArgument, op, "nil handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repeat == nil {
		tmr, err := c.svc.timers.NewTimer(true, c.repeatTick)
		if err != nil {
			return timerErr(op, err)
		}
		c.repeat = &repeatTrigger{tmr: tmr}
	} else {
		c.repeat.tmr.Stop()
	}
	c.repeat.after, c.repeat.every, c.repeat.h = after, every, h
	return nil
}

// AddHoldHandler calls h once the channel has stayed touched for after.
// The timer restarts on every Push and is cancelled on Release.
func (c *Channel) AddHoldHandler(after time.Duration, h Handler) error {
	const op = "add_hold_handler"
	if after <= 0 {
		return errcode.New(errcode.InvalidArgument, op, "duration must be positive")
	}
	if h == nil {
		return errcode.New(errcode.InvalidArgument, op, "nil handler")
	}
	ht := &holdTimer{after: after, h: h}
	tmr, err := c.svc.timers.NewTimer(false, func() { c.holdFired(ht) })
	if err != nil {
		return timerErr(op, err)
	}
	ht.tmr = tmr
	c.mu.Lock()
	c.holds = append(c.holds, ht)
	c.mu.Unlock()
	return nil
}

func (c *Channel) event(kind EventKind) Event {
	return Event{Kind: kind, Channel: c.id, Row: -1, Col: -1}
}

func (c *Channel) holdFired(ht *holdTimer) {
	if !c.state.CompareAndSwap(uint32(StatePush), uint32(StatePress)) && c.State() != StatePress {
		return // released while the timer was in flight
	}
	ev := c.event(EventHold)
	c.svc.emitChannel(ev)
	ht.h.HandleTouch(ev)
}

func (c *Channel) repeatTick() {
	c.mu.Lock()
	r := c.repeat
	var h Handler
	if r != nil {
		h = r.h
	}
	c.mu.Unlock()
	if h == nil || !c.State().Touched() {
		return
	}
	ev := c.event(EventRepeat)
	c.svc.emitChannel(ev)
	h.HandleTouch(ev)
}

// filter runs the sample IIR. Called only from the processing goroutine.
func (c *Channel) filter(raw uint16) uint16 {
	return mathx.SatU16(c.filt.Update(uint32(raw)))
}

func (c *Channel) setBaseline(v uint16) {
	if v != 0 {
		c.baseline = v
	}
}

type actions uint8

const (
	actPush actions = 1 << iota
	actTap
	actRelease
	actRepeat
)

// process runs one cycle of the debounce state machine and reports whether
// this channel is a slide source for the cycle.
func (c *Channel) process(raw, filtered uint16) (slide bool) {
	var act actions
	c.mu.Lock()
	c.raw, c.filtered = raw, filtered
	c.diffRate = float32(int32(c.baseline)-int32(raw)) / float32(c.baseline)
	low := c.sensitivity < LowSensitivity

	switch State(c.state.Load()) {
	case StateIdle, StateRelease:
		c.state.Store(uint32(StateIdle))
		if math32.Abs(c.diffRate) <= c.noiseThr {
			c.blReset, c.debounce = 0, 0
			c.blUpdate++
			if c.blUpdate > c.blUpdateTh {
				c.blUpdate = 0
				c.setBaseline(filtered)
			}
			break
		}
		c.blUpdate = 0
		switch {
		case c.diffRate >= c.touchThr+c.hystThr:
			c.blReset = 0
			c.debounce++
			if c.debounce >= c.debounceTh || low {
				c.debounce = 0
				c.state.Store(uint32(StatePush))
				act |= actPush
			}
		case c.diffRate <= -c.resetThr:
			c.debounce = 0
			c.blReset++
			if c.blReset > c.blResetTh {
				c.blReset = 0
				c.setBaseline(raw)
			}
		default:
			c.debounce, c.blReset = 0, 0
		}

	default: // Push, Press
		if c.diffRate > c.touchThr-c.hystThr {
			c.debounce = 0
			period := c.svc.cfg.Period
			c.held += period
			if r := c.repeat; r != nil && c.held-period < r.after && c.held >= r.after {
				c.state.Store(uint32(StatePress))
				act |= actRepeat
			}
			break
		}
		c.debounce++
		if c.debounce >= c.debounceTh || math32.Abs(c.diffRate) < c.noiseThr || low {
			c.debounce = 0
			if State(c.state.Load()) == StatePush {
				act |= actTap
			}
			c.held = 0
			c.state.Store(uint32(StateRelease))
			act |= actRelease
		}
	}

	slide = c.Type().IsSlider() && c.diffRate > c.slideThr
	c.mu.Unlock()

	if act != 0 {
		c.run(act)
	}
	return slide
}

// run delivers the outcome of a process call outside the channel lock.
func (c *Channel) run(act actions) {
	if act&actPush != 0 {
		c.dispatch(EventPush)
		c.startHolds()
	}
	if act&actTap != 0 {
		c.dispatch(EventTap)
	}
	if act&actRelease != 0 {
		c.dispatch(EventRelease)
		c.stopTimers()
	}
	if act&actRepeat != 0 {
		c.mu.Lock()
		r := c.repeat
		c.mu.Unlock()
		if r == nil {
			return
		}
		ev := c.event(EventRepeat)
		c.svc.emitChannel(ev)
		r.h.HandleTouch(ev)
		if err := r.tmr.Start(r.every); err != nil {
			println("[touchpad] ch", c.id, "repeat timer start failed:", err.Error())
		}
	}
}

func (c *Channel) dispatch(kind EventKind) {
	c.mu.Lock()
	h := c.handlers[kind]
	c.mu.Unlock()
	ev := c.event(kind)
	if kind != EventSlide {
		c.svc.emitChannel(ev)
	}
	if h != nil {
		h.HandleTouch(ev)
	}
}

func (c *Channel) startHolds() {
	c.mu.Lock()
	holds := append([]*holdTimer(nil), c.holds...)
	c.mu.Unlock()
	for _, ht := range holds {
		if err := ht.tmr.Start(ht.after); err != nil {
			println("[touchpad] ch", c.id, "hold timer start failed:", err.Error())
		}
	}
}

func (c *Channel) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ht := range c.holds {
		ht.tmr.Stop()
	}
	if c.repeat != nil {
		c.repeat.tmr.Stop()
	}
}

// teardown deletes every timer and drops all handlers.
func (c *Channel) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ht := range c.holds {
		ht.tmr.Delete()
	}
	c.holds = nil
	if c.repeat != nil {
		c.repeat.tmr.Delete()
		c.repeat = nil
	}
	c.handlers = [EventSlide + 1]Handler{}
}

// slideInputs returns the values the slider algorithm reads each cycle.
func (c *Channel) slideInputs() (diff, thr float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diffRate, c.slideThr
}

func timerErr(op string, err error) error {
	if errors.Is(err, sched.ErrNoTimers) {
		return errcode.Wrap(errcode.ResourceExhausted, op, err)
	}
	return errcode.Wrap(errcode.PlatformFailure, op, err)
}
