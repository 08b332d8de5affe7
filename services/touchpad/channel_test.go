package touchpad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchpad-go/errcode"
	"touchpad-go/services/touchpad/internal/sched"
)

func TestThresholdsFromSensitivity(t *testing.T) {
	r := newRig(t, 4)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)

	assert.InDelta(t, 0.075, c.Threshold(), 1e-6)
	assert.InDelta(t, 0.015, c.noiseThr, 1e-6)
	assert.InDelta(t, 0.0075, c.hystThr, 1e-6)
	assert.InDelta(t, 0.015, c.resetThr, 1e-6)
	assert.InDelta(t, 0.0375, c.slideThr, 1e-6)
	assert.Equal(t, uint16(4), c.debounceTh)
	assert.Equal(t, uint16(5), c.blResetTh)
	assert.Equal(t, uint16(40), c.blUpdateTh)
	assert.Equal(t, uint16(flat), c.Baseline())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, Single, c.Type())
}

func TestSetThresholdRederives(t *testing.T) {
	r := newRig(t, 2)
	c, err := r.svc.CreateChannel(1, 0.10)
	require.NoError(t, err)

	require.NoError(t, c.SetThreshold(0.2))
	assert.InDelta(t, 0.2, c.Threshold(), 1e-6)
	assert.InDelta(t, 0.04, c.noiseThr, 1e-6)
	assert.InDelta(t, 0.02, c.hystThr, 1e-6)
	assert.InDelta(t, 0.1, c.slideThr, 1e-6)

	err = c.SetThreshold(0)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))
	assert.InDelta(t, 0.2, c.Threshold(), 1e-6)
}

// Sensitivity 0.10: a diff rate of 0.09 held for the debounce count gives one
// Push; dropping to 0 gives Tap then Release.
func TestTapScenario(t *testing.T) {
	r := newRig(t, 4)
	c, err := r.svc.CreateChannel(2, 0.10)
	require.NoError(t, err)
	rec := &recorder{}
	on(t, c, rec)

	r.step(10) // quiet
	assert.Empty(t, rec.events())

	r.touch(0.09, 2)
	r.step(3)
	assert.Empty(t, rec.events(), "push before debounce count")
	r.step(1)
	assert.Equal(t, []EventKind{EventPush}, rec.kinds())
	assert.Equal(t, StatePush, c.State())

	r.step(10) // still held
	assert.Equal(t, []EventKind{EventPush}, rec.kinds())

	r.release(2)
	r.step(4)
	assert.Equal(t, []EventKind{EventPush, EventTap, EventRelease}, rec.kinds())
	assert.Equal(t, StateIdle, c.State())

	for _, ev := range rec.events() {
		assert.Equal(t, 2, ev.Channel)
		assert.Equal(t, -1, ev.Row)
		assert.Equal(t, -1, ev.Col)
	}
}

func TestPushNeedsConsecutiveCycles(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)
	rec := &recorder{}
	on(t, c, rec)

	// An ambiguous sample between noise and touch lines clears the count.
	for i := 0; i < 5; i++ {
		r.touch(0.09, 0)
		r.step(3)
		r.touch(0.05, 0)
		r.step(1)
	}
	assert.Empty(t, rec.events())
	assert.Equal(t, StateIdle, c.State())
}

func TestReleaseDebounceInsideBand(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)
	rec := &recorder{}
	on(t, c, rec)

	r.touch(0.09, 0)
	r.step(4)
	require.Equal(t, StatePush, c.State())

	// Inside the hysteresis band: still pressed.
	r.touch(0.07, 0)
	r.step(10)
	assert.Equal(t, StatePush, c.State())

	// Below touch-hysteresis but above noise: needs the full count.
	r.touch(0.04, 0)
	r.step(3)
	assert.Equal(t, StatePush, c.State())
	r.step(1)
	assert.Equal(t, StateRelease, c.State())
	assert.Equal(t, []EventKind{EventPush, EventTap, EventRelease}, rec.kinds())

	r.step(1)
	assert.Equal(t, StateIdle, c.State())
	assert.Len(t, rec.kinds(), 3)
}

func TestLowSensitivityBypassesDebounce(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.02)
	require.NoError(t, err)
	rec := &recorder{}
	on(t, c, rec)

	r.touch(0.03, 0)
	r.step(1)
	assert.Equal(t, []EventKind{EventPush}, rec.kinds())

	r.touch(0.01, 0)
	r.step(1)
	assert.Equal(t, []EventKind{EventPush, EventTap, EventRelease}, rec.kinds())
}

func TestBaselineTracksQuietDrift(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)

	r.hal.Set(0, flat+5) // within the noise band
	r.step(int(c.blUpdateTh))
	assert.Equal(t, uint16(flat), c.Baseline())
	r.step(1)
	assert.Equal(t, uint16(flat+5), c.Baseline())

	r.step(1)
	assert.InDelta(t, 0, c.DiffRate(), 1e-6)
	assert.LessOrEqual(t, c.DiffRate(), c.noiseThr)
}

func TestBaselineSnapsOnLargeNegativeStep(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)
	rec := &recorder{}
	on(t, c, rec)

	r.hal.Set(0, 1100)
	r.step(int(c.blResetTh))
	assert.Equal(t, uint16(flat), c.Baseline())
	r.step(1)
	assert.Equal(t, uint16(1100), c.Baseline())
	assert.Empty(t, rec.events())
}

func TestDuplicateHandlerKeepsFirst(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)

	first, second := &recorder{}, &recorder{}
	require.NoError(t, c.On(EventPush, first))
	err = c.On(EventPush, second)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))

	assert.Equal(t, errcode.InvalidArgument, errcode.Of(c.On(EventHold, first)))
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(c.On(EventRelease, nil)))

	r.touch(0.09, 0)
	r.step(4)
	assert.Len(t, first.events(), 1)
	assert.Empty(t, second.events())
}

func TestRepeatTrigger(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)
	rec, rep := &recorder{}, &recorder{}
	on(t, c, rec)
	require.NoError(t, c.SetRepeatTrigger(100*time.Millisecond, 50*time.Millisecond, rep))

	r.touch(0.09, 0)
	r.step(4) // push
	r.step(4) // held 80ms
	assert.Empty(t, rep.events())
	r.step(1) // held 100ms: crossing
	assert.Equal(t, []EventKind{EventRepeat}, rep.kinds())
	assert.Equal(t, StatePress, c.State())

	r.step(5) // past the threshold, no second crossing
	assert.Len(t, rep.events(), 1)

	r.tm.Advance(50 * time.Millisecond)
	r.tm.Advance(50 * time.Millisecond)
	assert.Len(t, rep.events(), 3)

	r.release(0)
	r.step(1)
	assert.Equal(t, []EventKind{EventPush, EventRelease}, rec.kinds(), "no tap after repeat")
	assert.Equal(t, 0, r.tm.Armed())
	r.tm.Advance(time.Second)
	assert.Len(t, rep.events(), 3)

	// Held time restarts after release.
	rep.reset()
	r.touch(0.09, 0)
	r.step(4 + 4)
	assert.Empty(t, rep.events())
	r.step(1)
	assert.Len(t, rep.events(), 1)
}

func TestRepeatTriggerValidation(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)
	h := &recorder{}

	assert.Equal(t, errcode.InvalidArgument, errcode.Of(c.SetRepeatTrigger(0, time.Second, h)))
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(c.SetRepeatTrigger(time.Second, 0, h)))
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(c.SetRepeatTrigger(time.Second, time.Second, nil)))

	require.NoError(t, c.SetRepeatTrigger(time.Second, time.Second, h))
	require.NoError(t, c.SetRepeatTrigger(2*time.Second, time.Second, h))
	assert.Equal(t, 1, r.tm.Live(), "reconfiguring reuses the timer")
}

func TestHoldHandler(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)
	rec, hold := &recorder{}, &recorder{}
	on(t, c, rec)
	require.NoError(t, c.AddHoldHandler(300*time.Millisecond, hold))
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(c.AddHoldHandler(0, hold)))

	// Released before the hold time: nothing.
	r.touch(0.09, 0)
	r.step(4)
	r.tm.Advance(200 * time.Millisecond)
	r.release(0)
	r.step(1)
	r.tm.Advance(time.Second)
	assert.Empty(t, hold.events())

	// Held long enough.
	rec.reset()
	r.touch(0.09, 0)
	r.step(4)
	r.tm.Advance(300 * time.Millisecond)
	require.Equal(t, []EventKind{EventHold}, hold.kinds())
	assert.Equal(t, 0, hold.events()[0].Channel)
	assert.Equal(t, StatePress, c.State())

	r.release(0)
	r.step(1)
	assert.Equal(t, []EventKind{EventPush, EventRelease}, rec.kinds())
}

func TestTimerExhaustion(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)
	r.svc.timers = sched.NewManual(1)

	require.NoError(t, c.AddHoldHandler(time.Second, &recorder{}))
	err = c.AddHoldHandler(time.Second, &recorder{})
	assert.Equal(t, errcode.ResourceExhausted, errcode.Of(err))

	r.svc.timers = failingFactory{}
	err = c.SetRepeatTrigger(time.Second, time.Second, &recorder{})
	assert.Equal(t, errcode.PlatformFailure, errcode.Of(err))
}

func TestFilterSmoothsSamples(t *testing.T) {
	r := newRig(t, 1)
	c, err := r.svc.CreateChannel(0, 0.10)
	require.NoError(t, err)

	r.step(1)
	assert.Equal(t, uint16(flat), c.Filtered())
	r.hal.Set(0, flat+40)
	r.step(1)
	assert.Equal(t, uint16(flat+40), c.Raw())
	assert.Equal(t, uint16(flat+10), c.Filtered())
	r.step(60)
	assert.InDelta(t, flat+40, int(c.Filtered()), 1)
}
