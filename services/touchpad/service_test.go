package touchpad

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchpad-go/bus"
	"touchpad-go/errcode"
	"touchpad-go/services/touchpad/simhal"
	"touchpad-go/types"
)

func TestNewValidatesConfig(t *testing.T) {
	hal := simhal.New(4, flat)

	_, err := New(nil, DefaultConfig())
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))

	cfg := DefaultConfig()
	cfg.Period = 0
	_, err = New(hal, cfg)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))

	cfg = DefaultConfig()
	cfg.InitialReads = 0
	_, err = New(hal, cfg)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))

	_, err = New(simhal.New(0, flat), DefaultConfig())
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))

	svc, err := New(hal, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 4, svc.Channels())
	assert.Equal(t, uint16(4), svc.debounceTh)
	assert.Equal(t, uint16(40), svc.blUpdateTh)
}

func TestCreateDeleteRecreate(t *testing.T) {
	r := newRig(t, 4)
	c, err := r.svc.CreateChannel(1, 0.1)
	require.NoError(t, err)
	require.NoError(t, c.AddHoldHandler(time.Second, &recorder{}))
	require.NoError(t, c.SetRepeatTrigger(time.Second, time.Second, &recorder{}))
	assert.Equal(t, 2, r.tm.Live())
	assert.Same(t, c, r.svc.Channel(1))

	require.NoError(t, r.svc.DeleteChannel(c))
	assert.Nil(t, r.svc.Channel(1))
	assert.Equal(t, 0, r.tm.Live())
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(r.svc.DeleteChannel(c)), "stale handle")
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(r.svc.DeleteChannel(nil)))

	c2, err := r.svc.CreateChannel(1, 0.2)
	require.NoError(t, err)
	assert.NotSame(t, c, c2)
	assert.InDelta(t, 0.15, c2.Threshold(), 1e-6)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(r.svc.DeleteChannel(c)), "old handle stays stale")
}

func TestCreateChannelErrors(t *testing.T) {
	r := newRig(t, 4)
	_, err := r.svc.CreateChannel(0, 0.1)
	require.NoError(t, err)

	_, err = r.svc.CreateChannel(0, 0.1)
	assert.Equal(t, errcode.AlreadyInUse, errcode.Of(err))
	_, err = r.svc.CreateChannel(4, 0.1)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))
	_, err = r.svc.CreateChannel(-1, 0.1)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))
	_, err = r.svc.CreateChannel(1, 0)
	assert.Equal(t, errcode.InvalidArgument, errcode.Of(err))

	r.hal.FailConfigure(1, errBoom)
	_, err = r.svc.CreateChannel(1, 0.1)
	assert.Equal(t, errcode.PlatformFailure, errcode.Of(err))
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, r.svc.Channel(1))

	r.hal.FailRead(2, errBoom)
	_, err = r.svc.CreateChannel(2, 0.1)
	assert.Equal(t, errcode.PlatformFailure, errcode.Of(err))

	r.hal.FailConfigure(3, errcode.Timeout)
	_, err = r.svc.CreateChannel(3, 0.1)
	assert.Equal(t, errcode.Timeout, errcode.Of(err), "coded HAL errors pass through")

	r.hal.FailConfigure(3, nil)
	r.hal.Set(3, 0)
	_, err = r.svc.CreateChannel(3, 0.1)
	assert.Equal(t, errcode.PlatformFailure, errcode.Of(err), "zero reading")
	assert.Nil(t, r.svc.Channel(3))
}

func TestBaselineAveragesInitialReads(t *testing.T) {
	r := newRig(t, 2)
	r.hal.Set(1, 1234)
	c, err := r.svc.CreateChannel(1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), c.Baseline())
}

func TestFirstPadGetsMaxThreshold(t *testing.T) {
	r := newRig(t, 4)
	_, err := r.svc.CreateChannel(2, 0.1)
	require.NoError(t, err)
	_, err = r.svc.CreateChannel(0, 0.1)
	require.NoError(t, err)

	th, ok := r.hal.Threshold(2)
	require.True(t, ok)
	assert.Equal(t, uint16(0xFFFF), th)
	th, ok = r.hal.Threshold(0)
	require.True(t, ok)
	assert.Equal(t, uint16(0), th)
}

func TestCycleSkipsUnlatchedChannels(t *testing.T) {
	r := newRig(t, 2)
	c, err := r.svc.CreateChannel(0, 0.1)
	require.NoError(t, err)

	r.svc.cycle() // no interrupt yet
	assert.Equal(t, uint16(0), c.Raw())
	r.step(1)
	assert.Equal(t, uint16(flat), c.Raw())
	assert.Equal(t, uint64(2), r.svc.Stats().Cycles)
	assert.Equal(t, 1, r.svc.Stats().Channels)
}

func TestRecreatedChannelWaitsForFreshSample(t *testing.T) {
	r := newRig(t, 2)
	c, err := r.svc.CreateChannel(1, 0.1)
	require.NoError(t, err)
	r.step(1)
	require.Equal(t, uint16(flat), c.Raw())

	require.NoError(t, r.svc.DeleteChannel(c))
	c2, err := r.svc.CreateChannel(1, 0.1)
	require.NoError(t, err)
	r.svc.cycle() // no interrupt since the id was reused
	assert.Equal(t, uint16(0), c2.Raw())
	r.step(1)
	assert.Equal(t, uint16(flat), c2.Raw())
}

func TestStartCloseWithWorker(t *testing.T) {
	em := &emitRecorder{}
	hal := simhal.New(2, flat)
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	svc, err := New(hal, cfg, WithEmitter(em))
	require.NoError(t, err)

	c, err := svc.CreateChannel(0, 0.1)
	require.NoError(t, err)
	rec := &recorder{}
	on(t, c, rec)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, errcode.AlreadyInUse, errcode.Of(svc.Start(context.Background())))

	hal.Set(0, 900)
	require.Eventually(t, func() bool {
		hal.Fire()
		return len(rec.events()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, EventPush, rec.events()[0].Kind)
	assert.Equal(t, 0, hal.Pending(), "isr acknowledges")

	require.NoError(t, svc.Close())
	assert.False(t, hal.Fire(), "interrupt handler removed")
	assert.Nil(t, svc.Channel(0))
	assert.Equal(t, []string{"ready", "stopped"}, em.states)

	require.NoError(t, svc.Close(), "second close is harmless")
}

func TestCloseDeletesGroups(t *testing.T) {
	r := newRig(t, 8)
	g, err := r.svc.CreateSlider([]int{0, 1, 2}, 100, []float32{0.1, 0.1, 0.1})
	require.NoError(t, err)
	m, err := r.svc.CreateMatrix([]int{3}, []int{4, 5}, []float32{0.1, 0.1, 0.1})
	require.NoError(t, err)
	require.NoError(t, m.AddHoldHandler(time.Second, &recorder{}))
	assert.Same(t, g, r.svc.Slider(g.ID()))
	assert.Same(t, m, r.svc.Matrix(m.ID()))
	assert.NotEqual(t, g.ID(), m.ID())

	require.NoError(t, r.svc.Close())
	assert.Nil(t, r.svc.Slider(g.ID()))
	assert.Nil(t, r.svc.Matrix(m.ID()))
	assert.Equal(t, 0, r.svc.Stats().Channels)
	assert.Equal(t, 0, r.tm.Live())
}

// ---- bus emitter ----

func recv(t *testing.T, sub *bus.Subscription) *bus.Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting on %s", sub.Topic())
		return nil
	}
}

func TestBusEmitterPublishes(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("touchpad")
	obs := b.NewConnection("observer")
	events := obs.Subscribe(EventsTopic("pad"))
	r := newRig(t, 6, WithEmitter(NewBusEmitter(conn, "pad")))

	_, err := r.svc.CreateChannel(5, 0.1)
	require.NoError(t, err)
	r.touch(0.1, 5)
	r.step(4)

	m := recv(t, events)
	assert.Equal(t, "touch/pad/channel/5/event/push", m.Topic.String())
	ev, ok := m.Payload.(types.TouchEvent)
	require.True(t, ok)
	assert.Equal(t, types.SourceChannel, ev.Source)
	assert.Equal(t, 5, ev.Channel)
	assert.Equal(t, "push", ev.Kind)

	g, err := r.svc.CreateSlider([]int{0, 1, 2}, 100, []float32{0.1, 0.1, 0.1})
	require.NoError(t, err)
	r.touch(0.1, 1)
	r.step(1)

	// Retained: a late subscriber still sees the value.
	sliders := obs.Subscribe(SliderTopic("pad"))
	m = recv(t, sliders)
	assert.True(t, m.Retained)
	sv, ok := m.Payload.(types.SliderValue)
	require.True(t, ok)
	assert.Equal(t, g.ID(), sv.ID)
	assert.Equal(t, uint32(50), sv.Position)
	assert.Equal(t, uint32(100), sv.Range)
}

func TestBusEmitterState(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("touchpad")
	hal := simhal.New(2, flat)
	svc, err := New(hal, DefaultConfig(), WithEmitter(NewBusEmitter(conn, "pad")))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })

	sub := b.NewConnection("observer").Subscribe(bus.T("touch", "pad", "state"))
	m := recv(t, sub)
	st, ok := m.Payload.(types.ServiceState)
	require.True(t, ok)
	assert.Equal(t, "ready", st.Level)
}

func TestServeRequests(t *testing.T) {
	b := bus.NewBus(8)
	em := NewBusEmitter(b.NewConnection("touchpad"), "pad")
	r := newRig(t, 4)
	_, err := r.svc.CreateChannel(2, 0.1)
	require.NoError(t, err)
	r.step(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go em.ServeRequests(ctx, r.svc)

	client := b.NewConnection("client")
	var reply *bus.Message
	require.Eventually(t, func() bool {
		rctx, rcancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer rcancel()
		m, err := client.RequestWait(rctx, client.NewMessage(StatsTopic("pad"), nil, false))
		reply = m
		return err == nil
	}, 2*time.Second, time.Millisecond)
	st, ok := reply.Payload.(types.TouchStats)
	require.True(t, ok)
	assert.Equal(t, uint64(3), st.Cycles)
	assert.Equal(t, 1, st.Channels)

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	reply, err = client.RequestWait(rctx, client.NewMessage(ChannelInfoTopic("pad", 2), nil, false))
	require.NoError(t, err)
	snap, ok := reply.Payload.(types.ChannelSnapshot)
	require.True(t, ok)
	assert.Equal(t, 2, snap.Channel)
	assert.Equal(t, "idle", snap.State)
	assert.Equal(t, uint16(flat), snap.Baseline)
	assert.InDelta(t, 0.075, snap.Threshold, 1e-6)

	reply, err = client.RequestWait(rctx, client.NewMessage(ChannelInfoTopic("pad", 1), nil, false))
	require.NoError(t, err)
	assert.Nil(t, reply.Payload)

	// A string id never falls back to channel 0.
	_, err = r.svc.CreateChannel(0, 0.1)
	require.NoError(t, err)
	reply, err = client.RequestWait(rctx, client.NewMessage(bus.T("touch", "pad", "channel", "0", "get"), nil, false))
	require.NoError(t, err)
	assert.Nil(t, reply.Payload)
}
