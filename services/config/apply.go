package config

import (
	"fmt"

	"touchpad-go/errcode"
	"touchpad-go/services/touchpad"
)

// Validate checks the layout without touching hardware. Slider channels may
// reuse standalone channels; everything else must be disjoint.
func (c *Config) Validate() error {
	const op = "config_validate"
	bad := func(format string, args ...any) error {
		return errcode.New(errcode.InvalidArgument, op, fmt.Sprintf(format, args...))
	}
	if c.Name == "" {
		return bad("name is required")
	}
	if c.Period <= 0 {
		return bad("period must be positive")
	}
	if c.InitialReads <= 0 {
		return bad("initial_reads must be positive")
	}

	standalone := map[int]string{}
	grouped := map[int]string{}
	names := map[string]bool{}
	name := func(kind, n string) error {
		if n == "" {
			return bad("%s without a name", kind)
		}
		if names[kind+"/"+n] {
			return bad("duplicate %s name %q", kind, n)
		}
		names[kind+"/"+n] = true
		return nil
	}
	claim := func(owner string, id int) error {
		if id < 0 {
			return bad("%s: negative channel %d", owner, id)
		}
		if prev, ok := grouped[id]; ok {
			return bad("%s: channel %d already used by %s", owner, id, prev)
		}
		grouped[id] = owner
		return nil
	}
	sens := func(owner string, s []float32, want int) error {
		if len(s) != want {
			return bad("%s: want %d sensitivities, got %d", owner, want, len(s))
		}
		for _, v := range s {
			if !(v > 0) {
				return bad("%s: sensitivity must be positive", owner)
			}
		}
		return nil
	}
	repeat := func(owner string, r *RepeatConfig) error {
		if r != nil && (r.After <= 0 || r.Interval <= 0) {
			return bad("%s: repeat needs positive after and interval", owner)
		}
		return nil
	}

	for _, ch := range c.Channels {
		if err := name("channel", ch.Name); err != nil {
			return err
		}
		if ch.ID < 0 {
			return bad("channel %q: negative id", ch.Name)
		}
		if prev, ok := standalone[ch.ID]; ok {
			return bad("channel %q: id %d already used by %q", ch.Name, ch.ID, prev)
		}
		standalone[ch.ID] = ch.Name
		if !(ch.Sensitivity > 0) {
			return bad("channel %q: sensitivity must be positive", ch.Name)
		}
		if ch.Hold < 0 {
			return bad("channel %q: negative hold", ch.Name)
		}
		if err := repeat("channel "+ch.Name, ch.Repeat); err != nil {
			return err
		}
	}
	for _, s := range c.Sliders {
		if err := name("slider", s.Name); err != nil {
			return err
		}
		owner := "slider " + s.Name
		if len(s.Channels) < 3 {
			return bad("%s: needs at least 3 channels", owner)
		}
		if s.Range < uint32(len(s.Channels)) {
			return bad("%s: range smaller than channel count", owner)
		}
		for _, id := range s.Channels {
			if err := claim(owner, id); err != nil {
				return err
			}
		}
		if err := sens(owner, s.Sensitivity, len(s.Channels)); err != nil {
			return err
		}
	}
	for _, m := range c.Matrices {
		if err := name("matrix", m.Name); err != nil {
			return err
		}
		owner := "matrix " + m.Name
		if len(m.Rows) == 0 || len(m.Cols) == 0 {
			return bad("%s: rows and cols required", owner)
		}
		for _, id := range append(append([]int(nil), m.Rows...), m.Cols...) {
			if n, ok := standalone[id]; ok {
				return bad("%s: channel %d is standalone channel %q", owner, id, n)
			}
			if err := claim(owner, id); err != nil {
				return err
			}
		}
		if err := sens(owner, m.Sensitivity, len(m.Rows)+len(m.Cols)); err != nil {
			return err
		}
		if m.Hold < 0 {
			return bad("%s: negative hold", owner)
		}
		if err := repeat(owner, m.Repeat); err != nil {
			return err
		}
	}
	return nil
}

// Layout holds the handles created by Apply, keyed by configured name.
type Layout struct {
	Channels map[string]*touchpad.Channel
	Sliders  map[string]*touchpad.SliderGroup
	Matrices map[string]*touchpad.MatrixGroup

	chanNames   map[int]string
	sliderNames map[int]string
	matrixNames map[int]string
}

// ChannelName returns the configured name of channel id, or "".
func (l *Layout) ChannelName(id int) string { return l.chanNames[id] }

// SliderName returns the configured name of slider id, or "".
func (l *Layout) SliderName(id int) string { return l.sliderNames[id] }

// MatrixName returns the configured name of matrix id, or "".
func (l *Layout) MatrixName(id int) string { return l.matrixNames[id] }

// Remove deletes every group and channel in the layout.
func (l *Layout) Remove(svc *touchpad.Service) {
	for _, g := range l.Sliders {
		_ = svc.DeleteSlider(g)
	}
	for _, m := range l.Matrices {
		_ = svc.DeleteMatrix(m)
	}
	for _, c := range l.Channels {
		_ = svc.DeleteChannel(c)
	}
}

// Apply validates c and creates its layout on svc. Hold and repeat
// triggers call h, or only reach the service's emitter when h is nil. On
// error everything created so far is removed.
func (c *Config) Apply(svc *touchpad.Service, h touchpad.Handler) (*Layout, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if h == nil {
		h = touchpad.HandlerFunc(func(touchpad.Event) {})
	}
	l := &Layout{
		Channels:    map[string]*touchpad.Channel{},
		Sliders:     map[string]*touchpad.SliderGroup{},
		Matrices:    map[string]*touchpad.MatrixGroup{},
		chanNames:   map[int]string{},
		sliderNames: map[int]string{},
		matrixNames: map[int]string{},
	}
	fail := func(what string, err error) (*Layout, error) {
		println("[config] apply failed at", what+":", err.Error())
		l.Remove(svc)
		return nil, err
	}

	for _, cc := range c.Channels {
		ch, err := svc.CreateChannel(cc.ID, cc.Sensitivity)
		if err != nil {
			return fail("channel "+cc.Name, err)
		}
		l.Channels[cc.Name] = ch
		l.chanNames[cc.ID] = cc.Name
		if cc.Hold > 0 {
			if err := ch.AddHoldHandler(cc.Hold, h); err != nil {
				return fail("channel "+cc.Name, err)
			}
		}
		if cc.Repeat != nil {
			if err := ch.SetRepeatTrigger(cc.Repeat.After, cc.Repeat.Interval, h); err != nil {
				return fail("channel "+cc.Name, err)
			}
		}
	}
	for _, sc := range c.Sliders {
		g, err := svc.CreateSlider(sc.Channels, sc.Range, sc.Sensitivity)
		if err != nil {
			return fail("slider "+sc.Name, err)
		}
		l.Sliders[sc.Name] = g
		l.sliderNames[g.ID()] = sc.Name
	}
	for _, mc := range c.Matrices {
		m, err := svc.CreateMatrix(mc.Rows, mc.Cols, mc.Sensitivity)
		if err != nil {
			return fail("matrix "+mc.Name, err)
		}
		l.Matrices[mc.Name] = m
		l.matrixNames[m.ID()] = mc.Name
		if mc.Hold > 0 {
			if err := m.AddHoldHandler(mc.Hold, h); err != nil {
				return fail("matrix "+mc.Name, err)
			}
		}
		if mc.Repeat != nil {
			if err := m.SetRepeatTrigger(mc.Repeat.After, mc.Repeat.Interval, h); err != nil {
				return fail("matrix "+mc.Name, err)
			}
		}
	}
	return l, nil
}
