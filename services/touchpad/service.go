// services/touchpad/service.go
package touchpad

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"touchpad-go/errcode"
	"touchpad-go/services/touchpad/internal/iir"
	"touchpad-go/services/touchpad/internal/mailbox"
	"touchpad-go/services/touchpad/internal/sched"
	"touchpad-go/x/timex"
)

// Service owns the channel table, the processing goroutine and the HAL
// binding.
type Service struct {
	hal    SensorHAL
	cfg    Config
	timers sched.Factory
	emit   Emitter

	// debounce/baseline thresholds in cycles, derived from cfg
	debounceTh, blUpdateTh uint16

	admin     sync.Mutex // create/delete
	table     []atomic.Pointer[Channel]
	sliders   map[int]*SliderGroup
	matrices  map[int]*MatrixGroup
	nextGroup int
	threshSet bool // first pad configured

	samples *mailbox.Samples
	wake    *mailbox.Signal
	raw     []uint16 // processing goroutine scratch
	cycles  atomic.Uint64

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Service)

// WithTimers replaces the default runtime timer service.
func WithTimers(f sched.Factory) Option { return func(s *Service) { s.timers = f } }

// WithEmitter attaches an observer for every delivered event.
func WithEmitter(e Emitter) Option { return func(s *Service) { s.emit = e } }

// New binds a HAL and validates cfg. Sensing starts with Start.
func New(hal SensorHAL, cfg Config, opts ...Option) (*Service, error) {
	const op = "touchpad_new"
	if hal == nil {
		return nil, errcode.New(errcode.InvalidArgument, op, "nil HAL")
	}
	if cfg.Period <= 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "period must be positive")
	}
	if cfg.InitialReads <= 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "initial reads must be positive")
	}
	if cfg.SettleDelay < 0 || cfg.Debounce < 0 || cfg.BaselineUpdate < 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "negative duration")
	}
	n := hal.Channels()
	if n <= 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "HAL reports no channels")
	}
	s := &Service{
		hal:        hal,
		cfg:        cfg,
		timers:     sched.NewRuntime(0),
		debounceTh: timex.Cycles(cfg.Debounce, cfg.Period),
		blUpdateTh: timex.Cycles(cfg.BaselineUpdate, cfg.Period),
		table:      make([]atomic.Pointer[Channel], n),
		sliders:    map[int]*SliderGroup{},
		matrices:   map[int]*MatrixGroup{},
		samples:    mailbox.NewSamples(n),
		wake:       mailbox.NewSignal(),
		raw:        make([]uint16, n),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Service) Config() Config { return s.cfg }

// Channels is the size of the channel table.
func (s *Service) Channels() int { return len(s.table) }

// Start registers the interrupt handler and launches the processing
// goroutine. It returns once sensing is armed.
func (s *Service) Start(ctx context.Context) error {
	const op = "touchpad_start"
	if !s.started.CompareAndSwap(false, true) {
		return errcode.New(errcode.AlreadyInUse, op, "already started")
	}
	if err := s.hal.SetIRQ(s.isr); err != nil {
		s.started.Store(false)
		return errcode.Wrap(errcode.MapPlatformErr(err), op, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	println("[touchpad] started,", len(s.table), "channels, period", s.cfg.Period.String())
	s.emitState("ready")
	return nil
}

// Close stops sensing and deletes every group and channel. It is safe to
// call on a service that was never started.
func (s *Service) Close() error {
	var err error
	if s.started.CompareAndSwap(true, false) {
		if e := s.hal.ClearIRQ(); e != nil {
			err = errcode.Wrap(errcode.MapPlatformErr(e), "touchpad_close", e)
		}
		s.cancel()
		<-s.done
	}

	s.admin.Lock()
	for id, g := range s.sliders {
		s.deleteSliderLocked(g)
		delete(s.sliders, id)
	}
	for id, m := range s.matrices {
		s.deleteMatrixLocked(m)
		delete(s.matrices, id)
	}
	for i := range s.table {
		if c := s.table[i].Load(); c != nil {
			s.deleteLocked(c)
		}
	}
	s.admin.Unlock()

	s.emitState("stopped")
	return err
}

// Stats returns processing counters.
func (s *Service) Stats() Stats {
	n := 0
	for i := range s.table {
		if s.table[i].Load() != nil {
			n++
		}
	}
	return Stats{Cycles: s.cycles.Load(), Coalesced: s.wake.Coalesced(), Channels: n}
}

// Channel returns the channel registered under id, or nil.
func (s *Service) Channel(id int) *Channel {
	if id < 0 || id >= len(s.table) {
		return nil
	}
	return s.table[id].Load()
}

// Slider returns the slider group with the given id, or nil.
func (s *Service) Slider(id int) *SliderGroup {
	s.admin.Lock()
	defer s.admin.Unlock()
	return s.sliders[id]
}

// Matrix returns the matrix group with the given id, or nil.
func (s *Service) Matrix(id int) *MatrixGroup {
	s.admin.Lock()
	defer s.admin.Unlock()
	return s.matrices[id]
}

// -----------------------------------------------------------------------------
// Channels
// -----------------------------------------------------------------------------

// CreateChannel configures pad id and registers a standalone channel whose
// touch threshold is 0.75·sensitivity. Blocks for the settle delay.
func (s *Service) CreateChannel(id int, sensitivity float32) (*Channel, error) {
	s.admin.Lock()
	defer s.admin.Unlock()
	return s.createLocked("create_channel", id, sensitivity)
}

func (s *Service) createLocked(op string, id int, sensitivity float32) (*Channel, error) {
	if id < 0 || id >= len(s.table) {
		return nil, errcode.New(errcode.InvalidArgument, op, "channel "+strconv.Itoa(id)+" out of range")
	}
	if !(sensitivity > 0) {
		return nil, errcode.New(errcode.InvalidArgument, op, "sensitivity must be positive")
	}
	if sensitivity < LowSensitivity {
		println("[touchpad] ch", id, "sensitivity below", LowSensitivity, "- debounce disabled")
	}
	if s.table[id].Load() != nil {
		return nil, errcode.New(errcode.AlreadyInUse, op, "channel "+strconv.Itoa(id)+" already registered")
	}

	// The first configured pad gets the maximum threshold so the controller
	// raises one interrupt per measurement period.
	var thresh uint16
	if !s.threshSet {
		thresh = 0xFFFF
	}
	if err := s.hal.Configure(id, thresh); err != nil {
		return nil, errcode.Wrap(errcode.MapPlatformErr(err), op, err)
	}
	s.threshSet = true
	if s.cfg.SettleDelay > 0 {
		time.Sleep(s.cfg.SettleDelay)
	}
	var sum uint32
	for i := 0; i < s.cfg.InitialReads; i++ {
		v, err := s.hal.ReadRaw(id)
		if err != nil {
			return nil, errcode.Wrap(errcode.MapPlatformErr(err), op, err)
		}
		sum += uint32(v)
	}
	base := uint16(sum / uint32(s.cfg.InitialReads))
	if base == 0 {
		return nil, errcode.New(errcode.PlatformFailure, op, "initial reading is zero")
	}

	c := &Channel{
		svc:         s,
		id:          id,
		sensitivity: sensitivity,
		baseline:    base,
		debounceTh:  s.debounceTh,
		blResetTh:   s.cfg.BaselineResetCount,
		blUpdateTh:  s.blUpdateTh,
		filt:        iir.New(s.cfg.FilterFactor, iir.DefaultShift),
	}
	c.setThresholds(sensitivity * touchRatio)
	s.table[id].Store(c)
	return c, nil
}

// DeleteChannel stops the channel's timers and frees its id. Channels
// created by a slider or matrix are deleted with their group, and a reused
// channel can only be deleted once its slider is gone.
func (s *Service) DeleteChannel(c *Channel) error {
	const op = "delete_channel"
	if c == nil {
		return errcode.New(errcode.InvalidArgument, op, "nil channel")
	}
	s.admin.Lock()
	defer s.admin.Unlock()
	if s.Channel(c.id) != c {
		return errcode.New(errcode.InvalidArgument, op, "channel not registered")
	}
	if c.owner != nil {
		return errcode.New(errcode.InvalidArgument, op, "channel belongs to a group")
	}
	if c.Type().IsSlider() {
		return errcode.New(errcode.InvalidArgument, op, "channel is part of a slider")
	}
	s.deleteLocked(c)
	return nil
}

func (s *Service) deleteLocked(c *Channel) {
	c.teardown()
	if s.table[c.id].CompareAndSwap(c, nil) {
		s.samples.Clear(c.id)
	}
}

// -----------------------------------------------------------------------------
// Sliders
// -----------------------------------------------------------------------------

// CreateSlider builds a slider over ids, in position order. Registered
// channels are reused and left in place on deletion; missing ones are
// created with the matching sensitivity and owned by the slider.
func (s *Service) CreateSlider(ids []int, posRange uint32, sensitivity []float32) (*SliderGroup, error) {
	const op = "create_slider"
	n := len(ids)
	if n < 3 {
		return nil, errcode.New(errcode.InvalidArgument, op, "a slider needs at least 3 channels")
	}
	if posRange < uint32(n) {
		return nil, errcode.New(errcode.InvalidArgument, op, "range smaller than channel count")
	}
	if len(sensitivity) != n {
		return nil, errcode.New(errcode.InvalidArgument, op, "one sensitivity per channel required")
	}
	seen := map[int]bool{}
	for _, id := range ids {
		if seen[id] {
			return nil, errcode.New(errcode.InvalidArgument, op, "duplicate channel "+strconv.Itoa(id))
		}
		seen[id] = true
	}

	s.admin.Lock()
	defer s.admin.Unlock()

	g := &SliderGroup{
		svc:      s,
		chans:    make([]*Channel, n),
		owned:    make([]bool, n),
		posScale: float32(posRange) / float32(n-1),
		posRange: posRange,
		excess:   make([]float32, n),
		thr:      make([]float32, n),
		smooth:   iir.New(s.cfg.SliderFilterFactor, iir.DefaultShift),
	}
	attached := 0
	rollback := func() {
		for i, c := range g.chans {
			switch {
			case c == nil:
			case g.owned[i]:
				s.deleteLocked(c)
			case i < attached:
				c.off(EventSlide)
				c.btype.Store(uint32(Single))
			}
		}
	}

	for i, id := range ids {
		if c := s.Channel(id); c != nil {
			if c.owner != nil || c.Type() != Single {
				rollback()
				return nil, errcode.New(errcode.InvalidArgument, op, "channel "+strconv.Itoa(id)+" belongs to another group")
			}
			g.chans[i] = c
			continue
		}
		c, err := s.createLocked(op, id, sensitivity[i])
		if err != nil {
			rollback()
			return nil, err
		}
		c.owner = g
		g.chans[i], g.owned[i] = c, true
	}
	for _, c := range g.chans {
		if err := c.On(EventSlide, g); err != nil {
			rollback()
			return nil, err
		}
		c.btype.Store(uint32(SliderLinear))
		attached++
	}

	g.id = s.nextGroup
	s.nextGroup++
	s.sliders[g.id] = g
	return g, nil
}

// DeleteSlider deletes owned channels and detaches the slider from reused
// ones.
func (s *Service) DeleteSlider(g *SliderGroup) error {
	if g == nil {
		return errcode.New(errcode.InvalidArgument, "delete_slider", "nil slider")
	}
	s.admin.Lock()
	defer s.admin.Unlock()
	if s.sliders[g.id] != g {
		return errcode.New(errcode.InvalidArgument, "delete_slider", "slider not registered")
	}
	s.deleteSliderLocked(g)
	delete(s.sliders, g.id)
	return nil
}

func (s *Service) deleteSliderLocked(g *SliderGroup) {
	for i, c := range g.chans {
		if g.owned[i] {
			s.deleteLocked(c)
			continue
		}
		c.off(EventSlide)
		c.btype.Store(uint32(Single))
	}
}

// -----------------------------------------------------------------------------
// Matrices
// -----------------------------------------------------------------------------

// CreateMatrix builds a keypad from row and column pads. sensitivity holds
// the row values followed by the column values. Any failure deletes every
// channel created so far.
func (s *Service) CreateMatrix(rows, cols []int, sensitivity []float32) (*MatrixGroup, error) {
	const op = "create_matrix"
	if len(rows) == 0 || len(cols) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "rows and columns required")
	}
	if len(rows) >= len(s.table) || len(cols) >= len(s.table) {
		return nil, errcode.New(errcode.InvalidArgument, op, "matrix larger than channel table")
	}
	if len(sensitivity) != len(rows)+len(cols) {
		return nil, errcode.New(errcode.InvalidArgument, op, "one sensitivity per row and column required")
	}

	s.admin.Lock()
	defer s.admin.Unlock()

	m := &MatrixGroup{
		svc:       s,
		activeIdx: -1,
	}
	var created []*Channel
	build := func(ids []int, sens []float32, col bool) ([]*Channel, error) {
		out := make([]*Channel, len(ids))
		bt := MatrixRow
		if col {
			bt = MatrixColumn
		}
		for i, id := range ids {
			c, err := s.createLocked(op, id, sens[i])
			if err != nil {
				return nil, err
			}
			created = append(created, c)
			c.owner = m
			c.btype.Store(uint32(bt))
			a := axis{m: m, col: col, idx: i}
			for _, k := range []EventKind{EventPush, EventRelease, EventTap} {
				if err := c.On(k, a); err != nil {
					return nil, err
				}
			}
			out[i] = c
		}
		return out, nil
	}

	var err error
	if m.rows, err = build(rows, sensitivity[:len(rows)], false); err == nil {
		m.cols, err = build(cols, sensitivity[len(rows):], true)
	}
	if err != nil {
		println("[touchpad] matrix create failed, rolling back", len(created), "channels")
		for _, c := range created {
			s.deleteLocked(c)
		}
		return nil, err
	}

	m.id = s.nextGroup
	s.nextGroup++
	s.matrices[m.id] = m
	return m, nil
}

// DeleteMatrix deletes the group's timers and all of its channels.
func (s *Service) DeleteMatrix(m *MatrixGroup) error {
	if m == nil {
		return errcode.New(errcode.InvalidArgument, "delete_matrix", "nil matrix")
	}
	s.admin.Lock()
	defer s.admin.Unlock()
	if s.matrices[m.id] != m {
		return errcode.New(errcode.InvalidArgument, "delete_matrix", "matrix not registered")
	}
	s.deleteMatrixLocked(m)
	delete(s.matrices, m.id)
	return nil
}

func (s *Service) deleteMatrixLocked(m *MatrixGroup) {
	m.teardown()
	for _, c := range m.rows {
		s.deleteLocked(c)
	}
	for _, c := range m.cols {
		s.deleteLocked(c)
	}
}

// -----------------------------------------------------------------------------
// Emitter hooks
// -----------------------------------------------------------------------------

func (s *Service) emitChannel(ev Event) {
	if s.emit != nil {
		s.emit.ChannelEvent(ev)
	}
}

func (s *Service) emitMatrix(id int, ev Event) {
	if s.emit != nil {
		s.emit.MatrixEvent(id, ev)
	}
}

func (s *Service) emitSlider(id int, pos, posRange uint32) {
	if s.emit != nil {
		s.emit.SliderMoved(id, pos, posRange)
	}
}

func (s *Service) emitState(level string) {
	if s.emit != nil {
		s.emit.StateChanged(level, s.Stats().Channels)
	}
}
