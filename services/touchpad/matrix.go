// services/touchpad/matrix.go
package touchpad

import (
	"sync"
	"time"

	"touchpad-go/errcode"
)

// MatrixGroup resolves an N×M keypad from N row and M column channels. At
// most one cell is active at a time.
type MatrixGroup struct {
	svc  *Service
	id   int
	rows []*Channel
	cols []*Channel

	mu          sync.Mutex
	activeState State
	activeIdx   int // row*len(cols)+col, -1 when none
	handlers    [EventTap + 1]Handler
	repeat      *repeatTrigger
	holds       []*holdTimer
}

// axis binds one member channel back to its group position.
type axis struct {
	m   *MatrixGroup
	col bool
	idx int
}

func (a axis) HandleTouch(ev Event) {
	switch ev.Kind {
	case EventPush:
		a.m.push(a)
	case EventRelease:
		a.m.release(a)
	case EventTap:
		a.m.tap(a)
	}
}

func (m *MatrixGroup) ID() int { return m.id }

// Size returns the number of rows and columns.
func (m *MatrixGroup) Size() (rows, cols int) { return len(m.rows), len(m.cols) }

func (m *MatrixGroup) Rows() []*Channel { return append([]*Channel(nil), m.rows...) }

func (m *MatrixGroup) Cols() []*Channel { return append([]*Channel(nil), m.cols...) }

// Active returns the active cell, if any.
func (m *MatrixGroup) Active() (row, col int, state State, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeState == StateIdle || m.activeIdx < 0 {
		return -1, -1, StateIdle, false
	}
	row, col = m.cell(m.activeIdx)
	return row, col, m.activeState, true
}

func (m *MatrixGroup) cell(idx int) (row, col int) {
	n := len(m.cols)
	return idx / n, idx % n
}

func (m *MatrixGroup) event(kind EventKind, idx int) Event {
	row, col := m.cell(idx)
	return Event{Kind: kind, Channel: -1, Row: row, Col: col}
}

// On registers h for Push, Release or Tap of any cell.
func (m *MatrixGroup) On(kind EventKind, h Handler) error {
	const op = "matrix_on"
	if kind > EventTap {
		return errcode.New(errcode.InvalidArgument, op, "event kind not registrable on a matrix")
	}
	if h == nil {
		return errcode.New(errcode.InvalidArgument, op, "nil handler")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[kind] != nil {
		return errcode.New(errcode.InvalidArgument, op, kind.String()+" handler already registered")
	}
	m.handlers[kind] = h
	return nil
}

// SetRepeatTrigger calls h with the active cell once it has been held for
// after, then every interval until release.
func (m *MatrixGroup) SetRepeatTrigger(after, every time.Duration, h Handler) error {
	const op = "matrix_set_repeat_trigger"
	if after <= 0 || every <= 0 {
		return errcode.New(errcode.InvalidArgument, op, "durations must be positive")
	}
	if h == nil {
		return errcode.New(errcode.InvalidArgument, op, "nil handler")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.repeat == nil {
		tmr, err := m.svc.timers.NewTimer(false, m.repeatFired)
		if err != nil {
			return timerErr(op, err)
		}
		m.repeat = &repeatTrigger{tmr: tmr}
	} else {
		m.repeat.tmr.Stop()
	}
	m.repeat.after, m.repeat.every, m.repeat.h = after, every, h
	return nil
}

// AddHoldHandler calls h with the active cell once it has been held for
// after. Ignored if the cell was released first.
func (m *MatrixGroup) AddHoldHandler(after time.Duration, h Handler) error {
	const op = "matrix_add_hold_handler"
	if after <= 0 {
		return errcode.New(errcode.InvalidArgument, op, "duration must be positive")
	}
	if h == nil {
		return errcode.New(errcode.InvalidArgument, op, "nil handler")
	}
	ht := &holdTimer{after: after, h: h}
	tmr, err := m.svc.timers.NewTimer(false, func() { m.timerFired(ht.h, EventHold) })
	if err != nil {
		return timerErr(op, err)
	}
	ht.tmr = tmr
	m.mu.Lock()
	m.holds = append(m.holds, ht)
	m.mu.Unlock()
	return nil
}

// timerFired forces the active cell into Press and delivers kind to h.
// It reports whether a cell was active.
func (m *MatrixGroup) timerFired(h Handler, kind EventKind) bool {
	m.mu.Lock()
	if m.activeState == StateIdle {
		m.mu.Unlock()
		return false
	}
	m.activeState = StatePress
	ev := m.event(kind, m.activeIdx)
	m.mu.Unlock()
	m.svc.emitMatrix(m.id, ev)
	h.HandleTouch(ev)
	return true
}

func (m *MatrixGroup) repeatFired() {
	m.mu.Lock()
	r := m.repeat
	m.mu.Unlock()
	if r == nil || !m.timerFired(r.h, EventRepeat) {
		return
	}
	if err := r.tmr.Start(r.every); err != nil {
		println("[touchpad] matrix", m.id, "repeat timer start failed:", err.Error())
	}
}

// push runs when a member channel enters Push. Only an unambiguous single
// crossing on the other axis activates a cell.
func (m *MatrixGroup) push(a axis) {
	m.mu.Lock()
	if m.activeState != StateIdle {
		m.mu.Unlock()
		return
	}
	idx := -1
	other := m.cols
	if a.col {
		other = m.rows
	}
	for j, c := range other {
		if c.State() != StatePush {
			continue
		}
		if idx >= 0 {
			m.mu.Unlock()
			return // more than one: ambiguous
		}
		if a.col {
			idx = j*len(m.cols) + a.idx
		} else {
			idx = a.idx*len(m.cols) + j
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.activeState = StatePush
	m.activeIdx = idx
	h := m.handlers[EventPush]
	holds := append([]*holdTimer(nil), m.holds...)
	r := m.repeat
	ev := m.event(EventPush, idx)
	m.mu.Unlock()

	m.svc.emitMatrix(m.id, ev)
	if h != nil {
		h.HandleTouch(ev)
	}
	for _, ht := range holds {
		if err := ht.tmr.Start(ht.after); err != nil {
			println("[touchpad] matrix", m.id, "hold timer start failed:", err.Error())
		}
	}
	if r != nil {
		if err := r.tmr.Start(r.after); err != nil {
			println("[touchpad] matrix", m.id, "repeat timer start failed:", err.Error())
		}
	}
}

// skip reports whether an event from a should be ignored. Only column
// channels are checked, and against the active row index; row releases
// always pass.
func (m *MatrixGroup) skip(a axis) bool {
	return a.col && a.idx != m.activeIdx/len(m.cols)
}

func (m *MatrixGroup) release(a axis) {
	m.mu.Lock()
	if m.skip(a) || m.activeState == StateIdle {
		m.mu.Unlock()
		return
	}
	m.activeState = StateIdle
	ev := m.event(EventRelease, m.activeIdx)
	h := m.handlers[EventRelease]
	m.mu.Unlock()

	m.svc.emitMatrix(m.id, ev)
	if h != nil {
		h.HandleTouch(ev)
	}
	m.stopTimers()
}

func (m *MatrixGroup) tap(a axis) {
	m.mu.Lock()
	if m.skip(a) || m.activeState != StatePush {
		m.mu.Unlock()
		return
	}
	ev := m.event(EventTap, m.activeIdx)
	h := m.handlers[EventTap]
	m.mu.Unlock()

	m.svc.emitMatrix(m.id, ev)
	if h != nil {
		h.HandleTouch(ev)
	}
}

func (m *MatrixGroup) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ht := range m.holds {
		ht.tmr.Stop()
	}
	if m.repeat != nil {
		m.repeat.tmr.Stop()
	}
}

func (m *MatrixGroup) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ht := range m.holds {
		ht.tmr.Delete()
	}
	m.holds = nil
	if m.repeat != nil {
		m.repeat.tmr.Delete()
		m.repeat = nil
	}
	m.handlers = [EventTap + 1]Handler{}
	m.activeState, m.activeIdx = StateIdle, -1
}
