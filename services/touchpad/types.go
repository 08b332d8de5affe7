// services/touchpad/types.go
package touchpad

import "time"

// State of a channel or of a matrix group's active cell.
type State uint32

const (
	StateIdle State = iota
	StatePush
	StatePress // held; set once a repeat or hold timer fired
	StateRelease
)

func (s State) String() string {
	switch s {
	case StatePush:
		return "push"
	case StatePress:
		return "press"
	case StateRelease:
		return "release"
	default:
		return "idle"
	}
}

// Touched reports whether s is Push or Press.
func (s State) Touched() bool { return s == StatePush || s == StatePress }

type ButtonType uint32

const (
	Single ButtonType = iota
	MatrixRow
	MatrixColumn
	SliderLinear
	SliderDuplex
	SliderWheel
)

func (t ButtonType) IsSlider() bool { return t >= SliderLinear }

func (t ButtonType) IsMatrix() bool { return t == MatrixRow || t == MatrixColumn }

type EventKind uint8

const (
	EventPush EventKind = iota
	EventRelease
	EventTap
	EventSlide
	EventRepeat
	EventHold
)

func (k EventKind) String() string {
	switch k {
	case EventPush:
		return "push"
	case EventRelease:
		return "release"
	case EventTap:
		return "tap"
	case EventSlide:
		return "slide"
	case EventRepeat:
		return "repeat"
	case EventHold:
		return "hold"
	default:
		return "unknown"
	}
}

// Event is passed to handlers. Row and Col are -1 unless the event comes
// from a matrix group; Channel is -1 for group events.
type Event struct {
	Kind    EventKind
	Channel int
	Row     int
	Col     int
}

// Handler receives touch events. Handlers registered on channels and groups
// run synchronously on the processing goroutine; repeat and hold handlers
// run on the timer service's goroutine.
type Handler interface {
	HandleTouch(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleTouch(ev Event) { f(ev) }

// SensorHAL is the capacitive front end. Samples are unsigned magnitudes
// that drop when a pad is touched.
type SensorHAL interface {
	// Channels is the size of the channel table.
	Channels() int
	// Configure enables ch with a hardware interrupt threshold.
	Configure(ch int, threshold uint16) error
	// ReadRaw performs a settled read, used while creating a channel.
	ReadRaw(ch int) (uint16, error)
	// ReadRawISR returns the latest measured sample without blocking.
	ReadRawISR(ch int) uint16
	SetIRQ(handler func()) error
	ClearIRQ() error
	// ClearPending acknowledges the measurement-done interrupt.
	ClearPending()
}

// Emitter observes everything the service delivers. Calls are made on the
// goroutine delivering the event and must not block.
type Emitter interface {
	ChannelEvent(ev Event)
	MatrixEvent(matrix int, ev Event)
	SliderMoved(slider int, pos, posRange uint32)
	StateChanged(level string, channels int)
}

// Config holds the processing constants. DefaultConfig matches a 20 ms
// measurement cycle.
type Config struct {
	Period             time.Duration // measurement cycle
	Debounce           time.Duration // rounded down to whole cycles
	BaselineResetCount uint16        // cycles below the reset line before snapping the baseline
	BaselineUpdate     time.Duration // quiet time between baseline updates
	FilterFactor       uint32        // sample IIR factor; 0 disables filtering
	SliderFilterFactor uint32        // slider position IIR factor; 0 disables filtering
	SettleDelay        time.Duration // wait after configuring a pad
	InitialReads       int           // reads averaged into the first baseline
}

func DefaultConfig() Config {
	return Config{
		Period:             20 * time.Millisecond,
		Debounce:           80 * time.Millisecond,
		BaselineResetCount: 5,
		BaselineUpdate:     800 * time.Millisecond,
		FilterFactor:       4,
		SliderFilterFactor: 4,
		SettleDelay:        20 * time.Millisecond,
		InitialReads:       3,
	}
}

// Stats are counters kept by the processing goroutine.
type Stats struct {
	Cycles    uint64 // processing passes completed
	Coalesced uint32 // wakes merged into an already pending one
	Channels  int    // channels currently registered
}
