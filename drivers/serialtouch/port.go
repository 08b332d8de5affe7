// Package serialtouch is a touchpad front end for a sensing MCU attached
// over a serial link. The MCU streams sample frames; every valid frame is
// latched and raises the registered handler, standing in for the
// measurement interrupt.
package serialtouch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"touchpad-go/errcode"
)

const (
	// DefaultBaudRate matches the sensing firmware.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds ReadRaw while waiting for a first frame.
	DefaultReadTimeout = 500 * time.Millisecond
)

var ErrIRQSet = errors.New("serialtouch: irq handler already set")

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name string
}

// Ports lists the serial ports present on the host.
func Ports() ([]PortInfo, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PortInfo{Name: n})
	}
	return out, nil
}

// Port implements touchpad.SensorHAL over a serial connection.
type Port struct {
	conn        io.ReadWriteCloser
	n           int
	ReadTimeout time.Duration

	latest  []atomic.Uint32
	pending atomic.Int32
	frames  atomic.Uint64

	mu      sync.Mutex
	seen    []bool
	updated chan struct{} // closed and replaced on every frame
	irq     func()
	wmu     sync.Mutex
	dec     Decoder // reader goroutine only
	bad     atomic.Uint32
	closed  bool // Close called
	dead    bool // reader exited
	cancel  context.CancelFunc
	done    chan struct{}
}

// Open opens the named serial device and starts reading frames for a
// front end with n channels.
func Open(name string, baud, n int) (*Port, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	conn, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	log.Printf("serialtouch: opened %s at %d baud", name, baud)
	return NewPort(conn, n), nil
}

// NewPort wraps an already open connection and starts the reader.
func NewPort(conn io.ReadWriteCloser, n int) *Port {
	if n <= 0 || n > MaxChannels {
		n = MaxChannels
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		conn:        conn,
		n:           n,
		ReadTimeout: DefaultReadTimeout,
		latest:      make([]atomic.Uint32, n),
		seen:        make([]bool, n),
		updated:     make(chan struct{}),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go p.readFrames(ctx)
	return p
}

// Close stops the reader and closes the connection.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	err := p.conn.Close()
	<-p.done
	if err != nil {
		return fmt.Errorf("close serial port: %w", err)
	}
	return nil
}

// Frames is the number of valid sample frames received.
func (p *Port) Frames() uint64 { return p.frames.Load() }

// BadFrames is the number of frames dropped for checksum or length errors.
func (p *Port) BadFrames() uint32 { return p.bad.Load() }

func (p *Port) Channels() int { return p.n }

// Configure asks the MCU to enable ch with the given threshold.
func (p *Port) Configure(ch int, threshold uint16) error {
	if ch < 0 || ch >= p.n {
		return errcode.New(errcode.InvalidArgument, "serialtouch_configure", "channel out of range")
	}
	return p.send(EncodeCommand(CmdConfigure, byte(ch), byte(threshold>>8), byte(threshold)))
}

// Stream asks the MCU to send a frame every period; 0 stops streaming.
func (p *Port) Stream(period time.Duration) error {
	ms := period.Milliseconds()
	if ms < 0 || ms > 255 {
		return errcode.New(errcode.InvalidArgument, "serialtouch_stream", "period must be 0..255 ms")
	}
	return p.send(EncodeCommand(CmdStream, byte(ms)))
}

func (p *Port) send(frame []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// ReadRaw returns the latest sample for ch, waiting up to ReadTimeout for a
// frame that carries it.
func (p *Port) ReadRaw(ch int) (uint16, error) {
	const op = "serialtouch_read"
	if ch < 0 || ch >= p.n {
		return 0, errcode.New(errcode.InvalidArgument, op, "channel out of range")
	}
	deadline := time.NewTimer(p.ReadTimeout)
	defer deadline.Stop()
	for {
		p.mu.Lock()
		if p.seen[ch] {
			p.mu.Unlock()
			return uint16(p.latest[ch].Load()), nil
		}
		if p.dead {
			p.mu.Unlock()
			return 0, errcode.New(errcode.PlatformFailure, op, "port closed")
		}
		wait := p.updated
		p.mu.Unlock()

		select {
		case <-wait:
		case <-deadline.C:
			return 0, errcode.New(errcode.Timeout, op, "no sample frame")
		}
	}
}

func (p *Port) ReadRawISR(ch int) uint16 {
	if ch < 0 || ch >= p.n {
		return 0
	}
	return uint16(p.latest[ch].Load())
}

func (p *Port) SetIRQ(h func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.irq != nil {
		return ErrIRQSet
	}
	p.irq = h
	return nil
}

func (p *Port) ClearIRQ() error {
	p.mu.Lock()
	p.irq = nil
	p.mu.Unlock()
	return nil
}

func (p *Port) ClearPending() { p.pending.Store(0) }

// readFrames decodes the byte stream until the connection fails or ctx is
// cancelled.
func (p *Port) readFrames(ctx context.Context) {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("serialtouch: panic in reader: %v", r)
		}
	}()

	rd := bufio.NewReader(p.conn)
	for {
		b, err := rd.ReadByte()
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				log.Printf("serialtouch: read error: %v", err)
			}
			p.mu.Lock()
			p.dead = true
			close(p.updated)
			p.updated = make(chan struct{})
			p.mu.Unlock()
			return
		}
		vals, err := p.dec.Feed(b)
		if err != nil {
			p.bad.Add(1)
			log.Printf("serialtouch: dropped frame: %v", err)
			continue
		}
		if vals != nil {
			p.latch(vals)
		}
	}
}

func (p *Port) latch(vals []uint16) {
	if len(vals) > p.n {
		vals = vals[:p.n]
	}
	for i, v := range vals {
		p.latest[i].Store(uint32(v))
	}
	p.frames.Add(1)
	p.pending.Add(1)

	p.mu.Lock()
	for i := range vals {
		p.seen[i] = true
	}
	close(p.updated)
	p.updated = make(chan struct{})
	h := p.irq
	p.mu.Unlock()

	if h != nil {
		h()
	}
}
