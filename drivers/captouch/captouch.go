// Package captouch drives a 12-electrode I²C capacitive touch controller
// (MPR121 register map) as a touchpad front end.
//
// The controller does its own charge measurement; the driver only programs
// per-electrode thresholds, enables the electrodes in use and reads back the
// 10-bit filtered electrode data. Boards without the IRQ line wired use
// Poll, which reads every enabled electrode once per period and then raises
// the registered handler exactly like the hardware interrupt would.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package captouch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"touchpad-go/x/mathx"
)

// Default I2C address (ADDR pin to GND).
const Address = 0x5A

// Electrodes is the number of sensing inputs.
const Electrodes = 12

// Registers.
const (
	regTouchStatus = 0x00
	regFiltData    = 0x04 // 2 bytes per electrode, LSB first, 10 bits
	regBaseline    = 0x1E // 1 byte per electrode, value >> 2
	regTouchTh     = 0x41 // touch/release pairs, 2 bytes per electrode
	regReleaseTh   = 0x42
	regDebounce    = 0x5B
	regConfig1     = 0x5C
	regConfig2     = 0x5D
	regECR         = 0x5E
	regSoftReset   = 0x80

	softResetMagic = 0x63
	ecrBaselineOn  = 0x80 // baseline tracking on, initial value from first sample
)

// Errors returned by the driver.
var (
	ErrElectrode = errors.New("captouch: electrode out of range")
	ErrIRQSet    = errors.New("captouch: irq handler already set")
	ErrNotReady  = errors.New("captouch: no sample yet")
)

// Config controls optional behaviour. Zero fields take defaults.
type Config struct {
	// Address defaults to 0x5A.
	Address uint16
	// ChargeCurrent in µA (1..63). Default 16.
	ChargeCurrent uint8
	// ReleaseRatio sets the release threshold as a fraction of the touch
	// threshold, in 1/8ths. Default 4 (half).
	ReleaseRatio uint8
}

// Device is one controller on an I2C bus.
type Device struct {
	i2c  drivers.I2C
	addr uint16
	cfg  Config

	mu      sync.Mutex // bus transactions and buffers
	w       [3]byte
	r       [2 * Electrodes]byte
	enabled uint16 // electrode bitmask

	latest  [Electrodes]atomic.Uint32
	pending atomic.Int32

	irqMu sync.Mutex
	irq   func()
}

// New creates a Device. The I2C bus must already be configured; the
// controller is not touched until Configure or Reset.
func New(bus drivers.I2C) *Device {
	return &Device{i2c: bus, addr: Address}
}

// Reset soft-resets the controller and applies cfg. All electrodes end up
// disabled; Configure enables them one by one.
func (d *Device) Reset(cfg Config) error {
	if cfg.Address != 0 {
		d.addr = cfg.Address
	}
	if cfg.ChargeCurrent == 0 || cfg.ChargeCurrent > 63 {
		cfg.ChargeCurrent = 16
	}
	if cfg.ReleaseRatio == 0 || cfg.ReleaseRatio > 8 {
		cfg.ReleaseRatio = 4
	}
	d.cfg = cfg

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeReg(regSoftReset, softResetMagic); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	d.enabled = 0
	// Debounce is done in software; the controller reports every change.
	if err := d.writeReg(regDebounce, 0); err != nil {
		return err
	}
	if err := d.writeReg(regConfig1, cfg.ChargeCurrent&0x3F); err != nil {
		return err
	}
	// 0.5 µs charge time, 4 samples, 1 ms sample period
	return d.writeReg(regConfig2, 0x20)
}

// Channels is the number of electrodes.
func (d *Device) Channels() int { return Electrodes }

// Configure sets the electrode's touch threshold and enables it. The
// controller only runs electrodes 0..n-1 contiguously, so enabling a high
// electrode also scans the ones below it.
func (d *Device) Configure(ch int, threshold uint16) error {
	if ch < 0 || ch >= Electrodes {
		return ErrElectrode
	}
	th := uint8(mathx.Clamp(threshold, 0, 0xFF))
	rel := uint8(uint16(th) * uint16(d.cfg.ReleaseRatio) / 8)

	d.mu.Lock()
	defer d.mu.Unlock()
	// Threshold registers are only writable in stop mode.
	if err := d.writeReg(regECR, 0); err != nil {
		return err
	}
	if err := d.writeReg(regTouchTh+byte(2*ch), th); err != nil {
		return err
	}
	if err := d.writeReg(regReleaseTh+byte(2*ch), rel); err != nil {
		return err
	}
	d.enabled |= 1 << ch
	return d.writeReg(regECR, ecrBaselineOn|d.electrodeCount())
}

// Disable stops scanning every electrode.
func (d *Device) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = 0
	return d.writeReg(regECR, 0)
}

func (d *Device) electrodeCount() byte {
	n := byte(0)
	for i := 0; i < Electrodes; i++ {
		if d.enabled&(1<<i) != 0 {
			n = byte(i + 1)
		}
	}
	return n
}

// ReadRaw reads the electrode's filtered data from the controller.
func (d *Device) ReadRaw(ch int) (uint16, error) {
	if ch < 0 || ch >= Electrodes {
		return 0, ErrElectrode
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w[0] = regFiltData + byte(2*ch)
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	v := data10(d.r[0], d.r[1])
	d.latest[ch].Store(uint32(v))
	return v, nil
}

// ReadRawISR returns the sample latched by the last poll. It never touches
// the bus.
func (d *Device) ReadRawISR(ch int) uint16 {
	if ch < 0 || ch >= Electrodes {
		return 0
	}
	return uint16(d.latest[ch].Load())
}

// Baseline reads the controller's own baseline for ch, scaled to data units.
func (d *Device) Baseline(ch int) (uint16, error) {
	if ch < 0 || ch >= Electrodes {
		return 0, ErrElectrode
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w[0] = regBaseline + byte(ch)
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:1]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) << 2, nil
}

// TouchStatus returns the controller's touched-electrode bitmask.
func (d *Device) TouchStatus() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w[0] = regTouchStatus
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return (uint16(d.r[0]) | uint16(d.r[1])<<8) & 0x0FFF, nil
}

func (d *Device) SetIRQ(h func()) error {
	d.irqMu.Lock()
	defer d.irqMu.Unlock()
	if d.irq != nil {
		return ErrIRQSet
	}
	d.irq = h
	return nil
}

func (d *Device) ClearIRQ() error {
	d.irqMu.Lock()
	d.irq = nil
	d.irqMu.Unlock()
	return nil
}

func (d *Device) ClearPending() { d.pending.Store(0) }

// Sample reads every enabled electrode in one burst, latches the values for
// ReadRawISR and raises the handler. It reports ErrNotReady when no
// electrode is enabled yet.
func (d *Device) Sample() error {
	d.mu.Lock()
	n := int(d.electrodeCount())
	if n == 0 {
		d.mu.Unlock()
		return ErrNotReady
	}
	d.w[0] = regFiltData
	err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2*n])
	if err == nil {
		for i := 0; i < n; i++ {
			d.latest[i].Store(uint32(data10(d.r[2*i], d.r[2*i+1])))
		}
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.pending.Add(1)
	d.irqMu.Lock()
	h := d.irq
	d.irqMu.Unlock()
	if h != nil {
		h()
	}
	return nil
}

// Poll calls Sample every period until ctx is done. Bus errors are logged
// and polling continues.
func (d *Device) Poll(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	fails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			switch err := d.Sample(); err {
			case nil:
				fails = 0
			case ErrNotReady:
			default:
				if fails == 0 {
					println("[captouch] sample failed:", err.Error())
				}
				fails++
			}
		}
	}
}

func data10(lo, hi byte) uint16 { return (uint16(lo) | uint16(hi)<<8) & 0x03FF }

func (d *Device) writeReg(reg, val byte) error {
	d.w[0], d.w[1] = reg, val
	return d.i2c.Tx(d.addr, d.w[:2], nil)
}
