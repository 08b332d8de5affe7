//go:build rp2040

// cmd/pico-touch/main.go
//
// Firmware: an electrode controller on I2C0 feeds the touch service, and
// every delivered event is written as a text line on UART0.
package main

import (
	"context"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"touchpad-go/drivers/captouch"
	"touchpad-go/services/config"
	"touchpad-go/services/touchpad"
	"touchpad-go/services/touchpad/lineout"
)

const (
	i2cSDA = machine.GP4
	i2cSCL = machine.GP5
	i2cHz  = 400_000
	irqPin = machine.GP6 // controller IRQ, active low

	uartTX   = machine.GP0
	uartRX   = machine.GP1
	uartBaud = 115200

	outRing = 1024
	board   = "pico"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(1500 * time.Millisecond)
	println("[main] boot")
	ctx := context.Background()

	i2cSDA.Configure(machine.PinConfig{Mode: machine.PinI2C})
	i2cSCL.Configure(machine.PinConfig{Mode: machine.PinI2C})
	if err := machine.I2C0.Configure(machine.I2CConfig{SCL: i2cSCL, SDA: i2cSDA, Frequency: i2cHz}); err != nil {
		fail("i2c0 configure", err)
	}
	if err := uartx.UART0.Configure(uartx.UARTConfig{BaudRate: uartBaud, TX: uartTX, RX: uartRX}); err != nil {
		fail("uart0 configure", err)
	}

	dev := captouch.New(machine.I2C0)
	if err := dev.Reset(captouch.Config{}); err != nil {
		fail("captouch reset", err)
	}

	cfg, err := config.FromEmbedded(board)
	if err != nil {
		fail("layout", err)
	}

	out := lineout.New(outRing)
	go func() {
		if err := out.Pump(ctx, uartx.UART0); err != nil {
			println("[main] uart output stopped:", err.Error())
		}
	}()

	svc, err := touchpad.New(dev, cfg.Touchpad(), touchpad.WithEmitter(out))
	if err != nil {
		fail("touchpad", err)
	}
	layout, err := cfg.Apply(svc, nil)
	if err != nil {
		fail("apply", err)
	}
	if err := svc.Start(ctx); err != nil {
		fail("start", err)
	}
	// The controller only interrupts on status changes; polling keeps the
	// baselines tracking between touches.
	go dev.Poll(ctx, cfg.Period)
	irq := captouch.NewWatcher(dev, pinIRQ{irqPin})
	go func() {
		if err := irq.Run(ctx); err != nil {
			println("[main] irq watcher stopped:", err.Error())
		}
	}()
	println("[main] layout", cfg.Name, "channels", len(layout.Channels), "sliders", len(layout.Sliders), "matrices", len(layout.Matrices))

	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for range tick.C {
		st := svc.Stats()
		status, _ := dev.TouchStatus()
		println("[main] cycles", st.Cycles, "coalesced", st.Coalesced, "status", status,
			"dropped", out.Dropped(), "irq merged", irq.Drops())
	}
}

func fail(what string, err error) {
	for {
		println("[main]", what, "failed:", err.Error())
		time.Sleep(2 * time.Second)
	}
}

// pinIRQ adapts a GPIO to captouch.IRQPin.
type pinIRQ struct{ p machine.Pin }

func (q pinIRQ) Get() bool { return q.p.Get() }

func (q pinIRQ) SetIRQ(h func()) error {
	q.p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return q.p.SetInterrupt(machine.PinFalling, func(machine.Pin) { h() })
}

func (q pinIRQ) ClearIRQ() error { return q.p.SetInterrupt(0, nil) }
