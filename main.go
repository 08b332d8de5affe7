package main

import (
	"context"
	"os"
	"time"

	"touchpad-go/services/config"
	"touchpad-go/services/touchpad"
	"touchpad-go/services/touchpad/lineout"
	"touchpad-go/services/touchpad/simhal"
)

const (
	idle    = 1000
	touched = 800 // 20% drop
)

// step holds the listed channels at touched for hold, everything else idle.
type step struct {
	chans []int
	hold  time.Duration
}

func main() {
	println("[main] boot")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.FromEmbedded("demo")
	if err != nil {
		println("[main] layout:", err.Error())
		return
	}
	hal := simhal.New(12, idle)
	out := lineout.New(4096)
	go out.Pump(ctx, os.Stdout)

	svc, err := touchpad.New(hal, cfg.Touchpad(), touchpad.WithEmitter(out))
	if err != nil {
		println("[main] touchpad:", err.Error())
		return
	}
	defer svc.Close()
	if _, err := cfg.Apply(svc, nil); err != nil {
		println("[main] apply:", err.Error())
		return
	}
	if err := svc.Start(ctx); err != nil {
		println("[main] start:", err.Error())
		return
	}
	go hal.Run(ctx, cfg.Period)

	script := []step{
		{nil, 200 * time.Millisecond},
		{[]int{0}, 200 * time.Millisecond}, // tap power
		{nil, 200 * time.Millisecond},
		{[]int{0}, 1500 * time.Millisecond}, // hold power
		{nil, 200 * time.Millisecond},
		{[]int{2}, 200 * time.Millisecond}, // slide volume up
		{[]int{2, 3}, 200 * time.Millisecond},
		{[]int{3, 4}, 200 * time.Millisecond},
		{[]int{5}, 200 * time.Millisecond},
		{nil, 200 * time.Millisecond},
		{[]int{7, 9}, 900 * time.Millisecond}, // keypad row 1, col 1
		{nil, 300 * time.Millisecond},
	}
	for _, s := range script {
		hal.SetAll(idle)
		for _, ch := range s.chans {
			hal.Set(ch, touched)
		}
		time.Sleep(s.hold)
	}

	st := svc.Stats()
	println("[main] done, cycles", st.Cycles, "coalesced", st.Coalesced, "dropped", out.Dropped())
	// Let the pump flush.
	time.Sleep(50 * time.Millisecond)
}
