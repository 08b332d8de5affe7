package lineout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"touchpad-go/services/touchpad"
)

var _ touchpad.Emitter = (*Emitter)(nil)

func drain(e *Emitter) string {
	var out []byte
	buf := make([]byte, 16)
	for {
		n := e.ring.TryRead(buf)
		if n == 0 {
			return string(out)
		}
		out = append(out, buf[:n]...)
	}
}

func TestLines(t *testing.T) {
	e := New(256)
	e.StateChanged("ready", 11)
	e.ChannelEvent(touchpad.Event{Kind: touchpad.EventPush, Channel: 3, Row: -1, Col: -1})
	e.MatrixEvent(2, touchpad.Event{Kind: touchpad.EventHold, Channel: -1, Row: 1, Col: 0})
	e.SliderMoved(1, 45, 100)

	want := "st ready 11\nch 3 push\nmx 2 1 0 hold\nsl 1 45 100\n"
	if got := drain(e); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFullRingDropsWholeLines(t *testing.T) {
	e := New(16)
	e.ChannelEvent(touchpad.Event{Kind: touchpad.EventRelease, Channel: 10}) // "ch 10 release\n" = 14
	e.ChannelEvent(touchpad.Event{Kind: touchpad.EventTap, Channel: 10})
	if e.Dropped() != 1 {
		t.Fatalf("dropped = %d", e.Dropped())
	}
	if got := drain(e); got != "ch 10 release\n" {
		t.Fatalf("got %q", got)
	}
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestPump(t *testing.T) {
	e := New(64)
	var out lockedBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Pump(ctx, &out) }()

	e.SliderMoved(0, 7, 9)
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(out.String(), "sl 0 7 9\n") {
		if time.Now().After(deadline) {
			t.Fatalf("pump wrote %q", out.String())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("pump returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("uart gone") }

func TestPumpStopsOnWriteError(t *testing.T) {
	e := New(64)
	e.StateChanged("stopped", 0)
	if err := e.Pump(context.Background(), failWriter{}); err == nil {
		t.Fatal("want error")
	}
}
