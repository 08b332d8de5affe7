package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"
	"golang.org/x/term"

	"touchpad-go/bus"
	"touchpad-go/services/config"
	"touchpad-go/services/touchpad"
	"touchpad-go/services/touchpad/simhal"
	"touchpad-go/types"
)

const (
	prompt         = "touchmon> "
	requestTimeout = time.Second
	defaultRate    = 0.2 // simulated touch depth
)

var errSimOnly = errors.New("only available with -sim")

const helpText = `commands:
  stats                 processing counters
  ch <id>               channel diagnostics
  thr <id> <value>      set a channel's touch threshold
  touch <id> [rate]     simulate a touch (-sim)
  release <id>          end a simulated touch (-sim)
  save <path>           write the active layout as YAML
  quit`

type lineReader interface {
	ReadLine() (string, error)
}

type scanLines struct{ s *bufio.Scanner }

func (l scanLines) ReadLine() (string, error) {
	if l.s.Scan() {
		return l.s.Text(), nil
	}
	if err := l.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// openConsole puts a terminal stdin into raw mode behind a line editor.
// Anything else is read line by line. restore must be called on exit.
func openConsole(in *os.File, out *os.File) (lineReader, io.Writer, func(), error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return scanLines{bufio.NewScanner(in)}, out, func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set raw mode: %w", err)
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, prompt)
	return t, t, func() { _ = term.Restore(fd, old) }, nil
}

type console struct {
	conn *bus.Connection
	cfg  *config.Config
	svc  *touchpad.Service
	sim  *simhal.Sensor // nil unless simulating
	out  io.Writer
}

func (c *console) run(ctx context.Context, lines lineReader) error {
	for {
		line, err := lines.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read console: %w", err)
		}
		quit, err := c.exec(ctx, line)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

func (c *console) exec(ctx context.Context, line string) (quit bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
	case "quit", "exit":
		return true, nil
	case "stats":
		return false, c.stats(ctx)
	case "ch":
		id, err := intArg(rest, 0, "channel")
		if err != nil {
			return false, err
		}
		return false, c.channel(ctx, id)
	case "thr":
		id, err := intArg(rest, 0, "channel")
		if err != nil {
			return false, err
		}
		v, err := floatArg(rest, 1, "threshold")
		if err != nil {
			return false, err
		}
		ch := c.svc.Channel(id)
		if ch == nil {
			return false, fmt.Errorf("channel %d not registered", id)
		}
		return false, ch.SetThreshold(float32(v))
	case "touch":
		if c.sim == nil {
			return false, errSimOnly
		}
		id, err := intArg(rest, 0, "channel")
		if err != nil {
			return false, err
		}
		rate := defaultRate
		if len(rest) > 1 {
			if rate, err = floatArg(rest, 1, "rate"); err != nil {
				return false, err
			}
		}
		if rate <= 0 || rate >= 1 {
			return false, fmt.Errorf("rate must be in (0,1), got %v", rate)
		}
		c.sim.Set(id, uint16(simIdle*(1-rate)))
	case "release":
		if c.sim == nil {
			return false, errSimOnly
		}
		id, err := intArg(rest, 0, "channel")
		if err != nil {
			return false, err
		}
		c.sim.Set(id, simIdle)
	case "save":
		if len(rest) != 1 {
			return false, errors.New("usage: save <path>")
		}
		if err := c.cfg.Save(rest[0]); err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, "saved", rest[0])
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

func (c *console) request(ctx context.Context, topic bus.Topic) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	m, err := c.conn.RequestWait(ctx, c.conn.NewMessage(topic, nil, false))
	if err != nil {
		return nil, fmt.Errorf("no reply on %s: %w", topic, err)
	}
	return m.Payload, nil
}

func (c *console) stats(ctx context.Context) error {
	p, err := c.request(ctx, touchpad.StatsTopic(c.cfg.Name))
	if err != nil {
		return err
	}
	st, ok := p.(types.TouchStats)
	if !ok {
		return fmt.Errorf("unexpected stats payload %T", p)
	}
	fmt.Fprintf(c.out, "cycles=%d coalesced=%d channels=%d\n", st.Cycles, st.Coalesced, st.Channels)
	return nil
}

func (c *console) channel(ctx context.Context, id int) error {
	p, err := c.request(ctx, touchpad.ChannelInfoTopic(c.cfg.Name, id))
	if err != nil {
		return err
	}
	snap, ok := p.(types.ChannelSnapshot)
	if !ok {
		return fmt.Errorf("channel %d not registered", id)
	}
	fmt.Fprintf(c.out, "ch%d %s raw=%d filtered=%d baseline=%d diff=%.3f thr=%.3f\n",
		snap.Channel, snap.State, snap.Raw, snap.Filtered, snap.Baseline, snap.DiffRate, snap.Threshold)
	return nil
}

func intArg(args []string, i int, what string) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing %s", what)
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", what, args[i])
	}
	return v, nil
}

func floatArg(args []string, i int, what string) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing %s", what)
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", what, args[i])
	}
	return v, nil
}
