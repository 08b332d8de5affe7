// cmd/touchmon/main.go
//
// touchmon runs the touch service on the host against a serial front end
// (or a simulated one) and prints every event it delivers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"touchpad-go/bus"
	"touchpad-go/drivers/serialtouch"
	"touchpad-go/services/config"
	"touchpad-go/services/touchpad"
	"touchpad-go/services/touchpad/simhal"
	"touchpad-go/types"
)

const (
	busQueueLen = 64
	simIdle     = 1000 // simulated untouched reading
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML layout file")
		board   = flag.String("board", "demo", "embedded layout when -config is not given")
		port    = flag.String("port", "", "serial port (overrides config)")
		baud    = flag.Int("baud", 0, "baud rate (overrides config)")
		sim     = flag.Bool("sim", false, "use a simulated front end")
		list    = flag.Bool("list", false, "list serial ports and exit")
	)
	flag.Parse()

	if *list {
		ports, err := serialtouch.Ports()
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range ports {
			fmt.Println(p.Name)
		}
		return
	}

	cfg, err := loadConfig(*cfgPath, *board)
	if err != nil {
		log.Fatal(err)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *sim); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(path, board string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FromEmbedded(board)
}

func run(ctx context.Context, cfg *config.Config, simulate bool) error {
	var (
		hal  touchpad.SensorHAL
		fake *simhal.Sensor
		link *serialtouch.Port
	)
	if simulate {
		fake = simhal.New(cfg.Serial.Channels, simIdle)
		hal = fake
	} else {
		p, err := serialtouch.Open(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.Channels)
		if err != nil {
			return err
		}
		defer p.Close()
		link = p
		hal = p
	}

	b := bus.NewBus(busQueueLen)
	em := touchpad.NewBusEmitter(b.NewConnection("touchpad"), cfg.Name)
	svc, err := touchpad.New(hal, cfg.Touchpad(), touchpad.WithEmitter(em))
	if err != nil {
		return fmt.Errorf("failed to create touch service: %w", err)
	}
	defer svc.Close()

	if link != nil {
		// The front end only measures while streaming.
		if err := link.Stream(cfg.Period); err != nil {
			return err
		}
	}
	layout, err := cfg.Apply(svc, nil)
	if err != nil {
		return fmt.Errorf("failed to apply layout %q: %w", cfg.Name, err)
	}
	cfg.Publish(b.NewConnection("config"))
	log.Printf("touchmon: layout %q with %d channels, %d sliders, %d matrices",
		cfg.Name, len(layout.Channels), len(layout.Sliders), len(layout.Matrices))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start touch service: %w", err)
	}

	lines, out, restore, err := openConsole(os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	defer restore()

	g, gctx := errgroup.WithContext(ctx)
	if fake != nil {
		g.Go(func() error {
			fake.Run(gctx, cfg.Period)
			return nil
		})
	}
	g.Go(func() error {
		em.ServeRequests(gctx, svc)
		return nil
	})
	g.Go(func() error {
		printEvents(gctx, b.NewConnection("printer"), cfg.Name, layout, out)
		return nil
	})

	con := &console{
		conn: b.NewConnection("console"),
		cfg:  cfg,
		svc:  svc,
		sim:  fake,
		out:  out,
	}
	// Stdin cannot be interrupted, so the console is left out of the group.
	conErr := make(chan error, 1)
	go func() {
		conErr <- con.run(gctx, lines)
		cancel()
	}()

	err = g.Wait()
	select {
	case e := <-conErr:
		err = errors.Join(err, e)
	default:
	}
	return err
}

// printEvents writes one line per delivered event until ctx is done.
func printEvents(ctx context.Context, conn *bus.Connection, name string, l *config.Layout, out io.Writer) {
	events := conn.Subscribe(touchpad.EventsTopic(name))
	sliders := conn.Subscribe(touchpad.SliderTopic(name))
	defer conn.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-events.Channel():
			if ev, ok := m.Payload.(types.TouchEvent); ok {
				fmt.Fprintln(out, describeEvent(ev, l))
			}
		case m := <-sliders.Channel():
			if v, ok := m.Payload.(types.SliderValue); ok {
				fmt.Fprintln(out, describeSlider(v, l))
			}
		}
	}
}

func describeEvent(ev types.TouchEvent, l *config.Layout) string {
	switch ev.Source {
	case types.SourceMatrix:
		name := l.MatrixName(ev.ID)
		if name == "" {
			name = fmt.Sprintf("matrix%d", ev.ID)
		}
		return fmt.Sprintf("%s[%d,%d] %s", name, ev.Row, ev.Col, ev.Kind)
	default:
		name := l.ChannelName(ev.Channel)
		if name == "" {
			name = fmt.Sprintf("ch%d", ev.Channel)
		}
		return fmt.Sprintf("%s %s", name, ev.Kind)
	}
}

func describeSlider(v types.SliderValue, l *config.Layout) string {
	name := l.SliderName(v.ID)
	if name == "" {
		name = fmt.Sprintf("slider%d", v.ID)
	}
	return fmt.Sprintf("%s %d/%d", name, v.Position, v.Range)
}
