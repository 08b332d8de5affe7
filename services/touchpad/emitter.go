// services/touchpad/emitter.go
package touchpad

import (
	"context"

	"touchpad-go/bus"
	"touchpad-go/types"
	"touchpad-go/x/timex"
)

// BusEmitter publishes delivered events on a bus under touch/<name>/...
type BusEmitter struct {
	conn *bus.Connection
	name string
}

func NewBusEmitter(conn *bus.Connection, name string) *BusEmitter {
	return &BusEmitter{conn: conn, name: name}
}

// ----- topics -----

func (e *BusEmitter) stateTopic() bus.Topic { return bus.T("touch", e.name, "state") }

func (e *BusEmitter) eventTopic(src types.TouchSource, id int, kind EventKind) bus.Topic {
	return bus.T("touch", e.name, string(src), id, "event", kind.String())
}

func (e *BusEmitter) sliderTopic(id int) bus.Topic {
	return bus.T("touch", e.name, string(types.SourceSlider), id, "value")
}

// EventsTopic matches every event published under name.
func EventsTopic(name string) bus.Topic {
	return bus.T("touch", name, "+", "+", "event", "+")
}

// SliderTopic matches every slider value published under name.
func SliderTopic(name string) bus.Topic {
	return bus.T("touch", name, string(types.SourceSlider), "+", "value")
}

// StatsTopic is the request topic answered by ServeRequests.
func StatsTopic(name string) bus.Topic { return bus.T("touch", name, "stats", "get") }

// ChannelInfoTopic is the request topic for one channel's diagnostics.
func ChannelInfoTopic(name string, ch int) bus.Topic {
	return bus.T("touch", name, "channel", ch, "get")
}

// ----- Emitter -----

func (e *BusEmitter) ChannelEvent(ev Event) {
	e.conn.Publish(e.conn.NewMessage(e.eventTopic(types.SourceChannel, ev.Channel, ev.Kind), types.TouchEvent{
		Source:  types.SourceChannel,
		ID:      ev.Channel,
		Kind:    ev.Kind.String(),
		Channel: ev.Channel,
		Row:     -1,
		Col:     -1,
		TS:      timex.NowMs(),
	}, false))
}

func (e *BusEmitter) MatrixEvent(matrix int, ev Event) {
	e.conn.Publish(e.conn.NewMessage(e.eventTopic(types.SourceMatrix, matrix, ev.Kind), types.TouchEvent{
		Source:  types.SourceMatrix,
		ID:      matrix,
		Kind:    ev.Kind.String(),
		Channel: -1,
		Row:     ev.Row,
		Col:     ev.Col,
		TS:      timex.NowMs(),
	}, false))
}

func (e *BusEmitter) SliderMoved(slider int, pos, posRange uint32) {
	e.conn.Publish(e.conn.NewMessage(e.sliderTopic(slider), types.SliderValue{
		ID:       slider,
		Position: pos,
		Range:    posRange,
		TS:       timex.NowMs(),
	}, true))
}

func (e *BusEmitter) StateChanged(level string, channels int) {
	e.conn.Publish(e.conn.NewMessage(e.stateTopic(), types.ServiceState{
		Level:    level,
		Status:   "ok",
		Channels: channels,
		TS:       timex.NowMs(),
	}, true))
}

// ServeRequests answers stats and channel diagnostic requests for svc until
// ctx is done.
func (e *BusEmitter) ServeRequests(ctx context.Context, svc *Service) {
	stats := e.conn.Subscribe(StatsTopic(e.name))
	chans := e.conn.Subscribe(bus.T("touch", e.name, "channel", "+", "get"))
	defer e.conn.Unsubscribe(stats)
	defer e.conn.Unsubscribe(chans)

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-stats.Channel():
			if !ok {
				return
			}
			st := svc.Stats()
			e.conn.Reply(m, types.TouchStats{
				Cycles:    st.Cycles,
				Coalesced: st.Coalesced,
				Channels:  st.Channels,
				TS:        timex.NowMs(),
			}, false)
		case m, ok := <-chans.Channel():
			if !ok {
				return
			}
			var c *Channel
			if id, ok := m.Topic[3].Int(); ok {
				c = svc.Channel(id)
			}
			if c == nil {
				e.conn.Reply(m, nil, false)
				continue
			}
			e.conn.Reply(m, Snapshot(c), false)
		}
	}
}

// Snapshot captures a channel's diagnostic state.
func Snapshot(c *Channel) types.ChannelSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.ChannelSnapshot{
		Channel:   c.id,
		State:     c.State().String(),
		Baseline:  c.baseline,
		Raw:       c.raw,
		Filtered:  c.filtered,
		DiffRate:  c.diffRate,
		Threshold: c.touchThr,
	}
}
