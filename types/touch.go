package types

// ---- Service state (retained) ----

type ServiceState struct {
	Level    string `json:"level"`  // "ready", "stopped"
	Status   string `json:"status"` // freeform short code
	Channels int    `json:"channels"`
	TS       int64  `json:"ts_ms"`
}

// ---- Touch events ----

type TouchSource string

const (
	SourceChannel TouchSource = "channel"
	SourceMatrix  TouchSource = "matrix"
	SourceSlider  TouchSource = "slider"
)

// TouchEvent is published for every delivered channel or matrix event.
// Row and Col are -1 for channel events.
type TouchEvent struct {
	Source  TouchSource `json:"source"`
	ID      int         `json:"id"`
	Kind    string      `json:"kind"`
	Channel int         `json:"channel"`
	Row     int         `json:"row"`
	Col     int         `json:"col"`
	TS      int64       `json:"ts_ms"`
}

// SliderValue is the retained smoothed slider position.
type SliderValue struct {
	ID       int    `json:"id"`
	Position uint32 `json:"position"`
	Range    uint32 `json:"range"`
	TS       int64  `json:"ts_ms"`
}

// TouchStats answers a stats request.
type TouchStats struct {
	Cycles    uint64 `json:"cycles"`
	Coalesced uint32 `json:"coalesced"`
	Channels  int    `json:"channels"`
	TS        int64  `json:"ts_ms"`
}

// ChannelSnapshot is the per-channel diagnostic view served on request.
type ChannelSnapshot struct {
	Channel   int     `json:"channel"`
	State     string  `json:"state"`
	Baseline  uint16  `json:"baseline"`
	Raw       uint16  `json:"raw"`
	Filtered  uint16  `json:"filtered"`
	DiffRate  float32 `json:"diff_rate"`
	Threshold float32 `json:"threshold"`
}
