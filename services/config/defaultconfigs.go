package config

import "errors"

// -----------------------------------------------------------------------------
// Embedded layouts
//
// Key: board name as passed to FromEmbedded
// Val: YAML layout for that board
// -----------------------------------------------------------------------------

const cfgDemo = `
name: demo
channels:
  - {id: 0, name: power, sensitivity: 0.10, hold: 1s}
  - {id: 1, name: mode, sensitivity: 0.10, repeat: {after: 500ms, interval: 100ms}}
sliders:
  - {name: volume, channels: [2, 3, 4, 5], range: 100, sensitivity: [0.1, 0.1, 0.1, 0.1]}
matrices:
  - {name: keypad, rows: [6, 7], cols: [8, 9, 10], sensitivity: [0.1, 0.1, 0.1, 0.1, 0.1]}
`

const cfgPico = `
name: pico
settle_delay: 20ms
channels:
  - {id: 0, name: left, sensitivity: 0.08}
  - {id: 1, name: right, sensitivity: 0.08}
sliders:
  - {name: wheel, channels: [2, 3, 4, 5, 6], range: 255, sensitivity: [0.1, 0.1, 0.1, 0.1, 0.1]}
matrices:
  - {name: keys, rows: [7, 8], cols: [9, 10, 11], sensitivity: [0.1, 0.1, 0.1, 0.1, 0.1]}
`

var embeddedConfigs = map[string][]byte{
	"demo": []byte(cfgDemo),
	"pico": []byte(cfgPico),
}

// EmbeddedConfigLookup allows overriding how embedded layouts are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// FromEmbedded parses the layout compiled in for board.
func FromEmbedded(board string) (*Config, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return nil, errors.New("no embedded config for board: " + board)
	}
	return Parse(raw)
}
