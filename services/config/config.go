// Package config loads a touch layout from YAML and applies it to a
// touchpad service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"touchpad-go/bus"
	"touchpad-go/services/touchpad"
)

const configPrefix = "config"

// Config is a complete touch layout plus the processing constants.
type Config struct {
	Name   string       `yaml:"name"`
	Serial SerialConfig `yaml:"serial"`

	Period             time.Duration `yaml:"period"`
	Debounce           time.Duration `yaml:"debounce"`
	BaselineUpdate     time.Duration `yaml:"baseline_update"`
	BaselineResetCount uint16        `yaml:"baseline_reset_count"`
	FilterFactor       uint32        `yaml:"filter_factor"`
	SliderFilterFactor uint32        `yaml:"slider_filter_factor"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	InitialReads       int           `yaml:"initial_reads"`

	Channels []ChannelConfig `yaml:"channels"`
	Sliders  []SliderConfig  `yaml:"sliders"`
	Matrices []MatrixConfig  `yaml:"matrices"`
}

// SerialConfig selects the front end link for host tools.
type SerialConfig struct {
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	Channels int    `yaml:"channels"` // front end channel count
}

// ChannelConfig is one standalone button.
type ChannelConfig struct {
	ID          int           `yaml:"id"`
	Name        string        `yaml:"name"`
	Sensitivity float32       `yaml:"sensitivity"`
	Hold        time.Duration `yaml:"hold,omitempty"` // 0 = no hold event
	Repeat      *RepeatConfig `yaml:"repeat,omitempty"`
}

// RepeatConfig enables the repeat trigger.
type RepeatConfig struct {
	After    time.Duration `yaml:"after"`
	Interval time.Duration `yaml:"interval"`
}

type SliderConfig struct {
	Name        string    `yaml:"name"`
	Channels    []int     `yaml:"channels"`
	Range       uint32    `yaml:"range"`
	Sensitivity []float32 `yaml:"sensitivity"`
}

type MatrixConfig struct {
	Name        string        `yaml:"name"`
	Rows        []int         `yaml:"rows"`
	Cols        []int         `yaml:"cols"`
	Sensitivity []float32     `yaml:"sensitivity"` // rows then columns
	Hold        time.Duration `yaml:"hold,omitempty"`
	Repeat      *RepeatConfig `yaml:"repeat,omitempty"`
}

// Default returns a configuration with the standard processing constants and
// no layout.
func Default() *Config {
	tc := touchpad.DefaultConfig()
	return &Config{
		Name: "pad",
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			Baud:     115200,
			Channels: 14,
		},
		Period:             tc.Period,
		Debounce:           tc.Debounce,
		BaselineUpdate:     tc.BaselineUpdate,
		BaselineResetCount: tc.BaselineResetCount,
		FilterFactor:       tc.FilterFactor,
		SliderFilterFactor: tc.SliderFilterFactor,
		SettleDelay:        tc.SettleDelay,
		InitialReads:       tc.InitialReads,
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist it
// returns the defaults; missing fields take their default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ensureDefaults()
	return cfg, nil
}

// Parse decodes a YAML document on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ensureDefaults()
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ensureDefaults fills zero fields from Default.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Serial.Channels == 0 {
		c.Serial.Channels = def.Serial.Channels
	}
	if c.Period == 0 {
		c.Period = def.Period
	}
	if c.Debounce == 0 {
		c.Debounce = def.Debounce
	}
	if c.BaselineUpdate == 0 {
		c.BaselineUpdate = def.BaselineUpdate
	}
	if c.BaselineResetCount == 0 {
		c.BaselineResetCount = def.BaselineResetCount
	}
	if c.InitialReads == 0 {
		c.InitialReads = def.InitialReads
	}
	// FilterFactor, SliderFilterFactor and SettleDelay keep an explicit 0.
}

// Touchpad returns the processing constants as a touchpad.Config.
func (c *Config) Touchpad() touchpad.Config {
	return touchpad.Config{
		Period:             c.Period,
		Debounce:           c.Debounce,
		BaselineResetCount: c.BaselineResetCount,
		BaselineUpdate:     c.BaselineUpdate,
		FilterFactor:       c.FilterFactor,
		SliderFilterFactor: c.SliderFilterFactor,
		SettleDelay:        c.SettleDelay,
		InitialReads:       c.InitialReads,
	}
}

// Publish announces the configuration as a retained message on
// config/touch/<name>.
func (c *Config) Publish(conn *bus.Connection) {
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "touch", c.Name), c, true))
}
