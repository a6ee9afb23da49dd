// Package config reads the bridge configuration file and turns it into bridge options.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Default host sockets: the bridge writes commands to the first and reads notifications
// from the second.
const (
	DefaultHostAddress        = "127.0.0.1:54778"
	DefaultHostReceiveAddress = "127.0.0.1:54779"
)

// Duration is a time.Duration written as a Go duration string ("250ms", "2s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config mirrors the configuration file.
type Config struct {
	Driver string   `yaml:"driver,omitempty"`
	Input  string   `yaml:"input"`
	Output string   `yaml:"output,omitempty"`
	Filter []string `yaml:"filter,omitempty"`

	Host struct {
		Address        string   `yaml:"address"`
		ReceiveAddress string   `yaml:"receive_address,omitempty"`
		QueueSize      int      `yaml:"queue_size,omitempty"`
		AckTimeout     Duration `yaml:"ack_timeout,omitempty"`
		Backoff        struct {
			Min        Duration `yaml:"min,omitempty"`
			Max        Duration `yaml:"max,omitempty"`
			Multiplier float64  `yaml:"multiplier,omitempty"`
			ResetAfter Duration `yaml:"reset_after,omitempty"`
		} `yaml:"backoff,omitempty"`
	} `yaml:"host"`

	Profile struct {
		Path string `yaml:"path,omitempty"`
		Dir  string `yaml:"dir,omitempty"`
	} `yaml:"profile"`

	Acceleration struct {
		Window    Duration `yaml:"window,omitempty"`
		MaxFactor float64  `yaml:"max_factor,omitempty"`
	} `yaml:"acceleration,omitempty"`
	Resolution float64 `yaml:"resolution,omitempty"`

	Log struct {
		File  string `yaml:"file,omitempty"`
		Level string `yaml:"level,omitempty"`
	} `yaml:"log,omitempty"`

	StatusAddress   string   `yaml:"status_address,omitempty"`
	DeviceRefresh   Duration `yaml:"device_refresh,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.Host.Address = DefaultHostAddress
	c.Host.ReceiveAddress = DefaultHostReceiveAddress
	return c
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	var err error
	if c.Host.Address == "" {
		err = multierr.Append(err, errors.New("host address is required"))
	}
	if c.Input == "" {
		err = multierr.Append(err, errors.New("input device is required"))
	}
	if _, ok := contracts.ParseLogLevel(c.Log.Level); !ok {
		err = multierr.Append(err, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	for _, t := range c.Filter {
		if _, perr := contracts.ParseMessageType(t); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	if c.Resolution < 0 {
		err = multierr.Append(err, fmt.Errorf("resolution %v is negative", c.Resolution))
	}
	if c.Host.AckTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("host ack timeout %v is negative", time.Duration(c.Host.AckTimeout)))
	}
	return err
}

// Options converts the configuration into bridge options. Call Validate first.
func (c *Config) Options() []contracts.Option {
	level, _ := contracts.ParseLogLevel(c.Log.Level)
	opts := []contracts.Option{
		contracts.WithLogLevel(level),
		contracts.WithDriver(c.Driver),
		contracts.WithDevices(c.Input, c.Output),
		contracts.WithHostAddress(c.Host.Address, c.Host.ReceiveAddress),
		contracts.WithQueueSize(c.Host.QueueSize),
		contracts.WithAckPacing(time.Duration(c.Host.AckTimeout)),
		contracts.WithBackoff(contracts.BackoffConfig{
			Min:        time.Duration(c.Host.Backoff.Min),
			Max:        time.Duration(c.Host.Backoff.Max),
			Multiplier: c.Host.Backoff.Multiplier,
			ResetAfter: time.Duration(c.Host.Backoff.ResetAfter),
		}),
		contracts.WithProfile(c.Profile.Path, c.Profile.Dir),
		contracts.WithAcceleration(contracts.AccelerationConfig{
			Window:    time.Duration(c.Acceleration.Window),
			MaxFactor: c.Acceleration.MaxFactor,
		}),
		contracts.WithResolution(c.Resolution),
		contracts.WithStatusAddress(c.StatusAddress),
		contracts.WithDeviceRefresh(time.Duration(c.DeviceRefresh)),
		contracts.WithShutdownTimeout(time.Duration(c.ShutdownTimeout)),
	}
	if c.Log.File != "" {
		opts = append(opts, contracts.WithLogFile(c.Log.File))
	}
	if len(c.Filter) > 0 {
		filter := contracts.MIDIEventFilter{}
		for _, s := range c.Filter {
			t, _ := contracts.ParseMessageType(s)
			filter.Types = append(filter.Types, t)
		}
		opts = append(opts, contracts.WithMIDIEventFilter(filter))
	}
	return opts
}
