// Package config describes a set of rangefinders sharing one bus.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sonar/srf"
)

// Version is injected at build time.
var Version = "dev"

const (
	AdapterGeneric = "generic"
	AdapterMCP2221 = "mcp2221"
	AdapterGobot   = "gobot"
	AdapterD2R2    = "d2r2"
	AdapterEmbd    = "embd"
)

var ErrNotFound = errors.New("sensor not found")

type Config struct {
	Bus     Bus      `yaml:"bus"`
	Sensors []Sensor `yaml:"sensors"`
}

type Bus struct {
	Adapter string `yaml:"adapter"`
	Device  string `yaml:"device,omitempty"`
	Speed   string `yaml:"speed,omitempty"`
}

type Sensor struct {
	Name    string        `yaml:"name"`
	Variant srf.Variant   `yaml:"variant"`
	Address Byte          `yaml:"address"`
	Gain    Byte          `yaml:"gain,omitempty"`
	Range   Byte          `yaml:"range,omitempty"`
	Unit    string        `yaml:"unit,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Byte accepts decimal, 0x hex, 0o octal and 0b binary notation.
type Byte byte

func (b *Byte) UnmarshalYAML(node *yaml.Node) error {
	v, err := strconv.ParseUint(strings.TrimSpace(node.Value), 0, 8)
	if err != nil {
		return fmt.Errorf("line %d: invalid byte value %q", node.Line, node.Value)
	}
	*b = Byte(v)
	return nil
}

func (b Byte) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%#02x", byte(b)), nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	err := yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	cfg.setDefaults()
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Bus.Adapter == "" {
		c.Bus.Adapter = AdapterGeneric
	}
	for i := range c.Sensors {
		s := &c.Sensors[i]
		if s.Variant == "" {
			s.Variant = srf.VariantSRF02
		}
		if v, err := srf.ParseVariant(string(s.Variant)); err == nil {
			s.Variant = v
		}
		if s.Address == 0 {
			s.Address = Byte(srf.DefaultAddress)
		}
		if s.Unit == "" {
			s.Unit = "c"
		}
	}
}

// Validate reports every problem found in the configuration at once.
func (c *Config) Validate() error {
	var err error
	switch c.Bus.Adapter {
	case AdapterGeneric, AdapterMCP2221, AdapterGobot, AdapterD2R2, AdapterEmbd:
	default:
		err = multierr.Append(err, fmt.Errorf("bus: unknown adapter %q", c.Bus.Adapter))
	}
	if _, e := c.Bus.Frequency(); e != nil {
		err = multierr.Append(err, fmt.Errorf("bus: %w", e))
	}
	if len(c.Sensors) == 0 {
		err = multierr.Append(err, errors.New("no sensors configured"))
	}
	names := make(map[string]bool, len(c.Sensors))
	addrs := make(map[Byte]string, len(c.Sensors))
	for i, s := range c.Sensors {
		id := s.Name
		if id == "" {
			id = fmt.Sprintf("#%d", i)
			err = multierr.Append(err, fmt.Errorf("sensor %s: name is required", id))
		} else if names[s.Name] {
			err = multierr.Append(err, fmt.Errorf("sensor %s: duplicate name", id))
		}
		names[s.Name] = true
		if v, e := srf.ParseVariant(string(s.Variant)); e != nil {
			err = multierr.Append(err, fmt.Errorf("sensor %s: %w", id, e))
		} else if byte(s.Gain) > v.MaxGain() {
			err = multierr.Append(err, fmt.Errorf("sensor %s: gain %#x above %#x for %s", id, byte(s.Gain), v.MaxGain(), v))
		}
		if !srf.ValidAddress(byte(s.Address)) {
			err = multierr.Append(err, fmt.Errorf("sensor %s: address %#x outside 0x70..0x7f", id, byte(s.Address)))
		} else if other, ok := addrs[s.Address]; ok {
			err = multierr.Append(err, fmt.Errorf("sensor %s: address %#x already used by %s", id, byte(s.Address), other))
		}
		addrs[s.Address] = id
		if len(s.Unit) != 1 {
			err = multierr.Append(err, fmt.Errorf("sensor %s: unit must be one of i, c, m", id))
		} else if _, ok := srf.ParseUnit(s.Unit[0]); !ok {
			err = multierr.Append(err, fmt.Errorf("sensor %s: unknown unit %q", id, s.Unit))
		}
		if s.Timeout < 0 {
			err = multierr.Append(err, fmt.Errorf("sensor %s: negative timeout", id))
		}
	}
	return err
}

func (c *Config) Sensor(name string) (Sensor, error) {
	for _, s := range c.Sensors {
		if s.Name == name {
			return s, nil
		}
	}
	return Sensor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Frequency parses Speed; an unset speed is 0, leaving the adapter default.
func (b Bus) Frequency() (physic.Frequency, error) {
	var f physic.Frequency
	if b.Speed == "" {
		return 0, nil
	}
	if err := f.Set(b.Speed); err != nil {
		return 0, fmt.Errorf("invalid speed %q: %w", b.Speed, err)
	}
	return f, nil
}

// Options translates the sensor entry into driver options.
func (s Sensor) Options() []srf.Option {
	opts := []srf.Option{srf.WithAddress(byte(s.Address))}
	if s.Gain != 0 || s.Range != 0 {
		opts = append(opts, srf.WithGain(byte(s.Gain)), srf.WithRange(byte(s.Range)))
	}
	if s.Timeout > 0 {
		opts = append(opts, srf.WithTimeout(s.Timeout))
	}
	return opts
}

func (s Sensor) UnitByte() byte {
	if s.Unit == "" {
		return byte(srf.Centimeters)
	}
	return s.Unit[0]
}
