package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/kidoman/embd/host/all"
	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sonar"
	"github.com/mklimuk/sonar/adapter"
	"github.com/mklimuk/sonar/config"
	"github.com/mklimuk/sonar/i2c"
	"github.com/mklimuk/sonar/srf"
)

var busFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Value:   config.AdapterGeneric,
		Usage:   "bus adapter: generic, mcp2221, gobot, d2r2 or embd",
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"d"},
		Usage:   "bus name (generic) or bus number (gobot, d2r2, embd)",
	},
	&cli.StringFlag{
		Name:  "speed",
		Usage: "bus clock, e.g. 100kHz",
	},
}

var sensorFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "sensor",
		Aliases: []string{"s"},
		Usage:   "name of a sensor from the config file",
	},
	&cli.StringFlag{
		Name:  "variant",
		Value: string(srf.VariantSRF02),
		Usage: "srf02, srf08 or srf10",
	},
	&cli.StringFlag{
		Name:  "addr",
		Value: "0x70",
		Usage: "7-bit bus address of the sensor",
	},
	&cli.StringFlag{
		Name:    "unit",
		Aliases: []string{"u"},
		Value:   "c",
		Usage:   "i (inches), c (centimeters) or m (microseconds)",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Value: time.Second,
		Usage: "ranging completion timeout",
	},
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// busSettings merges the config file bus section with command line flags;
// flags win when given explicitly.
func busSettings(c *cli.Context, cfg *config.Config) config.Bus {
	settings := config.Bus{Adapter: config.AdapterGeneric}
	if cfg != nil {
		settings = cfg.Bus
	}
	if c.IsSet("adapter") {
		settings.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		settings.Device = c.String("device")
	}
	if c.IsSet("speed") {
		settings.Speed = c.String("speed")
	}
	return settings
}

func busNumber(device string, def int) (int, error) {
	device = strings.TrimPrefix(strings.TrimSpace(device), "/dev/i2c-")
	if device == "" {
		return def, nil
	}
	nr, err := strconv.Atoi(device)
	if err != nil {
		return 0, fmt.Errorf("invalid bus number %q", device)
	}
	return nr, nil
}

func openBus(ctx context.Context, settings config.Bus) (sonar.I2CBus, func() error, error) {
	speed, err := settings.Frequency()
	if err != nil {
		return nil, nil, fmt.Errorf("bus: %w", err)
	}
	noop := func() error { return nil }
	slog.Debug("opening bus", "adapter", settings.Adapter, "device", settings.Device, "speed", speed)
	switch settings.Adapter {
	case config.AdapterGeneric, "":
		b, err := i2c.NewGenericBus(settings.Device)
		if err != nil {
			return nil, nil, err
		}
		if speed > 0 {
			if err := b.SetSpeed(speed); err != nil {
				_ = b.Close()
				return nil, nil, err
			}
		}
		return sonar.NewSerializedBus(b), b.Close, nil
	case config.AdapterMCP2221:
		a := adapter.NewMCP2221()
		if speed > 0 {
			if err := a.SetSpeed(ctx, int(speed/physic.Hertz)); err != nil {
				return nil, nil, err
			}
		}
		return a, noop, nil
	case config.AdapterGobot:
		nr, err := busNumber(settings.Device, -1)
		if err != nil {
			return nil, nil, err
		}
		b, err := i2c.NewNanoPiBus(nr)
		if err != nil {
			return nil, nil, err
		}
		return sonar.NewSerializedBus(b), b.Close, nil
	case config.AdapterD2R2:
		nr, err := busNumber(settings.Device, 1)
		if err != nil {
			return nil, nil, err
		}
		b := i2c.NewD2R2Bus(nr)
		return sonar.NewSerializedBus(b), b.Close, nil
	case config.AdapterEmbd:
		nr, err := busNumber(settings.Device, 1)
		if err != nil {
			return nil, nil, err
		}
		b, err := i2c.NewEmbdBus(byte(nr))
		if err != nil {
			return nil, nil, err
		}
		return sonar.NewSerializedBus(b), b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown adapter %q", settings.Adapter)
	}
}

func parseAddress(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil || !srf.ValidAddress(byte(v)) {
		return 0, fmt.Errorf("%w: %q", srf.ErrInvalidAddress, s)
	}
	return byte(v), nil
}

// sensorSettings returns the named sensor from the config file or one
// described by command line flags.
func sensorSettings(c *cli.Context, cfg *config.Config) (config.Sensor, error) {
	if name := c.String("sensor"); name != "" {
		if cfg == nil {
			return config.Sensor{}, fmt.Errorf("sensor %s requested without --config", name)
		}
		s, err := cfg.Sensor(name)
		if err != nil {
			return config.Sensor{}, err
		}
		if c.IsSet("unit") {
			s.Unit = c.String("unit")
		}
		return s, nil
	}
	variant, err := srf.ParseVariant(c.String("variant"))
	if err != nil {
		return config.Sensor{}, err
	}
	addr, err := parseAddress(c.String("addr"))
	if err != nil {
		return config.Sensor{}, err
	}
	return config.Sensor{
		Name:    fmt.Sprintf("%s@%#x", variant, addr),
		Variant: variant,
		Address: config.Byte(addr),
		Unit:    c.String("unit"),
		Timeout: c.Duration("timeout"),
	}, nil
}

type session struct {
	ctx    context.Context
	sensor config.Sensor
	finder srf.RangeFinder
	close  func() error
}

// openSensor sets up the bus and the driver of the sensor selected on the
// command line.
func openSensor(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	s, err := sensorSettings(c, cfg)
	if err != nil {
		return nil, err
	}
	ctx := commandContext(c)
	bus, closer, err := openBus(ctx, busSettings(c, cfg))
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("sensor", s.Name)
	opts := append(s.Options(), srf.WithLogger(logger))
	finder, err := srf.New(bus, s.Variant, opts...)
	if err != nil {
		_ = closer()
		return nil, err
	}
	return &session{
		ctx:    ctx,
		sensor: s,
		finder: finder,
		close:  closer,
	}, nil
}
