package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sonar"
	"github.com/mklimuk/sonar/cmd/sonar/console"
	"github.com/mklimuk/sonar/srf"
)

var versionCmd = cli.Command{
	Name:  "version",
	Usage: "read the sensor firmware revision",
	Flags: withFlags(busFlags, sensorFlags),
	Action: func(c *cli.Context) error {
		s, err := openSensor(c)
		if err != nil {
			return console.Fail("sensor setup error", err)
		}
		defer s.close()
		v, err := s.finder.ReadVersion(s.ctx)
		if err != nil {
			return console.Fail("version read error", err)
		}
		console.PInfof(console.PictoPin, "%s: firmware revision %s", s.sensor.Name, console.White(v))
		return nil
	},
}

var lightCmd = cli.Command{
	Name:  "light",
	Usage: "read the light sensor of an SRF08",
	Flags: withFlags(busFlags, sensorFlags),
	Action: func(c *cli.Context) error {
		s, err := openSensor(c)
		if err != nil {
			return console.Fail("sensor setup error", err)
		}
		defer s.close()
		ls, ok := s.finder.(srf.LightSensor)
		if !ok {
			return console.Exit(1, "%s (%s) has no light sensor", s.sensor.Name, s.sensor.Variant)
		}
		// the light reading is refreshed by a ranging
		if _, err := s.finder.Measure(s.ctx, s.sensor.UnitByte()); err != nil {
			return console.Fail("ranging error", err)
		}
		lux, err := ls.ReadLuminosity(s.ctx)
		if err != nil {
			return console.Fail("light read error", err)
		}
		console.PInfof(console.PictoBulb, "%s: light level %s", s.sensor.Name, console.White(lux))
		return nil
	},
}

var addressCmd = cli.Command{
	Name:  "address",
	Usage: "sensor bus address management",
	Subcommands: []*cli.Command{
		&addressSetCmd,
	},
}

var addressSetCmd = cli.Command{
	Name:      "set",
	Usage:     "reprogram the sensor bus address",
	ArgsUsage: "<new address>",
	Flags: withFlags(busFlags, sensorFlags, []cli.Flag{
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	}),
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "exactly one new address expected")
		}
		newAddr, err := parseAddress(c.Args().First())
		if err != nil {
			return console.Fail("invalid address", err)
		}
		s, err := openSensor(c)
		if err != nil {
			return console.Fail("sensor setup error", err)
		}
		defer s.close()
		old := s.finder.Address()
		if !c.Bool("yes") {
			console.Warnf("only the sensor to be changed may be connected to the bus")
			ok, err := console.Confirm(fmt.Sprintf("change address %#x to %#x?", old, newAddr))
			if err != nil {
				return console.Fail("prompt error", err)
			}
			if !ok {
				console.PInfof(console.PictoStop, "address not changed")
				return nil
			}
		}
		err = s.finder.SetAddress(s.ctx, newAddr)
		if err != nil {
			return console.Fail("address change error", err)
		}
		console.PInfof(console.PictoPin, "address changed from %s to %s", console.Hex(old), console.Hex(newAddr))
		return nil
	},
}

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "look for SRF sensors on the bus",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Fail("config error", err)
		}
		ctx := commandContext(c)
		bus, closer, err := openBus(ctx, busSettings(c, cfg))
		if err != nil {
			return console.Fail("bus setup error", err)
		}
		defer func() {
			if err := closer(); err != nil {
				console.Errorf("could not close bus: %s", err)
			}
		}()
		found := scan(ctx, bus)
		w := tabwriter.NewWriter(os.Stdout, 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ADDRESS\tWRITE ADDRESS\tREVISION\n")
		for _, f := range found {
			_, _ = fmt.Fprintf(w, "%#02x\t%#02x\t%d\n", f.addr, f.addr<<1, f.revision)
		}
		_ = w.Flush()
		if len(found) == 0 {
			console.Warnf("no sensor answered")
		}
		return nil
	},
}

type scanResult struct {
	addr     byte
	revision uint8
}

// scan reads the revision register at every address an SRF can be given.
// Silent addresses and 0xFF revisions are skipped.
func scan(ctx context.Context, bus sonar.I2CBus) []scanResult {
	var found []scanResult
	for addr := byte(srf.MinAddress); addr <= srf.MaxAddress; addr++ {
		if ctx.Err() != nil {
			break
		}
		v, err := srf.NewSensor(bus, srf.WithAddress(addr)).ReadVersion(ctx)
		if err != nil || v == 0xFF {
			continue
		}
		found = append(found, scanResult{addr: addr, revision: v})
	}
	return found
}
