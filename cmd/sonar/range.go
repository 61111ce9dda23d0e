package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sonar/cmd/sonar/console"
	"github.com/mklimuk/sonar/srf"
)

var rangeCmd = cli.Command{
	Name:  "range",
	Usage: "distance measurements",
	Subcommands: []*cli.Command{
		&rangeReadCmd,
		&rangeWatchCmd,
	},
}

var rangeReadCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "trigger a ranging and print the result",
	Flags: withFlags(busFlags, sensorFlags, []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-start",
			Usage: "read the last result without triggering a new ranging",
		},
	}),
	Action: func(c *cli.Context) error {
		s, err := openSensor(c)
		if err != nil {
			return console.Fail("sensor setup error", err)
		}
		defer s.close()
		r, err := readOnce(s.ctx, s.finder, s.sensor.UnitByte(), !c.Bool("no-start"))
		if err != nil {
			return console.Fail("ranging error", err)
		}
		printRange(s.sensor.Name, r)
		return nil
	},
}

var rangeWatchCmd = cli.Command{
	Name:  "watch",
	Usage: "range periodically until interrupted",
	Flags: withFlags(busFlags, sensorFlags, []cli.Flag{
		&cli.DurationFlag{
			Name:    "interval",
			Aliases: []string{"i"},
			Value:   100 * time.Millisecond,
		},
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"n"},
			Usage:   "stop after n readings; 0 runs until interrupted",
		},
	}),
	Action: func(c *cli.Context) error {
		s, err := openSensor(c)
		if err != nil {
			return console.Fail("sensor setup error", err)
		}
		defer s.close()
		ctx, cancel := signal.NotifyContext(s.ctx, os.Interrupt)
		defer cancel()
		unit := s.sensor.UnitByte()
		count := c.Int("count")
		err = watch(ctx, c.Duration("interval"), count, func(ctx context.Context) error {
			r, err := s.finder.Measure(ctx, unit)
			if err != nil {
				if errors.Is(err, srf.ErrTimeout) {
					console.Warnf("%s: %s", s.sensor.Name, err)
					return nil
				}
				return err
			}
			printRange(s.sensor.Name, r)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return console.Fail("ranging error", err)
		}
		return nil
	},
}

func readOnce(ctx context.Context, finder srf.RangeFinder, unit byte, start bool) (srf.Range, error) {
	if start {
		return finder.Measure(ctx, unit)
	}
	v, err := finder.ReadRange(ctx, unit, false)
	if err != nil {
		return srf.Range{}, err
	}
	u, _ := srf.ParseUnit(unit)
	return srf.Range{Value: v, Unit: u}, nil
}

// watch calls fn every interval, count times or until ctx is done when count
// is zero.
func watch(ctx context.Context, interval time.Duration, count int, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; count == 0 || i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			return err
		}
		if count > 0 && i == count-1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func printRange(name string, r srf.Range) {
	if r.Unit == srf.Microseconds {
		console.PInfof(console.PictoRuler, "%s: %s (%s)", name, console.White(r), r.Distance())
		return
	}
	console.PInfof(console.PictoRuler, "%s: %s", name, console.White(r))
}
