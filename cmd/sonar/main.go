package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sonar/i2c"
	"github.com/mklimuk/sonar/snsctx"
)

var version string
var commit string
var date string

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "sonar"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "SRF ultrasonic rangefinder cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "sensor set configuration file",
			EnvVars: []string{"SONAR_CONFIG"},
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		level := slog.LevelInfo
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(charm))
		i2c.SetD2R2LogLevel(level)
		return nil
	}
	app.Commands = cli.Commands{
		&rangeCmd,
		&versionCmd,
		&lightCmd,
		&addressCmd,
		&scanCmd,
		&serveCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		log.Printf("error: %v", err)
		return 1
	}
	return 0
}

func commandContext(c *cli.Context) context.Context {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return snsctx.SetVerbose(ctx, c.Bool("verbose"))
}
