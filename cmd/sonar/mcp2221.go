package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sonar/adapter"
	"github.com/mklimuk/sonar/cmd/sonar/console"
)

var mcp2221Flags = []cli.Flag{
	&cli.IntFlag{
		Name:  "id",
		Value: -1,
		Usage: "adapter id as listed by usb detect, when more than one is attached",
	},
}

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 USB to I2C adapter",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Flags: mcp2221Flags,
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDeviceIndex(c.Int("id")))
		status, err := a.Status(commandContext(c))
		if err != nil {
			return console.Fail("adapter communication error", err)
		}
		return dumpStatus(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel a stuck transfer and free the bus",
	Flags: mcp2221Flags,
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDeviceIndex(c.Int("id")))
		status, err := a.ReleaseBus(commandContext(c))
		if err != nil {
			return console.Fail("adapter communication error", err)
		}
		return dumpStatus(status)
	},
}

func dumpStatus(status *adapter.MCP2221Status) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	err := enc.Encode(status)
	if err != nil {
		return console.Fail("encoding error", err)
	}
	return nil
}
