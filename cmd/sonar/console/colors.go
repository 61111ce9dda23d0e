package console

import (
	"fmt"

	"github.com/fatih/color"
)

// Available ANSI colors
var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
)

// Hex renders a bus address or register value.
func Hex(b byte) string {
	return Cyan(fmt.Sprintf("%#02x", b))
}
