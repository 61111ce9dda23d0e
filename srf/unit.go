package srf

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Unit selects what the sensor reports after a ranging cycle.
type Unit byte

const (
	Inches       Unit = 'i'
	Centimeters  Unit = 'c'
	Microseconds Unit = 'm'
)

const (
	cmdInches       byte = 0x50
	cmdCentimeters  byte = 0x51
	cmdMicroseconds byte = 0x52
)

// SpeedOfSound converts echo times to distances. Adjust it when operating at
// unusual temperatures; 343 m/s holds for dry air at 20 celsius.
var SpeedOfSound = 343 * physic.MetrePerSecond

// ParseUnit maps a unit character to a Unit. Unknown characters yield
// Microseconds and false.
func ParseUnit(c byte) (Unit, bool) {
	switch Unit(c) {
	case Inches, Centimeters, Microseconds:
		return Unit(c), true
	default:
		return Microseconds, false
	}
}

// Command returns the ranging command byte for the unit.
func (u Unit) Command() byte {
	switch u {
	case Inches:
		return cmdInches
	case Centimeters:
		return cmdCentimeters
	default:
		return cmdMicroseconds
	}
}

func (u Unit) String() string {
	switch u {
	case Inches:
		return "in"
	case Centimeters:
		return "cm"
	case Microseconds:
		return "us"
	default:
		return fmt.Sprintf("unit(%#x)", byte(u))
	}
}

// Range is a raw sensor reading together with the unit it was taken in.
type Range struct {
	Value uint16
	Unit  Unit
}

// Distance converts the reading to a distance. Echo times are converted using
// SpeedOfSound, halved for the round trip.
func (r Range) Distance() physic.Distance {
	switch r.Unit {
	case Inches:
		return physic.Distance(r.Value) * physic.Inch
	case Centimeters:
		return physic.Distance(r.Value) * 10 * physic.MilliMetre
	default:
		// nm/s * us / 1e6 gives nm travelled; the echo covers it twice
		return physic.Distance(int64(SpeedOfSound) * int64(r.Value) / 1_000_000 / 2)
	}
}

// Duration returns the echo time for microsecond readings.
func (r Range) Duration() (time.Duration, bool) {
	if r.Unit != Microseconds {
		return 0, false
	}
	return time.Duration(r.Value) * time.Microsecond, true
}

func (r Range) String() string {
	return fmt.Sprintf("%d %s", r.Value, r.Unit)
}
