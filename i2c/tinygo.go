package i2c

import (
	"context"
	"fmt"

	"tinygo.org/x/drivers"

	"github.com/mklimuk/sonar"
)

var _ sonar.I2CBus = &TinyGoBus{}
var _ sonar.Transactor = &TinyGoBus{}

// TinyGoBus adapts a tinygo drivers.I2C (machine.I2C on microcontrollers) so
// the sensor drivers can run on boards the sensors were designed for.
type TinyGoBus struct {
	bus drivers.I2C
}

func NewTinyGoBus(bus drivers.I2C) *TinyGoBus {
	return &TinyGoBus{bus: bus}
}

func (b *TinyGoBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.bus.Tx(uint16(address), nil, buffer); err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *TinyGoBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.bus.Tx(uint16(address), buffer, nil); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *TinyGoBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	if err := b.bus.Tx(uint16(address), w, r); err != nil {
		return fmt.Errorf("could not transfer on i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *TinyGoBus) Release(ctx context.Context) error {
	return nil
}
