package i2c

import (
	"context"
	"fmt"

	"github.com/kidoman/embd"

	"github.com/mklimuk/sonar"
)

var _ sonar.I2CBus = &EmbdBus{}
var _ sonar.Transactor = &EmbdBus{}

// EmbdBus drives sensors through an embd bus. The host must be registered
// by importing github.com/kidoman/embd/host/all (or a single host package).
type EmbdBus struct {
	bus embd.I2CBus
}

// initEmbdI2C loads the i2c driver of the detected host.
var initEmbdI2C = embd.InitI2C

// NewEmbdBus opens the numbered bus of the detected host. embd.NewI2CBus
// panics on hosts embd does not know, so the driver is loaded first.
func NewEmbdBus(busNr byte) (*EmbdBus, error) {
	if err := initEmbdI2C(); err != nil {
		return nil, fmt.Errorf("could not initialize embd i2c: %w", err)
	}
	return &EmbdBus{bus: embd.NewI2CBus(busNr)}, nil
}

func WrapEmbdBus(bus embd.I2CBus) *EmbdBus {
	return &EmbdBus{bus: bus}
}

func (b *EmbdBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	data, err := b.bus.ReadBytes(address, len(buffer))
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	if len(data) != len(buffer) {
		return fmt.Errorf("short read from %x: %d of %d", address, len(data), len(buffer))
	}
	copy(buffer, data)
	return nil
}

func (b *EmbdBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.WriteBytes(address, buffer)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// Tx uses a combined register read when w selects a single register.
func (b *EmbdBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	if len(w) == 1 && len(r) > 0 {
		err := b.bus.ReadFromReg(address, w[0], r)
		if err != nil {
			return fmt.Errorf("could not read register %#x from i2c bus %x: %w", w[0], address, err)
		}
		return nil
	}
	if len(w) > 0 {
		if err := b.WriteToAddr(ctx, address, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return b.ReadFromAddr(ctx, address, r)
	}
	return nil
}

func (b *EmbdBus) Release(ctx context.Context) error {
	return nil
}

func (b *EmbdBus) Close() error {
	return b.bus.Close()
}
