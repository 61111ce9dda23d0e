package i2c

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	gobot "gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/sonar"
)

var _ sonar.I2CBus = &GobotBus{}

// GobotBus talks to devices through any gobot adaptor exposing I2C, one
// connection per device address.
type GobotBus struct {
	mx       sync.Mutex
	adaptor  gobot.Connector
	busNr    int
	conns    map[byte]gobot.Connection
	finalize func() error
}

// NewGobotBus uses bus busNr of the adaptor; a negative number selects the
// adaptor's default bus.
func NewGobotBus(adaptor gobot.Connector, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = adaptor.DefaultI2cBus()
	}
	return &GobotBus{
		adaptor: adaptor,
		busNr:   busNr,
		conns:   make(map[byte]gobot.Connection),
	}
}

// NewNanoPiBus connects the I2C part of a NanoPi NEO adaptor.
func NewNanoPiBus(busNr int) (*GobotBus, error) {
	npi := nanopi.NewNeoAdaptor()
	err := npi.I2cBusAdaptor.Connect()
	if err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	b := NewGobotBus(npi, busNr)
	b.finalize = npi.I2cBusAdaptor.Finalize
	return b, nil
}

func (b *GobotBus) conn(address byte) (gobot.Connection, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if c, ok := b.conns[address]; ok {
		return c, nil
	}
	c, err := b.adaptor.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %x on bus %d: %w", address, b.busNr, err)
	}
	b.conns[address] = c
	return c, nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	n, err := c.Write(buffer)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short write to %x: %d of %d", address, n, len(buffer))
	}
	return nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	n, err := c.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %x: %d of %d", address, n, len(buffer))
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close closes every device connection and finalizes the adaptor when the
// bus created it.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	for addr, c := range b.conns {
		err = multierr.Append(err, c.Close())
		delete(b.conns, addr)
	}
	if b.finalize != nil {
		err = multierr.Append(err, b.finalize())
	}
	return err
}
