package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/kidoman/embd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sonar/srf"
)

// fakeEmbdBus serves SRF registers; methods not overridden panic.
type fakeEmbdBus struct {
	embd.I2CBus
	regs   map[byte][]byte
	writes [][]byte
	closed bool
}

func (f *fakeEmbdBus) WriteBytes(addr byte, value []byte) error {
	if addr != 0x70 {
		return errors.New("nack")
	}
	f.writes = append(f.writes, append([]byte(nil), value...))
	return nil
}

func (f *fakeEmbdBus) ReadFromReg(addr, reg byte, value []byte) error {
	if addr != 0x70 {
		return errors.New("nack")
	}
	copy(value, f.regs[reg])
	return nil
}

func (f *fakeEmbdBus) ReadBytes(addr byte, num int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeEmbdBus) Close() error {
	f.closed = true
	return nil
}

func TestEmbdBus_SRF(t *testing.T) {
	fake := &fakeEmbdBus{regs: map[byte][]byte{
		0x00: {0x05},
		0x02: {0x00, 0x96},
	}}
	bus := WrapEmbdBus(fake)
	s := srf.NewSRF02(bus)

	r, err := s.Measure(context.Background(), 'c')
	require.NoError(t, err)
	assert.Equal(t, srf.Range{Value: 150, Unit: srf.Centimeters}, r)
	assert.Equal(t, [][]byte{{0x00, 0x51}}, fake.writes)

	require.NoError(t, bus.Close())
	assert.True(t, fake.closed)
}

func TestEmbdBus_Errors(t *testing.T) {
	bus := WrapEmbdBus(&fakeEmbdBus{})
	ctx := context.Background()

	err := bus.Tx(ctx, 0x71, []byte{0x00}, make([]byte, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not read register 0x0 from i2c bus 71: nack")

	err = bus.ReadFromAddr(ctx, 0x70, make([]byte, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short read from 70: 1 of 2")
}

func TestNewEmbdBus_UnsupportedHost(t *testing.T) {
	unsupported := errors.New("embd: your host is not supported at this moment")
	defer func(init func() error) { initEmbdI2C = init }(initEmbdI2C)
	initEmbdI2C = func() error { return unsupported }

	var bus *EmbdBus
	var err error
	require.NotPanics(t, func() { bus, err = NewEmbdBus(1) })
	assert.ErrorIs(t, err, unsupported)
	assert.Nil(t, bus)
}
