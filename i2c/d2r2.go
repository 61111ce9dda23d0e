package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gi2c "github.com/d2r2/go-i2c"
	logger "github.com/d2r2/go-logger"
	"go.uber.org/multierr"

	"github.com/mklimuk/sonar"
)

var _ sonar.I2CBus = &D2R2Bus{}

// D2R2Bus uses github.com/d2r2/go-i2c, which binds one file descriptor to
// each device address on the Linux bus.
type D2R2Bus struct {
	mx    sync.Mutex
	busNr int
	devs  map[byte]*gi2c.I2C
}

func NewD2R2Bus(busNr int) *D2R2Bus {
	return &D2R2Bus{
		busNr: busNr,
		devs:  make(map[byte]*gi2c.I2C),
	}
}

// SetD2R2LogLevel aligns the verbosity of the go-i2c package logger with ours;
// at its default it logs every transferred buffer.
func SetD2R2LogLevel(level slog.Level) {
	logger.ChangePackageLogLevel("i2c", d2r2Level(level))
}

func d2r2Level(level slog.Level) logger.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return logger.DebugLevel
	case level <= slog.LevelInfo:
		return logger.InfoLevel
	case level <= slog.LevelWarn:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}

func (b *D2R2Bus) dev(address byte) (*gi2c.I2C, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if d, ok := b.devs[address]; ok {
		return d, nil
	}
	d, err := gi2c.NewI2C(address, b.busNr)
	if err != nil {
		return nil, fmt.Errorf("cannot open i2c device %x on bus %d: %w", address, b.busNr, err)
	}
	b.devs[address] = d
	return d, nil
}

func (b *D2R2Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d, err := b.dev(address)
	if err != nil {
		return err
	}
	n, err := d.WriteBytes(buffer)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short write to %x: %d of %d", address, n, len(buffer))
	}
	return nil
}

func (b *D2R2Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d, err := b.dev(address)
	if err != nil {
		return err
	}
	n, err := d.ReadBytes(buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %x: %d of %d", address, n, len(buffer))
	}
	return nil
}

func (b *D2R2Bus) Release(ctx context.Context) error {
	return nil
}

func (b *D2R2Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	for addr, d := range b.devs {
		err = multierr.Append(err, d.Close())
		delete(b.devs, addr)
	}
	return err
}
