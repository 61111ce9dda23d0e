package sonar

import (
	"context"
	"fmt"
	"sync"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Transactor is implemented by buses able to run a register select followed
// by a read without another caller slipping in between.
type Transactor interface {
	Tx(ctx context.Context, address byte, w, r []byte) error
}

var _ I2CBus = &SerializedBus{}
var _ Transactor = &SerializedBus{}

// SerializedBus guards a bus shared by several device handles. Each call holds
// the lock for the duration of the underlying transaction.
type SerializedBus struct {
	mx  sync.Mutex
	bus I2CBus
}

func NewSerializedBus(bus I2CBus) *SerializedBus {
	return &SerializedBus{bus: bus}
}

func (b *SerializedBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.bus.ReadFromAddr(ctx, address, buffer)
}

func (b *SerializedBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.bus.WriteToAddr(ctx, address, buffer)
}

func (b *SerializedBus) Release(ctx context.Context) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.bus.Release(ctx)
}

// Tx writes w and then reads into r while holding the bus lock. Buses that
// are Transactors themselves run both in one transfer.
func (b *SerializedBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if tx, ok := b.bus.(Transactor); ok {
		return tx.Tx(ctx, address, w, r)
	}
	if len(w) > 0 {
		if err := b.bus.WriteToAddr(ctx, address, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return b.bus.ReadFromAddr(ctx, address, r)
	}
	return nil
}
