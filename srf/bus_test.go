package srf

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockI2CBus is a mock implementation of sonar.I2CBus using testify/mock
type MockI2CBus struct {
	mock.Mock
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var errNack = errors.New("i2c: no ack")

type frame struct {
	addr byte
	data []byte
}

// fakeSRF emulates the register file of an SRF sensor. Version reads fail
// while busy is positive, the way a ranging sensor ignores the bus.
type fakeSRF struct {
	mu           sync.Mutex
	regs         [36]byte
	lastReg      byte
	busy         int
	busyValue    bool // report busy as 0xFF instead of a NACK
	versionReads int
	writes       []frame
	reads        int
}

func newFakeSRF(version byte) *fakeSRF {
	f := &fakeSRF{}
	f.regs[0] = version
	return f
}

func (f *fakeSRF) setWord(reg byte, v uint16) {
	f.regs[reg] = byte(v >> 8)
	f.regs[reg+1] = byte(v)
}

func (f *fakeSRF) WriteToAddr(_ context.Context, address byte, buffer []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, frame{addr: address, data: append([]byte(nil), buffer...)})
	if len(buffer) > 0 {
		f.lastReg = buffer[0]
	}
	return nil
}

func (f *fakeSRF) ReadFromAddr(_ context.Context, _ byte, buffer []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.lastReg == regVersion && len(buffer) == 1 {
		f.versionReads++
		if f.busy > 0 {
			f.busy--
			if f.busyValue {
				buffer[0] = 0xFF
				return nil
			}
			return errNack
		}
	}
	copy(buffer, f.regs[f.lastReg:])
	return nil
}

func (f *fakeSRF) Release(context.Context) error {
	return nil
}

func (f *fakeSRF) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([][]byte, 0, len(f.writes))
	for _, w := range f.writes {
		res = append(res, w.data)
	}
	return res
}
