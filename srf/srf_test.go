package srf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sonar"
)

func TestSensor_WriteUnit(t *testing.T) {
	tests := []struct {
		unit     byte
		expected byte
	}{
		{'i', 0x50},
		{'c', 0x51},
		{'m', 0x52},
		{'x', 0x52},
		{'C', 0x52},
		{0, 0x52},
	}
	for _, test := range tests {
		t.Run(string(rune(test.unit)), func(t *testing.T) {
			bus := newFakeSRF(1)
			s := NewSensor(bus)
			err := s.WriteUnit(context.Background(), test.unit)
			require.NoError(t, err)
			assert.Equal(t, [][]byte{{0x00, test.expected}}, bus.frames())
			assert.Equal(t, byte(DefaultAddress), bus.writes[0].addr)
		})
	}
}

func TestSensor_WriteUnit_InvalidIsLogged(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	bus := newFakeSRF(1)
	s := NewSensor(bus, WithLogger(logger))

	err := s.WriteUnit(context.Background(), 'q')
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "invalid unit, using microseconds")

	out.Reset()
	err = s.WriteUnit(context.Background(), 'c')
	assert.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestSensor_WriteCommand(t *testing.T) {
	tests := []struct {
		name     string
		gain     byte
		rng      byte
		cmd      byte
		reg      byte
		expected []byte
	}{
		{"no config", 0, 0, 0x51, 0x00, []byte{0x00, 0x51}},
		{"gain only", 0x10, 0, 0x51, 0x00, []byte{0x00, 0x51}},
		{"range only", 0, 0x8C, 0x51, 0x00, []byte{0x00, 0x51}},
		{"gain and range", 0x10, 0x8C, 0x51, 0x00, []byte{0x00, 0x51, 0x10, 0x8C}},
		{"register select", 0x10, 0x8C, NoCommand, 0x02, []byte{0x02}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := newFakeSRF(1)
			s := NewSensor(bus, WithGain(test.gain), WithRange(test.rng))
			require.NoError(t, s.WriteCommand(context.Background(), test.cmd, test.reg))
			assert.Equal(t, [][]byte{test.expected}, bus.frames())
		})
	}
}

func TestSensor_WriteCommand_Error(t *testing.T) {
	bus := new(MockI2CBus)
	bus.On("WriteToAddr", mock.Anything, byte(0x71), []byte{0x00, 0x50}).
		Return(errors.New("i2c write failed")).Once()
	s := NewSensor(bus, WithAddress(0x71))

	err := s.WriteUnit(context.Background(), 'i')
	require.Error(t, err)
	assert.Contains(t, err.Error(), "srf: could not write command 0x50 to register 0x0: i2c write failed")
	bus.AssertExpectations(t)
}

func TestSensor_ReadRegister(t *testing.T) {
	tests := []struct {
		name     string
		given    []byte
		n        int
		expected uint32
	}{
		{"one byte", []byte{0x07}, 1, 7},
		{"range word", []byte{0x01, 0x2C}, 2, 300},
		{"max word", []byte{0xFF, 0xFF}, 2, 0xFFFF},
		{"four bytes", []byte{0x01, 0x02, 0x03, 0x04}, 4, 0x01020304},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := new(MockI2CBus)
			bus.On("WriteToAddr", mock.Anything, byte(DefaultAddress), []byte{0x02}).Return(nil).Once()
			bus.On("ReadFromAddr", mock.Anything, byte(DefaultAddress), mock.MatchedBy(func(b []byte) bool {
				return len(b) == test.n
			})).Return(test.given, nil).Once()
			s := NewSensor(bus)

			v, err := s.ReadRegister(context.Background(), 0x02, test.n)
			require.NoError(t, err)
			assert.Equal(t, test.expected, v)
			bus.AssertExpectations(t)
		})
	}
}

func TestSensor_ReadRegister_InvalidLength(t *testing.T) {
	bus := new(MockI2CBus)
	s := NewSensor(bus)
	for _, n := range []int{0, -1, 5} {
		_, err := s.ReadRegister(context.Background(), 0x02, n)
		assert.ErrorIs(t, err, ErrInvalidLength)
	}
	bus.AssertNotCalled(t, "WriteToAddr", mock.Anything, mock.Anything, mock.Anything)
}

func TestSensor_ReadRegister_ReadError(t *testing.T) {
	bus := new(MockI2CBus)
	bus.On("WriteToAddr", mock.Anything, byte(DefaultAddress), []byte{0x00}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(DefaultAddress), mock.Anything).
		Return(nil, errors.New("i2c read failed")).Once()
	s := NewSensor(bus)

	_, err := s.ReadVersion(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "srf: could not read register 0x0: i2c read failed")
	bus.AssertExpectations(t)
}

func TestSensor_ReadRegister_SerializedBus(t *testing.T) {
	fake := newFakeSRF(9)
	fake.setWord(regRange, 0x012C)
	s := NewSensor(sonar.NewSerializedBus(fake))

	v, err := s.ReadRange(context.Background(), 'c', false)
	require.NoError(t, err)
	assert.Equal(t, uint16(300), v)
	assert.Equal(t, [][]byte{{0x02}}, fake.frames())
}

func TestSensor_ReadVersion(t *testing.T) {
	bus := newFakeSRF(6)
	s := NewSensor(bus)
	v, err := s.ReadVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(6), v)
	assert.Equal(t, [][]byte{{0x00}}, bus.frames())
}

func TestSensor_WaitForCompletion(t *testing.T) {
	tests := []struct {
		name      string
		busy      int
		busyValue bool
	}{
		{"ready immediately", 0, false},
		{"nack while ranging", 3, false},
		{"0xff while ranging", 4, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := newFakeSRF(5)
			bus.busy = test.busy
			bus.busyValue = test.busyValue
			s := NewSensor(bus, WithPollInterval(time.Millisecond))

			err := s.WaitForCompletion(context.Background())
			require.NoError(t, err)
			assert.Equal(t, test.busy+1, bus.versionReads, "should stop at the first ready read")
		})
	}
}

func TestSensor_WaitForCompletion_Timeout(t *testing.T) {
	bus := newFakeSRF(5)
	bus.busy = 1 << 30
	s := NewSensor(bus, WithPollInterval(time.Millisecond), WithTimeout(20*time.Millisecond))

	start := time.Now()
	err := s.WaitForCompletion(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Greater(t, bus.versionReads, 1)
}

func TestSensor_WaitForCompletion_Cancelled(t *testing.T) {
	bus := newFakeSRF(5)
	bus.busy = 1 << 30
	s := NewSensor(bus, WithTimeout(0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := s.WaitForCompletion(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSensor_WaitForCompletion_BusFailure(t *testing.T) {
	unplugged := errors.New("usb device unplugged")
	bus := new(MockI2CBus)
	bus.On("WriteToAddr", mock.Anything, byte(DefaultAddress), []byte{regVersion}).Return(nil)
	bus.On("ReadFromAddr", mock.Anything, byte(DefaultAddress), mock.Anything).Return(nil, unplugged)
	s := NewSensor(bus, WithPollInterval(time.Millisecond), WithTimeout(10*time.Millisecond))

	err := s.WaitForCompletion(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, unplugged)
	assert.Contains(t, err.Error(), "last poll")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewSensor(bus, WithTimeout(0)).WaitForCompletion(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, unplugged)
}

func TestSensor_WaitForCompletion_BusyValueTimeout(t *testing.T) {
	bus := newFakeSRF(5)
	bus.busy = 1 << 30
	bus.busyValue = true
	s := NewSensor(bus, WithPollInterval(time.Millisecond), WithTimeout(10*time.Millisecond))

	err := s.WaitForCompletion(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotContains(t, err.Error(), "last poll")
}

func TestSensor_ReadRange_Start(t *testing.T) {
	bus := newFakeSRF(5)
	bus.busy = 2
	bus.setWord(regRange, 0x00F0)
	s := NewSensor(bus, WithGain(0x1F), WithRange(0x8C))

	v, err := s.ReadRange(context.Background(), 'c', true)
	require.NoError(t, err)
	assert.Equal(t, uint16(240), v)
	assert.Equal(t, [][]byte{
		{0x00, 0x51, 0x1F, 0x8C},
		{0x00}, {0x00}, {0x00},
		{0x02},
	}, bus.frames())
}

func TestSensor_Measure(t *testing.T) {
	bus := newFakeSRF(5)
	bus.setWord(regRange, 1160)
	s := NewSensor(bus)

	r, err := s.Measure(context.Background(), 'z')
	require.NoError(t, err)
	assert.Equal(t, Range{Value: 1160, Unit: Microseconds}, r)
	assert.Equal(t, []byte{0x00, 0x52}, bus.frames()[0])
}

func TestSensor_SetAddress(t *testing.T) {
	tests := []struct {
		newAddr byte
		last    byte
	}{
		{0x70, 0xE0},
		{0x71, 0xE2},
		{0x7F, 0xFE},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#x", test.newAddr), func(t *testing.T) {
			bus := newFakeSRF(5)
			s := NewSensor(bus, WithGain(0x1F), WithRange(0x8C))

			require.NoError(t, s.SetAddress(context.Background(), test.newAddr))
			assert.Equal(t, [][]byte{
				{0x00, 0xA0},
				{0x00, 0xAA},
				{0x00, 0xA5},
				{0x00, test.last},
			}, bus.frames())
			for _, w := range bus.writes {
				assert.Equal(t, byte(DefaultAddress), w.addr, "sequence goes to the old address")
			}
			assert.Equal(t, test.newAddr, s.Address())
		})
	}
}

func TestSensor_SetAddress_Unchecked(t *testing.T) {
	tests := []struct {
		newAddr byte
		last    byte
	}{
		{0x10, 0x20},
		{0x50, 0xA0},
		{0x80, 0x00},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#x", test.newAddr), func(t *testing.T) {
			bus := newFakeSRF(5)
			s := NewSensor(bus)

			require.NoError(t, s.SetAddress(context.Background(), test.newAddr))
			frames := bus.frames()
			require.Len(t, frames, 4)
			assert.Equal(t, []byte{0x00, test.last}, frames[3])
			assert.Equal(t, test.newAddr, s.Address())
		})
	}
}

func TestValidAddress(t *testing.T) {
	for _, addr := range []byte{0x70, 0x75, 0x7F} {
		assert.True(t, ValidAddress(addr), "%#x", addr)
	}
	for _, addr := range []byte{0x00, 0x6F, 0x80, 0xE0} {
		assert.False(t, ValidAddress(addr), "%#x", addr)
	}
}

func TestSensor_SetAddress_StepError(t *testing.T) {
	bus := new(MockI2CBus)
	bus.On("WriteToAddr", mock.Anything, byte(DefaultAddress), []byte{0x00, 0xA0}).Return(nil).Once()
	bus.On("WriteToAddr", mock.Anything, byte(DefaultAddress), []byte{0x00, 0xAA}).
		Return(errors.New("i2c write failed")).Once()
	s := NewSensor(bus)

	err := s.SetAddress(context.Background(), 0x72)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address change step 2 failed")
	assert.Equal(t, byte(DefaultAddress), s.Address())
	bus.AssertExpectations(t)
}
