package sonar

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type op struct {
	kind string
	addr byte
}

// recordingBus fails the test when two transactions overlap.
type recordingBus struct {
	t      *testing.T
	mx     sync.Mutex
	active bool
	ops    []op
	err    error
}

func (b *recordingBus) enter(kind string, addr byte) {
	b.mx.Lock()
	defer b.mx.Unlock()
	assert.False(b.t, b.active, "overlapping transaction")
	b.active = true
	b.ops = append(b.ops, op{kind, addr})
}

func (b *recordingBus) leave() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.active = false
}

func (b *recordingBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.enter("r", address)
	defer b.leave()
	return b.err
}

func (b *recordingBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.enter("w", address)
	defer b.leave()
	return b.err
}

func (b *recordingBus) Release(ctx context.Context) error {
	return nil
}

type txBus struct {
	recordingBus
}

func (b *txBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	b.enter("tx", address)
	defer b.leave()
	return nil
}

func TestSerializedBus_Tx(t *testing.T) {
	inner := &recordingBus{t: t}
	bus := NewSerializedBus(inner)
	ctx := context.Background()

	require.NoError(t, bus.Tx(ctx, 0x70, []byte{0x02}, make([]byte, 2)))
	require.NoError(t, bus.Tx(ctx, 0x71, nil, make([]byte, 1)))
	require.NoError(t, bus.Tx(ctx, 0x72, []byte{0x00, 0x51}, nil))
	assert.Equal(t, []op{{"w", 0x70}, {"r", 0x70}, {"r", 0x71}, {"w", 0x72}}, inner.ops)
}

func TestSerializedBus_TxError(t *testing.T) {
	inner := &recordingBus{t: t, err: errors.New("nack")}
	bus := NewSerializedBus(inner)

	err := bus.Tx(context.Background(), 0x70, []byte{0x00}, make([]byte, 1))
	assert.EqualError(t, err, "nack")
	assert.Equal(t, []op{{"w", 0x70}}, inner.ops, "no read after a failed write")
}

func TestSerializedBus_DelegatesTx(t *testing.T) {
	inner := &txBus{recordingBus{t: t}}
	bus := NewSerializedBus(inner)

	require.NoError(t, bus.Tx(context.Background(), 0x70, []byte{0x00}, make([]byte, 1)))
	assert.Equal(t, []op{{"tx", 0x70}}, inner.ops)
}

func TestSerializedBus_Concurrent(t *testing.T) {
	inner := &recordingBus{t: t}
	bus := NewSerializedBus(inner)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(addr byte) {
			defer wg.Done()
			_ = bus.WriteToAddr(ctx, addr, []byte{0x00, 0x51})
			_ = bus.Tx(ctx, addr, []byte{0x02}, make([]byte, 2))
			_ = bus.ReadFromAddr(ctx, addr, make([]byte, 1))
		}(byte(0x70 + i))
	}
	wg.Wait()
	assert.Len(t, inner.ops, 16*4)
	require.NoError(t, bus.Release(ctx))
}
