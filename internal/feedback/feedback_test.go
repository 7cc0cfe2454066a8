// internal/feedback/feedback_test.go
package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

type fakeVoltage struct {
	reads []physic.ElectricPotential
	i     int
}

func (f *fakeVoltage) ReadVoltage(ctx context.Context) (physic.ElectricPotential, error) {
	v := f.reads[f.i%len(f.reads)]
	f.i++
	return v, nil
}

type fakeCurrent struct{ v physic.ElectricCurrent }

func (f *fakeCurrent) ReadCurrent(ctx context.Context) (physic.ElectricCurrent, error) {
	return f.v, nil
}

func TestReadVoltageMVAverages(t *testing.T) {
	pin := &fakeVoltage{reads: []physic.ElectricPotential{
		physic.Volt * 10, physic.Volt * 12, physic.Volt * 14,
	}}
	b := New(pin, nil)
	mv, err := b.ReadVoltageMV(context.Background(), 3, 0)
	require.NoError(t, err)
	require.InDelta(t, 12000.0, mv, 0.001)
}

func TestReadCurrentMA(t *testing.T) {
	b := New(nil, &fakeCurrent{v: 250 * physic.MilliAmpere})
	ma, err := b.ReadCurrentMA(context.Background(), 1, 0)
	require.NoError(t, err)
	require.InDelta(t, 250.0, ma, 0.001)
}

func TestReadVoltageMVFailsWithoutPin(t *testing.T) {
	b := New(nil, nil)
	_, err := b.ReadVoltageMV(context.Background(), 1, 0)
	require.Error(t, err)
}

func TestMutexSerializesConcurrentReads(t *testing.T) {
	b := New(&fakeVoltage{reads: []physic.ElectricPotential{physic.Volt}}, nil)
	done := make(chan struct{})
	go func() {
		b.ReadVoltageMV(context.Background(), 2, 20*time.Millisecond)
		close(done)
	}()
	time.Sleep(2 * time.Millisecond)
	_, err := b.ReadVoltageMV(context.Background(), 1, 0)
	require.NoError(t, err) // queues behind the first read, doesn't error
	<-done
}
