// internal/feedback/feedback.go
// Package feedback implements Analog Feedback (§4.H): on-demand averaged
// ADC reads for track voltage/current, serialized by a single mutex with a
// bounded acquire timeout (§5 Shared-resource policy).
package feedback

import (
	"context"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/nmradcc/DCC-tester/internal/rpcerr"
)

// VoltagePin and CurrentPin are the narrow slice of periph.io's analog pin
// surface this package needs: a single physic-unit sample per call. Real
// hardware binds these to a periph.io ADC driver's pin; tests bind a fake.
type VoltagePin interface {
	ReadVoltage(ctx context.Context) (physic.ElectricPotential, error)
}

type CurrentPin interface {
	ReadCurrent(ctx context.Context) (physic.ElectricCurrent, error)
}

// MutexTimeout is the ADC mutex acquire timeout (§5: "ADC: serialized by a
// single mutex with 100 ms timeout").
const MutexTimeout = 100 * time.Millisecond

// Board is the Analog Feedback subsystem: one voltage pin, one current
// pin, one mutex guarding both (they share a physical ADC on real
// hardware).
type Board struct {
	sem     chan struct{} // 1-buffered: acts as a timeout-capable mutex
	voltage VoltagePin
	current CurrentPin
}

// New constructs a Board. Either pin may be nil on a host with no analog
// feedback wired; reads against a nil pin fail with HardwareFault.
func New(voltage VoltagePin, current CurrentPin) *Board {
	return &Board{sem: make(chan struct{}, 1), voltage: voltage, current: current}
}

func (b *Board) acquire() error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-time.After(MutexTimeout):
		return rpcerr.HardwareFaultf("adc mutex acquire timed out after %s", MutexTimeout)
	}
}

func (b *Board) release() {
	<-b.sem
}

// ReadVoltageMV returns the averaged track voltage in millivolts over
// numSamples reads, sampleDelay apart.
func (b *Board) ReadVoltageMV(ctx context.Context, numSamples int, sampleDelay time.Duration) (float64, error) {
	if b.voltage == nil {
		return 0, rpcerr.HardwareFaultf("no voltage feedback pin configured")
	}
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.release()

	if numSamples < 1 {
		numSamples = 1
	}
	var total physic.ElectricPotential
	for i := 0; i < numSamples; i++ {
		v, err := b.voltage.ReadVoltage(ctx)
		if err != nil {
			return 0, rpcerr.HardwareFaultf("voltage read: %v", err)
		}
		total += v
		if i+1 < numSamples && sampleDelay > 0 {
			select {
			case <-ctx.Done():
				return 0, rpcerr.HardwareFaultf("voltage read canceled: %v", ctx.Err())
			case <-time.After(sampleDelay):
			}
		}
	}
	avg := total / physic.ElectricPotential(numSamples)
	return float64(avg) / float64(physic.Volt) * 1000, nil
}

// ReadCurrentMA returns the averaged track current in milliamps over
// numSamples reads, sampleDelay apart.
func (b *Board) ReadCurrentMA(ctx context.Context, numSamples int, sampleDelay time.Duration) (float64, error) {
	if b.current == nil {
		return 0, rpcerr.HardwareFaultf("no current feedback pin configured")
	}
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.release()

	if numSamples < 1 {
		numSamples = 1
	}
	var total physic.ElectricCurrent
	for i := 0; i < numSamples; i++ {
		c, err := b.current.ReadCurrent(ctx)
		if err != nil {
			return 0, rpcerr.HardwareFaultf("current read: %v", err)
		}
		total += c
		if i+1 < numSamples && sampleDelay > 0 {
			select {
			case <-ctx.Done():
				return 0, rpcerr.HardwareFaultf("current read canceled: %v", ctx.Err())
			case <-time.After(sampleDelay):
			}
		}
	}
	avg := total / physic.ElectricCurrent(numSamples)
	return float64(avg) / float64(physic.Ampere) * 1000, nil
}

// DAC is the BiDi-threshold comparator output the CS Controller drives at
// start (§4.E). Implemented separately from VoltagePin/CurrentPin since it
// is a write-only single-shot operation, not mutex-guarded per §5 (only
// the read-path ADC is contended; the DAC is written once per CS start).
type DAC interface {
	Write(counts uint16) error
}

// PeriphDAC adapts a periph.io analog output pin (u12 DAC, 0..4095 counts)
// to the csctl.DAC interface.
type PeriphDAC struct {
	Pin interface {
		Out(v physic.ElectricPotential) error
	}
	FullScale physic.ElectricPotential
}

// Write implements csctl.DAC by scaling a 0..4095 count value against
// FullScale and writing the resulting voltage to Pin.
func (d *PeriphDAC) Write(counts uint16) error {
	if counts > 4095 {
		return rpcerr.InvalidArgf("dac counts %d exceeds u12 range 0..4095", counts)
	}
	v := physic.ElectricPotential(uint64(d.FullScale) * uint64(counts) / 4095)
	return d.Pin.Out(v)
}
