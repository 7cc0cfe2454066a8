// internal/gpioctl/gpioctl.go
// Package gpioctl backs the get_gpio_input(s)/configure_gpio_output/
// set_gpio_output RPC methods (§4.G) with periph.io digital pins.
package gpioctl

import (
	"periph.io/x/conn/v3/gpio"

	"github.com/nmradcc/DCC-tester/internal/rpcerr"
)

// NumPins is the fixed pin range the RPC surface exposes: 1..16,
// matching "value is 16-bit packed bitfield" for get_gpio_inputs.
const NumPins = 16

// Pin is the narrow slice of periph.io's gpio.PinIO this package needs.
// Any real periph.io/x/host pin satisfies this interface structurally, so
// production wiring binds periph pins directly with no adapter; tests
// bind a small fake.
type Pin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Out(level gpio.Level) error
	Read() gpio.Level
}

// Board owns a fixed array of periph.io GPIO pins, numbered 1..16 per the
// RPC contract. A nil entry means the pin is unassigned on this host.
type Board struct {
	pins [NumPins]Pin
}

// New constructs a Board. Callers assign pins via Bind after construction
// (production wiring binds periph.io/x/host pins; tests bind fakes).
func New() *Board {
	return &Board{}
}

// Bind installs pin as logical pin number n (1..16).
func (b *Board) Bind(n int, pin Pin) error {
	if n < 1 || n > NumPins {
		return rpcerr.InvalidArgf("pin %d out of range 1..%d", n, NumPins)
	}
	b.pins[n-1] = pin
	return nil
}

func (b *Board) pin(n int) (Pin, error) {
	if n < 1 || n > NumPins {
		return nil, rpcerr.InvalidArgf("pin %d out of range 1..%d", n, NumPins)
	}
	p := b.pins[n-1]
	if p == nil {
		return nil, rpcerr.HardwareFaultf("pin %d not bound on this host", n)
	}
	return p, nil
}

// Configure sets pin n's direction: asOutput true configures it as a driven
// output (initial level low), false configures it as a floating input.
func (b *Board) Configure(n int, asOutput bool) error {
	p, err := b.pin(n)
	if err != nil {
		return err
	}
	if asOutput {
		return p.Out(gpio.Low)
	}
	return p.In(gpio.Float, gpio.NoEdge)
}

// SetOutput drives pin n to the given level; the pin must already be
// configured as an output.
func (b *Board) SetOutput(n int, high bool) error {
	p, err := b.pin(n)
	if err != nil {
		return err
	}
	level := gpio.Low
	if high {
		level = gpio.High
	}
	return p.Out(level)
}

// ReadInput reads pin n's current level.
func (b *Board) ReadInput(n int) (bool, error) {
	p, err := b.pin(n)
	if err != nil {
		return false, err
	}
	return p.Read() == gpio.High, nil
}

// ReadAllInputs packs every bound pin's level into a 16-bit bitfield, bit
// (n-1) corresponding to pin n. Unbound pins read as 0.
func (b *Board) ReadAllInputs() uint16 {
	var v uint16
	for i, p := range b.pins {
		if p == nil {
			continue
		}
		if p.Read() == gpio.High {
			v |= 1 << uint(i)
		}
	}
	return v
}
