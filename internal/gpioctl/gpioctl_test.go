// internal/gpioctl/gpioctl_test.go
package gpioctl

import (
	"testing"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

type fakePin struct {
	level gpio.Level
}

func (f *fakePin) In(pull gpio.Pull, edge gpio.Edge) error {
	f.level = gpio.Low
	return nil
}

func (f *fakePin) Out(level gpio.Level) error {
	f.level = level
	return nil
}

func (f *fakePin) Read() gpio.Level { return f.level }

func TestConfigureAndSetOutput(t *testing.T) {
	b := New()
	pin := &fakePin{}
	require.NoError(t, b.Bind(1, pin))

	require.NoError(t, b.Configure(1, true))
	require.NoError(t, b.SetOutput(1, true))
	require.Equal(t, gpio.High, pin.level)

	require.NoError(t, b.SetOutput(1, false))
	require.Equal(t, gpio.Low, pin.level)
}

func TestReadInputUnboundPinFails(t *testing.T) {
	b := New()
	_, err := b.ReadInput(5)
	require.Error(t, err)
}

func TestReadAllInputsPacksBitfield(t *testing.T) {
	b := New()
	p1, p3 := &fakePin{level: gpio.High}, &fakePin{level: gpio.High}
	require.NoError(t, b.Bind(1, p1))
	require.NoError(t, b.Bind(3, p3))

	v := b.ReadAllInputs()
	require.Equal(t, uint16(0x01|0x04), v)
}

func TestBindOutOfRange(t *testing.T) {
	b := New()
	require.Error(t, b.Bind(0, &fakePin{}))
	require.Error(t, b.Bind(17, &fakePin{}))
}
