// internal/decctl/decctl_test.go
package decctl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmradcc/DCC-tester/internal/packet"
	"github.com/nmradcc/DCC-tester/internal/rxcapture"
)

func driveBits(t *testing.T, c *Controller, bits []bool, trackQuiet bool) {
	t.Helper()
	for _, b := range bits {
		var us uint16 = 100
		if b {
			us = 58
		}
		c.Sample(us, trackQuiet)
		c.Sample(us, trackQuiet)
	}
}

func packetBits(p packet.Packet) []bool {
	var bits []bool
	for i := 0; i < 14; i++ {
		bits = append(bits, true)
	}
	bits = append(bits, false)
	for i := 0; i < p.Len(); i++ {
		b := p.At(i)
		for bit := 7; bit >= 0; bit-- {
			bits = append(bits, (b>>uint(bit))&1 != 0)
		}
		if i < p.Len()-1 {
			bits = append(bits, false)
		}
	}
	bits = append(bits, true)
	return bits
}

func TestStartStopBusySymmetry(t *testing.T) {
	c := New(rxcapture.DefaultWindows(), DefaultCapabilities())
	require.NoError(t, c.Start())
	require.True(t, c.Running())

	require.Error(t, c.Start())
	require.NoError(t, c.Stop())
	require.Error(t, c.Stop())
}

func TestSpeedPacketInvokesHooks(t *testing.T) {
	var gotAddr uint16
	var gotStep int8
	var gotForward bool
	caps := Capabilities{
		OnDirection: func(addr uint16, forward bool) { gotForward = forward },
		OnSpeed:     func(addr uint16, step int8) { gotAddr, gotStep = addr, step },
	}
	c := New(rxcapture.DefaultWindows(), caps)
	require.NoError(t, c.Start())

	p, err := packet.MakeSpeed(3, 42, true)
	require.NoError(t, err)
	driveBits(t, c, packetBits(p), false)

	require.Equal(t, uint16(3), gotAddr)
	require.Equal(t, int8(42), gotStep)
	require.True(t, gotForward)
	require.Equal(t, p.Bytes(), c.LastPacket())
	require.Equal(t, uint64(1), c.PacketsDecoded)
}

func TestCVWriteUpdatesTableAndReadReflectsIt(t *testing.T) {
	c := New(rxcapture.DefaultWindows(), DefaultCapabilities())
	require.NoError(t, c.Start())

	p, err := packet.MakeCVAccessShortWrite(3, 29, 0x06)
	require.NoError(t, err)
	driveBits(t, c, packetBits(p), false)

	v, ok := c.CVRead(29)
	require.True(t, ok)
	require.Equal(t, uint8(0x06), v)
}

func TestBiDiTxFiresOnlyWhenTrackQuiet(t *testing.T) {
	var txCount int
	caps := DefaultCapabilities()
	caps.OnBiDiTx = func(rxcapture.BiDiDatagram) { txCount++ }
	c := New(rxcapture.DefaultWindows(), caps)
	require.NoError(t, c.Start())

	p, err := packet.MakeSpeed(3, 42, true)
	require.NoError(t, err)
	driveBits(t, c, packetBits(p), false)
	require.Zero(t, txCount)

	driveBits(t, c, packetBits(p), true)
	require.Equal(t, 1, txCount)
	require.Equal(t, 1, c.LastBiDiTx().Len())
}

func TestSampleIsNoOpWhenStopped(t *testing.T) {
	c := New(rxcapture.DefaultWindows(), DefaultCapabilities())
	require.NotPanics(t, func() { c.Sample(58, false) })
	require.Zero(t, c.PacketsDecoded)
}

func TestCountersSnapshotMatchesExportedFields(t *testing.T) {
	c := New(rxcapture.DefaultWindows(), DefaultCapabilities())
	require.NoError(t, c.Start())

	p, err := packet.MakeSpeed(3, 42, true)
	require.NoError(t, err)
	driveBits(t, c, packetBits(p), false)

	got := c.Counters()
	require.Equal(t, c.PacketsDecoded, got.PacketsDecoded)
	require.Equal(t, uint64(1), got.PacketsDecoded)
}
