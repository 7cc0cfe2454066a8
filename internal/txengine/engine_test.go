// internal/txengine/engine_test.go
package txengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmradcc/DCC-tester/internal/packet"
	"github.com/nmradcc/DCC-tester/internal/params"
)

func testConfig() params.TimingConfig {
	return params.TimingConfig{
		NumPreamble:    14,
		Bit1DurationUs: 58,
		Bit0DurationUs: 100,
		BiDiEnable:     false,
	}
}

func TestPreambleThenStartBit(t *testing.T) {
	q := NewPacketQueue(4, DropNewest)
	e := NewEngine(q)
	cfg := testConfig()
	e.Enable(cfg)

	for i := 0; i < int(cfg.NumPreamble); i++ {
		hp1 := e.Tick()
		hp2 := e.Tick()
		require.Equal(t, uint16(cfg.Bit1DurationUs), hp1.DurationUs)
		require.Equal(t, hp1.DurationUs, hp2.DurationUs)
		require.NotEqual(t, hp1.TrackP, hp2.TrackP)
	}
	// Start bit: logical 0.
	hp1 := e.Tick()
	hp2 := e.Tick()
	require.Equal(t, uint16(cfg.Bit0DurationUs), hp1.DurationUs)
	require.Equal(t, hp1.DurationUs, hp2.DurationUs)
}

func TestIdlePacketWhenQueueEmpty(t *testing.T) {
	q := NewPacketQueue(4, DropNewest)
	e := NewEngine(q)
	cfg := testConfig()
	e.Enable(cfg)

	// Skip preamble + start bit.
	skipBits(e, int(cfg.NumPreamble)+1)

	idle := packet.IdlePacket()
	for byteN := 0; byteN < idle.Len(); byteN++ {
		b := idle.At(byteN)
		for bit := 7; bit >= 0; bit-- {
			want := (b>>uint(bit))&1 != 0
			hp1 := e.Tick()
			hp2 := e.Tick()
			if want {
				require.Equal(t, uint16(cfg.Bit1DurationUs), hp1.DurationUs)
			} else {
				require.Equal(t, uint16(cfg.Bit0DurationUs), hp1.DurationUs)
			}
			require.Equal(t, hp1.DurationUs, hp2.DurationUs)
		}
		if byteN < idle.Len()-1 {
			skipBits(e, 1) // separator
		}
	}
}

func skipBits(e *Engine, n int) {
	for i := 0; i < n; i++ {
		e.Tick()
		e.Tick()
	}
}

func TestStartStopSymmetry(t *testing.T) {
	q := NewPacketQueue(4, DropNewest)
	e := NewEngine(q)
	cfg := testConfig()
	e.Enable(cfg)
	require.True(t, e.Running())

	e.SetOverride(OverrideMap{Mask: 0x10, DeltaP: 5, DeltaN: -5})
	e.RequestStop()

	var halted bool
	for i := 0; i < 100000 && !halted; i++ {
		hp := e.Tick()
		halted = hp.Halted
	}
	require.True(t, halted, "engine must eventually halt after RequestStop")
	require.False(t, e.Running())
	require.Equal(t, OverrideMap{}, *e.override.Load(), "override must be cleared on stop per a fresh restart")
}

func TestOverrideLocality(t *testing.T) {
	q := NewPacketQueue(4, DropNewest)
	e := NewEngine(q)
	cfg := testConfig()
	cfg.NumPreamble = 14
	e.Enable(cfg)

	// Preload a custom packet so the bit stream is deterministic: a CV 1
	// write of 0x00 to address 0x03, wire bytes 03 EC 00 00 EF.
	custom, err := packet.MakeCVAccessShortWrite(3, 1, 0x00)
	require.NoError(t, err)
	require.NoError(t, q.Push(custom))

	// Consume the idle packet that was already queued at Enable time (the
	// queue was empty, so Engine.Enable popped an idle packet before our
	// push landed). Skip through preamble + idle packet + cutout-free gap
	// to reach the custom packet's own preamble.
	skipBits(e, int(cfg.NumPreamble))
	skipPacketBody(e, packet.IdlePacket())

	// Now in the custom packet's preamble; bitIndex resets to 0 at Gap.
	// bitIndex counts one full logical bit per increment (not per
	// half-period), starting at 0 for the first preamble bit: indices
	// 0..NumPreamble-1 are preamble, NumPreamble is the start bit, and
	// NumPreamble+1.. are the packet's data bits.
	dataBitIndex := int(cfg.NumPreamble) + 1 + 3 // start bit + 4th data bit (MSB side)
	e.SetOverride(OverrideMap{Mask: 1 << uint(dataBitIndex), DeltaP: 10, DeltaN: -10})

	// Walk bit-by-bit through preamble + start bit, verifying no overridden
	// bit fires until we reach dataBitIndex.
	for i := 0; i < dataBitIndex; i++ {
		hp1 := e.Tick()
		e.Tick()
		require.True(t, hp1.DurationUs == uint16(cfg.Bit1DurationUs) || hp1.DurationUs == uint16(cfg.Bit0DurationUs),
			"bit %d must be an unmodified nominal width", i)
	}

	// The targeted bit: address 0x03 = 0000 0011, MSB-first 4th bit (index
	// 3, 0-based) is 0 -- a logical zero, so the override applies.
	hp1 := e.Tick()
	hp2 := e.Tick()
	require.Equal(t, uint16(cfg.Bit0DurationUs)+10, hp1.DurationUs, "overridden bit's positive-phase half lengthened by deltaP")
	require.Equal(t, uint16(cfg.Bit0DurationUs)-10, hp2.DurationUs, "overridden bit's negative-phase half shortened by deltaN")

	// The following bit must be back to nominal.
	hp3 := e.Tick()
	require.True(t, hp3.DurationUs == uint16(cfg.Bit1DurationUs) || hp3.DurationUs == uint16(cfg.Bit0DurationUs))
}

// skipPacketBody advances past a full packet body (start bit, bytes with
// separators, stop bit) and any subsequent cutout/gap, landing the engine
// at the start of the next packet's preamble.
func skipPacketBody(e *Engine, p packet.Packet) {
	bits := 1 // start bit
	for i := 0; i < p.Len(); i++ {
		bits += 8
		if i < p.Len()-1 {
			bits++
		}
	}
	bits++ // stop bit
	skipBits(e, bits)
}

func TestBiDiCutoutThenGapTransitionsOutsidePacket(t *testing.T) {
	q := NewPacketQueue(4, DropNewest)
	e := NewEngine(q)
	cfg := testConfig()
	cfg.BiDiEnable = true
	e.Enable(cfg)

	skipBits(e, int(cfg.NumPreamble))
	skipPacketBody(e, packet.IdlePacket())

	// Immediately after the stop bit we must be in cutout: BrEnable low,
	// BiDiEnable high, both rails released.
	hp := e.Tick()
	require.True(t, hp.BiDiEnable)
	require.False(t, hp.BrEnable)
	require.False(t, hp.TrackP)
	require.False(t, hp.TrackN)
}
