// internal/rxcapture/decoder.go
// Package rxcapture implements the Waveform Capture / Decoder RX state
// machine (§4.D): Hunt -> Preamble -> Start -> Byte -> Separator | Stop.
// Decoder.Sample is fed one input-capture half-period measurement at a
// time (microseconds), mirroring the timer input-capture ISR; it never
// blocks and never signals a fatal error, matching "Decoder never signals
// fatal errors to the RPC layer; observability is via counters".
package rxcapture

import "github.com/nmradcc/DCC-tester/internal/packet"

type rxState int

const (
	stHunt rxState = iota
	stPreamble
	stByte
	stSepOrStop
)

// MinPreambleOnes is the minimum run of logical-1 bits the Decoder
// requires before it will accept a start bit, per S-9.2's "decoders must
// accept a preamble of at least 10 bits" floor — looser than the CS's own
// minimum transmit preamble (>=14) so the Decoder can lock onto a
// compliance-test CS that is deliberately running a short preamble.
const MinPreambleOnes = 10

// MaxPacketBytes mirrors packet.MaxSize: a run-away Byte state with no
// Stop bit is abandoned rather than grown without bound.
const MaxPacketBytes = packet.MaxSize

// Event is what Decoder.Sample reports for the half-period it just
// consumed.
type Event struct {
	FramingError bool
	PacketOK     bool
	PacketBytes  []byte // valid only when PacketOK
	CRCDropped   bool
}

// Decoder is the Waveform Capture bit/byte/packet assembler.
type Decoder struct {
	windows Windows

	st           rxState
	preambleOnes int
	curByte      byte
	bitCount     int
	bytes        []byte

	pending    uint16
	hasPending bool

	FramingErrors    uint64
	CRCDrops         uint64
	CaptureOverflows uint64
	PacketsDecoded   uint64
}

// NewDecoder returns a Decoder using the given classification windows.
func NewDecoder(w Windows) *Decoder {
	return &Decoder{windows: w}
}

// Sample consumes one half-period sample (microseconds). It returns a
// non-trivial Event when a framing error occurs or a packet is fully
// assembled (successfully or not).
func (d *Decoder) Sample(us uint16) Event {
	if !d.hasPending {
		d.pending = us
		d.hasPending = true
		return Event{}
	}
	a := d.pending
	d.hasPending = false

	value, ok := d.windows.bitFromSamples(a, us)
	if !ok {
		d.FramingErrors++
		d.resync()
		return Event{FramingError: true}
	}
	return d.consumeBit(value)
}

// Overflow reports an input-capture overflow (the hardware timer wrapped
// before an edge was serviced): the Decoder resynchronizes exactly as it
// would for a framing error.
func (d *Decoder) Overflow() {
	d.CaptureOverflows++
	d.resync()
}

func (d *Decoder) resync() {
	d.st = stHunt
	d.preambleOnes = 0
	d.hasPending = false
	d.bytes = d.bytes[:0]
	d.bitCount = 0
}

func (d *Decoder) consumeBit(v bool) Event {
	switch d.st {
	case stHunt:
		if v {
			d.preambleOnes++
			if d.preambleOnes >= MinPreambleOnes {
				d.st = stPreamble
			}
		} else {
			d.preambleOnes = 0
		}
		return Event{}

	case stPreamble:
		if v {
			d.preambleOnes++
			return Event{}
		}
		// Logical 0 after a long preamble run is the packet start bit.
		d.st = stByte
		d.curByte = 0
		d.bitCount = 0
		d.bytes = d.bytes[:0]
		return Event{}

	case stByte:
		d.curByte = (d.curByte << 1) | boolBit(v)
		d.bitCount++
		if d.bitCount == 8 {
			d.bytes = append(d.bytes, d.curByte)
			d.st = stSepOrStop
			if len(d.bytes) > MaxPacketBytes {
				d.resync()
			}
		}
		return Event{}

	case stSepOrStop:
		if !v {
			// Byte separator: another data byte follows.
			d.st = stByte
			d.curByte = 0
			d.bitCount = 0
			return Event{}
		}
		return d.finishPacket()
	}
	return Event{}
}

func boolBit(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// finishPacket validates the assembled packet's XOR fold and resets to
// Hunt regardless of outcome, matching "CRC mismatch -> silently drop
// packet, increment a counter, remain in Hunt on next edge."
func (d *Decoder) finishPacket() Event {
	bytes := append([]byte(nil), d.bytes...)
	d.resync()

	if len(bytes) < 3 || len(bytes) > MaxPacketBytes {
		d.CRCDrops++
		return Event{CRCDropped: true}
	}
	var fold byte
	for _, b := range bytes {
		fold ^= b
	}
	if fold != 0 {
		d.CRCDrops++
		return Event{CRCDropped: true}
	}
	d.PacketsDecoded++
	return Event{PacketOK: true, PacketBytes: bytes}
}
