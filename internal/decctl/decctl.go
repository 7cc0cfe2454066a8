// internal/decctl/decctl.go
// Package decctl implements the Decoder Controller Task (§4.F): life-cycle
// of the Waveform Capture decoder, the DecoderState model (§3), and the
// up-calls into a Capabilities set that replace the original's virtual
// dispatch (§9).
package decctl

import (
	"sync"

	"github.com/nmradcc/DCC-tester/internal/packet"
	"github.com/nmradcc/DCC-tester/internal/rpcerr"
	"github.com/nmradcc/DCC-tester/internal/rxcapture"
)

// Controller is the Decoder Controller Task.
type Controller struct {
	mu sync.Mutex

	running     bool
	serviceMode bool
	cvTable     [1024]byte
	lastPacket  []byte
	lastBiDiTx  rxcapture.BiDiDatagram

	decoder *rxcapture.Decoder
	windows rxcapture.Windows
	caps    Capabilities

	FramingErrors    uint64
	CRCDrops         uint64
	CaptureOverflows uint64
	PacketsDecoded   uint64
}

// New constructs a Controller using the given classification windows and
// capability set.
func New(windows rxcapture.Windows, caps Capabilities) *Controller {
	return &Controller{windows: windows, caps: caps}
}

// Running reports whether the Decoder is currently capturing.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start flips Stopped -> Running, per §4.E/F's "*_Start returns false
// [error] if already running" policy, symmetric with csctl.Controller.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return rpcerr.Busyf("decoder already running")
	}
	c.decoder = rxcapture.NewDecoder(c.windows)
	c.running = true
	return nil
}

// Stop flips Running -> Stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return rpcerr.Busyf("decoder not running")
	}
	c.running = false
	c.decoder = nil
	return nil
}

// Sample feeds one half-period measurement to the live Decoder. trackQuiet
// mirrors the GPIO proxy for the command station's BR_ENABLE pin (§4.D):
// when a packet completes while the track is observed quiet, the
// Controller attempts a BiDi transmit. No-op while stopped, matching the
// Waveform Capture ISR's "never blocks, never signals fatal errors".
func (c *Controller) Sample(us uint16, trackQuiet bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	ev := c.decoder.Sample(us)
	c.FramingErrors = c.decoder.FramingErrors
	c.CRCDrops = c.decoder.CRCDrops
	c.PacketsDecoded = c.decoder.PacketsDecoded

	if !ev.PacketOK {
		return
	}
	c.lastPacket = ev.PacketBytes
	c.interpret(ev.PacketBytes)

	if trackQuiet {
		// TODO: BR_ENABLE is a proxy for track-quiet; should be replaced
		// with proper no-voltage detection per §9.
		datagram := rxcapture.NewBiDiDatagram(ev.PacketBytes[0])
		c.lastBiDiTx = datagram
		if c.caps.OnBiDiTx != nil {
			c.caps.OnBiDiTx(datagram)
		}
	}
}

// interpret decodes a validated packet's instruction and invokes the
// matching capability hook. Unrecognized instructions are silently
// ignored — the Decoder only models the instruction classes the Packet
// Codec can emit.
func (c *Controller) interpret(bytes []byte) {
	body := bytes[:len(bytes)-1] // strip the trailing XOR byte
	addr, _, rest, err := packet.ParseAddress(body)
	if err != nil || len(rest) == 0 {
		return
	}
	inst := rest[0]

	switch {
	case inst == 0x3F && len(rest) >= 2: // 128-step speed/direction
		forward := rest[1]&0x80 != 0
		speed := rest[1] &^ 0x80
		step := decodeSpeedStep(speed)
		if c.caps.OnDirection != nil {
			c.caps.OnDirection(addr, forward)
		}
		if c.caps.OnSpeed != nil {
			c.caps.OnSpeed(addr, step)
		}

	case inst&0xE0 == 0x80: // group 1: F0,F4-F1
		if c.caps.OnFunction != nil {
			c.caps.OnFunction(addr, 1, inst&0x1F)
		}
	case inst&0xF0 == 0xB0: // group 2: F5-F8
		if c.caps.OnFunction != nil {
			c.caps.OnFunction(addr, 2, inst&0x0F)
		}
	case inst&0xF0 == 0xA0: // group 3: F9-F12
		if c.caps.OnFunction != nil {
			c.caps.OnFunction(addr, 3, inst&0x0F)
		}

	case inst&0xFC == 0xEC && len(rest) >= 3: // CV short-form write
		cvIdx := uint16(inst&0x03)<<8 | uint16(rest[1])
		value := rest[2]
		c.cvTable[cvIdx] = value
		if c.caps.OnCVWrite != nil {
			c.caps.OnCVWrite(cvIdx+1, value)
		}
	}
}

func decodeSpeedStep(speedByte byte) int8 {
	switch speedByte {
	case 0x00:
		return 0
	case 0x01:
		return -1 // emergency stop
	default:
		return int8(speedByte) - 1
	}
}

// CVRead reads a CV from the shadow table, notifying the capability set's
// observability hook with the outcome.
func (c *Controller) CVRead(cv uint16) (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := uint8(0), false
	if cv >= 1 && int(cv) <= len(c.cvTable) {
		value, ok = c.cvTable[cv-1], true
	}
	if c.caps.OnCVRead != nil {
		c.caps.OnCVRead(cv, value, ok)
	}
	return value, ok
}

// SetServiceMode toggles the Decoder's service-mode flag (programming-track
// semantics are explicitly Non-goals; this only models the state bit).
func (c *Controller) SetServiceMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serviceMode = on
}

// ServiceMode reports the current service-mode flag.
func (c *Controller) ServiceMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serviceMode
}

// LastPacket returns the most recently decoded packet's raw bytes.
func (c *Controller) LastPacket() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.lastPacket...)
}

// LastBiDiTx returns the most recent BiDi datagram transmitted.
func (c *Controller) LastBiDiTx() rxcapture.BiDiDatagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBiDiTx
}

// Counters is a point-in-time snapshot of the Decoder's running totals,
// safe to read concurrently with Sample.
type Counters struct {
	FramingErrors    uint64
	CRCDrops         uint64
	CaptureOverflows uint64
	PacketsDecoded   uint64
}

// Counters returns the current running totals under lock — the
// mutex-safe alternative to reading the exported counter fields directly
// from another goroutine (e.g. a diagnostics snapshot).
func (c *Controller) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{
		FramingErrors:    c.FramingErrors,
		CRCDrops:         c.CRCDrops,
		CaptureOverflows: c.CaptureOverflows,
		PacketsDecoded:   c.PacketsDecoded,
	}
}
