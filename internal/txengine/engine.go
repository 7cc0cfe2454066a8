// internal/txengine/engine.go
// Package txengine implements the CS Timing Engine (§4.C): the hard
// real-time half-bit generator. In firmware this runs in a timer-update
// ISR; here it is a pure, allocation-free state machine whose Tick method
// is called once per half-bit by a driver (internal/csctl in production,
// or a test directly). Tick never blocks and never allocates on its hot
// path, honoring the "ISR is wait-free" invariant even though nothing
// here actually runs at interrupt priority.
package txengine

import (
	"sync/atomic"

	"github.com/nmradcc/DCC-tester/internal/packet"
	"github.com/nmradcc/DCC-tester/internal/params"
)

// state is the Engine's position in the §4.C state machine. "Data" covers
// the packet start bit, every byte's MSB-first bits, the inter-byte
// separator bits, and the final stop bit — all driven from one
// precomputed bit stream so the per-tick code has a single uniform path.
type state int

const (
	stateIdle state = iota
	statePreamble
	stateData
	stateCutout
	stateGap
)

// TotalCutoutUs is the lumped BiDi cutout hold duration, per the NMRA
// S-9.3.2 default cited in §9's open ambiguity note: the cutout window
// (TCS through TTS4) is not parameterized anywhere in the source this
// spec was distilled from, so we take the commonly published ~454us total
// cutout width rather than splitting channel-1/channel-2 sub-windows.
const TotalCutoutUs = 454

// HalfPeriod is one timer-update tick's output: the auto-reload value (in
// microseconds) the Engine is programming for this half-bit, plus the
// track-drive state a scope or the Decoder would observe.
type HalfPeriod struct {
	DurationUs uint16
	FirstBit   bool // true on the first half of a logical bit (scope trigger pin)
	TrackP     bool
	TrackN     bool
	BiDiEnable bool // BIDIR_EN pin
	BrEnable   bool // BR_ENABLE pin (booster output enable)
	Halted     bool // true once the Engine has fully stopped (timer disabled)
}

// Engine is the Timing Engine (§4.C).
type Engine struct {
	queue *PacketQueue

	override atomic.Pointer[OverrideMap]
	pending  atomic.Pointer[params.TimingConfig]

	// Everything below is touched only from the Tick goroutine; there is
	// exactly one reader/writer, matching the ISR's single-core,
	// non-reentrant execution model.
	running       bool
	stopRequested bool
	cfg           params.TimingConfig
	st            state
	preambleLeft  int
	bitPhase      int // 0 = first half, 1 = second half of the current logical bit
	phasePositive bool
	bitIndex      int // position within the current packet cycle, for override lookup

	nextPkt   packet.Packet // popped at Gap (or Enable), consumed when Data starts
	bitBuf    [1 + packet.MaxSize*9]bool
	bitStream []bool // built from nextPkt into bitBuf when Data begins
	streamPos int

	cutoutLeftUs int
}

// NewEngine constructs an Engine bound to the given packet queue.
func NewEngine(queue *PacketQueue) *Engine {
	return &Engine{queue: queue, st: stateIdle}
}

// Running reports whether the Engine has been enabled and has not yet
// fully halted.
func (e *Engine) Running() bool {
	return e.running
}

// Enable snapshots cfg and transitions Idle -> Preamble. Per §4.C: "On
// enable: snapshot TimingConfig, seed preamble_remaining = num_preamble*2,
// enter Preamble."
func (e *Engine) Enable(cfg params.TimingConfig) {
	e.cfg = cfg
	e.pending.Store(nil)
	e.override.Store(&OverrideMap{})
	e.running = true
	e.stopRequested = false
	e.popNextPacket()
	e.enterPreamble()
}

// SetPendingConfig installs cfg to take effect at the next inter-packet
// boundary (Gap), never mid-packet.
func (e *Engine) SetPendingConfig(cfg params.TimingConfig) {
	c := cfg
	e.pending.Store(&c)
}

// SetOverride installs a new OverrideMap, visible to the ISR at the next
// tick (read once per Tick via atomic load, so updates land on the next
// bit boundary).
func (e *Engine) SetOverride(ov OverrideMap) {
	e.override.Store(&ov)
}

// Override returns the currently installed OverrideMap.
func (e *Engine) Override() OverrideMap {
	return *e.override.Load()
}

// ResetOverride clears the OverrideMap.
func (e *Engine) ResetOverride() {
	e.override.Store(&OverrideMap{})
}

// RequestStop asks the Engine to complete the current packet's stop bit,
// emit one final cutout if configured, and then halt. It is not
// synchronous: keep calling Tick until HalfPeriod.Halted is true.
func (e *Engine) RequestStop() {
	e.stopRequested = true
}

func (e *Engine) popNextPacket() {
	if p, ok := e.queue.TryPop(); ok {
		e.nextPkt = p
		return
	}
	e.nextPkt = packet.IdlePacket()
}

func (e *Engine) enterPreamble() {
	e.st = statePreamble
	e.preambleLeft = int(e.cfg.NumPreamble) * 2
	e.bitPhase = 0
	e.phasePositive = true
}

// buildBitStream expands a packet into its post-preamble logical-bit
// sequence: a leading start bit (0), each byte's 8 bits MSB-first, an
// inter-byte separator bit (0) between bytes, and a trailing stop bit (1).
// It appends into dst[:0], so a dst with capacity 1+packet.MaxSize*9 is
// reused without allocating.
func buildBitStream(dst []bool, p packet.Packet) []bool {
	stream := dst[:0]
	stream = append(stream, false) // packet start bit
	for i := 0; i < p.Len(); i++ {
		b := p.At(i)
		for bit := 7; bit >= 0; bit-- {
			stream = append(stream, (b>>uint(bit))&1 != 0)
		}
		if i < p.Len()-1 {
			stream = append(stream, false) // byte separator
		}
	}
	stream = append(stream, true) // stop bit
	return stream
}

func (e *Engine) bitDurationUs(logicalOne bool) uint16 {
	if logicalOne {
		return uint16(e.cfg.Bit1DurationUs)
	}
	return uint16(e.cfg.Bit0DurationUs)
}

// Tick advances the state machine by exactly one half-period and returns
// the programmed output for it. It must be called once per timer-update
// interrupt in production use.
func (e *Engine) Tick() HalfPeriod {
	switch e.st {
	case stateIdle:
		return HalfPeriod{Halted: true}
	case stateCutout:
		return e.tickCutout()
	case stateGap:
		e.resolveGap()
		return e.Tick()
	}

	logicalOne := e.currentBitValue()
	us := e.bitDurationUs(logicalOne)
	delta := e.override.Load().delta(e.bitIndex, !logicalOne, e.cfg.Bit0DurationUs, e.phasePositive)
	adjusted := int32(us) + delta
	if adjusted < 1 {
		adjusted = 1
	}

	hp := HalfPeriod{
		DurationUs: uint16(adjusted),
		FirstBit:   e.bitPhase == 0 && e.cfg.TriggerFirstBit,
		TrackP:     e.phasePositive,
		TrackN:     !e.phasePositive,
		BrEnable:   true,
	}

	e.advance()
	return hp
}

func (e *Engine) currentBitValue() bool {
	if e.st == statePreamble {
		return true
	}
	return e.bitStream[e.streamPos]
}

// advance moves the bit/byte/state counters forward after one half-period
// has been emitted.
func (e *Engine) advance() {
	e.phasePositive = !e.phasePositive

	if e.st == statePreamble {
		e.preambleLeft--
	}

	if e.bitPhase == 0 {
		e.bitPhase = 1
		return
	}
	// Second half of the bit just completed.
	e.bitPhase = 0
	e.bitIndex++

	switch e.st {
	case statePreamble:
		if e.preambleLeft <= 0 {
			e.bitStream = buildBitStream(e.bitBuf[:0], e.nextPkt)
			e.streamPos = 0
			e.st = stateData
		}
	case stateData:
		e.streamPos++
		if e.streamPos >= len(e.bitStream) {
			e.enterAfterPacket()
		}
	}
}

// enterAfterPacket runs once the stop bit's second half-period has been
// emitted: begin the BiDi cutout if BiDi is enabled (also when a stop was
// requested, so a stopping Engine emits one final cutout), otherwise go
// straight to Gap.
func (e *Engine) enterAfterPacket() {
	if cfg := e.pending.Load(); cfg != nil {
		// Config changes land at the inter-packet boundary, never mid-packet.
		e.cfg = *cfg
		e.pending.Store(nil)
	}
	if e.cfg.BiDiEnable {
		e.st = stateCutout
		e.cutoutLeftUs = TotalCutoutUs
		return
	}
	e.st = stateGap
}

func (e *Engine) tickCutout() HalfPeriod {
	const quantumUs = 58 // one tick's worth of cutout hold, arbitrary but fixed
	step := quantumUs
	if e.cutoutLeftUs < step {
		step = e.cutoutLeftUs
	}
	e.cutoutLeftUs -= step
	hp := HalfPeriod{
		DurationUs: uint16(step),
		TrackP:     false,
		TrackN:     false,
		BiDiEnable: true,
		BrEnable:   false,
	}
	if e.cutoutLeftUs <= 0 {
		e.st = stateGap
	}
	return hp
}

// resolveGap dequeues the next packet (or substitutes the idle packet),
// clears the per-packet bit index, and re-enters Preamble; or, if a stop
// was requested, halts the Engine entirely.
func (e *Engine) resolveGap() {
	if e.stopRequested {
		e.running = false
		e.stopRequested = false
		e.st = stateIdle
		e.bitIndex = 0
		e.override.Store(&OverrideMap{}) // §3: OverrideMap is cleared whenever the CS stops
		return
	}
	e.popNextPacket()
	e.bitIndex = 0
	e.enterPreamble()
}
