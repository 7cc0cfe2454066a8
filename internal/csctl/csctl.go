// internal/csctl/csctl.go
// Package csctl implements the CS Controller Task (§4.E): the
// Stopped/Running state machine that owns the Timing Engine, drives its
// Tick loop in real time, and exposes the mutable configuration surface
// the RPC layer pokes ("takes effect at next packet boundary"). The state
// is a single running flag guarded by a mutex rather than a coroutine
// parked on a semaphore; there are no separate Starting or Stopping
// states and no condition variable: Start returns once the tick goroutine
// is launched, and Stop blocks until that goroutine has halted.
package csctl

import (
	"sync"
	"time"

	"github.com/nmradcc/DCC-tester/internal/packet"
	"github.com/nmradcc/DCC-tester/internal/params"
	"github.com/nmradcc/DCC-tester/internal/rpcerr"
	"github.com/nmradcc/DCC-tester/internal/txengine"
)

// Mode selects one of the four test-loop behaviors (§4.E).
type Mode int

const (
	ModeCustom Mode = 0 // wait for command_station_transmit_packet
	ModeBasic  Mode = 1 // F0 on/off + forward/reverse ramp to step 42
	ModeEStop  Mode = 2 // headlight + speed 60, broadcast e-stop, loop
	ModeRamp   Mode = 3 // speed ramp 0->126->0, both directions
)

// ValidMode reports whether m is one of the four defined loop selectors.
func ValidMode(m int) bool {
	return m >= 0 && m <= 3
}

// DAC is the analog output the controller drives with the BiDi comparator
// threshold at every start (internal/feedback provides the real
// implementation; tests use a fake).
type DAC interface {
	Write(counts uint16) error
}

// PacketAddr is the fixed decoder address the built-in test loops exercise.
// A real bench setup points this at the DUT under test; it is not
// configurable over RPC, matching the upstream test-loop behavior.
const PacketAddr uint16 = 3

// CustomSlot is the single-packet staging area filled by
// command_station_load_packet and fired by command_station_transmit_packet.
type CustomSlot struct {
	Bytes     []byte
	Count     uint32
	DelayMs   uint32
	Loaded    bool
	Triggered bool
}

// Controller is the CS Controller Task.
type Controller struct {
	mu sync.Mutex

	pm  *params.Manager
	dac DAC

	running bool
	mode    Mode
	slot    CustomSlot

	engine *txengine.Engine
	queue  *txengine.PacketQueue

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Controller bound to the given Parameter Manager and BiDi
// threshold DAC. dac may be nil (e.g. a host with no analog feedback board).
func New(pm *params.Manager, dac DAC) *Controller {
	return &Controller{pm: pm, dac: dac}
}

// Running reports whether the CS is currently transmitting.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start flips Stopped -> Running: per §4.E/F, "returns false [error] if
// already running". It snapshots the current TimingConfig fresh off the
// Parameter Manager, honoring the "fully re-read TimingConfig" restart
// guarantee (§5 Ordering guarantees).
func (c *Controller) Start(mode int) error {
	if !ValidMode(mode) {
		return rpcerr.InvalidArgf("loop mode %d not in 0..3", mode)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return rpcerr.Busyf("command station already running")
	}

	policy := txengine.DropNewest
	if Mode(mode) == ModeCustom {
		policy = txengine.ErrorOnFull
	}
	c.queue = txengine.NewPacketQueue(8, policy)
	c.engine = txengine.NewEngine(c.queue)

	cfg := c.pm.Get()
	if c.dac != nil {
		if err := c.dac.Write(cfg.BiDiDAC); err != nil {
			c.mu.Unlock()
			return rpcerr.HardwareFaultf("bidi threshold dac: %v", err)
		}
	}
	c.engine.Enable(cfg)
	c.mode = Mode(mode)
	c.slot = CustomSlot{}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh, engine := c.stopCh, c.doneCh, c.engine
	c.mu.Unlock()

	go c.tickLoop(engine, doneCh)
	if Mode(mode) != ModeCustom {
		go c.driveTestLoop(Mode(mode), stopCh)
	}
	return nil
}

// Stop flips Running -> Stopped: per §4.E/F, "returns false [error] if not
// running". It asks the Engine to finish the in-flight packet and halt,
// then blocks until the tick goroutine confirms teardown — "re-acquires
// its own semaphore" in the spec's coroutine language.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return rpcerr.Busyf("command station not running")
	}
	engine := c.engine
	doneCh := c.doneCh
	close(c.stopCh)
	c.mu.Unlock()

	engine.RequestStop()
	<-doneCh

	c.mu.Lock()
	c.running = false
	c.queue.Drain()
	c.mu.Unlock()
	return nil
}

// tickLoop drives Engine.Tick once per half-period in real time, sleeping
// the returned duration, until the Engine reports it has fully halted.
func (c *Controller) tickLoop(e *txengine.Engine, done chan struct{}) {
	defer close(done)
	for {
		hp := e.Tick()
		if hp.Halted {
			return
		}
		if hp.DurationUs > 0 {
			time.Sleep(time.Duration(hp.DurationUs) * time.Microsecond)
		}
	}
}

// LoadPacket fills the CustomSlot with raw wire bytes, overwriting any
// prior load and clearing the triggered flag.
func (c *Controller) LoadPacket(bytes []byte) (int, error) {
	if len(bytes) < 1 || len(bytes) > packet.MaxSize {
		return 0, rpcerr.InvalidArgf("packet length %d out of range 1..%d", len(bytes), packet.MaxSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot.Bytes = append([]byte(nil), bytes...)
	c.slot.Loaded = true
	c.slot.Triggered = false
	return len(c.slot.Bytes), nil
}

// TransmitPacket arms the loaded CustomSlot for count repetitions, delayMs
// apart, enqueued onto the live packet queue. It requires mode 0 (custom)
// and a prior LoadPacket call.
func (c *Controller) TransmitPacket(count, delayMs uint32) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return rpcerr.Busyf("command station not running")
	}
	if c.mode != ModeCustom {
		c.mu.Unlock()
		return rpcerr.InvalidArgf("transmit_packet requires loop mode 0 (custom), got %d", c.mode)
	}
	if !c.slot.Loaded {
		c.mu.Unlock()
		return rpcerr.InvalidArgf("no packet loaded: call command_station_load_packet first")
	}
	if count == 0 {
		count = 1
	}
	if delayMs == 0 {
		delayMs = 100
	}
	p, err := packet.FromRawBytes(c.slot.Bytes)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.slot.Count = count
	c.slot.DelayMs = delayMs
	c.slot.Triggered = true
	queue, stopCh := c.queue, c.stopCh
	c.mu.Unlock()

	go func() {
		for i := uint32(0); i < count; i++ {
			if err := queue.Push(p); err != nil {
				return // ErrorOnFull policy: backpressure, abandon the rest
			}
			if i+1 < count {
				select {
				case <-stopCh:
					return
				case <-time.After(time.Duration(delayMs) * time.Millisecond):
				}
			}
		}
	}()
	return nil
}

// Slot returns a copy of the current CustomSlot state.
func (c *Controller) Slot() CustomSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot
}

// SetPendingConfig forwards a new TimingConfig to the live Engine, taking
// effect at the next inter-packet boundary; a no-op if the CS is stopped.
func (c *Controller) SetPendingConfig(cfg params.TimingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		c.engine.SetPendingConfig(cfg)
	}
}

// SetOverride forwards an OverrideMap update to the live Engine.
func (c *Controller) SetOverride(ov txengine.OverrideMap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return rpcerr.Busyf("command station not running")
	}
	c.engine.SetOverride(ov)
	return nil
}

// ResetOverride clears the live Engine's OverrideMap.
func (c *Controller) ResetOverride() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return rpcerr.Busyf("command station not running")
	}
	c.engine.ResetOverride()
	return nil
}

// Override returns the live Engine's OverrideMap, or the zero value if the
// CS is stopped.
func (c *Controller) Override() txengine.OverrideMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return txengine.OverrideMap{}
	}
	return c.engine.Override()
}

// Mode returns the currently active (or most recently active) loop mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// driveTestLoop runs the built-in packet generators for modes 1..3 until
// stopCh closes (Stop was called).
func (c *Controller) driveTestLoop(mode Mode, stopCh chan struct{}) {
	switch mode {
	case ModeBasic:
		c.loopBasic(stopCh)
	case ModeEStop:
		c.loopEStop(stopCh)
	case ModeRamp:
		c.loopRamp(stopCh)
	}
}

func (c *Controller) push(p packet.Packet) {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q != nil {
		_ = q.Push(p)
	}
}

func sleepOrStop(stopCh chan struct{}, d time.Duration) bool {
	select {
	case <-stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// loopBasic: F0 on/off + forward/reverse ramp to step 42, 2s per step.
func (c *Controller) loopBasic(stopCh chan struct{}) {
	fn := true
	forward := true
	for step := int8(0); ; step = (step + 1) % 43 {
		if fp, err := packet.MakeFunctionGroup(PacketAddr, 1, boolBit(fn)); err == nil {
			c.push(fp)
		}
		if sp, err := packet.MakeSpeed(PacketAddr, step, forward); err == nil {
			c.push(sp)
		}
		fn = !fn
		if step == 42 {
			forward = !forward
		}
		if !sleepOrStop(stopCh, 2*time.Second) {
			return
		}
	}
}

// loopEStop: headlight on, speed 60, broadcast e-stop, repeat.
func (c *Controller) loopEStop(stopCh chan struct{}) {
	for {
		if fp, err := packet.MakeFunctionGroup(PacketAddr, 1, 0x10); err == nil { // F0 on
			c.push(fp)
		}
		if sp, err := packet.MakeSpeed(PacketAddr, 60, true); err == nil {
			c.push(sp)
		}
		if !sleepOrStop(stopCh, 500*time.Millisecond) {
			return
		}
		if ep, err := packet.MakeBroadcastEmergencyStop(); err == nil {
			c.push(ep)
		}
		if !sleepOrStop(stopCh, 500*time.Millisecond) {
			return
		}
	}
}

// loopRamp: speed ramp 0->126->0, forward then reverse, 500ms per step.
func (c *Controller) loopRamp(stopCh chan struct{}) {
	forward := true
	for {
		for step := int8(0); step <= 126; step++ {
			if sp, err := packet.MakeSpeed(PacketAddr, step, forward); err == nil {
				c.push(sp)
			}
			if !sleepOrStop(stopCh, 500*time.Millisecond) {
				return
			}
		}
		for step := int8(126); step >= 0; step-- {
			if sp, err := packet.MakeSpeed(PacketAddr, step, forward); err == nil {
				c.push(sp)
			}
			if !sleepOrStop(stopCh, 500*time.Millisecond) {
				return
			}
		}
		forward = !forward
	}
}

func boolBit(on bool) uint8 {
	if on {
		return 0x10 // F0 bit within the group-1 instruction's D bits
	}
	return 0x00
}
