// internal/supervisor/supervisor.go
// Package supervisor owns the test station's lifecycle: it constructs the
// CS Controller, Decoder Controller, Parameter Manager, RPC Dispatcher,
// and diagnostics source, and wires them together, mirroring the
// teacher's Orchestrator type in cmd/driver/hasher-host/main.go (a single
// struct holding every subsystem, with explicit New/Shutdown functions
// rather than an implicit init()).
package supervisor

import (
	"sync"
	"time"

	"github.com/nmradcc/DCC-tester/internal/csctl"
	"github.com/nmradcc/DCC-tester/internal/decctl"
	"github.com/nmradcc/DCC-tester/internal/feedback"
	"github.com/nmradcc/DCC-tester/internal/gpioctl"
	"github.com/nmradcc/DCC-tester/internal/hoststats"
	"github.com/nmradcc/DCC-tester/internal/params"
	"github.com/nmradcc/DCC-tester/internal/rpc"
	"github.com/nmradcc/DCC-tester/internal/rxcapture"
)

// Supervisor bundles every subsystem the test station core runs.
type Supervisor struct {
	PM         *params.Manager
	CS         *csctl.Controller
	Dec        *decctl.Controller
	FB         *feedback.Board
	GPIO       *gpioctl.Board
	Dispatcher *rpc.Dispatcher

	startTime time.Time

	mu      sync.Mutex
	reboots int
}

// Deps lets the caller substitute real periph.io-backed hardware pins for
// the defaults (nil feedback pins, no DAC) used on a host with no analog
// board wired.
type Deps struct {
	Flash         params.Flash
	BiDiDAC       csctl.DAC
	VoltagePin    feedback.VoltagePin
	CurrentPin    feedback.CurrentPin
	RTC           rpc.RTC
	ForceDefaults bool
}

// New constructs and wires a Supervisor. It does not start either
// controller; the command_station_start and decoder_start RPC methods do.
func New(deps Deps) (*Supervisor, error) {
	flash := deps.Flash
	if flash == nil {
		flash = params.NewMemFlash()
	}
	pm := params.NewManager(flash)
	if err := pm.Init(deps.ForceDefaults); err != nil {
		return nil, err
	}

	cs := csctl.New(pm, deps.BiDiDAC)
	dec := decctl.New(rxcapture.DefaultWindows(), decctl.DefaultCapabilities())
	fb := feedback.New(deps.VoltagePin, deps.CurrentPin)
	gp := gpioctl.New()

	sv := &Supervisor{PM: pm, CS: cs, Dec: dec, FB: fb, GPIO: gp, startTime: time.Now()}

	d := rpc.NewDispatcher()
	if err := rpc.RegisterAll(d, rpc.Deps{
		CS:     cs,
		Dec:    dec,
		PM:     pm,
		FB:     fb,
		GPIO:   gp,
		RTC:    deps.RTC,
		Diag:   sv,
		Reboot: sv.onReboot,
	}); err != nil {
		return nil, err
	}
	sv.Dispatcher = d
	return sv, nil
}

func (sv *Supervisor) onReboot() {
	sv.mu.Lock()
	sv.reboots++
	sv.mu.Unlock()
}

// Snapshot implements diag.Source and rpc.Diagnostics: a JSON/structpb
// compatible map of the station's current state.
func (sv *Supervisor) Snapshot() map[string]interface{} {
	snap := hoststats.Read(0, "")
	counters := sv.Dec.Counters()
	sv.mu.Lock()
	reboots := sv.reboots
	sv.mu.Unlock()

	return map[string]interface{}{
		"uptime_sec":      time.Since(sv.startTime).Seconds(),
		"cs_running":      sv.CS.Running(),
		"decoder_running": sv.Dec.Running(),
		"packets_decoded": float64(counters.PacketsDecoded),
		"framing_errors":  float64(counters.FramingErrors),
		"crc_drops":       float64(counters.CRCDrops),
		"reboots":         float64(reboots),
		"cpu_percent":     snap.CPUPercent,
		"mem_used_pct":    snap.MemUsedPct,
	}
}

// Shutdown stops any running controllers, best-effort.
func (sv *Supervisor) Shutdown() {
	if sv.CS.Running() {
		_ = sv.CS.Stop()
	}
	if sv.Dec.Running() {
		_ = sv.Dec.Stop()
	}
}
