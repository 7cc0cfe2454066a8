// internal/hoststats/hoststats.go
// Package hoststats snapshots host CPU/memory/uptime for get_diagnostics
// and the TUI monitor, grounded on the teacher's use of gopsutil in its
// own resource-usage status line (internal/cli/ui/ui.go).
package hoststats

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time host resource reading.
type Snapshot struct {
	CPUPercent  float64
	MemUsedPct  float64
	UptimeSec   uint64
	GoVersion   string
	NumGoroutine int
}

// Read samples current CPU/memory/uptime. A failed sub-read leaves that
// field zero rather than aborting the whole snapshot — diagnostics is a
// best-effort surface, not a correctness-critical one.
func Read(numGoroutine int, goVersion string) Snapshot {
	var s Snapshot
	s.NumGoroutine = numGoroutine
	s.GoVersion = goVersion

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemUsedPct = vm.UsedPercent
	}
	if info, err := host.Info(); err == nil {
		s.UptimeSec = info.Uptime
	}
	return s
}

// UptimeDuration converts UptimeSec to a time.Duration for display.
func (s Snapshot) UptimeDuration() time.Duration {
	return time.Duration(s.UptimeSec) * time.Second
}
