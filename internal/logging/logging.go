// internal/logging/logging.go
// Package logging wraps the standard library's log.Logger with a
// per-subsystem prefix, matching the teacher's plain log.Printf style
// throughout its driver and orchestrator code (no structured/leveled
// logging library appears anywhere in the corpus; see DESIGN.md).
package logging

import (
	"log"
	"os"
)

// Logger is a thin per-subsystem wrapper around *log.Logger.
type Logger struct {
	*log.Logger
}

// New returns a Logger prefixing every line with "[subsystem] ".
func New(subsystem string) *Logger {
	return &Logger{log.New(os.Stderr, "["+subsystem+"] ", log.LstdFlags)}
}

// Default subsystem loggers shared across the station's packages.
var (
	CS       = New("csctl")
	Decoder  = New("decctl")
	RPC      = New("rpc")
	Transport = New("transport")
	Supervisor = New("supervisor")
)
