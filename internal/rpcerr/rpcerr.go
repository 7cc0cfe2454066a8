// internal/rpcerr/rpcerr.go
// Package rpcerr defines the typed error kinds carried in RPC error
// responses and returned internally across subsystem boundaries (§7).
package rpcerr

import "fmt"

// Kind names one of the error kinds from §7 ERROR HANDLING DESIGN.
type Kind string

const (
	InvalidJSON     Kind = "InvalidJson"
	Malformed       Kind = "Malformed"
	UnknownMethod   Kind = "UnknownMethod"
	InvalidArgument Kind = "InvalidArgument"
	Busy            Kind = "Busy"
	HardwareFault   Kind = "HardwareFault"
	CrcMismatch     Kind = "CrcMismatch"
	MagicMismatch   Kind = "MagicMismatch"
	VersionMismatch Kind = "VersionMismatch"
)

// Error carries a Kind plus a human-readable message, the shape every
// error above the ISR boundary is reported in (response object or internal
// return code).
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgf is shorthand for the most common error kind.
func InvalidArgf(format string, args ...interface{}) *Error {
	return New(InvalidArgument, format, args...)
}

// Busyf is shorthand for a start/stop-on-wrong-state error.
func Busyf(format string, args ...interface{}) *Error {
	return New(Busy, format, args...)
}

// HardwareFaultf is shorthand for ADC/flash failures.
func HardwareFaultf(format string, args ...interface{}) *Error {
	return New(HardwareFault, format, args...)
}
