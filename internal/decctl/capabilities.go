// internal/decctl/capabilities.go
package decctl

import (
	"log"

	"github.com/nmradcc/DCC-tester/internal/rxcapture"
)

// Capabilities replaces the virtual-dispatch direction/speed/function/CV
// hooks the original decoder used, per §9's redesign note: a plain
// capability set handed to the Controller, observing decoded events. The
// Controller remains the sole owner of cv_table (§3 DecoderState); these
// hooks are an observability surface, not an alternate storage path.
type Capabilities struct {
	OnDirection func(addr uint16, forward bool)
	OnSpeed     func(addr uint16, step int8)
	OnFunction  func(addr uint16, group int, bits uint8)
	OnCVRead    func(cv uint16, value uint8, ok bool)
	OnCVWrite   func(cv uint16, value uint8)
	OnBiDiTx    func(datagram rxcapture.BiDiDatagram)
}

// DefaultCapabilities returns a Capabilities whose hooks log every event
// via the standard logger, per §9: "the system provides a default
// implementation logging to the RPC observability surface".
func DefaultCapabilities() Capabilities {
	return Capabilities{
		OnDirection: func(addr uint16, forward bool) {
			log.Printf("decoder: addr=%d direction forward=%v", addr, forward)
		},
		OnSpeed: func(addr uint16, step int8) {
			log.Printf("decoder: addr=%d speed step=%d", addr, step)
		},
		OnFunction: func(addr uint16, group int, bits uint8) {
			log.Printf("decoder: addr=%d function group=%d bits=%#02x", addr, group, bits)
		},
		OnCVRead: func(cv uint16, value uint8, ok bool) {
			log.Printf("decoder: cv %d read -> %d ok=%v", cv, value, ok)
		},
		OnCVWrite: func(cv uint16, value uint8) {
			log.Printf("decoder: cv %d write <- %d", cv, value)
		},
		OnBiDiTx: func(datagram rxcapture.BiDiDatagram) {
			log.Printf("decoder: bidi tx %x", datagram.Bytes())
		},
	}
}
