// internal/params/timing.go
package params

import "github.com/nmradcc/DCC-tester/internal/rpcerr"

// TimingConfig holds the CS timing parameters (§3 TimingConfig). Values are
// validated when set (Manager.SetPatch); invalid values never reach
// the ISR through the normal parameter path. The Timing Engine itself will
// happily emit an out-of-tolerance value if it is poked directly through
// the compliance-override path (§4.C "Edge cases and policies") — that
// path does not go through this validator.
type TimingConfig struct {
	NumPreamble     uint8 `json:"num_preamble"`
	Bit1DurationUs  uint8 `json:"bit1_duration_us"`
	Bit0DurationUs  uint8 `json:"bit0_duration_us"`
	BiDiEnable      bool  `json:"bidi_enable"`
	TriggerFirstBit bool  `json:"trigger_first_bit"`
	BiDiDAC         uint16 `json:"bidi_dac"` // u12, 0..4095
}

// DefaultTimingConfig returns the compiled-in default configuration used by
// init(false) on restore failure and by factory_reset.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		NumPreamble:     17,
		Bit1DurationUs:  58,
		Bit0DurationUs:  100,
		BiDiEnable:      true,
		TriggerFirstBit: false,
		BiDiDAC:         2048,
	}
}

// Validate enforces the invariants from §3: num_preamble >= 14,
// bit1_duration_us in 55..61, bit0_duration_us in the runtime u8 range
// (95..255, since the spec's 9900us upper bound cannot fit a u8 and is
// clamped to the type's runtime range), and bidi_dac fitting u12.
func (c TimingConfig) Validate() error {
	if c.NumPreamble < 14 {
		return rpcerr.InvalidArgf("num_preamble %d must be >= 14", c.NumPreamble)
	}
	if c.Bit1DurationUs < 55 || c.Bit1DurationUs > 61 {
		return rpcerr.InvalidArgf("bit1_duration_us %d out of range 55..61", c.Bit1DurationUs)
	}
	if c.Bit0DurationUs < 95 {
		return rpcerr.InvalidArgf("bit0_duration_us %d out of range 95..255", c.Bit0DurationUs)
	}
	if c.BiDiDAC > 4095 {
		return rpcerr.InvalidArgf("bidi_dac %d exceeds u12 range 0..4095", c.BiDiDAC)
	}
	return nil
}

// Patch holds an optional subset of TimingConfig fields, as accepted by the
// command_station_params RPC method (§4.G: "subset of TimingConfig").
type Patch struct {
	NumPreamble     *uint8  `json:"num_preamble,omitempty"`
	Bit1DurationUs  *uint8  `json:"bit1_duration_us,omitempty"`
	Bit0DurationUs  *uint8  `json:"bit0_duration_us,omitempty"`
	BiDiEnable      *bool   `json:"bidi_enable,omitempty"`
	TriggerFirstBit *bool   `json:"trigger_first_bit,omitempty"`
	BiDiDAC         *uint16 `json:"bidi_dac,omitempty"`
}

// Apply returns a copy of c with every non-nil field of p overlaid.
func (c TimingConfig) Apply(p Patch) TimingConfig {
	out := c
	if p.NumPreamble != nil {
		out.NumPreamble = *p.NumPreamble
	}
	if p.Bit1DurationUs != nil {
		out.Bit1DurationUs = *p.Bit1DurationUs
	}
	if p.Bit0DurationUs != nil {
		out.Bit0DurationUs = *p.Bit0DurationUs
	}
	if p.BiDiEnable != nil {
		out.BiDiEnable = *p.BiDiEnable
	}
	if p.TriggerFirstBit != nil {
		out.TriggerFirstBit = *p.TriggerFirstBit
	}
	if p.BiDiDAC != nil {
		out.BiDiDAC = *p.BiDiDAC
	}
	return out
}
