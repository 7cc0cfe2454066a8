// internal/txengine/override.go
package txengine

// MinBit0TimingUs is DCC_TX_MIN_BIT_0_TIMING: the override is only applied
// to a logical-0 half-period when the configured bit-0 duration is at or
// above this floor, so a compliance test that is already driving an
// out-of-tolerance short "0" doesn't get a second distortion stacked on
// top by the override path.
const MinBit0TimingUs = 90

// OverrideMap is the RAM-only per-bit timing override (§3 OverrideMap). It
// is written by the CS Controller task (single writer) and read by the
// Timing Engine's tick path (single reader); the map is cleared whenever
// the CS stops.
type OverrideMap struct {
	Mask   uint64
	DeltaP int32
	DeltaN int32
}

// delta returns the adjustment for bit index k of the current packet
// cycle, where isZero is true when the bit is a logical 0, for the given
// phase; it returns 0 when the override does not apply to that bit.
func (o OverrideMap) delta(k int, isZero bool, cfgBit0Us uint8, phasePositive bool) int32 {
	if !isZero || cfgBit0Us < MinBit0TimingUs {
		return 0
	}
	if k < 0 || k >= 64 || o.Mask&(1<<uint(k)) == 0 {
		return 0
	}
	if phasePositive {
		return o.DeltaP
	}
	return o.DeltaN
}
