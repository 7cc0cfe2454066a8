// internal/params/manager.go
package params

import (
	"encoding/binary"
	"hash/crc32"
	"sync"

	"github.com/nmradcc/DCC-tester/internal/rpcerr"
)

// Magic is the little-endian magic value stamped at sector offset 0x00.
const Magic uint32 = 0x50415241

// Version is the current payload schema version, stamped at offset 0x04.
// Manager.Restore rejects a sector whose version does not match.
const Version uint32 = 1

// Header offsets per §6 FLASH LAYOUT.
const (
	offMagic    = 0x00
	offVersion  = 0x04
	offCRC32    = 0x08
	offDataSize = 0x0C
	offPayload  = 0x10
)

// payload is the fixed struct layout stamped at offset 0x10: TimingConfig
// plus the "network/system defaults" the spec's PersistentParamBlock
// description bundles alongside it. Field order and sizes are explicit so
// the on-flash layout is stable across builds; the bytes of the 32-byte
// Hostname beyond the null terminator are explicit padding.
type payload struct {
	Timing          TimingConfig
	StationID       uint32
	Hostname        [32]byte
	DHCPEnable      bool
	_pad0           [3]byte // explicit padding to the next 4-byte boundary
	StaticIPv4      uint32
	GatewayIPv4     uint32
	NetmaskIPv4     uint32
}

const payloadSize = 1 /*NumPreamble*/ + 1 /*Bit1*/ + 1 /*Bit0*/ + 1 /*BiDiEnable*/ + 1 /*TriggerFirstBit*/ + 2 /*BiDiDAC*/ +
	4 /*StationID*/ + 32 /*Hostname*/ + 1 /*DHCPEnable*/ + 3 /*pad*/ + 4 + 4 + 4

func encodePayload(p payload) []byte {
	buf := make([]byte, payloadSize)
	i := 0
	buf[i] = p.Timing.NumPreamble
	i++
	buf[i] = p.Timing.Bit1DurationUs
	i++
	buf[i] = p.Timing.Bit0DurationUs
	i++
	buf[i] = boolByte(p.Timing.BiDiEnable)
	i++
	buf[i] = boolByte(p.Timing.TriggerFirstBit)
	i++
	binary.LittleEndian.PutUint16(buf[i:], p.Timing.BiDiDAC)
	i += 2
	binary.LittleEndian.PutUint32(buf[i:], p.StationID)
	i += 4
	copy(buf[i:i+32], p.Hostname[:])
	i += 32
	buf[i] = boolByte(p.DHCPEnable)
	i++
	i += 3 // explicit padding
	binary.LittleEndian.PutUint32(buf[i:], p.StaticIPv4)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], p.GatewayIPv4)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], p.NetmaskIPv4)
	i += 4
	return buf
}

func decodePayload(buf []byte) (payload, error) {
	if len(buf) < payloadSize {
		return payload{}, rpcerr.New(rpcerr.HardwareFault, "payload truncated: %d < %d", len(buf), payloadSize)
	}
	var p payload
	i := 0
	p.Timing.NumPreamble = buf[i]
	i++
	p.Timing.Bit1DurationUs = buf[i]
	i++
	p.Timing.Bit0DurationUs = buf[i]
	i++
	p.Timing.BiDiEnable = buf[i] != 0
	i++
	p.Timing.TriggerFirstBit = buf[i] != 0
	i++
	p.Timing.BiDiDAC = binary.LittleEndian.Uint16(buf[i:])
	i += 2
	p.StationID = binary.LittleEndian.Uint32(buf[i:])
	i += 4
	copy(p.Hostname[:], buf[i:i+32])
	i += 32
	p.DHCPEnable = buf[i] != 0
	i++
	i += 3
	p.StaticIPv4 = binary.LittleEndian.Uint32(buf[i:])
	i += 4
	p.GatewayIPv4 = binary.LittleEndian.Uint32(buf[i:])
	i += 4
	p.NetmaskIPv4 = binary.LittleEndian.Uint32(buf[i:])
	i += 4
	return p, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// crc32Of computes CRC-32 reflected, poly 0xEDB88320, init 0xFFFFFFFF,
// final XOR 0xFFFFFFFF over the payload only — this is exactly the
// standard library's crc32.IEEE table, so no third-party checksum library
// is wired here (see DESIGN.md).
func crc32Of(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Manager is the Parameter Manager (§4.B): an in-RAM shadow of
// TimingConfig plus a CRC-validated flash image, with at-most-one-writer
// discipline (callers serialize their own save requests; the Manager does
// not implicitly auto-save).
type Manager struct {
	mu      sync.Mutex
	flash   Flash
	shadow  TimingConfig
	sysdef  payload
	dirty   bool
}

// NewManager constructs a Manager bound to the given flash backend. Call
// Init before using it.
func NewManager(flash Flash) *Manager {
	return &Manager{flash: flash}
}

// Init loads persistent parameters. If forceDefaults is true, or if
// Restore fails for any reason, the compiled defaults are loaded and Init
// still reports success — "init(false) attempts restore(); on failure
// loads defaults and returns success" (§4.B).
func (m *Manager) Init(forceDefaults bool) error {
	if !forceDefaults {
		if err := m.Restore(); err == nil {
			return nil
		}
	}
	m.resetToDefaults()
	return nil
}

func (m *Manager) resetToDefaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadow = DefaultTimingConfig()
	m.sysdef = payload{Timing: m.shadow, StationID: 1}
	copy(m.sysdef.Hostname[:], "dcc-tester")
	m.dirty = false
}

// Get returns the current in-RAM TimingConfig shadow.
func (m *Manager) Get() TimingConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shadow
}

// SetPatch overlays p onto the shadow after validating the result. It
// marks the shadow dirty; callers must invoke Save to persist it.
func (m *Manager) SetPatch(p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.shadow.Apply(p)
	if err := next.Validate(); err != nil {
		return err
	}
	m.shadow = next
	m.sysdef.Timing = next
	m.dirty = true
	return nil
}

// Dirty reports whether the shadow has unsaved changes.
func (m *Manager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Save erases the dedicated sector and writes a fresh block. A failure
// leaves the RAM shadow dirty but unchanged (§7 propagation policy).
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sysdef.Timing = m.shadow
	body := encodePayload(m.sysdef)
	sum := crc32Of(body)

	block := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(block[offMagic:], Magic)
	binary.LittleEndian.PutUint32(block[offVersion:], Version)
	binary.LittleEndian.PutUint32(block[offCRC32:], sum)
	binary.LittleEndian.PutUint32(block[offDataSize:], uint32(len(body)))
	copy(block[offPayload:], body)

	if err := m.flash.Erase(); err != nil {
		return rpcerr.HardwareFaultf("flash erase: %v", err)
	}
	if err := m.flash.Program(block); err != nil {
		return rpcerr.HardwareFaultf("flash program: %v", err)
	}
	m.dirty = false
	return nil
}

// Restore re-hydrates the shadow from flash iff magic, version, data_size,
// and CRC all match; otherwise it fails and the shadow is left untouched.
func (m *Manager) Restore() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.flash.Read()
	if err != nil {
		return rpcerr.HardwareFaultf("flash read: %v", err)
	}
	if len(raw) < offPayload {
		return rpcerr.New(rpcerr.MagicMismatch, "sector too small")
	}

	magic := binary.LittleEndian.Uint32(raw[offMagic:])
	if magic != Magic {
		return rpcerr.New(rpcerr.MagicMismatch, "got 0x%08X want 0x%08X", magic, Magic)
	}
	version := binary.LittleEndian.Uint32(raw[offVersion:])
	if version != Version {
		return rpcerr.New(rpcerr.VersionMismatch, "got %d want %d", version, Version)
	}
	dataSize := binary.LittleEndian.Uint32(raw[offDataSize:])
	if int(dataSize) != payloadSize || offPayload+int(dataSize) > len(raw) {
		return rpcerr.New(rpcerr.MagicMismatch, "data_size %d invalid", dataSize)
	}
	wantCRC := binary.LittleEndian.Uint32(raw[offCRC32:])
	body := raw[offPayload : offPayload+int(dataSize)]
	gotCRC := crc32Of(body)
	if gotCRC != wantCRC {
		return rpcerr.New(rpcerr.CrcMismatch, "got 0x%08X want 0x%08X", gotCRC, wantCRC)
	}

	p, err := decodePayload(body)
	if err != nil {
		return err
	}
	m.sysdef = p
	m.shadow = p.Timing
	m.dirty = false
	return nil
}

// FactoryReset loads compiled defaults into the shadow and persists them
// immediately, matching S5 of §8 ("get_params equals compiled defaults").
func (m *Manager) FactoryReset() error {
	m.resetToDefaults()
	return m.Save()
}
