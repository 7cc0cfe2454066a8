// internal/params/manager_test.go
package params

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmradcc/DCC-tester/internal/rpcerr"
)

func newTestManager(t *testing.T) (*Manager, *MemFlash) {
	t.Helper()
	flash := NewMemFlash()
	m := NewManager(flash)
	require.NoError(t, m.Init(false))
	return m, flash
}

func TestInitOnBlankFlashLoadsDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	require.Equal(t, DefaultTimingConfig(), m.Get())
	require.False(t, m.Dirty())
}

func TestRoundTripOfParameters(t *testing.T) {
	m, _ := newTestManager(t)

	preamble := uint8(20)
	require.NoError(t, m.SetPatch(Patch{NumPreamble: &preamble}))
	require.True(t, m.Dirty())
	require.NoError(t, m.Save())
	require.False(t, m.Dirty())

	// Simulate a reboot: fresh Manager over the same flash.
	rebooted := NewManager(mustReadFlash(t, m))
	require.NoError(t, rebooted.Init(false))
	require.Equal(t, preamble, rebooted.Get().NumPreamble)
}

// mustReadFlash snapshots the underlying MemFlash so a "rebooted" Manager
// can be constructed over the same persisted bytes.
func mustReadFlash(t *testing.T, m *Manager) Flash {
	t.Helper()
	raw, err := m.flash.Read()
	require.NoError(t, err)
	mf := NewMemFlash()
	require.NoError(t, mf.Program(raw))
	return mf
}

func TestCRCRejection(t *testing.T) {
	m, flash := newTestManager(t)
	require.NoError(t, m.Save())

	flash.CorruptBit(offPayload+2, 0)

	fresh := NewManager(flash)
	err := fresh.Restore()
	require.Error(t, err)
	var rerr *rpcerr.Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, rpcerr.CrcMismatch, rerr.Kind)
}

func TestFactoryReset(t *testing.T) {
	m, _ := newTestManager(t)
	preamble := uint8(22)
	require.NoError(t, m.SetPatch(Patch{NumPreamble: &preamble}))
	require.NoError(t, m.Save())

	require.NoError(t, m.FactoryReset())
	require.Equal(t, DefaultTimingConfig(), m.Get())
}

func TestSetPatchRejectsInvalidValue(t *testing.T) {
	m, _ := newTestManager(t)
	bad := uint8(10)
	err := m.SetPatch(Patch{NumPreamble: &bad})
	require.Error(t, err)
	var rerr *rpcerr.Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, rpcerr.InvalidArgument, rerr.Kind)
	// shadow must be unchanged
	require.NotEqual(t, bad, m.Get().NumPreamble)
}

func TestMagicMismatchOnBlankSector(t *testing.T) {
	flash := NewMemFlash() // all 0xFF, never programmed
	m := NewManager(flash)
	err := m.Restore()
	require.Error(t, err)
	var rerr *rpcerr.Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, rpcerr.MagicMismatch, rerr.Kind)
}
