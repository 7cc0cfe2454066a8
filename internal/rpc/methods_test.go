// internal/rpc/methods_test.go
package rpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nmradcc/DCC-tester/internal/csctl"
	"github.com/nmradcc/DCC-tester/internal/decctl"
	"github.com/nmradcc/DCC-tester/internal/feedback"
	"github.com/nmradcc/DCC-tester/internal/gpioctl"
	"github.com/nmradcc/DCC-tester/internal/params"
	"github.com/nmradcc/DCC-tester/internal/rxcapture"
)

type fakeDAC struct{ last uint16 }

func (f *fakeDAC) Write(counts uint16) error { f.last = counts; return nil }

type fakeRTC struct{ now time.Time }

func (f *fakeRTC) Now() time.Time       { return f.now }
func (f *fakeRTC) Set(t time.Time) error { f.now = t; return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *csctl.Controller, *decctl.Controller, *fakeRTC, *bool) {
	t.Helper()
	pm := params.NewManager(params.NewMemFlash())
	require.NoError(t, pm.Init(true))

	cs := csctl.New(pm, &fakeDAC{})
	dec := decctl.New(rxcapture.DefaultWindows(), decctl.DefaultCapabilities())
	rtc := &fakeRTC{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	rebooted := false

	d := NewDispatcher()
	require.NoError(t, RegisterAll(d, Deps{
		CS:     cs,
		Dec:    dec,
		PM:     pm,
		FB:     feedback.New(nil, nil),
		GPIO:   gpioctl.New(),
		RTC:    rtc,
		Reboot: func() { rebooted = true },
	}))
	return d, cs, dec, rtc, &rebooted
}

func call(t *testing.T, d *Dispatcher, method string, params interface{}) map[string]interface{} {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)
	req, err := json.Marshal(map[string]interface{}{"method": method, "params": json.RawMessage(p)})
	require.NoError(t, err)
	out := d.HandleLine(req)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	return resp
}

func TestEchoRoundTrips(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)
	resp := call(t, d, "echo", map[string]interface{}{"hello": "world"})
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, map[string]interface{}{"hello": "world"}, resp["echo"])
}

func TestUnknownMethod(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)
	resp := call(t, d, "not_a_real_method", map[string]interface{}{})
	require.Equal(t, "error", resp["status"])
	require.Equal(t, "Unknown method", resp["message"])
}

func TestMalformedRequestMissingParams(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)
	out := d.HandleLine([]byte(`{"method":"echo"}`))
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Equal(t, "error", resp["status"])
	require.Equal(t, "Malformed request", resp["message"])
}

func TestInvalidJSON(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)
	out := d.HandleLine([]byte(`not json`))
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Equal(t, "error", resp["status"])
	require.Equal(t, "Invalid JSON", resp["message"])
}

func TestCommandStationStartStopBusySymmetry(t *testing.T) {
	d, cs, _, _, _ := newTestDispatcher(t)

	resp := call(t, d, "command_station_start", map[string]interface{}{"loop": 0})
	require.Equal(t, "ok", resp["status"])
	require.True(t, cs.Running())

	resp = call(t, d, "command_station_start", map[string]interface{}{"loop": 0})
	require.Equal(t, "error", resp["status"])

	resp = call(t, d, "command_station_stop", map[string]interface{}{})
	require.Equal(t, "ok", resp["status"])

	resp = call(t, d, "command_station_stop", map[string]interface{}{})
	require.Equal(t, "error", resp["status"])
}

func TestCommandStationStartRejectsInvalidLoop(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)
	resp := call(t, d, "command_station_start", map[string]interface{}{"loop": 99})
	require.Equal(t, "error", resp["status"])
}

func TestLoadAndTransmitCustomPacket(t *testing.T) {
	d, cs, _, _, _ := newTestDispatcher(t)
	require.Equal(t, "ok", call(t, d, "command_station_start", map[string]interface{}{"loop": 0})["status"])

	resp := call(t, d, "command_station_load_packet", map[string]interface{}{"bytes": []int{0x03, 0x3F, 0x00}})
	require.Equal(t, "ok", resp["status"])
	require.True(t, cs.Slot().Loaded)

	resp = call(t, d, "command_station_transmit_packet", map[string]interface{}{"count": 2, "delay_ms": 1})
	require.Equal(t, "ok", resp["status"])
	batchID, _ := resp["batch_id"].(string)
	require.NotEmpty(t, batchID)
}

func TestLoadPacketAcceptsLiteralJSONByteArray(t *testing.T) {
	d, cs, _, _, _ := newTestDispatcher(t)

	raw := json.RawMessage(`{"method":"command_station_load_packet","params":{"bytes":[3,63,42,22]}}`)
	out := d.HandleLine(raw)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Equal(t, "ok", resp["status"])
	require.True(t, cs.Slot().Loaded)
	require.Equal(t, float64(4), resp["length"])
}

func TestLoadPacketRejectsOutOfRangeByte(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)

	raw := json.RawMessage(`{"method":"command_station_load_packet","params":{"bytes":[3,300]}}`)
	out := d.HandleLine(raw)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Equal(t, "error", resp["status"])
}

func TestParametersSaveRestoreFactoryReset(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)

	preamble := float64(20)
	resp := call(t, d, "command_station_params", map[string]interface{}{"num_preamble": preamble})
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, "ok", call(t, d, "parameters_save", map[string]interface{}{})["status"])
	require.Equal(t, "ok", call(t, d, "parameters_restore", map[string]interface{}{})["status"])

	resp = call(t, d, "command_station_get_params", map[string]interface{}{})
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, preamble, resp["num_preamble"])

	require.Equal(t, "ok", call(t, d, "parameters_factory_reset", map[string]interface{}{})["status"])
	resp = call(t, d, "command_station_get_params", map[string]interface{}{})
	require.Equal(t, float64(params.DefaultTimingConfig().NumPreamble), resp["num_preamble"])
}

func TestGPIOInputUnboundPinFails(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)
	resp := call(t, d, "get_gpio_input", map[string]interface{}{"pin": 1})
	require.Equal(t, "error", resp["status"]) // unbound pin
}

func TestRTCGetSetRoundTrip(t *testing.T) {
	d, _, _, rtc, _ := newTestDispatcher(t)
	resp := call(t, d, "get_rtc_datetime", map[string]interface{}{})
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, float64(2026), resp["year"])

	resp = call(t, d, "set_rtc_datetime", map[string]interface{}{
		"year": 2030, "month": 6, "day": 15, "hour": 8, "minute": 0, "second": 0,
	})
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, 2030, rtc.now.Year())
}

func TestSystemRebootRespondsBeforeRebooting(t *testing.T) {
	d, _, _, _, rebooted := newTestDispatcher(t)
	resp := call(t, d, "system_reboot", map[string]interface{}{})
	require.Equal(t, "ok", resp["status"])
	require.False(t, *rebooted) // deferred: response must precede the side effect
	time.Sleep(100 * time.Millisecond)
	require.True(t, *rebooted)
}

func TestDecoderStartStopBusySymmetry(t *testing.T) {
	d, _, dec, _, _ := newTestDispatcher(t)
	require.Equal(t, "ok", call(t, d, "decoder_start", map[string]interface{}{})["status"])
	require.True(t, dec.Running())
	require.Equal(t, "error", call(t, d, "decoder_start", map[string]interface{}{})["status"])
	require.Equal(t, "ok", call(t, d, "decoder_stop", map[string]interface{}{})["status"])
	require.Equal(t, "error", call(t, d, "decoder_stop", map[string]interface{}{})["status"])
}
