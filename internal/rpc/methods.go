// internal/rpc/methods.go
// Method set wiring (§4.G table) plus the additive get_diagnostics method
// (SPEC_FULL.md Expansion C).
package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nmradcc/DCC-tester/internal/csctl"
	"github.com/nmradcc/DCC-tester/internal/decctl"
	"github.com/nmradcc/DCC-tester/internal/feedback"
	"github.com/nmradcc/DCC-tester/internal/gpioctl"
	"github.com/nmradcc/DCC-tester/internal/logging"
	"github.com/nmradcc/DCC-tester/internal/params"
	"github.com/nmradcc/DCC-tester/internal/rpcerr"
	"github.com/nmradcc/DCC-tester/internal/txengine"
)

// RTC is the board real-time clock surface get/set_rtc_datetime drive.
type RTC interface {
	Now() time.Time
	Set(t time.Time) error
}

// Diagnostics is an optional observability source for get_diagnostics;
// nil disables the method's extra counters.
type Diagnostics interface {
	Snapshot() map[string]interface{}
}

// Deps bundles every subsystem the RPC method set dispatches into.
type Deps struct {
	CS     *csctl.Controller
	Dec    *decctl.Controller
	PM     *params.Manager
	FB     *feedback.Board
	GPIO   *gpioctl.Board
	RTC    RTC
	Diag   Diagnostics
	Reboot func()
}

// RegisterAll installs the full §4.G method table (plus get_diagnostics)
// onto d.
func RegisterAll(d *Dispatcher, deps Deps) error {
	handlers := map[string]Handler{
		"echo":                                   handleEcho,
		"command_station_start":                  handleCSStart(deps.CS),
		"command_station_stop":                   handleCSStop(deps.CS),
		"command_station_load_packet":            handleCSLoadPacket(deps.CS),
		"command_station_transmit_packet":        handleCSTransmitPacket(deps.CS),
		"command_station_params":                 handleCSParams(deps.PM),
		"command_station_get_params":             handleCSGetParams(deps.PM, deps.CS),
		"command_station_packet_override":        handleCSPacketOverride(deps.CS),
		"command_station_packet_reset_override":  handleCSResetOverride(deps.CS),
		"decoder_start":                           handleDecStart(deps.Dec),
		"decoder_stop":                            handleDecStop(deps.Dec),
		"parameters_save":                         handleParamsSave(deps.PM),
		"parameters_restore":                      handleParamsRestore(deps.PM),
		"parameters_factory_reset":                handleParamsFactoryReset(deps.PM),
		"get_voltage_feedback_mv":                 handleVoltageFeedback(deps.FB),
		"get_current_feedback_ma":                 handleCurrentFeedback(deps.FB),
		"get_gpio_input":                          handleGPIOInput(deps.GPIO),
		"get_gpio_inputs":                         handleGPIOInputs(deps.GPIO),
		"configure_gpio_output":                   handleGPIOConfigureOutput(deps.GPIO),
		"set_gpio_output":                         handleGPIOSetOutput(deps.GPIO),
		"get_rtc_datetime":                        handleGetRTC(deps.RTC),
		"set_rtc_datetime":                        handleSetRTC(deps.RTC),
		"system_reboot":                           handleSystemReboot(deps.Reboot),
		"get_diagnostics":                         handleGetDiagnostics(deps.Diag),
	}
	for name, fn := range handlers {
		if err := d.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func handleEcho(params json.RawMessage) (map[string]interface{}, error) {
	var v interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "echo: %v", err)
		}
	}
	return map[string]interface{}{"echo": v}, nil
}

func handleCSStart(cs *csctl.Controller) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		var req struct {
			Loop int `json:"loop"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "command_station_start: %v", err)
		}
		if err := cs.Start(req.Loop); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleCSStop(cs *csctl.Controller) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if err := cs.Stop(); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleCSLoadPacket(cs *csctl.Controller) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		var req struct {
			Bytes []int `json:"bytes"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "command_station_load_packet: %v", err)
		}
		pkt := make([]byte, len(req.Bytes))
		for i, v := range req.Bytes {
			if v < 0 || v > 0xFF {
				return nil, rpcerr.New(rpcerr.Malformed, "command_station_load_packet: byte %d out of range: %d", i, v)
			}
			pkt[i] = byte(v)
		}
		n, err := cs.LoadPacket(pkt)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"length": n}, nil
	}
}

func handleCSTransmitPacket(cs *csctl.Controller) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		req := struct {
			Count   uint32 `json:"count"`
			DelayMs uint32 `json:"delay_ms"`
		}{Count: 1, DelayMs: 100}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, rpcerr.New(rpcerr.Malformed, "command_station_transmit_packet: %v", err)
			}
		}
		batchID := uuid.New().String()
		if err := cs.TransmitPacket(req.Count, req.DelayMs); err != nil {
			logging.CS.Printf("batch %s (count=%d delay_ms=%d) failed: %v", batchID, req.Count, req.DelayMs, err)
			return nil, err
		}
		logging.CS.Printf("batch %s (count=%d delay_ms=%d) armed", batchID, req.Count, req.DelayMs)
		return map[string]interface{}{"batch_id": batchID}, nil
	}
}

func handleCSParams(pm *params.Manager) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		var patch params.Patch
		if err := json.Unmarshal(raw, &patch); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "command_station_params: %v", err)
		}
		if err := pm.SetPatch(patch); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleCSGetParams(pm *params.Manager, cs *csctl.Controller) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		cfg := pm.Get()
		ov := cs.Override()
		return map[string]interface{}{
			"num_preamble":      cfg.NumPreamble,
			"bit1_duration_us":  cfg.Bit1DurationUs,
			"bit0_duration_us":  cfg.Bit0DurationUs,
			"bidi_enable":       cfg.BiDiEnable,
			"trigger_first_bit": cfg.TriggerFirstBit,
			"bidi_dac":          cfg.BiDiDAC,
			"override_mask":     ov.Mask,
			"override_deltap":   ov.DeltaP,
			"override_deltan":   ov.DeltaN,
		}, nil
	}
}

func handleCSPacketOverride(cs *csctl.Controller) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		var req struct {
			Mask   uint64 `json:"zerobit_override_mask"`
			DeltaP int32  `json:"zerobit_deltaP"`
			DeltaN int32  `json:"zerobit_deltaN"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "command_station_packet_override: %v", err)
		}
		if err := cs.SetOverride(txengine.OverrideMap{Mask: req.Mask, DeltaP: req.DeltaP, DeltaN: req.DeltaN}); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleCSResetOverride(cs *csctl.Controller) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if err := cs.ResetOverride(); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleDecStart(dec *decctl.Controller) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if err := dec.Start(); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleDecStop(dec *decctl.Controller) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if err := dec.Stop(); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleParamsSave(pm *params.Manager) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if err := pm.Save(); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleParamsRestore(pm *params.Manager) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if err := pm.Restore(); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleParamsFactoryReset(pm *params.Manager) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if err := pm.FactoryReset(); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleVoltageFeedback(fb *feedback.Board) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		req := struct {
			NumSamples    int `json:"num_samples"`
			SampleDelayMs int `json:"sample_delay_ms"`
		}{NumSamples: 1}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, rpcerr.New(rpcerr.Malformed, "get_voltage_feedback_mv: %v", err)
			}
		}
		mv, err := fb.ReadVoltageMV(context.Background(), req.NumSamples, time.Duration(req.SampleDelayMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"voltage_mv": mv}, nil
	}
}

func handleCurrentFeedback(fb *feedback.Board) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		req := struct {
			NumSamples    int `json:"num_samples"`
			SampleDelayMs int `json:"sample_delay_ms"`
		}{NumSamples: 1}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, rpcerr.New(rpcerr.Malformed, "get_current_feedback_ma: %v", err)
			}
		}
		ma, err := fb.ReadCurrentMA(context.Background(), req.NumSamples, time.Duration(req.SampleDelayMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"current_ma": ma}, nil
	}
}

func handleGPIOInput(gp *gpioctl.Board) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		var req struct {
			Pin int `json:"pin"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "get_gpio_input: %v", err)
		}
		high, err := gp.ReadInput(req.Pin)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"value": boolToInt(high)}, nil
	}
}

func handleGPIOInputs(gp *gpioctl.Board) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		return map[string]interface{}{"value": gp.ReadAllInputs()}, nil
	}
}

func handleGPIOConfigureOutput(gp *gpioctl.Board) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		var req struct {
			Pin   int `json:"pin"`
			State int `json:"state"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "configure_gpio_output: %v", err)
		}
		if err := gp.Configure(req.Pin, true); err != nil {
			return nil, err
		}
		if err := gp.SetOutput(req.Pin, req.State != 0); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func handleGPIOSetOutput(gp *gpioctl.Board) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		var req struct {
			Pin   int `json:"pin"`
			State int `json:"state"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "set_gpio_output: %v", err)
		}
		if req.State != 0 && req.State != 1 {
			return nil, rpcerr.InvalidArgf("state %d must be 0 or 1", req.State)
		}
		if err := gp.SetOutput(req.Pin, req.State != 0); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func handleGetRTC(rtc RTC) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if rtc == nil {
			return nil, rpcerr.HardwareFaultf("no rtc configured on this host")
		}
		t := rtc.Now()
		return map[string]interface{}{
			"year": t.Year(), "month": int(t.Month()), "day": t.Day(),
			"hour": t.Hour(), "minute": t.Minute(), "second": t.Second(),
		}, nil
	}
}

func handleSetRTC(rtc RTC) Handler {
	return func(raw json.RawMessage) (map[string]interface{}, error) {
		if rtc == nil {
			return nil, rpcerr.HardwareFaultf("no rtc configured on this host")
		}
		var req struct {
			Year, Month, Day, Hour, Minute, Second int
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, rpcerr.New(rpcerr.Malformed, "set_rtc_datetime: %v", err)
		}
		t := time.Date(req.Year, time.Month(req.Month), req.Day, req.Hour, req.Minute, req.Second, 0, time.UTC)
		if err := rtc.Set(t); err != nil {
			return nil, rpcerr.HardwareFaultf("rtc set: %v", err)
		}
		return nil, nil
	}
}

// handleSystemReboot responds ok, then triggers Reboot asynchronously: the
// response must be emitted before the destructive action that invalidates
// the transport (§4.G).
func handleSystemReboot(reboot func()) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if reboot != nil {
			go func() {
				time.Sleep(50 * time.Millisecond)
				reboot()
			}()
		}
		return nil, nil
	}
}

func handleGetDiagnostics(diag Diagnostics) Handler {
	return func(json.RawMessage) (map[string]interface{}, error) {
		if diag == nil {
			return map[string]interface{}{}, nil
		}
		return diag.Snapshot(), nil
	}
}
