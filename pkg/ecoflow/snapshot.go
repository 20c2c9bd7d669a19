package ecoflow

import (
	"math"
	"strconv"
)

// chgState values reported by the BMS (bms_emsStatus.chgState):
//
//	0 = Idle / not charging
//	1 = Constant-current charging
//	2 = Constant-voltage charging
//	3 = Constant-current discharging
//	4 = Discharging
const (
	ChgStateIdle          = 0
	ChgStateCCCharging    = 1
	ChgStateCVCharging    = 2
	ChgStateCCDischarging = 3
	ChgStateDischarging   = 4
)

// DeviceState is a frozen snapshot of everything currently known about the
// device. Every field is nil until the corresponding telemetry key has been
// seen at least once.
type DeviceState struct {
	SOC           *float64 `json:"soc,omitempty"`
	WattsIn       *float64 `json:"watts_in,omitempty"`
	WattsOut      *float64 `json:"watts_out,omitempty"`
	SolarWatts    *float64 `json:"solar_watts,omitempty"`
	ACInWatts     *float64 `json:"ac_in_watts,omitempty"`
	ACOutWatts    *float64 `json:"ac_out_watts,omitempty"`
	ACInVoltage   *float64 `json:"ac_in_voltage,omitempty"`
	ACInFreq      *float64 `json:"ac_in_freq,omitempty"`
	ACOutVoltage  *float64 `json:"ac_out_voltage,omitempty"`
	ACOutFreq     *float64 `json:"ac_out_freq,omitempty"`
	ACOutEnabled  *bool    `json:"ac_out_enabled,omitempty"`
	USBOutEnabled *bool    `json:"usb_out_enabled,omitempty"`
	CarOutEnabled *bool    `json:"car_out_enabled,omitempty"`
	USB1Watts     *float64 `json:"usb1_watts,omitempty"`
	USB2Watts     *float64 `json:"usb2_watts,omitempty"`
	QCUSB1Watts   *float64 `json:"qc_usb1_watts,omitempty"`
	QCUSB2Watts   *float64 `json:"qc_usb2_watts,omitempty"`
	TypeC1Watts   *float64 `json:"typec1_watts,omitempty"`
	TypeC2Watts   *float64 `json:"typec2_watts,omitempty"`
	CarWatts      *float64 `json:"car_watts,omitempty"`
	ChgState      *int     `json:"chg_state,omitempty"`
	ChgRemainMin  *float64 `json:"chg_remain_min,omitempty"`
	DsgRemainMin  *float64 `json:"dsg_remain_min,omitempty"`
	InvTempC      *float64 `json:"inv_temp_c,omitempty"`
	BattTempC     *float64 `json:"batt_temp_c,omitempty"`
	BattSOH       *float64 `json:"batt_soh,omitempty"`
	BattCycles    *float64 `json:"batt_cycles,omitempty"`
	BattRemainCap *float64 `json:"batt_remain_cap,omitempty"`
	BattFullCap   *float64 `json:"batt_full_cap,omitempty"`
	MaxChargeSOC  *float64 `json:"max_charge_soc,omitempty"`
	MinDsgSOC     *float64 `json:"min_dsg_soc,omitempty"`
	IsCharging    *bool    `json:"is_charging,omitempty"`
}

// BuildDeviceState builds a snapshot from a flat telemetry mapping. Coercion
// failure of a single field leaves that field nil, never fails the snapshot.
func BuildDeviceState(flat map[string]any, wattsThreshold float64) DeviceState {
	f := func(key string) *float64 {
		return coerceFloat(flat[key])
	}
	b := func(key string) *bool {
		return coerceBool(flat[key])
	}
	return DeviceState{
		SOC:           f("pd.soc"),
		WattsIn:       f("pd.wattsInSum"),
		WattsOut:      f("pd.wattsOutSum"),
		SolarWatts:    f("mppt.inWatts"),
		ACInWatts:     f("inv.inputWatts"),
		ACOutWatts:    f("inv.outputWatts"),
		ACInVoltage:   f("inv.acInVol"),
		ACInFreq:      f("inv.acInFreq"),
		ACOutVoltage:  f("inv.invOutVol"),
		ACOutFreq:     f("inv.invOutFreq"),
		ACOutEnabled:  b("inv.cfgAcEnabled"),
		USBOutEnabled: b("pd.dcOutState"),
		CarOutEnabled: b("pd.carState"),
		USB1Watts:     f("pd.usb1Watts"),
		USB2Watts:     f("pd.usb2Watts"),
		QCUSB1Watts:   f("pd.qcUsb1Watts"),
		QCUSB2Watts:   f("pd.qcUsb2Watts"),
		TypeC1Watts:   f("pd.typec1Watts"),
		TypeC2Watts:   f("pd.typec2Watts"),
		CarWatts:      f("pd.carWatts"),
		ChgState:      coerceInt(flat["bms_emsStatus.chgState"]),
		ChgRemainMin:  f("bms_emsStatus.chgRemainTime"),
		DsgRemainMin:  f("bms_emsStatus.dsgRemainTime"),
		InvTempC:      f("inv.outTemp"),
		BattTempC:     f("bms_bmsStatus.temp"),
		BattSOH:       f("bms_bmsStatus.soh"),
		BattCycles:    f("bms_bmsStatus.cycles"),
		BattRemainCap: f("bms_bmsStatus.remainCap"),
		BattFullCap:   f("bms_bmsStatus.fullCap"),
		MaxChargeSOC:  f("bms_emsStatus.maxChargeSoc"),
		MinDsgSOC:     f("bms_emsStatus.minDsgSoc"),
		IsCharging:    IsCharging(flat, wattsThreshold),
	}
}

// HasData reports whether any core telemetry has arrived yet. Consumers use
// it to tell "no data" apart from "all zero".
func (s DeviceState) HasData() bool {
	return s.SOC != nil || s.WattsIn != nil
}

// IsCharging determines the charging state from a flat telemetry mapping.
// Returns nil when there is not enough data to decide.
//
// The firmware-reported chgState code wins when present: it reflects the
// BMS state machine, while the watts fallback is noisy near zero.
func IsCharging(flat map[string]any, wattsThreshold float64) *bool {
	if raw, ok := flat["bms_emsStatus.chgState"]; ok {
		if code := coerceInt(raw); code != nil {
			charging := *code == ChgStateCCCharging || *code == ChgStateCVCharging
			return &charging
		}
		// unparseable code, fall through to the watts heuristic
	}
	watts := coerceFloat(flat["pd.wattsInSum"])
	if watts == nil {
		watts = coerceFloat(flat["inv.inputWatts"])
	}
	if watts != nil {
		charging := *watts > wattsThreshold
		return &charging
	}
	return nil
}

// NormalizeVoltage fixes up raw voltage values, which the firmware reports
// in inconsistent units depending on the field:
//
//	millivolts   (e.g. 253054 => 253 V) : divide by 1000
//	tenths of V  (e.g. 2300   => 230 V) : divide by 10
//	actual volts (e.g. 230)             : as-is
//
// Applied at render time only; the cache always holds raw values since the
// unit convention is not stable across firmware versions.
func NormalizeVoltage(v float64) float64 {
	switch {
	case v > 10000:
		return v / 1000
	case v > 1000:
		return v / 10
	default:
		return v
	}
}

// ChgStateLabel returns a human label for a chgState code.
func ChgStateLabel(state *int) string {
	if state == nil {
		return "unknown"
	}
	switch *state {
	case ChgStateIdle:
		return "idle"
	case ChgStateCCCharging:
		return "cc_charging"
	case ChgStateCVCharging:
		return "cv_charging"
	case ChgStateCCDischarging:
		return "cc_discharging"
	case ChgStateDischarging:
		return "discharging"
	default:
		return "unknown"
	}
}

func coerceFloat(value any) *float64 {
	switch v := value.(type) {
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case uint64:
		f := float64(v)
		return &f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func coerceInt(value any) *int {
	switch v := value.(type) {
	case int:
		return &v
	case int64:
		i := int(v)
		return &i
	case float64:
		if v != math.Trunc(v) {
			return nil
		}
		i := int(v)
		return &i
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		return &i
	default:
		return nil
	}
}

// coerceBool interprets integer-valued telemetry flags: nonzero means true.
func coerceBool(value any) *bool {
	f := coerceFloat(value)
	if f == nil {
		return nil
	}
	b := *f != 0
	return &b
}
