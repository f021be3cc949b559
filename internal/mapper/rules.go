package mapper

import (
	"math"

	"example.com/backstage/services/telemetry/internal/models"
)

// Transform converts a raw value before it is written. Returning false skips the property.
type Transform func(v any) (any, bool)

// Rule maps one source field (dot path) to a target property
type Rule struct {
	SourceField    string
	TargetProperty string
	Unit           string
	Transform      Transform
}

// RuleTable holds the ordered rules per equipment type
type RuleTable map[models.EquipmentType][]Rule

// Numeric keeps numeric values rounded to two decimals and drops everything else
func Numeric(v any) (any, bool) {
	f, ok := models.ToFloat(v)
	if !ok {
		return nil, false
	}
	return math.Round(f*100) / 100, true
}

// Text keeps string values only
func Text(v any) (any, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// Ratio converts a 0..1 fraction into a percentage; values above 1 are assumed to be percentages already
func Ratio(v any) (any, bool) {
	f, ok := models.ToFloat(v)
	if !ok {
		return nil, false
	}
	if f <= 1 {
		f *= 100
	}
	return math.Round(f*100) / 100, true
}

// DefaultRules are the property mappings for the simulator payloads.
// Nested paths come before their flat counterparts so the flat key wins when both are sent.
func DefaultRules() RuleTable {
	common := []Rule{
		{SourceField: "powerConsumption", TargetProperty: "Power_Consumption", Unit: "W", Transform: Numeric},
		{SourceField: "uptime", TargetProperty: "Uptime", Unit: "%", Transform: Numeric},
	}
	with := func(rules ...Rule) []Rule {
		return append(rules, common...)
	}

	return RuleTable{
		models.EquipmentAntenna: with(
			Rule{SourceField: "temperature", TargetProperty: "Temperature", Unit: "°C", Transform: Numeric},
			Rule{SourceField: "signal.rssi", TargetProperty: "RSSI", Unit: "dBm", Transform: Numeric},
			Rule{SourceField: "rssi", TargetProperty: "RSSI", Unit: "dBm", Transform: Numeric},
			Rule{SourceField: "signal.snr", TargetProperty: "SNR", Unit: "dB", Transform: Numeric},
			Rule{SourceField: "snr", TargetProperty: "SNR", Unit: "dB", Transform: Numeric},
			Rule{SourceField: "signal.vswr", TargetProperty: "VSWR", Transform: Numeric},
			Rule{SourceField: "vswr", TargetProperty: "VSWR", Transform: Numeric},
			Rule{SourceField: "tilt.electrical", TargetProperty: "Electrical_Tilt", Unit: "°", Transform: Numeric},
			Rule{SourceField: "tilt.mechanical", TargetProperty: "Mechanical_Tilt", Unit: "°", Transform: Numeric},
			Rule{SourceField: "azimuth", TargetProperty: "Azimuth", Unit: "°", Transform: Numeric},
		),
		models.EquipmentRRU: with(
			Rule{SourceField: "temperature", TargetProperty: "Temperature", Unit: "°C", Transform: Numeric},
			Rule{SourceField: "temperature.internal", TargetProperty: "Internal_Temperature", Unit: "°C", Transform: Numeric},
			Rule{SourceField: "temperature.pa", TargetProperty: "PA_Temperature", Unit: "°C", Transform: Numeric},
			Rule{SourceField: "power.output", TargetProperty: "Output_Power", Unit: "W", Transform: Numeric},
			Rule{SourceField: "availability", TargetProperty: "Availability", Unit: "%", Transform: Numeric},
			Rule{SourceField: "vswr", TargetProperty: "VSWR", Transform: Numeric},
			Rule{SourceField: "carriers", TargetProperty: "Active_Carriers", Transform: Numeric},
			Rule{SourceField: "firmware", TargetProperty: "Firmware_Version", Transform: Text},
		),
		models.EquipmentMicrolink: with(
			Rule{SourceField: "temperature", TargetProperty: "Temperature", Unit: "°C", Transform: Numeric},
			Rule{SourceField: "linkQuality", TargetProperty: "Link_Quality", Unit: "%", Transform: Numeric},
			Rule{SourceField: "rsl", TargetProperty: "Received_Signal_Level", Unit: "dBm", Transform: Numeric},
			Rule{SourceField: "capacity", TargetProperty: "Capacity", Unit: "Mbps", Transform: Numeric},
			Rule{SourceField: "modulation", TargetProperty: "Modulation", Transform: Text},
			Rule{SourceField: "utilization", TargetProperty: "Utilization", Unit: "%", Transform: Ratio},
			Rule{SourceField: "ber", TargetProperty: "Bit_Error_Rate"},
		),
	}
}
