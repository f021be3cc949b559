package mapper

import (
	"math"

	"example.com/backstage/services/telemetry/internal/models"
)

const (
	overheatThreshold  = 70.0
	warmThreshold      = 50.0
	highPowerThreshold = 400.0
	degradedUptime     = 95.0
	fullUptime         = 99.0
	powerMargin        = 1.2
)

// alarmFlags are the payload keys that raise ALARM when truthy
var alarmFlags = []string{"alarm", "alarmActive", "fault", "vswrAlarm", "linkDown", "alarms.active"}

func temperature(rec models.TelemetryRecord) (float64, bool) {
	return rec.FirstFloat("temperature", "temperature.internal")
}

// ClassifyStatus applies the status rules in priority order; the first match wins
func ClassifyStatus(rec models.TelemetryRecord) models.Status {
	if t, ok := temperature(rec); ok && t > overheatThreshold {
		return models.StatusOverheating
	}
	if p, ok := rec.Float("powerConsumption"); ok && p > highPowerThreshold {
		return models.StatusHighPower
	}
	if u, ok := rec.Float("uptime"); ok && u < degradedUptime {
		return models.StatusDegraded
	}
	for _, flag := range alarmFlags {
		if rec.Truthy(flag) {
			return models.StatusAlarm
		}
	}
	return models.StatusOperational
}

// maxPower is the nominal consumption ceiling for an equipment type
func maxPower(t models.EquipmentType) float64 {
	switch t {
	case models.EquipmentMicrolink:
		return 100
	case models.EquipmentAntenna:
		return 150
	default:
		return 300
	}
}

// HealthScore derives a 0..100 score from temperature, power draw and uptime
func HealthScore(rec models.TelemetryRecord, t models.EquipmentType) float64 {
	score := 100.0
	if temp, ok := temperature(rec); ok {
		if temp > warmThreshold {
			score -= (temp - warmThreshold) * 2
		}
		if temp > overheatThreshold {
			score -= 20
		}
	}
	if p, ok := rec.Float("powerConsumption"); ok && p > powerMargin*maxPower(t) {
		score -= 15
	}
	if u, ok := rec.Float("uptime"); ok && u < fullUptime {
		score -= (fullUptime - u) * 2
	}
	return clamp(score)
}

// PerformanceIndex derives a 0..100 index from the type's key radio metric
func PerformanceIndex(rec models.TelemetryRecord, t models.EquipmentType) float64 {
	switch t {
	case models.EquipmentAntenna:
		var idx float64
		if snr, ok := rec.FirstFloat("snr", "signal.snr"); ok {
			idx += (snr / 25) * 50
		}
		if vswr, ok := rec.FirstFloat("vswr", "signal.vswr"); ok {
			idx += ((2 - vswr) / 1) * 50
		}
		return clamp(math.Min(100, idx))
	case models.EquipmentRRU:
		a, _ := rec.Float("availability")
		return clamp(a)
	case models.EquipmentMicrolink:
		q, _ := rec.Float("linkQuality")
		return clamp(q)
	default:
		return 0
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
