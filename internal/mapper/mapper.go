package mapper

import (
	"time"

	"example.com/backstage/services/telemetry/internal/models"
)

const (
	PropHealthScore      = "Health_Score"
	PropPerformanceIndex = "Performance_Index"
	PropStatus           = "Status"
)

// signalProps lists the properties used as the display signal, by preference
var signalProps = []string{"RSSI", "Received_Signal_Level", "SNR", "Output_Power", "Link_Quality"}

// Mapper turns raw telemetry records into property updates.
// It holds no mutable state; a single instance is safe for concurrent use.
type Mapper struct {
	rules RuleTable
}

// New returns a mapper with the default rule table
func New() *Mapper {
	return NewWithRules(DefaultRules())
}

// NewWithRules returns a mapper with a custom rule table
func NewWithRules(rules RuleTable) *Mapper {
	return &Mapper{rules: rules}
}

// Map produces the property update for one record of a catalogued element
func (m *Mapper) Map(rec models.TelemetryRecord, entry models.CatalogEntry, spec models.EquipmentSpec) models.PropertyUpdate {
	status := ClassifyStatus(rec)

	props := map[string]any{
		"Device_ID":             rec.DeviceID,
		"Last_Update_Timestamp": rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"Sequence_Number":       rec.SequenceNumber,
		"Equipment_Type":        string(spec.EquipmentType),
		"Vendor":                spec.Vendor,
		"Model":                 spec.Model,
		"Platform":              spec.Platform,
		"Sector":                spec.Sector,
		PropStatus:              string(status),
	}
	units := map[string]string{}

	for _, r := range m.rules[spec.EquipmentType] {
		v, ok := rec.Value(r.SourceField)
		if !ok || v == nil {
			continue
		}
		if r.Transform != nil {
			if v, ok = r.Transform(v); !ok {
				continue
			}
		}
		props[r.TargetProperty] = v
		if r.Unit != "" {
			units[r.TargetProperty] = r.Unit
		}
	}

	props[PropHealthScore] = HealthScore(rec, spec.EquipmentType)
	props[PropPerformanceIndex] = PerformanceIndex(rec, spec.EquipmentType)
	units[PropHealthScore] = "%"
	units[PropPerformanceIndex] = "%"

	return models.PropertyUpdate{
		ElementID:  entry.ElementID,
		Properties: props,
		Units:      units,
		Timestamp:  rec.Timestamp,
	}
}

// Snapshot projects a property update into the compact display form
func Snapshot(update models.PropertyUpdate, label string) models.TooltipSnapshot {
	p := update.Properties
	snap := models.TooltipSnapshot{
		ElementID:    update.ElementID,
		DisplayLabel: label,
		LastUpdate:   update.Timestamp,
		Temperature:  firstFloat(p, "Temperature", "Internal_Temperature"),
		Power:        firstFloat(p, "Power_Consumption"),
		Signal:       firstFloat(p, signalProps...),
	}
	if s, ok := p[PropStatus].(string); ok {
		snap.Status = models.Status(s)
	}
	if f := firstFloat(p, PropHealthScore); f != nil {
		snap.HealthScore = *f
	}
	if f := firstFloat(p, PropPerformanceIndex); f != nil {
		snap.PerformanceIndex = *f
	}
	snap.Vendor, _ = p["Vendor"].(string)
	snap.Model, _ = p["Model"].(string)
	return snap
}

// HistoryPoint extracts the tracked series values from a snapshot
func HistoryPoint(snap models.TooltipSnapshot) models.HistoryPoint {
	health := snap.HealthScore
	return models.HistoryPoint{
		Timestamp:        snap.LastUpdate,
		Temperature:      snap.Temperature,
		PowerConsumption: snap.Power,
		SignalStrength:   snap.Signal,
		HealthScore:      &health,
	}
}

func firstFloat(props map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if f, ok := models.ToFloat(props[k]); ok {
			return &f
		}
	}
	return nil
}
