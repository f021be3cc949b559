package models

import (
	"time"
)

// EquipmentType identifies the family a piece of tower equipment belongs to
type EquipmentType string

const (
	EquipmentAntenna   EquipmentType = "antenna"
	EquipmentRRU       EquipmentType = "rru"
	EquipmentMicrolink EquipmentType = "microlink"
)

// Category is the catalog classification derived from a display label
type Category string

const (
	CategoryAntenna   Category = "Antenna"
	CategoryRRU       Category = "RRU"
	CategoryMicrolink Category = "Microlink"
	CategoryUnknown   Category = "Unknown"
)

// Status is the operational classification of one telemetry reading
type Status string

const (
	StatusOperational Status = "OPERATIONAL"
	StatusOverheating Status = "OVERHEATING"
	StatusHighPower   Status = "HIGH_POWER"
	StatusDegraded    Status = "DEGRADED"
	StatusAlarm       Status = "ALARM"
)

// EquipmentSpec is the static descriptor of a catalogued piece of equipment
type EquipmentSpec struct {
	ElementID     string        `json:"element_id" yaml:"element_id" validate:"required"`
	EquipmentType EquipmentType `json:"equipment_type" yaml:"equipment_type" validate:"equipment_type"`
	Platform      string        `json:"platform" yaml:"platform" validate:"required"`
	Sector        string        `json:"sector" yaml:"sector" validate:"required"`
	Position      string        `json:"position,omitempty" yaml:"position,omitempty"`
	Vendor        string        `json:"vendor" yaml:"vendor"`
	Model         string        `json:"model" yaml:"model"`
}

// CatalogEntry is one equipment element extracted from the asset model
type CatalogEntry struct {
	ElementID    string         `json:"element_id"`
	ClassName    string         `json:"class_name"`
	DisplayLabel string         `json:"display_label"`
	Category     Category       `json:"category"`
	ModelID      string         `json:"model_id"`
	Properties   map[string]any `json:"properties"`
}

// PropertyUpdate is the normalized property set produced for one element
type PropertyUpdate struct {
	ElementID  string            `json:"element_id"`
	Properties map[string]any    `json:"properties"`
	Units      map[string]string `json:"units,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// TooltipSnapshot is the compact projection consumers display for one element
type TooltipSnapshot struct {
	ElementID        string    `json:"element_id"`
	DisplayLabel     string    `json:"display_label"`
	Status           Status    `json:"status"`
	HealthScore      float64   `json:"health_score"`
	PerformanceIndex float64   `json:"performance_index"`
	Temperature      *float64  `json:"temperature,omitempty"`
	Power            *float64  `json:"power,omitempty"`
	Signal           *float64  `json:"signal,omitempty"`
	Vendor           string    `json:"vendor"`
	Model            string    `json:"model"`
	LastUpdate       time.Time `json:"last_update"`
}

// HistoryPoint is one sample in an element's rolling history window
type HistoryPoint struct {
	Timestamp        time.Time `json:"timestamp"`
	Temperature      *float64  `json:"temperature,omitempty"`
	PowerConsumption *float64  `json:"power_consumption,omitempty"`
	SignalStrength   *float64  `json:"signal_strength,omitempty"`
	HealthScore      *float64  `json:"health_score,omitempty"`
}

// SyncStatus reports the progress of the synchronization scheduler
type SyncStatus struct {
	IsRunning         bool      `json:"is_running"`
	LastSync          time.Time `json:"last_sync"`
	SuccessCount      int64     `json:"success_count"`
	ErrorCount        int64     `json:"error_count"`
	ElementsUpdated   int64     `json:"elements_updated"`
	CurrentBatch      int       `json:"current_batch"`
	UnmatchedRecords  int64     `json:"unmatched_records"`
	FetchFailures     int64     `json:"fetch_failures"`
	PersistenceErrors int64     `json:"persistence_errors"`
	SkippedTicks      int64     `json:"skipped_ticks"`
	LastError         string    `json:"last_error,omitempty"`
}

// ElementUpdate is delivered to update listeners once per element per cycle
type ElementUpdate struct {
	ElementID    string          `json:"element_id"`
	DisplayLabel string          `json:"display_label"`
	Snapshot     TooltipSnapshot `json:"snapshot"`
	Properties   PropertyUpdate  `json:"properties"`
}
