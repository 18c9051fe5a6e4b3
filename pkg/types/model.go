package types

import "time"

const (
	// DefaultPriorityThreshold separates deferrable devices (priority below)
	// from critical devices (priority at or above) that are never shed.
	DefaultPriorityThreshold = 2

	CurrentEnergyRecordVersion = 1
)

// Device represents a controllable appliance in the household.
type Device struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"` // e.g. "washing_machine", "ev_charger"
	// PowerRatingKW is the draw of the device while on (kW).
	PowerRatingKW float64 `json:"power_rating"`
	IsOn          bool    `json:"is_on"`
	// Priority tier. Devices below the threshold are deferrable.
	Priority int `json:"priority"`
}

// Deferrable reports whether the controller may shed the device.
func (d Device) Deferrable(threshold int) bool {
	return d.Priority < threshold
}

// EnergyRecord is a single snapshot produced by the live simulation.
type EnergyRecord struct {
	// ID is assigned by storage from the timestamp.
	ID                 int64     `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	GridImportKW       float64   `json:"grid_import"`
	GridExportKW       float64   `json:"grid_export"`
	SolarGenerationKW  float64   `json:"solar_generation"`
	BatteryChargeKW    float64   `json:"battery_charge"`
	BatteryDischargeKW float64   `json:"battery_discharge"`
	HomeConsumptionKW  float64   `json:"home_consumption"`
	BatterySOC         float64   `json:"battery_soc"` // 0-100
	IsPeak             bool      `json:"is_peak"`
	// DeferredKWH is the deferred energy still owed after this record.
	DeferredKWH float64 `json:"deferred_kwh"`
}

// EnergyRecordID is the identifier of the record taken at ts. Records are
// keyed on their timestamp so the ID is unique per simulated step.
func EnergyRecordID(ts time.Time) int64 {
	return ts.UnixNano()
}

// AnalysisRecord is one step of a batch scenario comparison. The field order
// is the column order of the CSV reports.
type AnalysisRecord struct {
	TimeStep        string  `json:"time_step"`
	Scenario        string  `json:"scenario"`
	SolarGeneration float64 `json:"solar_generation"`
	HomeConsumption float64 `json:"home_consumption"`
	GridImport      float64 `json:"grid_import"`
	GridExport      float64 `json:"grid_export"`
	Cost            float64 `json:"cost"`
	IsPeak          bool    `json:"is_peak"`
}
