// Package monitor polls the battery/resource probe, derives the current
// pressure level, and raises edge-triggered alerts when the level changes.
package monitor

import (
	"time"
)

// Reading is a single probe sample.
type Reading struct {
	BatteryPct int       `json:"battery_pct"`
	Voltage    float64   `json:"voltage"`
	CPUPct     float64   `json:"cpu_pct"`
	TempC      float64   `json:"temp_c"`
	Timestamp  time.Time `json:"timestamp"`
}

// Probe reads the hardware's current resource state. Read may fail on
// hardware errors; the monitor handles failures with a fail-safe escalation.
type Probe interface {
	Read() (Reading, error)
}

// Thresholds drives the mapping from a Reading to a pressure level.
type Thresholds struct {
	BatteryLowPct      int     `yaml:"battery_low_pct"`
	BatteryCriticalPct int     `yaml:"battery_critical_pct"`
	CPUElevatedPct     float64 `yaml:"cpu_elevated_pct"`
	TempElevatedC      float64 `yaml:"temp_elevated_c"`
	TempCriticalC      float64 `yaml:"temp_critical_c"`
}

// DefaultThresholds returns the stock threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BatteryLowPct:      20,
		BatteryCriticalPct: 10,
		CPUElevatedPct:     85,
		TempElevatedC:      70,
		TempCriticalC:      80,
	}
}
