// Package model defines the wire types shared by the edge daemon and the
// ingest service. A Sample is one normalized snapshot of inverter state,
// identified by (device_id, ts). Optional fields use pointers so that
// "absent" stays distinguishable from "present but zero"; the JSON encoding
// uses null for absent.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sample is a single normalized telemetry sample from a Sungrow hybrid
// inverter. All values are in engineering units after scaling and type
// conversion. device_id and ts are injected by the caller, never derived
// from register data.
type Sample struct {
	DeviceID      string    `json:"device_id"`
	TS            time.Time `json:"ts"`
	PVPowerW      float64   `json:"pv_power_w"`
	PVDailyKWh    *float64  `json:"pv_daily_kwh"`
	BatteryPowerW float64   `json:"battery_power_w"`
	BatterySOCPct float64   `json:"battery_soc_pct"`
	BatteryTempC  *float64  `json:"battery_temp_c"`
	LoadPowerW    float64   `json:"load_power_w"`
	ExportPowerW  float64   `json:"export_power_w"`
	SampleCount   int       `json:"sample_count"`
}

// Validate checks the structural invariants of a decoded sample.
func (s *Sample) Validate() error {
	if s.DeviceID == "" {
		return fmt.Errorf("device_id must not be empty")
	}
	if s.TS.IsZero() {
		return fmt.Errorf("ts must be a valid RFC3339 timestamp")
	}
	if s.SampleCount < 1 {
		return fmt.Errorf("sample_count must be >= 1")
	}
	if s.BatterySOCPct < 0 || s.BatterySOCPct > 100 {
		return fmt.Errorf("battery_soc_pct must be in [0, 100]")
	}
	return nil
}

// Encode serializes the sample to its wire JSON. The timestamp keeps its
// explicit UTC offset (RFC3339).
func (s *Sample) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSample parses wire JSON back into a Sample and validates it.
func DecodeSample(data []byte) (*Sample, error) {
	var s Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode sample: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// BucketRow is one time-bucketed aggregate as returned by the series
// endpoint. bucket is the left-aligned start of the interval.
type BucketRow struct {
	Bucket           time.Time `json:"bucket"`
	AvgPVPowerW      float64   `json:"avg_pv_power_w"`
	MaxPVPowerW      float64   `json:"max_pv_power_w"`
	AvgBatteryPowerW float64   `json:"avg_battery_power_w"`
	AvgBatterySOCPct float64   `json:"avg_battery_soc_pct"`
	AvgLoadPowerW    float64   `json:"avg_load_power_w"`
	AvgExportPowerW  float64   `json:"avg_export_power_w"`
	SampleCount      int64     `json:"sample_count"`
}
