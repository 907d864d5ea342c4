// Package normalizer converts raw Modbus register words into a validated
// telemetry sample.
//
// Normalize is a pure function: no I/O, no clock access, no mutable state.
// The device_id and timestamp are injected by the caller. The raw input is
// the poller's map of register name to 16-bit word slice (1 word for
// U16/S16, 2 words for U32/S32).
package normalizer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/solarhaus/telemetry/internal/model"
	"github.com/solarhaus/telemetry/internal/registers"
)

// fieldBinding maps one sample field to its source register. The closed
// table keeps the raw→sample mapping finite and exhaustively checked.
type fieldBinding struct {
	field    string
	register string
	assign   func(s *model.Sample, v float64)
}

func ptr(v float64) *float64 { return &v }

var fieldTable = []fieldBinding{
	{field: "pv_power_w", register: "total_dc_power",
		assign: func(s *model.Sample, v float64) { s.PVPowerW = v }},
	{field: "pv_daily_kwh", register: "daily_pv_generation",
		assign: func(s *model.Sample, v float64) { s.PVDailyKWh = ptr(v) }},
	{field: "battery_power_w", register: "battery_power",
		assign: func(s *model.Sample, v float64) { s.BatteryPowerW = v }},
	{field: "battery_soc_pct", register: "battery_soc",
		assign: func(s *model.Sample, v float64) { s.BatterySOCPct = v }},
	{field: "battery_temp_c", register: "battery_temperature",
		assign: func(s *model.Sample, v float64) { s.BatteryTempC = ptr(v) }},
	{field: "load_power_w", register: "load_power",
		assign: func(s *model.Sample, v float64) { s.LoadPowerW = v }},
	{field: "export_power_w", register: "export_power",
		assign: func(s *model.Sample, v float64) { s.ExportPowerW = v }},
}

// Normalize converts raw register words into a validated Sample.
//
// Every mapped field must resolve: a missing register or an out-of-range
// scaled value fails the whole sample. The one exception is the export
// register, which some firmwares do not expose; when it is absent and
// grid_power is readable, export_power_w = -grid_power_w.
func Normalize(cat *registers.Catalog, raw map[string][]uint16, deviceID string, ts time.Time) (*model.Sample, error) {
	sample := &model.Sample{
		DeviceID:    deviceID,
		TS:          ts,
		SampleCount: 1,
	}

	for _, b := range fieldTable {
		def, ok := cat.Lookup(b.register)
		if !ok {
			return nil, fmt.Errorf("field %s: register %q not in catalog", b.field, b.register)
		}

		// Some inverters do not expose export_power (register 5083).
		// grid_power is positive on import / negative on export, so
		// export_power_w = -grid_power.
		if b.field == "export_power_w" {
			if _, present := raw[b.register]; !present {
				gridDef, gok := cat.Lookup("grid_power")
				if gok {
					if grid, err := extractValue(gridDef, raw); err == nil {
						slog.Warn("register missing, falling back to -grid_power", "register", b.register)
						b.assign(sample, -grid)
						continue
					}
				}
			}
		}

		v, err := extractValue(def, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", b.field, err)
		}
		b.assign(sample, v)
	}

	return sample, nil
}

// extractValue decodes, scales and range-checks a single register value.
func extractValue(def registers.Def, raw map[string][]uint16) (float64, error) {
	words, ok := raw[def.Name]
	if !ok {
		return 0, fmt.Errorf("register %q missing from raw data", def.Name)
	}

	var rawInt int64
	switch def.Type {
	case registers.U32, registers.S32:
		if len(words) < 2 {
			return 0, fmt.Errorf("register %q: expected 2 words for %s, got %d", def.Name, def.Type, len(words))
		}
		if def.Type == registers.U32 {
			rawInt = convertU32(words[0], words[1])
		} else {
			rawInt = convertS32(words[0], words[1])
		}
	case registers.U16, registers.S16:
		if len(words) < 1 {
			return 0, fmt.Errorf("register %q: expected 1 word for %s, got 0", def.Name, def.Type)
		}
		if def.Type == registers.U16 {
			rawInt = int64(words[0])
		} else {
			rawInt = convertS16(words[0])
		}
	default:
		return 0, fmt.Errorf("register %q: unsupported type %q", def.Name, def.Type)
	}

	scaled := float64(rawInt) * def.Scale

	if def.ValidRange != nil && !def.ValidRange.Contains(scaled) {
		// Some inverter firmwares expose S16 values in the low word while
		// still returning 2 words for documented S32 registers. Observed
		// on load_power: [0, 62000].
		if def.Type == registers.S32 && len(words) >= 2 && (words[0] == 0x0000 || words[0] == 0xFFFF) {
			alt := float64(convertS16(words[1])) * def.Scale
			if def.ValidRange.Contains(alt) {
				slog.Warn("S32 out of range, using legacy low-word S16 fallback",
					"register", def.Name, "scaled", scaled, "fallback", alt)
				return alt, nil
			}
		}
		return 0, fmt.Errorf("register %q: scaled value %g (words=%v) outside valid range [%g, %g]",
			def.Name, scaled, words, def.ValidRange.Min, def.ValidRange.Max)
	}

	return scaled, nil
}

// convertS16 interprets a 16-bit word as two's-complement signed.
func convertS16(w uint16) int64 {
	return int64(int16(w))
}

// convertU32 assembles two words (high word first) into unsigned 32-bit.
func convertU32(hi, lo uint16) int64 {
	return int64(uint32(hi)<<16 | uint32(lo))
}

// convertS32 assembles two words (high word first) into signed 32-bit.
func convertS32(hi, lo uint16) int64 {
	return int64(int32(uint32(hi)<<16 | uint32(lo)))
}
