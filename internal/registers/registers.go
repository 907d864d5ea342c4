// Package registers holds the Sungrow SH4.0RS Modbus TCP register map.
//
// It is the single source of truth for register addresses, data types,
// scaling factors, units and valid value ranges for the inverter reached
// through the WiNet-S dongle (port 502, slave ID 1, function code 0x04
// input registers). Registers are organized into contiguous groups so the
// poller can issue one read_input_registers call per group.
//
// References:
//   - Sungrow Hybrid Inverter Communication Protocol
//   - https://github.com/mkaiser/Sungrow-SHx-Inverter-Modbus-Home-Assistant
//   - https://github.com/bohdan-s/SunGather
package registers

import "fmt"

// Type is the Modbus data type of a register.
type Type string

const (
	U16  Type = "U16"
	S16  Type = "S16"
	U32  Type = "U32"
	S32  Type = "S32"
	UTF8 Type = "UTF8"
)

// WordCount returns the number of 16-bit words a value of this type
// occupies, or 0 when the width must be set explicitly (UTF8).
func (t Type) WordCount() int {
	switch t {
	case U16, S16:
		return 1
	case U32, S32:
		return 2
	default:
		return 0
	}
}

// Def describes a single Modbus input register.
//
// Scale is the multiplicative factor applied to the raw integer to obtain
// the engineering value (0.1 means the raw value is in tenths of the unit).
// ValidRange applies to the scaled value; nil means no range check.
type Def struct {
	Address     int
	Name        string
	Type        Type
	Unit        string
	Scale       float64
	ValidRange  *Range
	Description string
	// Words is the register width in 16-bit words. Derived from Type for
	// the numeric types; UTF8 registers must set it explicitly.
	Words int
}

// Range is an inclusive [Min, Max] bound on a scaled value.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r *Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Group is a contiguous range of registers read with a single Modbus call.
type Group struct {
	Name         string
	StartAddress int
	Count        int
	Registers    []Def
	// Optional groups may be missing on some firmwares; a device-level
	// "illegal data address" response skips the group instead of failing
	// the poll cycle.
	Optional bool
}

func r(min, max float64) *Range { return &Range{Min: min, Max: max} }

// Device info group (4990-5000), read to identify the inverter.
var deviceGroup = Group{
	Name:         "device",
	StartAddress: 4990,
	Count:        11, // 4990..5000 inclusive
	Registers: []Def{
		{Address: 4990, Name: "serial_number", Type: UTF8, Scale: 1, Words: 10,
			Description: "Inverter serial number (10 ASCII chars in 10 words)"},
		{Address: 5000, Name: "device_type_code", Type: U16, Scale: 1, ValidRange: r(0, 65535),
			Description: "Model identifier code"},
	},
}

// PV production group (5004-5018).
var pvGroup = Group{
	Name:         "pv",
	StartAddress: 5004,
	Count:        15, // 5004..5018 inclusive
	Registers: []Def{
		{Address: 5004, Name: "total_dc_power", Type: U32, Unit: "W", Scale: 1, ValidRange: r(0, 20000),
			Description: "Current total DC power from all MPPT inputs"},
		{Address: 5011, Name: "daily_pv_generation", Type: U16, Unit: "kWh", Scale: 0.1, ValidRange: r(0, 100),
			Description: "PV energy generated today"},
		{Address: 5012, Name: "mppt1_voltage", Type: U16, Unit: "V", Scale: 0.1, ValidRange: r(0, 600),
			Description: "MPPT 1 DC voltage"},
		{Address: 5013, Name: "mppt1_current", Type: U16, Unit: "A", Scale: 0.1, ValidRange: r(0, 20),
			Description: "MPPT 1 DC current"},
		{Address: 5014, Name: "mppt2_voltage", Type: U16, Unit: "V", Scale: 0.1, ValidRange: r(0, 600),
			Description: "MPPT 2 DC voltage"},
		{Address: 5015, Name: "mppt2_current", Type: U16, Unit: "A", Scale: 0.1, ValidRange: r(0, 20),
			Description: "MPPT 2 DC current"},
		{Address: 5017, Name: "total_pv_generation", Type: U32, Unit: "kWh", Scale: 0.1, ValidRange: r(0, 1000000),
			Description: "Cumulative total PV energy generated"},
	},
}

// Export / grid estimate group (5083-5084). Some firmwares do not expose
// this range at all; the poller tolerates an illegal-address error here.
var exportGroup = Group{
	Name:         "export",
	StartAddress: 5083,
	Count:        2, // S32 = 2 words
	Optional:     true,
	Registers: []Def{
		{Address: 5083, Name: "export_power", Type: S32, Unit: "W", Scale: 1, ValidRange: r(-20000, 20000),
			Description: "Inverter-estimated export power. Positive = exporting to grid, negative = importing."},
	},
}

// Load / consumption group (13008-13017).
var loadGroup = Group{
	Name:         "load",
	StartAddress: 13008,
	Count:        10, // 13008..13017 inclusive
	Registers: []Def{
		{Address: 13008, Name: "load_power", Type: S32, Unit: "W", Scale: 1, ValidRange: r(-20000, 50000),
			Description: "Total house load consumption (two registers)"},
		{Address: 13010, Name: "grid_power", Type: S16, Unit: "W", Scale: 1, ValidRange: r(-20000, 20000),
			Description: "Inverter-estimated grid power. Positive = importing, negative = exporting."},
		{Address: 13017, Name: "daily_direct_consumption", Type: U16, Unit: "kWh", Scale: 0.1, ValidRange: r(0, 200),
			Description: "PV energy directly consumed today (not via grid/battery)"},
	},
}

// Battery group (13022-13027).
var batteryGroup = Group{
	Name:         "battery",
	StartAddress: 13022,
	Count:        6, // 13022..13027 inclusive
	Registers: []Def{
		{Address: 13022, Name: "battery_power", Type: S16, Unit: "W", Scale: 1, ValidRange: r(-10000, 10000),
			Description: "Battery power. Positive = charging, negative = discharging."},
		{Address: 13023, Name: "battery_soc", Type: U16, Unit: "%", Scale: 0.1, ValidRange: r(0, 100),
			Description: "Battery state of charge"},
		{Address: 13024, Name: "battery_temperature", Type: U16, Unit: "C", Scale: 0.1, ValidRange: r(-20, 60),
			Description: "Battery temperature"},
		{Address: 13026, Name: "daily_battery_discharge", Type: U16, Unit: "kWh", Scale: 0.1, ValidRange: r(0, 100),
			Description: "Battery energy discharged today"},
		{Address: 13027, Name: "daily_battery_charge", Type: U16, Unit: "kWh", Scale: 0.1, ValidRange: r(0, 100),
			Description: "Battery energy charged today"},
	},
}

var allGroups = []Group{deviceGroup, pvGroup, exportGroup, loadGroup, batteryGroup}

// Catalog is a validated, immutable register map: the ordered group list in
// recommended read order plus a by-name index.
type Catalog struct {
	groups []Group
	byName map[string]Def
}

// NewCatalog builds and validates the default SH4.0RS catalog. A validation
// failure means the static table itself is wrong and the process must
// refuse to start.
func NewCatalog() (*Catalog, error) {
	return newCatalog(allGroups)
}

func newCatalog(groups []Group) (*Catalog, error) {
	byName := make(map[string]Def)
	byAddr := make(map[int]string)

	for gi := range groups {
		g := &groups[gi]
		for ri := range g.Registers {
			reg := &g.Registers[ri]

			if reg.Words == 0 {
				reg.Words = reg.Type.WordCount()
			}
			if reg.Words == 0 {
				return nil, fmt.Errorf("register %q: word count must be set explicitly for type %s", reg.Name, reg.Type)
			}
			if reg.Scale == 0 {
				return nil, fmt.Errorf("register %q: scale must be non-zero", reg.Name)
			}
			if reg.ValidRange != nil && reg.ValidRange.Min >= reg.ValidRange.Max {
				return nil, fmt.Errorf("register %q: invalid range [%v, %v]", reg.Name, reg.ValidRange.Min, reg.ValidRange.Max)
			}
			if _, dup := byName[reg.Name]; dup {
				return nil, fmt.Errorf("register %q: duplicate name", reg.Name)
			}
			if other, dup := byAddr[reg.Address]; dup {
				return nil, fmt.Errorf("register %q: address %d already used by %q", reg.Name, reg.Address, other)
			}
			if reg.Address < g.StartAddress || reg.Address+reg.Words > g.StartAddress+g.Count {
				return nil, fmt.Errorf("register %q: [%d, %d) outside group %q range [%d, %d)",
					reg.Name, reg.Address, reg.Address+reg.Words, g.Name, g.StartAddress, g.StartAddress+g.Count)
			}

			byName[reg.Name] = *reg
			byAddr[reg.Address] = reg.Name
		}
	}

	return &Catalog{groups: groups, byName: byName}, nil
}

// Groups returns all register groups in recommended read order.
func (c *Catalog) Groups() []Group { return c.groups }

// Lookup returns the definition for a register name.
func (c *Catalog) Lookup(name string) (Def, bool) {
	d, ok := c.byName[name]
	return d, ok
}
