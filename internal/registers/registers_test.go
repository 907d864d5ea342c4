package registers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalogValidates(t *testing.T) {
	cat, err := NewCatalog()
	require.NoError(t, err)
	require.NotNil(t, cat)

	// Five groups in recommended read order.
	groups := cat.Groups()
	require.Len(t, groups, 5)
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	assert.Equal(t, []string{"device", "pv", "export", "load", "battery"}, names)
}

func TestCatalogLookup(t *testing.T) {
	cat, err := NewCatalog()
	require.NoError(t, err)

	def, ok := cat.Lookup("battery_soc")
	require.True(t, ok)
	assert.Equal(t, 13023, def.Address)
	assert.Equal(t, U16, def.Type)
	assert.Equal(t, 0.1, def.Scale)
	assert.Equal(t, 1, def.Words)

	def, ok = cat.Lookup("load_power")
	require.True(t, ok)
	assert.Equal(t, S32, def.Type)
	assert.Equal(t, 2, def.Words)

	_, ok = cat.Lookup("no_such_register")
	assert.False(t, ok)
}

func TestCatalogGroupBounds(t *testing.T) {
	cat, err := NewCatalog()
	require.NoError(t, err)

	for _, g := range cat.Groups() {
		for _, reg := range g.Registers {
			if reg.Address < g.StartAddress || reg.Address+reg.Words > g.StartAddress+g.Count {
				t.Errorf("register %s [%d,%d) outside group %s [%d,%d)",
					reg.Name, reg.Address, reg.Address+reg.Words,
					g.Name, g.StartAddress, g.StartAddress+g.Count)
			}
		}
	}
}

func TestOnlyExportGroupOptional(t *testing.T) {
	cat, err := NewCatalog()
	require.NoError(t, err)

	for _, g := range cat.Groups() {
		if g.Name == "export" {
			assert.True(t, g.Optional)
		} else {
			assert.False(t, g.Optional, "group %s should be mandatory", g.Name)
		}
	}
}

func TestNewCatalogRejectsBadTables(t *testing.T) {
	cases := []struct {
		name   string
		groups []Group
	}{
		{
			name: "duplicate name",
			groups: []Group{{Name: "g", StartAddress: 100, Count: 2, Registers: []Def{
				{Address: 100, Name: "a", Type: U16, Scale: 1},
				{Address: 101, Name: "a", Type: U16, Scale: 1},
			}}},
		},
		{
			name: "duplicate address",
			groups: []Group{{Name: "g", StartAddress: 100, Count: 2, Registers: []Def{
				{Address: 100, Name: "a", Type: U16, Scale: 1},
				{Address: 100, Name: "b", Type: U16, Scale: 1},
			}}},
		},
		{
			name: "register outside group",
			groups: []Group{{Name: "g", StartAddress: 100, Count: 1, Registers: []Def{
				{Address: 101, Name: "a", Type: U16, Scale: 1},
			}}},
		},
		{
			name: "two-word register overruns group",
			groups: []Group{{Name: "g", StartAddress: 100, Count: 1, Registers: []Def{
				{Address: 100, Name: "a", Type: U32, Scale: 1},
			}}},
		},
		{
			name: "zero scale",
			groups: []Group{{Name: "g", StartAddress: 100, Count: 1, Registers: []Def{
				{Address: 100, Name: "a", Type: U16},
			}}},
		},
		{
			name: "inverted range",
			groups: []Group{{Name: "g", StartAddress: 100, Count: 1, Registers: []Def{
				{Address: 100, Name: "a", Type: U16, Scale: 1, ValidRange: &Range{Min: 10, Max: 10}},
			}}},
		},
		{
			name: "utf8 without explicit width",
			groups: []Group{{Name: "g", StartAddress: 100, Count: 4, Registers: []Def{
				{Address: 100, Name: "a", Type: UTF8, Scale: 1},
			}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newCatalog(tc.groups)
			assert.Error(t, err)
		})
	}
}

func TestRangeContains(t *testing.T) {
	rg := Range{Min: -10, Max: 10}
	assert.True(t, rg.Contains(-10))
	assert.True(t, rg.Contains(0))
	assert.True(t, rg.Contains(10))
	assert.False(t, rg.Contains(-10.1))
	assert.False(t, rg.Contains(10.1))
}
