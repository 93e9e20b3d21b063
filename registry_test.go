package owbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcsakoff/go-owbus"
	"github.com/mcsakoff/go-owbus/owbustest"
)

func TestRegistry_Builtins(t *testing.T) {
	r := owbus.NewRegistry()

	cases := map[byte]owbus.Category{
		0x10: owbus.CategoryTemperature,
		0x22: owbus.CategoryTemperature,
		0x28: owbus.CategoryTemperature,
		0x29: owbus.CategoryPort,
		0x3a: owbus.CategoryPort,
		0x42: owbus.CategoryMultifunction,
		0x1c: owbus.CategoryEEPROM,
		0x1d: owbus.CategoryCounter,
		0x26: owbus.CategoryGauge,
	}
	for code, cat := range cases {
		f, ok := r.Lookup(code)
		if assert.True(t, ok, "%02X", code) {
			assert.Equal(t, cat, f.Category, "%02X", code)
			assert.NotNil(t, f.New)
		}
	}

	families := r.Families()
	require.Len(t, families, len(cases))
	for i := 1; i < len(families); i++ {
		assert.Less(t, families[i-1].Code, families[i].Code)
	}

	mask, ok := r.FamilyMask(0x1c)
	assert.True(t, ok)
	assert.Equal(t, byte(0x7f), mask)
	_, ok = r.FamilyMask(0x28)
	assert.False(t, ok)
}

func TestDefineDevice(t *testing.T) {
	bus := owbus.NewBus(owbustest.NewLine())

	root, err := bus.DefineDevice(nil, owbus.Params{})
	require.NoError(t, err)
	_, hasAddr := root.Address()
	assert.False(t, hasAddr)
	assert.Equal(t, owbus.CategoryBus, root.Category())

	unknown := owbustest.MustAddress("A8 01 02 03 04 05 06")
	d, err := bus.DefineDevice(&unknown, owbus.Params{Desc: "mystery"})
	require.NoError(t, err)
	assert.IsType(t, &owbus.Generic{}, d)
	assert.Equal(t, owbus.CategoryBus, d.Category())
	assert.Equal(t, "mystery", d.Info().Desc)
	assert.Equal(t, byte(0xa8), d.Info().Family)

	counter := owbustest.MustAddress("1D 00 00 00 00 00 00")
	d, err = bus.DefineDevice(&counter, owbus.Params{})
	require.NoError(t, err)
	assert.Equal(t, owbus.CategoryCounter, d.Category())
	_, err = d.(owbus.MemoryReader).ReadMemory(0, 32)
	assert.ErrorIs(t, err, owbus.ErrUnsupportedOperation)
	_, err = d.(*owbus.Counter).ReadCounter(0)
	assert.ErrorIs(t, err, owbus.ErrUnsupportedOperation)

	gauge := owbustest.MustAddress("26 00 00 00 00 00 01")
	d, err = bus.DefineDevice(&gauge, owbus.Params{})
	require.NoError(t, err)
	_, err = d.(*owbus.Gauge).ReadVoltage(true)
	assert.ErrorIs(t, err, owbus.ErrUnsupportedOperation)
	assert.Contains(t, err.Error(), "26 00 00 00 00 00 01")

	eeprom, err := bus.Registry().ParseAddress("1C 00 12 34 56 78 9A")
	require.NoError(t, err)
	d, err = bus.DefineDevice(&eeprom, owbus.Params{})
	require.NoError(t, err)
	assert.Equal(t, owbus.CategoryEEPROM, d.Category())
	_, ok := d.(owbus.Porter)
	assert.True(t, ok)

	// An explicit family overrides the address.
	d, err = bus.DefineDeviceAs(unknown, 0x29, owbus.Params{})
	require.NoError(t, err)
	assert.Equal(t, owbus.CategoryPort, d.Category())
	assert.Equal(t, byte(0x29), d.Info().Family)
	assert.Equal(t, "DS2408 (0x29) 8-bit I/O port", d.Info().Desc)

	therm := owbustest.MustAddress("28 69 2F 2C 0C 32 20 9A")
	d, err = bus.DefineDeviceAs(therm, 0x99, owbus.Params{})
	require.NoError(t, err)
	assert.Equal(t, owbus.CategoryBus, d.Category())
	assert.Equal(t, byte(0x99), d.Info().Family)
}

func TestRegistry_Register(t *testing.T) {
	r := owbus.NewRegistry()
	r.Register(owbus.FamilyInfo{
		Code:     0xa8,
		Name:     "DS1982X",
		Desc:     "custom",
		Category: owbus.CategoryCounter,
		New: func(b *owbus.Bus, addr owbus.Address, family byte, p owbus.Params) (owbus.Device, error) {
			return nil, owbus.ConfigError(addr.String(), "not today")
		},
	})
	bus := owbus.NewBus(owbustest.NewLine(), owbus.WithRegistry(r))

	a := owbustest.MustAddress("A8 01 02 03 04 05 06")
	_, err := bus.DefineDevice(&a, owbus.Params{})
	assert.ErrorIs(t, err, owbus.ErrConfiguration)
}

func TestGeneric_Search(t *testing.T) {
	line := owbustest.NewLine(romDevices("28 69 2F 2C 0C 32 20 9A", "29 EE D2 02 00 00 00 C3")...)
	bus := owbus.NewBus(line)

	root, err := bus.DefineDevice(nil, owbus.Params{})
	require.NoError(t, err)
	found, err := root.Search(nil)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	a := owbustest.MustAddress("29 EE D2 02 00 00 00 C3")
	d, err := bus.DefineDevice(&a, owbus.Params{})
	require.NoError(t, err)
	found, err = d.Search(nil)
	require.NoError(t, err)
	assert.Equal(t, []owbus.Address{a}, found)

	family := byte(0x28)
	found, err = d.Search(&family)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, family, found[0].Family())

	require.NoError(t, d.Select(false))
	require.NoError(t, root.Select(false))
}
