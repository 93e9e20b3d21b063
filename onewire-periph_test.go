package owbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ds18b20"

	"github.com/mcsakoff/go-owbus"
	"github.com/mcsakoff/go-owbus/owbustest"
)

func TestPeriphBus_DS18B20(t *testing.T) {
	addr := owbustest.MustAddress("28 69 2F 2C 0C 32 20 9A")
	therm := owbustest.NewThermometer(addr, 0x0191)
	bus := owbus.NewBus(owbustest.NewLine(therm))
	pb := bus.Periph()

	found, err := pb.Search(false)
	require.NoError(t, err)
	require.Equal(t, []onewire.Address{addr.OneWire()}, found)

	dev, err := ds18b20.New(pb, found[0], 12)
	require.NoError(t, err)
	require.NoError(t, ds18b20.StartAll(pb))

	temp, err := dev.LastTemp()
	require.NoError(t, err)
	assert.Equal(t, physic.ZeroCelsius+25*physic.Kelvin+62500*physic.MicroKelvin, temp)
	assert.Equal(t, 1, therm.Conversions)
}

func TestPeriphBus_NoDevices(t *testing.T) {
	pb := owbus.NewBus(owbustest.NewLine()).Periph()

	err := pb.Tx([]byte{0xcc, 0x44}, nil, onewire.StrongPullup)
	require.Error(t, err)
	nd, ok := err.(onewire.NoDevicesError)
	require.True(t, ok)
	assert.True(t, nd.NoDevices())
}
