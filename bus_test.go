package owbus_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcsakoff/go-owbus"
	"github.com/mcsakoff/go-owbus/owbustest"
)

func TestBus_Status(t *testing.T) {
	line := owbustest.NewLine(romDevices("28 69 2F 2C 0C 32 20 9A")...)
	var logs bytes.Buffer
	bus := owbus.NewBus(line, owbus.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	s := bus.Status(false)
	assert.True(t, s.OK())
	assert.Equal(t, "Bus OK", s.Message)
	assert.Empty(t, s.Families)

	s = bus.Status(true)
	assert.True(t, s.OK())
	require.NotEmpty(t, s.Families)
	assert.Equal(t, byte(0x10), s.Families[0].Code)
	assert.Contains(t, logs.String(), "DS18x20 (0x28) Temperature Sensor")

	line.Stuck = true
	s = bus.Status(false)
	assert.False(t, s.OK())
	assert.True(t, s.Fault)
	assert.True(t, s.Shorted)

	line.Stuck = false
	line.Detach(owbustest.MustAddress("28 69 2F 2C 0C 32 20 9A"))
	s = bus.Status(false)
	assert.False(t, s.OK())
	assert.False(t, s.Fault)
	assert.False(t, s.Present)
}

func TestBus_ReadROM(t *testing.T) {
	bus := owbus.NewBus(owbustest.NewLine(romDevices("29 EE D2 02 00 00 00 C3")...))
	a, err := bus.ReadROM()
	require.NoError(t, err)
	assert.Equal(t, "29 EE D2 02 00 00 00 C3", a.String())

	// Two devices collide into a wired-AND that fails the CRC.
	bus = owbus.NewBus(owbustest.NewLine(romDevices("29 EE D2 02 00 00 00 C3", "28 69 2F 2C 0C 32 20 9A")...))
	_, err = bus.ReadROM()
	assert.ErrorIs(t, err, owbus.ErrChecksumMismatch)

	bus = owbus.NewBus(owbustest.NewLine())
	_, err = bus.ReadROM()
	assert.ErrorIs(t, err, owbus.ErrBusFault)
}

func TestBus_IsPresent(t *testing.T) {
	bus := owbus.NewBus(owbustest.NewLine(romDevices("29 EE D2 02 00 00 00 C3", "28 69 2F 2C 0C 32 20 9A")...))

	ok, err := bus.IsPresent(owbustest.MustAddress("28 69 2F 2C 0C 32 20 9A"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bus.IsPresent(owbustest.MustAddress("28 69 2F 2C 0C 32 21"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBus_Gate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bus := owbus.NewBus(owbustest.NewLine(), owbus.WithClock(clock))

	assert.True(t, bus.Ready())
	bus.Hold(100 * time.Millisecond)
	assert.True(t, bus.Busy())
	assert.False(t, bus.Ready())

	clock.Advance(99 * time.Millisecond)
	assert.False(t, bus.Ready())
	clock.Advance(time.Millisecond)
	assert.True(t, bus.Ready())
	assert.False(t, bus.Busy())

	bus.Hold(time.Second)
	bus.Release()
	assert.True(t, bus.Ready())
}

func TestBus_ByteIO(t *testing.T) {
	therm := owbustest.NewThermometer(owbustest.MustAddress("28 69 2F 2C 0C 32 20 9A"), 0x0191)
	bus := owbus.NewBus(owbustest.NewLine(therm))

	present, err := bus.Reset()
	require.NoError(t, err)
	require.True(t, present)
	require.NoError(t, bus.Write([]byte{0xcc, 0x44}))
	assert.Equal(t, 1, therm.Conversions)

	_, err = bus.Reset()
	require.NoError(t, err)
	require.NoError(t, bus.Write([]byte{0xcc, 0xbe}))
	spad, err := bus.Read(9)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x91, 0x01}, spad[:2])
	assert.Equal(t, byte(0), owbus.CRC8(spad))
}
