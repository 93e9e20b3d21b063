package driver

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

const (
	thermSN = "28 69 2F 2C 0C 32 20 9A"
	portSN  = "29 EE D2 02 00 00 00 C3"
)

type fixture struct {
	clock clockwork.FakeClock
	line  *owbustest.Line
	therm *owbustest.Thermometer
	port  *owbustest.Port
	logs  *bytes.Buffer
	drv   *Driver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: clockwork.NewFakeClock(), logs: &bytes.Buffer{}}
	f.therm = owbustest.NewThermometer(owbustest.MustAddress(thermSN), 0x0191)
	f.port = owbustest.NewPort(owbustest.MustAddress(portSN))
	f.line = owbustest.NewLine(f.therm, f.port)
	logger := slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus := owbus.NewBus(f.line, owbus.WithClock(f.clock), owbus.WithLogger(logger))

	var err error
	f.drv, err = New(bus, Config{Name: "ow0", Debug: true, Logger: logger})
	require.NoError(t, err)

	_, err = f.drv.Define(InstanceSpec{Name: "attic", SN: thermSN, Aliases: []string{"temp1"}, Params: owbus.Params{Resolution: 9, Units: "C"}})
	require.NoError(t, err)
	_, err = f.drv.Define(InstanceSpec{Name: "relays", SN: "29-EED202000000", Aliases: []string{"io"}})
	require.NoError(t, err)
	f.clock.Advance(10 * time.Millisecond)
	return f
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	insts := f.drv.Instances()
	require.Len(t, insts, 3)
	assert.Equal(t, "ow0", insts[0].Name)
	_, hasAddr := insts[0].Device.Address()
	assert.False(t, hasAddr)
	assert.Contains(t, f.logs.String(), "DS2408 (0x29) 8-bit I/O port")

	line := owbustest.NewLine(&owbustest.ROM{Addr: owbustest.MustAddress(thermSN)})
	line.Stuck = true
	_, err := New(owbus.NewBus(line), Config{})
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"attic", "temp1", thermSN, "28692F2C0C32209A", "28-692f2c0c3220", "28:69:2F:2C:0C:32:20:9A"} {
		inst, ok := f.drv.Lookup(id)
		if assert.True(t, ok, id) {
			assert.Equal(t, "attic", inst.Name, id)
		}
	}
	inst, ok := f.drv.Lookup("ow0")
	require.True(t, ok)
	assert.Equal(t, owbus.CategoryBus, inst.Device.Category())

	_, ok = f.drv.Lookup("cellar")
	assert.False(t, ok)
}

func TestDefine_AliasCollision(t *testing.T) {
	f := newFixture(t)

	_, err := f.drv.Define(InstanceSpec{Name: "spare", SN: "28 00 00 00 00 00 01", Aliases: []string{"temp1"}})
	require.NoError(t, err)
	assert.Contains(t, f.logs.String(), "alias exists, redefining")

	inst, ok := f.drv.Lookup("temp1")
	require.True(t, ok)
	assert.Equal(t, "spare", inst.Name)
	inst, ok = f.drv.Lookup("attic")
	require.True(t, ok)
	assert.Equal(t, "attic", inst.Name, "earlier binding keeps its other aliases")
}

func TestDefine_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.drv.Define(InstanceSpec{Name: "nosn"})
	assert.ErrorIs(t, err, owbus.ErrConfiguration)
	_, err = f.drv.Define(InstanceSpec{Name: "badsn", SN: "28 69"})
	assert.ErrorIs(t, err, owbus.ErrConfiguration)
	assert.Len(t, f.drv.Instances(), 3)
}

func TestHandle_UnknownDevice(t *testing.T) {
	f := newFixture(t)

	resp := f.drv.Handle(Message{"id": "cellar", "units": "C"})
	require.NotNil(t, resp)
	assert.Equal(t, "UnknownDevice", resp["kind"])
	assert.Equal(t, "cellar", resp["id"])
	assert.Equal(t, 0, f.drv.Pending())
}

func TestPoll_Temperature(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.drv.Handle(Message{"id": "attic"}))
	assert.Nil(t, f.drv.Handle(Message{"id": "attic", "units": "F", "tag": 2}))
	assert.Equal(t, 2, f.drv.Pending())

	assert.Empty(t, f.drv.Poll(), "conversion started")
	assert.Empty(t, f.drv.Poll())
	assert.Equal(t, 1, f.therm.Conversions)

	f.clock.Advance(100 * time.Millisecond)
	out := f.drv.Poll()
	require.Len(t, out, 1)
	assert.Equal(t, 25.0625, out[0]["temperature"])
	assert.Equal(t, "C", out[0]["units"])
	assert.Nil(t, out[0]["tag"])

	// The second request starts only after the first completed.
	assert.Empty(t, f.drv.Poll())
	assert.Equal(t, 2, f.therm.Conversions)
	f.clock.Advance(100 * time.Millisecond)
	out = f.drv.Poll()
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0]["tag"])
	assert.InDelta(t, 77.1125, out[0]["temperature"], 1e-9)
	assert.Equal(t, 0, f.drv.Pending())
}

func TestPoll_Gate(t *testing.T) {
	f := newFixture(t)

	f.drv.Handle(Message{"id": "attic"})
	assert.Empty(t, f.drv.Poll())

	f.drv.Handle(Message{"id": "io", "op": "SET", "value": 0x01})
	assert.Empty(t, f.drv.Poll(), "bus held by the conversion")
	assert.Equal(t, byte(0xff), f.port.Latch)

	f.clock.Advance(100 * time.Millisecond)
	out := f.drv.Poll()
	require.Len(t, out, 2)
	assert.Equal(t, "attic", out[0]["id"])
	assert.Equal(t, "io", out[1]["id"])
	assert.Equal(t, 0x01, out[1]["data"])
	assert.Equal(t, byte(0xfe), f.port.Latch)
}

func TestPoll_Port(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		req     Message
		op      string
		operand int
		data    int
	}{
		{Message{"id": "io", "value": 0x81}, "OUT", 0x81, 0x81},
		{Message{"id": "io", "channel": "b"}, "TOGGLE", 0x02, 0x83},
		{Message{"id": "io", "channel": 7.0, "op": "CLEAR"}, "CLEAR", 0x80, 0x03},
		{Message{"id": "io", "op": "set", "value": "0x10"}, "SET", 0x10, 0x13},
		{Message{"id": "io"}, "REG", 0xff, 0x13},
		{Message{"id": "io", "op": "RESET"}, "RESET", 0xff, 0x00},
	}
	for _, tc := range cases {
		require.Nil(t, f.drv.Handle(tc.req))
		out := f.drv.Poll()
		require.Len(t, out, 1)
		assert.Nil(t, out[0]["err"], "%v", tc.req)
		assert.Equal(t, tc.op, out[0]["op"], "%v", tc.req)
		assert.Equal(t, tc.operand, out[0]["operand"], "%v", tc.req)
		assert.Equal(t, tc.data, out[0]["data"], "%v", tc.req)
	}

	f.drv.Handle(Message{"id": "io", "channel": "z"})
	out := f.drv.Poll()
	require.Len(t, out, 1)
	assert.Equal(t, "UnsupportedOperation", out[0]["kind"])
}

func TestPoll_Bus(t *testing.T) {
	f := newFixture(t)
	stranger := owbustest.MustAddress("3A 01 02 03 04 05 06")
	f.line.Attach(owbustest.NewPort(stranger))

	f.drv.Handle(Message{"id": "ow0"})
	out := f.drv.Poll()
	require.Len(t, out, 1)
	status, ok := out[0]["status"].(owbus.Status)
	require.True(t, ok)
	assert.True(t, status.OK())
	scan, ok := out[0]["scan"].([]owbus.Forms)
	require.True(t, ok)
	assert.Len(t, scan, 3)
	assert.Equal(t, map[string]string{thermSN: "attic", portSN: "relays"}, out[0]["known"])
	assert.Equal(t, []string{stranger.String()}, out[0]["unknown"])

	f.drv.Handle(Message{"id": "ow0", "family": "28"})
	out = f.drv.Poll()
	require.Len(t, out, 1)
	scan = out[0]["scan"].([]owbus.Forms)
	require.Len(t, scan, 1)
	assert.Equal(t, thermSN, scan[0].SN)

	f.line.Stuck = true
	f.drv.Handle(Message{"id": "ow0"})
	out = f.drv.Poll()
	require.Len(t, out, 1)
	assert.Nil(t, out[0]["scan"])
	assert.True(t, out[0]["status"].(owbus.Status).Fault)
}

func TestPoll_Unsupported(t *testing.T) {
	f := newFixture(t)

	f.drv.Handle(Message{"id": "io", "category": "temperature"})
	f.drv.Handle(Message{"id": "attic", "category": "counter"})
	out := f.drv.Poll()
	require.Len(t, out, 2)
	for _, m := range out {
		assert.Equal(t, "UnsupportedOperation", m["kind"])
	}
}

func TestPoll_ChecksumError(t *testing.T) {
	f := newFixture(t)
	f.port.NoAck = true

	f.drv.Handle(Message{"id": "io", "value": 1})
	out := f.drv.Poll()
	require.Len(t, out, 1)
	assert.Equal(t, "ChecksumMismatch", out[0]["kind"])
}

type panicky struct {
	owbus.Device
}

func (p *panicky) Port(owbus.PortOp, byte) (byte, error) {
	panic("wiring")
}

func TestPoll_Isolation(t *testing.T) {
	f := newFixture(t)
	r := f.drv.Bus().Registry()
	r.Register(owbus.FamilyInfo{
		Code:     0xa8,
		Name:     "X",
		Category: owbus.CategoryPort,
		New: func(b *owbus.Bus, addr owbus.Address, family byte, p owbus.Params) (owbus.Device, error) {
			d, err := b.DefineDeviceAs(addr, 0x00, p)
			return &panicky{d}, err
		},
	})
	_, err := f.drv.Define(InstanceSpec{Name: "bad", SN: "A8 01 02 03 04 05 06"})
	require.NoError(t, err)

	f.drv.Handle(Message{"id": "bad", "category": "port"})
	f.drv.Handle(Message{"id": "io", "value": 3})
	out := f.drv.Poll()
	require.Len(t, out, 2)
	assert.Equal(t, "relays", mustInstance(t, f.drv, "io").Name)
	byID := map[string]Message{}
	for _, m := range out {
		byID[m.ID()] = m
	}
	assert.Contains(t, byID["bad"]["err"], "panic")
	assert.Equal(t, 3, byID["io"]["data"])
}

func mustInstance(t *testing.T, d *Driver, id string) *Instance {
	t.Helper()
	inst, ok := d.Lookup(id)
	require.True(t, ok, id)
	return inst
}

func TestFlush(t *testing.T) {
	f := newFixture(t)

	f.drv.Handle(Message{"id": "attic"})
	f.drv.Handle(Message{"id": "attic"})
	f.drv.Handle(Message{"id": "io", "value": 1})
	assert.Empty(t, f.drv.Poll())
	assert.True(t, f.drv.Bus().Busy())

	f.drv.Flush()
	assert.Equal(t, 0, f.drv.Pending())
	assert.False(t, f.drv.Bus().Busy())
	assert.Len(t, f.drv.Instances(), 1)
	_, ok := f.drv.Lookup("attic")
	assert.False(t, ok)

	f.clock.Advance(time.Second)
	assert.Empty(t, f.drv.Poll(), "nothing is answered after a flush")
}
