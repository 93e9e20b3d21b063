package owbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// scriptPin returns scripted levels from Read before falling back to the
// pin level; a stuck pin stays low when released.
type scriptPin struct {
	*gpiotest.Pin
	reads []gpio.Level
	stuck bool
	outs  []gpio.Level
}

func (p *scriptPin) In(pull gpio.Pull, edge gpio.Edge) error {
	if p.stuck {
		p.Pin.Lock()
		p.Pin.L = gpio.Low
		p.Pin.Unlock()
		return nil
	}
	return p.Pin.In(pull, edge)
}

func (p *scriptPin) Out(l gpio.Level) error {
	p.outs = append(p.outs, l)
	return p.Pin.Out(l)
}

func (p *scriptPin) Read() gpio.Level {
	if len(p.reads) > 0 {
		l := p.reads[0]
		p.reads = p.reads[1:]
		return l
	}
	return p.Pin.Read()
}

func newScriptLine(t *testing.T) (*GPIOLine, *scriptPin, *[]time.Duration) {
	t.Helper()
	var delays []time.Duration
	orig := delay
	delay = func(d time.Duration) { delays = append(delays, d) }
	t.Cleanup(func() { delay = orig })

	p := &scriptPin{Pin: &gpiotest.Pin{N: "GPIO4", Num: 4}}
	l, err := NewGPIOLine(p)
	require.NoError(t, err)
	return l, p, &delays
}

func TestGPIOLine_New(t *testing.T) {
	l, p, _ := newScriptLine(t)
	assert.Equal(t, gpio.PullUp, p.P)
	assert.Equal(t, gpio.High, p.L)
	assert.Equal(t, "gpio(GPIO4(4))", l.String())
}

func TestGPIOLine_Reset(t *testing.T) {
	l, p, delays := newScriptLine(t)
	p.reads = []gpio.Level{gpio.Low}

	present, err := l.Reset()
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, []time.Duration{tResetLow, tPresenceWait, tResetRelease}, *delays)
	assert.Equal(t, []gpio.Level{gpio.Low}, p.outs)

	present, err = l.Reset()
	require.NoError(t, err)
	assert.False(t, present)

	p.stuck = true
	_, err = l.Reset()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusFault)
	assert.True(t, err.(*Error).IsShorted())
}

func TestGPIOLine_Probe(t *testing.T) {
	l, p, _ := newScriptLine(t)

	stuck, err := l.Probe()
	require.NoError(t, err)
	assert.False(t, stuck)

	p.stuck = true
	stuck, err = l.Probe()
	require.NoError(t, err)
	assert.True(t, stuck)

	s := NewBus(l).Status(false)
	assert.True(t, s.Fault)
	assert.True(t, s.Shorted)
	assert.False(t, s.OK())
}

func TestGPIOLine_Slots(t *testing.T) {
	l, p, delays := newScriptLine(t)

	p.reads = []gpio.Level{gpio.Low}
	bit, err := l.ReadBit()
	require.NoError(t, err)
	assert.Equal(t, byte(0), bit)
	bit, err = l.ReadBit()
	require.NoError(t, err)
	assert.Equal(t, byte(1), bit)
	assert.Equal(t, []time.Duration{tReadLow, tReadSample, tReadRelease, tReadLow, tReadSample, tReadRelease}, *delays)

	*delays = nil
	require.NoError(t, l.WriteBit(1))
	require.NoError(t, l.WriteBit(0))
	assert.Equal(t, []time.Duration{tWrite1Low, tWrite1High, tWrite0Low, tWrite0High}, *delays)
	assert.Equal(t, gpio.High, p.L, "released after the slot")
	require.NoError(t, l.Close())
}
