package owbus

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Standard speed slot timings, Maxim application note 126.
const (
	tResetLow     = 480 * time.Microsecond
	tPresenceWait = 70 * time.Microsecond
	tResetRelease = 410 * time.Microsecond
	tWrite1Low    = 6 * time.Microsecond
	tWrite1High   = 64 * time.Microsecond
	tWrite0Low    = 60 * time.Microsecond
	tWrite0High   = 10 * time.Microsecond
	tReadLow      = 6 * time.Microsecond
	tReadSample   = 9 * time.Microsecond
	tReadRelease  = 55 * time.Microsecond
)

// GPIOLine bit-bangs a 1-Wire bus on a single open-drain capable pin. The
// pin is driven low for a zero and released (input with pull-up) otherwise.
//
// Timing relies on busy waiting and is only reliable on a host where the
// calling goroutine is not preempted for tens of microseconds.
type GPIOLine struct {
	pin gpio.PinIO
}

// NewGPIOLine releases the pin and returns the line.
func NewGPIOLine(p gpio.PinIO) (*GPIOLine, error) {
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, err
	}
	return &GPIOLine{pin: p}, nil
}

func (l *GPIOLine) String() string {
	return "gpio(" + l.pin.String() + ")"
}

// Probe re-initializes the pin as an input and samples the idle level.
func (l *GPIOLine) Probe() (bool, error) {
	if err := l.pin.Halt(); err != nil {
		return false, err
	}
	if err := l.release(); err != nil {
		return false, err
	}
	return l.pin.Read() == gpio.Low, nil
}

// Reset implements Line.
func (l *GPIOLine) Reset() (bool, error) {
	if err := l.pin.Out(gpio.Low); err != nil {
		return false, err
	}
	delay(tResetLow)
	if err := l.release(); err != nil {
		return false, err
	}
	delay(tPresenceWait)
	present := l.pin.Read() == gpio.Low
	delay(tResetRelease)
	if l.pin.Read() == gpio.Low {
		return false, stuckLine("reset")
	}
	return present, nil
}

// ReadBit implements Line.
func (l *GPIOLine) ReadBit() (byte, error) {
	if err := l.pin.Out(gpio.Low); err != nil {
		return 0, err
	}
	delay(tReadLow)
	if err := l.release(); err != nil {
		return 0, err
	}
	delay(tReadSample)
	v := l.pin.Read()
	delay(tReadRelease)
	if v == gpio.High {
		return 0b1, nil
	}
	return 0b0, nil
}

// WriteBit implements Line.
func (l *GPIOLine) WriteBit(bit byte) error {
	low, high := tWrite0Low, tWrite0High
	if bit&1 != 0 {
		low, high = tWrite1Low, tWrite1High
	}
	if err := l.pin.Out(gpio.Low); err != nil {
		return err
	}
	delay(low)
	if err := l.release(); err != nil {
		return err
	}
	delay(high)
	return nil
}

// Close releases the pin.
func (l *GPIOLine) Close() error {
	return l.release()
}

func (l *GPIOLine) release() error {
	return l.pin.In(gpio.PullUp, gpio.NoEdge)
}

// delay busy waits; time.Sleep granularity is far coarser than a bit slot.
var delay = func(d time.Duration) {
	for end := time.Now().Add(d); time.Now().Before(end); {
	}
}

var _ LineCloser = &GPIOLine{}
var _ Prober = &GPIOLine{}
