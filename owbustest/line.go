// Package owbustest simulates a 1-Wire bus with attached devices, for tests
// and for running the command line tool without hardware.
package owbustest

import (
	"sync"

	"github.com/mcsakoff/go-owbus"
)

// Device is a simulated slave. Write receives each byte the master sends
// while the device is selected and Read supplies each byte it reads; the
// wired-AND of every selected device is what the master sees.
type Device interface {
	Address() owbus.Address
	Reset()
	Write(b byte)
	Read() byte
}

// Alarmer is implemented by devices that answer ALARM SEARCH.
type Alarmer interface {
	Alarm() bool
}

type mode int

const (
	modeIdle     mode = iota // after reset, expecting a ROM command
	modeMatch                // collecting the MATCH ROM address
	modeReadROM              // shifting out the READ ROM address
	modeSearch               // SEARCH ROM or ALARM SEARCH triplets
	modeFunction             // selected devices receive function bytes
	modeIgnore               // nobody selected until the next reset
)

// Line is a simulated bus implementing owbus.Line and owbus.Prober.
type Line struct {
	mx      sync.Mutex
	devices []Device

	// Stuck makes the line read low permanently.
	Stuck bool
	// NoResponseAt, when non-negative, makes both search reads return 1 at
	// that bit position.
	NoResponseAt int

	mode     mode
	selected []Device
	in       byte // bits written so far, LSB first
	inBits   int
	out      byte
	outBits  int
	matchBuf []byte
	romBuf   []byte

	pos         int
	phase       int // 0 read true bit, 1 read complement, 2 expect direction
	searchAlarm bool

	resets int
}

var (
	_ owbus.Line   = (*Line)(nil)
	_ owbus.Prober = (*Line)(nil)
)

// NewLine returns a line with devices attached.
func NewLine(devices ...Device) *Line {
	return &Line{devices: devices, NoResponseAt: -1}
}

// Attach adds devices to the line.
func (l *Line) Attach(devices ...Device) {
	l.mx.Lock()
	defer l.mx.Unlock()

	l.devices = append(l.devices, devices...)
}

// Detach removes the device with addr.
func (l *Line) Detach(addr owbus.Address) {
	l.mx.Lock()
	defer l.mx.Unlock()

	kept := l.devices[:0]
	for _, d := range l.devices {
		if d.Address() != addr {
			kept = append(kept, d)
		}
	}
	l.devices = kept
}

// Resets returns the number of reset pulses seen.
func (l *Line) Resets() int {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.resets
}

func (l *Line) String() string {
	return "sim"
}

// Probe reports a stuck line.
func (l *Line) Probe() (bool, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.Stuck, nil
}

func (l *Line) Reset() (bool, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	l.resets++
	l.mode = modeIdle
	l.selected = nil
	l.in, l.inBits = 0, 0
	l.outBits = 0
	for _, d := range l.devices {
		d.Reset()
	}
	return !l.Stuck && len(l.devices) > 0, nil
}

func (l *Line) ReadBit() (byte, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	if l.Stuck {
		return 0, nil
	}
	switch l.mode {
	case modeSearch:
		return l.searchRead(), nil
	case modeReadROM, modeFunction:
		if l.outBits == 0 {
			l.out = l.nextByte()
			l.outBits = 8
		}
		bit := l.out & 1
		l.out >>= 1
		l.outBits--
		return bit, nil
	}
	return 1, nil
}

func (l *Line) WriteBit(bit byte) error {
	l.mx.Lock()
	defer l.mx.Unlock()

	if l.mode == modeSearch {
		l.searchWrite(bit & 1)
		return nil
	}
	l.in |= (bit & 1) << l.inBits
	l.inBits++
	if l.inBits == 8 {
		v := l.in
		l.in, l.inBits = 0, 0
		l.writeByte(v)
	}
	return nil
}

func (l *Line) writeByte(v byte) {
	switch l.mode {
	case modeIdle:
		l.romCommand(v)
	case modeMatch:
		l.matchBuf = append(l.matchBuf, v)
		if len(l.matchBuf) == 8 {
			var a owbus.Address
			copy(a[:], l.matchBuf)
			l.selected = nil
			for _, d := range l.devices {
				if d.Address() == a {
					l.selected = append(l.selected, d)
				}
			}
			l.mode = modeFunction
			if len(l.selected) == 0 {
				l.mode = modeIgnore
			}
		}
	case modeFunction:
		for _, d := range l.selected {
			d.Write(v)
		}
	}
}

func (l *Line) romCommand(v byte) {
	switch v {
	case 0x55:
		l.mode = modeMatch
		l.matchBuf = l.matchBuf[:0]
	case 0xcc:
		l.mode = modeFunction
		l.selected = append([]Device(nil), l.devices...)
	case 0x33:
		l.mode = modeReadROM
		l.romBuf = l.romBuf[:0]
		l.selected = append([]Device(nil), l.devices...)
		var a owbus.Address
		for i := range a {
			a[i] = 0xff
		}
		for _, d := range l.devices {
			da := d.Address()
			for i := range a {
				a[i] &= da[i]
			}
		}
		l.romBuf = append(l.romBuf, a[:]...)
	case 0xf0, 0xec:
		l.mode = modeSearch
		l.searchAlarm = v == 0xec
		l.pos, l.phase = 0, 0
		l.selected = l.selected[:0]
		for _, d := range l.devices {
			if l.searchAlarm {
				if a, ok := d.(Alarmer); !ok || !a.Alarm() {
					continue
				}
			}
			l.selected = append(l.selected, d)
		}
	default:
		l.mode = modeIgnore
	}
}

func (l *Line) nextByte() byte {
	if l.mode == modeReadROM {
		if len(l.romBuf) > 0 {
			v := l.romBuf[0]
			l.romBuf = l.romBuf[1:]
			if len(l.romBuf) == 0 {
				l.mode = modeFunction
			}
			return v
		}
		return 0xff
	}
	v := byte(0xff)
	for _, d := range l.selected {
		v &= d.Read()
	}
	return v
}

// searchRead returns the wired-AND of the participants' current bit, or of
// its complement.
func (l *Line) searchRead() byte {
	if l.phase == 2 || l.pos >= 64 {
		return 1
	}
	if l.pos == l.NoResponseAt {
		l.phase++
		return 1
	}
	v := byte(1)
	for _, d := range l.selected {
		bit := d.Address().Bit(l.pos)
		if l.phase == 1 {
			bit ^= 1
		}
		v &= bit
	}
	l.phase++
	return v
}

func (l *Line) searchWrite(bit byte) {
	if l.pos >= 64 {
		return
	}
	kept := l.selected[:0]
	for _, d := range l.selected {
		if d.Address().Bit(l.pos) == bit {
			kept = append(kept, d)
		}
	}
	l.selected = kept
	l.pos++
	l.phase = 0
	if l.pos == 64 {
		l.mode = modeFunction
	}
}
