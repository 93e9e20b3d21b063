package owbustest

import (
	"encoding/binary"

	"github.com/mcsakoff/go-owbus"
)

// MustAddress parses s and panics on error.
func MustAddress(s string) owbus.Address {
	a, err := owbus.ParseAddress(s, owbus.NewRegistry())
	if err != nil {
		panic(err)
	}
	return a
}

// transaction tracks the bytes of one function command.
type transaction struct {
	cmd  byte
	args []byte
	out  []byte
	busy bool
}

func (t *transaction) reset() {
	*t = transaction{}
}

func (t *transaction) read() byte {
	if len(t.out) == 0 {
		return 0xff
	}
	v := t.out[0]
	t.out = t.out[1:]
	return v
}

// ROM is a device that only takes part in ROM commands.
type ROM struct {
	Addr     owbus.Address
	Alarming bool
}

func (d *ROM) Address() owbus.Address { return d.Addr }
func (d *ROM) Alarm() bool            { return d.Alarming }
func (d *ROM) Reset()                 {}
func (d *ROM) Write(byte)             {}
func (d *ROM) Read() byte             { return 0xff }

// Thermometer simulates a DS18B20 family scratchpad. Temp, in 1/16 °C, is
// latched into the scratchpad on every CONVERT T.
type Thermometer struct {
	Addr owbus.Address
	Temp int16
	// CorruptCRC sends a wrong scratchpad CRC.
	CorruptCRC bool
	Alarming   bool

	// Scratchpad bytes 0-7: temperature, TH, TL, config, reserved.
	Scratchpad  [8]byte
	Conversions int
	Copies      int

	tx transaction
}

// NewThermometer returns a 12 bit thermometer reading temp.
func NewThermometer(addr owbus.Address, temp int16) *Thermometer {
	t := &Thermometer{Addr: addr, Temp: temp}
	t.Scratchpad = [8]byte{0x50, 0x05, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10}
	return t
}

func (d *Thermometer) Address() owbus.Address { return d.Addr }
func (d *Thermometer) Alarm() bool            { return d.Alarming }
func (d *Thermometer) Reset()                 { d.tx.reset() }
func (d *Thermometer) Read() byte             { return d.tx.read() }

// Resolution returns the bits programmed in the config register.
func (d *Thermometer) Resolution() int {
	return int(d.Scratchpad[4]>>5&0x03) + 9
}

func (d *Thermometer) Write(b byte) {
	if !d.tx.busy {
		d.tx.cmd, d.tx.busy = b, true
		d.command(b)
		return
	}
	d.tx.args = append(d.tx.args, b)
	if d.tx.cmd == 0x4e {
		switch len(d.tx.args) {
		case 1:
			d.Scratchpad[2] = b
		case 2:
			d.Scratchpad[3] = b
		case 3:
			if d.Addr.Family() != 0x10 {
				d.Scratchpad[4] = b
			}
		}
	}
}

func (d *Thermometer) command(b byte) {
	switch b {
	case 0x44:
		d.Conversions++
		if d.Addr.Family() == 0x10 {
			binary.LittleEndian.PutUint16(d.Scratchpad[0:2], uint16(d.Temp/8))
		} else {
			binary.LittleEndian.PutUint16(d.Scratchpad[0:2], uint16(d.Temp))
		}
	case 0xbe:
		d.tx.out = append(d.Scratchpad[:0:0], d.Scratchpad[:]...)
		crc := owbus.CRC8(d.tx.out)
		if d.CorruptCRC {
			crc ^= 0x5a
		}
		d.tx.out = append(d.tx.out, crc)
	case 0x48:
		d.Copies++
	}
}

// Port simulates the PIO of DS2408, DS2413, DS28E04 and DS28EA00. Pins
// follow the latch unless Pins is set.
type Port struct {
	Addr  owbus.Address
	Latch byte
	// Pins, if set, overrides the sensed pin levels.
	Pins func(latch byte) byte
	// WriteCmd is the channel access write command: A5h for DS28EA00, 5Ah
	// otherwise.
	WriteCmd byte
	// NoAck answers a write with 00h instead of AAh.
	NoAck bool
	// CorruptStatus breaks the complement nibble of status bytes.
	CorruptStatus bool

	Writes int
	tx     transaction
}

// NewPort returns a port with every output off.
func NewPort(addr owbus.Address) *Port {
	p := &Port{Addr: addr, WriteCmd: 0x5a}
	if addr.Family() == 0x42 {
		p.WriteCmd = 0xa5
	}
	p.Latch = p.regMask()
	return p
}

func (d *Port) regMask() byte {
	if d.Addr.Family() == 0x29 {
		return 0xff
	}
	return 0x03
}

func (d *Port) interleaved() bool {
	f := d.Addr.Family()
	return f == 0x3a || f == 0x42
}

func (d *Port) pins() byte {
	if d.Pins != nil {
		return d.Pins(d.Latch) & d.regMask()
	}
	return d.Latch
}

func (d *Port) status() byte {
	if !d.interleaved() {
		return d.pins()
	}
	p, l := d.pins(), d.Latch
	s := p&0x01 | (l&0x01)<<1 | (p&0x02)<<1 | (l&0x02)<<2
	s |= (^s & 0x0f) << 4
	if d.CorruptStatus {
		s ^= 0x10
	}
	return s
}

func (d *Port) Address() owbus.Address { return d.Addr }
func (d *Port) Reset()                 { d.tx.reset() }
func (d *Port) Read() byte             { return d.tx.read() }

func (d *Port) Write(b byte) {
	if !d.tx.busy {
		d.tx.cmd, d.tx.busy = b, true
		if b == 0xf5 {
			d.tx.out = []byte{d.status()}
		}
		return
	}
	d.tx.args = append(d.tx.args, b)
	switch d.tx.cmd {
	case d.WriteCmd:
		if len(d.tx.args) == 2 {
			if d.tx.args[0] != ^d.tx.args[1] || d.NoAck {
				d.tx.out = []byte{0x00, 0xff}
				return
			}
			d.Writes++
			d.Latch = d.tx.args[0] & d.regMask()
			d.tx.out = []byte{0xaa, d.status()}
		}
	case 0xf0:
		if len(d.tx.args) == 2 {
			d.tx.out = d.registers()
		}
	}
}

// registers answers READ PIO REGISTERS (DS2408) or READ MEMORY (DS28E04).
func (d *Port) registers() []byte {
	if d.Addr.Family() != 0x29 {
		return []byte{d.Latch}
	}
	data := []byte{d.Latch, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff}
	block := append([]byte{0xf0}, d.tx.args...)
	block = append(block, data...)
	crc := owbus.CRC16(block)
	return append(data, crc[0], crc[1])
}

// Multi routes each transaction to the first part that knows its command,
// as a DS28EA00 does with its thermometer and PIO.
type Multi struct {
	Therm  *Thermometer
	PIO    *Port
	active Device
}

// NewMulti returns a DS28EA00 style device.
func NewMulti(addr owbus.Address, temp int16) *Multi {
	return &Multi{Therm: NewThermometer(addr, temp), PIO: NewPort(addr)}
}

func (d *Multi) Address() owbus.Address { return d.Therm.Addr }

func (d *Multi) Reset() {
	d.active = nil
	d.Therm.Reset()
	d.PIO.Reset()
}

func (d *Multi) Write(b byte) {
	if d.active == nil {
		switch b {
		case 0xf5, d.PIO.WriteCmd:
			d.active = d.PIO
		default:
			d.active = d.Therm
		}
	}
	d.active.Write(b)
}

func (d *Multi) Read() byte {
	if d.active == nil {
		return 0xff
	}
	return d.active.Read()
}

// Simulate returns a simulated device for addr picked by its family code:
// thermometers read 25.0625 °C, ports start with every output off and
// other families only answer ROM commands.
func Simulate(addr owbus.Address) Device {
	switch addr.Family() {
	case 0x10, 0x22, 0x28:
		return NewThermometer(addr, 0x0191)
	case 0x1c, 0x29, 0x3a:
		return NewPort(addr)
	case 0x42:
		return NewMulti(addr, 0x0191)
	}
	return &ROM{Addr: addr}
}
