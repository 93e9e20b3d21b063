package owbus

import (
	"fmt"
	"strconv"
	"strings"
)

// PortOp is a logical port operation.
type PortOp string

const (
	PortIn     PortOp = "IN"     // read pin levels
	PortReg    PortOp = "REG"    // read output latch
	PortOut    PortOp = "OUT"    // write every output
	PortReset  PortOp = "RESET"  // switch every output off
	PortSet    PortOp = "SET"    // switch the operand bits on
	PortClear  PortOp = "CLEAR"  // switch the operand bits off
	PortToggle PortOp = "TOGGLE" // invert the operand bits
	PortPulse  PortOp = "PULSE"  // toggle the operand bits and restore them
)

// ParsePortOp accepts an operation name in any case.
func ParsePortOp(s string) (PortOp, error) {
	switch op := PortOp(strings.ToUpper(strings.TrimSpace(s))); op {
	case PortIn, PortReg, PortOut, PortReset, PortSet, PortClear, PortToggle, PortPulse:
		return op, nil
	}
	return "", fmt.Errorf("invalid port operation %q", s)
}

// ParseChannel maps a channel name, 0-7 or a-h, to its bit.
func ParseChannel(s string) (byte, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 {
		switch c := s[0]; {
		case c >= '0' && c <= '7':
			return 1 << (c - '0'), nil
		case c >= 'a' && c <= 'h':
			return 1 << (c - 'a'), nil
		}
	}
	return 0, fmt.Errorf("invalid channel %q", s)
}

// ParseOperand parses a port operand in decimal, 0x hex or 0b binary.
func ParseOperand(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid operand %q", s)
	}
	return byte(v), nil
}

// Porter is implemented by devices with programmable I/O.
type Porter interface {
	Device
	Port(op PortOp, operand byte) (byte, error)
}

// portModel is the register layout of one port family.
type portModel struct {
	regMask     byte   // implemented bits
	interleaved bool   // pin and latch bits alternate in the status byte
	writeCmd    byte   // channel access write
	latchCmd    []byte // latch read command; nil reads the status byte
	latchCRC    bool   // latch read ends in CRC16
	latchLen    int
}

func portModelFor(family byte) portModel {
	switch family {
	case 0x29: // DS2408
		return portModel{regMask: 0xff, writeCmd: 0x5a, latchCmd: []byte{0xf0, 0x89, 0x00}, latchCRC: true, latchLen: 7}
	case 0x1c: // DS28E04
		return portModel{regMask: 0x03, writeCmd: 0x5a, latchCmd: []byte{0xf0, 0x21, 0x02}, latchLen: 1}
	case 0x42: // DS28EA00
		return portModel{regMask: 0x03, interleaved: true, writeCmd: 0xa5}
	default: // DS2413, both outputs addressable unless the mask param narrows them
		return portModel{regMask: 0x03, interleaved: true, writeCmd: 0x5a}
	}
}

// PortDevice drives the PIO of DS2408, DS2413, DS28E04 and DS28EA00.
//
// Outputs are open drain: a latch bit of 0 sinks current and reads as "on".
// Logical operations work on inverted latch values, further XORed with the
// configured invert mask. The operand is limited to the configured mask.
type PortDevice struct {
	*Generic
	model  portModel
	mask   byte
	invert byte
	latch  byte // last latch value seen
}

var _ Porter = (*PortDevice)(nil)

func newPortDevice(b *Bus, addr Address, family byte, p Params) (Device, error) {
	return newPort(b, addr, family, p)
}

// NewPortDevice creates a port device. The operand mask defaults to every
// implemented bit.
func NewPortDevice(b *Bus, addr Address, p Params) (*PortDevice, error) {
	return newPort(b, addr, addr.Family(), p)
}

func newPort(b *Bus, addr Address, family byte, p Params) (*PortDevice, error) {
	d := &PortDevice{
		Generic: newGeneric(b, &addr, family, p),
		model:   portModelFor(family),
	}
	d.category = CategoryPort
	d.mask = d.model.regMask
	if p.Mask != nil {
		if *p.Mask&^d.model.regMask != 0 {
			return nil, ConfigError(addr.String(), "mask %#02x exceeds port width %#02x", *p.Mask, d.model.regMask)
		}
		d.mask = *p.Mask
	}
	d.invert = p.Invert & d.model.regMask
	d.latch = d.model.regMask
	return d, nil
}

// Width returns the implemented bits.
func (d *PortDevice) Width() byte { return d.model.regMask }

// Mask returns the operand mask.
func (d *PortDevice) Mask() byte { return d.mask }

// Latch returns the cached raw latch value.
func (d *PortDevice) Latch() byte {
	d.bus.lock()
	defer d.bus.unlock()

	return d.latch
}

// Port performs op and returns the logical port value after it: pin levels
// for IN and the output state otherwise.
func (d *PortDevice) Port(op PortOp, operand byte) (byte, error) {
	d.bus.lock()
	defer d.bus.unlock()

	operand &= d.mask
	var raw byte
	var err error
	switch op {
	case PortIn:
		raw, err = d.pins()
	case PortReg:
		raw, err = d.readLatch()
	case PortReset:
		raw, err = d.writeLatch(d.model.regMask)
	case PortOut:
		// TODO: check OUT polarity on a DS2408 with sinking loads; the latch
		// receives the complement of the requested value.
		raw, err = d.writeLogical(operand)
	case PortSet, PortClear, PortToggle, PortPulse:
		raw, err = d.modify(op, operand)
	default:
		return 0, Unsupported("port "+string(op), d.name())
	}
	if err != nil {
		return 0, err
	}
	return d.logical(raw), nil
}

func (d *PortDevice) logical(raw byte) byte {
	return (^raw ^ d.invert) & d.model.regMask
}

func (d *PortDevice) writeLogical(v byte) (byte, error) {
	return d.writeLatch(^(v ^ d.invert))
}

func (d *PortDevice) modify(op PortOp, operand byte) (byte, error) {
	cur, err := d.readLatch()
	if err != nil {
		return 0, err
	}
	v := d.logical(cur)
	switch op {
	case PortSet:
		return d.writeLogical(v | operand)
	case PortClear:
		return d.writeLogical(v &^ operand)
	case PortToggle:
		return d.writeLogical(v ^ operand)
	}
	// PULSE
	if _, err := d.writeLogical(v ^ operand); err != nil {
		return 0, err
	}
	return d.writeLogical(v)
}

// PIO ACCESS READ [F5h]
// Returns the pin levels. Interleaved status bytes carry their complement
// in the upper nibble.
func (d *PortDevice) pins() (byte, error) {
	s, err := d.status("pio read")
	if err != nil {
		return 0, err
	}
	if d.model.interleaved {
		return (s&0x04)>>1 | s&0x01, nil
	}
	return s & d.model.regMask, nil
}

func (d *PortDevice) status(op string) (byte, error) {
	if err := d.sel(false); err != nil {
		return 0, err
	}
	if err := d.bus.writeByte(0xf5); err != nil {
		return 0, err
	}
	s, err := d.bus.readByte()
	if err != nil {
		return 0, err
	}
	if d.model.interleaved && (s>>4) != (^s&0x0f) {
		return 0, crcError(op, d.name(), "status %#02x fails complement check", s)
	}
	return s, nil
}

// readLatch reads the raw output latch.
func (d *PortDevice) readLatch() (byte, error) {
	if d.model.latchCmd == nil {
		s, err := d.status("latch read")
		if err != nil {
			return 0, err
		}
		d.latch = (s&0x08)>>2 | (s&0x02)>>1
		return d.latch, nil
	}
	if err := d.sel(false); err != nil {
		return 0, err
	}
	if err := d.bus.write(d.model.latchCmd); err != nil {
		return 0, err
	}
	n := d.model.latchLen
	if d.model.latchCRC {
		n += 2
	}
	data := make([]byte, n)
	if err := d.bus.read(data); err != nil {
		return 0, err
	}
	if d.model.latchCRC {
		block := append(append([]byte{}, d.model.latchCmd...), data...)
		if CRC16Check(block) != 0 {
			return 0, crcError("latch read", d.name(), "register CRC16 mismatch")
		}
	}
	d.latch = data[0] & d.model.regMask
	return d.latch, nil
}

// PIO ACCESS WRITE [5Ah] / [A5h]
// Unimplemented bits are written as 1. The device answers AAh followed by
// a status byte. On DS2408 and DS28E04 that byte is the pin state, which
// differs from the latch wherever an input is driven externally, so the
// acknowledged value is cached instead.
func (d *PortDevice) writeLatch(data byte) (byte, error) {
	data = data&d.model.regMask | ^d.model.regMask
	if err := d.sel(false); err != nil {
		return 0, err
	}
	if err := d.bus.write([]byte{d.model.writeCmd, data, ^data}); err != nil {
		return 0, err
	}
	resp := make([]byte, 2)
	if err := d.bus.read(resp); err != nil {
		return 0, err
	}
	if resp[0] != 0xaa {
		return 0, crcError("pio write", d.name(), "no confirmation, got %#02x", resp[0])
	}
	d.latch = data & d.model.regMask
	return d.latch, nil
}
