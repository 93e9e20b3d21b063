package owbus

// MemoryReader is implemented by devices with addressable memory.
type MemoryReader interface {
	Device
	ReadMemory(offset uint16, n int) ([]byte, error)
}

// Counter is a DS2423 RAM and counter device. Only identification and
// search are implemented.
type Counter struct {
	*Generic
}

func newCounter(b *Bus, addr Address, family byte, p Params) (Device, error) {
	d := &Counter{Generic: newGeneric(b, &addr, family, p)}
	d.category = CategoryCounter
	return d, nil
}

// ReadCounter reads one of the four page counters.
func (d *Counter) ReadCounter(page int) (uint32, error) {
	return 0, Unsupported("read counter", d.name())
}

func (d *Counter) ReadMemory(offset uint16, n int) ([]byte, error) {
	return nil, Unsupported("read memory", d.name())
}

// Gauge is a DS2438 battery monitor. Only identification and search are
// implemented.
type Gauge struct {
	*Generic
}

func newGauge(b *Bus, addr Address, family byte, p Params) (Device, error) {
	d := &Gauge{Generic: newGeneric(b, &addr, family, p)}
	d.category = CategoryGauge
	return d, nil
}

// ReadVoltage reads the VDD or VAD input.
func (d *Gauge) ReadVoltage(vdd bool) (float64, error) {
	return 0, Unsupported("read voltage", d.name())
}

func (d *Gauge) ReadMemory(offset uint16, n int) ([]byte, error) {
	return nil, Unsupported("read memory", d.name())
}

// EEPROMPort is a DS28E04: 4kb EEPROM with two PIO channels. Its address
// byte 1 holds the PIO pin states, so its CRC is checked against a mask.
type EEPROMPort struct {
	*PortDevice
}

func newEEPROMPort(b *Bus, addr Address, family byte, p Params) (Device, error) {
	port, err := newPort(b, addr, family, p)
	if err != nil {
		return nil, err
	}
	port.category = CategoryEEPROM
	return &EEPROMPort{PortDevice: port}, nil
}

func (d *EEPROMPort) ReadMemory(offset uint16, n int) ([]byte, error) {
	return nil, Unsupported("read memory", d.name())
}

// Multifunction is a DS28EA00: a thermometer with two PIO channels.
type Multifunction struct {
	*TemperatureSensor
	port *PortDevice
}

var (
	_ Thermometer  = (*Multifunction)(nil)
	_ Porter       = (*Multifunction)(nil)
	_ MemoryReader = (*EEPROMPort)(nil)
)

func newMultifunction(b *Bus, addr Address, family byte, p Params) (Device, error) {
	s, err := newTemperatureSensor(b, addr, family, p)
	if err != nil {
		return nil, err
	}
	port, err := newPort(b, addr, family, p)
	if err != nil {
		return nil, err
	}
	s.category = CategoryMultifunction
	return &Multifunction{TemperatureSensor: s, port: port}, nil
}

func (d *Multifunction) Port(op PortOp, operand byte) (byte, error) {
	return d.port.Port(op, operand)
}
