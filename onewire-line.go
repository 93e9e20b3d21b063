package owbus

// Line is the bit transport of a 1-Wire master.
//
// Reset pulses the line and reports whether any device answered with a
// presence pulse. A line that is held low must be reported as an error of
// kind KindBusFault (see Prober), not as "no presence".
type Line interface {
	Reset() (bool, error)
	ReadBit() (byte, error)
	WriteBit(bit byte) error
}

// ByteLine is implemented by lines that move whole bytes faster than eight
// bit slots. Bits are sent least significant first.
type ByteLine interface {
	ReadByte() (byte, error)
	WriteByte(b byte) error
}

// Prober is implemented by lines that can sample the idle level after
// re-initializing the pin. stuck is true when the idle line reads low.
type Prober interface {
	Probe() (stuck bool, err error)
}

// LineCloser is a line that owns a resource.
type LineCloser interface {
	Line
	Close() error
}
