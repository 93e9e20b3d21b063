package owbus

// Conceptual Overview
// -------------------
//
// Properly configured with respect to baud rate, data bits per character, parity and number of stop bits,
// a 115,200 bit per second capable UART provides the input and output timing necessary to implement a 1-Wire master.
// The UART produces the 1-Wire reset pulse, as well as read- and write-time slots. The microprocessor simply puts
// one-byte character codes into the UART transmit register to send a 1-Wire 1 or 0 bit and the UART does the work.
// Conversely, the microprocessor reads single-byte character codes corresponding to a 1 or 0 bit read from a 1-Wire device.
//
// For details see:
// Using an UART to Implement a 1-Wire Bus Master (http://www.maximintegrated.com/en/app-notes/index.mvp/id/214)

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// UARTLine drives a 1-Wire bus through a serial port (DS9097 style adapter).
type UARTLine struct {
	device string
	uart   serial.Port
	mode   serial.Mode
}

var openPort = serial.Open

// NewUARTLine opens the serial device at 115200 baud.
func NewUARTLine(device string) (*UARTLine, error) {
	l := &UARTLine{
		device: device,
		mode: serial.Mode{
			BaudRate: 115200,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
	p, err := openPort(device, &l.mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(time.Second); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := p.SetDTR(true); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("uart: %s: set DTR: %w", device, err)
	}
	l.uart = p
	return l, nil
}

func (l *UARTLine) String() string {
	return "uart(" + l.device + ")"
}

// Close closes the serial port.
func (l *UARTLine) Close() error {
	if l.uart != nil {
		return l.uart.Close()
	}
	return nil
}

// Reset sends the reset pulse as a 0xF0 character at 9600 baud. The echo is
// 0xF0 when nobody answered and 0x00 when the line is held low.
func (l *UARTLine) Reset() (bool, error) {
	l.mode.BaudRate = 9600
	if err := l.uart.SetMode(&l.mode); err != nil {
		return false, err
	}
	if err := l.clear(); err != nil {
		return false, err
	}

	var pulse = func() (bool, error) {
		if n, err := l.uart.Write([]byte{0xf0}); err != nil {
			return false, err
		} else if n != 1 {
			return false, fmt.Errorf("uart: failed to write reset pulse")
		}
		var buffer [1]byte
		if n, err := l.uart.Read(buffer[0:1]); err != nil {
			return false, err
		} else if n != 1 {
			return false, fmt.Errorf("uart: failed to read back reset pulse")
		}
		switch {
		case buffer[0] == 0x00:
			return false, stuckLine("reset")
		case buffer[0] == 0xf0:
			return false, nil
		case buffer[0]&0xf != 0x0:
			return false, busFault("reset", "reset pulse error 0x%x", buffer[0])
		}
		return true, nil
	}
	present, pulseErr := pulse()

	l.mode.BaudRate = 115200
	if err := l.uart.SetMode(&l.mode); err != nil {
		return false, err
	}
	return present, pulseErr
}

// ReadBit writes 0xff to open a read slot. A device sending 0 pulls the line
// low and we read back less than 0xff.
func (l *UARTLine) ReadBit() (byte, error) {
	_ = l.clear()

	if _, err := l.uart.Write([]byte{0xff}); err != nil {
		return 0, err
	}
	var buffer [1]byte
	if n, err := l.uart.Read(buffer[0:1]); err != nil {
		return 0, err
	} else if n != 1 {
		return 0, fmt.Errorf("uart: bits expected: 1, got: %d", n)
	}
	if buffer[0] == 0xff {
		return 0b1, nil
	}
	return 0b0, nil
}

// WriteBit writes the last bit of data. The read back value shall match,
// otherwise someone else was driving the bus at the same time.
func (l *UARTLine) WriteBit(data byte) error {
	_ = l.clear()

	if data%2 == 0 {
		data = 0x00
	} else {
		data = 0xff
	}
	if _, err := l.uart.Write([]byte{data}); err != nil {
		return err
	}
	var buffer [1]byte
	if n, err := l.uart.Read(buffer[0:1]); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("uart: WriteBit: cannot read back")
	}
	if data != buffer[0] {
		return busFault("write bit", "noise detected (got: 0x%02x, expected: 0x%02x)", buffer[0], data)
	}
	return nil
}

// ReadByte is ReadBit for 8 slots at once.
func (l *UARTLine) ReadByte() (byte, error) {
	_ = l.clear()

	if _, err := l.uart.Write([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}); err != nil {
		return 0, err
	}
	var buffer [8]byte
	if err := l.readFull(buffer[:]); err != nil {
		return 0, err
	}
	var data byte = 0
	for n, bit := range buffer {
		if bit == 0xff {
			data += 0x01 << n
		}
	}
	return data, nil
}

// WriteByte is WriteBit for 8 slots at once.
func (l *UARTLine) WriteByte(data byte) error {
	_ = l.clear()

	var bits = [8]byte{}
	for n := 0; n < 8; n++ {
		if (data>>n)%2 != 0 {
			bits[n] = 0xff
		}
	}
	if _, err := l.uart.Write(bits[0:8]); err != nil {
		return err
	}
	var buffer [8]byte
	if err := l.readFull(buffer[:]); err != nil {
		return err
	}
	for n, bit := range bits {
		if buffer[n] != bit {
			return busFault("write byte", "noise detected (got: 0x%02x, expected: 0x%02x)", buffer[n], bit)
		}
	}
	return nil
}

// readFull reads len(buf) echoed characters; a USB serial bridge may hand
// them over in several chunks.
func (l *UARTLine) readFull(buf []byte) error {
	for got := 0; got < len(buf); {
		n, err := l.uart.Read(buf[got:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("uart: bits expected: %d, got: %d", len(buf), got)
		}
		got += n
	}
	return nil
}

// Discards data in input/output buffers
func (l *UARTLine) clear() error {
	if err := l.uart.ResetOutputBuffer(); err != nil {
		return err
	}
	return l.uart.ResetInputBuffer()
}

var _ LineCloser = &UARTLine{}
var _ ByteLine = &UARTLine{}
