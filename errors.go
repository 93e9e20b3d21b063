package owbus

import (
	"errors"
	"fmt"
)

// Kind classifies errors produced by the bus engine.
type Kind int

const (
	// KindBusFault: line stuck low, no presence when expected, (1,1) during search.
	KindBusFault Kind = iota + 1
	// KindChecksumMismatch: CRC8/CRC16 or acknowledgement byte failure.
	KindChecksumMismatch
	// KindUnknownDevice: alias or address not defined.
	KindUnknownDevice
	// KindUnsupportedOperation: operation not implemented by the device.
	KindUnsupportedOperation
	// KindConfigurationError: missing or invalid definition parameter.
	KindConfigurationError
)

func (k Kind) String() string {
	switch k {
	case KindBusFault:
		return "BusFault"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindUnknownDevice:
		return "UnknownDevice"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	case KindConfigurationError:
		return "ConfigurationError"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrBusFault             = &Error{Kind: KindBusFault}
	ErrChecksumMismatch     = &Error{Kind: KindChecksumMismatch}
	ErrUnknownDevice        = &Error{Kind: KindUnknownDevice}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation}
	ErrConfiguration        = &Error{Kind: KindConfigurationError}
)

// Error is the error type returned by the bus engine.
//
// Bus faults implement periph's onewire.BusError; a stuck line also
// implements onewire.ShortedBusError and a missing presence pulse
// onewire.NoDevicesError.
type Error struct {
	Kind    Kind
	Op      string // operation, e.g. "scan", "port SET"
	Device  string // serial number or name, may be empty
	Msg     string
	Err     error
	shorted bool
	absent  bool
}

func (e *Error) Error() string {
	s := "owbus: " + e.Kind.String()
	if e.Op != "" {
		s += " in " + e.Op
	}
	if e.Device != "" {
		s += " [" + e.Device + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrBusFault) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// BusError implements onewire.BusError.
func (e *Error) BusError() bool { return e.Kind == KindBusFault }

// IsShorted implements onewire.ShortedBusError.
func (e *Error) IsShorted() bool { return e.shorted }

// NoDevices implements onewire.NoDevicesError.
func (e *Error) NoDevices() bool { return e.absent }

func busFault(op, format string, a ...interface{}) *Error {
	return &Error{Kind: KindBusFault, Op: op, Msg: fmt.Sprintf(format, a...)}
}

func stuckLine(op string) *Error {
	return &Error{Kind: KindBusFault, Op: op, Msg: "line stuck low", shorted: true}
}

func noPresence(op string) *Error {
	return &Error{Kind: KindBusFault, Op: op, Msg: "no device present", absent: true}
}

func crcError(op, device, format string, a ...interface{}) *Error {
	return &Error{Kind: KindChecksumMismatch, Op: op, Device: device, Msg: fmt.Sprintf(format, a...)}
}

// ConfigError returns a ConfigurationError for the named definition.
func ConfigError(device, format string, a ...interface{}) *Error {
	return &Error{Kind: KindConfigurationError, Device: device, Msg: fmt.Sprintf(format, a...)}
}

// UnknownDevice returns an UnknownDevice error for id.
func UnknownDevice(id string) *Error {
	return &Error{Kind: KindUnknownDevice, Device: id, Msg: "no defined instance"}
}

// Unsupported returns an UnsupportedOperation error naming op and device.
func Unsupported(op, device string) *Error {
	return &Error{Kind: KindUnsupportedOperation, Op: op, Device: device, Msg: "not supported"}
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
