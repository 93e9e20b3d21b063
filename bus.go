package owbus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ROM commands.
const (
	cmdReadROM     = 0x33
	cmdMatchROM    = 0x55
	cmdSkipROM     = 0xcc
	cmdSearchROM   = 0xf0
	cmdAlarmSearch = 0xec
)

// Bus is one 1-Wire line together with the family registry used to build
// devices on it and the busy/ready gate that serializes long conversions.
//
// A Bus outlives every Device bound to it.
type Bus struct {
	line     Line
	registry *Registry
	clock    clockwork.Clock
	logger   *slog.Logger

	mx        sync.Mutex
	held      bool
	busyUntil time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithRegistry sets the family registry; NewRegistry() is used otherwise.
func WithRegistry(r *Registry) Option {
	return func(b *Bus) { b.registry = r }
}

// WithClock replaces the real clock, mostly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// NewBus binds a bus to line.
func NewBus(line Line, opts ...Option) *Bus {
	b := &Bus{line: line}
	for _, o := range opts {
		o(b)
	}
	if b.registry == nil {
		b.registry = NewRegistry()
	}
	if b.clock == nil {
		b.clock = clockwork.NewRealClock()
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

func (b *Bus) String() string {
	if s, ok := b.line.(fmt.Stringer); ok {
		return "bus{" + s.String() + "}"
	}
	return "bus"
}

// Registry returns the family registry of the bus.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Clock returns the clock used for conversion timing.
func (b *Bus) Clock() clockwork.Clock {
	return b.clock
}

// Close closes the line if it owns a resource.
func (b *Bus) Close() error {
	b.lock()
	defer b.unlock()

	if c, ok := b.line.(LineCloser); ok {
		return c.Close()
	}
	return nil
}

func (b *Bus) lock() {
	b.mx.Lock()
}

func (b *Bus) unlock() {
	b.mx.Unlock()
}

// Reset pulses the line and reports presence.
func (b *Bus) Reset() (bool, error) {
	b.lock()
	defer b.unlock()

	return b.line.Reset()
}

// ReadBit reads a single time slot.
func (b *Bus) ReadBit() (byte, error) {
	b.lock()
	defer b.unlock()

	return b.line.ReadBit()
}

// WriteBit writes a single time slot.
func (b *Bus) WriteBit(bit byte) error {
	b.lock()
	defer b.unlock()

	return b.line.WriteBit(bit)
}

// Read reads n bytes.
func (b *Bus) Read(n int) ([]byte, error) {
	b.lock()
	defer b.unlock()

	buf := make([]byte, n)
	if err := b.read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write writes buf.
func (b *Bus) Write(buf []byte) error {
	b.lock()
	defer b.unlock()

	return b.write(buf)
}

// checkedReset probes for a stuck line before pulsing reset.
func (b *Bus) checkedReset(op string) (bool, error) {
	if p, ok := b.line.(Prober); ok {
		stuck, err := p.Probe()
		if err != nil {
			return false, err
		}
		if stuck {
			return false, stuckLine(op)
		}
	}
	return b.line.Reset()
}

func (b *Bus) readByte() (byte, error) {
	if bl, ok := b.line.(ByteLine); ok {
		return bl.ReadByte()
	}
	var val byte
	for i := 0; i < 8; i++ {
		bit, err := b.line.ReadBit()
		if err != nil {
			return 0, err
		}
		val |= (bit & 1) << i
	}
	return val, nil
}

func (b *Bus) writeByte(val byte) error {
	if bl, ok := b.line.(ByteLine); ok {
		return bl.WriteByte(val)
	}
	for i := 0; i < 8; i++ {
		if err := b.line.WriteBit((val >> i) & 0x1); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) read(buf []byte) error {
	for i := range buf {
		v, err := b.readByte()
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

func (b *Bus) write(buf []byte) error {
	for _, v := range buf {
		if err := b.writeByte(v); err != nil {
			return err
		}
	}
	return nil
}

// Busy reports whether a conversion is holding the bus.
func (b *Bus) Busy() bool {
	b.lock()
	defer b.unlock()

	return b.held
}

// Ready reports whether the bus is free, clearing an expired hold.
func (b *Bus) Ready() bool {
	b.lock()
	defer b.unlock()

	return b.ready()
}

func (b *Bus) ready() bool {
	if b.held && !b.clock.Now().Before(b.busyUntil) {
		b.held = false
	}
	return !b.held
}

// Hold marks the bus busy for d.
func (b *Bus) Hold(d time.Duration) {
	b.lock()
	defer b.unlock()

	b.hold(d)
}

func (b *Bus) hold(d time.Duration) {
	if d > 0 {
		b.held = true
		b.busyUntil = b.clock.Now().Add(d)
	}
}

// Release clears any hold, e.g. when pending requests are flushed.
func (b *Bus) Release() {
	b.lock()
	defer b.unlock()

	b.held = false
}

// Status is the result of a reset based health check.
type Status struct {
	Present  bool         `json:"present"`
	Fault    bool         `json:"fault"`
	Shorted  bool         `json:"shorted,omitempty"`
	Message  string       `json:"message"`
	Families []FamilyInfo `json:"families,omitempty"`
}

// OK reports a healthy bus with at least one device.
func (s Status) OK() bool {
	return s.Present && !s.Fault
}

// Status resets the bus and reports presence or fault. With dump set, the
// registered families are listed and logged.
func (b *Bus) Status(dump bool) Status {
	b.lock()
	present, err := b.checkedReset("status")
	b.unlock()

	s := Status{Present: present, Message: "Bus OK"}
	switch {
	case err != nil:
		s.Fault = true
		s.Message = err.Error()
		if e, ok := err.(*Error); ok {
			s.Shorted = e.IsShorted()
		}
	case !present:
		s.Message = "Bus fault/no devices"
	}
	if dump {
		b.logger.Info("bus status", slog.String("bus", b.String()), slog.String("reset", s.Message))
		s.Families = b.registry.Families()
		for _, f := range s.Families {
			b.logger.Info("registered family", slog.String("code", fmt.Sprintf("%02X", f.Code)), slog.String("desc", f.Desc))
		}
	}
	return s
}

// READ ROM [33h]
//
// This command can only be used when there is one device on the bus. It allows the bus driver to read the
// device's 64-bit ROM code without using the Search ROM procedure.
func (b *Bus) ReadROM() (Address, error) {
	b.lock()
	defer b.unlock()

	var a Address
	if err := b.resetPresent("read rom"); err != nil {
		return a, err
	}
	if err := b.writeByte(cmdReadROM); err != nil {
		return a, err
	}
	if err := b.read(a[:]); err != nil {
		return a, err
	}
	if !a.Valid(b.registry) {
		return a, crcError("read rom", a.String(), "crc error")
	}
	return a, nil
}

// IsPresent walks the search path of addr and reports whether a device with
// that address answered every bit.
func (b *Bus) IsPresent(addr Address) (bool, error) {
	b.lock()
	defer b.unlock()

	present, err := b.line.Reset()
	if err != nil || !present {
		return false, err
	}
	if err := b.writeByte(cmdSearchROM); err != nil {
		return false, err
	}
	for _, bit := range addr.toBits() {
		b1, err := b.line.ReadBit()
		if err != nil {
			return false, err
		}
		b2, err := b.line.ReadBit()
		if err != nil {
			return false, err
		}
		if b1 == 1 && b2 == 1 {
			return false, nil
		}
		if b1 != b2 && b1 != bit {
			return false, nil
		}
		if err := b.line.WriteBit(bit); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (b *Bus) resetPresent(op string) error {
	present, err := b.line.Reset()
	if err != nil {
		return err
	}
	if !present {
		return noPresence(op)
	}
	return nil
}

// MATCH ROM [55h]
//
// Only the device that exactly matches the 64-bit ROM code sequence will respond to the function command
// issued by the bus driver; all other devices on the bus will wait for a reset pulse.
func (b *Bus) matchROM(addr Address) error {
	if err := b.resetPresent("match rom"); err != nil {
		return err
	}
	if err := b.writeByte(cmdMatchROM); err != nil {
		return err
	}
	return b.write(addr[:])
}

// SKIP ROM [CCh] addresses all devices on the bus simultaneously.
func (b *Bus) skipROM() error {
	if err := b.resetPresent("skip rom"); err != nil {
		return err
	}
	return b.writeByte(cmdSkipROM)
}
