package owbus

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Units selects the representation of a temperature reading.
type Units string

const (
	Celsius    Units = "C"
	Fahrenheit Units = "F"
	Kelvin     Units = "K"
	Rankine    Units = "R"
	RawHex     Units = "X"
	// AllUnits returns every representation as a map.
	AllUnits Units = "-"
)

const (
	DefaultResolution = 12
	DefaultUnits      = Fahrenheit
)

// ParseUnits accepts C, F, K, R, X and "-" or "all" for every unit.
func ParseUnits(s string) (Units, error) {
	switch u := Units(strings.ToUpper(strings.TrimSpace(s))); u {
	case Celsius, Fahrenheit, Kelvin, Rankine, RawHex, AllUnits:
		return u, nil
	case "ALL":
		return AllUnits, nil
	}
	return "", ConfigError("", "invalid units %q", s)
}

// ConversionDelay is the datasheet conversion time for a resolution.
func ConversionDelay(bits int) time.Duration {
	if bits < 9 || bits > 12 {
		bits = 12
	}
	return 800 * time.Millisecond >> (12 - bits)
}

// Reading is a converted temperature. Value is in 1/16 °C.
type Reading struct {
	Raw   uint16 `json:"raw"`
	Value int16  `json:"value"`
	Units Units  `json:"units,omitempty"` // requested representation
}

// Temperature returns the reading as a physic.Temperature.
func (r Reading) Temperature() physic.Temperature {
	return physic.Temperature(r.Value)*physic.Kelvin/16 + physic.ZeroCelsius
}

func (r Reading) Celsius() float64 {
	return float64(r.Temperature()-physic.ZeroCelsius) / float64(physic.Kelvin)
}

func (r Reading) Fahrenheit() float64 {
	return r.Celsius()*1.8 + 32
}

func (r Reading) Kelvin() float64 {
	return float64(r.Temperature()) / float64(physic.Kelvin)
}

func (r Reading) Rankine() float64 {
	return r.Kelvin() * 1.8
}

func (r Reading) Hex() string {
	return fmt.Sprintf("0x%04X", r.Raw)
}

// In returns the reading in u: a float64 for scales, a string for RawHex
// and a map keyed by unit letter for AllUnits.
func (r Reading) In(u Units) interface{} {
	switch u {
	case Celsius:
		return r.Celsius()
	case Kelvin:
		return r.Kelvin()
	case Rankine:
		return r.Rankine()
	case RawHex:
		return r.Hex()
	case AllUnits:
		return map[string]interface{}{
			"C": r.Celsius(),
			"F": r.Fahrenheit(),
			"K": r.Kelvin(),
			"R": r.Rankine(),
			"X": r.Hex(),
		}
	default:
		return r.Fahrenheit()
	}
}

// Requested returns the reading in the units it was requested in.
func (r Reading) Requested() interface{} {
	return r.In(r.Units)
}

func (r Reading) String() string {
	return r.Temperature().String()
}

type conversionState int

const (
	stateIdle conversionState = iota
	statePending
)

// Thermometer is implemented by devices that measure temperature.
type Thermometer interface {
	Device
	Units() Units
	RequestTemperature(units Units, blocking bool) (Reading, bool, error)
	Cancel()
}

// TemperatureSensor drives DS18S20, DS1822 and DS18B20 thermometers.
//
// A request starts a conversion and holds the bus for its duration; the
// scratchpad is read by the first request made after the conversion is
// due. Readings are never returned before that.
type TemperatureSensor struct {
	*Generic
	resolution int
	units      Units
	tConv      time.Duration // temperature conversion time
	tRW        time.Duration // eeprom write time

	state   conversionState
	readyAt time.Time
}

var _ Thermometer = (*TemperatureSensor)(nil)

func newThermometer(b *Bus, addr Address, family byte, p Params) (Device, error) {
	return newTemperatureSensor(b, addr, family, p)
}

// NewTemperatureSensor creates a thermometer. Resolution defaults to 12 bits
// and units to Fahrenheit; invalid values fall back to the defaults. Failing
// to program the resolution is logged and the sensor is still returned.
func NewTemperatureSensor(b *Bus, addr Address, p Params) (*TemperatureSensor, error) {
	return newTemperatureSensor(b, addr, addr.Family(), p)
}

func newTemperatureSensor(b *Bus, addr Address, family byte, p Params) (*TemperatureSensor, error) {
	s := &TemperatureSensor{
		Generic:    newGeneric(b, &addr, family, p),
		resolution: DefaultResolution,
		units:      DefaultUnits,
		tRW:        10 * time.Millisecond,
	}
	s.category = CategoryTemperature
	if p.Units != "" {
		if u, err := ParseUnits(p.Units); err != nil {
			s.log().Warn("invalid units, using default", slog.String("units", p.Units))
		} else {
			s.units = u
		}
	}
	bits := DefaultResolution
	if p.Resolution != 0 {
		if p.Resolution < 9 || p.Resolution > 12 {
			s.log().Warn("invalid resolution, using default", slog.Int("bits", p.Resolution))
		} else {
			bits = p.Resolution
		}
	}
	s.tConv = ConversionDelay(s.resolution)

	if s.family == 0x10 {
		// Fixed 9 bit register extended by COUNT_REMAIN.
		return s, nil
	}
	if err := s.SetResolution(bits); err != nil {
		s.log().Warn("cannot set resolution", slog.Int("bits", bits), slog.String("err", err.Error()))
	}
	return s, nil
}

func (s *TemperatureSensor) Units() Units { return s.units }

func (s *TemperatureSensor) Resolution() int { return s.resolution }

func (s *TemperatureSensor) ConversionDelay() time.Duration { return s.tConv }

// Pending reports whether a conversion was started and not yet read.
func (s *TemperatureSensor) Pending() bool {
	s.bus.lock()
	defer s.bus.unlock()

	return s.state == statePending
}

// RequestTemperature advances the conversion state machine.
//
// Idle: a conversion is started. Non-blocking requests return ready=false
// and hold the bus until the conversion is due; blocking requests sleep
// and read. Pending: the scratchpad is read once the conversion is due;
// before that non-blocking requests return ready=false and blocking ones
// sleep the remaining time. A reading carries units and converts to them
// with Requested.
func (s *TemperatureSensor) RequestTemperature(units Units, blocking bool) (Reading, bool, error) {
	s.bus.lock()
	defer s.bus.unlock()

	if s.state == stateIdle {
		if !s.bus.ready() {
			if !blocking {
				return Reading{}, false, nil
			}
			s.bus.clock.Sleep(s.bus.busyUntil.Sub(s.bus.clock.Now()))
			s.bus.held = false
		}
		if err := s.convertT(); err != nil {
			return Reading{}, false, err
		}
		if !blocking {
			s.state = statePending
			s.readyAt = s.bus.clock.Now().Add(s.tConv)
			s.bus.hold(s.tConv)
			return Reading{}, false, nil
		}
		s.bus.clock.Sleep(s.tConv)
		return s.read(units)
	}

	if wait := s.readyAt.Sub(s.bus.clock.Now()); wait > 0 {
		if !blocking {
			return Reading{}, false, nil
		}
		s.bus.clock.Sleep(wait)
	}
	return s.read(units)
}

// Cancel drops a pending conversion without reading it.
func (s *TemperatureSensor) Cancel() {
	s.bus.lock()
	defer s.bus.unlock()

	s.state = stateIdle
}

// read finishes a conversion, releases the bus and tags the reading with
// units.
func (s *TemperatureSensor) read(units Units) (Reading, bool, error) {
	s.state = stateIdle
	s.bus.held = false
	sp, err := s.readScratchpad()
	if err != nil {
		return Reading{}, false, err
	}
	r := s.calcTemperature(sp)
	r.Units = units
	return r, true, nil
}

// SetResolution programs 9 to 12 bits of resolution and stores it in
// EEPROM. The conversion time follows the new resolution.
func (s *TemperatureSensor) SetResolution(bits int) error {
	if bits < 9 || bits > 12 {
		return ConfigError(s.name(), "resolution %d out of range 9..12", bits)
	}
	if s.family == 0x10 {
		return Unsupported("set resolution", s.name())
	}

	s.bus.lock()
	defer s.bus.unlock()

	sp, err := s.readScratchpad()
	if err != nil {
		return err
	}
	cfg := byte(bits-9)<<5 | 0x1f
	if err := s.writeScratchpad([]byte{sp[2], sp[3], cfg}); err != nil {
		return err
	}
	if err := s.copyScratchpad(); err != nil {
		return err
	}
	s.resolution = bits
	s.tConv = ConversionDelay(bits)
	return nil
}

// Alarms returns the TH and TL alarm thresholds in °C.
func (s *TemperatureSensor) Alarms() (int8, int8, error) {
	s.bus.lock()
	defer s.bus.unlock()

	sp, err := s.readScratchpad()
	if err != nil {
		return 0, 0, err
	}
	return int8(sp[2]), int8(sp[3]), nil
}

// SetAlarms writes the TH and TL alarm thresholds in °C.
func (s *TemperatureSensor) SetAlarms(high, low int8) error {
	s.bus.lock()
	defer s.bus.unlock()

	sp, err := s.readScratchpad()
	if err != nil {
		return err
	}
	data := []byte{byte(high), byte(low)}
	if s.family != 0x10 {
		data = append(data, sp[4])
	}
	return s.writeScratchpad(data)
}

// CONVERT T [44h]
// This command initiates a single temperature conversion.
func (s *TemperatureSensor) convertT() error {
	if err := s.sel(false); err != nil {
		return err
	}
	return s.bus.writeByte(0x44)
}

// READ SCRATCHPAD [BEh]
// This command allows the bus driver to read the contents of the scratchpad.
func (s *TemperatureSensor) readScratchpad() ([]byte, error) {
	if err := s.sel(false); err != nil {
		return nil, err
	}
	if err := s.bus.writeByte(0xbe); err != nil {
		return nil, err
	}
	data := make([]byte, 9)
	if err := s.bus.read(data); err != nil {
		return nil, err
	}
	if CRC8(data) != 0 {
		if allOnes(data) {
			return nil, busFault("read scratchpad", "%s did not respond", s.name())
		}
		return nil, crcError("read scratchpad", s.name(), "scratchpad crc error")
	}
	return data[:8], nil
}

// WRITE SCRATCHPAD [4Eh]
// All bytes MUST be written before the master issues a reset.
func (s *TemperatureSensor) writeScratchpad(data []byte) error {
	if err := s.sel(false); err != nil {
		return err
	}
	if err := s.bus.writeByte(0x4e); err != nil {
		return err
	}
	return s.bus.write(data)
}

// COPY SCRATCHPAD [48h]
// This command copies the contents of the scratchpad to EEPROM. The bus is
// held while the EEPROM is written.
func (s *TemperatureSensor) copyScratchpad() error {
	if err := s.sel(false); err != nil {
		return err
	}
	if err := s.bus.writeByte(0x48); err != nil {
		return err
	}
	s.bus.hold(s.tRW)
	return nil
}

// calcTemperature normalizes the scratchpad to 1/16 °C.
func (s *TemperatureSensor) calcTemperature(scratchpad []byte) Reading {
	raw := binary.LittleEndian.Uint16(scratchpad[0:2])
	r := Reading{Raw: raw, Value: int16(raw)}
	if s.family == 0x10 {
		if scratchpad[7] != 0 {
			// COUNT_PER_C is 16 on every part: T = raw/2 - 0.25 + (16-COUNT_REMAIN)/16.
			r.Value = int16(raw&0xfffe)<<3 + 12 - int16(scratchpad[6])
		} else {
			r.Value = int16(raw) << 3
		}
	}
	return r
}

func allOnes(data []byte) bool {
	for _, v := range data {
		if v != 0xff {
			return false
		}
	}
	return true
}
