package owbus

import (
	"fmt"
	"sort"
	"sync"
)

// Category tags the operation family a device natively serves.
type Category string

const (
	CategoryBus           Category = "bus"
	CategoryTemperature   Category = "temperature"
	CategoryPort          Category = "port"
	CategoryCounter       Category = "counter"
	CategoryGauge         Category = "gauge"
	CategoryEEPROM        Category = "eeprom"
	CategoryMultifunction Category = "multifunction"
)

// Constructor builds a device of family bound to bus and address. family
// differs from the address family when the definition overrides it.
type Constructor func(b *Bus, addr Address, family byte, p Params) (Device, error)

// FamilyInfo describes a registered device family.
type FamilyInfo struct {
	Code     byte        `json:"code"`
	Name     string      `json:"name"`
	Desc     string      `json:"desc"`
	Category Category    `json:"category"`
	HasMask  bool        `json:"-"`
	Mask     byte        `json:"-"` // replaces address byte 1 for CRC checks
	New      Constructor `json:"-"`
}

// Params are the per-instance parameters of a device definition.
type Params struct {
	Resolution int    `yaml:"resolution" json:"resolution,omitempty"`
	Units      string `yaml:"units" json:"units,omitempty"`
	Mask       *byte  `yaml:"mask" json:"mask,omitempty"`
	Invert     byte   `yaml:"invert" json:"invert,omitempty"`
	Desc       string `yaml:"desc" json:"desc,omitempty"`
}

// Registry maps family codes to device constructors. It is built once at
// startup and shared by reference.
type Registry struct {
	mx       sync.RWMutex
	families map[byte]FamilyInfo
}

// NewRegistry returns a registry with the built-in families.
func NewRegistry() *Registry {
	r := &Registry{families: map[byte]FamilyInfo{}}
	for _, f := range builtinFamilies {
		r.Register(f)
	}
	return r
}

// Register adds or replaces a family.
func (r *Registry) Register(f FamilyInfo) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.families == nil {
		r.families = map[byte]FamilyInfo{}
	}
	r.families[f.Code] = f
}

// Lookup returns the family registered for code.
func (r *Registry) Lookup(code byte) (FamilyInfo, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	f, ok := r.families[code]
	return f, ok
}

// FamilyMask implements MaskLookup.
func (r *Registry) FamilyMask(code byte) (byte, bool) {
	f, ok := r.Lookup(code)
	if !ok || !f.HasMask {
		return 0, false
	}
	return f.Mask, true
}

// Families returns the registered families ordered by code.
func (r *Registry) Families() []FamilyInfo {
	r.mx.RLock()
	defer r.mx.RUnlock()

	out := make([]FamilyInfo, 0, len(r.families))
	for _, f := range r.families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ParseAddress parses s, appending a masked CRC to 7 byte inputs.
func (r *Registry) ParseAddress(s string) (Address, error) {
	return ParseAddress(s, r)
}

// DefineDevice builds the device registered for the family of addr. A nil
// address yields the generic bus-root device. Unregistered families yield a
// generic device that can still be identified, selected and searched.
func (b *Bus) DefineDevice(addr *Address, p Params) (Device, error) {
	if addr == nil {
		return newGeneric(b, nil, 0, p), nil
	}
	return b.DefineDeviceAs(*addr, addr.Family(), p)
}

// DefineDeviceAs is DefineDevice with an explicit family overriding the
// leading address byte.
func (b *Bus) DefineDeviceAs(addr Address, family byte, p Params) (Device, error) {
	f, ok := b.registry.Lookup(family)
	if !ok || f.New == nil {
		return newGeneric(b, &addr, family, p), nil
	}
	d, err := f.New(b, addr, family, p)
	if err != nil {
		return nil, fmt.Errorf("define %s %s: %w", f.Name, addr, err)
	}
	return d, nil
}

var builtinFamilies = []FamilyInfo{
	{Code: 0x10, Name: "DS18S20", Desc: "DS18S20 (0x10) High-precision Temperature Sensor", Category: CategoryTemperature, New: newThermometer},
	{Code: 0x1C, Name: "DS28E04", Desc: "DS28E04 (0x1C) 4kb EEPROM w/PIO", Category: CategoryEEPROM, HasMask: true, Mask: 0x7f, New: newEEPROMPort},
	{Code: 0x1D, Name: "DS2423", Desc: "DS2423 (0x1D) OneWire 4kb RAM and counter", Category: CategoryCounter, New: newCounter},
	{Code: 0x22, Name: "DS1822", Desc: "DS1822 (0x22) Econo Temperature Sensor", Category: CategoryTemperature, New: newThermometer},
	{Code: 0x26, Name: "DS2438", Desc: "DS2438 (0x26) Battery Gauge", Category: CategoryGauge, New: newGauge},
	{Code: 0x28, Name: "DS18B20", Desc: "DS18x20 (0x28) Temperature Sensor", Category: CategoryTemperature, New: newThermometer},
	{Code: 0x29, Name: "DS2408", Desc: "DS2408 (0x29) 8-bit I/O port", Category: CategoryPort, New: newPortDevice},
	{Code: 0x3A, Name: "DS2413", Desc: "DS2413 (0x3A) 2-bit I/O port", Category: CategoryPort, New: newPortDevice},
	{Code: 0x42, Name: "DS28EA00", Desc: "DS28EA00 (0x42) Chainable Temperature Sensor w/PIO", Category: CategoryMultifunction, New: newMultifunction},
}
