// Package config decodes 1-Wire definition files.
//
// A definition file is a YAML (or JSON) list of declarations. Driver
// declarations name a bus and its line:
//
//	# UART adapter, scanned and logged at startup
//	- driver: OneWire
//	  name: ow0
//	  params: {port: /dev/ttyUSB0}
//	  debug: true
//
// Instance declarations bind a device on a declared interface:
//
//	# 10 bit thermometer answering in Celsius
//	- interface: ow0
//	  name: attic
//	  sn: 28 69 2F 2C 0C 32 20 9A
//	  aliases: [t1]
//	  params: {resolution: 10, units: C}
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcsakoff/go-owbus"
	"github.com/mcsakoff/go-owbus/driver"
)

// Params holds both line and device parameters; each declaration uses the
// subset that applies to it.
type Params struct {
	owbus.Params `yaml:",inline"`

	// Type overrides the family, as a registered name or a hex code.
	Type string `yaml:"type"`

	Pin  string   `yaml:"pin"`  // GPIO name for a bit-banged line
	Port string   `yaml:"port"` // serial device of a UART adapter
	Sim  []string `yaml:"sim"`  // addresses of simulated devices
}

// Declaration is one entry of a definition file.
type Declaration struct {
	Driver    string   `yaml:"driver"`
	Interface string   `yaml:"interface"`
	Name      string   `yaml:"name"`
	SN        string   `yaml:"sn"`
	Addr      string   `yaml:"addr"`
	Aliases   []string `yaml:"aliases"`
	Debug     bool     `yaml:"debug"`
	Params    Params   `yaml:"params"`
}

// LineSpec selects the line of a bus. Exactly one field is set.
type LineSpec struct {
	Pin  string
	Port string
	Sim  []string
}

// DriverDef is a validated driver declaration.
type DriverDef struct {
	Name  string
	Debug bool
	Line  LineSpec
}

// InstanceDef is a validated instance declaration.
type InstanceDef struct {
	Interface string
	Spec      driver.InstanceSpec
}

// Definitions is the validated content of a definition file.
type Definitions struct {
	Drivers   []DriverDef
	Instances []InstanceDef
}

// Driver returns the driver named name.
func (d *Definitions) Driver(name string) (DriverDef, bool) {
	for _, drv := range d.Drivers {
		if drv.Name == name {
			return drv, true
		}
	}
	return DriverDef{}, false
}

// InstancesOf returns the instances declared on the named interface.
func (d *Definitions) InstancesOf(name string) []driver.InstanceSpec {
	var out []driver.InstanceSpec
	for _, inst := range d.Instances {
		if inst.Interface == name {
			out = append(out, inst.Spec)
		}
	}
	return out
}

// Parse decodes a definition file.
func Parse(data []byte) ([]Declaration, error) {
	var decls []Declaration
	if err := yaml.Unmarshal(data, &decls); err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}
	return decls, nil
}

// LoadFile reads and decodes a definition file.
func LoadFile(path string) ([]Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}
	decls, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return decls, nil
}

// Resolve validates decls in order. A declaration that fails validation is
// reported in errs and skipped; the rest still load. An instance naming an
// interface not declared before it is logged and skipped.
func Resolve(decls []Declaration, reg *owbus.Registry, logger *slog.Logger) (*Definitions, []error) {
	if logger == nil {
		logger = slog.Default()
	}
	defs := &Definitions{}
	var errs []error
	for i, d := range decls {
		switch {
		case d.Driver != "":
			drv, err := resolveDriver(d)
			if err != nil {
				errs = append(errs, fmt.Errorf("definition %d: %w", i, err))
				continue
			}
			defs.Drivers = append(defs.Drivers, drv)
		case d.Interface != "":
			if _, ok := defs.Driver(d.Interface); !ok {
				logger.Warn("unknown interface, instance skipped",
					slog.String("interface", d.Interface),
					slog.String("name", d.Name))
				continue
			}
			inst, err := resolveInstance(d, reg)
			if err != nil {
				errs = append(errs, fmt.Errorf("definition %d: %w", i, err))
				continue
			}
			defs.Instances = append(defs.Instances, inst)
		default:
			errs = append(errs, fmt.Errorf("definition %d: %w", i,
				owbus.ConfigError(d.Name, "neither driver nor interface given")))
		}
	}
	return defs, errs
}

func resolveDriver(d Declaration) (DriverDef, error) {
	if !strings.EqualFold(d.Driver, driver.Name) {
		return DriverDef{}, owbus.ConfigError(d.Name, "unsupported driver %q", d.Driver)
	}
	name := d.Name
	if name == "" {
		name = driver.Name
	}
	line := LineSpec{Pin: d.Params.Pin, Port: d.Params.Port, Sim: d.Params.Sim}
	set := 0
	for _, ok := range []bool{line.Pin != "", line.Port != "", len(line.Sim) > 0} {
		if ok {
			set++
		}
	}
	switch set {
	case 0:
		return DriverDef{}, owbus.ConfigError(name, "driver requires a pin, port or sim parameter")
	case 1:
	default:
		return DriverDef{}, owbus.ConfigError(name, "pin, port and sim are exclusive")
	}
	return DriverDef{Name: name, Debug: d.Debug, Line: line}, nil
}

func resolveInstance(d Declaration, reg *owbus.Registry) (InstanceDef, error) {
	sn := d.SN
	if sn == "" {
		sn = d.Addr
	}
	if sn == "" {
		return InstanceDef{}, owbus.ConfigError(d.Name, "instance requires a serial number (sn or addr)")
	}
	if _, err := reg.ParseAddress(sn); err != nil {
		return InstanceDef{}, owbus.ConfigError(d.Name, "invalid serial number %q", sn)
	}
	spec := driver.InstanceSpec{
		Name:    d.Name,
		SN:      sn,
		Aliases: d.Aliases,
		Params:  d.Params.Params,
	}
	if d.Params.Type != "" {
		f, err := ParseFamily(d.Params.Type, reg)
		if err != nil {
			return InstanceDef{}, owbus.ConfigError(d.Name, "%v", err)
		}
		spec.Family = &f
	}
	return InstanceDef{Interface: d.Interface, Spec: spec}, nil
}

// ParseFamily resolves a registered family name such as "DS2408", or a hex
// family code such as "29" or "0x29".
func ParseFamily(s string, reg *owbus.Registry) (byte, error) {
	s = strings.TrimSpace(s)
	for _, f := range reg.Families() {
		if strings.EqualFold(f.Name, s) {
			return f.Code, nil
		}
	}
	h := strings.TrimPrefix(strings.ToLower(s), "0x")
	n, err := strconv.ParseUint(h, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown device type %q", s)
	}
	return byte(n), nil
}
