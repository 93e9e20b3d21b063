package main

import (
	"errors"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mcsakoff/go-owbus"
	"github.com/mcsakoff/go-owbus/config"
	"github.com/mcsakoff/go-owbus/driver"
	"github.com/mcsakoff/go-owbus/owbustest"
)

// openLine opens the line selected by spec.
func openLine(spec config.LineSpec, reg *owbus.Registry) (owbus.Line, error) {
	switch {
	case spec.Port != "":
		l, err := owbus.NewUARTLine(spec.Port)
		if err != nil {
			return nil, err
		}
		return l, nil
	case spec.Pin != "":
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
		}
		p := gpioreg.ByName(spec.Pin)
		if p == nil {
			return nil, fmt.Errorf("unknown pin %q", spec.Pin)
		}
		l, err := owbus.NewGPIOLine(p)
		if err != nil {
			return nil, err
		}
		return l, nil
	case len(spec.Sim) > 0:
		line := owbustest.NewLine()
		for _, s := range spec.Sim {
			a, err := reg.ParseAddress(s)
			if err != nil {
				return nil, err
			}
			line.Attach(owbustest.Simulate(a))
		}
		return line, nil
	}
	return nil, errors.New("no bus selected, use --port, --pin or --sim")
}

// openBus opens the bus selected by the line flags.
func openBus() (*owbus.Bus, error) {
	n := 0
	for _, set := range []bool{portName != "", pinName != "", len(simAddrs) > 0} {
		if set {
			n++
		}
	}
	if n > 1 {
		return nil, errors.New("--port, --pin and --sim are exclusive")
	}
	reg := owbus.NewRegistry()
	line, err := openLine(config.LineSpec{Port: portName, Pin: pinName, Sim: simAddrs}, reg)
	if err != nil {
		return nil, err
	}
	return owbus.NewBus(line, owbus.WithRegistry(reg), owbus.WithLogger(logger)), nil
}

// harness holds the drivers served by one process.
type harness struct {
	path    string
	reg     *owbus.Registry
	drivers []*driver.Driver
	specs   map[string][]driver.InstanceSpec
}

// newHarness builds the drivers of the definition file at path. Without a
// file, one driver is built on the bus of the line flags and every device
// found on it is defined.
func newHarness(path string) (*harness, error) {
	h := &harness{path: path, reg: owbus.NewRegistry(), specs: map[string][]driver.InstanceSpec{}}
	if path == "" {
		bus, err := openBus()
		if err != nil {
			return nil, err
		}
		drv, err := driver.New(bus, driver.Config{Logger: logger})
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		found, err := bus.Scan()
		if err != nil {
			logger.Warn("scan failed", slog.Any("err", err))
		}
		for _, a := range found {
			h.specs[drv.Name()] = append(h.specs[drv.Name()], driver.InstanceSpec{SN: a.String()})
		}
		h.drivers = append(h.drivers, drv)
		h.define(drv)
		return h, nil
	}

	decls, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	defs, errs := config.Resolve(decls, h.reg, logger)
	for _, err := range errs {
		logger.Error("definition skipped", slog.Any("err", err))
	}
	for _, dd := range defs.Drivers {
		line, err := openLine(dd.Line, h.reg)
		if err != nil {
			logger.Error("driver skipped", slog.String("name", dd.Name), slog.Any("err", err))
			continue
		}
		bus := owbus.NewBus(line, owbus.WithRegistry(h.reg), owbus.WithLogger(logger))
		drv, err := driver.New(bus, driver.Config{Name: dd.Name, Debug: dd.Debug, Logger: logger})
		if err != nil {
			_ = bus.Close()
			logger.Error("driver skipped", slog.String("name", dd.Name), slog.Any("err", err))
			continue
		}
		h.specs[dd.Name] = defs.InstancesOf(dd.Name)
		h.drivers = append(h.drivers, drv)
		h.define(drv)
	}
	if len(h.drivers) == 0 {
		return nil, fmt.Errorf("%s: no usable driver", path)
	}
	return h, nil
}

func (h *harness) define(drv *driver.Driver) {
	for _, spec := range h.specs[drv.Name()] {
		if _, err := drv.Define(spec); err != nil {
			logger.Error("instance skipped", slog.String("sn", spec.SN), slog.Any("err", err))
		}
	}
}

// driverFor picks the driver named by the interface field, or the first.
func (h *harness) driverFor(msg driver.Message) (*driver.Driver, bool) {
	name, _ := msg["interface"].(string)
	if name == "" {
		return h.drivers[0], true
	}
	for _, d := range h.drivers {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// reload flushes every driver and defines its instances again, from a
// fresh read of the definition file when there is one. Drivers are kept.
func (h *harness) reload() {
	if h.path != "" {
		if decls, err := config.LoadFile(h.path); err != nil {
			logger.Error("reload failed, keeping definitions", slog.Any("err", err))
		} else {
			defs, errs := config.Resolve(decls, h.reg, logger)
			for _, err := range errs {
				logger.Error("definition skipped", slog.Any("err", err))
			}
			for _, d := range h.drivers {
				h.specs[d.Name()] = defs.InstancesOf(d.Name())
			}
		}
	}
	for _, d := range h.drivers {
		d.Flush()
		h.define(d)
	}
}

func (h *harness) pending() int {
	n := 0
	for _, d := range h.drivers {
		n += d.Pending()
	}
	return n
}

func (h *harness) poll() []driver.Message {
	var out []driver.Message
	for _, d := range h.drivers {
		out = append(out, d.Poll()...)
	}
	return out
}

func (h *harness) Close() {
	for _, d := range h.drivers {
		if err := d.Bus().Close(); err != nil {
			logger.Warn("close failed", slog.String("bus", d.Bus().String()), slog.Any("err", err))
		}
	}
}
