// Package driver adapts a 1-Wire bus to a message broker: requests are
// queued per device instance and completed by cooperative polling.
package driver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcsakoff/go-owbus"
)

// Name is the driver name used in definitions.
const Name = "OneWire"

// Config configures a Driver.
type Config struct {
	// Name is the interface name instances refer to.
	Name string

	// Debug scans the bus at startup and logs what was found.
	Debug bool

	// Logger is the optional logger; slog.Default() is used if nil.
	Logger *slog.Logger
}

// Instance is a defined device. Its index in the driver never changes.
type Instance struct {
	Name    string
	Aliases []string
	Device  owbus.Device

	queue  []Message // head is the active request
	active bool      // head has started on the bus
}

// InstanceSpec declares a device instance.
type InstanceSpec struct {
	Name    string
	SN      string
	Aliases []string
	Params  owbus.Params
	// Family overrides the family code of the address.
	Family *byte
}

// Driver serves the requests addressed to the devices of one bus.
type Driver struct {
	name   string
	bus    *owbus.Bus
	logger *slog.Logger

	mx        sync.Mutex
	instances []*Instance
	aliases   map[string]int
}

// New checks the bus and creates the driver with the bus-root instance at
// index 0. A faulted bus is an error; an empty one is only logged.
func New(bus *owbus.Bus, cfg Config) (*Driver, error) {
	d := &Driver{
		name:    cfg.Name,
		bus:     bus,
		logger:  cfg.Logger,
		aliases: map[string]int{},
	}
	if d.name == "" {
		d.name = Name
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With(slog.String("driver", d.name))

	status := bus.Status(cfg.Debug)
	if status.Fault {
		return nil, fmt.Errorf("driver %s: %s", d.name, status.Message)
	}
	if !status.Present {
		d.logger.Warn("no devices present", slog.String("bus", bus.String()))
	}
	d.defineRoot()

	if cfg.Debug && status.Present {
		found, err := bus.Scan()
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", d.name, err)
		}
		d.logger.Info("bus scan", slog.Int("found", len(found)))
		for _, a := range found {
			desc := "unknown type"
			if f, ok := bus.Registry().Lookup(a.Family()); ok {
				desc = f.Desc
			}
			d.logger.Info("found device", slog.String("sn", a.String()), slog.String("type", desc))
		}
	}
	return d, nil
}

func (d *Driver) defineRoot() {
	root, _ := d.bus.DefineDevice(nil, owbus.Params{})
	d.instances = []*Instance{{Name: d.name, Aliases: []string{d.name}, Device: root}}
	d.aliases = map[string]int{d.name: 0}
}

// Name returns the interface name.
func (d *Driver) Name() string { return d.name }

// Bus returns the bus served by the driver.
func (d *Driver) Bus() *owbus.Bus { return d.bus }

// Define creates an instance for spec and binds its aliases: the name, the
// serial number in its space separated, compact and RPI forms, and any
// extra aliases. A rebound alias is logged and points to the new instance.
func (d *Driver) Define(spec InstanceSpec) (*Instance, error) {
	if spec.SN == "" {
		return nil, owbus.ConfigError(spec.Name, "instance requires a serial number (sn)")
	}
	addr, err := d.bus.Registry().ParseAddress(spec.SN)
	if err != nil {
		return nil, owbus.ConfigError(spec.Name, "invalid serial number %q", spec.SN)
	}
	var dev owbus.Device
	if spec.Family != nil {
		dev, err = d.bus.DefineDeviceAs(addr, *spec.Family, spec.Params)
	} else {
		dev, err = d.bus.DefineDevice(&addr, spec.Params)
	}
	if err != nil {
		return nil, err
	}

	d.mx.Lock()
	defer d.mx.Unlock()

	forms := addr.Forms()
	inst := &Instance{Name: spec.Name, Device: dev}
	if inst.Name == "" {
		inst.Name = forms.SN
	}
	d.instances = append(d.instances, inst)
	index := len(d.instances) - 1

	aliases := []string{forms.SN, forms.Hex, forms.RPI}
	if spec.Name != "" {
		aliases = append(aliases, spec.Name)
	}
	aliases = append(aliases, spec.Aliases...)
	for _, a := range aliases {
		a = normalize(a)
		if a == "" {
			continue
		}
		if prev, ok := d.aliases[a]; ok && prev != index {
			d.logger.Warn("alias exists, redefining",
				slog.String("alias", a),
				slog.String("from", d.instances[prev].Name),
				slog.String("to", inst.Name))
		}
		d.aliases[a] = index
		inst.Aliases = append(inst.Aliases, a)
	}
	d.logger.Info("created instance", slog.String("sn", forms.SN), slog.String("name", inst.Name), slog.Any("aliases", spec.Aliases))
	return inst, nil
}

// Lookup resolves an alias, or any form of a defined serial number.
func (d *Driver) Lookup(id string) (*Instance, bool) {
	d.mx.Lock()
	defer d.mx.Unlock()

	i, ok := d.lookup(id)
	if !ok {
		return nil, false
	}
	return d.instances[i], true
}

func (d *Driver) lookup(id string) (int, bool) {
	id = normalize(id)
	if i, ok := d.aliases[id]; ok {
		return i, true
	}
	if a, err := d.bus.Registry().ParseAddress(id); err == nil {
		i, ok := d.aliases[a.String()]
		return i, ok
	}
	return 0, false
}

// Instances returns the defined instances, the bus root first.
func (d *Driver) Instances() []*Instance {
	d.mx.Lock()
	defer d.mx.Unlock()

	return append([]*Instance(nil), d.instances...)
}

// Handle queues msg on the instance named by its id. It returns an
// immediate error response when the id is unknown and nil otherwise.
func (d *Driver) Handle(msg Message) Message {
	d.mx.Lock()
	defer d.mx.Unlock()

	i, ok := d.lookup(msg.ID())
	if !ok {
		d.logger.Warn("unknown device", slog.String("id", msg.ID()))
		return msg.fail(owbus.UnknownDevice(msg.ID()))
	}
	inst := d.instances[i]
	inst.queue = append(inst.queue, msg)
	d.logger.Debug("queued request", slog.String("id", msg.ID()), slog.Int("depth", len(inst.queue)))
	return nil
}

// Pending returns the number of queued requests.
func (d *Driver) Pending() int {
	d.mx.Lock()
	defer d.mx.Unlock()

	n := 0
	for _, inst := range d.instances {
		n += len(inst.queue)
	}
	return n
}

// Poll advances the head request of every instance and returns the
// responses completed in this cycle. A failing or panicking device yields
// an error response and does not stop the cycle.
func (d *Driver) Poll() []Message {
	d.mx.Lock()
	defer d.mx.Unlock()

	var out []Message
	for _, inst := range d.instances {
		if len(inst.queue) == 0 {
			continue
		}
		resp, done := d.step(inst)
		if !done {
			continue
		}
		inst.queue = inst.queue[1:]
		inst.active = false
		out = append(out, resp)
	}
	return out
}

// Flush discards every queued request without responding, cancels pending
// conversions, releases the bus and drops all instances but the bus root.
func (d *Driver) Flush() {
	d.mx.Lock()
	defer d.mx.Unlock()

	dropped := 0
	for _, inst := range d.instances {
		dropped += len(inst.queue)
		inst.queue = nil
		inst.active = false
		if t, ok := inst.Device.(owbus.Thermometer); ok {
			t.Cancel()
		}
	}
	d.bus.Release()
	d.defineRoot()
	d.logger.Info("flushed", slog.Int("dropped", dropped))
}

func (d *Driver) step(inst *Instance) (resp Message, done bool) {
	msg := inst.queue[0]
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("device handler panic", slog.String("id", msg.ID()), slog.Any("panic", r))
			resp, done = msg.fail(fmt.Errorf("device handler panic: %v", r)), true
		}
	}()

	if !inst.active {
		if !d.bus.Ready() {
			return nil, false
		}
		inst.active = true
	}
	return d.dispatch(inst, msg)
}
