package owbus

import "log/slog"

// Device is a device instance bound to a bus.
type Device interface {
	Info() Info
	Category() Category
	Bus() *Bus
	// Address returns the ROM address and false for the bus-root device.
	Address() (Address, bool)
	// Select addresses the device with MATCH ROM, or every device on the
	// bus with SKIP ROM when skip is set or the device has no address.
	Select(skip bool) error
	// Search scans for devices of family. A nil family means the device's
	// own family, or every device for the bus-root device.
	Search(family *byte) ([]Address, error)
}

// Info describes a defined device.
type Info struct {
	Address  *Address `json:"address,omitempty"`
	Family   byte     `json:"family"`
	SN       string   `json:"sn"`
	Desc     string   `json:"desc"`
	Category Category `json:"category"`
}

// Generic is a device with no function commands. It serves unregistered
// families and the bus root, and is embedded by every other device.
type Generic struct {
	bus      *Bus
	addr     Address
	hasAddr  bool
	family   byte
	desc     string
	category Category
}

// newGeneric takes its description and category from the registry entry of
// family, which may differ from the address family.
func newGeneric(b *Bus, addr *Address, family byte, p Params) *Generic {
	d := &Generic{bus: b, category: CategoryBus, desc: "Generic device, supports bus search"}
	if addr != nil {
		d.addr = *addr
		d.hasAddr = true
		d.family = family
		if f, ok := b.registry.Lookup(family); ok {
			d.desc = f.Desc
			d.category = f.Category
		}
	} else {
		d.desc = "1-Wire bus"
	}
	if p.Desc != "" {
		d.desc = p.Desc
	}
	return d
}

func (d *Generic) Info() Info {
	i := Info{Desc: d.desc, Category: d.category}
	if d.hasAddr {
		a := d.addr
		i.Address = &a
		i.Family = d.family
		i.SN = a.String()
	}
	return i
}

func (d *Generic) Category() Category { return d.category }

func (d *Generic) Bus() *Bus { return d.bus }

func (d *Generic) Address() (Address, bool) { return d.addr, d.hasAddr }

func (d *Generic) Select(skip bool) error {
	d.bus.lock()
	defer d.bus.unlock()

	return d.sel(skip)
}

func (d *Generic) Search(family *byte) ([]Address, error) {
	if family == nil && d.hasAddr {
		f := d.family
		family = &f
	}
	if family == nil {
		return d.bus.Scan()
	}
	return d.bus.ScanFamily(*family)
}

// sel selects the device; the bus lock must be held.
func (d *Generic) sel(skip bool) error {
	if skip || !d.hasAddr {
		return d.bus.skipROM()
	}
	return d.bus.matchROM(d.addr)
}

func (d *Generic) name() string {
	if d.hasAddr {
		return d.addr.String()
	}
	return "bus"
}

func (d *Generic) log() *slog.Logger {
	return d.bus.logger.With(slog.String("sn", d.name()))
}
