package driver

import (
	"github.com/mcsakoff/go-owbus"
)

// dispatch runs msg against the instance. done is false while a
// conversion is in progress.
func (d *Driver) dispatch(inst *Instance, msg Message) (Message, bool) {
	category := nativeCategory(inst.Device.Category())
	if c, ok := msg.str("category"); ok {
		category = owbus.Category(c)
	}

	switch category {
	case owbus.CategoryTemperature:
		return d.temperature(inst, msg)
	case owbus.CategoryPort:
		return d.port(inst, msg), true
	case owbus.CategoryBus:
		return d.busRequest(inst, msg), true
	}
	return msg.fail(owbus.Unsupported(string(category), inst.Name)), true
}

// nativeCategory maps device categories onto the request category they
// serve by default.
func nativeCategory(c owbus.Category) owbus.Category {
	switch c {
	case owbus.CategoryMultifunction:
		return owbus.CategoryTemperature
	case owbus.CategoryEEPROM:
		return owbus.CategoryPort
	}
	return c
}

func (d *Driver) temperature(inst *Instance, msg Message) (Message, bool) {
	t, ok := inst.Device.(owbus.Thermometer)
	if !ok {
		return msg.fail(owbus.Unsupported("temperature", inst.Name)), true
	}
	units := t.Units()
	if s, ok := msg.str("units"); ok {
		u, err := owbus.ParseUnits(s)
		if err != nil {
			return msg.fail(owbus.Unsupported("temperature units "+s, inst.Name)), true
		}
		units = u
	}
	r, ready, err := t.RequestTemperature(units, msg.flag("wait"))
	if err != nil {
		return msg.fail(err), true
	}
	if !ready {
		return nil, false
	}
	return msg.reply(Message{"temperature": r.Requested(), "units": string(r.Units)}), true
}

// port resolves the operation: value alone writes every output, channel
// alone toggles one output, and op alone applies to all bits.
func (d *Driver) port(inst *Instance, msg Message) Message {
	p, ok := inst.Device.(owbus.Porter)
	if !ok {
		return msg.fail(owbus.Unsupported("port", inst.Name))
	}

	op := owbus.PortReg
	operand := byte(0xff)
	if v, ok, err := msg.byteValue("value"); err != nil {
		return msg.fail(owbus.Unsupported("port value", inst.Name))
	} else if ok {
		op, operand = owbus.PortOut, v
	}
	if c, ok := msg.str("channel"); ok {
		bit, err := owbus.ParseChannel(c)
		if err != nil {
			return msg.fail(owbus.Unsupported("port channel "+c, inst.Name))
		}
		op, operand = owbus.PortToggle, bit
	}
	if s, ok := msg.str("op"); ok {
		o, err := owbus.ParsePortOp(s)
		if err != nil {
			return msg.fail(owbus.Unsupported("port "+s, inst.Name))
		}
		op = o
	}

	data, err := p.Port(op, operand)
	if err != nil {
		return msg.fail(err)
	}
	return msg.reply(Message{"op": string(op), "operand": int(operand), "data": int(data)})
}

// busRequest reports bus status and, on a healthy bus, a scan split into
// declared and undeclared devices.
func (d *Driver) busRequest(inst *Instance, msg Message) Message {
	family, err := msg.family()
	if err != nil {
		return msg.fail(owbus.Unsupported("bus "+err.Error(), inst.Name))
	}
	status := d.bus.Status(msg.flag("dump"))
	resp := Message{"status": status}
	if !status.OK() {
		resp["scan"] = nil
		return msg.reply(resp)
	}

	found, err := inst.Device.Search(family)
	if err != nil {
		return msg.reply(resp).fail(err)
	}
	existing := map[string]string{}
	for _, i := range d.instances {
		if a, ok := i.Device.Address(); ok {
			existing[a.String()] = i.Name
		}
	}
	scan := make([]owbus.Forms, 0, len(found))
	known := map[string]string{}
	unknown := []string{}
	for _, a := range found {
		f := a.Forms()
		scan = append(scan, f)
		if name, ok := existing[f.SN]; ok {
			known[f.SN] = name
		} else {
			unknown = append(unknown, f.SN)
		}
	}
	resp["scan"] = scan
	resp["known"] = known
	resp["unknown"] = unknown
	return msg.reply(resp)
}
