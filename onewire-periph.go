package owbus

import (
	"log/slog"

	"periph.io/x/conn/v3/onewire"
)

// PeriphBus exposes a Bus as a periph onewire.Bus so that periph device
// drivers can run on any Line.
type PeriphBus struct {
	bus *Bus
}

var _ onewire.BusCloser = (*PeriphBus)(nil)

// Periph returns the periph view of the bus.
func (b *Bus) Periph() *PeriphBus {
	return &PeriphBus{bus: b}
}

func (p *PeriphBus) String() string {
	return p.bus.String()
}

// Tx resets the bus, writes w and fills r. A strong pull-up is not
// available on a plain Line and is ignored.
func (p *PeriphBus) Tx(w, r []byte, power onewire.Pullup) error {
	p.bus.lock()
	defer p.bus.unlock()

	if power == onewire.StrongPullup {
		p.bus.logger.Debug("strong pull-up requested", slog.String("bus", p.bus.String()))
	}
	if err := p.bus.resetPresent("tx"); err != nil {
		return err
	}
	if err := p.bus.write(w); err != nil {
		return err
	}
	return p.bus.read(r)
}

// Search implements onewire.Bus.
func (p *PeriphBus) Search(alarmOnly bool) ([]onewire.Address, error) {
	var found []Address
	var err error
	if alarmOnly {
		found, err = p.bus.ScanAlarm()
	} else {
		found, err = p.bus.Scan()
	}
	out := make([]onewire.Address, 0, len(found))
	for _, a := range found {
		out = append(out, a.OneWire())
	}
	return out, err
}

func (p *PeriphBus) Close() error {
	return p.bus.Close()
}
