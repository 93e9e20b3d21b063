package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"periph.io/x/devices/v3/ds18b20"

	"github.com/mcsakoff/go-owbus"
)

var (
	tempUnits      string
	tempResolution int
	tempPeriph     bool
)

var tempCmd = &cobra.Command{
	Use:   "temp [sn...]",
	Short: "Read thermometers",
	Long: `Convert and read the thermometers given by serial number, or every
thermometer found on the bus.

With --periph the DS18B20 driver of periph.io is used over the same bus.`,
	RunE: runTemp,
}

func init() {
	rootCmd.AddCommand(tempCmd)

	tempCmd.Flags().StringVarP(&tempUnits, "units", "u", "C", "units: C, F, K, R, X (raw hex) or all")
	tempCmd.Flags().IntVarP(&tempResolution, "resolution", "r", owbus.DefaultResolution, "resolution in bits, 9 to 12")
	tempCmd.Flags().BoolVar(&tempPeriph, "periph", false, "read through periph.io's ds18b20 driver")
}

func runTemp(cmd *cobra.Command, args []string) error {
	units, err := owbus.ParseUnits(tempUnits)
	if err != nil {
		return err
	}
	bus, err := openBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	addrs, err := thermometers(bus, args)
	if err != nil {
		return err
	}
	if tempPeriph {
		return readPeriph(cmd, bus, addrs)
	}

	out := cmd.OutOrStdout()
	for _, a := range addrs {
		dev, err := bus.DefineDevice(&a, owbus.Params{Resolution: tempResolution, Units: string(units)})
		if err != nil {
			return err
		}
		t, ok := dev.(owbus.Thermometer)
		if !ok {
			return owbus.Unsupported("temperature", a.String())
		}
		r, _, err := t.RequestTemperature(units, true)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", a, err)
			continue
		}
		fmt.Fprintf(out, "%s: %v\n", a, r.Requested())
	}
	return nil
}

// thermometers parses sns, or scans the bus for temperature capable
// devices when none are given.
func thermometers(bus *owbus.Bus, sns []string) ([]owbus.Address, error) {
	var addrs []owbus.Address
	if len(sns) > 0 {
		for _, sn := range sns {
			a, err := bus.Registry().ParseAddress(sn)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, a)
		}
		return addrs, nil
	}
	found, err := bus.Scan()
	if err != nil {
		return nil, err
	}
	for _, a := range found {
		f, ok := bus.Registry().Lookup(a.Family())
		if ok && (f.Category == owbus.CategoryTemperature || f.Category == owbus.CategoryMultifunction) {
			addrs = append(addrs, a)
		}
	}
	return addrs, nil
}

func readPeriph(cmd *cobra.Command, bus *owbus.Bus, addrs []owbus.Address) error {
	pb := bus.Periph()
	devs := make([]*ds18b20.Dev, 0, len(addrs))
	for _, a := range addrs {
		d, err := ds18b20.New(pb, a.OneWire(), tempResolution)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		devs = append(devs, d)
	}
	if err := ds18b20.StartAll(pb); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for i, d := range devs {
		t, err := d.LastTemp()
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", addrs[i], err)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", addrs[i], t)
	}
	return nil
}
