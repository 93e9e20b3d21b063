package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcsakoff/go-owbus"
)

var portInvert uint8

var portCmd = &cobra.Command{
	Use:   "port sn [op [operand]]",
	Short: "Read or change the outputs of a port device",
	Long: `Run a port operation on a DS2408, DS2413, DS28E04 or DS28EA00.

Operations: IN, REG (default), OUT, RESET, SET, CLEAR, TOGGLE, PULSE.
The operand is a bit mask given in decimal, 0x hex or 0b binary and
defaults to all bits.

Examples:
  owbus port --port /dev/ttyUSB0 29EED202000000C3
  owbus port --port /dev/ttyUSB0 29EED202000000C3 SET 0b101
  owbus port --port /dev/ttyUSB0 3A-0102030405 TOGGLE 2`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runPort,
}

func init() {
	rootCmd.AddCommand(portCmd)

	portCmd.Flags().Uint8Var(&portInvert, "invert", 0, "bits whose logic is inverted")
}

func runPort(cmd *cobra.Command, args []string) error {
	op := owbus.PortReg
	operand := byte(0xff)
	var err error
	if len(args) > 1 {
		if op, err = owbus.ParsePortOp(args[1]); err != nil {
			return err
		}
	}
	if len(args) > 2 {
		if operand, err = owbus.ParseOperand(args[2]); err != nil {
			return err
		}
	}

	bus, err := openBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	addr, err := bus.Registry().ParseAddress(args[0])
	if err != nil {
		return err
	}
	dev, err := bus.DefineDevice(&addr, owbus.Params{Invert: portInvert})
	if err != nil {
		return err
	}
	p, ok := dev.(owbus.Porter)
	if !ok {
		return owbus.Unsupported("port", addr.String())
	}
	data, err := p.Port(op, operand)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s 0x%02X: 0x%02X (%08b)\n", addr, op, operand, data, data)
	return nil
}
