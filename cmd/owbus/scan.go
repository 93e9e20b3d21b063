package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mcsakoff/go-owbus"
	"github.com/mcsakoff/go-owbus/config"
)

var (
	scanFamily string
	scanAlarm  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the devices on the bus",
	Long: `Search the bus and print every device found with its address forms
and type.

Examples:
  owbus scan --port /dev/ttyUSB0
  owbus scan --port /dev/ttyUSB0 --family DS2408
  owbus scan --pin GPIO4 --alarm`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanFamily, "family", "f", "", "only devices of this family (name or hex code)")
	scanCmd.Flags().BoolVar(&scanAlarm, "alarm", false, "only devices with an alarm condition")
}

func runScan(cmd *cobra.Command, args []string) error {
	bus, err := openBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	var found []owbus.Address
	switch {
	case scanAlarm:
		found, err = bus.ScanAlarm()
	case scanFamily != "":
		f, ferr := config.ParseFamily(scanFamily, bus.Registry())
		if ferr != nil {
			return ferr
		}
		found, err = bus.ScanFamily(f)
	default:
		found, err = bus.Scan()
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSN\tRPI\tTYPE")
	for n, a := range found {
		forms := a.Forms()
		desc := "unknown"
		if f, ok := bus.Registry().Lookup(a.Family()); ok {
			desc = f.Desc
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", n, forms.SN, forms.RPI, desc)
	}
	return w.Flush()
}
