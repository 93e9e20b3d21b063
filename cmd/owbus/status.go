package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusDump bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the bus for presence and faults",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusDump, "families", "f", false, "list the registered device families")
}

func runStatus(cmd *cobra.Command, args []string) error {
	bus, err := openBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	s := bus.Status(statusDump)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", bus, s.Message)
	for _, f := range s.Families {
		fmt.Fprintf(out, "  %02X: %s\n", f.Code, f.Desc)
	}
	if s.Fault {
		return fmt.Errorf("bus fault")
	}
	return nil
}
