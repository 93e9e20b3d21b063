package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Line flags
	portName string
	pinName  string
	simAddrs []string

	logLevel string
	logger   = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "owbus",
	Short: "1-Wire bus tool",
	Long: `A 1-Wire master for DS9097-style UART adapters and bit-banged GPIO pins.

Examples:
  owbus scan --port /dev/ttyUSB0                   # List the devices on the bus
  owbus temp --pin GPIO4 --units C                 # Read every thermometer
  owbus port --sim "29 EE D2 02 00 00 00" 29EED202000000C3 SET 0x01
  owbus serve --config owbus.yaml                  # JSON lines on stdin/stdout`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "serial device of a UART 1-Wire adapter")
	rootCmd.PersistentFlags().StringVar(&pinName, "pin", "", "GPIO pin name for a bit-banged bus")
	rootCmd.PersistentFlags().StringSliceVar(&simAddrs, "sim", nil, "simulate a bus with these device addresses")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
