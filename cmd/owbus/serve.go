package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcsakoff/go-owbus/driver"
)

var (
	serveConfig   string
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve JSON requests from stdin",
	Long: `Read one JSON request per line from stdin and write every response as
one JSON line to stdout. Requests name a device by "id" and optionally a
driver by "interface"; a request {"cmd": "reload"} flushes all pending
requests and reloads the definitions.

Examples:
  echo '{"id": "attic", "units": "C"}' | owbus serve --config owbus.yaml
  echo '{"id": "OneWire"}' | owbus serve --sim "28 69 2F 2C 0C 32 20"`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "definition file (YAML or JSON)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 10*time.Millisecond, "poll interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	h, err := newHarness(serveConfig)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reqs := make(chan driver.Message)
	go readRequests(cmd.InOrStdin(), reqs)

	enc := json.NewEncoder(cmd.OutOrStdout())
	emit := func(m driver.Message) {
		if err := enc.Encode(m); err != nil {
			logger.Error("failed to write response", slog.Any("err", err))
		}
	}

	ticker := time.NewTicker(serveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-reqs:
			if !ok {
				// stdin closed, answer what is queued and exit
				reqs = nil
				continue
			}
			if c, _ := msg["cmd"].(string); c == "reload" {
				h.reload()
				continue
			}
			d, ok := h.driverFor(msg)
			if !ok {
				emit(failed(msg, "unknown interface"))
				continue
			}
			if resp := d.Handle(msg); resp != nil {
				emit(resp)
			}
		case <-ticker.C:
			for _, resp := range h.poll() {
				emit(resp)
			}
			if reqs == nil && h.pending() == 0 {
				return nil
			}
		}
	}
}

func readRequests(r io.Reader, reqs chan<- driver.Message) {
	defer close(reqs)
	dec := json.NewDecoder(r)
	for {
		var msg driver.Message
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("failed to read request", slog.Any("err", err))
			}
			return
		}
		reqs <- msg
	}
}

func failed(msg driver.Message, reason string) driver.Message {
	out := driver.Message{"err": reason, "kind": "UnknownDevice"}
	for k, v := range msg {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}
