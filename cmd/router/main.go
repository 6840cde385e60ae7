// Command router runs the edge-compute dispatch router: it accepts
// client connections, selects a destination per the configured policy,
// forwards the task, and feeds the observed latency back into that
// policy's state.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"edgedispatch/pkg/admin"
	"edgedispatch/pkg/dispatch"
)

var (
	logLevel   string
	adminAddr  string
	rrVariant  string
	logEntry   *logrus.Entry
)

var rootCmd = &cobra.Command{
	Use:   "router <ALGO> <port1>:<hops1> <port2>:<hops2> ...",
	Short: "Adaptive destination-selection router for edge-compute tasks",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRouter,
}

func init() {
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&adminAddr, "admin-addr", "", "optional host:port for the admin/metrics dashboard")
	rootCmd.Flags().StringVar(&rrVariant, "rr-variant", "set", "RR active-set realization: set or heap")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRouter(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	base := logrus.New()
	base.SetLevel(level)
	logEntry = base.WithField("role", "router")

	algo, err := dispatch.ParseAlgorithm(args[0])
	if err != nil {
		return err
	}

	destArgs := args[1:]
	if len(destArgs) < 2 {
		return fmt.Errorf("at least two destinations are required, got %d", len(destArgs))
	}

	destinations := make([]*dispatch.Destination, 0, len(destArgs))
	for _, spec := range destArgs {
		port, hops, err := parseDestination(spec)
		if err != nil {
			return err
		}
		destinations = append(destinations, dispatch.NewDestination(port, hops))
	}

	var (
		selector dispatch.Selector
		source   admin.Source
	)
	if algo == dispatch.RR && rrVariant == "heap" {
		h := dispatch.NewRoundRobinHeap()
		for _, d := range destinations {
			h.AddDestination(d.Port)
		}
		selector, source = h, h
	} else {
		if rrVariant == "heap" {
			logEntry.Warn("--rr-variant=heap only applies to RR; ignoring for this algorithm")
		}
		r := dispatch.NewRouter(algo, destinations, logEntry)
		selector, source = r, r
	}

	server := dispatch.NewServer(selector, logEntry)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("router listening on port %d\n", port)

	if adminAddr != "" {
		dash := admin.New(source, logEntry)
		server.SetRecorder(dash)
		go func() {
			if err := dash.Run(adminAddr); err != nil {
				logEntry.WithError(err).Error("admin dashboard stopped")
			}
		}()
	}

	return server.Serve(ln)
}

func parseDestination(spec string) (uint16, int, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid destination %q: want port:hops", spec)
	}
	port, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port in %q: %w", spec, err)
	}
	hops, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hops in %q: %w", spec, err)
	}
	return uint16(port), hops, nil
}
