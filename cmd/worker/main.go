// Command worker runs a single compute worker: it accepts one
// connection at a time, sleeps proportionally to the task size, and
// replies.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"edgedispatch/pkg/workerproc"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "worker <speed>",
	Short: "Single-threaded compute worker for the edge-compute dispatch layer",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorker,
}

func init() {
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	base := logrus.New()
	base.SetLevel(level)
	logEntry := base.WithField("role", "worker")

	speed, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || speed == 0 {
		return fmt.Errorf("speed must be a positive integer, got %q", args[0])
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("worker listening on port %d\n", port)

	w := workerproc.New(speed, logEntry)
	return w.Serve(ln)
}
