// Command pmlib is PMlib's CLI wrapper: a built-in instrumented demo
// workload, and a pair of shell-mode start/stop commands that persist
// section state across a process boundary.
//
// Grounded on cmd/consumption/main.go's cobra.Command root + flag set +
// signal.NotifyContext shape.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "pmlib",
		Short: "PMlib performance-monitoring library CLI",
		Long: `pmlib is the command-line companion to the PMlib Go module: a small
built-in demo workload for exercising the measurement engine end to end,
and a pair of shell-mode commands for bracketing an external process's
section timing across two separate invocations.`,
	}

	root.AddCommand(newDemoCommand())
	root.AddCommand(newShellCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
