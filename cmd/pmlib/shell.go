package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/persist"
)

// newShellCommand implements spec.md §4.7/§6's shell-mode command pair: a
// minimal reference driver for the save_state/load_state external
// collaborator, thin wrappers around persist.SaveState/LoadState.
func newShellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "bracket a section's timing across two separate process invocations",
	}
	cmd.AddCommand(newShellStartCommand())
	cmd.AddCommand(newShellStopCommand())
	return cmd
}

func newShellStartCommand() *cobra.Command {
	var chooserFlag string
	cmd := &cobra.Command{
		Use:   "start <file> <label>",
		Short: "record a section's start_time and counter snapshot to file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShellStart(args[0], args[1], chooserFlag)
		},
	}
	cmd.Flags().StringVar(&chooserFlag, "chooser", "FLOPS", "HWPC chooser: FLOPS, BANDWIDTH, VECTOR, CACHE, CYCLE, LOADSTORE, USER")
	return cmd
}

func runShellStart(path, label, chooserFlag string) error {
	chooser, err := hwpc.ParseChooser(chooserFlag)
	if err != nil {
		return fmt.Errorf("shell start: %w", err)
	}

	backend := hwpc.NullBackend{}
	snapshot := make([]int64, len(chooser.Events()))
	if err := backend.Read(0, snapshot); err != nil {
		return fmt.Errorf("shell start: %w", err)
	}

	entry := persist.StateEntry{
		Label:      label,
		Chooser:    chooser,
		NumThreads: 1,
		NumEvents:  len(snapshot),
		StartTime:  []float64{wallClockNow()},
		Snapshot:   [][]int64{snapshot},
	}
	if err := persist.SaveState(path, []persist.StateEntry{entry}); err != nil {
		return fmt.Errorf("shell start: %w", err)
	}
	fmt.Printf("pmlib: saved %q state to %s\n", label, path)
	return nil
}

func newShellStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <file>",
		Short: "load saved section state, re-derive elapsed metrics, and print them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShellStop(args[0])
		},
	}
	return cmd
}

func runShellStop(path string) error {
	entries, err := persist.LoadState(path)
	if err != nil {
		return fmt.Errorf("shell stop: %w", err)
	}

	now := wallClockNow()
	for _, e := range entries {
		elapsed := make([]float64, e.NumThreads)
		userFlop := make([]float64, e.NumThreads)
		for t := 0; t < e.NumThreads; t++ {
			elapsed[t] = now - e.StartTime[t]
		}
		vSorted := persist.DeriveVSorted(e, elapsed, userFlop)
		for t, v := range vSorted {
			rate := 0.0
			if len(v) > 0 {
				rate = v[len(v)-1]
			}
			fmt.Printf("%s: thread %d elapsed %.6fs, headline %.6g %s\n",
				e.Label, t, elapsed[t], rate, e.Chooser.HeadlineUnit())
		}
	}
	return nil
}

// wallClockNow returns epoch seconds. Shell mode's start_time must be
// comparable across the two separate processes that bracket it, unlike
// internal/timer.Timer's intentionally process-local monotone clock
// (see that package's doc comment), so this deliberately uses time.Now()
// rather than timer.New() — the one place in the CLI that needs wall
// clock instead of monotone time.
func wallClockNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
