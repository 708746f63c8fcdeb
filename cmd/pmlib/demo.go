package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/report"
	"github.com/ja7ad/pmlib/pkg/pmlib"
)

func newDemoCommand() *cobra.Command {
	var threads int
	var chooserFlag string
	var levelFlag string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "run a small nested/parallel instrumented workload and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(threads, chooserFlag, levelFlag)
		},
	}
	cmd.Flags().IntVar(&threads, "threads", 4, "goroutine pool size for the demo's parallel region")
	cmd.Flags().StringVar(&chooserFlag, "chooser", "FLOPS", "HWPC chooser: FLOPS, BANDWIDTH, VECTOR, CACHE, CYCLE, LOADSTORE, USER")
	cmd.Flags().StringVar(&levelFlag, "report", "BASIC", "report level: BASIC, DETAIL, FULL")
	return cmd
}

func runDemo(threads int, chooserFlag, levelFlag string) error {
	chooser, err := hwpc.ParseChooser(chooserFlag)
	if err != nil {
		return fmt.Errorf("demo: %w", err)
	}
	level := parseLevelFlag(levelFlag)

	m, err := pmlib.New(pmlib.WithChooser(chooser), pmlib.WithThreads(threads), pmlib.WithReportLevel(level))
	if err != nil {
		return fmt.Errorf("demo: initialize: %w", err)
	}

	if err := m.Start("outer"); err != nil {
		return err
	}
	if err := m.Start("inner-setup"); err != nil {
		return err
	}
	busyWork(1_000_000)
	if err := m.Stop("inner-setup", 1e6, 1); err != nil {
		return err
	}

	if err := runDemoParallelRegion(m); err != nil {
		return err
	}
	if err := m.MergeThreads("kernel"); err != nil {
		return err
	}

	if err := m.Stop("outer", 0, 0); err != nil {
		return err
	}

	if err := m.Report(os.Stdout, level); err != nil {
		return fmt.Errorf("demo: report: %w", err)
	}
	return m.PostTrace()
}

// runDemoParallelRegion mirrors an OpenMP-style `#pragma omp parallel`
// block: every worker independently brackets the same section label.
func runDemoParallelRegion(m *pmlib.Monitor) error {
	m.Parallel(func(threadID int) {
		if err := m.Start("kernel"); err != nil {
			return
		}
		busyWork(250_000)
		_ = m.Stop("kernel", 5e8, 1)
	})
	return nil
}

func busyWork(iterations int) {
	acc := 0.0
	for i := 0; i < iterations; i++ {
		acc += math.Sqrt(float64(i) + 1)
	}
	_ = acc
	time.Sleep(time.Millisecond) // keep the demo's wall-clock time measurable
}

func parseLevelFlag(s string) report.Level {
	switch s {
	case "DETAIL":
		return report.Detail
	case "FULL":
		return report.Full
	default:
		return report.Basic
	}
}
