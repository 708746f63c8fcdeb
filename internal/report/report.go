// Package report implements the out-of-scope "report pretty-printing"
// external collaborator spec.md §1/§6 describes: a fixed-column tabular
// rendering of aggregated section statistics, at BASIC/DETAIL/FULL
// verbosity.
//
// Grounded on cmd/consumption/main.go's text/tabwriter table (newTable,
// printTableHeader, printTableRow) — the same tab-aligned, flush-per-row
// idiom, generalized from one power-sample row per sampling tick into one
// row per merged+aggregated section.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Level is the report verbosity spec.md §6's PMLIB_REPORT env var
// selects between.
type Level int

const (
	Basic Level = iota
	Detail
	Full
)

func (l Level) String() string {
	switch l {
	case Detail:
		return "DETAIL"
	case Full:
		return "FULL"
	default:
		return "BASIC"
	}
}

// Environment is the header block spec.md §6 calls "host, date, parallel
// mode, effective env".
type Environment struct {
	Host         string
	GeneratedAt  time.Time
	ParallelMode string
	Chooser      string
	ReportLevel  Level
}

// RankBreakdown is one rank's contribution to a section, rendered at
// DETAIL/FULL.
type RankBreakdown struct {
	Rank      int
	CallCount int64
	AccumTime float64
}

// ThreadBreakdown is one thread's contribution to a section, rendered
// only at FULL.
type ThreadBreakdown struct {
	ThreadID  int
	CallCount int64
	AccumTime float64
}

// SectionRow is one section's aggregated row (spec.md §6: "count, time,
// %, per-call, std-dev, metric, metric std-dev, headline rate").
type SectionRow struct {
	Label        string
	Exclusive    bool // marked (*) when false — an inclusive, not exclusive, section
	InParallel   bool // marked (+) when true
	ForcedStop   bool
	CallCount    int64
	AccumTime    float64
	TimeStdDev   float64
	PercentTotal float64
	Metric       float64
	MetricStdDev float64
	HeadlineRate float64
	RateUnit     string

	Ranks   []RankBreakdown
	Threads []ThreadBreakdown
}

// WriteText renders rows at the given level, following §6's fixed-column
// layout: header, one row per section, a tail of sums, and — at
// DETAIL/FULL — per-rank (and at FULL, per-thread) breakdowns.
func WriteText(w io.Writer, env Environment, rows []SectionRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "PMlib report (%s)\n", env.ReportLevel)
	fmt.Fprintf(tw, "host: %s\tgenerated: %s\tmode: %s\tchooser: %s\n",
		env.Host, env.GeneratedAt.Format("2006-01-02 15:04:05"), env.ParallelMode, env.Chooser)
	fmt.Fprintln(tw, "legend: (*) inclusive section, not exclusive  (+) entered from a parallel region")
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "SECTION\tCALLS\tTIME(s)\t%\tPER-CALL(s)\tSTDDEV(s)\tMETRIC\tMETRIC STDDEV\tRATE")
	fmt.Fprintln(tw, "-------\t-----\t-------\t-\t-----------\t--------\t------\t-------------\t----")

	var sumTime float64
	var sumCalls int64
	for _, r := range rows {
		label := r.Label
		if !r.Exclusive {
			label += " (*)"
		}
		if r.InParallel {
			label += " (+)"
		}
		if r.ForcedStop {
			label += " [forced-stop]"
		}
		perCall := 0.0
		if r.CallCount > 0 {
			perCall = r.AccumTime / float64(r.CallCount)
		}
		fmt.Fprintf(tw, "%s\t%d\t%.6f\t%.2f\t%.6f\t%.6f\t%.4g\t%.4g\t%s\n",
			label, r.CallCount, r.AccumTime, r.PercentTotal, perCall, r.TimeStdDev,
			r.Metric, r.MetricStdDev, formatRate(r.HeadlineRate, r.RateUnit))

		sumTime += r.AccumTime
		sumCalls += r.CallCount

		if env.ReportLevel >= Detail {
			for _, rank := range r.Ranks {
				fmt.Fprintf(tw, "    rank %d\t%d\t%.6f\t\t\t\t\t\t\n", rank.Rank, rank.CallCount, rank.AccumTime)
			}
		}
		if env.ReportLevel >= Full {
			for _, th := range r.Threads {
				fmt.Fprintf(tw, "    thread %d\t%d\t%.6f\t\t\t\t\t\t\n", th.ThreadID, th.CallCount, th.AccumTime)
			}
		}
	}

	fmt.Fprintln(tw, "-------\t-----\t-------\t-\t-----------\t--------\t------\t-------------\t----")
	fmt.Fprintf(tw, "TOTAL\t%d\t%.6f\t\t\t\t\t\t\n", sumCalls, sumTime)

	return tw.Flush()
}

// formatRate renders a headline rate, giving byte-denominated units
// (BANDWIDTH's "B/s") humanized KB/MB/GB scaling instead of a raw byte
// count.
func formatRate(rate float64, unit string) string {
	if strings.HasPrefix(unit, "B/s") && rate >= 0 {
		return humanizeBytes(rate) + "/s"
	}
	return fmt.Sprintf("%.4g %s", rate, unit)
}

// humanizeBytes renders a byte count with automatic unit scaling
// (B/KB/MB/GB/TB, 1024-based) — BANDWIDTH's headline rate arrives here as
// a plain bytes/second float.
func humanizeBytes(b float64) string {
	switch {
	case b >= 1<<40:
		return fmt.Sprintf("%.2f TB", b/(1<<40))
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GB", b/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MB", b/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.2f KB", b/(1<<10))
	default:
		return fmt.Sprintf("%.0f B", b)
	}
}
