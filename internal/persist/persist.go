// Package persist implements spec.md §4.7: shell-mode persistence of
// section state across the `pmlib shell start`/`pmlib shell stop` process
// boundary.
//
// Grounded on cmd/consumption/main.go's file-output setup
// (os.MkdirAll(dir, mode) before os.Create) and its mix of a buffered
// writer with plain WriteString calls; generalized here from CSV rows
// into the line-oriented section/thread/counter format spec.md §6
// describes.
package persist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ja7ad/pmlib/internal/hwpc"
)

// StateEntry is one section's persisted record (spec.md §6: label,
// start_time, per-thread event snapshots, thread count, event count).
type StateEntry struct {
	Label      string
	Chooser    hwpc.Chooser
	NumThreads int
	NumEvents  int
	StartTime  []float64 // per-thread start time; `pmlib shell start` writes epoch seconds
	Snapshot   [][]int64 // per-thread counter snapshot at start
}

// StatePath derives the save-state file path from spec.md §4.7's
// three-part key: job name env var, job ID env var, and the parent
// process's PID, rooted under $HOME. Grounded on the teacher's
// os.MkdirAll(filepath.Dir(path), mode) idiom, with 0700 per §4.7 rather
// than the teacher's 0755 (shell-mode state is private to the job).
func StatePath(jobNameEnv, jobIDEnv string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("persist: resolve home dir: %w", err)
	}
	jobName := os.Getenv(jobNameEnv)
	if jobName == "" {
		jobName = "default"
	}
	jobID := os.Getenv(jobIDEnv)
	if jobID == "" {
		jobID = "0"
	}
	dir := filepath.Join(home, ".pmlib", jobName, jobID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("persist: create state dir: %w", err)
	}
	return filepath.Join(dir, fmt.Sprintf("state.%d", os.Getppid())), nil
}

// SaveState writes every entry in sections to path. There is no
// file-level header line; each section is written as its label, its
// chooser, its thread count and its event count, one per line, followed
// for each thread by a start_time line and one line of space-separated
// counter values.
func SaveState(path string, sections []StateEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("persist: create state dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persist: create state file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, s := range sections {
		fmt.Fprintln(w, s.Label)
		fmt.Fprintln(w, s.Chooser.String())
		fmt.Fprintln(w, s.NumThreads)
		fmt.Fprintln(w, s.NumEvents)
		for t := 0; t < s.NumThreads; t++ {
			fmt.Fprintln(w, strconv.FormatFloat(s.StartTime[t], 'g', 15, 64))
			fields := make([]string, s.NumEvents)
			for e := 0; e < s.NumEvents; e++ {
				fields[e] = strconv.FormatInt(s.Snapshot[t][e], 10)
			}
			fmt.Fprintln(w, strings.Join(fields, " "))
		}
	}
	return w.Flush()
}

// LoadState parses the format SaveState writes. Raw counters are
// returned as-is; callers that need a derived v_sorted must call
// hwpc.Derive themselves immediately after loading, rather than trust
// any stored derived vector — the format never persisted one.
func LoadState(path string) ([]StateEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persist: open state file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var out []StateEntry
	for sc.Scan() {
		label := sc.Text()
		if label == "" {
			continue
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("persist: truncated state file at section %q", label)
		}
		chooser, err := hwpc.ParseChooser(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("persist: section %q: %w", label, err)
		}
		numThreads, err := scanInt(sc)
		if err != nil {
			return nil, fmt.Errorf("persist: section %q: thread count: %w", label, err)
		}
		numEvents, err := scanInt(sc)
		if err != nil {
			return nil, fmt.Errorf("persist: section %q: event count: %w", label, err)
		}

		entry := StateEntry{
			Label:      label,
			Chooser:    chooser,
			NumThreads: numThreads,
			NumEvents:  numEvents,
			StartTime:  make([]float64, numThreads),
			Snapshot:   make([][]int64, numThreads),
		}
		for t := 0; t < numThreads; t++ {
			if !sc.Scan() {
				return nil, fmt.Errorf("persist: section %q: truncated start_time for thread %d", label, t)
			}
			st, err := strconv.ParseFloat(strings.TrimSpace(sc.Text()), 64)
			if err != nil {
				return nil, fmt.Errorf("persist: section %q: start_time for thread %d: %w", label, t, err)
			}
			entry.StartTime[t] = st

			if !sc.Scan() {
				return nil, fmt.Errorf("persist: section %q: truncated counters for thread %d", label, t)
			}
			fields := strings.Fields(sc.Text())
			if len(fields) != numEvents {
				return nil, fmt.Errorf("persist: section %q: thread %d: expected %d counters, got %d", label, t, numEvents, len(fields))
			}
			row := make([]int64, numEvents)
			for e, field := range fields {
				v, err := strconv.ParseInt(field, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("persist: section %q: thread %d: counter %d: %w", label, t, e, err)
				}
				row[e] = v
			}
			entry.Snapshot[t] = row
		}
		out = append(out, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("persist: read state file: %w", err)
	}
	return out, nil
}

func scanInt(sc *bufio.Scanner) (int, error) {
	if !sc.Scan() {
		return 0, fmt.Errorf("unexpected end of file")
	}
	return strconv.Atoi(strings.TrimSpace(sc.Text()))
}

// DeriveVSorted re-derives entry's per-thread v_sorted vectors from raw
// snapshot counters, resolving spec.md §9's re-derive-vs-trust open
// question in favor of re-derivation (see DESIGN.md).
func DeriveVSorted(entry StateEntry, elapsedSec []float64, userFlop []float64) [][]float64 {
	// call_count is not part of the persisted format (spec.md §6 lists
	// only label/start_time/snapshot/thread+event counts), so v[0] stays
	// 0 here.
	out := make([][]float64, entry.NumThreads)
	for t := 0; t < entry.NumThreads; t++ {
		derived := hwpc.Derive(entry.Chooser, entry.Snapshot[t], elapsedSec[t], 1, userFlop[t])
		v := make([]float64, 3+len(derived))
		v[1] = elapsedSec[t]
		v[2] = userFlop[t]
		copy(v[3:], derived)
		out[t] = v
	}
	return out
}
