// Package watch implements spec.md §4.4: the Section Watch state
// machine, and the per-thread counter storage described in §3.
//
// Grounded on the teacher's pkg/consumption/consumption.go Accumulator
// (a struct of running sums updated by one Apply-shaped method per tick)
// and pkg/system/proc/v1.go's deltaU64/prev-value-map idiom, generalized
// from "per-PID, per-tick" into "per-thread-slot, per-start/stop-pair".
package watch

import (
	"fmt"
	"sync"

	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/numeric"
	"github.com/ja7ad/pmlib/internal/pmerr"
	"github.com/ja7ad/pmlib/internal/power"
	"github.com/ja7ad/pmlib/internal/registry"
	"github.com/ja7ad/pmlib/internal/timer"
)

// State is the per-thread Section Watch state (spec.md §4.4).
type State int

const (
	Idle State = iota
	Running
)

// ThreadSlot is one thread's private measurement record for one section
// (spec.md §3's th_values/th_accumu/th_v_sorted, plus the state-machine
// bookkeeping needed to drive start/stop).
//
// VSorted layout: [call_count, accum_time, user_flop, <chooser slots>...]
// — the first three scalars are what spec.md §4.5 Phase 3 sums as
// "Σ_t th_v_sorted[t][0..2]"; the remaining slots are the chooser's own
// derived metric vector, so the whole array stays a single per-thread
// "v_sorted" as spec.md §3 describes, with the headline rate still the
// very last element.
type ThreadSlot struct {
	state     State
	startTime float64
	snapshot  []int64 // E: counter values captured at last Start
	accumu    []int64 // E: accumulated (stop - start) deltas

	CallCount int64
	AccumTime float64
	UserFlop  float64
	VSorted   []float64
}

// Watch is one section's full per-thread measurement record (spec.md §3).
type Watch struct {
	mu sync.Mutex // guards Healthy, ThreadsMerged, and the process-level fields below; per-thread slots are only ever touched by their own thread (spec.md §5)

	Label      string
	Kind       registry.Kind
	Chooser    hwpc.Chooser
	NumEvents  int
	NumThreads int

	Healthy       bool
	ThreadsMerged bool
	InParallel    bool // sticky true once observed true (spec.md §4.4)

	Threads []*ThreadSlot

	// Power accounting, one slot per power rail: UJoule holds the most
	// recent watts reading, taken at Stop (there is no reading at Start),
	// and WAccumu the accumulated energy in joules.
	NumRails     int
	UJoule       [][]float64 // [T][P]
	WAccumu      [][]float64 // [T][P]
	powerBackend power.Backend

	// Process-level aggregates, populated by the Thread Merger (§4.5).
	Accumu  []int64   // E
	VSorted []float64 // 3+S
}

// New allocates a Watch with numThreads thread slots and numEvents
// counters each (both fixed for the Monitor's lifetime, per spec.md §3's
// "Lifecycles" — the *section* array grows, but one section's thread/event
// dimensions do not, once its chooser is fixed at Monitor construction).
func New(label string, kind registry.Kind, chooser hwpc.Chooser, numThreads, numEvents, numRails int) *Watch {
	w := &Watch{
		Label:        label,
		Kind:         kind,
		Chooser:      chooser,
		NumEvents:    numEvents,
		NumThreads:   numThreads,
		NumRails:     numRails,
		Healthy:      true,
		Threads:      make([]*ThreadSlot, numThreads),
		UJoule:       make([][]float64, numThreads),
		WAccumu:      make([][]float64, numThreads),
		Accumu:       make([]int64, numEvents),
		VSorted:      make([]float64, 3+chooser.NumSlots()),
		powerBackend: power.NullBackend{},
	}
	for t := 0; t < numThreads; t++ {
		w.Threads[t] = &ThreadSlot{
			snapshot: make([]int64, numEvents),
			accumu:   make([]int64, numEvents),
			VSorted:  make([]float64, 3+chooser.NumSlots()),
		}
		w.UJoule[t] = make([]float64, numRails)
		w.WAccumu[t] = make([]float64, numRails)
	}
	return w
}

func (w *Watch) slot(threadID int) (*ThreadSlot, error) {
	if threadID < 0 || threadID >= len(w.Threads) {
		return nil, fmt.Errorf("%w: thread %d out of range [0,%d)", pmerr.ErrResourceExhausted, threadID, len(w.Threads))
	}
	return w.Threads[threadID], nil
}

func (w *Watch) setInParallel(v bool) {
	if !v {
		return
	}
	w.mu.Lock()
	w.InParallel = true
	w.mu.Unlock()
}

// Start implements the IDLE→RUNNING transition for one thread (spec.md
// §4.4). Starting an already-RUNNING thread is a mis-pairing: it is
// reported (via the returned wrapped error) and self-corrected by leaving
// the thread's existing start_time/snapshot untouched, per the "measurement
// is best-effort, never abort" policy — Healthy is not flipped.
func (w *Watch) Start(threadID int, now float64, inParallel bool, backend hwpc.EventBackend) error {
	w.setInParallel(inParallel)
	ts, err := w.slot(threadID)
	if err != nil {
		return err
	}
	if ts.state == Running {
		return fmt.Errorf("%w: start on already-running section %q (thread %d)", pmerr.ErrMisPaired, w.Label, threadID)
	}
	if err := backend.Read(threadID, ts.snapshot); err != nil {
		return fmt.Errorf("%w: %v", pmerr.ErrBackendDisabled, err)
	}
	ts.startTime = now
	ts.state = Running
	return nil
}

// Stop implements the RUNNING→IDLE transition for one thread (spec.md
// §4.4). Stopping an already-IDLE thread is a mis-pairing: reported and
// self-corrected to a no-op (no accumulation happens), Healthy untouched.
func (w *Watch) Stop(threadID int, now float64, flopPerCall float64, iters int64, backend hwpc.EventBackend) error {
	ts, err := w.slot(threadID)
	if err != nil {
		return err
	}
	if ts.state != Running {
		return fmt.Errorf("%w: stop on non-running section %q (thread %d)", pmerr.ErrMisPaired, w.Label, threadID)
	}

	now64 := make([]int64, w.NumEvents)
	if err := backend.Read(threadID, now64); err != nil {
		return fmt.Errorf("%w: %v", pmerr.ErrBackendDisabled, err)
	}
	for e := 0; e < w.NumEvents; e++ {
		ts.accumu[e] += numeric.DeltaI64(now64[e], ts.snapshot[e])
	}

	ts.AccumTime += now - ts.startTime
	ts.CallCount++
	if w.Chooser == hwpc.USER {
		ts.UserFlop += flopPerCall * float64(iters)
	}
	ts.state = Idle

	w.recomputeThreadVSorted(ts)
	w.AccumulatePower(threadID, w.powerBackend, now-ts.startTime)
	return nil
}

// SetPowerBackend attaches the power telemetry back-end Stop draws
// samples from; the default, set by New, is power.NullBackend{}.
func (w *Watch) SetPowerBackend(p power.Backend) { w.powerBackend = p }

// AccumulatePower folds one power sample into thread t's energy
// accounting: w_accumu[p] += watts[p] * dt for every rail p, mirroring
// the teacher's consumption.Accumulator.Apply line
// "a.energyCumJ += ptot * dt". Called from Stop with dt the section's
// just-completed wall-clock duration; a NullBackend contributes nothing.
func (w *Watch) AccumulatePower(threadID int, backend power.Backend, dt float64) {
	rails := backend.NumRails()
	if rails == 0 || rails > w.NumRails {
		return
	}
	watts := make([]float64, rails)
	if err := backend.ReadWatts(watts); err != nil {
		return
	}
	for p := 0; p < rails; p++ {
		w.UJoule[threadID][p] = watts[p]
		w.WAccumu[threadID][p] += watts[p] * dt
	}
}

func (w *Watch) recomputeThreadVSorted(ts *ThreadSlot) {
	ts.VSorted[0] = float64(ts.CallCount)
	ts.VSorted[1] = ts.AccumTime
	ts.VSorted[2] = ts.UserFlop
	derived := hwpc.Derive(w.Chooser, ts.accumu, ts.AccumTime, 1, ts.UserFlop)
	copy(ts.VSorted[3:], derived)
}

// snapshotOnly records a counter snapshot for a thread that is not the
// serial-region caller, without touching its started/call_count/time
// bookkeeping. Used by StartSerial's fan-out (spec.md §4.4).
func (w *Watch) snapshotOnly(threadID int, backend hwpc.EventBackend) error {
	ts, err := w.slot(threadID)
	if err != nil {
		return err
	}
	return backend.Read(threadID, ts.snapshot)
}

// accumulateOnly reads counters now and folds the delta from the last
// snapshotOnly into this thread's accumu, again without touching
// started/call_count/time. Used by StopSerial's fan-out.
func (w *Watch) accumulateOnly(threadID int, backend hwpc.EventBackend) error {
	ts, err := w.slot(threadID)
	if err != nil {
		return err
	}
	now := make([]int64, w.NumEvents)
	if err := backend.Read(threadID, now); err != nil {
		return fmt.Errorf("%w: %v", pmerr.ErrBackendDisabled, err)
	}
	for e := 0; e < w.NumEvents; e++ {
		ts.accumu[e] += numeric.DeltaI64(now[e], ts.snapshot[e])
	}
	ts.VSorted[0] = float64(ts.CallCount)
	ts.VSorted[1] = ts.AccumTime
	ts.VSorted[2] = ts.UserFlop
	derived := hwpc.Derive(w.Chooser, ts.accumu, 1, 1, ts.UserFlop)
	copy(ts.VSorted[3:], derived)
	return nil
}

// StartSerial implements spec.md §4.4's serial-region call: a normal
// Start on the calling (master) thread, plus a short parallel fan-out
// that snapshots every other thread's counters so the section can later
// capture a whole-process counter delta, even though only the master
// thread issued the call.
func (w *Watch) StartSerial(masterThread int, rt Runtime, tm timer.Timer, backend hwpc.EventBackend) error {
	if err := w.Start(masterThread, tm.Now(), false, backend); err != nil {
		return err
	}
	var ferr error
	rt.Parallel(func(threadID int) {
		if threadID == masterThread {
			return
		}
		if err := w.snapshotOnly(threadID, backend); err != nil && ferr == nil {
			ferr = err
		}
	})
	return ferr
}

// StopSerial mirrors StartSerial: fan out an accumulate-only read to every
// non-master thread first (capturing their counter deltas since
// StartSerial's snapshot), then perform the master's normal Stop.
func (w *Watch) StopSerial(masterThread int, rt Runtime, tm timer.Timer, backend hwpc.EventBackend, flopPerCall float64, iters int64) error {
	var ferr error
	rt.Parallel(func(threadID int) {
		if threadID == masterThread {
			return
		}
		if err := w.accumulateOnly(threadID, backend); err != nil && ferr == nil {
			ferr = err
		}
	})
	if err := w.Stop(masterThread, tm.Now(), flopPerCall, iters, backend); err != nil {
		return err
	}
	return ferr
}

// StartParallel implements spec.md §4.4's parallel-region call: each
// thread independently records its own start on its own slot, no fan-out.
func (w *Watch) StartParallel(threadID int, tm timer.Timer, backend hwpc.EventBackend) error {
	return w.Start(threadID, tm.Now(), true, backend)
}

// StopParallel mirrors StartParallel.
func (w *Watch) StopParallel(threadID int, tm timer.Timer, backend hwpc.EventBackend, flopPerCall float64, iters int64) error {
	return w.Stop(threadID, tm.Now(), flopPerCall, iters, backend)
}

// IsRunning reports whether any thread slot is currently RUNNING (used by
// Report's force-stop-at-Root-stop pass, spec.md §9 Open Question 2).
func (w *Watch) IsRunning() bool {
	for _, ts := range w.Threads {
		if ts.state == Running {
			return true
		}
	}
	return false
}

// StopAllRunning force-stops every RUNNING thread slot using now as the
// stop time, and reports how many slots were forced. The Monitor's Report
// calls it on every still-running section, Root included; Root has no
// separate stop (spec.md §9 resolved Open Question: force-stop rather
// than leave arbitrary values).
func (w *Watch) StopAllRunning(now float64, backend hwpc.EventBackend) int {
	forced := 0
	for threadID, ts := range w.Threads {
		if ts.state != Running {
			continue
		}
		now64 := make([]int64, w.NumEvents)
		_ = backend.Read(threadID, now64)
		for e := 0; e < w.NumEvents; e++ {
			ts.accumu[e] += numeric.DeltaI64(now64[e], ts.snapshot[e])
		}
		ts.AccumTime += now - ts.startTime
		ts.CallCount++
		ts.state = Idle
		w.recomputeThreadVSorted(ts)
		forced++
	}
	return forced
}

// Reset zeroes this section's accumulators (spec.md §6 reset/reset_all:
// "never Root" is enforced by the caller, not here).
func (w *Watch) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ts := range w.Threads {
		ts.CallCount = 0
		ts.AccumTime = 0
		ts.UserFlop = 0
		for e := range ts.accumu {
			ts.accumu[e] = 0
		}
		for i := range ts.VSorted {
			ts.VSorted[i] = 0
		}
	}
	for e := range w.Accumu {
		w.Accumu[e] = 0
	}
	for i := range w.VSorted {
		w.VSorted[i] = 0
	}
	for t := range w.UJoule {
		for p := range w.UJoule[t] {
			w.UJoule[t][p] = 0
			w.WAccumu[t][p] = 0
		}
	}
	w.Healthy = true
	w.ThreadsMerged = false
}

// ThreadAccumu returns a copy of thread t's accumulated counter deltas,
// for the Thread Merger's Phase 1/2 scratch copy.
func (w *Watch) ThreadAccumu(t int) []int64 {
	out := make([]int64, w.NumEvents)
	copy(out, w.Threads[t].accumu)
	return out
}

// ThreadVSorted returns a copy of thread t's derived vector.
func (w *Watch) ThreadVSorted(t int) []float64 {
	out := make([]float64, len(w.Threads[t].VSorted))
	copy(out, w.Threads[t].VSorted)
	return out
}

// SetThreadAccumu overwrites thread t's accumulated counters.
func (w *Watch) SetThreadAccumu(t int, v []int64) {
	copy(w.Threads[t].accumu, v)
}

// SetThreadVSorted overwrites thread t's derived vector.
func (w *Watch) SetThreadVSorted(t int, v []float64) {
	copy(w.Threads[t].VSorted, v)
}

// ThreadSnapshot returns a copy of thread t's last Start snapshot, for
// Persistence's SaveState.
func (w *Watch) ThreadSnapshot(t int) []int64 {
	out := make([]int64, w.NumEvents)
	copy(out, w.Threads[t].snapshot)
	return out
}

// ThreadStartTime returns thread t's last recorded start_time.
func (w *Watch) ThreadStartTime(t int) float64 { return w.Threads[t].startTime }

// SetMerged sets ThreadsMerged and the process-level Accumu/VSorted
// (spec.md §4.5 Phase 3's final step).
func (w *Watch) SetMerged(accumu []int64, vSorted []float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	copy(w.Accumu, accumu)
	copy(w.VSorted, vSorted)
	w.ThreadsMerged = true
}

// IsMerged reports whether Phase 3 has run since the last Reset.
func (w *Watch) IsMerged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ThreadsMerged
}
