// Package merge implements spec.md §4.5: the Thread Merger, the
// three-phase all-threads-reduce that folds per-thread section state
// into a single process-level record.
//
// Grounded on google-schedviz's analysis/sched_metrics.go, whose
// ThreadSummaries walks an interval stream accumulating into a running
// metric (recordInterval) and only converts to output shape once, at the
// end (finalize). Here "accumulate, then finalize once" becomes "every
// thread accumulates into its own slot (Phase 1/2), then one thread
// finalizes the process-level reduction (Phase 3)" — the same two-step
// shape, generalized from a single-goroutine scan into a real fork-join
// barrier.
package merge

import (
	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/watch"
)

// Merge runs spec.md §4.5's three phases against w, using rt as the
// fork-join barrier for Phase 2 and topo to resolve invariant #5's
// per-event sharing policy in Phase 3. On return, w.Accumu/w.VSorted hold
// the process-level reduction and w.IsMerged() is true.
//
// Phase 1 (master only): copy the master thread's own accumulated
// counters into a scratch area.
// Phase 2 (all threads, in parallel): every non-master thread reads its
// own accumulated counters into a private slot; this is the one step
// that genuinely needs all threads running concurrently, hence the
// rt.Parallel barrier.
// Phase 3 (master only): fold every thread's partial into scratch — per-
// core events sum across threads, cluster-shared events are apportioned
// instead of summed (spec.md §4.2) — then derive the process-level
// metric vector and publish it via w.SetMerged.
func Merge(w *watch.Watch, rt watch.Runtime, topo hwpc.Topology) {
	scratch := make([]int64, w.NumEvents)

	// Phase 1.
	master := w.ThreadAccumu(0)
	copy(scratch, master)

	// Phase 2 — every thread but the master reads its own accumulated
	// counters into a private slot (no shared-memory writes, so no
	// locking is needed), then rt.Parallel's barrier joins before Phase
	// 3 folds every slot into scratch.
	partials := make([][]int64, w.NumThreads)
	var callCounts = make([]int64, w.NumThreads)
	var accumTimes = make([]float64, w.NumThreads)
	var userFlops = make([]float64, w.NumThreads)

	rt.Parallel(func(threadID int) {
		if threadID == 0 {
			return
		}
		partials[threadID] = w.ThreadAccumu(threadID)
		v := w.ThreadVSorted(threadID)
		callCounts[threadID] = int64(v[0])
		accumTimes[threadID] = v[1]
		userFlops[threadID] = v[2]
	})

	// Phase 3 (master-only): fold every thread's partial into scratch,
	// and sum the scalar triple per spec.md §4.5's stated formula.
	var totalCalls int64
	var totalTime float64
	var totalFlop float64

	masterV := w.ThreadVSorted(0)
	totalCalls += int64(masterV[0])
	totalTime += masterV[1]
	totalFlop += masterV[2]

	for t := 1; t < w.NumThreads; t++ {
		totalCalls += callCounts[t]
		totalTime += accumTimes[t]
		totalFlop += userFlops[t]
	}

	shared := w.Chooser.ClusterSharedEvents()
	events := w.Chooser.Events()
	apportion := topo.Apportion()
	for e := 0; e < w.NumEvents; e++ {
		var evID hwpc.EventID
		if e < len(events) {
			evID = events[e]
		}
		if shared[evID] {
			// Every thread in this process observed the same cluster-wide
			// reading (scratch[e] already holds the master's copy from
			// Phase 1); summing per-thread would multiply it by
			// NumThreads, so instead prorate this process's share of the
			// cluster among the other processes that read it too.
			scratch[e] = int64(float64(scratch[e]) * apportion)
			continue
		}
		for t := 1; t < w.NumThreads; t++ {
			scratch[e] += partials[t][e]
		}
	}

	derived := hwpc.Derive(w.Chooser, scratch, totalTime, w.NumThreads, totalFlop)
	vSorted := make([]float64, 3+len(derived))
	vSorted[0] = float64(totalCalls)
	vSorted[1] = totalTime
	vSorted[2] = totalFlop
	copy(vSorted[3:], derived)

	w.SetMerged(scratch, vSorted)
}
