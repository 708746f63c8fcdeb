package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/registry"
	"github.com/ja7ad/pmlib/internal/watch"
)

type fakeBackend struct {
	perThread map[int][]int64
}

func (f *fakeBackend) AddEvents(threadID int, events []hwpc.EventID) error { return nil }
func (f *fakeBackend) Start(threadID int) error                            { return nil }
func (f *fakeBackend) Stop(threadID int) error                             { return nil }
func (f *fakeBackend) Read(threadID int, out []int64) error {
	copy(out, f.perThread[threadID])
	return nil
}

var soloTopology = hwpc.Topology{ProcsPerNode: 1, RankOnNode: 0, ClusterCount: 1}

func TestMergeSumsPerCoreEventsAcrossThreads(t *testing.T) {
	// FLOPS's FP_OPS_SP/FP_OPS_DP are per-core: each thread's own counter
	// reading is independent, so the merged total is a plain sum.
	backend := &fakeBackend{perThread: map[int][]int64{
		0: {0, 0},
		1: {0, 0},
		2: {0, 0},
	}}
	w := watch.New("parallel-region", registry.Computation, hwpc.FLOPS, 3, 2, 0)
	rt := watch.NewGoroutineRuntime(3)

	for tid := 0; tid < 3; tid++ {
		require.NoError(t, w.Start(tid, 0.0, true, backend))
	}
	backend.perThread[0] = []int64{100, 200}
	backend.perThread[1] = []int64{10, 20}
	backend.perThread[2] = []int64{1, 2}
	for tid := 0; tid < 3; tid++ {
		require.NoError(t, w.Stop(tid, 1.0, 0, 0, backend))
	}

	Merge(w, rt, soloTopology)

	require.True(t, w.IsMerged())
	assert.Equal(t, int64(111), w.Accumu[0])
	assert.Equal(t, int64(222), w.Accumu[1])
	assert.Equal(t, float64(3), w.VSorted[0], "call_count summed across 3 threads")
}

func TestMergeDoesNotSumClusterSharedEventsAcrossThreads(t *testing.T) {
	// BANDWIDTH's MEM_BYTES_* come from a single shared uncore counter:
	// every thread in the process observes the same cluster-wide reading,
	// so merging must not multiply it by NumThreads.
	backend := &fakeBackend{perThread: map[int][]int64{
		0: {0, 0},
		1: {0, 0},
		2: {0, 0},
	}}
	w := watch.New("parallel-region", registry.Computation, hwpc.BANDWIDTH, 3, 2, 0)
	rt := watch.NewGoroutineRuntime(3)

	for tid := 0; tid < 3; tid++ {
		require.NoError(t, w.Start(tid, 0.0, true, backend))
	}
	shared := []int64{500, 800}
	backend.perThread[0] = shared
	backend.perThread[1] = shared
	backend.perThread[2] = shared
	for tid := 0; tid < 3; tid++ {
		require.NoError(t, w.Stop(tid, 1.0, 0, 0, backend))
	}

	Merge(w, rt, soloTopology)

	require.True(t, w.IsMerged())
	assert.Equal(t, int64(500), w.Accumu[0], "single-process topology apportions 1.0, not ×3")
	assert.Equal(t, int64(800), w.Accumu[1])
}

func TestMergeApportionsClusterSharedEventsAcrossProcesses(t *testing.T) {
	backend := &fakeBackend{perThread: map[int][]int64{0: {0, 0}}}
	w := watch.New("region", registry.Computation, hwpc.BANDWIDTH, 1, 2, 0)
	rt := watch.NewGoroutineRuntime(1)

	require.NoError(t, w.Start(0, 0.0, false, backend))
	backend.perThread[0] = []int64{400, 0}
	require.NoError(t, w.Stop(0, 1.0, 0, 0, backend))

	// 4 processes sharing a single cluster: each owns a 1/4 share.
	Merge(w, rt, hwpc.Topology{ProcsPerNode: 4, RankOnNode: 0, ClusterCount: 1})

	require.True(t, w.IsMerged())
	assert.InDelta(t, 100.0, float64(w.Accumu[0]), 1e-6)
}
