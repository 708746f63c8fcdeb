package pmlib

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/watch"
)

func TestSingleSectionSerialReport(t *testing.T) {
	m, err := New(WithChooser(hwpc.USER), WithThreads(1))
	require.NoError(t, err)

	require.NoError(t, m.Start("A"))
	require.NoError(t, m.Stop("A", 1e9, 1))

	var buf bytes.Buffer
	require.NoError(t, m.Report(&buf, 0))
	assert.Contains(t, buf.String(), "A")
}

func TestNestedSectionsExclusivity(t *testing.T) {
	m, err := New(WithChooser(hwpc.FLOPS), WithThreads(1))
	require.NoError(t, err)

	require.NoError(t, m.Start("outer"))
	require.NoError(t, m.Start("inner"))
	require.NoError(t, m.Stop("inner", 0, 0))
	require.NoError(t, m.Stop("outer", 0, 0))

	outerID := m.shared.Find("outer")
	innerID := m.shared.Find("inner")
	outerEntry, _ := m.shared.Entry(outerID)
	innerEntry, _ := m.shared.Entry(innerID)
	assert.False(t, outerEntry.Exclusive)
	assert.True(t, innerEntry.Exclusive)
}

func TestResetAllNeverTouchesRoot(t *testing.T) {
	m, err := New(WithChooser(hwpc.FLOPS), WithThreads(1))
	require.NoError(t, err)
	require.NoError(t, m.Start("A"))
	require.NoError(t, m.Stop("A", 0, 0))

	m.ResetAll()

	rootID := m.shared.Find(rootLabel)
	root := m.sections[rootID]
	assert.True(t, root.Healthy, "Root must never be reset or otherwise invalidated")
}

func TestMisPairRecoveryWithoutStopBeforeReport(t *testing.T) {
	m, err := New(WithChooser(hwpc.FLOPS), WithThreads(1))
	require.NoError(t, err)
	require.NoError(t, m.Start("X"))

	var buf bytes.Buffer
	require.NoError(t, m.Report(&buf, 0))
	assert.Contains(t, buf.String(), "forced-stop")
}

func TestBypassEnvMakesEveryCallANoOp(t *testing.T) {
	t.Setenv("BYPASS_PMLIB", "1")
	m, err := New()
	require.NoError(t, err)
	assert.NoError(t, m.Start("anything"))
	assert.NoError(t, m.Stop("anything", 0, 0))
	var buf bytes.Buffer
	assert.NoError(t, m.Report(&buf, 0))
	assert.Empty(t, buf.String())
}

func TestMergeThreadsAfterParallelRegion(t *testing.T) {
	rt := watch.NewGoroutineRuntime(3)
	m, err := New(WithChooser(hwpc.FLOPS), WithRuntime(rt))
	require.NoError(t, err)

	rt.Parallel(func(threadID int) {
		_ = m.Start("Q")
		_ = m.Stop("Q", 0, 0)
	})
	require.NoError(t, m.MergeThreads("Q"))

	id := m.shared.Find("Q")
	w := m.sections[id]
	require.True(t, w.IsMerged())
	assert.Equal(t, float64(3), w.VSorted[0])
	entry, _ := m.shared.Entry(id)
	assert.True(t, entry.InParallel)
}
