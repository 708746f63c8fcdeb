package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/pmlib/internal/hwpc"
)

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.123")

	entries := []StateEntry{
		{
			Label:      "compute",
			Chooser:    hwpc.FLOPS,
			NumThreads: 2,
			NumEvents:  3,
			StartTime:  []float64{1.234567890123456, 2.5},
			Snapshot:   [][]int64{{1, 2, 3}, {4, 5, 6}},
		},
	}

	require.NoError(t, SaveState(path, entries))
	loaded, err := LoadState(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "compute", got.Label)
	assert.Equal(t, hwpc.FLOPS, got.Chooser)
	assert.Equal(t, 2, got.NumThreads)
	assert.Equal(t, 3, got.NumEvents)
	assert.InDelta(t, 1.234567890123456, got.StartTime[0], 1e-12)
	assert.Equal(t, []int64{4, 5, 6}, got.Snapshot[1])
}

func TestLoadStateRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bad")
	require.NoError(t, SaveState(path, nil))

	// Append a dangling section header with no body.
	appendLine(t, path, "orphan")
	appendLine(t, path, "FLOPS")
	appendLine(t, path, "1")
	appendLine(t, path, "2")

	_, err := LoadState(path)
	assert.Error(t, err)
}

func TestDeriveVSortedFillsChooserSlots(t *testing.T) {
	entry := StateEntry{
		Chooser:    hwpc.BANDWIDTH,
		NumThreads: 1,
		NumEvents:  2,
		Snapshot:   [][]int64{{100, 200}},
	}
	out := DeriveVSorted(entry, []float64{1.0}, []float64{0})
	require.Len(t, out, 1)
	assert.Len(t, out[0], 3+hwpc.BANDWIDTH.NumSlots())
	assert.Equal(t, 300.0, out[0][3])
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := openAppend(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
}
