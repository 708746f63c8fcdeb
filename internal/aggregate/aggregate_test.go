package aggregate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProcessGroupIsSingleRank(t *testing.T) {
	pg := LocalProcessGroup{}
	stats, err := Aggregate(pg, 42.0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.N)
	assert.Equal(t, 42.0, stats.Mean)
	assert.Equal(t, 0.0, stats.StdDev)
}

func TestChannelProcessGroupAllGatherAcrossRanks(t *testing.T) {
	groups := NewChannelProcessGroups(3)
	values := []float64{10, 20, 30}

	var wg sync.WaitGroup
	results := make([]Stats, 3)
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			s, err := Aggregate(groups[r], values[r])
			require.NoError(t, err)
			results[r] = s
		}(r)
	}
	wg.Wait()

	for _, s := range results {
		assert.Equal(t, 3, s.N)
		assert.Equal(t, 10.0, s.Min)
		assert.Equal(t, 30.0, s.Max)
		assert.InDelta(t, 20.0, s.Mean, 1e-9)
	}
}

func TestSortReturnsAscendingCopy(t *testing.T) {
	in := []float64{3, 1, 2}
	out := Sort(in)
	assert.Equal(t, []float64{1, 2, 3}, out)
	assert.Equal(t, []float64{3, 1, 2}, in, "input must not be mutated")
}
