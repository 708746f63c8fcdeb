// Package aggregate implements spec.md §4.6: the Process Aggregator, the
// all-gather/reduce step that combines one process-level watch record per
// rank into cluster-wide min/max/mean/stddev statistics.
//
// Grounded on pkg/consumption/consumption.go's Averages() (running
// sum/count converted to a mean on demand); here the "on demand" step is
// generalized from a single process's own samples into gonum/stat's
// Mean/StdDev over a slice gathered from every rank in a ProcessGroup.
package aggregate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ProcessGroup abstracts the collective communication the aggregator uses
// (all-gather and barrier; it has no reduce operation) without committing the engine to
// any particular message-passing library — none exists anywhere in the
// retrieved corpus, so this interface is the seam a real MPI/UCX/gRPC
// binding would implement in a deployed build.
type ProcessGroup interface {
	// Rank returns this process's rank in [0, Size()).
	Rank() int
	// Size returns the number of ranks in the group.
	Size() int
	// AllGather returns every rank's value, this rank's own value,
	// indexed by rank, after a full collective exchange.
	AllGather(value float64) ([]float64, error)
	// Barrier blocks until every rank has called Barrier.
	Barrier() error
}

// LocalProcessGroup is the single-process default: Size() is always 1,
// AllGather is a no-op passthrough, Barrier never blocks.
type LocalProcessGroup struct{}

func (LocalProcessGroup) Rank() int { return 0 }
func (LocalProcessGroup) Size() int { return 1 }
func (LocalProcessGroup) AllGather(value float64) ([]float64, error) {
	return []float64{value}, nil
}
func (LocalProcessGroup) Barrier() error { return nil }

// ChannelProcessGroup is a goroutine/channel test double that simulates a
// multi-rank ProcessGroup within a single Go process, for exercising
// spec.md §4.6's collectives without any real transport.
type ChannelProcessGroup struct {
	rank int
	size int
	hub  *groupHub
}

type groupHub struct {
	gather  chan gatherMsg
	results []chan []float64
	barrier chan struct{}
}

type gatherMsg struct {
	rank  int
	value float64
}

// NewChannelProcessGroups returns size ChannelProcessGroup handles, one
// per simulated rank, sharing an in-process hub.
func NewChannelProcessGroups(size int) []*ChannelProcessGroup {
	hub := &groupHub{
		gather:  make(chan gatherMsg, size),
		results: make([]chan []float64, size),
		barrier: make(chan struct{}, size),
	}
	for r := 0; r < size; r++ {
		hub.results[r] = make(chan []float64, 1)
	}
	groups := make([]*ChannelProcessGroup, size)
	for r := 0; r < size; r++ {
		groups[r] = &ChannelProcessGroup{rank: r, size: size, hub: hub}
	}
	go hub.run(size)
	return groups
}

func (h *groupHub) run(size int) {
	collected := make([]float64, size)
	seen := 0
	for msg := range h.gather {
		collected[msg.rank] = msg.value
		seen++
		if seen == size {
			out := make([]float64, size)
			copy(out, collected)
			for r := 0; r < size; r++ {
				h.results[r] <- out
			}
			seen = 0
		}
	}
}

func (c *ChannelProcessGroup) Rank() int { return c.rank }
func (c *ChannelProcessGroup) Size() int { return c.size }

func (c *ChannelProcessGroup) AllGather(value float64) ([]float64, error) {
	c.hub.gather <- gatherMsg{rank: c.rank, value: value}
	return <-c.hub.results[c.rank], nil
}

// Barrier is an all-gather whose values are discarded: the hub hands no
// rank its result until every rank has contributed, so no rank returns
// before all of them have called Barrier.
func (c *ChannelProcessGroup) Barrier() error {
	_, err := c.AllGather(0)
	return err
}

// Stats is spec.md §4.6's cluster-wide summary of one metric sampled
// across every rank in a group.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	N      int
}

// Aggregate gathers value from every rank in pg and reduces it to Stats.
// Every rank must call Aggregate for the same metric, in the same order,
// or the underlying collective will deadlock or mismatch values —
// spec.md §4.6's own stated precondition for collectives.
func Aggregate(pg ProcessGroup, value float64) (Stats, error) {
	values, err := pg.AllGather(value)
	if err != nil {
		return Stats{}, err
	}
	return reduce(values), nil
}

func reduce(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := stat.Mean(values, nil)
	var stddev float64
	if len(values) > 1 {
		stddev = stat.StdDev(values, nil)
	}
	if math.IsNaN(stddev) {
		stddev = 0
	}
	return Stats{Min: min, Max: max, Mean: mean, StdDev: stddev, N: len(values)}
}

// Sort returns a copy of values in ascending order. This is plain
// ascending-order sorting, not a statistic, so it stays on stdlib
// sort.Float64s rather than reaching into gonum/stat for it.
func Sort(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
