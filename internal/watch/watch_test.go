package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/power"
	"github.com/ja7ad/pmlib/internal/registry"
)

type fakeBackend struct {
	values []int64 // monotonically increasing counters shared by all threads
}

func (f *fakeBackend) AddEvents(threadID int, events []hwpc.EventID) error { return nil }
func (f *fakeBackend) Start(threadID int) error                            { return nil }
func (f *fakeBackend) Stop(threadID int) error                             { return nil }
func (f *fakeBackend) Read(threadID int, out []int64) error {
	copy(out, f.values)
	return nil
}

func TestSingleSectionSerialAccumulates(t *testing.T) {
	backend := &fakeBackend{values: []int64{0, 0}}
	w := New("outer", registry.Computation, hwpc.BANDWIDTH, 1, 2, 0)

	require.NoError(t, w.Start(0, 0.0, false, backend))
	backend.values = []int64{100, 200}
	require.NoError(t, w.Stop(0, 1.0, 0, 0, backend))

	assert.Equal(t, int64(1), w.Threads[0].CallCount)
	assert.InDelta(t, 1.0, w.Threads[0].AccumTime, 1e-9)
	assert.Equal(t, int64(100), w.Threads[0].accumu[0])
	assert.Equal(t, int64(200), w.Threads[0].accumu[1])
}

func TestNestedSectionsExclusivityTrackedByCaller(t *testing.T) {
	// The Watch itself does not know about other sections; exclusivity
	// (spec.md §3 invariant 4) is the registry's job. This test only
	// confirms that an outer section's own call_count/accum_time are
	// unaffected by an inner section starting and stopping on the same
	// thread in between.
	backend := &fakeBackend{values: []int64{0}}
	outer := New("outer", registry.Computation, hwpc.FLOPS, 1, 1, 0)
	inner := New("inner", registry.Computation, hwpc.FLOPS, 1, 1, 0)

	require.NoError(t, outer.Start(0, 0.0, false, backend))
	require.NoError(t, inner.Start(0, 0.1, false, backend))
	require.NoError(t, inner.Stop(0, 0.2, 0, 0, backend))
	require.NoError(t, outer.Stop(0, 1.0, 0, 0, backend))

	assert.Equal(t, int64(1), outer.Threads[0].CallCount)
	assert.Equal(t, int64(1), inner.Threads[0].CallCount)
}

func TestMisPairedStopWithoutStartIsSelfHealing(t *testing.T) {
	backend := &fakeBackend{values: []int64{0}}
	w := New("x", registry.Computation, hwpc.FLOPS, 1, 1, 0)

	err := w.Stop(0, 1.0, 0, 0, backend)
	require.Error(t, err)
	assert.True(t, w.Healthy, "healthy must never flip false per the best-effort policy")
	assert.Equal(t, int64(0), w.Threads[0].CallCount, "mis-paired stop must not be counted")
}

func TestMisPairedDoubleStartIsSelfHealing(t *testing.T) {
	backend := &fakeBackend{values: []int64{0}}
	w := New("x", registry.Computation, hwpc.FLOPS, 1, 1, 0)

	require.NoError(t, w.Start(0, 0.0, false, backend))
	err := w.Start(0, 0.5, false, backend)
	require.Error(t, err)
	assert.True(t, w.Healthy)

	backend.values = []int64{10}
	require.NoError(t, w.Stop(0, 1.0, 0, 0, backend))
	assert.Equal(t, int64(1), w.Threads[0].CallCount)
}

func TestStopAllRunningForcesIncompleteSections(t *testing.T) {
	backend := &fakeBackend{values: []int64{0}}
	w := New("x", registry.Computation, hwpc.FLOPS, 2, 1, 0)

	require.NoError(t, w.Start(0, 0.0, false, backend))
	require.NoError(t, w.Start(1, 0.0, false, backend))
	require.NoError(t, w.Stop(0, 1.0, 0, 0, backend))

	forced := w.StopAllRunning(2.0, backend)
	assert.Equal(t, 1, forced)
	assert.False(t, w.IsRunning())
}

func TestResetClearsAccumulatorsButNotHealthy(t *testing.T) {
	backend := &fakeBackend{values: []int64{0}}
	w := New("x", registry.Computation, hwpc.FLOPS, 1, 1, 0)
	require.NoError(t, w.Start(0, 0.0, false, backend))
	backend.values = []int64{50}
	require.NoError(t, w.Stop(0, 1.0, 0, 0, backend))

	w.Reset()
	assert.Equal(t, int64(0), w.Threads[0].CallCount)
	assert.True(t, w.Healthy)
	assert.False(t, w.IsMerged())
}

func TestStartSerialFanOutSnapshotsOtherThreadsWithoutTouchingTheirCallCount(t *testing.T) {
	backend := &fakeBackend{values: []int64{0}}
	w := New("x", registry.Computation, hwpc.FLOPS, 3, 1, 0)
	rt := NewGoroutineRuntime(3)

	require.NoError(t, w.StartSerial(0, rt, constTimer{0.0}, backend))
	backend.values = []int64{42}
	require.NoError(t, w.StopSerial(0, rt, constTimer{1.0}, backend, 0, 0))

	assert.Equal(t, int64(1), w.Threads[0].CallCount)
	assert.Equal(t, int64(0), w.Threads[1].CallCount, "non-master threads never accrue their own call_count in a serial region")
	assert.Equal(t, int64(42), w.Threads[1].accumu[0], "but they do accumulate the process-wide counter delta")
}

type constTimer struct{ v float64 }

func (c constTimer) Now() float64 { return c.v }

type fakePowerBackend struct{ watts []float64 }

func (f fakePowerBackend) NumRails() int                 { return len(f.watts) }
func (f fakePowerBackend) ReadWatts(out []float64) error { copy(out, f.watts); return nil }
func (f fakePowerBackend) GetKnob(power.Knob) (int, error) { return 0, nil }
func (f fakePowerBackend) SetKnob(power.Knob, int) error   { return nil }

func TestStopAccumulatesEnergyFromPowerBackend(t *testing.T) {
	backend := &fakeBackend{values: []int64{0}}
	w := New("x", registry.Computation, hwpc.FLOPS, 1, 1, 1)
	w.SetPowerBackend(fakePowerBackend{watts: []float64{10.0}})

	require.NoError(t, w.Start(0, 0.0, false, backend))
	require.NoError(t, w.Stop(0, 2.0, 0, 0, backend))

	assert.InDelta(t, 20.0, w.WAccumu[0][0], 1e-9, "10 watts for 2 seconds = 20 joules")
	assert.Equal(t, 10.0, w.UJoule[0][0])
}
