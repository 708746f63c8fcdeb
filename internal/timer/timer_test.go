package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotone(t *testing.T) {
	tm := New()
	a := tm.Now()
	time.Sleep(5 * time.Millisecond)
	b := tm.Now()
	assert.Greater(t, b, a)
}

func TestSecondsPerCycleEnvOverride(t *testing.T) {
	t.Setenv("PMLIB_CLK_FREQ", "2000") // 2000 MHz
	// SecondsPerCycle caches its first result in a sync.Once. No other
	// test in this package calls it (New picks unixClock, which does not),
	// so this call is the first and sees the override.
	v := SecondsPerCycle()
	require.Greater(t, v, 0.0)
	assert.InDelta(t, 1.0/(2000*1e6), v, 1e-18)
}

func TestFallbackClockElapsed(t *testing.T) {
	f := newFallbackClock()
	a := f.Now()
	time.Sleep(2 * time.Millisecond)
	b := f.Now()
	assert.Greater(t, b, a)
}
