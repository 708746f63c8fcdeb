package hwpc

import "github.com/ja7ad/pmlib/internal/numeric"

// CorePeakGFlops is the platform constant used by the FLOPS chooser's
// peak-percentage slot ("core_peak × threads" per spec.md §4.2). It is a
// package variable, not a constant, so an embedding application can set it
// once at startup to match its actual hardware.
var CorePeakGFlops = 32.0

// Derive implements spec.md §4.2's "sort_counter_list" derivation rules:
// given the accumulated raw counter deltas for one section (already
// summed/apportioned across threads per the sharing policy), the elapsed
// wall-clock time, the thread count, and — in USER mode only — the
// user-declared flop count, produce the sorted derived metric vector.
// The last slot is always the headline rate.
func Derive(c Chooser, accumu []int64, elapsedSec float64, threads int, userFlop float64) []float64 {
	dt := elapsedSec
	if dt <= 0 {
		dt = 1e-9
	}
	out := make([]float64, c.NumSlots())

	switch c {
	case BANDWIDTH:
		var total int64
		for _, v := range accumu {
			total += v
		}
		out[0] = float64(total)
		out[1] = numeric.SafeDiv(float64(total), dt)

	case FLOPS:
		var total int64
		for _, v := range accumu {
			total += v
		}
		rate := numeric.SafeDiv(float64(total), dt)
		peakCapacity := CorePeakGFlops * 1e9 * float64(maxInt(threads, 1))
		out[0] = float64(total)
		out[1] = numeric.ClampPercent(100 * numeric.SafeDiv(rate, peakCapacity))
		out[2] = rate

	case VECTOR:
		var total, vectorOps int64
		for i, v := range accumu {
			total += v
			if i == len(accumu)-1 { // last event is the vector-op count
				vectorOps = v
			}
		}
		out[0] = float64(total)
		out[1] = numeric.ClampPercent(100 * numeric.SafeDiv(float64(vectorOps), float64(total)))
		out[2] = numeric.SafeDiv(float64(total), dt)

	case CACHE:
		// accumu[3] is CACHE_ACCESS, the total-access denominator (hits +
		// misses) the event set (chooser.go) adds alongside the three
		// per-level hit counts; hit% is hits over that, not over itself.
		var hits int64
		for i := 0; i < len(accumu) && i < 3; i++ {
			out[i] = float64(accumu[i])
			hits += accumu[i]
		}
		var access int64
		if len(accumu) > 3 {
			access = accumu[3]
		}
		out[len(out)-1] = numeric.ClampPercent(100 * numeric.SafeDiv(float64(hits), float64(access)))

	case CYCLE:
		var cycles, instructions int64
		if len(accumu) > 0 {
			cycles = accumu[0]
		}
		if len(accumu) > 1 {
			instructions = accumu[1]
		}
		avgPerThread := numeric.SafeDiv(float64(cycles), float64(maxInt(threads, 1)))
		out[0] = avgPerThread
		out[1] = float64(instructions)
		out[2] = numeric.SafeDiv(avgPerThread, dt)

	case LOADSTORE:
		var total, vectorOps int64
		for i, v := range accumu {
			if i < 2 {
				out[i] = float64(v)
			}
			total += v
			if i == 2 || i == 3 {
				vectorOps += v
			}
		}
		out[2] = numeric.ClampPercent(100 * numeric.SafeDiv(float64(vectorOps), float64(total)))
		out[3] = numeric.SafeDiv(float64(total), dt)

	case USER:
		out[0] = numeric.SafeDiv(userFlop, dt)

	default:
		out[0] = numeric.SafeDiv(userFlop, dt)
	}

	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
