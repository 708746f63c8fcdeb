// Package power defines the out-of-scope node-power telemetry/control
// back-end spec.md §1/§6 treats as an external collaborator: a real
// implementation would read power rails from RAPL/BMC/PAPI-power and
// expose node-power knobs; here only the seam is specified.
package power

import "github.com/ja7ad/pmlib/internal/pmerr"

// Knob is spec.md §2's node-power control surface:
// {CPU_FREQ, MEMORY_THROTTLE, ISSUE, PIPE, ECO}.
type Knob int

const (
	CPUFreq Knob = iota
	MemoryThrottle
	Issue
	Pipe
	Eco
)

func (k Knob) String() string {
	switch k {
	case CPUFreq:
		return "CPU_FREQ"
	case MemoryThrottle:
		return "MEMORY_THROTTLE"
	case Issue:
		return "ISSUE"
	case Pipe:
		return "PIPE"
	case Eco:
		return "ECO"
	default:
		return "UNKNOWN"
	}
}

// Backend is the seam a real power telemetry/control back-end attaches
// to: per-rail instantaneous watts for accumulation into a Watch's
// UJoule/WAccumu, plus the get/set knob pair.
type Backend interface {
	NumRails() int
	ReadWatts(out []float64) error
	GetKnob(k Knob) (int, error)
	SetKnob(k Knob, v int) error
}

// NullBackend is the default Backend: zero rails, knob reads/writes fail
// with ErrBackendDisabled.
type NullBackend struct{}

func (NullBackend) NumRails() int                 { return 0 }
func (NullBackend) ReadWatts(out []float64) error { return nil }
func (NullBackend) GetKnob(Knob) (int, error)      { return 0, pmerr.ErrBackendDisabled }
func (NullBackend) SetKnob(Knob, int) error        { return pmerr.ErrBackendDisabled }
