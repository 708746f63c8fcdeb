// Package hwpc implements spec.md §4.2: the HWPC Adapter. The raw
// event-programming back-end (add/start/stop/read) is an out-of-scope
// external collaborator (spec.md §1, §6); this package owns the chooser
// selection, the derived-metric-vector rules, and the per-CMG sharing
// policy, all of which are in scope.
//
// Grounded on the teacher's pkg/system/cgroup/cgroup.go Version enum
// (String()/Detect() shape) for Chooser, and pkg/consumption's Config/
// Apply shape for the derivation rules.
package hwpc

import (
	"fmt"
	"os"
)

// Chooser selects the event set and derivation rules, set once per
// process via HWPC_CHOOSER (spec.md §6), default FLOPS.
type Chooser int

const (
	FLOPS Chooser = iota
	BANDWIDTH
	VECTOR
	CACHE
	CYCLE
	LOADSTORE
	USER
)

func (c Chooser) String() string {
	switch c {
	case FLOPS:
		return "FLOPS"
	case BANDWIDTH:
		return "BANDWIDTH"
	case VECTOR:
		return "VECTOR"
	case CACHE:
		return "CACHE"
	case CYCLE:
		return "CYCLE"
	case LOADSTORE:
		return "LOADSTORE"
	case USER:
		return "USER"
	default:
		return "UNKNOWN"
	}
}

// ParseChooser parses the HWPC_CHOOSER env value, case-sensitively per
// spec.md's enumerated literal set. An unrecognized value is a "bad env"
// condition (spec.md §7): caller gets an error and should fall back to
// the documented default (FLOPS).
func ParseChooser(s string) (Chooser, error) {
	switch s {
	case "FLOPS", "":
		return FLOPS, nil
	case "BANDWIDTH":
		return BANDWIDTH, nil
	case "VECTOR":
		return VECTOR, nil
	case "CACHE":
		return CACHE, nil
	case "CYCLE":
		return CYCLE, nil
	case "LOADSTORE":
		return LOADSTORE, nil
	case "USER":
		return USER, nil
	default:
		return FLOPS, fmt.Errorf("hwpc: unrecognized HWPC_CHOOSER %q", s)
	}
}

// ChooserFromEnv reads HWPC_CHOOSER, defaulting to FLOPS on an absent or
// bad value (spec.md §7 "Bad env value": log, fall back to default). The
// bool return reports whether the env value was honored as-is.
func ChooserFromEnv() (Chooser, bool) {
	v := os.Getenv("HWPC_CHOOSER")
	c, err := ParseChooser(v)
	return c, err == nil
}

// EventID identifies one raw counter event understood by an EventBackend.
type EventID string

// Events returns the fixed raw event set this chooser programs. Real
// event names are back-end specific (PAPI preset names, perf_event
// encodings, …); these are placeholders an embedding EventBackend maps to
// its own namespace.
func (c Chooser) Events() []EventID {
	switch c {
	case BANDWIDTH:
		return []EventID{"MEM_BYTES_READ", "MEM_BYTES_WRITTEN"}
	case FLOPS:
		return []EventID{"FP_OPS_SP", "FP_OPS_DP"}
	case VECTOR:
		return []EventID{"FP_OPS_SP", "FP_OPS_DP", "FP_OPS_VECTOR"}
	case CACHE:
		return []EventID{"L1_HIT", "L2_HIT", "L3_HIT", "CACHE_ACCESS"}
	case CYCLE:
		return []EventID{"CYCLES", "INSTRUCTIONS"}
	case LOADSTORE:
		return []EventID{"LOADS", "STORES", "LOADS_VECTOR", "STORES_VECTOR"}
	case USER:
		return nil
	default:
		return nil
	}
}

// NumSlots returns the width S of the derived metric vector v_sorted for
// this chooser (spec.md §3, §4.2).
func (c Chooser) NumSlots() int {
	switch c {
	case BANDWIDTH:
		return 2 // total bytes, bytes/second
	case FLOPS:
		return 3 // total flops, peak%, flop rate
	case VECTOR:
		return 3 // total flops, vectorized%, flop rate
	case CACHE:
		return 4 // L1, L2, L3, hit%
	case CYCLE:
		return 3 // avg cycles/thread, total instructions, avg cycles/thread per second
	case LOADSTORE:
		return 4 // loads, stores, vectorized%, rate
	case USER:
		return 1 // user flop rate only
	default:
		return 1
	}
}

// ClusterSharedEvents returns the subset of this chooser's Events() that
// are read once per core-memory-group (CMG) rather than once per core —
// spec.md §4.2's per-event sharing policy, invariant #5: "per-core events
// sum across threads; shared per-CMG events use prorated apportionment."
// BANDWIDTH's memory-traffic counters come from a shared uncore/memory-
// controller PMU, so every thread in a process reads the same cluster-wide
// value; the Thread Merger must not sum it per thread, only prorate it
// across the processes sharing that cluster (see Topology.Apportion). All
// other choosers' event sets are per-core and sum normally.
func (c Chooser) ClusterSharedEvents() map[EventID]bool {
	switch c {
	case BANDWIDTH:
		return map[EventID]bool{"MEM_BYTES_READ": true, "MEM_BYTES_WRITTEN": true}
	default:
		return nil
	}
}

// HeadlineUnit is the human-readable unit suffix for the last v_sorted
// slot (spec.md §4.2 "unit suffix for the headline rate").
func (c Chooser) HeadlineUnit() string {
	switch c {
	case BANDWIDTH:
		return "B/s"
	case FLOPS, VECTOR, USER:
		return "flops"
	case CACHE:
		return "%"
	case CYCLE:
		return "cycles/thread"
	case LOADSTORE:
		return "ops/s"
	default:
		return ""
	}
}
