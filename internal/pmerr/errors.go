// Package pmerr holds the sentinel errors shared by the measurement engine.
//
// Every category from spec.md's error taxonomy gets one sentinel so callers
// can errors.Is against it; none of them is meant to propagate as a fatal
// error to instrumented application code except ErrCollectiveFailed.
package pmerr

import "errors"

var (
	// ErrMisPaired indicates a start/stop call arrived in the wrong state
	// (stop without start, start while already started). The engine
	// self-heals and continues; Start/Stop return this error wrapped, and
	// a section's Healthy flag is not changed by it.
	ErrMisPaired = errors.New("pmlib: start/stop mis-paired")

	// ErrUnknownLabel indicates an operation referenced a section label
	// that was never registered.
	ErrUnknownLabel = errors.New("pmlib: unknown section label")

	// ErrResourceExhausted indicates a counter or scratch allocation could
	// not be made; the affected section degrades to zero HWPC values.
	ErrResourceExhausted = errors.New("pmlib: counter or scratch allocation exhausted")

	// ErrBackendDisabled indicates a HWPC/power/OTF back-end failed to
	// initialize; the corresponding sub-feature is disabled for the rest
	// of the run.
	ErrBackendDisabled = errors.New("pmlib: back-end sub-feature disabled")

	// ErrCollectiveFailed indicates an all-gather/reduce/barrier failed.
	// This is the one fatal error in the taxonomy.
	ErrCollectiveFailed = errors.New("pmlib: collective operation failed")

	// ErrBadEnv indicates an environment variable held an unrecognized
	// value; the caller falls back to the documented default.
	ErrBadEnv = errors.New("pmlib: environment value invalid, using default")

	// ErrBypassed indicates the Monitor is running in BYPASS_PMLIB mode
	// and every operation is a no-op.
	ErrBypassed = errors.New("pmlib: bypassed, all calls are no-ops")
)
