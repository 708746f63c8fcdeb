package pmlib

import (
	"github.com/ja7ad/pmlib/internal/aggregate"
	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/otf"
	"github.com/ja7ad/pmlib/internal/power"
	"github.com/ja7ad/pmlib/internal/report"
	"github.com/ja7ad/pmlib/internal/watch"
)

// Option configures a Monitor at construction time. Options are applied
// in the order given (WithConfigFile is itself one); New then consults
// HWPC_CHOOSER and PMLIB_REPORT only for the settings that WithChooser and
// WithReportLevel did not fix, and OTF_TRACING whenever it is set.
type Option func(*settings)

type settings struct {
	chooser      hwpc.Chooser
	chooserSet   bool
	numThreads   int
	reportLevel  report.Level
	reportSet    bool
	eventBackend hwpc.EventBackend
	powerBackend power.Backend
	tracer       otf.Tracer
	tracerMode   otf.Mode
	pg           aggregate.ProcessGroup
	rt           watch.Runtime
	configErr    error
}

func defaultSettings() settings {
	return settings{
		chooser:      hwpc.FLOPS,
		reportLevel:  report.Basic,
		eventBackend: hwpc.NullBackend{},
		powerBackend: power.NullBackend{},
		tracer:       otf.NullTracer{},
		tracerMode:   otf.Off,
		pg:           aggregate.LocalProcessGroup{},
	}
}

// WithChooser fixes the HWPC chooser, overriding HWPC_CHOOSER if called
// explicitly (env still wins if this Option is never passed — see New).
func WithChooser(c hwpc.Chooser) Option {
	return func(s *settings) { s.chooser = c; s.chooserSet = true }
}

// WithThreads sizes the fork-join goroutine pool; 0 defers to
// OMP_NUM_THREADS / GOMAXPROCS (see watch.NewGoroutineRuntime).
func WithThreads(n int) Option {
	return func(s *settings) { s.numThreads = n }
}

// WithReportLevel fixes the report verbosity, overriding PMLIB_REPORT if
// this Option is passed explicitly.
func WithReportLevel(l report.Level) Option {
	return func(s *settings) { s.reportLevel = l; s.reportSet = true }
}

// WithEventBackend attaches a real HWPC back-end; the default is
// hwpc.NullBackend{}.
func WithEventBackend(b hwpc.EventBackend) Option {
	return func(s *settings) { s.eventBackend = b }
}

// WithPowerBackend attaches a real power telemetry/control back-end; the
// default is power.NullBackend{}.
func WithPowerBackend(b power.Backend) Option {
	return func(s *settings) { s.powerBackend = b }
}

// WithOTFTracer attaches a real OTF tracer; the default is
// otf.NullTracer{}.
func WithOTFTracer(t otf.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithProcessGroup attaches a real collective-communication group; the
// default is aggregate.LocalProcessGroup{} (a single rank).
func WithProcessGroup(pg aggregate.ProcessGroup) Option {
	return func(s *settings) { s.pg = pg }
}

// WithRuntime overrides the fork-join Runtime; mostly useful for tests
// that want deterministic thread counts without touching OMP_NUM_THREADS.
func WithRuntime(rt watch.Runtime) Option {
	return func(s *settings) { s.rt = rt }
}
