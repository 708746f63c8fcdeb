package pmlib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ja7ad/pmlib/internal/hwpc"
	"github.com/ja7ad/pmlib/internal/otf"
	"github.com/ja7ad/pmlib/internal/report"
)

// Config is pmlib.yaml's shape: static defaults a deployment can check
// in once instead of exporting the env vars spec.md §6 lists. Chooser,
// report level and OTF tracing mode are overridden by HWPC_CHOOSER,
// PMLIB_REPORT and OTF_TRACING at New time (file supplies defaults, env
// supplies policy); a thread count from the file takes precedence over
// OMP_NUM_THREADS.
type Config struct {
	Chooser     string  `yaml:"chooser"`
	ReportLevel string  `yaml:"report_level"`
	OTFTracing  string  `yaml:"otf_tracing"`
	Threads     int     `yaml:"threads"`
	CorePeakGF  float64 `yaml:"core_peak_gflops"`
}

// LoadConfig reads and parses a pmlib.yaml-shaped file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pmlib: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("pmlib: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// WithConfigFile loads path as a Config and applies it as a set of
// defaults. Unlike WithChooser/WithReportLevel, fields populated this way
// do NOT block a later environment-variable override — New still lets
// HWPC_CHOOSER/PMLIB_REPORT win over a config file, matching §6's
// "effective env" semantics. An unreadable or malformed file is returned
// as an error from New rather than silently ignored.
func WithConfigFile(path string) Option {
	return func(s *settings) {
		cfg, err := LoadConfig(path)
		if err != nil {
			s.configErr = err
			return
		}
		if cfg.Chooser != "" {
			if c, err := hwpc.ParseChooser(cfg.Chooser); err == nil {
				s.chooser = c
			}
		}
		if cfg.ReportLevel != "" {
			s.reportLevel = parseReportLevel(cfg.ReportLevel)
		}
		if cfg.Threads > 0 {
			s.numThreads = cfg.Threads
		}
		if cfg.CorePeakGF > 0 {
			hwpc.CorePeakGFlops = cfg.CorePeakGF
		}
		if cfg.OTFTracing != "" {
			s.tracerMode = otf.ParseMode(cfg.OTFTracing)
		}
	}
}

func parseReportLevel(s string) report.Level {
	switch s {
	case "DETAIL":
		return report.Detail
	case "FULL":
		return report.Full
	default:
		return report.Basic
	}
}
