package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/machinefabric/extipc-go/framing"
)

// ValidationError collects every problem found in a configuration
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate returns a *ValidationError listing all problems, or nil
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateSocket(cfg, ve)
	validateHost(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	validateMetrics(cfg, ve)
	validateApps(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateSocket(cfg *Config, ve *ValidationError) {
	if cfg.Socket.Path == "" {
		ve.Add("socket.path is required")
	}
}

func validateHost(cfg *Config, ve *ValidationError) {
	if cfg.Host.Disabled {
		return
	}
	if cfg.Host.StartTimeout <= 0 {
		ve.Add("host.start_timeout must be > 0")
	}
	if cfg.Host.Runtime == "" && cfg.Host.BundleDir == "" && len(cfg.Host.Candidates) == 0 {
		ve.Add("host.candidates must not be empty without host.runtime or host.bundle_dir")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.MaxFrame < 0 {
		ve.Add("gateway.max_frame must be >= 0")
	}
	if cfg.Gateway.MaxFrame > framing.MaxFrameHardLimit {
		ve.Add("gateway.max_frame must be <= %d", framing.MaxFrameHardLimit)
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if cfg.Metrics.Addr == "" {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q: %v", cfg.Metrics.Addr, err)
	}
}

func validateApps(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.Apps))
	for i, app := range cfg.Apps {
		if app.ID == "" {
			ve.Add("apps[%d].id is required", i)
			continue
		}
		if seen[app.ID] {
			ve.Add("apps[%d].id %q is duplicated", i, app.ID)
		}
		seen[app.ID] = true
		if len(app.Exec) == 0 {
			ve.Add("apps[%d].exec is required", i)
		}
	}
}
