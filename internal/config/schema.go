// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for sbridge.
package config

import (
	"gopkg.in/yaml.v3"

	"github.com/flemzord/sbridge/internal/security"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version" json:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "channel.telegram").
	Modules map[string]yaml.Node `yaml:"modules" json:"-"`

	// Security holds process-wide limits shared by every channel.
	Security *SecurityConfig `yaml:"security,omitempty" json:"security,omitempty"`

	// Telemetry configures trace export. Tracing is off when nil.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	RateLimits security.RateLimitConfig `yaml:"rate_limits" json:"rate_limits"`
	URLFilter  security.URLFilterConfig `yaml:"url_filter" json:"url_filter"`
	// AuditLog is a JSONL file for control and auth events. Relative paths
	// live under the data directory. Empty disables the audit log.
	AuditLog string `yaml:"audit_log" json:"audit_log,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	Insecure     bool    `yaml:"insecure" json:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// ModuleMap decodes every module node into a generic map. It is used to
// show the effective configuration with secrets redacted.
func (c *Config) ModuleMap() map[string]any {
	out := make(map[string]any, len(c.Modules))
	for id, node := range c.Modules {
		var v any
		if err := node.Decode(&v); err != nil {
			continue
		}
		out[id] = normalize(v)
	}
	return out
}

// normalize converts yaml's map[any]any leftovers into JSON friendly maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				m[ks] = normalize(val)
			}
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
