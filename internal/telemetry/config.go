package telemetry

import (
	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/version"
)

// Config holds configuration for the tracer
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled determines whether tracing is enabled.
	// When false, a noop tracer is used
	Enabled bool

	// Endpoint is the OTLP/HTTP collector endpoint (host:port).
	// If empty, spans are recorded but not exported
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool
}

// DefaultConfig returns tracing disabled
func DefaultConfig() Config {
	return Config{
		ServiceName:    "caretaker",
		ServiceVersion: version.Version,
	}
}

// FromConfig builds a tracer configuration from the telemetry section.
func FromConfig(cfg config.TelemetryConfig) Config {
	c := DefaultConfig()
	c.Enabled = cfg.Enabled
	c.Endpoint = cfg.Endpoint
	c.Insecure = cfg.Insecure
	if cfg.ServiceName != "" {
		c.ServiceName = cfg.ServiceName
	}
	return c
}
