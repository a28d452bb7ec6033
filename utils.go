package azfunc

import (
	"os"
	"strings"
	"time"
)

// Config holds the telemetry settings of the function app.
type Config struct {
	// ServiceName is the service.name / app.name resource tag.
	ServiceName string `yaml:"serviceName"`
	// ServiceVersion is the service.version resource tag. When empty the host
	// reads APP_VERSION from App Configuration at startup.
	ServiceVersion string `yaml:"serviceVersion"`
	Environment    string `yaml:"environment"`
	// SiteName is the Function App name, set by Azure in $WEBSITE_SITE_NAME.
	SiteName string `yaml:"siteName"`

	Enabled           bool          `yaml:"enabled"`
	CollectorEndpoint string        `yaml:"collectorEndpoint"`
	FlushTimeout      time.Duration `yaml:"flushTimeout"`
}

// DefaultConfig returns the settings used when neither a config file nor the
// environment provide a value.
func DefaultConfig() Config {
	return Config{
		ServiceName:  "azfunctions",
		FlushTimeout: DefaultFlushTimeout,
	}
}

// ApplyEnv overrides c with the telemetry environment variables that are set:
//
//	OTEL_ENABLE=true|false
//	OTEL_COLLECTOR_ENDPOINT=host:port
//	OTEL_FLUSH_TIMEOUT=duration (e.g. 2s)
//	SERVICE_NAME, SERVICE_VERSION, ENV, WEBSITE_SITE_NAME
//
// An unparsable OTEL_FLUSH_TIMEOUT is ignored.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("OTEL_ENABLE"); ok {
		c.Enabled = strings.ToLower(v) == "true"
	}
	if v, ok := os.LookupEnv("OTEL_COLLECTOR_ENDPOINT"); ok {
		c.CollectorEndpoint = v
	}
	if v, ok := os.LookupEnv("OTEL_FLUSH_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.FlushTimeout = d
		}
	}
	if v, ok := os.LookupEnv("SERVICE_NAME"); ok && v != "" {
		c.ServiceName = v
	}
	if v, ok := os.LookupEnv("SERVICE_VERSION"); ok {
		c.ServiceVersion = v
	}
	if v, ok := os.LookupEnv("ENV"); ok {
		c.Environment = v
	}
	if v, ok := os.LookupEnv("WEBSITE_SITE_NAME"); ok {
		c.SiteName = v
	}
}

// IsEnabled reports whether telemetry should be exported: it must be switched
// on explicitly and have a collector endpoint to export to.
func (c Config) IsEnabled() bool {
	return c.Enabled && c.CollectorEndpoint != ""
}
