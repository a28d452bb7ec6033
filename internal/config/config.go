// Package config loads the configuration of the function host process.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	azfunc "github.com/Voitanos/azfunctions-cicd-iac"
	"github.com/Voitanos/azfunctions-cicd-iac/heartbeat"
)

const defaultPort = 8080

// Config is the configuration of the function host.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry azfunc.Config   `yaml:"telemetry"`
	AppConfig AppConfigConfig `yaml:"appConfiguration"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener the Functions host forwards to.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// MetricsPath serves the Prometheus registry; empty disables it.
	MetricsPath string `yaml:"metricsPath"`
}

// AppConfigConfig locates the Azure App Configuration resource.
type AppConfigConfig struct {
	Name          string        `yaml:"name"`
	Label         string        `yaml:"label"`
	LookupTimeout time.Duration `yaml:"lookupTimeout"`
}

// HeartbeatConfig configures the heartbeat function.
type HeartbeatConfig struct {
	FailurePolicy string `yaml:"failurePolicy"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            defaultPort,
			ShutdownTimeout: 10 * time.Second,
			MetricsPath:     "/metrics",
		},
		Telemetry: azfunc.DefaultConfig(),
		AppConfig: AppConfigConfig{
			LookupTimeout: heartbeat.DefaultLookupTimeout,
		},
		Heartbeat: HeartbeatConfig{FailurePolicy: heartbeat.Propagate.String()},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path on top of Default, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the configuration with the Azure Functions app settings.
func (c *Config) applyEnv() error {
	c.Telemetry.ApplyEnv()

	if v, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FUNCTIONS_CUSTOMHANDLER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("APP_CONFIGURATION_NAME"); ok {
		c.AppConfig.Name = v
	}
	if v, ok := os.LookupEnv("APP_CONFIGURATION_LABEL"); ok {
		c.AppConfig.Label = v
	}
	if v, ok := os.LookupEnv("APP_CONFIGURATION_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid APP_CONFIGURATION_TIMEOUT %q: %w", v, err)
		}
		c.AppConfig.LookupTimeout = d
	}
	if v, ok := os.LookupEnv("HEARTBEAT_FAILURE_POLICY"); ok && v != "" {
		c.Heartbeat.FailurePolicy = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if _, err := heartbeat.ParseFailurePolicy(c.Heartbeat.FailurePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("telemetry service name is empty"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
