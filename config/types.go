// Package config provides configuration management for kompics runtimes
package config

import (
	"maps"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Restart scopes for faults ignored at the runtime level
const (
	RestartScopeSubtree   = "subtree"
	RestartScopeComponent = "component"
)

// Config represents the complete runtime configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Component runtime configuration
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// Prometheus endpoint configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Custom configurations (for user components)
	Custom map[string]interface{} `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Include the source position of each record
	AddSource bool `yaml:"add_source" json:"add_source"`

	// Fields added to every record
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// RuntimeConfig contains scheduler and component runtime settings
type RuntimeConfig struct {
	// Worker goroutines; 0 means one per CPU
	Workers int `yaml:"workers" json:"workers"`

	// Events a component runs per scheduling turn
	MaxEventsPerBatch int `yaml:"max_events_per_batch" json:"max_events_per_batch"`

	// Spare queue nodes kept per worker
	FreeListSize int `yaml:"free_list_size" json:"free_list_size"`

	// How long shutdown waits for the root to stop
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// What an ignored root-level fault restarts (subtree, component)
	RestartScope string `yaml:"restart_scope" json:"restart_scope"`
}

// MetricsConfig contains Prometheus endpoint settings
type MetricsConfig struct {
	// Serve metrics over HTTP
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	Address string `yaml:"address" json:"address"`

	// Metrics endpoint path
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "kompics-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Description: "kompics component runtime",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
		},
		Runtime: RuntimeConfig{
			Workers:           0,
			MaxEventsPerBatch: 1,
			FreeListSize:      1000,
			ShutdownTimeout:   5 * time.Second,
			RestartScope:      RestartScopeSubtree,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
		Custom: make(map[string]interface{}),
	}
}

// Clone returns a copy that shares no maps with c
func (c *Config) Clone() *Config {
	out := *c
	out.App.Metadata = maps.Clone(c.App.Metadata)
	out.Log.Fields = maps.Clone(c.Log.Fields)
	out.Custom = maps.Clone(c.Custom)
	return &out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	// Validate runtime config
	if c.Runtime.Workers < 0 {
		return ErrInvalidWorkers
	}
	if c.Runtime.MaxEventsPerBatch < 0 {
		return ErrInvalidBatchSize
	}
	if c.Runtime.FreeListSize < 0 {
		return ErrInvalidFreeListSize
	}
	if c.Runtime.ShutdownTimeout < 0 {
		return ErrInvalidShutdownTimeout
	}
	switch c.Runtime.RestartScope {
	case "", RestartScopeSubtree, RestartScopeComponent:
	default:
		return ErrInvalidRestartScope
	}

	// Validate metrics config
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return ErrInvalidMetricsAddress
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// GetLogLevel returns the log level
func (c *Config) GetLogLevel() LogLevel {
	return c.Log.Level
}
