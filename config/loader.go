// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from files and the environment
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Values for everything a file leaves out
	defaultConfig *Config

	// lookupEnv is os.LookupEnv outside tests
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{
		".",
		"./config",
		"./configs",
		"/etc/kompics",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".kompics"))
	}

	return &Loader{
		searchPaths:   paths,
		envPrefix:     "KOMPICS",
		defaultConfig: DefaultConfig(),
		lookupEnv:     os.LookupEnv,
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	return l.defaultConfig.Clone()
}

// Load loads configuration from filename, or only defaults and environment
// when filename is empty
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.finish(l.defaults())
	}
	return l.LoadFromFile(filename)
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", filename, err)
	}
	return l.finish(config)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.FindConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.LoadFromFile(configFile)
}

// FindConfigFile searches for a configuration file in the search paths
func (l *Loader) FindConfigFile() (string, error) {
	filenames := []string{
		"kompics.yaml", "kompics.yml",
		"config.yaml", "config.yml",
		"kompics.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

func formatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// parseConfig decodes data over the defaults, so absent fields keep their
// default values
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return config, nil
}

// finish applies environment overrides and validates
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func (l *Loader) env(name string) (string, bool) {
	lookup := l.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	val, ok := lookup(l.envPrefix + "_" + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	// App configuration
	if val, ok := l.env("APP_NAME"); ok {
		config.App.Name = val
	}
	if val, ok := l.env("APP_VERSION"); ok {
		config.App.Version = val
	}
	if val, ok := l.env("APP_ENVIRONMENT"); ok {
		config.App.Environment = Environment(val)
	}

	// Log configuration
	if val, ok := l.env("LOG_LEVEL"); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val, ok := l.env("LOG_FORMAT"); ok {
		config.Log.Format = val
	}
	if val, ok := l.env("LOG_OUTPUT"); ok {
		config.Log.Output = val
	}

	// Runtime configuration
	ints := []struct {
		name string
		dst  *int
	}{
		{"RUNTIME_WORKERS", &config.Runtime.Workers},
		{"RUNTIME_MAX_EVENTS_PER_BATCH", &config.Runtime.MaxEventsPerBatch},
		{"RUNTIME_FREE_LIST_SIZE", &config.Runtime.FreeListSize},
	}
	for _, v := range ints {
		val, ok := l.env(v.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_%s=%q", ErrEnvironmentVarError, l.envPrefix, v.name, val)
		}
		*v.dst = n
	}
	if val, ok := l.env("RUNTIME_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_RUNTIME_SHUTDOWN_TIMEOUT=%q", ErrEnvironmentVarError, l.envPrefix, val)
		}
		config.Runtime.ShutdownTimeout = d
	}
	if val, ok := l.env("RUNTIME_RESTART_SCOPE"); ok {
		config.Runtime.RestartScope = strings.ToLower(val)
	}

	// Metrics configuration
	if val, ok := l.env("METRICS_ENABLED"); ok {
		config.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val, ok := l.env("METRICS_ADDRESS"); ok {
		config.Metrics.Address = val
	}
	if val, ok := l.env("METRICS_PATH"); ok {
		config.Metrics.Path = val
	}

	return nil
}
