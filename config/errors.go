// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName         = errors.New("invalid application name")
	ErrInvalidEnvironment     = errors.New("invalid environment")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidLogFormat       = errors.New("invalid log format")
	ErrInvalidWorkers         = errors.New("invalid worker count")
	ErrInvalidBatchSize       = errors.New("invalid max events per batch")
	ErrInvalidFreeListSize    = errors.New("invalid free list size")
	ErrInvalidShutdownTimeout = errors.New("invalid shutdown timeout")
	ErrInvalidRestartScope    = errors.New("invalid restart scope")
	ErrInvalidMetricsAddress  = errors.New("invalid metrics address")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
