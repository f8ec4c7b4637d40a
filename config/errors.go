// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName          = errors.New("invalid application name")
	ErrInvalidEnvironment      = errors.New("invalid environment")
	ErrInvalidLogLevel         = errors.New("invalid log level")
	ErrInvalidLogFormat        = errors.New("invalid log format")
	ErrInvalidSnapshotInterval = errors.New("invalid snapshot interval")
	ErrInvalidPageSize         = errors.New("invalid catch-up page size")
	ErrInvalidMailboxSize      = errors.New("invalid mailbox size")
	ErrInvalidEntityLimits     = errors.New("invalid entity limits")
	ErrInvalidStorageDriver    = errors.New("invalid storage driver")
	ErrMissingStorageSettings  = errors.New("missing storage settings")
	ErrInvalidSerializer       = errors.New("invalid serializer")
	ErrInvalidTelemetry        = errors.New("invalid telemetry settings")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
