// Package logging provides structured logging for the bridge.
//
// It wraps log/slog with service-wide default fields, configurable
// output format (JSON or text) and level-based filtering driven by
// the logging section of the configuration file.
//
// All loggers are safe for concurrent use.
package logging
