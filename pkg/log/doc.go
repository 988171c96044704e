// Package log provides structured logging for cored on top of
// zerolog: a global Logger initialized once via Init(Config), level
// filtering (debug/info/warn/error), and a handful of child-logger
// helpers (WithComponent, WithContainerID, WithExecSuffix,
// WithRuntime) so pipeline code can attach the same context fields the
// CLI and daemon's JSON logs carry.
package log
