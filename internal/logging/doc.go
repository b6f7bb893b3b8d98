// Package logging provides structured logging for improvctl.
//
// This package wraps a global zap logger. Logging is silent unless a level is
// requested with --log-level or IMPROV_LOG_LEVEL, or a log file is given with
// --log-file, so command output on stdout is never interleaved with
// diagnostics. Console logs go to stderr; file logs are rotated with
// lumberjack.
//
// # Log Levels
//
//   - Debug: Raw frames, console lines from the device, bridged messages
//   - Info: Handshake, scan and provisioning milestones
//   - Warn: Timeouts, dropped frames, unexpected disconnects
//   - Error: Failures that end a command
//
// # Configuration
//
//	if err := logging.Setup(logging.Options{Level: "debug", File: "improv.log"}); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// # Protocol Client
//
// The improv client takes a key/value logger. ImprovLogger adapts the global
// logger:
//
//	client := improv.NewClient(port, improv.WithLogger(logging.ImprovLogger()))
package logging
