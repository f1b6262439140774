// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Command line tools use CLIConfig, which logs to stderr so stdout stays
// free for reports.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("port", "8080"))
//	proxyLog := logger.Component("proxy")
//	proxyLog.Error("Upstream fetch failed", zap.Error(err))
package logging
