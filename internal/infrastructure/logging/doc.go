// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a *zap.Logger named after themselves (runtime, storage,
// watchdog, ...) and tag per-tab lines with the Tab field so one tab's
// lifecycle can be followed across components.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	rt := logger.Component("runtime")
//	rt.Info("tab hibernated", logging.Tab(tabID), zap.Int64("bytes", n))
package logging
