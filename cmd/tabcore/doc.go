// Package main is the entry point for the tabcore server.
//
// tabcore hosts many page tabs inside a memory-constrained process. It
// samples its own RSS, hibernates idle or expendable tabs to compressed
// files and restores them on focus.
//
// Configuration:
//   - Defaults for development
//   - An optional YAML or TOML file (--config)
//   - Environment variables, including a .env file in the working directory
//   - CLI flags override everything
//
// Usage:
//
//	# Run the server
//	./tabcore serve --port 8000
//
//	# Development mode (console logs, debug level)
//	./tabcore serve --dev
//
//	# Inspect and prune hibernation files
//	./tabcore storage ls
//	./tabcore storage gc --max-age 72h
package main
