// Package cmd implements the command-line interface for the kvpipe
// persistent key-value cache. It provides a hierarchical command structure
// with operations for running the cache engine and interacting with it as
// a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value cache operations (get, set, delete, perf)
//   - engine: Command for running the cache engine on stdin/stdout
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See kvpipe -help for a list of all commands.
package cmd
