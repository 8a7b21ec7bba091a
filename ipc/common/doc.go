// Package common provides core data structures and utilities shared across
// the cache client. It defines the configuration surface, the error taxonomy,
// and the logging integration used by all other ipc packages.
//
// The package focuses on:
//   - Client configuration with environment variable support
//   - A typed error taxonomy so callers can branch on error codes
//   - Custom logging integrated with the dragonboat logger facility
//
// Key Components:
//
//   - Config: All tunables of the client (engine command, payload policy,
//     reconnect schedule, timeouts, logging). Loadable from KVPIPE_*
//     environment variables, with .env file support.
//
//   - Error/Code: Every error the client surfaces carries a Code
//     (spawn failed, connection lost, protocol violation, ...). Use HasCode
//     to classify errors without matching message strings.
//
//   - Logger factory: CreateLogger builds loggers with consistent formatting.
//     Output always goes to stderr because stdout is the reply channel when
//     this binary runs as the engine.
package common
