// Package client provides the public API for the cache engine: Insert,
// Get and Remove against a persistent key/value store running in a
// separate process.
//
// The package focuses on:
//   - A small, goroutine-safe facade over the IPC machinery in ipc/conn
//   - Serializing all commands through one dispatch goroutine, the
//     ordering guarantee the reply correlation depends on
//   - Queueing commands while the engine is down so callers only notice
//     a crash as latency, not as an error
//   - Optional truncation of oversize keys and values to the wire
//     format's fixed field sizes
//
// Key Components:
//   - Client: created with New (child process engine) or NewWithLauncher
//     (custom process source, used by the test helpers in ipc/clienttest)
//
// Thread-safety: all methods on Client are safe for concurrent use.
package client
