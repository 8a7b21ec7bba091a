// Package ipc provides the client side of the cache engine's pipe
// protocol. It acts as the communication layer between an application and
// an engine subprocess, speaking fixed-size binary frames over the
// engine's stdin and stdout.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the IPC system,
//     including the client configuration, typed errors, and logging.
//
//   - wire: The frame protocol itself, encoding of 128-byte command frames,
//     decoding of 64-byte reply frames, and the reply interpretation rules.
//
//   - conn: Engine process lifecycle and connection management, including
//     the launcher abstraction, reply demultiplexing, and reconnection.
//
//   - client: The public cache client, exposing Insert, Get and Remove over
//     a managed engine connection with queuing while the engine is down.
//
//   - clienttest: A reusable conformance test suite plus an in-process
//     engine launcher for tests.
package ipc
