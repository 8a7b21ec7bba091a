// Package engine implements the cache engine process: an in-memory
// key/value store driven by the wire protocol over a stdin/stdout frame
// stream.
//
// The package focuses on:
//   - Executing insert, get and remove commands against a concurrent
//     in-memory store
//   - Per-record TTLs with lazy expiry on access plus an optional
//     background sweep
//   - Snapshot persistence: the store is written to disk on halt or
//     stream close and reloaded on the next start, with deadlines
//     recomputed from the timestamps embedded in the record blocks
//
// Key Components:
//   - Store: the concurrent record store with snapshot Save/Load
//   - Engine: the frame loop, normally wired to os.Stdin/os.Stdout by
//     the engine subcommand
//
// The engine writes log output to stderr only. Stdout carries nothing
// but reply frames, a stray byte there would desynchronize the client's
// reply stream.
package engine
