// Package conn manages the engine process and the request/reply traffic
// over its standard streams.
//
// The package focuses on:
//   - Launching the engine as a child process with piped stdin/stdout
//     (stdin carries command frames, stdout carries reply frames)
//   - Reassembling fixed-size reply frames from the unframed stdout
//     stream and pairing them with requests in strict FIFO order
//   - Supervising the process: readiness probing after launch, automatic
//     relaunch with linear backoff after a crash, lazy relaunch after a
//     clean exit
//   - Tearing the whole process tree down on close, preceded by a halt
//     command so the engine can persist its state
//
// Key Components:
//   - Launcher / Process: abstraction over process creation, implemented
//     by ExecLauncher for real child processes and by test launchers for
//     in-process engines
//   - Manager: the connection state machine, entry point for roundtrips
//   - demux: the FIFO reply demultiplexer
//
// The protocol carries no request IDs. Correlation relies on the engine
// answering every command with exactly one reply in command order, which
// is why a missed or surplus reply always recycles the connection
// instead of attempting to resynchronize the stream.
package conn
