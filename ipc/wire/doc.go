// Package wire implements the binary frame format spoken between the cache
// client and the engine process. All functions are pure, the package does
// no I/O.
//
// Commands are fixed 128-byte frames (integers big-endian, text fields NUL
// padded):
//
//	byte  0        command kind: 'I' insert, 'G' get, 'R' remove, 'H' halt
//	bytes 1..63    key, up to 63 bytes
//	bytes 64..119  value, up to 56 bytes (insert only)
//	bytes 120..125 insert timestamp, 48-bit unix seconds (insert only)
//	bytes 126..127 expire duration in seconds, 0 = never (insert only)
//
// Replies are fixed 64-byte frames. Only the first 56 bytes are meaningful
// to the client: on a get hit the engine returns its stored 64-byte record
// block (value + timestamp + expire) verbatim, so the trailing 8 bytes are
// record metadata and are ignored. Decoding strips the NUL padding and
// trims surrounding whitespace.
//
// The protocol carries no request IDs and no length fields. Replies are
// matched to commands purely by order, and single-character sentinel
// payloads ("I", "G", "R", "E") change meaning depending on the command
// that caused the reply. The Interpret functions encode exactly that
// mapping and nothing else, an unexpected payload is reported as a
// protocol violation rather than guessed at.
package wire
