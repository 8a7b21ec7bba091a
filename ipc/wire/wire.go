package wire

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kvpipe/kvpipe/ipc/common"
)

// --------------------------------------------------------------------------
// Frame Geometry
// --------------------------------------------------------------------------

// Frame sizes and field limits. These are fixed by the wire format and
// shared with the engine, they are not tunable.
const (
	CommandFrameSize = 128 // Every command is exactly this many bytes
	ReplyFrameSize   = 64  // Every reply is exactly this many bytes
	ReplyPayloadSize = 56  // Meaningful prefix of a reply frame

	MaxKeyLen   = 63 // Key field size (bytes 1..63 of a command frame)
	MaxValueLen = 56 // Value field size (bytes 64..119 of an insert frame)

	keyOffset    = 1
	valueOffset  = 64
	tsOffset     = 120
	expireOffset = 126
)

// Record block layout. The engine stores the last 64 bytes of an insert
// frame verbatim (value + timestamp + expire) and returns that block as the
// reply to a successful get, so record size and reply frame size coincide.
const (
	RecordSize         = 64
	RecordValueSize    = 56
	recordTSOffset     = 56
	recordExpireOffset = 62
)

const maxUint48 = 1<<48 - 1 // Timestamps are 48-bit unix seconds

// --------------------------------------------------------------------------
// Command Type
// --------------------------------------------------------------------------

// Kind identifies a command on the wire. The byte value is the first byte
// of the command frame.
type Kind byte

const (
	KindInsert Kind = 'I' // Store a key-value pair
	KindGet    Kind = 'G' // Look up a value by key
	KindRemove Kind = 'R' // Remove a key-value pair
	KindHalt   Kind = 'H' // Persist and exit, carries no reply
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindGet:
		return "get"
	case KindRemove:
		return "remove"
	case KindHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Command represents a single command before encoding. Which fields are
// used depends on the kind: only inserts carry a value, timestamp and
// expire duration.
type Command struct {
	Kind      Kind
	Key       string
	Value     []byte
	Timestamp int64  // Unix seconds, 48-bit on the wire
	Expire    uint16 // Lifetime in seconds, 0 = never expires
}

// --------------------------------------------------------------------------
// Command Factory Functions
// --------------------------------------------------------------------------

// NewInsert creates an insert command stamped with the current time.
func NewInsert(key string, value []byte, expire uint16) Command {
	return Command{
		Kind:      KindInsert,
		Key:       key,
		Value:     value,
		Timestamp: time.Now().Unix(),
		Expire:    expire,
	}
}

// NewGet creates a get command.
func NewGet(key string) Command {
	return Command{Kind: KindGet, Key: key}
}

// NewRemove creates a remove command.
func NewRemove(key string) Command {
	return Command{Kind: KindRemove, Key: key}
}

// NewHalt creates a halt command.
func NewHalt() Command {
	return Command{Kind: KindHalt}
}

// --------------------------------------------------------------------------
// Command Encoding
// --------------------------------------------------------------------------

// EncodeCommand encodes a command into a fixed-size frame. Oversized keys
// or values are always rejected here, callers that want the truncating
// behavior apply TruncateKey/TruncateValue before encoding.
func EncodeCommand(cmd Command) ([]byte, error) {
	switch cmd.Kind {
	case KindInsert:
		if cmd.Key == "" {
			return nil, common.NewError(common.CodeInvalidArgument, "insert requires a non-empty key")
		}
	case KindGet, KindRemove, KindHalt:
		// Empty keys are legal here, the engine answers them with its error sentinel
	default:
		return nil, common.Errorf(common.CodeInvalidArgument, "unknown command kind 0x%02x", byte(cmd.Kind))
	}

	// The key field is NUL padded, an embedded NUL would silently shorten the key
	if strings.IndexByte(cmd.Key, 0) >= 0 {
		return nil, common.NewError(common.CodeInvalidArgument, "key must not contain NUL bytes")
	}

	if len(cmd.Key) > MaxKeyLen {
		return nil, common.Errorf(common.CodePayloadTooLarge, "key is %d bytes, limit is %d", len(cmd.Key), MaxKeyLen)
	}
	if cmd.Kind == KindInsert && len(cmd.Value) > MaxValueLen {
		return nil, common.Errorf(common.CodePayloadTooLarge, "value is %d bytes, limit is %d", len(cmd.Value), MaxValueLen)
	}

	frame := make([]byte, CommandFrameSize)
	frame[0] = byte(cmd.Kind)
	copy(frame[keyOffset:keyOffset+MaxKeyLen], cmd.Key)

	if cmd.Kind == KindInsert {
		copy(frame[valueOffset:valueOffset+MaxValueLen], cmd.Value)
		putUint48(frame[tsOffset:], uint64(cmd.Timestamp)&maxUint48)
		binary.BigEndian.PutUint16(frame[expireOffset:expireOffset+2], cmd.Expire)
	}

	return frame, nil
}

// DecodeCommand decodes a command frame. This is the engine-side inverse of
// EncodeCommand. Trailing NUL padding is stripped from key and value, the
// wire format carries no length fields.
func DecodeCommand(frame []byte) (Command, error) {
	if len(frame) != CommandFrameSize {
		return Command{}, common.Errorf(common.CodeProtocolViolation, "command frame is %d bytes, expected %d", len(frame), CommandFrameSize)
	}

	cmd := Command{Kind: Kind(frame[0])}
	switch cmd.Kind {
	case KindInsert, KindGet, KindRemove, KindHalt:
	default:
		return Command{}, common.Errorf(common.CodeProtocolViolation, "unknown command kind 0x%02x", frame[0])
	}

	// Key runs to the first NUL of the padded field
	keyField := frame[keyOffset : keyOffset+MaxKeyLen]
	if i := bytes.IndexByte(keyField, 0); i >= 0 {
		keyField = keyField[:i]
	}
	cmd.Key = string(keyField)

	if cmd.Kind == KindInsert {
		cmd.Value = bytes.TrimRight(frame[valueOffset:valueOffset+MaxValueLen], "\x00")
		cmd.Timestamp = int64(uint48(frame[tsOffset:]))
		cmd.Expire = binary.BigEndian.Uint16(frame[expireOffset : expireOffset+2])
	}

	return cmd, nil
}

// --------------------------------------------------------------------------
// Payload Truncation
// --------------------------------------------------------------------------

// TruncateKey shortens a key to the frame field size. The cut always lands
// on a UTF-8 rune boundary so a multi-byte character is never split.
func TruncateKey(key string) string {
	if len(key) <= MaxKeyLen {
		return key
	}
	cut := MaxKeyLen
	for cut > 0 && !utf8.RuneStart(key[cut]) {
		cut--
	}
	return key[:cut]
}

// TruncateValue shortens a value to the frame field size, backing up to a
// UTF-8 rune boundary like TruncateKey. For non-text values this may drop
// up to three extra bytes.
func TruncateValue(value []byte) []byte {
	if len(value) <= MaxValueLen {
		return value
	}
	cut := MaxValueLen
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

// --------------------------------------------------------------------------
// Reply Decoding
// --------------------------------------------------------------------------

// Sentinel payloads used by the engine. Their meaning depends on the
// command that caused the reply, see the Interpret functions.
const (
	SentinelInsertOK = "I"
	SentinelGetMiss  = "G"
	SentinelRemoveOK = "R"
	SentinelError    = "E"
)

// DecodeReplyPayload extracts the payload from a reply frame: the first
// ReplyPayloadSize bytes with the NUL padding stripped and surrounding
// whitespace (including line terminators) trimmed.
func DecodeReplyPayload(frame []byte) []byte {
	payload := frame
	if len(payload) > ReplyPayloadSize {
		payload = payload[:ReplyPayloadSize]
	}
	payload = bytes.TrimRight(payload, "\x00")
	return bytes.TrimSpace(payload)
}

// InterpretInsertReply maps a reply payload to the outcome of an insert.
func InterpretInsertReply(payload []byte) error {
	switch string(payload) {
	case SentinelInsertOK:
		return nil
	case SentinelError:
		return common.NewError(common.CodeEngineRejected, "engine rejected the insert")
	default:
		return common.Errorf(common.CodeProtocolViolation, "unexpected insert reply %q", payload)
	}
}

// InterpretGetReply maps a reply payload to the outcome of a get. A miss
// sentinel and the engine's error sentinel both read as absent, anything
// else is the stored value. Note that a stored value equal to a sentinel
// is indistinguishable from the sentinel, this ambiguity is inherent to
// the wire format.
func InterpretGetReply(payload []byte) (value []byte, found bool) {
	switch string(payload) {
	case SentinelGetMiss, SentinelError:
		return nil, false
	default:
		return payload, true
	}
}

// InterpretRemoveReply maps a reply payload to the outcome of a remove.
// The engine answers removes of absent keys with its error sentinel, which
// also counts as success (removal is idempotent).
func InterpretRemoveReply(payload []byte) error {
	switch string(payload) {
	case SentinelRemoveOK, SentinelError:
		return nil
	default:
		return common.Errorf(common.CodeProtocolViolation, "unexpected remove reply %q", payload)
	}
}

// --------------------------------------------------------------------------
// Record Block Helpers (engine side)
// --------------------------------------------------------------------------

// RecordBlock extracts the 64-byte storage block from an insert frame
// (value, timestamp and expire duration, verbatim).
func RecordBlock(frame []byte) (block [RecordSize]byte) {
	copy(block[:], frame[valueOffset:])
	return block
}

// RecordExpiry returns the absolute expiry time encoded in a record block
// as a unix second, or 0 if the record never expires.
func RecordExpiry(block []byte) int64 {
	expire := binary.BigEndian.Uint16(block[recordExpireOffset : recordExpireOffset+2])
	if expire == 0 {
		return 0
	}
	return int64(uint48(block[recordTSOffset:])) + int64(expire)
}

// SentinelReply builds a full reply frame around a sentinel payload.
func SentinelReply(sentinel string) []byte {
	frame := make([]byte, ReplyFrameSize)
	copy(frame, sentinel)
	return frame
}

// --------------------------------------------------------------------------
// 48-bit Integer Helpers
// --------------------------------------------------------------------------

func putUint48(b []byte, v uint64) {
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

func uint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
