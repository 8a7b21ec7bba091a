package engine

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kvpipe/kvpipe/ipc/wire"
)

// --------------------------------------------------------------------------
// Record Type
// --------------------------------------------------------------------------

// record is one stored entry: the wire record block exactly as it arrived
// plus the computed expiry deadline
type record struct {
	block    [wire.RecordSize]byte
	expireAt int64 // unix nanoseconds, 0 means no expiry
}

func (r record) expired(now int64) bool {
	return r.expireAt != 0 && now >= r.expireAt
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store holds the records of a running engine. Expired entries are
// dropped lazily on access and in bulk by Sweep.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	items *xsync.MapOf[string, record]
}

func NewStore() *Store {
	return &Store{items: xsync.NewMapOf[string, record]()}
}

// Put stores a record block under key. The expiry deadline counts from
// now rather than from the timestamp embedded in the block, so a short
// TTL is not eaten by clock skew between client and engine.
func (s *Store) Put(key string, block [wire.RecordSize]byte, ttlSeconds uint16) {
	rec := record{block: block}
	if ttlSeconds != 0 {
		rec.expireAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second).UnixNano()
	}
	s.items.Store(key, rec)
}

// Get returns the record block for key. An expired entry counts as
// missing and is deleted on the spot.
func (s *Store) Get(key string) ([wire.RecordSize]byte, bool) {
	rec, ok := s.items.Load(key)
	if !ok {
		return [wire.RecordSize]byte{}, false
	}
	if rec.expired(time.Now().UnixNano()) {
		s.items.Delete(key)
		return [wire.RecordSize]byte{}, false
	}
	return rec.block, true
}

// Delete removes a key and reports whether it was present
func (s *Store) Delete(key string) bool {
	_, ok := s.items.LoadAndDelete(key)
	return ok
}

// Len returns the number of entries, expired ones included until the
// next sweep touches them
func (s *Store) Len() int {
	return s.items.Size()
}

// Sweep drops all expired entries and reports how many were removed
func (s *Store) Sweep() int {
	now := time.Now().UnixNano()
	removed := 0

	s.items.Range(func(key string, rec record) bool {
		if !rec.expired(now) {
			return true
		}
		// Re-check inside Compute, the entry may have been overwritten
		// since Range observed it
		s.items.Compute(key, func(cur record, loaded bool) (record, bool) {
			if loaded && cur.expired(now) {
				removed++
				return record{}, true
			}
			return cur, !loaded
		})
		return true
	})

	return removed
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

const (
	snapshotMagic   = "KVPIPE\x00"
	snapshotVersion = byte(1)
)

// Save writes every live record to w. Entries that expired since their
// last access are skipped.
func (s *Store) Save(w io.Writer) error {
	type entry struct {
		key   string
		block [wire.RecordSize]byte
	}

	// Collect first, the count precedes the entries on disk
	now := time.Now().UnixNano()
	var entries []entry
	s.items.Range(func(key string, rec record) bool {
		if !rec.expired(now) {
			entries = append(entries, entry{key: key, block: rec.block})
		}
		return true
	})

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return fmt.Errorf("failed to write snapshot header: %v", err)
	}
	if err := bw.WriteByte(snapshotVersion); err != nil {
		return fmt.Errorf("failed to write snapshot header: %v", err)
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(entries))); err != nil {
		return fmt.Errorf("failed to write snapshot header: %v", err)
	}

	for _, e := range entries {
		// Keys fit the wire format's key field, so a single length byte
		// is enough
		if err := bw.WriteByte(byte(len(e.key))); err != nil {
			return fmt.Errorf("failed to write snapshot entry: %v", err)
		}
		if _, err := bw.WriteString(e.key); err != nil {
			return fmt.Errorf("failed to write snapshot entry: %v", err)
		}
		if _, err := bw.Write(e.block[:]); err != nil {
			return fmt.Errorf("failed to write snapshot entry: %v", err)
		}
	}

	return bw.Flush()
}

// Load reads a snapshot written by Save into the store. Expiry deadlines
// are recomputed from the timestamps persisted in the record blocks, and
// entries that expired while the engine was down are dropped.
func (s *Store) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("failed to read snapshot header: %v", err)
	}
	if string(magic) != snapshotMagic {
		return fmt.Errorf("not a kvpipe snapshot")
	}
	version, err := br.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read snapshot header: %v", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version)
	}
	var count uint32
	if err := binary.Read(br, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("failed to read snapshot header: %v", err)
	}

	nowSec := time.Now().Unix()
	for i := uint32(0); i < count; i++ {
		klen, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read snapshot entry %d: %v", i, err)
		}
		key := make([]byte, klen)
		if _, err := io.ReadFull(br, key); err != nil {
			return fmt.Errorf("failed to read snapshot entry %d: %v", i, err)
		}
		var block [wire.RecordSize]byte
		if _, err := io.ReadFull(br, block[:]); err != nil {
			return fmt.Errorf("failed to read snapshot entry %d: %v", i, err)
		}

		deadline := wire.RecordExpiry(block[:])
		if deadline != 0 && nowSec >= deadline {
			continue
		}
		rec := record{block: block}
		if deadline != 0 {
			rec.expireAt = deadline * int64(time.Second)
		}
		s.items.Store(string(key), rec)
	}

	return nil
}
