package engine

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/kvpipe/kvpipe/ipc/wire"
)

// insertBlock builds a record block the way the engine receives it, by
// encoding a real insert command
func insertBlock(t *testing.T, key, value string, expire uint16) [wire.RecordSize]byte {
	t.Helper()
	frame, err := wire.EncodeCommand(wire.NewInsert(key, []byte(value), expire))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return wire.RecordBlock(frame)
}

func TestStorePutGetDelete(t *testing.T) {
	s := NewStore()

	block := insertBlock(t, "alpha", "value-1", 0)
	s.Put("alpha", block, 0)

	got, ok := s.Get("alpha")
	if !ok {
		t.Fatal("stored entry not found")
	}
	if got != block {
		t.Error("returned block differs from the stored one")
	}

	// Overwrite replaces the block
	block2 := insertBlock(t, "alpha", "value-2", 0)
	s.Put("alpha", block2, 0)
	if got, _ := s.Get("alpha"); got != block2 {
		t.Error("overwrite did not replace the block")
	}

	if !s.Delete("alpha") {
		t.Error("delete of a present key reported false")
	}
	if _, ok := s.Get("alpha"); ok {
		t.Error("deleted entry still found")
	}
	if s.Delete("alpha") {
		t.Error("delete of a missing key reported true")
	}
}

func TestStoreTTL(t *testing.T) {
	s := NewStore()
	s.Put("ephemeral", insertBlock(t, "ephemeral", "v", 1), 1)
	s.Put("persistent", insertBlock(t, "persistent", "v", 0), 0)

	if _, ok := s.Get("ephemeral"); !ok {
		t.Fatal("fresh entry not found")
	}

	time.Sleep(1100 * time.Millisecond)

	if _, ok := s.Get("ephemeral"); ok {
		t.Error("expired entry still returned")
	}
	if _, ok := s.Get("persistent"); !ok {
		t.Error("entry without TTL expired")
	}
}

func TestStoreSweep(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("ephemeral-%d", i)
		s.Put(key, insertBlock(t, key, "v", 1), 1)
	}
	s.Put("keeper", insertBlock(t, "keeper", "v", 0), 0)

	if removed := s.Sweep(); removed != 0 {
		t.Errorf("sweep removed %d fresh entries", removed)
	}

	time.Sleep(1100 * time.Millisecond)

	if removed := s.Sweep(); removed != 10 {
		t.Errorf("sweep removed %d entries, want 10", removed)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("len = %d, want 1", got)
	}
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	s.Put("plain", insertBlock(t, "plain", "plain-value", 0), 0)
	s.Put("ttl", insertBlock(t, "ttl", "ttl-value", 600), 600)

	// An entry whose embedded timestamp says it expired long ago
	staleFrame, err := wire.EncodeCommand(wire.Command{
		Kind:      wire.KindInsert,
		Key:       "stale",
		Value:     []byte("stale-value"),
		Timestamp: time.Now().Unix() - 100,
		Expire:    10,
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	// In memory the entry is still live (deadline counts from Put), only
	// the persisted timestamp marks it as long expired
	s.Put("stale", wire.RecordBlock(staleFrame), 10)

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	restored := NewStore()
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if _, ok := restored.Get("plain"); !ok {
		t.Error("entry without TTL lost across snapshot")
	}
	if _, ok := restored.Get("ttl"); !ok {
		t.Error("entry with remaining TTL lost across snapshot")
	}
	if _, ok := restored.Get("stale"); ok {
		t.Error("entry expired before the snapshot was restored")
	}

	want, _ := s.Get("plain")
	got, _ := restored.Get("plain")
	if want != got {
		t.Error("restored block differs from the saved one")
	}
}

func TestStoreLoadRejectsGarbage(t *testing.T) {
	s := NewStore()
	if err := s.Load(bytes.NewReader([]byte("definitely not a snapshot"))); err == nil {
		t.Fatal("garbage input accepted as snapshot")
	}
	if s.Len() != 0 {
		t.Errorf("len = %d after failed load, want 0", s.Len())
	}
}
