package clienttest

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kvpipe/kvpipe/ipc/client"
	"github.com/kvpipe/kvpipe/ipc/common"
	"github.com/kvpipe/kvpipe/ipc/wire"
)

// ClientFactory creates a fresh client attached to its own engine
type ClientFactory func(t *testing.T) *client.Client

// RunClientTests runs the behavioral test suite against a client setup.
// The factory is called once per subtest, every test works on an empty
// store.
func RunClientTests(t *testing.T, name string, factory ClientFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Get", func(t *testing.T) {
			testInsertGet(t, factory(t))
		})

		t.Run("GetMissing", func(t *testing.T) {
			testGetMissing(t, factory(t))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory(t))
		})

		t.Run("EmptyPayloads", func(t *testing.T) {
			testEmptyPayloads(t, factory(t))
		})

		t.Run("SentinelValues", func(t *testing.T) {
			testSentinelValues(t, factory(t))
		})

		t.Run("Oversize", func(t *testing.T) {
			testOversize(t, factory(t))
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, factory(t))
		})

		t.Run("ConcurrentAccess", func(t *testing.T) {
			testConcurrentAccess(t, factory(t))
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertGet(t *testing.T, c *client.Client) {
	defer c.Close()

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	stored, err := c.Insert(testKey, testValue1, 0)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if !bytes.Equal(stored, testValue1) {
		t.Errorf("Expected stored value %s, got %s", testValue1, stored)
	}

	result, found, err := c.Get(testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Errorf("Expected key %s to exist after Insert", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	// Overwrite replaces the value
	if _, err := c.Insert(testKey, testValue2, 0); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	result, found, err = c.Get(testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Errorf("Expected key %s to exist after overwrite", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}
}

func testGetMissing(t *testing.T, c *client.Client) {
	defer c.Close()

	_, found, err := c.Get("nonexistent-key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Errorf("Expected nonexistent key to return found=false")
	}
}

func testRemove(t *testing.T, c *client.Client) {
	defer c.Close()

	if _, err := c.Insert("test-key", []byte("test-value"), 0); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := c.Remove("test-key"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, found, _ := c.Get("test-key"); found {
		t.Errorf("Expected key to be gone after Remove")
	}

	// Removing a missing key is not an error
	if err := c.Remove("test-key"); err != nil {
		t.Errorf("Expected repeated Remove to succeed, got %v", err)
	}
	if err := c.Remove("never-existed"); err != nil {
		t.Errorf("Expected Remove of unknown key to succeed, got %v", err)
	}
}

func testEmptyPayloads(t *testing.T, c *client.Client) {
	defer c.Close()

	// The empty key is reserved by the protocol
	if _, err := c.Insert("", []byte("value"), 0); !common.HasCode(err, common.CodeInvalidArgument) {
		t.Errorf("Expected invalid argument for empty key, got %v", err)
	}

	// An empty value is a regular value
	if _, err := c.Insert("empty-value", nil, 0); err != nil {
		t.Fatalf("Insert with empty value failed: %v", err)
	}
	result, found, err := c.Get("empty-value")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Errorf("Expected key with empty value to be found")
	}
	if len(result) != 0 {
		t.Errorf("Expected empty value, got %q", result)
	}
}

func testSentinelValues(t *testing.T, c *client.Client) {
	defer c.Close()

	// Values equal to the miss and error sentinels cannot be told apart
	// from a miss on the reply stream. Known protocol limitation.
	for _, v := range []string{"G", "E"} {
		if _, err := c.Insert("collision", []byte(v), 0); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if _, found, _ := c.Get("collision"); found {
			t.Errorf("Expected stored %q to be indistinguishable from a miss", v)
		}
	}

	// The other sentinel letters only have meaning for their own command
	// kind and read back fine
	for _, v := range []string{"I", "R"} {
		if _, err := c.Insert("fine", []byte(v), 0); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		result, found, err := c.Get("fine")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !found {
			t.Errorf("Expected stored %q to be found", v)
		}
		if string(result) != v {
			t.Errorf("Expected value %q, got %q", v, result)
		}
	}
}

func testOversize(t *testing.T, c *client.Client) {
	defer c.Close()

	longKey := string(bytes.Repeat([]byte("k"), wire.MaxKeyLen+1))
	longValue := bytes.Repeat([]byte("v"), wire.MaxValueLen+1)

	if _, err := c.Insert(longKey, []byte("value"), 0); !common.HasCode(err, common.CodePayloadTooLarge) {
		t.Errorf("Expected payload too large for oversize key, got %v", err)
	}
	if _, err := c.Insert("key", longValue, 0); !common.HasCode(err, common.CodePayloadTooLarge) {
		t.Errorf("Expected payload too large for oversize value, got %v", err)
	}
	if _, _, err := c.Get(longKey); !common.HasCode(err, common.CodePayloadTooLarge) {
		t.Errorf("Expected payload too large for oversize get, got %v", err)
	}

	// The limits themselves are fine
	maxKey := string(bytes.Repeat([]byte("k"), wire.MaxKeyLen))
	maxValue := bytes.Repeat([]byte("v"), wire.MaxValueLen)
	if _, err := c.Insert(maxKey, maxValue, 0); err != nil {
		t.Fatalf("Insert at the size limits failed: %v", err)
	}
	result, found, err := c.Get(maxKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Errorf("Expected max-size key to be found")
	}
	if !bytes.Equal(result, maxValue) {
		t.Errorf("Expected max-size value to round-trip")
	}
}

func testKeyExpiry(t *testing.T, c *client.Client) {
	defer c.Close()

	if _, err := c.Insert("expiring", []byte("short"), 1); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := c.Insert("lasting", []byte("long"), 0); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if _, found, _ := c.Get("expiring"); !found {
		t.Errorf("Expected key to exist before its TTL passed")
	}

	time.Sleep(1500 * time.Millisecond)

	if _, found, _ := c.Get("expiring"); found {
		t.Errorf("Expected key to be gone after its TTL passed")
	}
	if _, found, _ := c.Get("lasting"); !found {
		t.Errorf("Expected key without TTL to survive")
	}
}

func testConcurrentAccess(t *testing.T, c *client.Client) {
	defer c.Close()

	const (
		goroutines = 4
		perG       = 25
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				value := []byte(fmt.Sprintf("v%d-%d", g, i))

				if _, err := c.Insert(key, value, 0); err != nil {
					t.Errorf("Insert %s failed: %v", key, err)
					return
				}
				result, found, err := c.Get(key)
				if err != nil {
					t.Errorf("Get %s failed: %v", key, err)
					return
				}
				if !found || !bytes.Equal(result, value) {
					t.Errorf("Expected %s => %s, got found=%v value=%s", key, value, found, result)
				}
			}
		}(g)
	}
	wg.Wait()
}

func testRealisticUsage(t *testing.T, c *client.Client) {
	defer c.Close()

	// A session-cache style workload: fill, read back, evict half,
	// verify the survivors
	const sessions = 40

	for i := 0; i < sessions; i++ {
		key := fmt.Sprintf("session-%d", i)
		value := []byte(fmt.Sprintf("token-%d", i))
		if _, err := c.Insert(key, value, 0); err != nil {
			t.Fatalf("Insert %s failed: %v", key, err)
		}
	}

	for i := 0; i < sessions; i++ {
		key := fmt.Sprintf("session-%d", i)
		result, found, err := c.Get(key)
		if err != nil {
			t.Fatalf("Get %s failed: %v", key, err)
		}
		if !found {
			t.Errorf("Expected %s to exist", key)
		}
		if want := fmt.Sprintf("token-%d", i); string(result) != want {
			t.Errorf("Expected %s => %s, got %s", key, want, result)
		}
	}

	for i := 0; i < sessions; i += 2 {
		if err := c.Remove(fmt.Sprintf("session-%d", i)); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	}

	for i := 0; i < sessions; i++ {
		_, found, err := c.Get(fmt.Sprintf("session-%d", i))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if evicted := i%2 == 0; found == evicted {
			t.Errorf("Expected session-%d found=%v, got %v", i, !evicted, found)
		}
	}
}
