package cache

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInsertThenLookupRoundTrip(t *testing.T) {
	c := newTestCache(t, Options{})
	key := KeyFromString("a.com:80/x")
	payload := bytes.Repeat([]byte{'x'}, 100)

	if err := c.Insert(key, payload); err != nil {
		t.Fatalf("insert error: %v", err)
	}

	got, ok := c.Lookup(key)
	if !ok {
		t.Fatalf("expected hit for %s", key)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %d bytes", len(got))
	}

	if _, ok := c.Lookup(KeyFromString("a.com:80/y")); ok {
		t.Fatalf("expected miss for a.com:80/y")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 || stats.TotalSize != 100 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInsertCopiesBody(t *testing.T) {
	c := newTestCache(t, Options{})
	key := NewKey("a.com", "80", "/copy")
	payload := []byte("original")
	if err := c.Insert(key, payload); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	copy(payload, "mutated!")

	got, _ := c.Lookup(key)
	if string(got) != "original" {
		t.Fatalf("cache should own its copy, got %q", got)
	}
}

func TestNewKeyLowercasesHost(t *testing.T) {
	upper := NewKey("EXAMPLE.com", "80", "/p")
	lower := NewKey("example.com", "80", "/p")
	if upper != lower {
		t.Fatalf("expected equal keys, got %q and %q", upper, lower)
	}
	if upper.String() != "example.com:80/p" {
		t.Fatalf("unexpected key string %q", upper)
	}
	if NewKey("example.com", "80", "/P") == lower {
		t.Fatalf("path must stay case sensitive")
	}
}

func TestEvictsOldestWhenCapacityExceeded(t *testing.T) {
	c := newTestCache(t, Options{Capacity: 1000, MaxObjectSize: 600, Buckets: 1})
	k1, k2, k3 := KeyFromString("k1"), KeyFromString("k2"), KeyFromString("k3")
	obj := bytes.Repeat([]byte{'o'}, 400)

	for _, k := range []Key{k1, k2, k3} {
		if err := c.Insert(k, obj); err != nil {
			t.Fatalf("insert %s: %v", k, err)
		}
	}

	if _, ok := c.Lookup(k1); ok {
		t.Fatalf("k1 should have been evicted")
	}
	for _, k := range []Key{k2, k3} {
		if _, ok := c.Lookup(k); !ok {
			t.Fatalf("%s should still be cached", k)
		}
	}
	stats := c.Stats()
	if stats.TotalSize != 800 {
		t.Fatalf("expected total size 800, got %d", stats.TotalSize)
	}
	if stats.Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", stats.Evictions)
	}
	mustBeConsistent(t, c)
}

func TestLookupPromotesWithinBucket(t *testing.T) {
	c := newTestCache(t, Options{Capacity: 300, MaxObjectSize: 100, Buckets: 1})
	a, b, d := KeyFromString("a"), KeyFromString("b"), KeyFromString("d")
	obj := bytes.Repeat([]byte{'z'}, 100)

	for _, k := range []Key{a, b, d} {
		if err := c.Insert(k, obj); err != nil {
			t.Fatalf("insert %s: %v", k, err)
		}
	}
	// a 被访问后成为最近使用，下一次淘汰应落在 b 上。
	if _, ok := c.Lookup(a); !ok {
		t.Fatalf("expected hit for a")
	}
	if err := c.Insert(KeyFromString("e"), obj); err != nil {
		t.Fatalf("insert e: %v", err)
	}

	if _, ok := c.Lookup(b); ok {
		t.Fatalf("b should have been evicted first")
	}
	if _, ok := c.Lookup(a); !ok {
		t.Fatalf("a was promoted and should survive")
	}
	if got := keysInOrder(c); fmt.Sprint(got) != "[d e a]" {
		t.Fatalf("unexpected bucket order %v", got)
	}
}

func TestEvictionRotatesAcrossBuckets(t *testing.T) {
	c := newTestCache(t, Options{Capacity: 40, MaxObjectSize: 10, Buckets: 4})
	keys := keysForEachBucket(t, 4)
	obj := bytes.Repeat([]byte{'r'}, 10)
	for _, k := range keys {
		if err := c.Insert(k, obj); err != nil {
			t.Fatalf("insert %s: %v", k, err)
		}
	}

	// 每次插入都会从上次停下的桶继续轮转。
	for round := 0; round < 4; round++ {
		if err := c.Insert(KeyFromString(fmt.Sprintf("extra-%d", round)), obj); err != nil {
			t.Fatalf("insert extra %d: %v", round, err)
		}
		if _, ok := c.Lookup(keys[round]); ok {
			t.Fatalf("round %d: expected %s evicted", round, keys[round])
		}
	}
	mustBeConsistent(t, c)
}

func TestInsertRejectsOversizedObject(t *testing.T) {
	c := newTestCache(t, Options{Capacity: 100, MaxObjectSize: 10})
	err := c.Insert(KeyFromString("big"), make([]byte, 11))
	if !errors.Is(err, ErrObjectTooLarge) {
		t.Fatalf("expected ErrObjectTooLarge, got %v", err)
	}
	if stats := c.Stats(); stats.Entries != 0 || stats.TotalSize != 0 {
		t.Fatalf("oversized object must not be linked: %+v", stats)
	}
}

func TestInsertReplacesExistingKey(t *testing.T) {
	c := newTestCache(t, Options{})
	key := KeyFromString("dup")
	if err := c.Insert(key, []byte("first")); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	if err := c.Insert(key, []byte("second!")); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	got, _ := c.Lookup(key)
	if string(got) != "second!" {
		t.Fatalf("expected replacement, got %q", got)
	}
	if stats := c.Stats(); stats.Entries != 1 || stats.TotalSize != 7 {
		t.Fatalf("unexpected stats after replace: %+v", stats)
	}
}

func TestSizeInvariantHoldsAcrossMixedOperations(t *testing.T) {
	c := newTestCache(t, Options{Capacity: 5000, MaxObjectSize: 700, Buckets: 7})
	for i := 0; i < 500; i++ {
		key := KeyFromString(fmt.Sprintf("host%d:80/%d", i%13, i%41))
		size := (i * 37) % 700
		if err := c.Insert(key, make([]byte, size)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if stats := c.Stats(); stats.TotalSize > stats.Capacity {
			t.Fatalf("step %d: total %d exceeds capacity %d", i, stats.TotalSize, stats.Capacity)
		}
		c.Lookup(KeyFromString(fmt.Sprintf("host%d:80/%d", i%11, i%29)))
		mustBeConsistent(t, c)
	}
	c.Walk(func(key string, body []byte) bool {
		if int64(len(body)) > c.MaxObjectSize() {
			t.Fatalf("entry %s exceeds object cap", key)
		}
		return true
	})
}

func TestConcurrentLookupsKeepListsIntact(t *testing.T) {
	c := newTestCache(t, Options{Buckets: 3})
	const objects = 60
	for i := 0; i < objects; i++ {
		if err := c.Insert(KeyFromString(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for w := 0; w < 32; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				n := (i*7 + w) % objects
				got, ok := c.Lookup(KeyFromString(fmt.Sprintf("k%d", n)))
				if !ok || string(got) != fmt.Sprintf("v%d", n) {
					errs <- fmt.Errorf("worker %d: bad result for k%d: %q %v", w, n, got, ok)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	mustBeConsistent(t, c)
	if stats := c.Stats(); stats.Entries != objects {
		t.Fatalf("expected %d entries, got %d", objects, stats.Entries)
	}
}

func TestConcurrentInsertsAndLookups(t *testing.T) {
	c := newTestCache(t, Options{Capacity: 4096, MaxObjectSize: 512, Buckets: 5})
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := KeyFromString(fmt.Sprintf("w%d-%d", w, i%20))
				if i%3 == 0 {
					_ = c.Insert(key, make([]byte, (i*w)%512))
				} else {
					c.Lookup(key)
				}
			}
		}(w)
	}
	wg.Wait()
	mustBeConsistent(t, c)
	if stats := c.Stats(); stats.TotalSize > stats.Capacity {
		t.Fatalf("total %d exceeds capacity %d", stats.TotalSize, stats.Capacity)
	}
}

func TestWriterGateExcludesLookups(t *testing.T) {
	c := newTestCache(t, Options{})
	key := NewKey("a.com", "80", "/gate")
	if err := c.Insert(key, []byte("v")); err != nil {
		t.Fatalf("insert error: %v", err)
	}

	c.gate.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Lookup(key)
	}()

	select {
	case <-done:
		c.gate.Unlock()
		t.Fatalf("lookup finished while the write gate was held")
	case <-time.After(50 * time.Millisecond):
	}

	c.gate.Unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("lookup did not resume after the write gate was released")
	}
}

func TestInsertWaitsForInFlightLookups(t *testing.T) {
	c := newTestCache(t, Options{})

	c.gate.RLock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Insert(NewKey("a.com", "80", "/late"), []byte("v"))
	}()

	select {
	case <-done:
		c.gate.RUnlock()
		t.Fatalf("insert finished while a lookup held the gate")
	case <-time.After(50 * time.Millisecond):
	}

	c.gate.RUnlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("insert did not resume after the lookup released the gate")
	}
	if _, ok := c.Lookup(NewKey("a.com", "80", "/late")); !ok {
		t.Fatalf("expected inserted object after gate release")
	}
}

func TestLookupsShareGate(t *testing.T) {
	c := newTestCache(t, Options{})
	key := NewKey("a.com", "80", "/shared")
	if err := c.Insert(key, []byte("v")); err != nil {
		t.Fatalf("insert error: %v", err)
	}

	// 模拟另一个正在进行的查找。
	c.gate.RLock()
	defer c.gate.RUnlock()

	done := make(chan bool, 1)
	go func() {
		_, ok := c.Lookup(key)
		done <- ok
	}()

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected hit for %s", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("concurrent lookups should not block each other")
	}
}

func TestTeardownReleasesEverything(t *testing.T) {
	c := newTestCache(t, Options{})
	for i := 0; i < 10; i++ {
		_ = c.Insert(KeyFromString(fmt.Sprintf("t%d", i)), []byte("payload"))
	}
	c.Teardown()
	if stats := c.Stats(); stats.Entries != 0 || stats.TotalSize != 0 {
		t.Fatalf("teardown left entries: %+v", stats)
	}
	mustBeConsistent(t, c)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	if _, err := New(Options{Capacity: 10, MaxObjectSize: 20}); err == nil {
		t.Fatalf("max object size above capacity should fail")
	}
	if _, err := New(Options{Buckets: -1}); err == nil {
		t.Fatalf("negative bucket count should fail")
	}
	c, err := New(Options{})
	if err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	stats := c.Stats()
	if stats.Capacity != DefaultCapacity || stats.MaxObjectSize != DefaultMaxObjectSize || stats.Buckets != DefaultBuckets {
		t.Fatalf("defaults not applied: %+v", stats)
	}
}

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return c
}

func mustBeConsistent(t *testing.T, c *Cache) {
	t.Helper()
	if err := c.checkIntegrity(); err != nil {
		t.Fatalf("cache integrity: %v", err)
	}
}

func keysInOrder(c *Cache) []string {
	var keys []string
	c.Walk(func(key string, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// keysForEachBucket 为 [0, n) 中每个桶找到一个落在该桶的 key。
func keysForEachBucket(t *testing.T, n int) []Key {
	t.Helper()
	keys := make([]Key, n)
	found := 0
	for i := 0; found < n && i < 10000; i++ {
		id := fmt.Sprintf("probe-%d", i)
		idx := bucketIndex(id, n)
		if keys[idx].id == "" {
			keys[idx] = KeyFromString(id)
			found++
		}
	}
	if found < n {
		t.Fatalf("could not find keys for %d buckets", n)
	}
	return keys
}
