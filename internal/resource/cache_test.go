package resource

import (
	"testing"
	"time"

	"github.com/origincache/origincache/internal/cachekey"
	"github.com/origincache/origincache/internal/webres"
)

// newTestCache returns a cache over a temporary root, closed with the test.
func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	cache, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	t.Cleanup(cache.Close)
	return cache
}

// retrieveSync drives Retrieve and waits for its completion.
func retrieveSync(t *testing.T, c *Cache, req webres.Request) (*Entry, RetrieveInfo) {
	t.Helper()
	var gotEntry *Entry
	var gotInfo RetrieveInfo
	done := make(chan struct{})
	c.Retrieve(req, LoadContext{Priority: 1}, func(entry *Entry, info RetrieveInfo) {
		gotEntry = entry
		gotInfo = info
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("retrieve completion never fired")
	}
	return gotEntry, gotInfo
}

func TestStoreThenRetrieve(t *testing.T) {
	cache := newTestCache(t, Options{})
	req := testRequest()
	resp := testResponse(200)
	body := []byte("cached body")

	mapped := make(chan MappedBody, 1)
	entry := cache.Store(req, resp, body, func(mb MappedBody) { mapped <- mb })
	if entry == nil {
		t.Fatalf("cacheable pair should stage an entry")
	}

	got, info := retrieveSync(t, cache, req)
	if got == nil {
		t.Fatalf("expected a hit")
	}
	if string(got.Body) != "cached body" {
		t.Fatalf("body mismatch: %q", got.Body)
	}
	if got.Key != entry.Key {
		t.Fatalf("key mismatch")
	}
	if info.CompletionTime.Before(info.StartTime) {
		t.Fatalf("completion time precedes start time")
	}

	select {
	case mb := <-mapped:
		if string(mb.Data) != "cached body" {
			t.Fatalf("mapped body mismatch: %q", mb.Data)
		}
	default:
		t.Fatalf("body mapper never ran")
	}
}

func TestStoreIneligiblePairReturnsNil(t *testing.T) {
	cache := newTestCache(t, Options{})
	req := testRequest()
	resp := testResponse(200)
	resp.Headers.Set("Cache-Control", "no-store")

	if entry := cache.Store(req, resp, []byte("x"), nil); entry != nil {
		t.Fatalf("no-store response must not stage an entry")
	}
	if got, _ := retrieveSync(t, cache, req); got != nil {
		t.Fatalf("nothing should be retrievable")
	}
}

func TestRetrieveNegativeDecisionCompletesSynchronously(t *testing.T) {
	cache := newTestCache(t, Options{})
	req := testRequest()
	req.Method = "POST"

	fired := false
	cache.Retrieve(req, LoadContext{}, func(entry *Entry, info RetrieveInfo) {
		if entry != nil {
			t.Errorf("unexpected entry for POST")
		}
		fired = true
	})
	if !fired {
		t.Fatalf("negative decision should complete before Retrieve returns")
	}
}

func TestRetrieveMiss(t *testing.T) {
	cache := newTestCache(t, Options{})
	if got, _ := retrieveSync(t, cache, testRequest()); got != nil {
		t.Fatalf("expected a miss on empty cache")
	}
}

func TestRetrieveKeysArePartitionScoped(t *testing.T) {
	cache := newTestCache(t, Options{})
	req := testRequest()
	if cache.Store(req, testResponse(200), []byte("x"), nil) == nil {
		t.Fatalf("store failed")
	}

	other := testRequest()
	other.Partition = "other.example"
	if got, _ := retrieveSync(t, cache, other); got != nil {
		t.Fatalf("partition must separate otherwise identical requests")
	}
}

func TestStoreRedirectAndExpiry(t *testing.T) {
	cache := newTestCache(t, Options{})
	req := testRequest()
	resp := testResponse(301)
	redirect := testRequest()
	redirect.URL = "https://example.com/moved"

	entry := cache.StoreRedirect(req, resp, redirect, time.Minute)
	if entry == nil {
		t.Fatalf("redirect should stage an entry")
	}
	if entry.MaxAgeCap != time.Minute {
		t.Fatalf("cap not applied: %v", entry.MaxAgeCap)
	}

	got, _ := retrieveSync(t, cache, req)
	if got == nil || got.RedirectRequest == nil {
		t.Fatalf("expected a redirect entry")
	}
	if got.RedirectRequest.URL != "https://example.com/moved" {
		t.Fatalf("redirect target mismatch: %q", got.RedirectRequest.URL)
	}

	if MakeUseDecision(got, req, time.Now().Add(2*time.Minute)) != UseNoDueToExpiredRedirect {
		t.Fatalf("capped redirect should expire after the cap")
	}
}

func TestUpdateMergesValidatorsWithoutTouchingBody(t *testing.T) {
	cache := newTestCache(t, Options{})
	req := testRequest()
	resp := testResponse(200)
	resp.Headers.Set("Etag", `"v1"`)

	stored := cache.Store(req, resp, []byte("original body"), nil)
	if stored == nil {
		t.Fatalf("store failed")
	}

	validating := webres.Response{Status: 304, Headers: webres.Headers{}}
	validating.Headers.Set("Etag", `"v2"`)
	validating.Headers.Set("Cache-Control", "max-age=7200")

	updated := cache.Update(req, LoadContext{}, stored, validating)
	if updated == nil {
		t.Fatalf("update returned nil")
	}
	if string(updated.Body) != "original body" {
		t.Fatalf("update must not alter the body")
	}
	if updated.Response.Headers.Get("Etag") != `"v2"` {
		t.Fatalf("validator not merged")
	}

	got, _ := retrieveSync(t, cache, req)
	if got == nil || got.Response.Headers.Get("Etag") != `"v2"` {
		t.Fatalf("updated record not persisted")
	}
	if string(got.Body) != "original body" {
		t.Fatalf("persisted body changed: %q", got.Body)
	}
}

func TestRemoveKeysBatchCompletion(t *testing.T) {
	cache := newTestCache(t, Options{})
	reqA := testRequest()
	reqB := testRequest()
	reqB.URL = "https://example.com/b"

	a := cache.Store(reqA, testResponse(200), []byte("a"), nil)
	b := cache.Store(reqB, testResponse(200), []byte("b"), nil)
	if a == nil || b == nil {
		t.Fatalf("store failed")
	}

	done := make(chan struct{})
	cache.RemoveKeys([]cachekey.Key{a.Key, b.Key}, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("batch completion never fired")
	}

	if got, _ := retrieveSync(t, cache, reqA); got != nil {
		t.Fatalf("record a should be gone")
	}
	if got, _ := retrieveSync(t, cache, reqB); got != nil {
		t.Fatalf("record b should be gone")
	}
}

func TestTraverseVisitsAllThenNil(t *testing.T) {
	cache := newTestCache(t, Options{})
	urls := []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}
	for _, u := range urls {
		req := testRequest()
		req.URL = u
		if cache.Store(req, testResponse(200), []byte(u), nil) == nil {
			t.Fatalf("store failed for %s", u)
		}
	}

	var visited int
	var sentinel bool
	done := make(chan struct{})
	cache.Traverse(func(te *TraversalEntry) {
		if te == nil {
			sentinel = true
			close(done)
			return
		}
		if sentinel {
			t.Errorf("entry after sentinel")
		}
		if te.Info.SizeBytes <= 0 {
			t.Errorf("missing record info")
		}
		visited++
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("traversal never finished")
	}
	if visited != len(urls) {
		t.Fatalf("visited %d records, want %d", visited, len(urls))
	}
}

func TestClearPurgesEverything(t *testing.T) {
	cache := newTestCache(t, Options{})
	req := testRequest()
	if cache.Store(req, testResponse(200), []byte("x"), nil) == nil {
		t.Fatalf("store failed")
	}

	cache.Clear()
	if got, _ := retrieveSync(t, cache, req); got != nil {
		t.Fatalf("record survived clear")
	}
}

func TestClearModifiedSinceKeepsOlderRecords(t *testing.T) {
	cache := newTestCache(t, Options{})
	oldReq := testRequest()
	oldReq.URL = "https://example.com/old"
	newReq := testRequest()
	newReq.URL = "https://example.com/new"

	oldEntry := cache.Store(oldReq, testResponse(200), []byte("old"), nil)
	if oldEntry == nil {
		t.Fatalf("store failed")
	}
	// Backdate the old record on disk, then define the cut after it.
	done := make(chan struct{})
	cache.queue.Dispatch(func() {
		if err := cache.store.Touch(recordName(oldEntry.Key), time.Now().Add(-time.Hour)); err != nil {
			t.Errorf("touch failed: %v", err)
		}
		close(done)
	})
	<-done
	cut := time.Now().Add(-time.Minute)

	if cache.Store(newReq, testResponse(200), []byte("new"), nil) == nil {
		t.Fatalf("store failed")
	}

	cleared := make(chan struct{})
	cache.ClearModifiedSince(cut, func() { close(cleared) })
	select {
	case <-cleared:
	case <-time.After(5 * time.Second):
		t.Fatalf("clear completion never fired")
	}

	if got, _ := retrieveSync(t, cache, oldReq); got == nil {
		t.Fatalf("old record should survive")
	}
	if got, _ := retrieveSync(t, cache, newReq); got != nil {
		t.Fatalf("recent record should be purged")
	}
}

func TestSetCapacityTrimsLeastRecentlyUsed(t *testing.T) {
	cache := newTestCache(t, Options{})

	var keys []string
	for i := 0; i < 5; i++ {
		req := testRequest()
		req.URL = "https://example.com/big/" + string(rune('a'+i))
		entry := cache.Store(req, testResponse(200), make([]byte, 4096), nil)
		if entry == nil {
			t.Fatalf("store failed")
		}
		keys = append(keys, recordName(entry.Key))
		// Spread access times so the LRU order is deterministic.
		mod := time.Now().Add(time.Duration(i-10) * time.Minute)
		done := make(chan struct{})
		name := keys[i]
		cache.queue.Dispatch(func() {
			if err := cache.store.Touch(name, mod); err != nil {
				t.Errorf("touch failed: %v", err)
			}
			close(done)
		})
		<-done
	}

	cache.SetCapacity(2 * 4200)
	cache.queue.Sync()

	var remaining int
	for _, name := range keys {
		if _, err := cache.store.Stat(name); err == nil {
			remaining++
		}
	}
	if remaining == 0 || remaining > 2 {
		t.Fatalf("expected trim to keep at most 2 newest records, kept %d", remaining)
	}
	// The newest record must be among the survivors.
	if _, err := cache.store.Stat(keys[len(keys)-1]); err != nil {
		t.Fatalf("newest record was evicted: %v", err)
	}
}

func TestStatisticsTrackDecisions(t *testing.T) {
	cache := newTestCache(t, Options{})
	req := testRequest()
	req.Method = "POST"
	cache.Retrieve(req, LoadContext{}, func(*Entry, RetrieveInfo) {})

	snap := cache.Statistics().Snapshot()
	if snap["retrieves"] != 1 {
		t.Fatalf("retrieve not counted: %v", snap)
	}
	if snap["retrieve_no_due_to_http_method"] != 1 {
		t.Fatalf("decision not counted: %v", snap)
	}
}
