package resource

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/origincache/origincache/internal/cachekey"
	"github.com/origincache/origincache/internal/logging"
	"github.com/origincache/origincache/internal/storage"
	"github.com/origincache/origincache/internal/webres"
)

const (
	recordType    = "Resource"
	saltBlobName  = "salt"
	recordsPrefix = "records"
	dumpBlobName  = "dump.json"
)

// Options configures an opened cache.
type Options struct {
	// Capacity bounds the total encoded record bytes; 0 means unbounded.
	Capacity int64

	// MaxAgeCap, when positive, lowers the freshness lifetime of every
	// stored entry.
	MaxAgeCap time.Duration

	Logger *logrus.Logger
}

// Cache is a per-resource disk cache. All disk work funnels through one
// SerialQueue per storage root; in-memory bookkeeping is guarded by the
// queue's single-writer discipline plus a small mutex for the counters the
// caller thread touches.
type Cache struct {
	rootPath  string
	store     storage.BlobStore
	queue     *storage.SerialQueue
	salt      cachekey.Salt
	log       *logrus.Entry
	stats     *Statistics
	maxAgeCap time.Duration

	// capacity/approximateSize are read and written on the queue goroutine
	// except for SetCapacity, which publishes through the queue.
	capacity        int64
	approximateSize int64
	sizeKnown       bool
}

// Open builds the cache for a storage root, loading or generating the
// root's salt.
func Open(path string, opts Options) (*Cache, error) {
	store, err := storage.NewFileStore(path)
	if err != nil {
		return nil, err
	}

	salt, err := cachekey.ReadOrMakeSalt(store, saltBlobName)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Cache{
		rootPath:  path,
		store:     store,
		queue:     storage.NewSerialQueue("resource-cache"),
		salt:      salt,
		log:       logger.WithFields(logging.BaseFields("resource_cache", path)),
		stats:     newStatistics(),
		maxAgeCap: opts.MaxAgeCap,
		capacity:  opts.Capacity,
	}
	return c, nil
}

// Close drains pending disk work and stops the queue.
func (c *Cache) Close() {
	c.queue.Close()
}

// Statistics exposes the activity counters.
func (c *Cache) Statistics() *Statistics {
	return c.stats
}

// RecordsPath returns the blob namespace records live under.
func (c *Cache) RecordsPath() string {
	return recordsPrefix
}

func (c *Cache) makeCacheKey(req webres.Request) cachekey.Key {
	return cachekey.New(c.salt, req.Partition, recordType, req.URL, req.Headers.Get("Range"))
}

func recordName(key cachekey.Key) string {
	return recordsPrefix + "/" + key.String()
}

// Timings reports where retrieval time went inside the storage layer.
type Timings struct {
	WaitDuration time.Duration
	ReadDuration time.Duration
}

// RetrieveInfo accompanies every retrieval completion.
type RetrieveInfo struct {
	StartTime          time.Time
	CompletionTime     time.Time
	Priority           uint
	StorageTimings     Timings
	WasSpeculativeLoad bool
}

// LoadContext carries the caller-side context of one load.
type LoadContext struct {
	PageID      uint64
	FrameID     uint64
	Priority    uint
	Speculative bool
}

// RetrieveCompletionFunc receives the found entry, or nil, plus timing
// metadata. It fires exactly once.
type RetrieveCompletionFunc func(*Entry, RetrieveInfo)

// Retrieve looks the request up by derived key. The completion runs on the
// storage queue, or synchronously when the retrieve decision is negative.
func (c *Cache) Retrieve(req webres.Request, loadCtx LoadContext, completion RetrieveCompletionFunc) {
	info := RetrieveInfo{
		StartTime:          time.Now(),
		Priority:           loadCtx.Priority,
		WasSpeculativeLoad: loadCtx.Speculative,
	}
	c.stats.bump("retrieves")

	if decision := MakeRetrieveDecision(req); decision != RetrieveYes {
		c.stats.bump("retrieve_" + decision.String())
		c.log.WithFields(logging.DecisionFields(req.URL, decision.String(), false)).Debug("retrieve skipped")
		info.CompletionTime = time.Now()
		completion(nil, info)
		return
	}

	key := c.makeCacheKey(req)
	dispatched := time.Now()
	c.queue.Dispatch(func() {
		readStart := time.Now()
		info.StorageTimings.WaitDuration = readStart.Sub(dispatched)

		entry := c.readRecord(key)
		info.StorageTimings.ReadDuration = time.Since(readStart)
		info.CompletionTime = time.Now()

		if entry == nil {
			c.stats.bump("misses")
			completion(nil, info)
			return
		}

		// Access time feeds the least-recently-used trim order.
		if err := c.store.Touch(recordName(key), time.Now()); err != nil {
			c.log.WithField("key", key.Hash()).Debug("access touch failed")
		}
		c.stats.bump("hits")
		completion(entry, info)
	})
}

// readRecord runs on the queue goroutine. A corrupt record is removed and
// counted as a decode failure rather than surfaced as an error.
func (c *Cache) readRecord(key cachekey.Key) *Entry {
	name := recordName(key)
	data, err := c.store.Read(name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.WithField("key", key.Hash()).Warnf("record read failed: %v", err)
		}
		return nil
	}

	entry, err := DecodeEntry(data)
	if err != nil || entry.Key.HashValue != key.HashValue {
		c.stats.bump("use_" + UseNoDueToDecodeFailure.String())
		c.log.WithField("key", key.Hash()).Warn("removing undecodable record")
		if err := c.store.Remove(name); err != nil {
			c.log.WithField("key", key.Hash()).Warnf("record remove failed: %v", err)
		}
		return nil
	}
	return entry
}

// MappedBody hands the persisted body back to the caller once the record
// write committed.
type MappedBody struct {
	Data []byte
}

// BodyMapper runs on the storage queue after a successful body commit.
type BodyMapper func(MappedBody)

// Store evaluates the store decision and, if eligible, stages an entry and
// schedules its persistence. Returns nil when the pair is not cacheable.
func (c *Cache) Store(req webres.Request, resp webres.Response, body []byte, mapper BodyMapper) *Entry {
	if decision := MakeStoreDecision(req, resp); decision != StoreYes {
		c.stats.bump("store_" + decision.String())
		c.log.WithFields(logging.DecisionFields(req.URL, decision.String(), false)).Debug("store skipped")
		return nil
	}

	entry := c.MakeEntry(req, resp, body)
	c.stats.bump("stores")
	c.persist(entry, mapper)
	return entry
}

// MakeEntry builds a staged entry without persisting it.
func (c *Cache) MakeEntry(req webres.Request, resp webres.Response, body []byte) *Entry {
	return &Entry{
		Key:                   c.makeCacheKey(req),
		Timestamp:             time.Now(),
		Response:              resp,
		VaryingRequestHeaders: webres.CollectVaryingRequestHeaders(req, resp),
		Body:                  body,
		MaxAgeCap:             c.maxAgeCap,
	}
}

// StoreRedirect stores a cacheable redirect response together with the
// request it redirects to. maxAgeCap lowers, never raises, the redirect's
// freshness lifetime; 0 applies no extra cap.
func (c *Cache) StoreRedirect(req webres.Request, resp webres.Response, redirectRequest webres.Request, maxAgeCap time.Duration) *Entry {
	if decision := MakeStoreDecision(req, resp); decision != StoreYes {
		c.stats.bump("store_" + decision.String())
		c.log.WithFields(logging.DecisionFields(req.URL, decision.String(), false)).Debug("redirect store skipped")
		return nil
	}

	entry := c.MakeRedirectEntry(req, resp, redirectRequest)
	if maxAgeCap > 0 && (entry.MaxAgeCap == 0 || maxAgeCap < entry.MaxAgeCap) {
		entry.MaxAgeCap = maxAgeCap
	}
	c.stats.bump("stores")
	c.persist(entry, nil)
	return entry
}

// MakeRedirectEntry builds a staged redirect entry without persisting it.
func (c *Cache) MakeRedirectEntry(req webres.Request, resp webres.Response, redirectRequest webres.Request) *Entry {
	redirect := redirectRequest
	redirect.Headers = redirectRequest.Headers.Clone()
	return &Entry{
		Key:                   c.makeCacheKey(req),
		Timestamp:             time.Now(),
		Response:              resp,
		VaryingRequestHeaders: webres.CollectVaryingRequestHeaders(req, resp),
		RedirectRequest:       &redirect,
		MaxAgeCap:             c.maxAgeCap,
	}
}

// Update merges revalidation metadata from a 304-style response into an
// existing entry. The body is untouched; the refreshed entry is persisted
// and returned.
func (c *Cache) Update(req webres.Request, loadCtx LoadContext, existing *Entry, validatingResponse webres.Response) *Entry {
	updated := *existing

	headers := existing.Response.Headers.Clone()
	if headers == nil {
		headers = webres.Headers{}
	}
	for name, value := range validatingResponse.Headers {
		headers[name] = value
	}
	updated.Response.Headers = headers
	updated.Timestamp = time.Now()

	c.stats.bump("updates")
	c.persist(&updated, nil)
	return &updated
}

// persist schedules the record write on the storage queue. Write failures
// are logged; the entry simply never becomes durable.
func (c *Cache) persist(entry *Entry, mapper BodyMapper) {
	name := recordName(entry.Key)
	c.queue.Dispatch(func() {
		data, err := entry.Encode()
		if err != nil {
			c.log.WithField("key", entry.Key.Hash()).Errorf("record encode failed: %v", err)
			return
		}
		if err := c.store.Write(name, data); err != nil {
			c.log.WithField("key", entry.Key.Hash()).Errorf("record write failed: %v", err)
			return
		}
		if c.sizeKnown {
			c.approximateSize += int64(len(data))
		}
		if mapper != nil {
			mapper(MappedBody{Data: entry.Body})
		}
		c.shrinkIfNeeded()
	})
}

// Remove deletes the record for a key.
func (c *Cache) Remove(key cachekey.Key) {
	c.queue.Dispatch(func() {
		if err := c.store.Remove(recordName(key)); err != nil {
			c.log.WithField("key", key.Hash()).Warnf("record remove failed: %v", err)
		}
		c.sizeKnown = false
	})
}

// RemoveRequest deletes the record the request's key maps to.
func (c *Cache) RemoveRequest(req webres.Request) {
	c.Remove(c.makeCacheKey(req))
}

// RemoveKeys deletes a batch of records. The completion fires only after
// storage acknowledged every deletion; individual failures are logged and
// do not stop the batch.
func (c *Cache) RemoveKeys(keys []cachekey.Key, completion func()) {
	c.queue.Dispatch(func() {
		for _, key := range keys {
			if err := c.store.Remove(recordName(key)); err != nil {
				c.log.WithField("key", key.Hash()).Warnf("record remove failed: %v", err)
			}
		}
		c.sizeKnown = false
		if completion != nil {
			completion()
		}
	})
}

// TraversalEntry pairs a decoded entry with its storage-level metadata.
type TraversalEntry struct {
	Entry *Entry
	Info  storage.Info
}

// Traverse visits every stored record, then calls the visitor once more
// with nil to signal completion. Undecodable records are skipped.
func (c *Cache) Traverse(visitor func(*TraversalEntry)) {
	c.queue.Dispatch(func() {
		for _, name := range c.listRecordNames() {
			data, err := c.store.Read(name)
			if err != nil {
				c.log.WithField("record", name).Warnf("traverse read failed: %v", err)
				continue
			}
			entry, err := DecodeEntry(data)
			if err != nil {
				c.log.WithField("record", name).Warnf("traverse decode failed: %v", err)
				continue
			}
			info, err := c.store.Stat(name)
			if err != nil {
				info = storage.Info{SizeBytes: int64(len(data))}
			}
			visitor(&TraversalEntry{Entry: entry, Info: info})
		}
		visitor(nil)
	})
}

// Clear purges every record.
func (c *Cache) Clear() {
	c.queue.Dispatch(func() {
		if err := c.store.RemoveRecursively(recordsPrefix); err != nil {
			c.log.Errorf("clear failed: %v", err)
		}
		c.approximateSize = 0
		c.sizeKnown = true
	})
}

// ClearModifiedSince purges records whose on-disk modification time is at
// or after the given time. The completion fires after every deletion was
// attempted; per-record failures do not abort the sweep.
func (c *Cache) ClearModifiedSince(since time.Time, completion func()) {
	c.queue.Dispatch(func() {
		for _, name := range c.listRecordNames() {
			info, err := c.store.Stat(name)
			if err != nil {
				continue
			}
			if info.ModTime.Before(since) {
				continue
			}
			if err := c.store.Remove(name); err != nil {
				c.log.WithField("record", name).Warnf("clear remove failed: %v", err)
			}
		}
		c.sizeKnown = false
		if completion != nil {
			completion()
		}
	})
}

// SetCapacity adjusts the byte budget. If current usage exceeds the new
// budget, background trimming starts immediately.
func (c *Cache) SetCapacity(bytes int64) {
	c.queue.Dispatch(func() {
		c.capacity = bytes
		c.shrinkIfNeeded()
	})
}

// shrinkIfNeeded runs on the queue goroutine and evicts least-recently-used
// records until usage fits the capacity.
func (c *Cache) shrinkIfNeeded() {
	if c.capacity <= 0 {
		return
	}
	if !c.sizeKnown {
		c.recomputeSize()
	}
	if c.approximateSize <= c.capacity {
		return
	}

	type recordStat struct {
		name string
		info storage.Info
	}
	var records []recordStat
	for _, name := range c.listRecordNames() {
		info, err := c.store.Stat(name)
		if err != nil {
			continue
		}
		records = append(records, recordStat{name: name, info: info})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].info.ModTime.Before(records[j].info.ModTime)
	})

	evicted := 0
	for _, rec := range records {
		if c.approximateSize <= c.capacity {
			break
		}
		if err := c.store.Remove(rec.name); err != nil {
			c.log.WithField("record", rec.name).Warnf("evict failed: %v", err)
			continue
		}
		c.approximateSize -= rec.info.SizeBytes
		evicted++
	}
	if evicted > 0 {
		c.stats.bump("evictions")
		c.log.WithFields(logrus.Fields{
			"evicted":  evicted,
			"size":     c.approximateSize,
			"capacity": c.capacity,
		}).Info("capacity trim finished")
	}
}

func (c *Cache) recomputeSize() {
	var total int64
	for _, name := range c.listRecordNames() {
		if info, err := c.store.Stat(name); err == nil {
			total += info.SizeBytes
		}
	}
	c.approximateSize = total
	c.sizeKnown = true
}

func (c *Cache) listRecordNames() []string {
	types, err := c.store.List(recordsPrefix)
	if err != nil {
		c.log.Warnf("record list failed: %v", err)
		return nil
	}
	var names []string
	for _, typ := range types {
		children, err := c.store.List(recordsPrefix + "/" + typ)
		if err != nil {
			continue
		}
		for _, child := range children {
			names = append(names, recordsPrefix+"/"+typ+"/"+child)
		}
	}
	return names
}

// DumpContentsToFile writes a JSON summary of every record to the dump
// blob, for diagnostics.
func (c *Cache) DumpContentsToFile() {
	c.queue.Dispatch(func() {
		type dumpRecord struct {
			Key       string    `json:"key"`
			URL       string    `json:"url,omitempty"`
			Status    int       `json:"status"`
			BodySize  int       `json:"bodySize"`
			Timestamp time.Time `json:"timestamp"`
		}
		var records []dumpRecord
		for _, name := range c.listRecordNames() {
			data, err := c.store.Read(name)
			if err != nil {
				continue
			}
			entry, err := DecodeEntry(data)
			if err != nil {
				continue
			}
			records = append(records, dumpRecord{
				Key:       entry.Key.Hash(),
				URL:       entry.Key.Identifier,
				Status:    entry.Response.Status,
				BodySize:  len(entry.Body),
				Timestamp: entry.Timestamp,
			})
		}
		dump, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return
		}
		if err := c.store.Write(dumpBlobName, dump); err != nil {
			c.log.Errorf("dump write failed: %v", err)
		}
	})
}
