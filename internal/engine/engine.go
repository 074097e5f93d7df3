package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/origincache/origincache/internal/cachekey"
	"github.com/origincache/origincache/internal/config"
	"github.com/origincache/origincache/internal/logging"
	"github.com/origincache/origincache/internal/storage"
	"github.com/origincache/origincache/internal/webres"
)

const saltBlobName = "salt"

// cborEnc preserves timestamp precision in persisted record sets.
var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Engine is the origin partition directory for one session. Ephemeral
// sessions run memory-only: no store, no queue, nothing persisted.
type Engine struct {
	session   Session
	rootPath  string
	quota     int64
	retryInit bool
	log       *logrus.Entry

	store storage.BlobStore
	queue *storage.SerialQueue

	flights singleflight.Group

	mu             sync.Mutex
	initialized    bool
	initErr        error
	salt           cachekey.Salt
	partitions     map[webres.ClientOrigin]*partition
	nextIdentifier Identifier
	locks          map[Identifier]uint64
}

func newEngine(session Session, cfg config.GlobalConfig, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	e := &Engine{
		session:    session,
		quota:      cfg.PartitionQuota.Int64(),
		retryInit:  cfg.InitFailure != config.InitFailSession,
		partitions: make(map[webres.ClientOrigin]*partition),
		locks:      make(map[Identifier]uint64),
	}

	if session.Ephemeral {
		e.log = logger.WithFields(logging.BaseFields("engine", "ephemeral"))
		return e, nil
	}

	e.rootPath = filepath.Join(cfg.StoragePath, session.ID.String())
	store, err := storage.NewFileStore(e.rootPath)
	if err != nil {
		return nil, err
	}
	e.store = store
	e.queue = storage.NewSerialQueue(e.rootPath)
	e.log = logger.WithFields(logging.BaseFields("engine", e.rootPath))
	return e, nil
}

// ShouldPersist reports whether this engine writes to disk.
func (e *Engine) ShouldPersist() bool {
	return e.queue != nil
}

// RootPath returns the session's storage root ("" for ephemeral sessions).
func (e *Engine) RootPath() string {
	return e.rootPath
}

// Close drains pending disk work and stops the queue.
func (e *Engine) Close() {
	if e.queue != nil {
		e.queue.Close()
	}
}

// async runs fn off the caller's stack, on the storage queue when one
// exists so completions observe queued writes in order.
func (e *Engine) async(fn func()) {
	if e.queue != nil {
		e.queue.Dispatch(fn)
		return
	}
	go fn()
}

// readBlob performs a queued read and waits for it. Must not be called
// from the queue goroutine.
func (e *Engine) readBlob(name string) ([]byte, error) {
	if e.store == nil {
		return nil, storage.ErrNotFound
	}
	var data []byte
	var err error
	done := make(chan struct{})
	e.queue.Dispatch(func() {
		data, err = e.store.Read(name)
		close(done)
	})
	<-done
	return data, err
}

// initialize loads the salt and seeds the identifier generator from every
// manifest on disk, once per engine. Concurrent callers share one flight.
// A failed initialization either stays failed for the session or is retried
// on the next access, per configuration.
func (e *Engine) initialize() error {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	if e.initErr != nil {
		err := e.initErr
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	_, err, _ := e.flights.Do("initialize", func() (interface{}, error) {
		e.mu.Lock()
		if e.initialized {
			e.mu.Unlock()
			return nil, nil
		}
		e.mu.Unlock()

		if e.store == nil {
			e.mu.Lock()
			e.initialized = true
			e.mu.Unlock()
			return nil, nil
		}

		var salt cachekey.Salt
		var saltErr error
		done := make(chan struct{})
		e.queue.Dispatch(func() {
			salt, saltErr = cachekey.ReadOrMakeSalt(e.store, saltBlobName)
			close(done)
		})
		<-done
		if saltErr != nil {
			return nil, saltErr
		}

		maxID, scanErr := e.scanIdentifiers()
		if scanErr != nil {
			return nil, scanErr
		}

		e.mu.Lock()
		e.salt = salt
		if maxID > e.nextIdentifier {
			e.nextIdentifier = maxID
		}
		e.initialized = true
		e.mu.Unlock()
		return nil, nil
	})

	if err != nil {
		e.log.Errorf("engine initialization failed: %v", err)
		if !e.retryInit {
			e.mu.Lock()
			e.initErr = err
			e.mu.Unlock()
		}
	}
	return err
}

// scanIdentifiers reads every partition manifest so identifiers allocated
// this session never collide with persisted ones, even for partitions that
// are never loaded. Record sets are not read here; partitions stay lazy.
func (e *Engine) scanIdentifiers() (Identifier, error) {
	var maxID Identifier
	var scanErr error
	done := make(chan struct{})
	e.queue.Dispatch(func() {
		defer close(done)
		children, err := e.store.List("")
		if err != nil {
			scanErr = err
			return
		}
		for _, child := range children {
			if child == saltBlobName {
				continue
			}
			data, err := e.store.Read(child + "/caches")
			if err != nil {
				continue
			}
			m, err := decodeManifest(data)
			if err != nil {
				e.log.WithField("partition", child).Warnf("skipping corrupt manifest: %v", err)
				continue
			}
			for _, c := range append(m.Caches, m.Removed...) {
				if c.Identifier > maxID {
					maxID = c.Identifier
				}
			}
		}
	})
	<-done
	return maxID, scanErr
}

func (e *Engine) partitionDirName(origin webres.ClientOrigin) string {
	e.mu.Lock()
	salt := e.salt
	e.mu.Unlock()
	return cachekey.New(salt, origin.TopOrigin, "Origin", origin.ClientOrigin, "").Hash()
}

// withPartition hands fn the initialized partition for an origin. The first
// caller triggers the disk load; callers arriving during initialization
// attach to the in-flight load and are resolved together with it.
func (e *Engine) withPartition(origin webres.ClientOrigin, fn func(*partition, error)) {
	go func() {
		if err := e.initialize(); err != nil {
			fn(nil, err)
			return
		}
		dirName := e.partitionDirName(origin)

		e.mu.Lock()
		p := e.partitions[origin]
		if p == nil {
			p = &partition{origin: origin, dirName: dirName}
			e.partitions[origin] = p
		}
		switch p.state {
		case stateReady:
			e.mu.Unlock()
			fn(p, nil)
			return
		case stateFailed:
			if !e.retryInit {
				err := p.initErr
				e.mu.Unlock()
				fn(nil, err)
				return
			}
		}
		p.waiters = append(p.waiters, fn)
		if p.state == stateInitializing {
			e.mu.Unlock()
			return
		}
		p.state = stateInitializing
		e.mu.Unlock()

		_, err, _ := e.flights.Do("partition:"+p.dirName, func() (interface{}, error) {
			return nil, e.loadPartition(p)
		})

		e.mu.Lock()
		if err == nil {
			p.state = stateReady
		} else {
			p.state = stateFailed
			p.initErr = err
		}
		waiters := p.waiters
		p.waiters = nil
		e.mu.Unlock()

		for _, waiter := range waiters {
			if err != nil {
				waiter(nil, err)
			} else {
				waiter(p, nil)
			}
		}
	}()
}

// loadPartition populates a partition from its manifest and record sets. A
// missing manifest means a brand-new partition. Soft-deleted caches found
// on disk lost their locks with the previous session and are erased.
func (e *Engine) loadPartition(p *partition) error {
	if e.store == nil {
		return nil
	}

	data, err := e.readBlob(p.manifestName())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	m, err := decodeManifest(data)
	if err != nil {
		return err
	}

	var caches []*namedCache
	for _, mc := range m.Caches {
		cache := &namedCache{identifier: mc.Identifier, name: mc.Name}
		setData, err := e.readBlob(recordSetName(p.dirName, mc.Identifier))
		if err == nil {
			records, decodeErr := decodeRecordSet(setData)
			if decodeErr != nil {
				e.log.WithFields(logging.CacheFields(p.origin.String(), mc.Identifier, mc.Name)).
					Warnf("dropping corrupt record set: %v", decodeErr)
			} else {
				cache.records = records
			}
		}
		for _, rec := range cache.records {
			if rec.Identifier >= cache.nextRecordID {
				cache.nextRecordID = rec.Identifier + 1
			}
		}
		caches = append(caches, cache)
	}

	e.mu.Lock()
	p.updateCounter = m.UpdateCounter
	p.caches = caches
	for _, mc := range append(m.Caches, m.Removed...) {
		if mc.Identifier > e.nextIdentifier {
			e.nextIdentifier = mc.Identifier
		}
	}
	e.mu.Unlock()

	for _, mc := range m.Removed {
		dir := p.cacheDirName(mc.Identifier)
		e.queue.Dispatch(func() {
			if err := e.store.RemoveRecursively(dir); err != nil {
				e.log.Warnf("deferred cache erase failed: %v", err)
			}
		})
	}
	return nil
}

// persistManifest writes a manifest snapshot on the queue and reports the
// outcome to completion.
func (e *Engine) persistManifest(name string, m manifest, completion func(error)) {
	if e.queue == nil {
		if completion != nil {
			completion(nil)
		}
		return
	}
	e.queue.Dispatch(func() {
		data, err := cborEnc.Marshal(m)
		if err == nil {
			err = e.store.Write(name, data)
		}
		if err != nil {
			e.log.Errorf("manifest write failed: %v", err)
		}
		if completion != nil {
			completion(err)
		}
	})
}

// persistRecordSet writes a cache's record set snapshot on the queue.
func (e *Engine) persistRecordSet(name string, records []Record, completion func(error)) {
	if e.queue == nil {
		if completion != nil {
			completion(nil)
		}
		return
	}
	e.queue.Dispatch(func() {
		data, err := cborEnc.Marshal(records)
		if err == nil {
			err = e.store.Write(name, data)
		}
		if err != nil {
			e.log.Errorf("record set write failed: %v", err)
		}
		if completion != nil {
			completion(err)
		}
	})
}

// Open returns the identifier of the named cache for an origin, creating it
// if needed. Opening an existing (origin, name) pair is idempotent and does
// not advance the update counter.
func (e *Engine) Open(origin webres.ClientOrigin, name string, completion CacheIdentifierFunc) {
	e.withPartition(origin, func(p *partition, err error) {
		if err != nil {
			completion(0, err)
			return
		}

		e.mu.Lock()
		if existing := p.visibleByName(name); existing != nil {
			id := existing.identifier
			e.mu.Unlock()
			completion(id, nil)
			return
		}

		e.nextIdentifier++
		id := e.nextIdentifier
		p.caches = append(p.caches, &namedCache{identifier: id, name: name})
		p.updateCounter++
		m := p.snapshotManifest()
		manifestName := p.manifestName()
		e.mu.Unlock()

		e.log.WithFields(logging.CacheFields(origin.String(), id, name)).Debug("cache opened")
		e.persistManifest(manifestName, m, func(err error) {
			completion(id, err)
		})
	})
}

// Remove soft-deletes a cache: it disappears from listings and future
// opens immediately, while on-disk data survives until its lock count
// reaches zero.
func (e *Engine) Remove(id Identifier, completion CacheIdentifierFunc) {
	e.mu.Lock()
	var owner *partition
	var cache *namedCache
	for _, p := range e.partitions {
		for i, c := range p.caches {
			if c.identifier == id {
				owner = p
				cache = c
				p.caches = append(p.caches[:i], p.caches[i+1:]...)
				break
			}
		}
		if cache != nil {
			break
		}
	}
	if cache == nil {
		e.mu.Unlock()
		e.async(func() {
			completion(0, fmt.Errorf("%w: cache %d", storage.ErrNotFound, id))
		})
		return
	}

	owner.removed = append(owner.removed, cache)
	owner.updateCounter++
	locked := e.locks[id] > 0
	cache.pendingErase = locked
	m := owner.snapshotManifest()
	manifestName := owner.manifestName()
	e.mu.Unlock()

	e.log.WithFields(logging.CacheFields(owner.origin.String(), id, cache.name)).
		WithField("locked", locked).Info("cache removed")
	e.persistManifest(manifestName, m, func(err error) {
		if !locked {
			e.eraseCache(owner, id)
		}
		completion(id, err)
	})
}

// eraseCache completes the physical deletion of a soft-deleted cache.
func (e *Engine) eraseCache(p *partition, id Identifier) {
	e.mu.Lock()
	for i, c := range p.removed {
		if c.identifier == id {
			p.removed = append(p.removed[:i], p.removed[i+1:]...)
			break
		}
	}
	dir := p.cacheDirName(id)
	m := p.snapshotManifest()
	manifestName := p.manifestName()
	e.mu.Unlock()

	if e.queue == nil {
		return
	}
	e.queue.Dispatch(func() {
		if err := e.store.RemoveRecursively(dir); err != nil {
			e.log.Warnf("cache erase failed: %v", err)
		}
	})
	e.persistManifest(manifestName, m, nil)
}

// RetrieveCaches lists the visible caches of an origin when the partition's
// update counter advanced past the caller's; otherwise it signals
// "unchanged" with changed=false and no listing.
func (e *Engine) RetrieveCaches(origin webres.ClientOrigin, updateCounter uint64, completion CacheInfosFunc) {
	e.withPartition(origin, func(p *partition, err error) {
		if err != nil {
			completion(nil, 0, false, err)
			return
		}

		e.mu.Lock()
		counter := p.updateCounter
		if updateCounter >= counter {
			e.mu.Unlock()
			completion(nil, counter, false, nil)
			return
		}
		infos := p.infos()
		e.mu.Unlock()
		completion(infos, counter, true, nil)
	})
}

// cacheByIdentifier finds a cache, including soft-deleted ones: locks gate
// deletion, never reads.
func (e *Engine) cacheByIdentifier(id Identifier) (*partition, *namedCache) {
	for _, p := range e.partitions {
		if c, _ := p.byIdentifier(id); c != nil {
			return p, c
		}
	}
	return nil, nil
}

// RetrieveRecords returns copies of a cache's records, optionally filtered
// to one request URL.
func (e *Engine) RetrieveRecords(id Identifier, urlFilter string, completion RecordsFunc) {
	e.mu.Lock()
	_, cache := e.cacheByIdentifier(id)
	if cache == nil {
		e.mu.Unlock()
		e.async(func() {
			completion(nil, fmt.Errorf("%w: cache %d", storage.ErrNotFound, id))
		})
		return
	}
	var records []Record
	for _, rec := range cache.records {
		if urlFilter != "" && rec.Request.URL != urlFilter {
			continue
		}
		records = append(records, rec)
	}
	e.mu.Unlock()

	e.async(func() {
		completion(records, nil)
	})
}

// PutRecords inserts or replaces records in a cache. A record matching an
// existing request is replaced in place with a bumped update counter; new
// records are appended in order. The write is rejected with
// ErrQuotaExceeded when it would push the partition past its quota.
func (e *Engine) PutRecords(id Identifier, records []Record, completion RecordIdentifiersFunc) {
	e.mu.Lock()
	owner, cache := e.cacheByIdentifier(id)
	if cache == nil {
		e.mu.Unlock()
		e.async(func() {
			completion(nil, fmt.Errorf("%w: cache %d", storage.ErrNotFound, id))
		})
		return
	}

	var delta int64
	for _, rec := range records {
		delta += rec.size()
		if existing := cache.findMatching(rec.Request); existing != nil {
			delta -= existing.size()
		}
	}
	if e.quota > 0 && owner.size()+delta > e.quota {
		e.mu.Unlock()
		e.async(func() {
			completion(nil, fmt.Errorf("%w: partition over %d bytes", storage.ErrQuotaExceeded, e.quota))
		})
		return
	}

	identifiers := make([]uint64, 0, len(records))
	for _, rec := range records {
		if existing := cache.findMatching(rec.Request); existing != nil {
			rec.Identifier = existing.Identifier
			rec.UpdateCounter = existing.UpdateCounter + 1
			*existing = rec
		} else {
			cache.nextRecordID++
			rec.Identifier = cache.nextRecordID
			rec.UpdateCounter = 1
			cache.records = append(cache.records, rec)
		}
		identifiers = append(identifiers, rec.Identifier)
	}
	snapshot := make([]Record, len(cache.records))
	copy(snapshot, cache.records)
	setName := recordSetName(owner.dirName, id)
	e.mu.Unlock()

	e.persistRecordSet(setName, snapshot, func(err error) {
		completion(identifiers, err)
	})
}

// DeleteMatchingRecords removes every record the caller-supplied matcher
// accepts against the target request and reports the removed identifiers.
// A nil matcher matches on exact method and URL.
func (e *Engine) DeleteMatchingRecords(id Identifier, target webres.Request, matcher webres.RequestMatcher, completion RecordIdentifiersFunc) {
	if matcher == nil {
		matcher = func(t, candidate webres.Request) bool {
			return t.Method == candidate.Method && t.URL == candidate.URL
		}
	}

	e.mu.Lock()
	owner, cache := e.cacheByIdentifier(id)
	if cache == nil {
		e.mu.Unlock()
		e.async(func() {
			completion(nil, fmt.Errorf("%w: cache %d", storage.ErrNotFound, id))
		})
		return
	}

	var removed []uint64
	kept := cache.records[:0]
	for _, rec := range cache.records {
		if matcher(target, rec.Request) {
			removed = append(removed, rec.Identifier)
			continue
		}
		kept = append(kept, rec)
	}
	cache.records = kept
	snapshot := make([]Record, len(cache.records))
	copy(snapshot, cache.records)
	setName := recordSetName(owner.dirName, id)
	e.mu.Unlock()

	if len(removed) == 0 {
		e.async(func() {
			completion(nil, nil)
		})
		return
	}

	e.persistRecordSet(setName, snapshot, func(err error) {
		completion(removed, err)
	})
}

// Lock increments a cache's advisory lock count, preventing physical
// deletion while the cache is in use.
func (e *Engine) Lock(id Identifier) {
	e.mu.Lock()
	e.locks[id]++
	e.mu.Unlock()
}

// Unlock decrements the lock count, saturating at zero. Dropping to zero
// completes any pending physical deletion of a soft-deleted cache.
func (e *Engine) Unlock(id Identifier) {
	e.mu.Lock()
	count := e.locks[id]
	if count == 0 {
		e.mu.Unlock()
		e.log.WithField("cache_id", id).Warn("unlock without matching lock")
		return
	}
	count--
	if count > 0 {
		e.locks[id] = count
		e.mu.Unlock()
		return
	}
	delete(e.locks, id)

	var owner *partition
	for _, p := range e.partitions {
		if c, removed := p.byIdentifier(id); c != nil && removed && c.pendingErase {
			owner = p
			break
		}
	}
	e.mu.Unlock()

	if owner != nil {
		e.eraseCache(owner, id)
	}
}

// LockGuard acquires the lock and returns a release function that is safe
// to call on every exit path; extra calls are no-ops.
func (e *Engine) LockGuard(id Identifier) func() {
	e.Lock(id)
	var once sync.Once
	return func() {
		once.Do(func() { e.Unlock(id) })
	}
}

// ClearAllCaches detaches every in-memory partition synchronously, then
// erases all origin data on disk. The completion fires after the disk
// deletion finished; new operations started meanwhile observe an empty
// directory.
func (e *Engine) ClearAllCaches(completion func()) {
	e.mu.Lock()
	e.partitions = make(map[webres.ClientOrigin]*partition)
	e.locks = make(map[Identifier]uint64)
	e.mu.Unlock()

	e.log.Info("clearing all caches")
	if e.queue == nil {
		if completion != nil {
			go completion()
		}
		return
	}
	e.queue.Dispatch(func() {
		children, err := e.store.List("")
		if err != nil {
			e.log.Errorf("clear scan failed: %v", err)
		}
		for _, child := range children {
			if child == saltBlobName {
				continue
			}
			if err := e.store.RemoveRecursively(child); err != nil {
				e.log.Errorf("clear failed for %s: %v", child, err)
			}
		}
		if completion != nil {
			completion()
		}
	})
}

// ClearCachesForOrigin detaches one origin's in-memory partition
// synchronously and erases its directory in the background.
func (e *Engine) ClearCachesForOrigin(origin webres.ClientOrigin, completion func()) {
	go func() {
		if err := e.initialize(); err != nil {
			if completion != nil {
				completion()
			}
			return
		}
		dirName := e.partitionDirName(origin)

		e.mu.Lock()
		delete(e.partitions, origin)
		e.mu.Unlock()

		if e.queue == nil {
			if completion != nil {
				completion()
			}
			return
		}
		e.queue.Dispatch(func() {
			if err := e.store.RemoveRecursively(dirName); err != nil {
				e.log.Errorf("origin clear failed: %v", err)
			}
			if completion != nil {
				completion()
			}
		})
	}()
}

// ClearMemoryRepresentation drops an origin's in-memory structures without
// touching disk; the next access re-initializes from disk.
func (e *Engine) ClearMemoryRepresentation(origin webres.ClientOrigin, completion CompletionFunc) {
	e.mu.Lock()
	delete(e.partitions, origin)
	e.mu.Unlock()
	if completion != nil {
		e.async(func() { completion(nil) })
	}
}

// WriteFile persists a raw named blob through the serial queue.
func (e *Engine) WriteFile(name string, data []byte, completion CompletionFunc) {
	if e.queue == nil {
		if completion != nil {
			go completion(nil)
		}
		return
	}
	e.queue.Dispatch(func() {
		err := e.store.Write(name, data)
		if completion != nil {
			completion(err)
		}
	})
}

// ReadFile reads a raw named blob through the serial queue.
func (e *Engine) ReadFile(name string, completion ReadFileFunc) {
	if e.queue == nil {
		go completion(nil, storage.ErrNotFound)
		return
	}
	e.queue.Dispatch(func() {
		data, err := e.store.Read(name)
		completion(data, err)
	})
}

// RemoveFile deletes a raw named blob.
func (e *Engine) RemoveFile(name string) {
	if e.queue == nil {
		return
	}
	e.queue.Dispatch(func() {
		if err := e.store.Remove(name); err != nil {
			e.log.Warnf("file remove failed: %v", err)
		}
	})
}

// Salt returns the root's persisted salt, generating and persisting one on
// first use. Blocks until initialization completes.
func (e *Engine) Salt() (cachekey.Salt, error) {
	if err := e.initialize(); err != nil {
		return cachekey.Salt{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.salt, nil
}

// Representation returns a JSON snapshot of the in-memory state for
// diagnostics.
func (e *Engine) Representation(completion func(string)) {
	type cacheRep struct {
		Identifier Identifier `json:"identifier"`
		Name       string     `json:"name"`
		Records    int        `json:"records"`
	}
	type partitionRep struct {
		Origin  string     `json:"origin"`
		Counter uint64     `json:"updateCounter"`
		Caches  []cacheRep `json:"caches"`
		Removed []uint64   `json:"removed,omitempty"`
	}
	type rep struct {
		Persistent bool                  `json:"persistent"`
		Partitions []partitionRep        `json:"partitions"`
		Locks      map[Identifier]uint64 `json:"locks,omitempty"`
	}

	e.mu.Lock()
	snapshot := rep{
		Persistent: e.queue != nil,
		Locks:      make(map[Identifier]uint64, len(e.locks)),
	}
	for id, count := range e.locks {
		snapshot.Locks[id] = count
	}
	for _, p := range e.partitions {
		pr := partitionRep{Origin: p.origin.String(), Counter: p.updateCounter}
		for _, c := range p.caches {
			pr.Caches = append(pr.Caches, cacheRep{Identifier: c.identifier, Name: c.name, Records: len(c.records)})
		}
		for _, c := range p.removed {
			pr.Removed = append(pr.Removed, c.identifier)
		}
		snapshot.Partitions = append(snapshot.Partitions, pr)
	}
	e.mu.Unlock()

	e.async(func() {
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			completion("{}")
			return
		}
		completion(string(data))
	})
}

// FetchEntries reports per-origin disk usage from the persisted manifests,
// for storage-usage surfaces. Unreadable partitions are skipped rather than
// failing the report.
func (e *Engine) FetchEntries(shouldComputeSize bool, completion UsageFunc) {
	go func() {
		if err := e.initialize(); err != nil {
			completion(nil, err)
			return
		}
		if e.queue == nil {
			completion(nil, nil)
			return
		}
		e.queue.Dispatch(func() {
			children, err := e.store.List("")
			if err != nil {
				completion(nil, err)
				return
			}
			var entries []UsageEntry
			for _, child := range children {
				if child == saltBlobName {
					continue
				}
				data, err := e.store.Read(child + "/caches")
				if err != nil {
					continue
				}
				m, err := decodeManifest(data)
				if err != nil {
					continue
				}
				entry := UsageEntry{Origin: m.Origin, Type: UsageTypeDOMCache}
				if shouldComputeSize {
					entry.Size = e.partitionDiskSize(child)
				}
				entries = append(entries, entry)
			}
			completion(entries, nil)
		})
	}()
}

// partitionDiskSize runs on the queue goroutine and sums the record set
// blobs under one partition directory.
func (e *Engine) partitionDiskSize(dirName string) int64 {
	var total int64
	children, err := e.store.List(dirName)
	if err != nil {
		return 0
	}
	for _, child := range children {
		setName := dirName + "/" + child + "/records"
		if info, err := e.store.Stat(setName); err == nil {
			total += info.SizeBytes
		}
	}
	return total
}
