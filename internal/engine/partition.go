package engine

import (
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"github.com/origincache/origincache/internal/storage"
	"github.com/origincache/origincache/internal/webres"
)

// partitionState is the lifecycle of one origin partition. A partition
// never regresses to stateUninitialized; a failed load either stays failed
// for the session or allows a retry on the next access, per configuration.
type partitionState int

const (
	stateUninitialized partitionState = iota
	stateInitializing
	stateReady
	stateFailed
)

// partition is the in-memory representation of one origin's caches.
// Mutations happen under the owning engine's mutex.
type partition struct {
	origin  webres.ClientOrigin
	dirName string

	state    partitionState
	initErr  error
	waiters  []func(*partition, error)

	updateCounter uint64
	caches        []*namedCache
	removed       []*namedCache
}

// namedCache is one application-named record collection.
type namedCache struct {
	identifier Identifier
	name       string

	records      []Record
	nextRecordID uint64

	// pendingErase marks a soft-deleted cache whose physical removal waits
	// for its lock count to reach zero.
	pendingErase bool
}

func (c *namedCache) size() int64 {
	var total int64
	for _, rec := range c.records {
		total += rec.size()
	}
	return total
}

// findMatching returns the record sharing a request's method and URL, the
// identity used when a put replaces an earlier record.
func (c *namedCache) findMatching(req webres.Request) *Record {
	for i := range c.records {
		if c.records[i].Request.Method == req.Method && c.records[i].Request.URL == req.URL {
			return &c.records[i]
		}
	}
	return nil
}

func (p *partition) visibleByName(name string) *namedCache {
	for _, c := range p.caches {
		if c.name == name {
			return c
		}
	}
	return nil
}

// byIdentifier also finds soft-deleted caches: locks block deletion, never
// reads.
func (p *partition) byIdentifier(id Identifier) (*namedCache, bool) {
	for _, c := range p.caches {
		if c.identifier == id {
			return c, false
		}
	}
	for _, c := range p.removed {
		if c.identifier == id {
			return c, true
		}
	}
	return nil, false
}

func (p *partition) size() int64 {
	var total int64
	for _, c := range p.caches {
		total += c.size()
	}
	return total
}

func (p *partition) infos() []CacheInfo {
	infos := make([]CacheInfo, 0, len(p.caches))
	for _, c := range p.caches {
		infos = append(infos, CacheInfo{Identifier: c.identifier, Name: c.name})
	}
	return infos
}

func (p *partition) manifestName() string {
	return p.dirName + "/caches"
}

func recordSetName(dirName string, id Identifier) string {
	return dirName + "/" + strconv.FormatUint(id, 10) + "/records"
}

func (p *partition) cacheDirName(id Identifier) string {
	return p.dirName + "/" + strconv.FormatUint(id, 10)
}

// snapshotManifest captures the persisted form under the engine mutex.
func (p *partition) snapshotManifest() manifest {
	m := manifest{Origin: p.origin, UpdateCounter: p.updateCounter}
	for _, c := range p.caches {
		m.Caches = append(m.Caches, manifestCache{Identifier: c.identifier, Name: c.name})
	}
	for _, c := range p.removed {
		m.Removed = append(m.Removed, manifestCache{Identifier: c.identifier, Name: c.name})
	}
	return m
}

func decodeManifest(data []byte) (manifest, error) {
	var m manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("%w: decode manifest: %v", storage.ErrInvalid, err)
	}
	return m, nil
}

func decodeRecordSet(data []byte) ([]Record, error) {
	var records []Record
	if err := cbor.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: decode record set: %v", storage.ErrInvalid, err)
	}
	return records, nil
}
