package engine

import (
	"github.com/origincache/origincache/internal/webres"
)

// Identifier names one named cache. Identifiers are allocated from a
// root-scoped monotonic generator and never reused.
type Identifier = uint64

// Record is one request/response pair stored in a named cache. Records are
// immutable once committed; updates replace them wholesale and bump the
// update counter.
type Record struct {
	Identifier    uint64          `cbor:"1,keyasint"`
	UpdateCounter uint64          `cbor:"2,keyasint"`
	Request       webres.Request  `cbor:"3,keyasint"`
	Response      webres.Response `cbor:"4,keyasint"`
	Body          []byte          `cbor:"5,keyasint,omitempty"`
}

// size is the record's contribution to quota accounting.
func (r Record) size() int64 {
	return int64(len(r.Body))
}

// CacheInfo describes one visible named cache.
type CacheInfo struct {
	Identifier Identifier
	Name       string
}

// UsageEntry reports the bytes one origin holds, consumed by storage-usage
// surfaces.
type UsageEntry struct {
	Origin webres.ClientOrigin
	Size   int64
	Type   string
}

// UsageTypeDOMCache tags cache-storage usage entries.
const UsageTypeDOMCache = "DOMCache"

// Completion callback shapes. Every callback fires exactly once, possibly
// on the storage queue goroutine.
type (
	CompletionFunc        func(error)
	CacheIdentifierFunc   func(Identifier, error)
	CacheInfosFunc        func(infos []CacheInfo, updateCounter uint64, changed bool, err error)
	RecordsFunc           func([]Record, error)
	RecordIdentifiersFunc func([]uint64, error)
	ReadFileFunc          func([]byte, error)
	UsageFunc             func([]UsageEntry, error)
)

// manifest is the persisted form of one origin partition: the origin, its
// update counter, and the named-cache list.
type manifest struct {
	Origin        webres.ClientOrigin `cbor:"1,keyasint"`
	UpdateCounter uint64              `cbor:"2,keyasint"`
	Caches        []manifestCache     `cbor:"3,keyasint,omitempty"`
	Removed       []manifestCache     `cbor:"4,keyasint,omitempty"`
}

type manifestCache struct {
	Identifier Identifier `cbor:"1,keyasint"`
	Name       string     `cbor:"2,keyasint"`
}
