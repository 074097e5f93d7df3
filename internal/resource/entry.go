package resource

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/origincache/origincache/internal/cachekey"
	"github.com/origincache/origincache/internal/storage"
	"github.com/origincache/origincache/internal/webres"
)

// cborEnc keeps full timestamp precision across encode/decode.
var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Entry is one staged cache record: the response metadata, the varying
// request headers it was stored under, and either a body or a redirect
// request. An Entry returned by Store/Update is not durable until the
// cache's queued write completes; once committed it is immutable and only
// ever replaced wholesale.
type Entry struct {
	Key                   cachekey.Key       `cbor:"1,keyasint"`
	Timestamp             time.Time          `cbor:"2,keyasint"`
	Response              webres.Response    `cbor:"3,keyasint"`
	VaryingRequestHeaders []webres.VaryEntry `cbor:"4,keyasint,omitempty"`
	Body                  []byte             `cbor:"5,keyasint,omitempty"`
	RedirectRequest       *webres.Request    `cbor:"6,keyasint,omitempty"`

	// MaxAgeCap, when positive, lowers the response's own freshness
	// lifetime. It never raises it.
	MaxAgeCap time.Duration `cbor:"7,keyasint,omitempty"`
}

// Encode serializes the entry to its persisted record form.
func (e *Entry) Encode() ([]byte, error) {
	data, err := cborEnc.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// DecodeEntry parses a persisted record, reporting corrupt data as
// storage.ErrInvalid.
func DecodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := cbor.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", storage.ErrInvalid, err)
	}
	if entry.Key.IsZero() {
		return nil, fmt.Errorf("%w: record has no key", storage.ErrInvalid)
	}
	return &entry, nil
}

// lifetime is the response freshness lifetime with the entry cap applied.
func (e *Entry) lifetime() time.Duration {
	lifetime := e.Response.FreshnessLifetime()
	if e.MaxAgeCap > 0 && e.MaxAgeCap < lifetime {
		return e.MaxAgeCap
	}
	return lifetime
}

// NeedsRevalidation reports whether the entry is too old, or marked
// no-cache, to serve without a conditional request.
func (e *Entry) NeedsRevalidation(now time.Time) bool {
	if e.Response.CacheControl().NoCache {
		return true
	}
	return now.Sub(e.Timestamp) > e.lifetime()
}

// HasExpired reports whether the entry's freshness lifetime has fully
// elapsed, used for cached redirects.
func (e *Entry) HasExpired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.lifetime()
}
