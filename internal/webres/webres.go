// Package webres models requests and responses as opaque attribute bags:
// method, URL, a relevant header subset, status and cache directives. It
// deliberately implements no HTTP transport semantics; it only exposes the
// predicates the cache decision policies need.
package webres

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Headers is the relevant header subset of a request or response. Keys are
// stored in canonical form.
type Headers map[string]string

// Get returns the value for a header name, canonicalizing the lookup.
func (h Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	return h[http.CanonicalHeaderKey(name)]
}

// Set stores a header value under its canonical name.
func (h Headers) Set(name, value string) {
	h[http.CanonicalHeaderKey(name)] = value
}

// Has reports whether the header is present, even when empty.
func (h Headers) Has(name string) bool {
	if h == nil {
		return false
	}
	_, ok := h[http.CanonicalHeaderKey(name)]
	return ok
}

// Clone returns a copy safe to retain independently of the source.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// CachePolicy mirrors the caller's load policy for one request.
type CachePolicy int

const (
	UseProtocolCachePolicy CachePolicy = iota
	ReloadIgnoringCacheData
	ReturnCacheDataElseLoad
	ReturnCacheDataDontLoad
)

// Request is one resource request as seen by the cache.
type Request struct {
	Method    string      `cbor:"1,keyasint"`
	URL       string      `cbor:"2,keyasint"`
	Partition string      `cbor:"3,keyasint"`
	Headers   Headers     `cbor:"4,keyasint,omitempty"`
	Policy    CachePolicy `cbor:"5,keyasint,omitempty"`
}

var conditionalHeaders = []string{
	"If-Match",
	"If-Modified-Since",
	"If-None-Match",
	"If-Range",
	"If-Unmodified-Since",
}

// IsConditional reports whether the request carries any conditional header.
func (r Request) IsConditional() bool {
	for _, name := range conditionalHeaders {
		if r.Headers.Has(name) {
			return true
		}
	}
	return false
}

// IsRange reports whether the request asks for partial (streaming media
// style) content.
func (r Request) IsRange() bool {
	return r.Headers.Has("Range")
}

// Response is one resource response as seen by the cache.
type Response struct {
	Status    int       `cbor:"1,keyasint"`
	Headers   Headers   `cbor:"2,keyasint,omitempty"`
	Timestamp time.Time `cbor:"3,keyasint,omitempty"`
}

// CacheControl carries the parsed cache directives of one message.
type CacheControl struct {
	NoStore   bool
	NoCache   bool
	MaxAge    time.Duration
	HasMaxAge bool
}

// ParseCacheControl extracts the directives the policies care about from a
// Cache-Control header value.
func ParseCacheControl(value string) CacheControl {
	var cc CacheControl
	for _, directive := range strings.Split(value, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		switch {
		case directive == "no-store":
			cc.NoStore = true
		case directive == "no-cache":
			cc.NoCache = true
		case strings.HasPrefix(directive, "max-age="):
			raw := strings.TrimPrefix(directive, "max-age=")
			if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil && seconds >= 0 {
				cc.MaxAge = time.Duration(seconds) * time.Second
				cc.HasMaxAge = true
			}
		}
	}
	return cc
}

// CacheControl parses the request's own directives.
func (r Request) CacheControl() CacheControl {
	return ParseCacheControl(r.Headers.Get("Cache-Control"))
}

// CacheControl parses the response's directives.
func (r Response) CacheControl() CacheControl {
	return ParseCacheControl(r.Headers.Get("Cache-Control"))
}

// HasCacheValidatorFields reports whether the response can be revalidated
// later with a conditional request.
func (r Response) HasCacheValidatorFields() bool {
	return r.Headers.Get("Etag") != "" || r.Headers.Get("Last-Modified") != ""
}

// FreshnessLifetime computes how long the response may be served without
// revalidation: explicit max-age wins, then Expires relative to Date, then
// a 10% heuristic of the Date/Last-Modified distance.
func (r Response) FreshnessLifetime() time.Duration {
	if cc := r.CacheControl(); cc.HasMaxAge {
		return cc.MaxAge
	}

	date := r.headerTime("Date")
	if expires := r.headerTime("Expires"); !expires.IsZero() && !date.IsZero() {
		return expires.Sub(date)
	}

	if lastModified := r.headerTime("Last-Modified"); !lastModified.IsZero() && !date.IsZero() {
		lifetime := date.Sub(lastModified) / 10
		if lifetime > 0 {
			return lifetime
		}
	}
	return 0
}

func (r Response) headerTime(name string) time.Time {
	value := r.Headers.Get(name)
	if value == "" {
		return time.Time{}
	}
	parsed, err := http.ParseTime(value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// IsRedirect reports whether the status is a redirection the cache may
// replay.
func (r Response) IsRedirect() bool {
	switch r.Status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
