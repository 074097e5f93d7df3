package webres

import "strings"

// VaryEntry records one request header named by the response's Vary field
// together with the value the stored request carried.
type VaryEntry struct {
	Name  string `cbor:"1,keyasint"`
	Value string `cbor:"2,keyasint,omitempty"`
}

// CollectVaryingRequestHeaders captures the request header values named by
// the response's Vary header. A later request must reproduce these values
// for the stored entry to apply.
func CollectVaryingRequestHeaders(req Request, resp Response) []VaryEntry {
	vary := resp.Headers.Get("Vary")
	if vary == "" {
		return nil
	}

	var entries []VaryEntry
	for _, name := range strings.Split(vary, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		entries = append(entries, VaryEntry{Name: name, Value: req.Headers.Get(name)})
	}
	return entries
}

// VaryingRequestHeadersMatch reports whether req reproduces every stored
// varying header value. A "*" entry never matches.
func VaryingRequestHeadersMatch(stored []VaryEntry, req Request) bool {
	for _, entry := range stored {
		if entry.Name == "*" {
			return false
		}
		if req.Headers.Get(entry.Name) != entry.Value {
			return false
		}
	}
	return true
}

// ClientOrigin identifies the partition a cache client belongs to: the top
// document origin plus the client's own origin.
type ClientOrigin struct {
	TopOrigin    string `cbor:"1,keyasint"`
	ClientOrigin string `cbor:"2,keyasint"`
}

// String renders the origin pair for logs and diagnostics.
func (o ClientOrigin) String() string {
	if o.TopOrigin == o.ClientOrigin {
		return o.ClientOrigin
	}
	return o.TopOrigin + " " + o.ClientOrigin
}

// RequestMatcher decides whether a stored request matches a target request.
// Matching semantics (method/header/query handling) are supplied by the
// caller, not by the engine.
type RequestMatcher func(target, candidate Request) bool
