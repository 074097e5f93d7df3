package resource

import (
	"net/http"
	"strings"
	"time"

	"github.com/origincache/origincache/internal/webres"
)

// RetrieveDecision classifies whether a request may be answered from the
// cache at all. Checks run in declaration order; the first negative reason
// wins.
type RetrieveDecision int

const (
	RetrieveYes RetrieveDecision = iota
	RetrieveNoDueToHTTPMethod
	RetrieveNoDueToConditionalRequest
	RetrieveNoDueToReloadIgnoringCache
	RetrieveNoDueToStreamingMedia
)

func (d RetrieveDecision) String() string {
	switch d {
	case RetrieveYes:
		return "yes"
	case RetrieveNoDueToHTTPMethod:
		return "no_due_to_http_method"
	case RetrieveNoDueToConditionalRequest:
		return "no_due_to_conditional_request"
	case RetrieveNoDueToReloadIgnoringCache:
		return "no_due_to_reload_ignoring_cache"
	case RetrieveNoDueToStreamingMedia:
		return "no_due_to_streaming_media"
	}
	return "unknown"
}

// MakeRetrieveDecision decides whether the cache should be consulted for a
// request.
func MakeRetrieveDecision(req webres.Request) RetrieveDecision {
	if req.Method != http.MethodGet {
		return RetrieveNoDueToHTTPMethod
	}
	if req.IsConditional() {
		return RetrieveNoDueToConditionalRequest
	}
	if req.Policy == webres.ReloadIgnoringCacheData {
		return RetrieveNoDueToReloadIgnoringCache
	}
	if req.IsRange() {
		return RetrieveNoDueToStreamingMedia
	}
	return RetrieveYes
}

// StoreDecision classifies whether a response is worth persisting. First
// matching negative reason wins.
type StoreDecision int

const (
	StoreYes StoreDecision = iota
	StoreNoDueToProtocol
	StoreNoDueToHTTPMethod
	StoreNoDueToNoStoreResponse
	StoreNoDueToHTTPStatusCode
	StoreNoDueToNoStoreRequest
	StoreNoDueToUnlikelyToReuse
	StoreNoDueToStreamingMedia
)

func (d StoreDecision) String() string {
	switch d {
	case StoreYes:
		return "yes"
	case StoreNoDueToProtocol:
		return "no_due_to_protocol"
	case StoreNoDueToHTTPMethod:
		return "no_due_to_http_method"
	case StoreNoDueToNoStoreResponse:
		return "no_due_to_no_store_response"
	case StoreNoDueToHTTPStatusCode:
		return "no_due_to_http_status_code"
	case StoreNoDueToNoStoreRequest:
		return "no_due_to_no_store_request"
	case StoreNoDueToUnlikelyToReuse:
		return "no_due_to_unlikely_to_reuse"
	case StoreNoDueToStreamingMedia:
		return "no_due_to_streaming_media"
	}
	return "unknown"
}

// Status codes cacheable without explicit freshness information.
var cacheableStatusCodes = map[int]bool{
	200: true, 203: true, 204: true, 300: true, 301: true,
	404: true, 405: true, 410: true, 414: true, 501: true,
}

// MakeStoreDecision decides whether a request/response pair is eligible for
// the cache.
func MakeStoreDecision(req webres.Request, resp webres.Response) StoreDecision {
	if !strings.HasPrefix(strings.ToLower(req.URL), "https://") &&
		!strings.HasPrefix(strings.ToLower(req.URL), "http://") {
		return StoreNoDueToProtocol
	}
	if req.Method != http.MethodGet {
		return StoreNoDueToHTTPMethod
	}

	respControl := resp.CacheControl()
	if respControl.NoStore {
		return StoreNoDueToNoStoreResponse
	}

	if !cacheableStatusCodes[resp.Status] {
		// Redirects outside the always-cacheable set still qualify when
		// the response carries explicit freshness information.
		explicitlyFresh := respControl.HasMaxAge || resp.Headers.Get("Expires") != ""
		if !(resp.IsRedirect() && explicitlyFresh) {
			return StoreNoDueToHTTPStatusCode
		}
	}

	if req.CacheControl().NoStore {
		return StoreNoDueToNoStoreRequest
	}

	if !resp.HasCacheValidatorFields() && resp.FreshnessLifetime() <= 0 {
		return StoreNoDueToUnlikelyToReuse
	}

	if req.IsRange() {
		return StoreNoDueToStreamingMedia
	}

	return StoreYes
}

// UseDecision classifies how a stored entry may serve a new request: as-is,
// after conditional revalidation, or not at all.
type UseDecision int

const (
	UseDecisionUse UseDecision = iota
	UseDecisionValidate
	UseNoDueToVaryingHeaderMismatch
	UseNoDueToMissingValidatorFields
	UseNoDueToDecodeFailure
	UseNoDueToExpiredRedirect
)

func (d UseDecision) String() string {
	switch d {
	case UseDecisionUse:
		return "use"
	case UseDecisionValidate:
		return "validate"
	case UseNoDueToVaryingHeaderMismatch:
		return "no_due_to_varying_header_mismatch"
	case UseNoDueToMissingValidatorFields:
		return "no_due_to_missing_validator_fields"
	case UseNoDueToDecodeFailure:
		return "no_due_to_decode_failure"
	case UseNoDueToExpiredRedirect:
		return "no_due_to_expired_redirect"
	}
	return "unknown"
}

// MakeUseDecision decides how a stored entry applies to a fresh request at
// time now. Decode failures are detected while reading the record and
// reported as UseNoDueToDecodeFailure by the retrieval path.
func MakeUseDecision(entry *Entry, req webres.Request, now time.Time) UseDecision {
	if !webres.VaryingRequestHeadersMatch(entry.VaryingRequestHeaders, req) {
		return UseNoDueToVaryingHeaderMismatch
	}

	if entry.RedirectRequest != nil {
		if entry.HasExpired(now) {
			return UseNoDueToExpiredRedirect
		}
		return UseDecisionUse
	}

	if !entry.NeedsRevalidation(now) {
		return UseDecisionUse
	}
	if !entry.Response.HasCacheValidatorFields() {
		return UseNoDueToMissingValidatorFields
	}
	return UseDecisionValidate
}
