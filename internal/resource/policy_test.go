package resource

import (
	"testing"
	"time"

	"github.com/origincache/origincache/internal/cachekey"
	"github.com/origincache/origincache/internal/webres"
)

func testRequest() webres.Request {
	return webres.Request{
		Method:    "GET",
		URL:       "https://example.com/resource",
		Partition: "example.com",
		Headers:   webres.Headers{},
	}
}

func testResponse(status int) webres.Response {
	resp := webres.Response{Status: status, Headers: webres.Headers{}}
	resp.Headers.Set("Cache-Control", "max-age=3600")
	return resp
}

func TestRetrieveDecisionReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*webres.Request)
		want   RetrieveDecision
	}{
		{"plain get", func(r *webres.Request) {}, RetrieveYes},
		{"post", func(r *webres.Request) { r.Method = "POST" }, RetrieveNoDueToHTTPMethod},
		{"head", func(r *webres.Request) { r.Method = "HEAD" }, RetrieveNoDueToHTTPMethod},
		{"conditional", func(r *webres.Request) { r.Headers.Set("If-None-Match", `"x"`) }, RetrieveNoDueToConditionalRequest},
		{"reload", func(r *webres.Request) { r.Policy = webres.ReloadIgnoringCacheData }, RetrieveNoDueToReloadIgnoringCache},
		{"range", func(r *webres.Request) { r.Headers.Set("Range", "bytes=0-100") }, RetrieveNoDueToStreamingMedia},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequest()
			tc.mutate(&req)
			if got := MakeRetrieveDecision(req); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestRetrieveDecisionFirstMatchWins(t *testing.T) {
	// A POST that is also conditional must report the method, the earlier
	// check.
	req := testRequest()
	req.Method = "POST"
	req.Headers.Set("If-None-Match", `"x"`)
	if got := MakeRetrieveDecision(req); got != RetrieveNoDueToHTTPMethod {
		t.Fatalf("expected method reason to win, got %v", got)
	}
}

func TestStoreDecisionReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*webres.Request, *webres.Response)
		want   StoreDecision
	}{
		{"cacheable", func(req *webres.Request, resp *webres.Response) {}, StoreYes},
		{"ftp", func(req *webres.Request, resp *webres.Response) {
			req.URL = "ftp://example.com/file"
		}, StoreNoDueToProtocol},
		{"post", func(req *webres.Request, resp *webres.Response) {
			req.Method = "POST"
		}, StoreNoDueToHTTPMethod},
		{"no-store response", func(req *webres.Request, resp *webres.Response) {
			resp.Headers.Set("Cache-Control", "no-store")
		}, StoreNoDueToNoStoreResponse},
		{"teapot status", func(req *webres.Request, resp *webres.Response) {
			resp.Status = 418
		}, StoreNoDueToHTTPStatusCode},
		{"no-store request", func(req *webres.Request, resp *webres.Response) {
			req.Headers.Set("Cache-Control", "no-store")
		}, StoreNoDueToNoStoreRequest},
		{"unlikely to reuse", func(req *webres.Request, resp *webres.Response) {
			resp.Headers = webres.Headers{}
		}, StoreNoDueToUnlikelyToReuse},
		{"range request", func(req *webres.Request, resp *webres.Response) {
			req.Headers.Set("Range", "bytes=0-100")
		}, StoreNoDueToStreamingMedia},
		{"partial content", func(req *webres.Request, resp *webres.Response) {
			resp.Status = 206
		}, StoreNoDueToHTTPStatusCode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequest()
			resp := testResponse(200)
			tc.mutate(&req, &resp)
			if got := MakeStoreDecision(req, resp); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestStoreDecisionAcceptsFreshRedirect(t *testing.T) {
	req := testRequest()
	resp := testResponse(307)
	if got := MakeStoreDecision(req, resp); got != StoreYes {
		t.Fatalf("redirect with explicit freshness should store, got %v", got)
	}

	stale := webres.Response{Status: 307, Headers: webres.Headers{}}
	if got := MakeStoreDecision(req, stale); got != StoreNoDueToHTTPStatusCode {
		t.Fatalf("redirect without freshness should be rejected, got %v", got)
	}
}

func useTestEntry(t *testing.T) *Entry {
	t.Helper()
	resp := testResponse(200)
	resp.Headers.Set("Etag", `"v1"`)
	return &Entry{
		Key:       cachekey.New(cachekey.Salt{}, "example.com", "Resource", "https://example.com/resource", ""),
		Timestamp: time.Now(),
		Response:  resp,
	}
}

func TestUseDecisionFresh(t *testing.T) {
	entry := useTestEntry(t)
	if got := MakeUseDecision(entry, testRequest(), time.Now()); got != UseDecisionUse {
		t.Fatalf("fresh entry should be usable, got %v", got)
	}
}

func TestUseDecisionValidateWhenStale(t *testing.T) {
	entry := useTestEntry(t)
	stale := entry.Timestamp.Add(2 * time.Hour)
	if got := MakeUseDecision(entry, testRequest(), stale); got != UseDecisionValidate {
		t.Fatalf("stale entry with validators should validate, got %v", got)
	}
}

func TestUseDecisionMissingValidators(t *testing.T) {
	entry := useTestEntry(t)
	entry.Response.Headers = webres.Headers{}
	entry.Response.Headers.Set("Cache-Control", "max-age=3600")
	stale := entry.Timestamp.Add(2 * time.Hour)
	if got := MakeUseDecision(entry, testRequest(), stale); got != UseNoDueToMissingValidatorFields {
		t.Fatalf("expected missing validator reason, got %v", got)
	}
}

func TestUseDecisionVaryMismatch(t *testing.T) {
	entry := useTestEntry(t)
	entry.VaryingRequestHeaders = []webres.VaryEntry{{Name: "Accept-Encoding", Value: "gzip"}}

	req := testRequest()
	req.Headers.Set("Accept-Encoding", "br")
	if got := MakeUseDecision(entry, req, time.Now()); got != UseNoDueToVaryingHeaderMismatch {
		t.Fatalf("expected vary mismatch, got %v", got)
	}
}

func TestUseDecisionExpiredRedirect(t *testing.T) {
	entry := useTestEntry(t)
	redirect := testRequest()
	entry.RedirectRequest = &redirect

	if got := MakeUseDecision(entry, testRequest(), time.Now()); got != UseDecisionUse {
		t.Fatalf("fresh redirect should be usable, got %v", got)
	}

	stale := entry.Timestamp.Add(2 * time.Hour)
	if got := MakeUseDecision(entry, testRequest(), stale); got != UseNoDueToExpiredRedirect {
		t.Fatalf("expected expired redirect reason, got %v", got)
	}
}

func TestUseDecisionNoCacheForcesValidation(t *testing.T) {
	entry := useTestEntry(t)
	entry.Response.Headers.Set("Cache-Control", "no-cache, max-age=3600")
	if got := MakeUseDecision(entry, testRequest(), time.Now()); got != UseDecisionValidate {
		t.Fatalf("no-cache entry should validate, got %v", got)
	}
}
