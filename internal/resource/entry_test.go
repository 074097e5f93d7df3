package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/origincache/origincache/internal/cachekey"
	"github.com/origincache/origincache/internal/storage"
	"github.com/origincache/origincache/internal/webres"
)

func TestEntryEncodeDecode(t *testing.T) {
	resp := webres.Response{Status: 200, Headers: webres.Headers{}}
	resp.Headers.Set("Etag", `"v1"`)
	resp.Headers.Set("Cache-Control", "max-age=60")

	entry := &Entry{
		Key:       cachekey.New(cachekey.Salt{1}, "example.com", "Resource", "https://example.com/a", ""),
		Timestamp: time.Now().Truncate(time.Microsecond),
		Response:  resp,
		VaryingRequestHeaders: []webres.VaryEntry{
			{Name: "Accept-Encoding", Value: "gzip"},
		},
		Body:      []byte("hello"),
		MaxAgeCap: 30 * time.Second,
	}

	data, err := entry.Encode()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	decoded, err := DecodeEntry(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if decoded.Key != entry.Key {
		t.Fatalf("key mismatch: %+v", decoded.Key)
	}
	if !decoded.Timestamp.Equal(entry.Timestamp) {
		t.Fatalf("timestamp mismatch: %v vs %v", decoded.Timestamp, entry.Timestamp)
	}
	if string(decoded.Body) != "hello" {
		t.Fatalf("body mismatch: %q", decoded.Body)
	}
	if decoded.Response.Headers.Get("Etag") != `"v1"` {
		t.Fatalf("headers lost: %+v", decoded.Response.Headers)
	}
	if decoded.MaxAgeCap != 30*time.Second {
		t.Fatalf("max age cap mismatch: %v", decoded.MaxAgeCap)
	}
}

func TestDecodeEntryRejectsGarbage(t *testing.T) {
	if _, err := DecodeEntry([]byte("not cbor at all")); !errors.Is(err, storage.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestDecodeEntryRejectsKeylessRecord(t *testing.T) {
	entry := &Entry{Timestamp: time.Now(), Response: webres.Response{Status: 200}}
	data, err := entry.Encode()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if _, err := DecodeEntry(data); !errors.Is(err, storage.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for keyless record, got %v", err)
	}
}

func TestEntryMaxAgeCapLowersLifetime(t *testing.T) {
	resp := webres.Response{Status: 200, Headers: webres.Headers{}}
	resp.Headers.Set("Cache-Control", "max-age=3600")
	entry := &Entry{Timestamp: time.Now(), Response: resp, MaxAgeCap: time.Minute}

	if entry.NeedsRevalidation(entry.Timestamp.Add(30 * time.Second)) {
		t.Fatalf("entry inside cap should be fresh")
	}
	if !entry.NeedsRevalidation(entry.Timestamp.Add(2 * time.Minute)) {
		t.Fatalf("cap should lower the lifetime")
	}
}

func TestEntryMaxAgeCapNeverRaisesLifetime(t *testing.T) {
	resp := webres.Response{Status: 200, Headers: webres.Headers{}}
	resp.Headers.Set("Cache-Control", "max-age=10")
	entry := &Entry{Timestamp: time.Now(), Response: resp, MaxAgeCap: time.Hour}

	if !entry.NeedsRevalidation(entry.Timestamp.Add(time.Minute)) {
		t.Fatalf("cap must not extend the response's own lifetime")
	}
}
