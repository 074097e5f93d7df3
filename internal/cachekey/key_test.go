package cachekey

import (
	"testing"

	"github.com/origincache/origincache/internal/storage"
)

func TestKeyDerivationIsDeterministic(t *testing.T) {
	salt := Salt{1, 2, 3}
	a := New(salt, "example.com", "Resource", "https://example.com/a", "")
	b := New(salt, "example.com", "Resource", "https://example.com/a", "")
	if a != b {
		t.Fatalf("same inputs produced different keys: %v vs %v", a, b)
	}
}

func TestKeyDerivationSensitivity(t *testing.T) {
	salt := Salt{1, 2, 3}
	base := New(salt, "example.com", "Resource", "https://example.com/a", "")

	cases := map[string]Key{
		"partition": New(salt, "other.com", "Resource", "https://example.com/a", ""),
		"type":      New(salt, "example.com", "Redirect", "https://example.com/a", ""),
		"url":       New(salt, "example.com", "Resource", "https://example.com/b", ""),
		"range":     New(salt, "example.com", "Resource", "https://example.com/a", "bytes=0-100"),
		"salt":      New(Salt{9}, "example.com", "Resource", "https://example.com/a", ""),
	}
	for name, other := range cases {
		if other.Hash() == base.Hash() {
			t.Fatalf("changing %s should change the hash", name)
		}
	}
}

func TestKeyFieldSeparation(t *testing.T) {
	salt := Salt{}
	// The field separator must keep ("ab","c") distinct from ("a","bc").
	a := New(salt, "ab", "c", "x", "")
	b := New(salt, "a", "bc", "x", "")
	if a.Hash() == b.Hash() {
		t.Fatalf("field boundaries are ambiguous")
	}
}

func TestReadOrMakeSaltPersists(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	first, err := ReadOrMakeSalt(store, "salt")
	if err != nil {
		t.Fatalf("first salt error: %v", err)
	}
	second, err := ReadOrMakeSalt(store, "salt")
	if err != nil {
		t.Fatalf("second salt error: %v", err)
	}
	if first != second {
		t.Fatalf("salt changed between reads")
	}
	if first == (Salt{}) {
		t.Fatalf("salt was not generated")
	}
}

func TestReadOrMakeSaltRejectsCorruptBlob(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	if err := store.Write("salt", []byte("short")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := ReadOrMakeSalt(store, "salt"); err == nil {
		t.Fatalf("corrupt salt should fail")
	}
}
