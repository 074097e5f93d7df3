// Package cachekey derives the stable lookup keys the cache engine stores
// records under. A key is a pure function of the request attributes and the
// per-root salt, so the same request always maps to the same on-disk name
// while different installations map it differently.
package cachekey

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Key identifies one logical cache record. Fields are exported for
// serialization; build keys through New so the hash stays consistent.
type Key struct {
	Partition  string `cbor:"1,keyasint"`
	Type       string `cbor:"2,keyasint"`
	Identifier string `cbor:"3,keyasint"`
	Range      string `cbor:"4,keyasint,omitempty"`
	HashValue  string `cbor:"5,keyasint"`
}

// New derives a key from the request attributes, mixing the salt into the
// hash so keys are not portable across storage roots.
func New(salt Salt, partition, recordType, identifier, byteRange string) Key {
	return Key{
		Partition:  partition,
		Type:       recordType,
		Identifier: identifier,
		Range:      byteRange,
		HashValue:  computeHash(salt, partition, recordType, identifier, byteRange),
	}
}

// Hash returns the salted hash in hexadecimal, suitable as a path segment.
func (k Key) Hash() string {
	return k.HashValue
}

// String renders type/hash, the relative location of the record inside a
// storage root.
func (k Key) String() string {
	return k.Type + "/" + k.HashValue
}

// IsZero reports whether the key was never derived.
func (k Key) IsZero() bool {
	return k.HashValue == ""
}

func computeHash(salt Salt, fields ...string) string {
	hasher, err := blake2b.New256(salt[:])
	if err != nil {
		// blake2b only rejects keys longer than 64 bytes; Salt is fixed
		// at 16.
		panic(err)
	}
	for _, field := range fields {
		hasher.Write([]byte(field))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
