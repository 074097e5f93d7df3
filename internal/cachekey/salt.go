package cachekey

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/origincache/origincache/internal/storage"
)

// SaltSize is the byte length of a storage root's salt.
const SaltSize = 16

// Salt is the per-root random value mixed into every key derivation.
type Salt [SaltSize]byte

// ReadOrMakeSalt loads the persisted salt blob, generating and persisting a
// fresh one on first use. The salt is written exactly once per root and
// never rewritten afterwards.
func ReadOrMakeSalt(store storage.BlobStore, name string) (Salt, error) {
	var salt Salt

	data, err := store.Read(name)
	if err == nil {
		if len(data) != SaltSize {
			return salt, fmt.Errorf("%w: salt blob has %d bytes", storage.ErrInvalid, len(data))
		}
		copy(salt[:], data)
		return salt, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return salt, err
	}

	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("generate salt: %w", err)
	}
	if err := store.Write(name, salt[:]); err != nil {
		return salt, err
	}
	return salt, nil
}
