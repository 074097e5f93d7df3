package storage

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Info describes a stored blob.
type Info struct {
	SizeBytes int64
	ModTime   time.Time
}

// BlobStore is the generic key→bytes primitive the engine is built on.
// Names are slash-separated paths relative to the storage root. All methods
// are synchronous; asynchrony comes from dispatching calls on the owning
// root's SerialQueue.
type BlobStore interface {
	// Read returns the full blob contents, or ErrNotFound.
	Read(name string) ([]byte, error)

	// Write replaces the blob atomically via temp file + rename, creating
	// parent directories as needed. Readers never observe partial writes.
	Write(name string, data []byte) error

	// Remove deletes one blob. Removing a missing blob is not an error.
	Remove(name string) error

	// RemoveRecursively deletes a whole subtree.
	RemoveRecursively(name string) error

	// List returns the child names under a directory name, or nil when the
	// directory does not exist.
	List(name string) ([]string, error)

	// Stat reports size and modification time, or ErrNotFound.
	Stat(name string) (Info, error)

	// Touch updates the blob's modification time, used for access tracking.
	Touch(name string, t time.Time) error
}

// NewFileStore builds a filesystem-backed BlobStore rooted at basePath,
// creating the directory if necessary.
func NewFileStore(basePath string) (BlobStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, ioFailure("resolve storage path", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, ioFailure("create storage path", err)
	}

	return &fileStore{basePath: abs}, nil
}

type fileStore struct {
	basePath string
}

func (s *fileStore) Read(name string) ([]byte, error) {
	filePath, err := s.blobPath(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, ioFailure("stat", err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, ioFailure("read", err)
	}
	return data, nil
}

func (s *fileStore) Write(name string, data []byte) error {
	filePath, err := s.blobPath(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return ioFailure("create blob directory", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".blob-*")
	if err != nil {
		return ioFailure("create temp file", err)
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return ioFailure("write temp file", writeErr)
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return ioFailure("commit blob", err)
	}
	return nil
}

func (s *fileStore) Remove(name string) error {
	filePath, err := s.blobPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioFailure("remove", err)
	}
	return nil
}

func (s *fileStore) RemoveRecursively(name string) error {
	filePath, err := s.blobPath(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filePath); err != nil {
		return ioFailure("remove recursively", err)
	}
	return nil
}

func (s *fileStore) List(name string) ([]string, error) {
	filePath, err := s.blobPath(name)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, ioFailure("list", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *fileStore) Stat(name string) (Info, error) {
	filePath, err := s.blobPath(name)
	if err != nil {
		return Info{}, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotFound
		}
		return Info{}, ioFailure("stat", err)
	}
	return Info{SizeBytes: info.Size(), ModTime: info.ModTime()}, nil
}

func (s *fileStore) Touch(name string, t time.Time) error {
	filePath, err := s.blobPath(name)
	if err != nil {
		return err
	}
	if err := os.Chtimes(filePath, t, t); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return ioFailure("touch", err)
	}
	return nil
}

// blobPath maps a blob name onto an absolute path, rejecting names that
// would escape the storage root.
func (s *fileStore) blobPath(name string) (string, error) {
	rel := path.Clean("/" + name)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return s.basePath, nil
	}

	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", errors.New("invalid blob name")
	}
	return filePath, nil
}
