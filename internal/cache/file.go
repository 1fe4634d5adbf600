package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File implements TokenCache with one JSON file per key inside a directory.
// Records are replaced atomically (write to a temporary file, fsync, rename)
// so a reader never observes a partially written record. File applies no
// expiry of its own: records carry their own timestamps.
type File[T any] struct {
	dir string
}

// NewFile creates a file-backed cache rooted at dir. The directory is created
// on first write if it does not exist.
func NewFile[T any](dir string) (*File[T], error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}

	return &File[T]{dir: dir}, nil
}

// Get reads the record stored under key. A missing file is reported as not
// found; an unreadable or unparseable file is an error.
func (f *File[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	path, err := f.path(key)
	if err != nil {
		return zero, false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("reading cache record: %w", err)
	}

	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		return zero, false, fmt.Errorf("parsing cache record %s: %w", path, err)
	}

	return record, true, nil
}

// Set atomically replaces the record stored under key.
func (f *File[T]) Set(ctx context.Context, key string, token T) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache record: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	// A unique temporary name keeps concurrent writers from truncating each
	// other's partial output; the last rename wins.
	file, err := os.CreateTemp(f.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary cache file: %w", err)
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary cache file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary cache file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary cache file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming cache file into place: %w", err)
	}

	parentDirectory, err := os.Open(f.dir)
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// Invalidate removes the record stored under key. Removing an absent record
// is not an error.
func (f *File[T]) Invalidate(ctx context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing cache record: %w", err)
	}
	return nil
}

// Close is a no-op for the file cache.
func (f *File[T]) Close() error {
	return nil
}

func (f *File[T]) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}
