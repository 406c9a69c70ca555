package distribution

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirSource serves artifacts from a local mirror directory laid out like a
// cache directory.
type DirSource struct {
	root string
}

// NewDirSource creates a source rooted at dir, which must exist.
func NewDirSource(dir string) (*DirSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving mirror directory %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("mirror directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mirror %q is not a directory", abs)
	}
	return &DirSource{root: abs}, nil
}

// Fetch implements Source.Fetch.
func (s *DirSource) Fetch(ctx context.Context, key string) (*Artifact, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewFetchError(s.String(), key, CodeNotFound, "no such file", err)
		}
		return nil, NewFetchError(s.String(), key, CodeUnknown, "open failed", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, NewFetchError(s.String(), key, CodeUnknown, "stat failed", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, NewFetchError(s.String(), key, CodeNotFound, "is a directory", nil)
	}
	return &Artifact{Body: f, Size: info.Size()}, nil
}

func (s *DirSource) String() string {
	return "file://" + filepath.ToSlash(s.root)
}
