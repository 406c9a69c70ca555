package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrArtifactUnavailable is matched by *ArtifactUnavailableError.
	ErrArtifactUnavailable = errors.New("artifact unavailable")
	// ErrCacheWriteFailed is matched by *CacheWriteFailedError.
	ErrCacheWriteFailed = errors.New("cache write failed")
	// ErrNotCached is returned when removing an artifact that is not cached.
	ErrNotCached = errors.New("artifact not cached")
)

// ArtifactUnavailableError reports that an artifact is missing from the cache
// and could not be fetched.
type ArtifactUnavailableError struct {
	Model  string
	Key    string
	Source string
	Err    error
}

func (e *ArtifactUnavailableError) Error() string {
	return fmt.Sprintf("artifact %q for %s is unavailable from %s: %v", e.Key, e.Model, e.Source, e.Err)
}

func (e *ArtifactUnavailableError) Unwrap() error {
	return e.Err
}

// Is implements error matching for ArtifactUnavailableError.
func (e *ArtifactUnavailableError) Is(target error) bool {
	return target == ErrArtifactUnavailable
}

// CacheWriteFailedError reports a cache directory that cannot be written.
type CacheWriteFailedError struct {
	Path string
	Err  error
}

func (e *CacheWriteFailedError) Error() string {
	return fmt.Sprintf("cannot write cache path %q: %v", e.Path, e.Err)
}

func (e *CacheWriteFailedError) Unwrap() error {
	return e.Err
}

// Is implements error matching for CacheWriteFailedError.
func (e *CacheWriteFailedError) Is(target error) bool {
	return target == ErrCacheWriteFailed
}
