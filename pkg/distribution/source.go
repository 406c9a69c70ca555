// Package distribution fetches model artifacts from remote sources: plain
// HTTP servers, OCI registries and local mirror directories.
package distribution

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Source fetches artifacts by key. A key is the relative, slash-separated
// storage path of an artifact, e.g. "models/onnx/cv/resnet/resnet50.onnx".
type Source interface {
	// Fetch opens the artifact stored under key. The caller must close the
	// returned body.
	Fetch(ctx context.Context, key string) (*Artifact, error)
	// String describes the source for logs.
	String() string
}

// Artifact is an open artifact stream.
type Artifact struct {
	// Body is the artifact content.
	Body io.ReadCloser
	// Size is the content length, or -1 if unknown.
	Size int64
	// Digest is the expected content digest, or empty if unknown.
	Digest digest.Digest
}

// ValidateKey checks that key is a clean relative path that stays below the
// source root.
func ValidateKey(key string) error {
	if key == "" {
		return NewKeyError(key, fmt.Errorf("empty key"))
	}
	if strings.Contains(key, "\\") {
		return NewKeyError(key, fmt.Errorf("key must use forward slashes"))
	}
	if path.IsAbs(key) || path.Clean(key) != key {
		return NewKeyError(key, fmt.Errorf("key is not a clean relative path"))
	}
	if key == ".." || strings.HasPrefix(key, "../") {
		return NewKeyError(key, fmt.Errorf("key escapes the source root"))
	}
	return nil
}
