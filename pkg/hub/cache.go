package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/docker/model-zoo/pkg/distribution"
	"github.com/docker/model-zoo/pkg/inference/models"
	"github.com/docker/model-zoo/pkg/metrics"
)

// incompleteSuffix marks temporary download files. Paths carrying it are
// never returned by Resolve.
const incompleteSuffix = ".incomplete"

// lockSuffix marks the per-artifact lock files.
const lockSuffix = ".lock"

// incompletePath returns a unique temporary path next to path.
func incompletePath(path string) string {
	return path + "." + uuid.NewString() + incompleteSuffix
}

// incompleteFile is the temporary file a download streams into.
type incompleteFile interface {
	io.Writer
	Sync() error
	Close() error
}

// createIncomplete creates the temporary file at path. It fails if the file
// exists.
var createIncomplete = func(path string) (incompleteFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// sweepIncomplete removes temporary files left next to path by downloads
// that died without cleaning up. The caller must hold the lock on path.
func (h *Hub) sweepIncomplete(path string) {
	dir, prefix := filepath.Dir(path), filepath.Base(path)+"."
	entries, err := os.ReadDir(dir)
	if err != nil {
		h.log.Warnf("Listing %s for stale downloads: %v", dir, err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, incompleteSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.log.Warnf("Removing stale download %s: %v", name, err)
			continue
		}
		h.log.Debugf("Removed stale download %s", name)
	}
}

// isFile reports whether path exists and is a regular file.
func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// sourceReader remembers errors returned by the remote body so they can be
// told apart from cache write errors.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(b []byte) (int, error) {
	n, err := s.r.Read(b)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// download fetches d's artifact and commits it at path. It holds the lock on
// path for the whole transfer and returns early if another process committed
// the artifact in the meantime.
func (h *Hub) download(ctx context.Context, d *models.Descriptor, path string, progress io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &CacheWriteFailedError{Path: filepath.Dir(path), Err: err}
	}
	lock, err := lockFile(ctx, path+lockSuffix)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &CacheWriteFailedError{Path: path + lockSuffix, Err: err}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			h.log.Warnf("Releasing lock on %s: %v", path, err)
		}
	}()

	if ok, err := isFile(path); err != nil {
		return &CacheWriteFailedError{Path: path, Err: err}
	} else if ok {
		h.log.Debugf("%s was committed by another process", d.Name())
		return nil
	}
	h.sweepIncomplete(path)

	unavailable := func(err error) error {
		h.metrics.Inc(metrics.FetchFailures, d.Name())
		return &ArtifactUnavailableError{Model: d.Name(), Key: d.RelativePath(), Source: h.source.String(), Err: err}
	}

	h.log.Infof("Downloading %s from %s", d.RelativePath(), h.source)
	artifact, err := h.source.Fetch(ctx, d.RelativePath())
	if err != nil {
		return unavailable(err)
	}
	defer artifact.Body.Close()

	reporter := distribution.NewReporter(h.log, progress, d.RelativePath(), artifact.Size)
	n, err := h.commit(path, artifact, reporter)
	if err != nil {
		var cw *CacheWriteFailedError
		if !errors.As(err, &cw) {
			err = unavailable(err)
		}
		return err
	}
	h.log.Infof("Downloaded %s (%s)", d.RelativePath(), units.HumanSize(float64(n)))
	h.metrics.Inc(metrics.Downloads, d.Name())
	h.metrics.Add(metrics.DownloadedBytes, d.Name(), float64(n))
	return nil
}

// commit streams artifact into a temporary file, verifies it, and renames it
// to path. The temporary file is removed on every failure. Errors other than
// *CacheWriteFailedError are remote failures.
func (h *Hub) commit(path string, artifact *distribution.Artifact, reporter *distribution.Reporter) (int64, error) {
	var verifier io.Writer = io.Discard
	var verify func() bool
	if artifact.Digest != "" {
		if err := artifact.Digest.Validate(); err != nil {
			return 0, fmt.Errorf("remote digest %q: %w", artifact.Digest, err)
		}
		v := artifact.Digest.Verifier()
		verifier, verify = v, v.Verified
	}

	tmp := incompletePath(path)
	f, err := createIncomplete(tmp)
	if err != nil {
		return 0, &CacheWriteFailedError{Path: tmp, Err: err}
	}
	defer os.Remove(tmp)
	defer f.Close()

	src := &sourceReader{r: artifact.Body}
	n, err := io.Copy(io.MultiWriter(f, verifier), distribution.NewProgressReader(src, reporter))
	if err != nil {
		if src.err != nil {
			return n, fmt.Errorf("reading artifact: %w", src.err)
		}
		return n, &CacheWriteFailedError{Path: tmp, Err: err}
	}
	if artifact.Size >= 0 && n != artifact.Size {
		return n, fmt.Errorf("truncated artifact: got %d of %d bytes", n, artifact.Size)
	}
	if verify != nil && !verify() {
		return n, fmt.Errorf("%w: expected %s", distribution.ErrDigest, artifact.Digest)
	}
	if err := f.Sync(); err != nil {
		return n, &CacheWriteFailedError{Path: tmp, Err: err}
	}
	f.Close() // Rename will fail on Windows if the file is still open.
	if err := os.Rename(tmp, path); err != nil {
		return n, &CacheWriteFailedError{Path: path, Err: err}
	}
	return n, nil
}
