// Package hub resolves model descriptors to artifacts in a local cache and
// constructs inference models on them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/docker/model-zoo/pkg/distribution"
	"github.com/docker/model-zoo/pkg/inference"
	"github.com/docker/model-zoo/pkg/inference/models"
	"github.com/docker/model-zoo/pkg/logging"
	"github.com/docker/model-zoo/pkg/metrics"
)

// Options configures a Hub.
type Options struct {
	// CacheDir is the cache directory. It is created if missing.
	CacheDir string
	// Source fetches artifacts missing from the cache. Without a source the
	// hub only serves cached artifacts.
	Source distribution.Source
	// Engine opens inference sessions. It is only required by LoadModel.
	Engine inference.Engine
	// Logger is the logger. It defaults to a discarding logger.
	Logger logging.Logger
	// Metrics receives hub counters. It may be nil.
	Metrics *metrics.Collector
}

// Hub is a factory for inference models backed by a download cache. It holds
// no model instances.
type Hub struct {
	// log is the associated logger.
	log logging.Logger
	// cacheDir is the absolute cache directory.
	cacheDir string
	// source fetches missing artifacts.
	source distribution.Source
	// engine opens sessions.
	engine inference.Engine
	// metrics receives counters.
	metrics *metrics.Collector
	// downloads collapses concurrent downloads of the same path.
	downloads singleflight.Group

	// mu guards flights and generation.
	mu sync.Mutex
	// flights tracks the callers waiting on each in-progress download.
	flights map[string]*flight
	// generation numbers flights so an abandoned download is never joined.
	generation uint64
}

// New creates a hub over opts.CacheDir after checking that it is writable.
func New(opts Options) (*Hub, error) {
	if opts.CacheDir == "" {
		return nil, errors.New("no cache directory configured")
	}
	dir, err := filepath.Abs(opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &CacheWriteFailedError{Path: dir, Err: err}
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, &CacheWriteFailedError{Path: dir, Err: err}
	}
	probe.Close()
	os.Remove(probe.Name())

	source := opts.Source
	if source == nil {
		source = noSource{}
	}
	return &Hub{
		log:      logging.Component(opts.Logger, "hub"),
		cacheDir: dir,
		source:   source,
		engine:   opts.Engine,
		metrics:  opts.Metrics,
		flights:  make(map[string]*flight),
	}, nil
}

// CacheDir returns the absolute cache directory.
func (h *Hub) CacheDir() string {
	return h.cacheDir
}

// Source returns the remote source.
func (h *Hub) Source() distribution.Source {
	return h.source
}

// Path returns the cache path of d's artifact, whether or not it exists.
func (h *Hub) Path(d *models.Descriptor) string {
	return filepath.Join(h.cacheDir, filepath.FromSlash(d.RelativePath()))
}

// Resolve returns the cache path of d's artifact, downloading it first if it
// is not cached.
func (h *Hub) Resolve(ctx context.Context, d *models.Descriptor) (string, error) {
	return h.Pull(ctx, d, nil)
}

// Pull is Resolve with download progress written to w as newline-delimited
// JSON messages. Progress is only written by the caller that starts the
// download; concurrent callers for the same descriptor share it.
//
// A shared download does not depend on any one caller's context. A caller
// whose ctx ends stops waiting and gets ctx.Err(); the transfer is cancelled
// only once every caller has stopped waiting.
func (h *Hub) Pull(ctx context.Context, d *models.Descriptor, w io.Writer) (string, error) {
	if d == nil {
		return "", errors.New("no model descriptor")
	}
	path := h.Path(d)
	if ok, err := isFile(path); err != nil {
		return "", &CacheWriteFailedError{Path: path, Err: err}
	} else if ok {
		h.metrics.Inc(metrics.CacheHits, d.Name())
		h.log.Debugf("Cache hit for %s", d.Name())
		return path, nil
	}
	h.metrics.Inc(metrics.CacheMisses, d.Name())

	f := h.join(ctx, path)
	defer h.leave(path, f)

	var progress io.Writer
	if w != nil {
		dw := &detachableWriter{w: w}
		defer dw.detach()
		progress = dw
	}
	results := h.downloads.DoChan(f.key, func() (any, error) {
		return nil, h.download(f.ctx, d, path, progress)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			h.log.Debugf("Shared download of %s", d.Name())
		}
		return path, nil
	case <-ctx.Done():
		h.log.Debugf("Stopped waiting for %s: %v", d.Name(), ctx.Err())
		return "", ctx.Err()
	}
}

// flight is one download of a path and the callers waiting on it.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers a caller for path's current download, starting a new flight
// if there is none. The flight's context keeps ctx's values but not its
// cancellation.
func (h *Hub) join(ctx context.Context, path string) *flight {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.flights[path]
	if !ok {
		h.generation++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			key:    fmt.Sprintf("%s#%d", path, h.generation),
			ctx:    fctx,
			cancel: cancel,
		}
		h.flights[path] = f
	}
	f.waiters++
	return f
}

// leave unregisters a caller. The last caller to leave ends the flight and
// cancels its transfer if it is still running.
func (h *Hub) leave(path string, f *flight) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if h.flights[path] == f {
		delete(h.flights, path)
	}
	f.cancel()
}

// detachableWriter forwards to w until detached, then discards. It keeps a
// download started by a caller that stopped waiting from writing to that
// caller's stream.
type detachableWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (d *detachableWriter) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return len(b), nil
	}
	return d.w.Write(b)
}

func (d *detachableWriter) detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w = nil
}

// LoadModel resolves d and opens a new inference model on its artifact. The
// caller owns the model and must release it; see WithModel.
func (h *Hub) LoadModel(ctx context.Context, d *models.Descriptor) (*inference.Model, error) {
	path, err := h.Resolve(ctx, d)
	if err != nil {
		return nil, err
	}
	m, err := inference.Open(h.log.WithField("model", d.Name()), h.engine, path)
	if err != nil {
		return nil, err
	}
	h.metrics.Inc(metrics.ModelsLoaded, d.Name())
	return m, nil
}

// WithModel loads d, calls fn with the model and releases the model when fn
// returns or panics. A release failure is joined with fn's error.
func (h *Hub) WithModel(ctx context.Context, d *models.Descriptor, fn func(*inference.Model) error) (err error) {
	m, err := h.LoadModel(ctx, d)
	if err != nil {
		return err
	}
	defer func() {
		if m.State() == inference.StateReleased {
			return
		}
		if rerr := m.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("releasing %s: %w", d.Name(), rerr))
		}
	}()
	return fn(m)
}

// CachedModel is a descriptor whose artifact is in the cache.
type CachedModel struct {
	Descriptor *models.Descriptor
	Path       string
	Size       int64
	ModTime    time.Time
}

// Cached lists the catalog entries whose artifacts are cached, in catalog
// order.
func (h *Hub) Cached() ([]CachedModel, error) {
	var cached []CachedModel
	for _, d := range models.All() {
		path := h.Path(d)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("checking %s: %w", d.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		cached = append(cached, CachedModel{
			Descriptor: d,
			Path:       path,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
		})
	}
	return cached, nil
}

// Remove deletes d's cached artifact.
func (h *Hub) Remove(d *models.Descriptor) error {
	path := h.Path(d)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", d.Name(), ErrNotCached)
		}
		return &CacheWriteFailedError{Path: path, Err: err}
	}
	h.log.Infof("Removed %s", d.Name())
	return nil
}

// noSource is used when the hub has no remote source.
type noSource struct{}

func (noSource) Fetch(_ context.Context, key string) (*distribution.Artifact, error) {
	return nil, distribution.NewFetchError("none", key, distribution.CodeNotFound, "no remote source configured", nil)
}

func (noSource) String() string {
	return "no remote source"
}
