package hub

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/model-zoo/pkg/distribution"
	"github.com/docker/model-zoo/pkg/inference"
	"github.com/docker/model-zoo/pkg/inference/models"
	"github.com/docker/model-zoo/pkg/metrics"
	"github.com/docker/model-zoo/pkg/tensor"
)

func createTestLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeSource serves artifacts from memory and counts fetches.
type fakeSource struct {
	mu        sync.Mutex
	artifacts map[string][]byte
	digests   map[string]digest.Digest
	sizes     map[string]int64
	failRead  map[string]bool
	delay     time.Duration
	fetches   atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		artifacts: make(map[string][]byte),
		digests:   make(map[string]digest.Digest),
		sizes:     make(map[string]int64),
		failRead:  make(map[string]bool),
	}
}

func (s *fakeSource) add(d *models.Descriptor, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[d.RelativePath()] = []byte(content)
	s.digests[d.RelativePath()] = digest.FromString(content)
}

// brokenReader returns half of its content, then an error.
type brokenReader struct {
	r io.Reader
}

func (b *brokenReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF || n == 0 {
		return n, errors.New("connection reset by peer")
	}
	return n, err
}

func (s *fakeSource) Fetch(ctx context.Context, key string) (*distribution.Artifact, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.artifacts[key]
	if !ok {
		return nil, distribution.NewFetchError(s.String(), key, distribution.CodeNotFound, "missing", nil)
	}
	var body io.Reader = strings.NewReader(string(content))
	if s.failRead[key] {
		body = &brokenReader{r: strings.NewReader(string(content[:len(content)/2]))}
	}
	size := int64(len(content))
	if override, ok := s.sizes[key]; ok {
		size = override
	}
	return &distribution.Artifact{Body: io.NopCloser(body), Size: size, Digest: s.digests[key]}, nil
}

func (s *fakeSource) String() string {
	return "fake"
}

type fakeSession struct {
	shape  tensor.Shape
	closed *atomic.Int32
}

func (s *fakeSession) Signature() inference.Signature {
	return inference.Signature{InputName: "input", InputShape: s.shape, OutputNames: []string{"output"}}
}

func (s *fakeSession) Run(inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	return map[string]*tensor.Tensor{"output": inputs["input"]}, nil
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeEngine accepts artifacts that start with "onnx".
type fakeEngine struct {
	opened atomic.Int32
	closed atomic.Int32
}

func (e *fakeEngine) Name() string {
	return "fake"
}

func (e *fakeEngine) OpenSession(artifact []byte) (inference.Session, error) {
	if !strings.HasPrefix(string(artifact), "onnx") {
		return nil, errors.New("not an onnx model")
	}
	e.opened.Add(1)
	return &fakeSession{shape: tensor.Shape{tensor.Unspecified, tensor.Unspecified, 3}, closed: &e.closed}, nil
}

func newTestHub(t *testing.T, source distribution.Source) (*Hub, *fakeEngine, *metrics.Collector) {
	t.Helper()
	engine := &fakeEngine{}
	collector := metrics.NewCollector(nil)
	h, err := New(Options{
		CacheDir: t.TempDir(),
		Source:   source,
		Engine:   engine,
		Logger:   createTestLogger(),
		Metrics:  collector,
	})
	require.NoError(t, err)
	return h, engine, collector
}

// leftovers lists temporary download files under dir.
func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	var found []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasSuffix(path, incompleteSuffix) {
			found = append(found, path)
		}
		return nil
	})
	require.NoError(t, err)
	return found
}

func TestNewRejectsUnwritableCache(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(Options{CacheDir: filepath.Join(file, "cache")})
	assert.ErrorIs(t, err, ErrCacheWriteFailed)
	var cw *CacheWriteFailedError
	require.ErrorAs(t, err, &cw)

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestResolveUsesCache(t *testing.T) {
	source := newFakeSource()
	source.add(models.ResNet50, "onnx resnet50")
	h, _, collector := newTestHub(t, source)

	path, err := h.Resolve(context.Background(), models.ResNet50)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.CacheDir(), "models", "onnx", "cv", "resnet", "resnet50.onnx"), path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onnx resnet50", string(content))

	again, err := h.Resolve(context.Background(), models.ResNet50)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), source.fetches.Load())

	assert.Equal(t, float64(1), collector.Value(metrics.CacheMisses, "ResNet50"))
	assert.Equal(t, float64(1), collector.Value(metrics.CacheHits, "ResNet50"))
	assert.Equal(t, float64(1), collector.Value(metrics.Downloads, "ResNet50"))
	assert.Equal(t, float64(len("onnx resnet50")), collector.Value(metrics.DownloadedBytes, "ResNet50"))
}

func TestLoadModelTwiceFetchesOnce(t *testing.T) {
	source := newFakeSource()
	source.add(models.ResNet50Custom, "onnx resnet50 notop")
	h, engine, collector := newTestHub(t, source)

	a, err := h.LoadModel(context.Background(), models.ResNet50Custom)
	require.NoError(t, err)
	b, err := h.LoadModel(context.Background(), models.ResNet50Custom)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, int32(1), source.fetches.Load())
	assert.Equal(t, int32(2), engine.opened.Load())
	assert.Equal(t, float64(2), collector.Value(metrics.ModelsLoaded, "ResNet50Custom"))

	require.NoError(t, a.Reshape(tensor.Shape{224, 224, 3}))
	shape, err := b.InputShape()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{tensor.Unspecified, tensor.Unspecified, 3}, shape)

	require.NoError(t, a.Release())
	require.NoError(t, b.Release())
	assert.Equal(t, int32(2), engine.closed.Load())
}

func TestConcurrentResolveFetchesOnce(t *testing.T) {
	source := newFakeSource()
	source.add(models.VGG16, "onnx vgg16")
	source.delay = 50 * time.Millisecond
	h, _, _ := newTestHub(t, source)

	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = h.Resolve(context.Background(), models.VGG16)
		}(i)
	}
	wg.Wait()
	for i := range paths {
		require.NoError(t, errs[i])
		assert.Equal(t, h.Path(models.VGG16), paths[i])
	}
	assert.Equal(t, int32(1), source.fetches.Load())
	assert.Empty(t, leftovers(t, h.CacheDir()))
}

func TestTwoHubsShareCache(t *testing.T) {
	source := newFakeSource()
	source.add(models.MobileNet, "onnx mobilenet")
	source.delay = 20 * time.Millisecond
	dir := t.TempDir()
	first, err := New(Options{CacheDir: dir, Source: source})
	require.NoError(t, err)
	second, err := New(Options{CacheDir: dir, Source: source})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, h := range []*Hub{first, second} {
		wg.Add(1)
		go func(h *Hub) {
			defer wg.Done()
			_, err := h.Resolve(context.Background(), models.MobileNet)
			assert.NoError(t, err)
		}(h)
	}
	wg.Wait()
	assert.LessOrEqual(t, source.fetches.Load(), int32(2))
	content, err := os.ReadFile(first.Path(models.MobileNet))
	require.NoError(t, err)
	assert.Equal(t, "onnx mobilenet", string(content))
}

func TestFailedFetchLeavesNoPartialFile(t *testing.T) {
	source := newFakeSource()
	source.add(models.DenseNet121, "onnx densenet121 weights")
	source.failRead[models.DenseNet121.RelativePath()] = true
	h, _, collector := newTestHub(t, source)

	_, err := h.Resolve(context.Background(), models.DenseNet121)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoFileExists(t, h.Path(models.DenseNet121))
	assert.Empty(t, leftovers(t, h.CacheDir()))
	assert.Equal(t, float64(1), collector.Value(metrics.FetchFailures, "DenseNet121"))

	// The hub stays usable and a later fetch succeeds.
	source.failRead[models.DenseNet121.RelativePath()] = false
	path, err := h.Resolve(context.Background(), models.DenseNet121)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestDigestMismatch(t *testing.T) {
	source := newFakeSource()
	source.add(models.Xception, "onnx xception")
	source.digests[models.Xception.RelativePath()] = digest.FromString("something else")
	h, _, _ := newTestHub(t, source)

	_, err := h.Resolve(context.Background(), models.Xception)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
	assert.ErrorIs(t, err, distribution.ErrDigest)
	assert.NoFileExists(t, h.Path(models.Xception))
	assert.Empty(t, leftovers(t, h.CacheDir()))
}

func TestTruncatedArtifact(t *testing.T) {
	source := newFakeSource()
	source.add(models.SSD, "onnx ssd")
	source.sizes[models.SSD.RelativePath()] = 1 << 20
	h, _, _ := newTestHub(t, source)

	_, err := h.Resolve(context.Background(), models.SSD)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
	assert.Contains(t, err.Error(), "truncated")
	assert.NoFileExists(t, h.Path(models.SSD))
}

func TestArtifactNotFound(t *testing.T) {
	h, _, _ := newTestHub(t, newFakeSource())
	_, err := h.LoadModel(context.Background(), models.Fan2D106)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
	assert.ErrorIs(t, err, distribution.ErrNotFound)
	var au *ArtifactUnavailableError
	require.ErrorAs(t, err, &au)
	assert.Equal(t, "Fan2D106", au.Model)
	assert.Equal(t, models.Fan2D106.RelativePath(), au.Key)
}

func TestWithoutSourceServesCacheOnly(t *testing.T) {
	dir := t.TempDir()
	h, err := New(Options{CacheDir: dir})
	require.NoError(t, err)
	_, err = h.Resolve(context.Background(), models.VGG19)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)

	path := h.Path(models.VGG19)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))
	resolved, err := h.Resolve(context.Background(), models.VGG19)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
}

func TestLoadModelUnsupportedArtifact(t *testing.T) {
	source := newFakeSource()
	source.add(models.ResNet18, "pytorch pickle")
	h, _, _ := newTestHub(t, source)

	_, err := h.LoadModel(context.Background(), models.ResNet18)
	assert.ErrorIs(t, err, inference.ErrUnsupportedArtifact)
	assert.Contains(t, err.Error(), "not an onnx model")
	assert.FileExists(t, h.Path(models.ResNet18))
}

func TestLoadModelWithoutEngine(t *testing.T) {
	source := newFakeSource()
	source.add(models.ResNet50, "onnx")
	h, err := New(Options{CacheDir: t.TempDir(), Source: source})
	require.NoError(t, err)
	_, err = h.LoadModel(context.Background(), models.ResNet50)
	assert.Error(t, err)
}

func TestWithModelReleases(t *testing.T) {
	source := newFakeSource()
	source.add(models.MobileNetV2, "onnx mobilenetv2")
	h, engine, _ := newTestHub(t, source)

	var held *inference.Model
	err := h.WithModel(context.Background(), models.MobileNetV2, func(m *inference.Model) error {
		held = m
		_, err := m.Predict(tensor.Zeros(4, 4, 3))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, inference.StateReleased, held.State())
	_, err = held.Predict(tensor.Zeros(4, 4, 3))
	assert.ErrorIs(t, err, inference.ErrUseAfterRelease)

	failure := errors.New("postprocessing failed")
	err = h.WithModel(context.Background(), models.MobileNetV2, func(m *inference.Model) error {
		held = m
		return failure
	})
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, inference.StateReleased, held.State())

	assert.Panics(t, func() {
		_ = h.WithModel(context.Background(), models.MobileNetV2, func(m *inference.Model) error {
			held = m
			panic("boom")
		})
	})
	assert.Equal(t, inference.StateReleased, held.State())

	err = h.WithModel(context.Background(), models.MobileNetV2, func(m *inference.Model) error {
		return m.Release()
	})
	assert.NoError(t, err)
	assert.Equal(t, engine.opened.Load(), engine.closed.Load())
}

func TestCachedAndRemove(t *testing.T) {
	source := newFakeSource()
	source.add(models.ResNet50, "onnx resnet50")
	source.add(models.UltraFace320, "onnx ultraface")
	h, _, _ := newTestHub(t, source)

	cached, err := h.Cached()
	require.NoError(t, err)
	assert.Empty(t, cached)

	for _, d := range []*models.Descriptor{models.UltraFace320, models.ResNet50} {
		_, err := h.Resolve(context.Background(), d)
		require.NoError(t, err)
	}
	cached, err = h.Cached()
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Same(t, models.ResNet50, cached[0].Descriptor)
	assert.Same(t, models.UltraFace320, cached[1].Descriptor)
	assert.Equal(t, int64(len("onnx ultraface")), cached[1].Size)

	require.NoError(t, h.Remove(models.ResNet50))
	assert.NoFileExists(t, h.Path(models.ResNet50))
	assert.ErrorIs(t, h.Remove(models.ResNet50), ErrNotCached)

	_, err = h.Resolve(context.Background(), models.ResNet50)
	require.NoError(t, err)
	assert.Equal(t, int32(3), source.fetches.Load())
}

func TestFileLockExcludes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.lock")
	first, err := lockFile(context.Background(), path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lockFile(ctx, path)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Unlock())
	second, err := lockFile(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
	assert.NoError(t, second.Unlock())
}

// waiting returns the number of callers waiting on path's download.
func waiting(h *Hub, path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.flights[path]; ok {
		return f.waiters
	}
	return 0
}

func TestCancelledCallerDoesNotFailSharedDownload(t *testing.T) {
	source := newFakeSource()
	source.add(models.ResNet50, "onnx resnet50")
	source.delay = 300 * time.Millisecond
	h, _, _ := newTestHub(t, source)
	path := h.Path(models.ResNet50)

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.Resolve(firstCtx, models.ResNet50)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return source.fetches.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		path string
		err  error
	}
	second := make(chan result, 1)
	go func() {
		p, err := h.Resolve(context.Background(), models.ResNet50)
		second <- result{p, err}
	}()
	require.Eventually(t, func() bool { return waiting(h, path) == 2 }, time.Second, time.Millisecond)

	cancel()
	err := <-firstErr
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrArtifactUnavailable)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, path, res.path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onnx resnet50", string(content))
	assert.Equal(t, int32(1), source.fetches.Load())
	assert.Empty(t, leftovers(t, h.CacheDir()))
	assert.Zero(t, waiting(h, path))
}

func TestAbandonedDownloadIsCancelled(t *testing.T) {
	source := newFakeSource()
	source.add(models.VGG19, "onnx vgg19")
	source.delay = 5 * time.Second
	h, _, collector := newTestHub(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.Resolve(ctx, models.VGG19)
		done <- err
	}()
	require.Eventually(t, func() bool { return source.fetches.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// With nobody waiting the transfer stops well before the source delay.
	require.Eventually(t, func() bool {
		return collector.Value(metrics.FetchFailures, "VGG19") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.NoFileExists(t, h.Path(models.VGG19))

	source.delay = 0
	path, err := h.Resolve(context.Background(), models.VGG19)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, int32(2), source.fetches.Load())
}

func TestResolveCacheWriteFailed(t *testing.T) {
	source := newFakeSource()
	source.add(models.ResNet50, "onnx resnet50")
	h, _, _ := newTestHub(t, source)

	blocker := filepath.Join(h.CacheDir(), "models")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	_, err := h.Resolve(context.Background(), models.ResNet50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheWriteFailed)
	assert.NotErrorIs(t, err, ErrArtifactUnavailable)
	var cw *CacheWriteFailedError
	require.ErrorAs(t, err, &cw)
	assert.Zero(t, source.fetches.Load())

	_, err = h.LoadModel(context.Background(), models.ResNet50)
	assert.ErrorIs(t, err, ErrCacheWriteFailed)

	// The hub stays usable once the filesystem recovers.
	require.NoError(t, os.Remove(blocker))
	path, err := h.Resolve(context.Background(), models.ResNet50)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

// shortFile accepts limit bytes, then fails every write.
type shortFile struct {
	*os.File
	limit int
}

func (f *shortFile) Write(b []byte) (int, error) {
	if len(b) > f.limit {
		n, _ := f.File.Write(b[:f.limit])
		f.limit = 0
		return n, errors.New("no space left on device")
	}
	f.limit -= len(b)
	return f.File.Write(b)
}

func TestWriteFailureDuringCopy(t *testing.T) {
	source := newFakeSource()
	source.add(models.InceptionV3, "onnx inceptionv3 weights")
	h, _, collector := newTestHub(t, source)

	create := createIncomplete
	t.Cleanup(func() { createIncomplete = create })
	createIncomplete = func(path string) (incompleteFile, error) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return &shortFile{File: f, limit: 4}, nil
	}

	_, err := h.Resolve(context.Background(), models.InceptionV3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheWriteFailed)
	assert.NotErrorIs(t, err, ErrArtifactUnavailable)
	assert.Contains(t, err.Error(), "no space left on device")
	assert.Equal(t, int32(1), source.fetches.Load())
	assert.Zero(t, collector.Value(metrics.FetchFailures, "InceptionV3"))
	assert.NoFileExists(t, h.Path(models.InceptionV3))
	assert.Empty(t, leftovers(t, h.CacheDir()))

	createIncomplete = create
	path, err := h.Resolve(context.Background(), models.InceptionV3)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onnx inceptionv3 weights", string(content))
}

func TestResolveSweepsStaleDownloads(t *testing.T) {
	source := newFakeSource()
	source.add(models.ResNet50, "onnx resnet50")
	h, _, _ := newTestHub(t, source)

	path := h.Path(models.ResNet50)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	stale := path + ".3f1c2a.incomplete"
	require.NoError(t, os.WriteFile(stale, []byte("onnx res"), 0o644))
	other := h.Path(models.ResNet101) + ".9b7e.incomplete"
	require.NoError(t, os.WriteFile(other, []byte("onnx"), 0o644))

	_, err := h.Resolve(context.Background(), models.ResNet50)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.Equal(t, []string{other}, leftovers(t, h.CacheDir()))
}
