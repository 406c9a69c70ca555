package commands

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/model-zoo/pkg/config"
	"github.com/docker/model-zoo/pkg/hub"
	"github.com/docker/model-zoo/pkg/inference/models"
)

type testEnv struct {
	cache  string
	mirror string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvRemote, "")
	t.Setenv(config.EnvToken, "")
	return testEnv{cache: t.TempDir(), mirror: t.TempDir()}
}

// publish places content in the mirror at d's relative path.
func (e testEnv) publish(t *testing.T, d *models.Descriptor, content string) {
	t.Helper()
	path := filepath.Join(e.mirror, filepath.FromSlash(d.RelativePath()))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// run executes the command line with the environment's cache and mirror.
func (e testEnv) run(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--cache", e.cache, "--remote", e.mirror}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run("version")
	require.NoError(t, err)
	assert.Equal(t, "Model zoo version dev\n", out)
}

func TestListTable(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run("list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(models.All())+1)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, out, "ResNet50")
	assert.Contains(t, out, "bgr/caffe")
}

func TestListTaskAndCached(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, models.UltraFace320, "weights")

	out, _, err := env.run("list", "--task", "face-detection", "--json")
	require.NoError(t, err)
	var statuses []struct {
		Model  map[string]any `json:"model"`
		Cached bool           `json:"cached"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	assert.Len(t, statuses, len(models.ByTask(models.TaskFaceDetection)))

	_, _, err = env.run("pull", "-q", "UltraFace320")
	require.NoError(t, err)

	out, _, err = env.run("ls", "--cached")
	require.NoError(t, err)
	assert.Contains(t, out, "UltraFace320")
	assert.Contains(t, out, "7.00B")
	assert.NotContains(t, out, "ResNet50")

	_, _, err = env.run("list", "--task", "segmentation")
	assert.Error(t, err)
}

func TestPullAndPath(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, models.ResNet50, "resnet")
	env.publish(t, models.EfficientNetB2NoTop, "effnet")

	out, _, err := env.run("path", "ResNet50")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.NoFileExists(t, path)

	out, _, err = env.run("pull", "ResNet50", "EfficientNetB2NoTop")
	require.NoError(t, err)
	assert.Contains(t, out, "ResNet50: "+path)
	assert.Contains(t, out, "EfficientNetB2NoTop: ")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "resnet", string(content))
}

func TestPathResolve(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, models.MobileNetV2, "mobilenet")

	out, _, err := env.run("path", "--resolve", "MobileNetV2")
	require.NoError(t, err)
	assert.FileExists(t, strings.TrimSpace(out))
}

func TestPullFailures(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run("pull", "ResNet50")
	require.Error(t, err)
	assert.ErrorIs(t, err, hub.ErrArtifactUnavailable)

	_, _, err = env.run("pull", "ResNet5")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnknownModel)
	assert.Contains(t, err.Error(), "did you mean")

	_, _, err = env.run("pull")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 argument")
}

func TestInspect(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run("inspect", "EfficientNetB2NoTop")
	require.NoError(t, err)

	var status struct {
		Model struct {
			Name string `json:"name"`
			Base string `json:"base"`
		} `json:"model"`
		Cached bool `json:"cached"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "EfficientNetB2NoTop", status.Model.Name)
	assert.Equal(t, "EfficientNetB2", status.Model.Base)
	assert.False(t, status.Cached)
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, models.ResNet50, "resnet")

	_, _, err := env.run("pull", "-q", "ResNet50")
	require.NoError(t, err)

	out, _, err := env.run("rm", "ResNet50")
	require.NoError(t, err)
	assert.Equal(t, "Removed ResNet50\n", out)

	_, _, err = env.run("rm", "ResNet50")
	assert.ErrorIs(t, err, hub.ErrNotCached)

	_, _, err = env.run("rm", "--force", "ResNet50")
	assert.NoError(t, err)
}

func TestPreprocess(t *testing.T) {
	env := newTestEnv(t)
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	imagePath := filepath.Join(t.TempDir(), "white.png")
	f, err := os.Create(imagePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	rawPath := filepath.Join(t.TempDir(), "out.f32")
	out, _, err := env.run("preprocess", "-o", rawPath, "MobileNetV2", imagePath)
	require.NoError(t, err)
	assert.Contains(t, out, "Shape:    (224,224,3)")
	assert.Contains(t, out, "Max:      1.0000")

	info, err := os.Stat(rawPath)
	require.NoError(t, err)
	assert.Equal(t, int64(224*224*3*4), info.Size())

	_, _, err = env.run("preprocess", "MobileNetV2", filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
