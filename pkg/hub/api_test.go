package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/model-zoo/pkg/distribution"
	"github.com/docker/model-zoo/pkg/inference/models"
)

type statusJSON struct {
	Model struct {
		Name string `json:"name"`
		Task string `json:"task"`
	} `json:"model"`
	Cached bool  `json:"cached"`
	Size   int64 `json:"size"`
}

func do(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func pullMessages(t *testing.T, rec *httptest.ResponseRecorder) []distribution.Message {
	t.Helper()
	var messages []distribution.Message
	require.NoError(t, distribution.DecodeMessages(rec.Body, func(m distribution.Message) error {
		messages = append(messages, m)
		return nil
	}))
	require.NotEmpty(t, messages)
	return messages
}

func TestAPIListModels(t *testing.T) {
	h, _, _ := newTestHub(t, newFakeSource())
	api := NewHTTPHandler(createTestLogger(), h)

	rec := do(t, api, http.MethodGet, "/models")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []statusJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Len(t, statuses, len(models.All()))
	assert.Equal(t, "ResNet18", statuses[0].Model.Name)

	rec = do(t, api, http.MethodGet, "/models?task=pose-detection")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.Equal(t, "pose-detection", s.Model.Task)
	}

	rec = do(t, api, http.MethodGet, "/models?task=segmentation")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIPullGetDelete(t *testing.T) {
	source := newFakeSource()
	source.add(models.EfficientNetB2NoTop, "onnx efficientnet-b2 notop")
	h, _, _ := newTestHub(t, source)
	api := NewHTTPHandler(createTestLogger(), h)

	rec := do(t, api, http.MethodGet, "/models/efficientnetb2notop")
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "EfficientNetB2NoTop", status.Model.Name)
	assert.False(t, status.Cached)

	rec = do(t, api, http.MethodPost, "/models/EfficientNetB2NoTop/pull")
	require.Equal(t, http.StatusOK, rec.Code)
	messages := pullMessages(t, rec)
	last := messages[len(messages)-1]
	assert.Equal(t, "success", last.Type)
	assert.Equal(t, int64(len("onnx efficientnet-b2 notop")), last.Current)

	rec = do(t, api, http.MethodGet, "/models/EfficientNetB2NoTop")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Cached)
	assert.Equal(t, int64(len("onnx efficientnet-b2 notop")), status.Size)

	// Pulling a cached model succeeds without fetching.
	rec = do(t, api, http.MethodPost, "/models/EfficientNetB2NoTop/pull")
	messages = pullMessages(t, rec)
	assert.Equal(t, "success", messages[len(messages)-1].Type)
	assert.Equal(t, int32(1), source.fetches.Load())

	rec = do(t, api, http.MethodDelete, "/models/EfficientNetB2NoTop")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, api, http.MethodDelete, "/models/EfficientNetB2NoTop")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIPullFailure(t *testing.T) {
	h, _, _ := newTestHub(t, newFakeSource())
	api := NewHTTPHandler(createTestLogger(), h)

	rec := do(t, api, http.MethodPost, "/models/SSD/pull")
	require.Equal(t, http.StatusOK, rec.Code)
	messages := pullMessages(t, rec)
	last := messages[len(messages)-1]
	assert.Equal(t, "error", last.Type)
	assert.Contains(t, last.Message, "unavailable")
}

func TestAPIUnknownModel(t *testing.T) {
	h, _, _ := newTestHub(t, newFakeSource())
	api := NewHTTPHandler(createTestLogger(), h)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/models/ResNet51"},
		{http.MethodPost, "/models/ResNet51/pull"},
		{http.MethodDelete, "/models/ResNet51"},
		{http.MethodGet, "/unknown"},
	} {
		rec := do(t, api, req.method, req.path)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.path)
	}
}

func TestAPINormalizesPaths(t *testing.T) {
	h, _, _ := newTestHub(t, newFakeSource())
	api := NewHTTPHandler(createTestLogger(), h)
	rec := do(t, api, http.MethodGet, "//models//ResNet50")
	assert.Equal(t, http.StatusOK, rec.Code)
}
