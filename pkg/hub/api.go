package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/docker/model-zoo/pkg/distribution"
	"github.com/docker/model-zoo/pkg/inference/models"
	"github.com/docker/model-zoo/pkg/logging"
	"github.com/docker/model-zoo/pkg/routing"
)

const (
	// maximumConcurrentModelPulls is the maximum number of concurrent model
	// pulls that the HTTP API will allow.
	maximumConcurrentModelPulls = 2
)

// ModelStatus is the API representation of a catalog entry.
type ModelStatus struct {
	// Model is the descriptor metadata.
	Model *models.Descriptor `json:"model"`
	// Cached reports whether the artifact is in the cache.
	Cached bool `json:"cached"`
	// Size is the cached artifact size in bytes.
	Size int64 `json:"size,omitempty"`
	// Modified is the Unix epoch timestamp of the cached artifact.
	Modified int64 `json:"modified,omitempty"`
}

// HTTPHandler serves the hub's HTTP API.
type HTTPHandler struct {
	// log is the associated logger.
	log logging.Logger
	// hub is the served hub.
	hub *Hub
	// pullTokens is a semaphore used to restrict the maximum number of
	// concurrent pull requests.
	pullTokens chan struct{}
	// router is the HTTP request router.
	router *routing.NormalizedServeMux
}

// NewHTTPHandler creates the API handler for h.
func NewHTTPHandler(log logging.Logger, h *Hub) *HTTPHandler {
	a := &HTTPHandler{
		log:        logging.Component(log, "api"),
		hub:        h,
		pullTokens: make(chan struct{}, maximumConcurrentModelPulls),
		router:     routing.NewNormalizedServeMux(),
	}

	// Register routes.
	a.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	a.router.HandleFunc("GET /models", a.handleGetModels)
	a.router.HandleFunc("GET /models/{name}", a.handleGetModel)
	a.router.HandleFunc("POST /models/{name}/pull", a.handlePullModel)
	a.router.HandleFunc("DELETE /models/{name}", a.handleDeleteModel)

	// Populate the pull concurrency semaphore.
	for i := 0; i < maximumConcurrentModelPulls; i++ {
		a.pullTokens <- struct{}{}
	}
	return a
}

// ServeHTTP implement net/http.Handler.ServeHTTP.
func (a *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Status reports whether d's artifact is cached.
func (h *Hub) Status(d *models.Descriptor) ModelStatus {
	status := ModelStatus{Model: d}
	if info, err := os.Stat(h.Path(d)); err == nil && info.Mode().IsRegular() {
		status.Cached = true
		status.Size = info.Size()
		status.Modified = info.ModTime().Unix()
	}
	return status
}

// lookup resolves the {name} path value, writing a 404 if it is unknown.
func (a *HTTPHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.Descriptor, bool) {
	d, err := models.Lookup(r.PathValue("name"))
	if err != nil {
		a.log.Debugf("Unknown model requested: %s", logging.Sanitize(r.PathValue("name")))
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return d, true
}

// handleGetModels handles GET /models requests. The optional task query
// parameter filters by task.
func (a *HTTPHandler) handleGetModels(w http.ResponseWriter, r *http.Request) {
	descriptors := models.All()
	if task := r.URL.Query().Get("task"); task != "" {
		t, err := models.ParseTask(task)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		descriptors = models.ByTask(t)
	}
	statuses := make([]ModelStatus, 0, len(descriptors))
	for _, d := range descriptors {
		statuses = append(statuses, a.hub.Status(d))
	}

	// Write the response.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statuses); err != nil {
		a.log.Warnln("Error while encoding model listing response:", err)
	}
}

// handleGetModel handles GET /models/{name} requests.
func (a *HTTPHandler) handleGetModel(w http.ResponseWriter, r *http.Request) {
	d, ok := a.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.hub.Status(d)); err != nil {
		a.log.Warnln("Error while encoding model response:", err)
	}
}

// handlePullModel handles POST /models/{name}/pull requests. Progress is
// streamed as newline-delimited JSON messages; the last message has type
// "success" or "error".
func (a *HTTPHandler) handlePullModel(w http.ResponseWriter, r *http.Request) {
	d, ok := a.lookup(w, r)
	if !ok {
		return
	}

	select {
	case <-a.pullTokens:
		defer func() {
			a.pullTokens <- struct{}{}
		}()
	case <-r.Context().Done():
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	out := flushWriter{w}

	path, err := a.hub.Pull(r.Context(), d, out)
	final := distribution.NewReporter(nil, out, d.RelativePath(), -1)
	if err != nil {
		a.log.Warnf("Pulling %s failed: %v", d.Name(), err)
		final.Error(err)
		return
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	final.Success(size)
	a.log.Infof("Pulled %s to %s", d.Name(), path)
}

// handleDeleteModel handles DELETE /models/{name} requests.
func (a *HTTPHandler) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	d, ok := a.lookup(w, r)
	if !ok {
		return
	}
	if err := a.hub.Remove(d); err != nil {
		if errors.Is(err, ErrNotCached) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		a.log.Warnln("Error while deleting model:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// flushWriter flushes after every write so progress reaches the client.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(b []byte) (int, error) {
	n, err := f.w.Write(b)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
