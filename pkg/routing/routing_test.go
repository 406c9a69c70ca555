package routing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizedServeMux(t *testing.T) {
	mux := NewNormalizedServeMux()
	mux.HandleFunc("GET /models/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.PathValue("name")))
	})

	for _, p := range []string{"/models/ResNet50", "//models//ResNet50", "/models/ResNet50/", "/models/./ResNet50"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusOK, rec.Code, p)
		assert.Equal(t, "ResNet50", rec.Body.String(), p)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/../ResNet50", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
