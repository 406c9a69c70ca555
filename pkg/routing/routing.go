// Package routing provides the service's request multiplexer.
package routing

import (
	"net/http"
	"path"
)

// NormalizedServeMux is an http.ServeMux that matches on the cleaned request
// path, so "//models//ResNet50/" is routed like "/models/ResNet50" instead of
// being redirected.
type NormalizedServeMux struct {
	*http.ServeMux
}

// NewNormalizedServeMux creates an empty mux.
func NewNormalizedServeMux() *NormalizedServeMux {
	return &NormalizedServeMux{http.NewServeMux()}
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (nm *NormalizedServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p := r.URL.Path; p != "" && p != "/" {
		if clean := path.Clean("/" + p); clean != p {
			r.URL.Path = clean
			r.URL.RawPath = ""
		}
	}
	nm.ServeMux.ServeHTTP(w, r)
}
