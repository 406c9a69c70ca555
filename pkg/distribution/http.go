package distribution

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	DefaultUserAgent = "model-zoo"

	// digestHeader carries the artifact digest on registries and most
	// artifact servers.
	digestHeader = "Docker-Content-Digest"
)

// HTTPSource fetches artifacts with GET <base>/<key>.
type HTTPSource struct {
	base      *url.URL
	transport http.RoundTripper
	userAgent string
	token     string
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

func WithTransport(transport http.RoundTripper) HTTPOption {
	return func(s *HTTPSource) {
		if transport != nil {
			s.transport = transport
		}
	}
}

func WithUserAgent(userAgent string) HTTPOption {
	return func(s *HTTPSource) {
		if userAgent != "" {
			s.userAgent = userAgent
		}
	}
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) HTTPOption {
	return func(s *HTTPSource) {
		s.token = token
	}
}

// NewHTTPSource creates a source rooted at base.
func NewHTTPSource(base string, opts ...HTTPOption) (*HTTPSource, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	s := &HTTPSource{
		base:      u,
		transport: http.DefaultTransport,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// headerRoundTripper sets the source's headers on a clone of every request.
type headerRoundTripper struct {
	transport http.RoundTripper
	userAgent string
	token     string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clonedReq := req.Clone(req.Context())
	clonedReq.Header.Set("User-Agent", h.userAgent)
	if h.token != "" {
		clonedReq.Header.Set("Authorization", "Bearer "+h.token)
	}
	return h.transport.RoundTrip(clonedReq)
}

// URL returns the address an artifact key is fetched from.
func (s *HTTPSource) URL(key string) string {
	u := *s.base
	u.Path = s.base.Path + "/" + key
	return u.String()
}

// Fetch implements Source.Fetch.
func (s *HTTPSource) Fetch(ctx context.Context, key string) (*Artifact, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	client := &http.Client{Transport: &headerRoundTripper{
		transport: s.transport,
		userAgent: s.userAgent,
		token:     s.token,
	}}
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewFetchError(s.String(), key, CodeUnknown, "request failed", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, NewFetchError(s.String(), key, CodeNotFound, resp.Status, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, NewFetchError(s.String(), key, CodeUnauthorized, resp.Status, nil)
	default:
		resp.Body.Close()
		return nil, NewFetchError(s.String(), key, CodeUnknown, resp.Status, nil)
	}

	artifact := &Artifact{Body: resp.Body, Size: resp.ContentLength}
	if h := resp.Header.Get(digestHeader); h != "" {
		d, err := digest.Parse(h)
		if err != nil {
			resp.Body.Close()
			return nil, NewFetchError(s.String(), key, CodeUnknown, "invalid "+digestHeader+" header", err)
		}
		artifact.Digest = d
	}
	return artifact, nil
}

func (s *HTTPSource) String() string {
	return s.base.Redacted()
}
