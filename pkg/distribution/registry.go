package distribution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// RegistrySource fetches artifacts stored as single-layer OCI artifacts. The
// key "models/onnx/cv/resnet/resnet50.onnx" maps to the reference
// "<repository>/models/onnx/cv/resnet:resnet50". The layer whose title
// annotation equals the key's file name is streamed; an artifact with a
// single layer is streamed regardless of its annotations.
type RegistrySource struct {
	repository string
	transport  http.RoundTripper
	userAgent  string
	keychain   authn.Keychain
	auth       authn.Authenticator
	nameOpts   []name.Option
}

// RegistryOption configures a RegistrySource.
type RegistryOption func(*RegistrySource)

func WithRegistryTransport(transport http.RoundTripper) RegistryOption {
	return func(s *RegistrySource) {
		if transport != nil {
			s.transport = transport
		}
	}
}

func WithRegistryUserAgent(userAgent string) RegistryOption {
	return func(s *RegistrySource) {
		if userAgent != "" {
			s.userAgent = userAgent
		}
	}
}

func WithAuthConfig(username, password string) RegistryOption {
	return func(s *RegistrySource) {
		if username != "" && password != "" {
			s.auth = &authn.Basic{
				Username: username,
				Password: password,
			}
		}
	}
}

// WithInsecure allows plain HTTP registries.
func WithInsecure() RegistryOption {
	return func(s *RegistrySource) {
		s.nameOpts = append(s.nameOpts, name.Insecure)
	}
}

// NewRegistrySource creates a source under repository, e.g.
// "registry.example.com/zoo".
func NewRegistrySource(repository string, opts ...RegistryOption) (*RegistrySource, error) {
	repository = strings.TrimSuffix(repository, "/")
	s := &RegistrySource{
		repository: repository,
		transport:  remote.DefaultTransport,
		userAgent:  DefaultUserAgent,
		keychain:   authn.DefaultKeychain,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := name.NewRepository(repository, s.nameOpts...); err != nil {
		return nil, fmt.Errorf("invalid repository %q: %w", repository, err)
	}
	return s, nil
}

// Reference returns the tag an artifact key is stored under.
func (s *RegistrySource) Reference(key string) (name.Tag, error) {
	if err := ValidateKey(key); err != nil {
		return name.Tag{}, err
	}
	dir, file := path.Split(key)
	tag := strings.TrimSuffix(file, path.Ext(file))
	repo := s.repository
	if dir = strings.TrimSuffix(dir, "/"); dir != "" {
		repo += "/" + strings.ToLower(dir)
	}
	ref, err := name.NewTag(repo+":"+tag, s.nameOpts...)
	if err != nil {
		return name.Tag{}, NewKeyError(key, err)
	}
	return ref, nil
}

func (s *RegistrySource) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithTransport(s.transport),
		remote.WithUserAgent(s.userAgent),
	}
	// Use direct auth if provided, otherwise fall back to keychain
	if s.auth != nil {
		opts = append(opts, remote.WithAuth(s.auth))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(s.keychain))
	}
	return opts
}

// Fetch implements Source.Fetch.
func (s *RegistrySource) Fetch(ctx context.Context, key string) (*Artifact, error) {
	ref, err := s.Reference(key)
	if err != nil {
		return nil, err
	}
	img, err := remote.Image(ref, s.remoteOptions(ctx)...)
	if err != nil {
		return nil, s.fetchError(key, err)
	}
	manifest, err := img.Manifest()
	if err != nil {
		return nil, s.fetchError(key, err)
	}
	desc, err := selectLayer(manifest, path.Base(key))
	if err != nil {
		return nil, NewFetchError(s.String(), key, CodeNotFound, err.Error(), err)
	}
	layer, err := img.LayerByDigest(desc.Digest)
	if err != nil {
		return nil, s.fetchError(key, err)
	}
	rc, err := layer.Compressed()
	if err != nil {
		return nil, s.fetchError(key, err)
	}
	return &Artifact{
		Body:   rc,
		Size:   desc.Size,
		Digest: digest.Digest(desc.Digest.String()),
	}, nil
}

// selectLayer picks the layer titled file, or the only layer.
func selectLayer(manifest *v1.Manifest, file string) (v1.Descriptor, error) {
	for _, l := range manifest.Layers {
		if l.Annotations[ocispec.AnnotationTitle] == file {
			return l, nil
		}
	}
	if len(manifest.Layers) == 1 {
		return manifest.Layers[0], nil
	}
	return v1.Descriptor{}, fmt.Errorf("no layer titled %q among %d layers", file, len(manifest.Layers))
}

func (s *RegistrySource) fetchError(key string, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		for _, d := range terr.Errors {
			switch d.Code {
			case transport.ManifestUnknownErrorCode, transport.NameUnknownErrorCode, transport.BlobUnknownErrorCode:
				return NewFetchError(s.String(), key, CodeNotFound, d.Message, err)
			case transport.UnauthorizedErrorCode, transport.DeniedErrorCode:
				return NewFetchError(s.String(), key, CodeUnauthorized, d.Message, err)
			}
		}
		switch terr.StatusCode {
		case http.StatusNotFound:
			return NewFetchError(s.String(), key, CodeNotFound, http.StatusText(terr.StatusCode), err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewFetchError(s.String(), key, CodeUnauthorized, http.StatusText(terr.StatusCode), err)
		}
	}
	return NewFetchError(s.String(), key, CodeUnknown, err.Error(), err)
}

func (s *RegistrySource) String() string {
	return "oci://" + s.repository
}
