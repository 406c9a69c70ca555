// Package config loads the model zoo configuration from an optional YAML file
// and environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docker/model-zoo/pkg/distribution"
	"github.com/docker/model-zoo/pkg/middleware"
)

// Environment variables. They override the configuration file.
const (
	EnvConfig         = "MODEL_ZOO_CONFIG"
	EnvCache          = "MODEL_ZOO_CACHE"
	EnvRemote         = "MODEL_ZOO_REMOTE"
	EnvToken          = "MODEL_ZOO_TOKEN"
	EnvSocket         = "MODEL_ZOO_SOCK"
	EnvPort           = "MODEL_ZOO_PORT"
	EnvOrigins        = "MODEL_ZOO_ORIGINS"
	EnvDisableMetrics = "DISABLE_METRICS"
)

// DefaultSocket is the service socket used when neither a socket nor a port
// is configured.
const DefaultSocket = "model-zoo.sock"

// Config is the complete model zoo configuration.
type Config struct {
	// CacheDir is the artifact cache directory.
	CacheDir string `yaml:"cache_dir"`
	// Remote configures where missing artifacts are fetched from.
	Remote RemoteConfig `yaml:"remote"`
	// Socket is the Unix socket the service listens on.
	Socket string `yaml:"socket"`
	// Port is the TCP port the service listens on. It takes precedence over
	// Socket.
	Port string `yaml:"port"`
	// DisableMetrics removes the /metrics endpoint.
	DisableMetrics bool `yaml:"disable_metrics"`
	// Origins are the origins allowed to make cross-origin API requests.
	// "*" allows all of them.
	Origins []string `yaml:"origins"`
}

// RemoteConfig configures the remote artifact source.
type RemoteConfig struct {
	// URL selects the source by scheme: http:// and https:// for an
	// artifact server, oci:// for a registry repository, file:// or a
	// plain path for a mirror directory. Empty means cache only.
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	UserAgent string `yaml:"user_agent"`
	// Insecure allows plain HTTP registries.
	Insecure bool `yaml:"insecure"`
}

// Default returns the configuration used when nothing is set.
func Default() (*Config, error) {
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("locating user cache directory: %w", err)
	}
	return &Config{
		CacheDir: filepath.Join(cacheRoot, "model-zoo"),
		Socket:   DefaultSocket,
	}, nil
}

// Load reads a YAML configuration file over the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// FromEnv builds the configuration from the defaults, the file named by
// MODEL_ZOO_CONFIG (if any) and the remaining environment variables.
func FromEnv() (*Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path, ok := lookup(EnvConfig); ok && path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(lookup)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	set(EnvCache, &c.CacheDir)
	set(EnvRemote, &c.Remote.URL)
	set(EnvToken, &c.Remote.Token)
	set(EnvSocket, &c.Socket)
	set(EnvPort, &c.Port)
	if v, ok := lookup(EnvOrigins); ok && v != "" {
		c.Origins = middleware.ParseOrigins(v)
	}
	if v, _ := lookup(EnvDisableMetrics); v == "1" {
		c.DisableMetrics = true
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return errors.New("cache_dir must be set")
	}
	if c.Port == "" && c.Socket == "" {
		return errors.New("one of socket or port must be set")
	}
	if c.Remote.Token != "" && c.Remote.Username != "" {
		return errors.New("remote token and username are mutually exclusive")
	}
	return nil
}

// Source builds the remote source named by Remote.URL. It returns nil when
// no remote is configured.
func (c *Config) Source() (distribution.Source, error) {
	r := c.Remote
	switch {
	case r.URL == "":
		return nil, nil
	case strings.HasPrefix(r.URL, "http://"), strings.HasPrefix(r.URL, "https://"):
		return distribution.NewHTTPSource(r.URL,
			distribution.WithUserAgent(r.UserAgent),
			distribution.WithBearerToken(r.Token),
		)
	case strings.HasPrefix(r.URL, "oci://"):
		opts := []distribution.RegistryOption{
			distribution.WithRegistryUserAgent(r.UserAgent),
			distribution.WithAuthConfig(r.Username, r.Password),
		}
		if r.Insecure {
			opts = append(opts, distribution.WithInsecure())
		}
		return distribution.NewRegistrySource(strings.TrimPrefix(r.URL, "oci://"), opts...)
	case strings.HasPrefix(r.URL, "file://"):
		return distribution.NewDirSource(strings.TrimPrefix(r.URL, "file://"))
	case strings.Contains(r.URL, "://"):
		return nil, fmt.Errorf("unsupported remote %q", r.URL)
	default:
		return distribution.NewDirSource(r.URL)
	}
}
