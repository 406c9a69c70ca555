// Package metrics counts model hub activity and renders it in the Prometheus
// text exposition format.
package metrics

import (
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/docker/model-zoo/pkg/logging"
)

// Metric names.
const (
	CacheHits       = "model_zoo_cache_hits_total"
	CacheMisses     = "model_zoo_cache_misses_total"
	Downloads       = "model_zoo_downloads_total"
	DownloadedBytes = "model_zoo_downloaded_bytes_total"
	FetchFailures   = "model_zoo_fetch_failures_total"
	ModelsLoaded    = "model_zoo_models_loaded_total"
)

var help = map[string]string{
	CacheHits:       "Artifact resolutions served from the cache.",
	CacheMisses:     "Artifact resolutions that required a download.",
	Downloads:       "Artifacts downloaded and committed to the cache.",
	DownloadedBytes: "Bytes downloaded into the cache.",
	FetchFailures:   "Artifact downloads that failed.",
	ModelsLoaded:    "Inference models constructed.",
}

// Collector accumulates per-model counters. The zero value is not usable;
// use NewCollector. A nil *Collector ignores every update.
type Collector struct {
	log logging.Logger

	mu       sync.Mutex
	counters map[string]map[string]float64
}

// NewCollector creates an empty collector.
func NewCollector(log logging.Logger) *Collector {
	if log == nil {
		log = logging.Discard()
	}
	return &Collector{
		log:      log,
		counters: make(map[string]map[string]float64),
	}
}

// Add increments metric for model by delta.
func (c *Collector) Add(metric, model string, delta float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byModel, ok := c.counters[metric]
	if !ok {
		byModel = make(map[string]float64)
		c.counters[metric] = byModel
	}
	byModel[model] += delta
}

// Inc increments metric for model by one.
func (c *Collector) Inc(metric, model string) {
	c.Add(metric, model, 1)
}

// Value returns the current value of metric for model.
func (c *Collector) Value(metric, model string) float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[metric][model]
}

func ptr[T any](v T) *T {
	return &v
}

// Families builds one counter family per metric, sorted by name, with one
// sample per model.
func (c *Collector) Families() []*dto.MetricFamily {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	sort.Strings(names)

	families := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		byModel := c.counters[name]
		models := make([]string, 0, len(byModel))
		for model := range byModel {
			models = append(models, model)
		}
		sort.Strings(models)

		family := &dto.MetricFamily{
			Name: ptr(name),
			Type: dto.MetricType_COUNTER.Enum(),
		}
		if h, ok := help[name]; ok {
			family.Help = ptr(h)
		}
		for _, model := range models {
			family.Metric = append(family.Metric, &dto.Metric{
				Label:   []*dto.LabelPair{{Name: ptr("model"), Value: ptr(model)}},
				Counter: &dto.Counter{Value: ptr(byModel[model])},
			})
		}
		families = append(families, family)
	}
	return families
}

// ServeHTTP implements http.Handler for the collected metrics.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	// Use Prometheus encoder to write metrics
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range c.Families() {
		if err := encoder.Encode(family); err != nil {
			c.log.Errorf("Failed to encode metric family %s: %v", family.GetName(), err)
			continue
		}
	}
}
