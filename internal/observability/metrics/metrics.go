package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/uber-go/tally"
	tallystatsd "github.com/uber-go/tally/statsd"

	statsdclient "github.com/cactus/go-statsd-client/statsd"
)

// Labels are metric tags, reported to tally as a string-keyed tag map.
type Labels map[string]string

// DefaultBuckets are the default histogram buckets, in milliseconds.
var DefaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Counter is a monotonically increasing counter.
type Counter struct{ c tally.Counter }

func (c *Counter) Inc()            { c.c.Inc(1) }
func (c *Counter) Add(delta int64) { c.c.Inc(delta) }

// Gauge is a metric that can go up and down. Unlike a tally.Gauge (which
// only supports Update), callers here also want relative Inc/Dec/Add, so
// the last value is tracked alongside the tally gauge.
type Gauge struct {
	g  tally.Gauge
	mu sync.Mutex
	v  float64
}

func (g *Gauge) Set(value float64) {
	g.mu.Lock()
	g.v = value
	g.mu.Unlock()
	g.g.Update(value)
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Add(delta float64) {
	g.mu.Lock()
	g.v += delta
	v := g.v
	g.mu.Unlock()
	g.g.Update(v)
}

// Histogram tracks the distribution of observed values (buckets in the
// same unit as the values passed to Observe/ObserveDuration).
type Histogram struct{ h tally.Histogram }

func (h *Histogram) Observe(value float64)          { h.h.RecordValue(value) }
func (h *Histogram) ObserveDuration(d time.Duration) { h.h.RecordValue(float64(d.Milliseconds())) }

// ReporterConfig selects how a Registry reports metrics. The zero value
// keeps the in-memory TestScope this package has always defaulted to
// (fine for local runs and tests, and the only backend Handler() can
// serve); set Backend to point production deployments at a real
// StatsD endpoint instead.
type ReporterConfig struct {
	// Backend is "" (or "test") for the in-memory TestScope, or "statsd"
	// to report to a StatsD daemon over UDP via github.com/cactus/go-statsd-client.
	Backend string
	// StatsDAddr is the "host:port" of the StatsD daemon. Required when
	// Backend is "statsd".
	StatsDAddr string
	// FlushInterval controls how often the statsd backend pushes its
	// accumulated counters/gauges/histograms. Defaults to one second.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// ReporterConfigFromEnv builds a ReporterConfig from METRICS_REPORTER,
// METRICS_STATSD_ADDR and METRICS_FLUSH_INTERVAL_MS, the same
// environment-variable convention cmd/*/main.go uses for its other
// runtime configuration (DATABASE_URL, MATCHING_ADDR, ...).
func ReporterConfigFromEnv(logger *slog.Logger) ReporterConfig {
	cfg := ReporterConfig{
		Backend:    os.Getenv("METRICS_REPORTER"),
		StatsDAddr: os.Getenv("METRICS_STATSD_ADDR"),
		Logger:     logger,
	}
	if ms := os.Getenv("METRICS_FLUSH_INTERVAL_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.FlushInterval = time.Duration(n) * time.Millisecond
		}
	}
	return cfg
}

// Registry is a tally.Scope-backed metrics facade: a single scope per
// process, with per-(name,labels) Counter/Gauge/Histogram handles cached
// so repeated calls with identical tags reuse the same tally metric
// instead of re-registering it.
type Registry struct {
	scope tally.Scope

	// testScope is non-nil only when the registry is backed by the
	// in-memory TestScope (the default); Handler reads from it directly.
	// A statsd-backed Registry pushes on its own interval and has nothing
	// for an HTTP scrape to read, so testScope stays nil and Handler
	// reports that.
	testScope tally.TestScope
	closer    io.Closer

	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates a metrics registry backed by the default in-memory
// TestScope.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(ReporterConfig{})
}

// NewRegistryWithConfig creates a metrics registry using the reporter
// selected by cfg. An unrecognized or empty Backend falls back to the
// default TestScope.
func NewRegistryWithConfig(cfg ReporterConfig) *Registry {
	r := &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "statsd":
		scope, closer, err := newStatsdScope(cfg)
		if err != nil {
			logger.Error("failed to build statsd metrics reporter, falling back to in-memory scope",
				slog.String("error", err.Error()))
			r.scope, r.testScope = newTestScope()
			return r
		}
		r.scope = scope
		r.closer = closer

	default:
		r.scope, r.testScope = newTestScope()
	}

	return r
}

func newTestScope() (tally.Scope, tally.TestScope) {
	ts := tally.NewTestScope("", nil)
	return ts, ts
}

func newStatsdScope(cfg ReporterConfig) (tally.Scope, io.Closer, error) {
	statter, err := statsdclient.NewClient(cfg.StatsDAddr, "linkflow")
	if err != nil {
		return nil, nil, fmt.Errorf("connect to statsd at %q: %w", cfg.StatsDAddr, err)
	}

	reporter := tallystatsd.NewReporter(statter, tallystatsd.Options{
		SampleRate: 1.0,
	})

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   "linkflow",
		Reporter: reporter,
	}, interval)

	return scope, closer, nil
}

// Close flushes and releases the underlying reporter. A no-op for the
// default TestScope, which has nothing to flush or tear down.
func (r *Registry) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// DefaultRegistry is the default global metrics registry, built from
// METRICS_REPORTER/METRICS_STATSD_ADDR/METRICS_FLUSH_INTERVAL_MS so a
// deployment can point every service at a real statsd backend without each
// cmd/*/main.go needing its own registry construction.
var DefaultRegistry = NewRegistryWithConfig(ReporterConfigFromEnv(nil))

// Counter gets or creates a counter.
func (r *Registry) Counter(name string, labels Labels) *Counter {
	key := makeKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, exists := r.counters[key]; exists {
		return c
	}

	c := &Counter{c: r.scope.Tagged(labels).Counter(name)}
	r.counters[key] = c
	return c
}

// Gauge gets or creates a gauge.
func (r *Registry) Gauge(name string, labels Labels) *Gauge {
	key := makeKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, exists := r.gauges[key]; exists {
		return g
	}

	g := &Gauge{g: r.scope.Tagged(labels).Gauge(name)}
	r.gauges[key] = g
	return g
}

// Histogram gets or creates a histogram. buckets defaults to DefaultBuckets.
func (r *Registry) Histogram(name string, labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	key := makeKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, exists := r.histograms[key]; exists {
		return h
	}

	h := &Histogram{h: r.scope.Tagged(labels).Histogram(name, tally.ValueBuckets(buckets))}
	r.histograms[key] = h
	return h
}

// Handler returns a Prometheus-compatible HTTP handler exposing a snapshot
// of everything reported so far. Only meaningful for the default in-memory
// TestScope; a statsd-backed Registry pushes metrics on its own schedule and
// has no snapshot for a scrape to read, so the handler reports that instead.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.testScope == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("metrics are pushed to a statsd backend; no local snapshot to scrape\n"))
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		snap := r.testScope.Snapshot()

		names := make([]string, 0, len(snap.Counters()))
		for k := range snap.Counters() {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			c := snap.Counters()[k]
			writeSeries(w, c.Name(), c.Tags(), "counter", float64(c.Value()))
		}

		names = names[:0]
		for k := range snap.Gauges() {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			g := snap.Gauges()[k]
			writeSeries(w, g.Name(), g.Tags(), "gauge", g.Value())
		}

		names = names[:0]
		for k := range snap.Histograms() {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			h := snap.Histograms()[k]
			for upperBound, count := range h.Values() {
				tags := withTag(h.Tags(), "le", strconv.FormatFloat(upperBound, 'f', -1, 64))
				writeSeries(w, h.Name()+"_bucket", tags, "histogram", float64(count))
			}
		}
	})
}

func withTag(tags map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	out[key] = value
	return out
}

func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += "," + k + "=" + labels[k]
	}
	return key
}

func writeSeries(w http.ResponseWriter, name string, tags map[string]string, metricType string, value float64) {
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	line := name
	if len(tags) > 0 {
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		line += "{"
		for i, k := range keys {
			if i > 0 {
				line += ","
			}
			line += k + `="` + tags[k] + `"`
		}
		line += "}"
	}
	fmt.Fprintf(w, "%s %s\n", line, strconv.FormatFloat(value, 'f', -1, 64))
}
