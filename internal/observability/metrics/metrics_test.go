package metrics

import (
	"sync"
	"testing"
)

func TestMakeKey_Consistency(t *testing.T) {
	labels := Labels{
		"service": "matching",
		"method":  "AddTask",
		"region":  "us-east",
	}

	// Multiple calls should produce the same key
	key1 := makeKey("requests_total", labels)
	key2 := makeKey("requests_total", labels)

	if key1 != key2 {
		t.Errorf("makeKey should be consistent: got %q and %q", key1, key2)
	}
}

func TestMakeKey_DifferentLabelOrder(t *testing.T) {
	// Even with maps (which iterate in random order), keys should be consistent
	labels1 := Labels{"a": "1", "b": "2", "c": "3"}
	labels2 := Labels{"c": "3", "a": "1", "b": "2"}

	key1 := makeKey("metric", labels1)
	key2 := makeKey("metric", labels2)

	if key1 != key2 {
		t.Errorf("makeKey should produce same key regardless of insertion order: got %q and %q", key1, key2)
	}
}

func TestMakeKey_EmptyLabels(t *testing.T) {
	key := makeKey("metric", Labels{})
	if key != "metric" {
		t.Errorf("makeKey with empty labels = %q, want %q", key, "metric")
	}
}

func counterValue(t *testing.T, r *Registry, name string) int64 {
	t.Helper()
	snap := r.testScope.Snapshot()
	for _, c := range snap.Counters() {
		if c.Name() == name {
			return c.Value()
		}
	}
	return 0
}

func gaugeValue(t *testing.T, r *Registry, name string) float64 {
	t.Helper()
	snap := r.testScope.Snapshot()
	for _, g := range snap.Gauges() {
		if g.Name() == name {
			return g.Value()
		}
	}
	return 0
}

func TestCounter_Operations(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("test_counter", nil)

	c.Inc()
	if got := counterValue(t, r, "test_counter"); got != 1 {
		t.Errorf("After Inc = %d, want 1", got)
	}

	c.Add(5)
	if got := counterValue(t, r, "test_counter"); got != 6 {
		t.Errorf("After Add(5) = %d, want 6", got)
	}
}

func TestCounter_Concurrent(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("test_counter", nil)

	var wg sync.WaitGroup
	iterations := 1000

	for i := 0; i < iterations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}

	wg.Wait()

	if got := counterValue(t, r, "test_counter"); got != int64(iterations) {
		t.Errorf("After concurrent Inc = %d, want %d", got, iterations)
	}
}

func TestGauge_Operations(t *testing.T) {
	r := NewRegistry()
	g := r.Gauge("test_gauge", nil)

	g.Set(42.5)
	if got := gaugeValue(t, r, "test_gauge"); got != 42.5 {
		t.Errorf("After Set(42.5) = %f, want 42.5", got)
	}

	g.Inc()
	if got := gaugeValue(t, r, "test_gauge"); got != 43.5 {
		t.Errorf("After Inc = %f, want 43.5", got)
	}

	g.Dec()
	if got := gaugeValue(t, r, "test_gauge"); got != 42.5 {
		t.Errorf("After Dec = %f, want 42.5", got)
	}

	g.Add(7.5)
	if got := gaugeValue(t, r, "test_gauge"); got != 50 {
		t.Errorf("After Add(7.5) = %f, want 50", got)
	}
}

func TestGauge_Concurrent(t *testing.T) {
	r := NewRegistry()
	g := r.Gauge("test_gauge", nil)

	var wg sync.WaitGroup
	iterations := 1000

	for i := 0; i < iterations; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.Inc()
		}()
		go func() {
			defer wg.Done()
			g.Dec()
		}()
	}

	wg.Wait()

	// After equal Inc/Dec, should be back to 0
	if got := gaugeValue(t, r, "test_gauge"); got != 0 {
		t.Errorf("After concurrent Inc/Dec = %f, want 0", got)
	}
}

func TestHistogram_Observe(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("test_histogram", nil, []float64{25, 75, 150})

	h.Observe(10)
	h.Observe(50)
	h.Observe(100)

	snap := r.testScope.Snapshot()
	var total int64
	for _, hs := range snap.Histograms() {
		if hs.Name() != "test_histogram" {
			continue
		}
		for _, count := range hs.Values() {
			total += count
		}
	}
	if total != 3 {
		t.Errorf("total observed samples = %d, want 3", total)
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()

	labels := Labels{"method": "test"}

	// First call creates
	c1 := r.Counter("requests", labels)
	c1.Inc()

	// Second call returns same counter
	c2 := r.Counter("requests", labels)
	c2.Inc()

	if got := counterValue(t, r, "requests"); got != 2 {
		t.Errorf("Registry should return same counter, got value %d", got)
	}
}

func TestRegistry_DifferentLabels(t *testing.T) {
	r := NewRegistry()

	c1 := r.Counter("requests", Labels{"method": "get"})
	c2 := r.Counter("requests", Labels{"method": "post"})

	c1.Inc()
	c2.Add(5)

	snap := r.testScope.Snapshot()
	var get, post int64
	for _, c := range snap.Counters() {
		if c.Name() != "requests" {
			continue
		}
		switch c.Tags()["method"] {
		case "get":
			get = c.Value()
		case "post":
			post = c.Value()
		}
	}

	if get != 1 {
		t.Errorf("get counter = %d, want 1", get)
	}
	if post != 5 {
		t.Errorf("post counter = %d, want 5", post)
	}
}
