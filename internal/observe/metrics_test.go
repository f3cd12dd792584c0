package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWith returns the value of the int64 sum data point carrying attr, or -1.
func sumWith(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attr.Key); ok && v.Emit() == attr.Value.Emit() {
			return dp.Value
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordAnalysis(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAnalysis(ctx, OutcomeAnalyzed, 120*time.Millisecond)
	m.RecordAnalysis(ctx, OutcomeAnalyzed, 80*time.Millisecond)
	m.RecordAnalysis(ctx, OutcomeInterrupted, 10*time.Millisecond)

	rm := collect(t, reader)
	if got := sumWith(t, rm, "phonemix.analysis.outcomes", Attr("outcome", OutcomeAnalyzed)); got != 2 {
		t.Errorf("analyzed = %d, want 2", got)
	}
	if got := sumWith(t, rm, "phonemix.analysis.outcomes", Attr("outcome", OutcomeInterrupted)); got != 1 {
		t.Errorf("interrupted = %d, want 1", got)
	}

	met := findMetric(rm, "phonemix.analysis.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("sample count = %d, want 3", total)
	}
}

func TestRecordPreviewBuild(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPreviewBuild(ctx, 300*time.Millisecond)
	m.PreviewCacheHits.Add(ctx, 4)
	m.PreviewCacheMisses.Add(ctx, 1)
	m.PreviewCancellations.Add(ctx, 2)

	rm := collect(t, reader)
	counters := []struct {
		name string
		want int64
	}{
		{"phonemix.preview.builds", 1},
		{"phonemix.preview.cache.hits", 4},
		{"phonemix.preview.cache.misses", 1},
		{"phonemix.preview.cancellations", 2},
	}
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no sum data", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordFrameDecodeAndStore(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameDecode(ctx, "ok")
	m.RecordFrameDecode(ctx, "ok")
	m.RecordFrameDecode(ctx, "error")
	m.RecordStoreRequest(ctx, "get", "miss")

	rm := collect(t, reader)
	if got := sumWith(t, rm, "phonemix.framecache.decodes", Attr("status", "ok")); got != 2 {
		t.Errorf("decodes ok = %d, want 2", got)
	}
	if got := sumWith(t, rm, "phonemix.store.requests", Attr("status", "miss")); got != 1 {
		t.Errorf("store miss = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveTasks.Add(ctx, 3)
	m.ActiveTasks.Add(ctx, -1)
	m.SinkClients.Add(ctx, 1)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"phonemix.tasks.active":  2,
		"phonemix.sink.clients": 1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Fatalf("metric %q has no sum data", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
