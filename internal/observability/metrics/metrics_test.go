package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/kirillkom/mditd/internal/core/domain"
)

func findCounter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func matches(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if pair.GetValue() != want {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestMiddlewareCountsNormalizedPaths(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewHTTPServerMetrics(registry, "MDitD")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	for _, path := range []string{"/health", "/health", "/wp-admin/x.php"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := findCounter(t, registry, "mditd_http_requests_total", map[string]string{"path": "/health", "status": "200"}); got != 2 {
		t.Fatalf("expected 2 health requests, got %v", got)
	}
	if got := findCounter(t, registry, "mditd_http_requests_total", map[string]string{"path": "/other", "status": "404"}); got != 1 {
		t.Fatalf("expected unknown path folded into /other, got %v", got)
	}
}

func TestConversionMetricsStatusLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewConversionMetrics(registry, "MDitD")

	m.StartConversion()
	m.FinishConversion("pdf", 10*time.Millisecond, nil)
	m.StartConversion()
	m.FinishConversion("pdf", time.Millisecond, domain.NewError(domain.ErrConversion, "convert", "corrupt", nil))
	m.StartConversion()
	m.FinishConversion("", time.Millisecond, errors.New("boom"))
	m.ObservePoolWait(-time.Second)
	m.ObserveBatch(domain.NewBatchSummary("b", "/out", []domain.ConversionResult{
		domain.Succeeded("a.pdf", "x", "/out/a.md"),
		domain.Failed("b.pdf", "corrupt"),
	}, time.Second))

	if got := findCounter(t, registry, "mditd_conversion_files_total", map[string]string{"format": "pdf", "status": "success"}); got != 1 {
		t.Fatalf("expected one pdf success, got %v", got)
	}
	if got := findCounter(t, registry, "mditd_conversion_files_total", map[string]string{"format": "pdf", "status": "conversion_error"}); got != 1 {
		t.Fatalf("expected one pdf conversion error, got %v", got)
	}
	if got := findCounter(t, registry, "mditd_conversion_files_total", map[string]string{"format": "unknown", "status": "error"}); got != 1 {
		t.Fatalf("expected one unknown error, got %v", got)
	}
	if got := findCounter(t, registry, "mditd_batch_total", map[string]string{"outcome": "partial"}); got != 1 {
		t.Fatalf("expected one partial batch, got %v", got)
	}
}

func TestHandlerExposesRuntimeCollectors(t *testing.T) {
	registry := NewRegistry()
	NewConversionMetrics(registry, "MDitD")

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected go runtime metrics in exposition")
	}
}
