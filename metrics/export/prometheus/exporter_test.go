package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	phlow "github.com/phlow-dev/phlow"
)

type fakeSource struct {
	snapshot phlow.MetricsSnapshot
	pending  int
	failures uint64
}

func (f fakeSource) MetricsSnapshot() phlow.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditPending() int                      { return f.pending }
func (f fakeSource) AuditFlushFailures() uint64             { return f.failures }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: phlow.MetricsSnapshot{
			Counters: map[phlow.MetricID]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounters(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: phlow.MetricsSnapshot{
			Counters: map[phlow.MetricID]uint64{
				phlow.MetricAuthSuccess: 7,
				phlow.MetricRateLimited: 2,
			},
		},
		pending:  3,
		failures: 1,
	})

	out := exp.Render()
	if !strings.Contains(out, "phlow_auth_success_total 7") {
		t.Fatalf("expected auth_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "phlow_rate_limited_total 2") {
		t.Fatalf("expected rate_limited counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "phlow_audit_pending 3") {
		t.Fatalf("expected audit pending gauge in output, got:\n%s", out)
	}
	if !strings.Contains(out, "phlow_audit_flush_failures_total 1") {
		t.Fatalf("expected audit flush failures counter in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: phlow.MetricsSnapshot{
			Counters: map[phlow.MetricID]uint64{phlow.MetricAuthSuccess: 1},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
