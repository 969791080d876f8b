package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrEthical07/adminauth"
)

type fakeSource struct {
	snapshot adminauth.MetricsSnapshot
}

func (f fakeSource) MetricsSnapshot() adminauth.MetricsSnapshot { return f.snapshot }

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: adminauth.MetricsSnapshot{
			Counters:   map[adminauth.MetricID]uint64{},
			Histograms: map[adminauth.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp); n != 0 {
		t.Fatalf("expected no metrics for disabled source, got %d", n)
	}
}

func TestHandlerIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: adminauth.MetricsSnapshot{
			Counters: map[adminauth.MetricID]uint64{
				adminauth.MetricLoginSuccess: 7,
				adminauth.MetricAuditDropped: 2,
			},
			Histograms: map[adminauth.MetricID][]uint64{
				adminauth.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	out := scrape(t, exp.Handler())
	for _, want := range []string{
		"adminauth_login_success_total 7",
		"adminauth_audit_dropped_total 2",
		"adminauth_login_failure_total 0",
		`adminauth_authenticate_latency_seconds_bucket{le="0.005"} 1`,
		`adminauth_authenticate_latency_seconds_bucket{le="0.5"} 28`,
		`adminauth_authenticate_latency_seconds_bucket{le="+Inf"} 36`,
		"adminauth_authenticate_latency_seconds_count 36",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestExporterRegistersWithExternalRegistry(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: adminauth.MetricsSnapshot{
			Counters: map[adminauth.MetricID]uint64{adminauth.MetricRateLimitHit: 4},
		},
	})

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	expected := `
# HELP adminauth_rate_limit_hit_total Rate limit checks that denied a request.
# TYPE adminauth_rate_limit_hit_total counter
adminauth_rate_limit_hit_total 4
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "adminauth_rate_limit_hit_total"); err != nil {
		t.Fatalf("unexpected gather output: %v", err)
	}
}

func TestExporterReadsEngine(t *testing.T) {
	metrics := adminauth.NewMetrics(adminauth.MetricsConfig{Enabled: true})
	metrics.Inc(adminauth.MetricSessionMinted)

	exp := NewPrometheusExporterFromSource(metricsAdapter{metrics})
	out := scrape(t, exp.Handler())
	if !strings.Contains(out, "adminauth_session_minted_total 1") {
		t.Fatalf("expected minted counter, got:\n%s", out)
	}
}

type metricsAdapter struct{ m *adminauth.Metrics }

func (a metricsAdapter) MetricsSnapshot() adminauth.MetricsSnapshot { return a.m.Snapshot() }

func BenchmarkCollect(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: adminauth.MetricsSnapshot{
			Counters: map[adminauth.MetricID]uint64{
				adminauth.MetricLoginSuccess:                1000,
				adminauth.MetricLoginFailure:                40,
				adminauth.MetricSessionMinted:               1000,
				adminauth.MetricAuthenticateSuccess:         90000,
				adminauth.MetricPasswordResetConfirmFailure: 3,
			},
			Histograms: map[adminauth.MetricID][]uint64{
				adminauth.MetricAuthenticateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(exp)
	}
}
