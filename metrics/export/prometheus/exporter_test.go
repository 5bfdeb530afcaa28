package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	authflux "github.com/tidewell/authflux"
)

type fakeSource struct {
	snapshot authflux.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authflux.MetricsSnapshot { return f.snapshot }

func (f *fakeSource) AuditDropped() uint64 { return f.dropped }

func TestExporterExposition(t *testing.T) {
	source := &fakeSource{
		snapshot: authflux.MetricsSnapshot{
			Counters: map[authflux.MetricID]uint64{
				authflux.MetricIssue:          3,
				authflux.MetricRefreshSuccess: 2,
				authflux.MetricChainRevoked:   5,
			},
			Histograms: map[authflux.MetricID][]uint64{
				authflux.MetricValidateLatency: {4, 1, 0, 0, 0, 0, 0, 1, 0},
			},
		},
		dropped: 7,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	NewExporterFromSource(source).Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()

	for _, want := range []string{
		"authflux_issue_total 3",
		"authflux_refresh_success_total 2",
		"authflux_chain_revoked_total 5",
		"authflux_audit_dropped_total 7",
		`authflux_validate_latency_seconds_bucket{le="0.005"} 4`,
		`authflux_validate_latency_seconds_bucket{le="0.01"} 5`,
		`authflux_validate_latency_seconds_bucket{le="1"} 6`,
		"authflux_validate_latency_seconds_count 6",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestExporterEmptySnapshot(t *testing.T) {
	source := &fakeSource{
		snapshot: authflux.MetricsSnapshot{
			Counters:   map[authflux.MetricID]uint64{},
			Histograms: map[authflux.MetricID][]uint64{},
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	NewExporterFromSource(source).Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authflux_audit_dropped_total 0") {
		t.Fatalf("expected dropped counter in output:\n%s", rec.Body.String())
	}
}
