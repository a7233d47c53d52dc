package dependency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skillcore/sandbox/internal/manifest"
	"github.com/skillcore/sandbox/internal/scanner"
)

func TestAuditReturnsAdvisories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(osvResponse{Vulns: []osvVuln{
			{ID: "GHSA-xxxx", Summary: "Remote code execution in requests"},
		}})
	}))
	defer srv.Close()

	a := New(4)
	a.baseURL = srv.URL

	m := &manifest.Manifest{Dependencies: []manifest.PackageSpec{{Ecosystem: "pypi", Name: "requests"}}}
	report := a.Audit(context.Background(), m)

	if report.Degraded {
		t.Fatal("report should not be degraded")
	}
	if len(report.Advisories) != 1 {
		t.Fatalf("expected 1 advisory, got %d", len(report.Advisories))
	}
	if report.Advisories[0].Severity != scanner.Critical {
		t.Errorf("severity = %v, want Critical", report.Advisories[0].Severity)
	}
}

func TestAuditDegradesOnNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(4)
	a.baseURL = srv.URL

	m := &manifest.Manifest{Dependencies: []manifest.PackageSpec{{Ecosystem: "pypi", Name: "requests"}}}
	report := a.Audit(context.Background(), m)

	if !report.Degraded {
		t.Error("expected report to be degraded on server error")
	}
}

func TestAuditNoDependenciesIsNoOp(t *testing.T) {
	a := New(4)
	m := &manifest.Manifest{}
	report := a.Audit(context.Background(), m)
	if report.Degraded || len(report.Advisories) != 0 {
		t.Errorf("expected empty non-degraded report, got %+v", report)
	}
}
