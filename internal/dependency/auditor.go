// Package dependency queries an external vulnerability advisory source for
// a skill's declared dependencies and classifies the results. It is the
// only outbound network call the core makes outside of skill execution
// itself.
package dependency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/skillcore/sandbox/internal/manifest"
	"github.com/skillcore/sandbox/internal/scanner"
)

// Advisory is one matched vulnerability record for a package.
type Advisory struct {
	Ecosystem string
	Package   string
	ID        string
	Summary   string
	Severity  scanner.Severity
}

// Report is the result of auditing a manifest's dependencies.
type Report struct {
	Advisories []Advisory
	Degraded   bool // true if any query failed; advisories are a partial result
}

// Auditor queries an advisory source one dependency at a time, through a
// token-bucket rate limiter.
type Auditor struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// defaultBaseURL points at the OSV.dev query API, the same shape of
// (ecosystem, package, version) advisory lookup the spec describes.
const defaultBaseURL = "https://api.osv.dev/v1/query"

// New builds an Auditor whose limiter allows maxInFlight requests per
// second with a burst of maxInFlight.
func New(maxInFlight int) *Auditor {
	if maxInFlight < 1 {
		maxInFlight = 4
	}
	return &Auditor{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(rate.Limit(maxInFlight), maxInFlight),
	}
}

// Audit queries advisories for every dependency in m. A per-dependency
// network failure is non-fatal: it marks the report degraded and the
// remaining dependencies are still queried.
func (a *Auditor) Audit(ctx context.Context, m *manifest.Manifest) Report {
	var report Report
	for _, dep := range m.Dependencies {
		advisories, err := a.queryOne(ctx, dep)
		if err != nil {
			report.Degraded = true
			continue
		}
		report.Advisories = append(report.Advisories, advisories...)
	}
	return report
}

type osvQuery struct {
	Package osvPackage `json:"package"`
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type osvResponse struct {
	Vulns []osvVuln `json:"vulns"`
}

type osvVuln struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

func (a *Auditor) queryOne(ctx context.Context, dep manifest.PackageSpec) ([]Advisory, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(osvQuery{Package: osvPackage{
		Name:      dep.Name,
		Ecosystem: osvEcosystem(dep.Ecosystem),
	}})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query advisory source for %s: %w", dep.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisory source returned %s for %s", resp.Status, dep.Name)
	}

	var parsed osvResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode advisory response for %s: %w", dep.Name, err)
	}

	advisories := make([]Advisory, 0, len(parsed.Vulns))
	for _, v := range parsed.Vulns {
		advisories = append(advisories, Advisory{
			Ecosystem: dep.Ecosystem,
			Package:   dep.Name,
			ID:        v.ID,
			Summary:   v.Summary,
			Severity:  classifySeverity(v.Summary),
		})
	}
	return advisories, nil
}

func osvEcosystem(ecosystem string) string {
	switch ecosystem {
	case "pypi":
		return "PyPI"
	case "npm":
		return "npm"
	default:
		return ecosystem
	}
}

// classifySeverity is a coarse heuristic over the advisory summary text,
// since OSV's severity field format varies by source database; a dedicated
// CVSS parser is out of scope for this core.
func classifySeverity(summary string) scanner.Severity {
	lower := strings.ToLower(summary)
	switch {
	case strings.Contains(lower, "remote code execution") || strings.Contains(lower, "critical"):
		return scanner.Critical
	case strings.Contains(lower, "arbitrary code") || strings.Contains(lower, "privilege escalation"):
		return scanner.High
	default:
		return scanner.Medium
	}
}
