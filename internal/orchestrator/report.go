package orchestrator

import "github.com/skillcore/sandbox/internal/scanner"

// ScanReport is the human-facing form of a scan: the issues found plus the
// code hash they were computed against, returned to the caller so a
// NeedsConfirmation result can be rendered without a second scan call.
type ScanReport struct {
	ScanID   string                   `json:"scan_id"`
	CodeHash string                   `json:"code_hash"`
	Issues   []scanner.SecurityIssue  `json:"issues"`
	RiskLevel string                  `json:"risk_level"`
}

// Advisory mirrors dependency.Advisory for the orchestrator's own JSON
// surface, so callers never need to import the dependency package directly.
type Advisory struct {
	Ecosystem string `json:"ecosystem"`
	Package   string `json:"package"`
	ID        string `json:"id"`
	Summary   string `json:"summary"`
	Severity  string `json:"severity"`
}

// ValidationReport is the result of validate(skill_dir): manifest parse,
// scan, and dependency audit combined, without running anything.
type ValidationReport struct {
	ManifestOK    bool             `json:"manifest_ok"`
	ManifestError string           `json:"manifest_error,omitempty"`
	Scan          *ScanReport      `json:"scan,omitempty"`
	Advisories    []Advisory       `json:"advisories,omitempty"`
	Degraded      bool             `json:"degraded,omitempty"`
}

// ManifestReport is info(skill_dir): the parsed manifest fields plus
// whether the skill uses Playwright.
type ManifestReport struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Language        string   `json:"language"`
	EntryPoint      string   `json:"entry_point"`
	NetworkEnabled  bool     `json:"network_enabled"`
	NetworkOutbound []string `json:"network_outbound,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	UsesPlaywright  bool     `json:"uses_playwright"`
}
