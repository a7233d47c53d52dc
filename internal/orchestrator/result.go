package orchestrator

// Outcome tags ExecutionResult's variant, giving callers (the RPC service,
// the CLI) a stable discriminator without type-switching on an interface.
type Outcome string

const (
	OutcomeOk                Outcome = "ok"
	OutcomeNeedsConfirmation Outcome = "needs_confirmation"
	OutcomeDenied            Outcome = "denied"
	OutcomeFailed            Outcome = "failed"
)

// FailureKind distinguishes why a Failed result happened.
type FailureKind string

const (
	FailureManifestInvalid FailureKind = "manifest_invalid"
	FailureNonZeroExit     FailureKind = "non_zero_exit"
	FailureTimeout         FailureKind = "timeout"
	FailureOom             FailureKind = "oom"
	FailureLaunch          FailureKind = "launch"
	FailureInternal        FailureKind = "internal"
)

// DenyReason distinguishes why a Denied result happened.
type DenyReason string

const (
	DenyTamperDetected DenyReason = "tamper_detected"
	DenyExpired        DenyReason = "expired"
	DenyPolicy         DenyReason = "policy"
	DenyEnforcement    DenyReason = "enforcement"
)

// ExecutionResult is the tagged union every public orchestrator operation
// returns. Exactly one of the variant-specific fields is meaningful,
// selected by Outcome.
type ExecutionResult struct {
	Outcome Outcome

	// OutcomeOk / OutcomeFailed
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	PeakRSSKB  uint64 `json:"peak_rss_kb,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`

	// OutcomeFailed
	Failure FailureKind `json:"failure,omitempty"`
	Reason  string      `json:"reason,omitempty"`

	// OutcomeNeedsConfirmation
	ScanID string         `json:"scan_id,omitempty"`
	Report *ScanReport    `json:"report,omitempty"`

	// OutcomeDenied
	DenyReason DenyReason `json:"deny_reason,omitempty"`
}

func ok(stdout, stderr string, exitCode int, truncated bool, durationMS int64, peakRSSKB uint64) ExecutionResult {
	return ExecutionResult{Outcome: OutcomeOk, Stdout: stdout, Stderr: stderr, ExitCode: exitCode, Truncated: truncated, DurationMS: durationMS, PeakRSSKB: peakRSSKB}
}

func failed(kind FailureKind, reason string) ExecutionResult {
	return ExecutionResult{Outcome: OutcomeFailed, Failure: kind, Reason: reason}
}

func denied(reason DenyReason, msg string) ExecutionResult {
	return ExecutionResult{Outcome: OutcomeDenied, DenyReason: reason, Reason: msg}
}

func needsConfirmation(scanID string, report *ScanReport) ExecutionResult {
	return ExecutionResult{Outcome: OutcomeNeedsConfirmation, ScanID: scanID, Report: report}
}
