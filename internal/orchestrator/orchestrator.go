// Package orchestrator is the single entry point that drives a skill
// execution end to end: manifest parse, runtime provisioning, scan/gate,
// dependency audit, sandbox launch, and resource-bounded monitoring.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skillcore/sandbox/internal/auditlog"
	"github.com/skillcore/sandbox/internal/dependency"
	"github.com/skillcore/sandbox/internal/gate"
	"github.com/skillcore/sandbox/internal/manifest"
	"github.com/skillcore/sandbox/internal/runtime"
	"github.com/skillcore/sandbox/internal/sandbox"
	"github.com/skillcore/sandbox/internal/scanner"
)

// Opts carries the per-call knobs that vary independently of the skill
// manifest: the requested isolation level, resource overrides, network
// overrides, and whether a prior NeedsConfirmation has already been
// approved by the caller. Zero values mean "use the manifest/defaults".
type Opts struct {
	Level           int
	AutoApprove     bool
	MaxMemoryMB     uint64
	TimeoutSecs     uint64
	AllowNetwork    *bool
	NetworkOutbound []string
}

// limits resolves ResourceLimits from defaults plus any per-call override.
func (o Opts) limits() sandbox.ResourceLimits {
	l := sandbox.DefaultResourceLimits()
	if o.MaxMemoryMB > 0 {
		l.MaxMemoryMB = o.MaxMemoryMB
	}
	if o.TimeoutSecs > 0 {
		l.TimeoutSecs = o.TimeoutSecs
	}
	return l
}

// Orchestrator wires together every component a run needs. One instance is
// shared across calls; its only mutable shared state is the scan gate and
// the runtime provisioner's cache, both already safe for concurrent use.
type Orchestrator struct {
	Provisioner *runtime.Provisioner
	Gate        *gate.Gate
	Auditor     *dependency.Auditor
	AuditLog    *auditlog.Log
	Log         *slog.Logger
	StrictAudit bool
}

// New builds an Orchestrator from already-opened dependencies.
func New(prov *runtime.Provisioner, auditLog *auditlog.Log, log *slog.Logger, strictAudit bool) *Orchestrator {
	return &Orchestrator{
		Provisioner: prov,
		Gate:        gate.New(),
		Auditor:     dependency.New(4),
		AuditLog:    auditLog,
		Log:         log,
		StrictAudit: strictAudit,
	}
}

// RunSkill drives the full algorithm in spec.md §4.12 for a skill directory
// given as JSON input on stdin.
func (o *Orchestrator) RunSkill(ctx context.Context, skillDir, inputJSON string, opts Opts) ExecutionResult {
	m, err := manifest.Parse(skillDir)
	if err != nil {
		return failed(FailureManifestInvalid, err.Error())
	}
	return o.runParsed(ctx, skillDir, m, inputJSON, "", opts)
}

// ScanOnly performs static inspection without provisioning or running
// anything.
func (o *Orchestrator) ScanOnly(skillDir string) (ScanReport, error) {
	m, err := manifest.Parse(skillDir)
	if err != nil {
		return ScanReport{}, err
	}
	return o.scan(skillDir, m)
}

// ConfirmAndRun re-enters execution after a user has approved a prior
// NeedsConfirmation(scan_id).
func (o *Orchestrator) ConfirmAndRun(ctx context.Context, skillDir, scanID, inputJSON string, opts Opts) ExecutionResult {
	m, err := manifest.Parse(skillDir)
	if err != nil {
		return failed(FailureManifestInvalid, err.Error())
	}
	rec, err := o.Gate.Consume(scanID, skillDir)
	if err != nil {
		return o.gateError(err)
	}
	o.auditEvent("confirm", m.Name, scanID, "approved", nil)
	return o.runParsed(ctx, skillDir, m, inputJSON, rec.ScanID, opts)
}

// ExecScript runs a specific script within skillDir, bypassing entry-point
// detection, but never the sandbox or scan/gate machinery.
func (o *Orchestrator) ExecScript(ctx context.Context, skillDir, scriptRelPath, inputJSON string, opts Opts) ExecutionResult {
	m, err := manifest.Parse(skillDir)
	if err != nil {
		return failed(FailureManifestInvalid, err.Error())
	}
	m.EntryPoint = scriptRelPath
	return o.runParsed(ctx, skillDir, m, inputJSON, "", opts)
}

// Validate returns a ValidationReport: manifest + scan + dependency audit,
// without running anything.
func (o *Orchestrator) Validate(ctx context.Context, skillDir string) ValidationReport {
	m, err := manifest.Parse(skillDir)
	if err != nil {
		return ValidationReport{ManifestOK: false, ManifestError: err.Error()}
	}

	report := ValidationReport{ManifestOK: true}
	scanReport, err := o.scan(skillDir, m)
	if err == nil {
		report.Scan = &scanReport
	}

	if len(m.Dependencies) > 0 {
		audit := o.Auditor.Audit(ctx, m)
		report.Degraded = audit.Degraded
		for _, a := range audit.Advisories {
			report.Advisories = append(report.Advisories, Advisory{
				Ecosystem: a.Ecosystem, Package: a.Package, ID: a.ID, Summary: a.Summary, Severity: a.Severity.String(),
			})
		}
	}
	return report
}

// Info returns the parsed manifest shaped for display.
func (o *Orchestrator) Info(skillDir string) (ManifestReport, error) {
	m, err := manifest.Parse(skillDir)
	if err != nil {
		return ManifestReport{}, err
	}
	deps := make([]string, len(m.Dependencies))
	for i, d := range m.Dependencies {
		deps[i] = d.Ecosystem + ":" + d.Name
	}
	return ManifestReport{
		Name:            m.Name,
		Description:     m.Description,
		Language:        string(m.Language),
		EntryPoint:      m.EntryPoint,
		NetworkEnabled:  m.NetworkEnabled,
		NetworkOutbound: m.NetworkOutbound,
		Dependencies:    deps,
		UsesPlaywright:  m.UsesPlaywright(),
	}, nil
}

func (o *Orchestrator) scan(skillDir string, m *manifest.Manifest) (ScanReport, error) {
	issues, err := scanner.Scan(skillDir, m.Language, m.NetworkEnabled)
	if err != nil {
		return ScanReport{}, err
	}
	codeHash, err := gate.CodeHash(skillDir)
	if err != nil {
		return ScanReport{}, err
	}
	scanID, err := o.Gate.Record(skillDir, issues)
	if err != nil {
		return ScanReport{}, err
	}
	return ScanReport{ScanID: scanID, CodeHash: codeHash, Issues: issues, RiskLevel: scanner.RiskLevel(issues)}, nil
}

// runParsed is shared by RunSkill, ConfirmAndRun and ExecScript once a
// manifest is in hand. approvedScanID is non-empty only when the caller has
// already passed the gate via ConfirmAndRun.
func (o *Orchestrator) runParsed(ctx context.Context, skillDir string, m *manifest.Manifest, inputJSON, approvedScanID string, opts Opts) ExecutionResult {
	level := sandbox.ParseLevel(opts.Level)

	paths, err := o.Provisioner.Ensure(ctx, m, skillDir)
	if err != nil {
		return failed(FailureLaunch, fmt.Sprintf("provision runtime: %v", err))
	}

	if level == sandbox.LevelGated && approvedScanID == "" {
		issues, err := scanner.Scan(skillDir, m.Language, m.NetworkEnabled)
		if err != nil {
			return failed(FailureInternal, fmt.Sprintf("scan: %v", err))
		}
		scanID, err := o.Gate.Record(skillDir, issues)
		if err != nil {
			return failed(FailureInternal, fmt.Sprintf("record scan: %v", err))
		}
		decision := gate.Decide(int(level), scanID, issues)
		if decision.NeedsConfirmation {
			codeHash, _ := gate.CodeHash(skillDir)
			report := ScanReport{ScanID: scanID, CodeHash: codeHash, Issues: issues, RiskLevel: scanner.RiskLevel(issues)}
			o.auditEvent("scan", m.Name, scanID, "needs_confirmation", nil)
			if opts.AutoApprove {
				if _, err := o.Gate.Consume(scanID, skillDir); err != nil {
					return o.gateError(err)
				}
			} else {
				return needsConfirmation(scanID, &report)
			}
		} else {
			o.Gate.SeedKnownHash(codeHash(skillDir))
			o.auditEvent("scan", m.Name, scanID, "clean", nil)
		}

		if len(m.Dependencies) > 0 {
			audit := o.Auditor.Audit(ctx, m)
			if audit.Degraded && o.StrictAudit {
				return failed(FailureInternal, "dependency audit degraded under strict_audit policy")
			}
		}
	}

	outputDir, err := os.MkdirTemp("", "skillcore-run-*")
	if err != nil {
		return failed(FailureInternal, fmt.Sprintf("create output dir: %v", err))
	}
	defer os.RemoveAll(outputDir)

	networkEnabled := m.NetworkEnabled
	networkOutbound := m.NetworkOutbound
	if opts.AllowNetwork != nil {
		networkEnabled = *opts.AllowNetwork
	}
	if len(opts.NetworkOutbound) > 0 {
		networkOutbound = opts.NetworkOutbound
	}

	cfg := sandbox.SandboxConfig{
		Name:            m.Name,
		EntryPoint:      filepath.Join(skillDir, m.EntryPoint),
		Interpreter:     interpreterFor(m, paths),
		Language:        string(m.Language),
		WorkspaceRoot:   skillDir,
		OutputDir:       outputDir,
		EnvCacheDir:     paths.EnvCacheDir,
		NetworkEnabled:  networkEnabled,
		NetworkOutbound: networkOutbound,
		UsesPlaywright:  m.UsesPlaywright(),
		Level:           level,
		Limits:          opts.limits(),
		Input:           inputJSON,
	}

	if cfg.NetworkEnabled && len(cfg.NetworkOutbound) > 0 {
		proxy, err := sandbox.StartProxy(cfg.NetworkOutbound, m.Name, o.AuditLog)
		if err != nil {
			return failed(FailureLaunch, fmt.Sprintf("start network proxy: %v", err))
		}
		defer proxy.Close()
		cfg.ProxyPort = proxy.Port()
	}

	runner, err := sandbox.New(cfg)
	if err != nil {
		o.auditEvent("run", m.Name, approvedScanID, "enforcement_denied", nil)
		return denied(DenyEnforcement, err.Error())
	}
	defer runner.Cleanup()

	start := time.Now()
	res, err := runner.Run(ctx, cfg)
	if err != nil {
		o.auditEvent("run", m.Name, approvedScanID, "error", map[string]any{"error": err.Error()})
		return failed(FailureInternal, err.Error())
	}

	outcome := execResultFromRun(res, time.Since(start))
	o.auditEvent("run", m.Name, approvedScanID, string(outcome.Outcome), map[string]any{"exit_code": outcome.ExitCode})
	return outcome
}

func execResultFromRun(res *sandbox.RunResult, elapsed time.Duration) ExecutionResult {
	switch res.Reason {
	case sandbox.ExitedOk:
		return ok(string(res.Stdout), string(res.Stderr), res.ExitCode, res.Truncated, res.DurationMS, res.PeakRSSKB)
	case sandbox.ExitedError:
		r := ok(string(res.Stdout), string(res.Stderr), res.ExitCode, res.Truncated, res.DurationMS, res.PeakRSSKB)
		r.Outcome = OutcomeFailed
		r.Failure = FailureNonZeroExit
		r.Reason = string(res.Stderr)
		return r
	case sandbox.KilledTimeout:
		r := failed(FailureTimeout, "execution exceeded timeout_secs")
		r.PeakRSSKB = res.PeakRSSKB
		return r
	case sandbox.KilledOOM:
		r := failed(FailureOom, "execution exceeded max_memory_mb")
		r.PeakRSSKB = res.PeakRSSKB
		return r
	default:
		return failed(FailureInternal, "unknown exit reason")
	}
}

// gateError maps a gate consume/lookup error onto an ExecutionResult.
// TamperDetected and Expired are distinct, addressable outcomes (CLI exit
// code 4, RPC codes 2002/2003 per spec.md §6) since both mean "this scan_id
// can no longer be trusted" for a reason the caller can act on (re-scan).
// AlreadyConsumed and NotFound are caller misuse of a scan_id (reuse, typo)
// rather than a security-relevant denial, so they fall through to the
// generic internal-failure path.
func (o *Orchestrator) gateError(err error) ExecutionResult {
	switch err {
	case gate.ErrTamperDetected:
		return denied(DenyTamperDetected, err.Error())
	case gate.ErrExpired:
		return denied(DenyExpired, err.Error())
	case gate.ErrAlreadyConsumed, gate.ErrNotFound:
		return failed(FailureInternal, err.Error())
	default:
		return failed(FailureInternal, err.Error())
	}
}

func (o *Orchestrator) auditEvent(event, skill, scanID, outcome string, detail map[string]any) {
	if o.AuditLog == nil {
		return
	}
	_ = o.AuditLog.Write(auditlog.Entry{Event: event, Skill: skill, ScanID: scanID, Outcome: outcome, Detail: detail})
}

func interpreterFor(m *manifest.Manifest, paths runtime.RuntimePaths) string {
	if paths.InterpreterPath != "" {
		return paths.InterpreterPath
	}
	switch m.Language {
	case manifest.Python:
		return "python3"
	case manifest.JavaScript, manifest.TypeScript:
		return "node"
	case manifest.Shell:
		return "bash"
	default:
		return ""
	}
}

func codeHash(skillDir string) string {
	h, _ := gate.CodeHash(skillDir)
	return h
}
