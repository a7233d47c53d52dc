// Package rpc serves the stdio JSON-RPC protocol in spec.md §4.13: one JSON
// object per line in, one JSON object per line out, dispatched to
// internal/orchestrator through a bounded worker pool so that requests with
// distinct ids may run concurrently and responses may arrive out of order.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/skillcore/sandbox/internal/manifest"
	"github.com/skillcore/sandbox/internal/orchestrator"
)

const defaultWorkers = 8

// maxLineBytes bounds a single request line; params (especially input) are
// expected to be modest JSON documents, not large payloads.
const maxLineBytes = 16 * 1024 * 1024

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// options mirrors spec.md §6's RPC options object: {sandbox_level,
// max_memory_mb, timeout_secs, allow_network, network_outbound}.
type options struct {
	SandboxLevel    int      `json:"sandbox_level"`
	MaxMemoryMB     uint64   `json:"max_memory_mb"`
	TimeoutSecs     uint64   `json:"timeout_secs"`
	AllowNetwork    *bool    `json:"allow_network"`
	NetworkOutbound []string `json:"network_outbound"`
	AutoApprove     bool     `json:"auto_approve"`
}

func (o options) toOpts() orchestrator.Opts {
	return orchestrator.Opts{
		Level:           o.SandboxLevel,
		AutoApprove:     o.AutoApprove,
		MaxMemoryMB:     o.MaxMemoryMB,
		TimeoutSecs:     o.TimeoutSecs,
		AllowNetwork:    o.AllowNetwork,
		NetworkOutbound: o.NetworkOutbound,
	}
}

// Service dispatches decoded RPC requests to an Orchestrator.
type Service struct {
	orch    *orchestrator.Orchestrator
	workers int
}

// New builds a Service with the default worker pool size.
func New(orch *orchestrator.Orchestrator) *Service {
	return &Service{orch: orch, workers: defaultWorkers}
}

// WithWorkers overrides the worker pool size; n<=0 is ignored.
func (s *Service) WithWorkers(n int) *Service {
	if n > 0 {
		s.workers = n
	}
	return s
}

// Serve reads newline-delimited requests from r and writes newline-delimited
// responses to w until r is exhausted or a shutdown or kill request is
// received. kill and shutdown are honored synchronously: no request
// received after them is dispatched, though in-flight work is allowed to
// finish. Canceling ctx cancels the context of in-flight requests; it does
// not stop the read loop.
func (s *Service) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var writeMu sync.Mutex
	write := func(resp response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			write(response{Error: &rpcError{Code: 1000, Message: "parse error: " + err.Error()}})
			continue
		}

		if req.Method == "shutdown" || req.Method == "kill" {
			write(response{ID: req.ID, Result: map[string]bool{"ok": true}})
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(req request) {
			defer wg.Done()
			defer func() { <-sem }()
			write(s.dispatch(runCtx, req))
		}(req)
	}

	wg.Wait()
	return scanner.Err()
}

func (s *Service) dispatch(ctx context.Context, req request) response {
	switch req.Method {
	case "run":
		return s.handleRun(ctx, req)
	case "exec":
		return s.handleExec(ctx, req)
	case "bash":
		return s.handleBash(ctx, req)
	case "scan":
		return s.handleScan(req)
	case "validate":
		return s.handleValidate(ctx, req)
	case "info":
		return s.handleInfo(req)
	case "confirm":
		return s.handleConfirm(ctx, req)
	default:
		return response{ID: req.ID, Error: &rpcError{Code: 1003, Message: "unknown method: " + req.Method}}
	}
}

func (s *Service) handleRun(ctx context.Context, req request) response {
	var p struct {
		SkillDir string  `json:"skill_dir"`
		Input    string  `json:"input"`
		Options  options `json:"options"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return paramsError(req.ID, err)
	}
	res := s.orch.RunSkill(ctx, p.SkillDir, p.Input, p.Options.toOpts())
	return resultResponse(req.ID, res)
}

func (s *Service) handleExec(ctx context.Context, req request) response {
	var p struct {
		SkillDir string  `json:"skill_dir"`
		Script   string  `json:"script"`
		Input    string  `json:"input"`
		Options  options `json:"options"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return paramsError(req.ID, err)
	}
	res := s.orch.ExecScript(ctx, p.SkillDir, p.Script, p.Input, p.Options.toOpts())
	return resultResponse(req.ID, res)
}

func (s *Service) handleBash(ctx context.Context, req request) response {
	var p struct {
		SkillDir string  `json:"skill_dir"`
		Command  string  `json:"command"`
		Options  options `json:"options"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return paramsError(req.ID, err)
	}
	res := s.orch.Bash(ctx, p.SkillDir, p.Command, p.Options.toOpts())
	return resultResponse(req.ID, res)
}

func (s *Service) handleConfirm(ctx context.Context, req request) response {
	var p struct {
		ScanID   string  `json:"scan_id"`
		SkillDir string  `json:"skill_dir"`
		Input    string  `json:"input"`
		Options  options `json:"options"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return paramsError(req.ID, err)
	}
	res := s.orch.ConfirmAndRun(ctx, p.SkillDir, p.ScanID, p.Input, p.Options.toOpts())
	return resultResponse(req.ID, res)
}

func (s *Service) handleScan(req request) response {
	var p struct {
		SkillDir string `json:"skill_dir"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return paramsError(req.ID, err)
	}
	report, err := s.orch.ScanOnly(p.SkillDir)
	if err != nil {
		code := 1002
		var pe *manifest.ParseError
		if errors.As(err, &pe) {
			code = 1001
		}
		return response{ID: req.ID, Error: &rpcError{Code: code, Message: err.Error()}}
	}
	return response{ID: req.ID, Result: report}
}

func (s *Service) handleValidate(ctx context.Context, req request) response {
	var p struct {
		SkillDir string `json:"skill_dir"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return paramsError(req.ID, err)
	}
	report := s.orch.Validate(ctx, p.SkillDir)
	if !report.ManifestOK {
		return response{ID: req.ID, Error: &rpcError{Code: 1001, Message: report.ManifestError, Data: report}}
	}
	return response{ID: req.ID, Result: report}
}

func (s *Service) handleInfo(req request) response {
	var p struct {
		SkillDir string `json:"skill_dir"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return paramsError(req.ID, err)
	}
	report, err := s.orch.Info(p.SkillDir)
	if err != nil {
		return response{ID: req.ID, Error: &rpcError{Code: 1001, Message: err.Error()}}
	}
	return response{ID: req.ID, Result: report}
}

func paramsError(id json.RawMessage, err error) response {
	return response{ID: id, Error: &rpcError{Code: 1000, Message: "invalid params: " + err.Error()}}
}

// resultResponse maps an ExecutionResult onto spec.md §6's error code
// families. An ok result is returned as the result; a nonzero child exit
// arrives as a failed/non_zero_exit result and is returned as error 4003
// with the full result as data, so exit_code is available either way.
func resultResponse(id json.RawMessage, res orchestrator.ExecutionResult) response {
	switch res.Outcome {
	case orchestrator.OutcomeOk:
		return response{ID: id, Result: res}
	case orchestrator.OutcomeNeedsConfirmation:
		return response{ID: id, Error: &rpcError{Code: 2001, Message: "needs_confirmation", Data: res}}
	case orchestrator.OutcomeDenied:
		switch res.DenyReason {
		case orchestrator.DenyTamperDetected:
			return response{ID: id, Error: &rpcError{Code: 2002, Message: res.Reason, Data: res}}
		case orchestrator.DenyExpired:
			return response{ID: id, Error: &rpcError{Code: 2003, Message: res.Reason, Data: res}}
		case orchestrator.DenyPolicy:
			return response{ID: id, Error: &rpcError{Code: 2004, Message: res.Reason, Data: res}}
		default: // DenyEnforcement
			return response{ID: id, Error: &rpcError{Code: 3003, Message: res.Reason, Data: res}}
		}
	case orchestrator.OutcomeFailed:
		switch res.Failure {
		case orchestrator.FailureManifestInvalid:
			return response{ID: id, Error: &rpcError{Code: 1001, Message: res.Reason}}
		case orchestrator.FailureLaunch:
			return response{ID: id, Error: &rpcError{Code: 3001, Message: res.Reason}}
		case orchestrator.FailureTimeout:
			return response{ID: id, Error: &rpcError{Code: 4001, Message: res.Reason, Data: res}}
		case orchestrator.FailureOom:
			return response{ID: id, Error: &rpcError{Code: 4002, Message: res.Reason, Data: res}}
		case orchestrator.FailureNonZeroExit:
			return response{ID: id, Error: &rpcError{Code: 4003, Message: res.Reason, Data: res}}
		default:
			return response{ID: id, Error: &rpcError{Code: 5001, Message: res.Reason}}
		}
	default:
		return response{ID: id, Error: &rpcError{Code: 5001, Message: "unknown outcome"}}
	}
}
