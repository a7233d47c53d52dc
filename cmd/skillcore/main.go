package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/skillcore/sandbox/internal/auditlog"
	"github.com/skillcore/sandbox/internal/config"
	"github.com/skillcore/sandbox/internal/logger"
	"github.com/skillcore/sandbox/internal/orchestrator"
	"github.com/skillcore/sandbox/internal/rpc"
	"github.com/skillcore/sandbox/internal/runtime"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "skillcore",
		Short: "skillcore — sandboxed third-party skill execution engine",
		Long:  "Scans, gates, and runs third-party skills under OS-native sandboxing.\nConfiguration is read from SANDBOX_* environment variables; see spec.md §6.",
	}

	root.AddCommand(
		runCmd(),
		scanCmd(),
		validateCmd(),
		infoCmd(),
		execCmd(),
		bashCmd(),
		confirmCmd(),
		rpcCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildOrchestrator opens every dependency an Orchestrator needs from the
// environment, per spec.md §6's SANDBOX_* variables.
func buildOrchestrator() (*orchestrator.Orchestrator, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Init("warn", cfg.AuditLogPath); err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	prov, err := runtime.Open(cfg.CacheDir, logger.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("open runtime provisioner: %w", err)
	}

	auditLog, err := auditlog.Open(cfg.AuditLogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}

	return orchestrator.New(prov, auditLog, logger.Log, cfg.StrictAudit), cfg, nil
}

func optsFromConfig(cfg *config.Config, level int, autoApprove bool) orchestrator.Opts {
	if level == 0 {
		level = cfg.SandboxLevel
	}
	return orchestrator.Opts{
		Level:       level,
		AutoApprove: autoApprove || cfg.AutoApprove,
		MaxMemoryMB: cfg.MaxMemoryMB,
		TimeoutSecs: cfg.TimeoutSecs,
	}
}

// exitCodeFor maps an ExecutionResult onto the CLI exit codes in spec.md §6.
func exitCodeFor(res orchestrator.ExecutionResult) int {
	switch res.Outcome {
	case orchestrator.OutcomeOk:
		return 0
	case orchestrator.OutcomeNeedsConfirmation:
		return 3
	case orchestrator.OutcomeDenied:
		switch res.DenyReason {
		case orchestrator.DenyTamperDetected, orchestrator.DenyExpired:
			return 4
		case orchestrator.DenyPolicy:
			return 7
		default:
			return 1
		}
	case orchestrator.OutcomeFailed:
		switch res.Failure {
		case orchestrator.FailureManifestInvalid:
			return 2
		case orchestrator.FailureTimeout:
			return 5
		case orchestrator.FailureOom:
			return 6
		default:
			return 1
		}
	default:
		return 1
	}
}

func printResult(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func runCmd() *cobra.Command {
	var level int
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "run <skill_dir> <input_json>",
		Short: "Run a skill's entry point against a JSON input document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cfg, err := buildOrchestrator()
			if err != nil {
				return err
			}
			res := o.RunSkill(cmd.Context(), args[0], args[1], optsFromConfig(cfg, level, autoApprove))
			printResult(res)
			os.Exit(exitCodeFor(res))
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "sandbox level override: 1, 2, or 3 (default from SANDBOX_LEVEL)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "auto-consume a NeedsConfirmation gate (headless test harnesses only)")
	return cmd
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <skill_dir>",
		Short: "Run the static scanner and record a scan_id without executing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			report, err := o.ScanOnly(args[0])
			if err != nil {
				printResult(map[string]string{"error": err.Error()})
				os.Exit(2)
			}
			printResult(report)
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <skill_dir>",
		Short: "Validate manifest, scan, and dependency audit without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			report := o.Validate(cmd.Context(), args[0])
			printResult(report)
			if !report.ManifestOK {
				os.Exit(2)
			}
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <skill_dir>",
		Short: "Print the parsed manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			report, err := o.Info(args[0])
			if err != nil {
				printResult(map[string]string{"error": err.Error()})
				os.Exit(2)
			}
			printResult(report)
			return nil
		},
	}
}

func execCmd() *cobra.Command {
	var level int
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "exec <skill_dir> <script> <input_json>",
		Short: "Run a specific script within the skill directory, bypassing entry-point detection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cfg, err := buildOrchestrator()
			if err != nil {
				return err
			}
			res := o.ExecScript(cmd.Context(), args[0], args[1], args[2], optsFromConfig(cfg, level, autoApprove))
			printResult(res)
			os.Exit(exitCodeFor(res))
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "sandbox level override: 1, 2, or 3 (default from SANDBOX_LEVEL)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "auto-consume a NeedsConfirmation gate (headless test harnesses only)")
	return cmd
}

func bashCmd() *cobra.Command {
	var level int

	cmd := &cobra.Command{
		Use:   "bash <skill_dir> <command>",
		Short: "Validate and run a shell command scoped to the skill directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cfg, err := buildOrchestrator()
			if err != nil {
				return err
			}
			res := o.Bash(cmd.Context(), args[0], args[1], optsFromConfig(cfg, level, false))
			printResult(res)
			os.Exit(exitCodeFor(res))
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "sandbox level override: 1, 2, or 3 (default from SANDBOX_LEVEL)")
	return cmd
}

func confirmCmd() *cobra.Command {
	var level int

	cmd := &cobra.Command{
		Use:   "confirm <skill_dir> <scan_id> <input_json>",
		Short: "Re-enter execution after approving a prior needs_confirmation gate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cfg, err := buildOrchestrator()
			if err != nil {
				return err
			}
			res := o.ConfirmAndRun(cmd.Context(), args[0], args[1], args[2], optsFromConfig(cfg, level, false))
			printResult(res)
			os.Exit(exitCodeFor(res))
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "sandbox level override: 1, 2, or 3 (default from SANDBOX_LEVEL)")
	return cmd
}

func rpcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rpc",
		Short: "Serve the stdio JSON-RPC protocol (one request per line) until stdin closes",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, err := buildOrchestrator()
			if err != nil {
				return err
			}
			svc := rpc.New(o)
			return svc.Serve(context.Background(), os.Stdin, os.Stdout)
		},
	}
}
