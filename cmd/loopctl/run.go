package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentloop/loopctl/internal/backlog"
	"github.com/agentloop/loopctl/internal/circuitbreaker"
	"github.com/agentloop/loopctl/internal/cmdlog"
	"github.com/agentloop/loopctl/internal/config"
	"github.com/agentloop/loopctl/internal/detector"
	"github.com/agentloop/loopctl/internal/engine"
	"github.com/agentloop/loopctl/internal/gates"
	"github.com/agentloop/loopctl/internal/invoker"
	"github.com/agentloop/loopctl/internal/ratelimit"
	"github.com/agentloop/loopctl/internal/research"
)

var runAICommand string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the iteration loop against the configured backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			fatal(exitConfiguration, "loading configuration: %v", err)
		}

		dir := featureDir()
		store, err := backlog.New(dir)
		if err != nil {
			fatal(exitConfiguration, "opening feature directory: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "backlog.json")); err != nil {
			fatal(exitConfiguration, "no backlog.json in %s; create one before running", dir)
		}

		locks, err := lockDir()
		if err != nil {
			fatal(exitEnvironment, "%v", err)
		}

		if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
			fatal(exitEnvironment, "creating logs directory: %v", err)
		}

		qualityCmd := cfg.QualityChecks.All
		if qualityCmd == "" {
			backend, frontend := cfg.QualityChecks.Backend, cfg.QualityChecks.Frontend
			switch {
			case backend != "" && frontend != "":
				qualityCmd = "(" + backend + ") && (" + frontend + ")"
			case backend != "":
				qualityCmd = backend
			default:
				qualityCmd = frontend
			}
		}
		successCmd := cfg.SuccessCriteria.Command

		var specText string
		if data, err := os.ReadFile(filepath.Join(dir, "spec.md")); err == nil {
			specText = string(data)
		}

		e := &engine.Engine{
			FeatureDir:  dir,
			ProjectDir:  projectDir,
			LockDir:     locks,
			ProjectSpec: specText,
			Config:      *cfg,
			Store:       store,
			RateLimiter: ratelimit.New(filepath.Join(dir, "rate_limiter.state"), cfg.Defaults.RateLimitPerHour, time.Second),
			Breaker:     circuitbreaker.New(filepath.Join(dir, "circuit_breaker.state"), cfg.CircuitBreaker.NoProgressThreshold, cfg.CircuitBreaker.SameErrorThreshold),
			Research:    research.New(cfg.Research.MaxAgents),
			CmdLog:      cmdlog.New(filepath.Join(dir, "logs", "commands.jsonl")),
			InvokerConfig: invoker.Config{
				Command:      runAICommand,
				OutputFormat: "json",
				StreamJSON:   true,
				Timeout:      cfg.Defaults.TimeoutDuration(),
				WorkingDir:   projectDir,
			},
			DetectorConfig: detector.Config{
				CompletionPromise:  cfg.Completion.Promise,
				StoryCompleteToken: detector.DefaultConfig().StoryCompleteToken,
				CustomPatterns:     cfg.Completion.CustomPatterns,
			},
			GatesConfig: gates.Config{
				QualityCommand:         qualityCmd,
				SuccessCriteriaCommand: successCmd,
				SuccessCriteriaTimeout: config.Duration(cfg.SuccessCriteria.Timeout),
				HookCommand:            hookCommand(cfg.Hooks),
				HookTimeout:            config.Duration(600),
				WorkingDir:             projectDir,
			},
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		e.Hooks = engine.Hooks{
			OnIterationStart: func(iteration int, story backlog.Story) {
				fmt.Printf("%s iteration %d: %s %s\n", yellow("→"), iteration, story.ID, story.Title)
			},
			OnWarn: func(msg string) {
				fmt.Fprintf(os.Stderr, "%s %s\n", yellow("warning:"), msg)
			},
			OnGateResult: func(r gates.Result) {
				if r.Passed() {
					fmt.Printf("  %s gate %q passed\n", green("✓"), r.Name)
				} else {
					fmt.Printf("  %s gate %q failed (exit %d)\n", red("✗"), r.Name, r.ExitCode)
				}
			},
			OnRateLimitWait: func(remaining time.Duration) {
				fmt.Printf("%s rate limit reached; waiting %s for the window to reset\n", yellow("⏳"), remaining.Round(time.Second))
			},
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := e.Run(ctx)
		if err != nil {
			fatal(exitEnvironment, "%v", err)
		}

		fmt.Printf("\n%s: %s", yellow("terminal state"), outcome.Terminal)
		if outcome.Reason != "" {
			fmt.Printf(" (%s)", outcome.Reason)
		}
		fmt.Printf(" after %d iteration(s)\n", outcome.Iterations)

		switch outcome.Terminal {
		case engine.TerminalSuccess:
			return nil
		case engine.TerminalLockConflict:
			os.Exit(exitEnvironment)
		case engine.TerminalCanceled:
			os.Exit(exitOK)
		default:
			os.Exit(exitLoopExhaustion)
		}
		return nil
	},
}

func hookCommand(hooks config.Hooks) string {
	if !hooks.Enabled {
		return ""
	}
	return hooks.Command
}

func init() {
	runCmd.Flags().StringVar(&runAICommand, "ai-command", "claude", "AI tool command to invoke (claude, codex, gemini, or a compatible alias)")
	rootCmd.AddCommand(runCmd)
}
