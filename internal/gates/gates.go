// Package gates runs the three verification gates that decide whether a
// claimed story completion is trustworthy: quality, success-criteria, and
// the user-defined post-iteration hook (spec.md §4.7).
package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Outcome classifies a gate's result. A hook's exit 75 (verification
// failed) is reported as OutcomeFail, the same Outcome as any other
// non-zero exit; every failing Outcome feeds the circuit breaker's error
// channel the same way (SPEC_FULL.md §9).
type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeFail
	OutcomeTimeout
	OutcomeSkipped // gate not configured; warns and passes
)

// Result is the outcome of one gate.
type Result struct {
	Name     string
	Outcome  Outcome
	Output   string
	ExitCode int
}

// Passed reports whether the gate should be treated as having succeeded.
func (r Result) Passed() bool {
	return r.Outcome == OutcomePass || r.Outcome == OutcomeSkipped
}

// Config configures the three gate commands and their timeouts.
type Config struct {
	QualityCommand        string
	SuccessCriteriaCommand string
	SuccessCriteriaTimeout time.Duration
	HookCommand            string
	HookTimeout            time.Duration
	WorkingDir             string
}

// Context is the ephemeral JSON payload written for the post-iteration hook
// (spec.md §4.7).
type Context struct {
	StoryID    string    `json:"story_id"`
	Iteration  int       `json:"iteration"`
	FeatureDir string    `json:"feature_dir"`
	OutputFile string    `json:"output_file"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunQuality runs the optional quality gate. An unset command warns (via
// onWarn, if non-nil) and passes, per spec.md §4.7 item 1.
func RunQuality(ctx context.Context, cfg Config, onWarn func(string)) Result {
	if cfg.QualityCommand == "" {
		if onWarn != nil {
			onWarn("no quality gate configured; skipping")
		}
		return Result{Name: "quality", Outcome: OutcomeSkipped}
	}
	return runShellGate(ctx, "quality", cfg.QualityCommand, 0, cfg.WorkingDir)
}

// RunSuccessCriteria runs the success-criteria gate under its timeout
// (default 300s). An unset command means the gate is not configured: it
// returns OutcomeSkipped, without the warning RunQuality emits.
func RunSuccessCriteria(ctx context.Context, cfg Config) Result {
	if cfg.SuccessCriteriaCommand == "" {
		return Result{Name: "success_criteria", Outcome: OutcomeSkipped}
	}
	timeout := cfg.SuccessCriteriaTimeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	return runShellGate(ctx, "success_criteria", cfg.SuccessCriteriaCommand, timeout, cfg.WorkingDir)
}

// RunHook runs the user-defined post-iteration hook, passing it the path to
// an ephemeral JSON context file. Exit 124 (or the hook's own timeout) is
// reported as OutcomeTimeout. Exit 75 (verification failed) and any other
// non-zero exit are both reported as OutcomeFail; they differ only in
// ExitCode.
func RunHook(ctx context.Context, cfg Config, hookCtx Context) (Result, error) {
	if cfg.HookCommand == "" {
		return Result{Name: "hook", Outcome: OutcomeSkipped}, nil
	}

	data, err := json.MarshalIndent(hookCtx, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshaling hook context: %w", err)
	}

	ctxFile, err := os.CreateTemp("", "loopctl-hook-context-*.json")
	if err != nil {
		return Result{}, fmt.Errorf("creating hook context file: %w", err)
	}
	defer os.Remove(ctxFile.Name())

	if _, err := ctxFile.Write(data); err != nil {
		ctxFile.Close()
		return Result{}, fmt.Errorf("writing hook context file: %w", err)
	}
	if err := ctxFile.Close(); err != nil {
		return Result{}, err
	}

	timeout := cfg.HookTimeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}

	result := runShellGate(ctx, "hook", cfg.HookCommand+" "+ctxFile.Name(), timeout, cfg.WorkingDir)
	if result.ExitCode == 75 {
		result.Outcome = OutcomeFail // Verification failed, per the hook contract (spec.md §6 exit codes).
	}
	if result.ExitCode == 124 {
		result.Outcome = OutcomeTimeout
	}
	return result, nil
}

// runShellGate runs command through the shell, capturing combined output
// and classifying the result. timeout == 0 means no timeout is applied.
func runShellGate(ctx context.Context, name, command string, timeout time.Duration, workingDir string) Result {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	output, err := cmd.CombinedOutput()
	result := Result{Name: name, Output: string(output)}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Outcome = OutcomeTimeout
		result.ExitCode = 124
		return result
	}

	if err == nil {
		result.Outcome = OutcomePass
		result.ExitCode = 0
		return result
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = 1
	}
	result.Outcome = OutcomeFail
	return result
}

// WriteErrorFeedback writes a gate's output into last_error.txt inside the
// feature directory so the next iteration's prompt can reference it
// (spec.md §4.7 item 2).
func WriteErrorFeedback(featureDir string, result Result) error {
	path := filepath.Join(featureDir, "last_error.txt")
	content := fmt.Sprintf("Gate %q failed (exit %d):\n\n%s\n", result.Name, result.ExitCode, result.Output)
	return os.WriteFile(path, []byte(content), 0o644)
}
