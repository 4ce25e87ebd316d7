// Package engine drives the iteration loop that turns a backlog of stories
// into a sequence of AI invocations, verification gates, and state writes
// (spec.md §4.11). Everything but the research pool is single-threaded and
// cooperative: one iteration runs to completion before the next begins.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentloop/loopctl/internal/backlog"
	"github.com/agentloop/loopctl/internal/circuitbreaker"
	"github.com/agentloop/loopctl/internal/cmdlog"
	"github.com/agentloop/loopctl/internal/config"
	"github.com/agentloop/loopctl/internal/detector"
	"github.com/agentloop/loopctl/internal/gates"
	"github.com/agentloop/loopctl/internal/invoker"
	"github.com/agentloop/loopctl/internal/lockfile"
	"github.com/agentloop/loopctl/internal/ratelimit"
	"github.com/agentloop/loopctl/internal/research"
	"github.com/agentloop/loopctl/internal/taskgen"
)

// Terminal identifies why a run stopped.
type Terminal int

const (
	TerminalSuccess Terminal = iota
	TerminalCircuitBroken
	TerminalCorruptBacklog
	TerminalMaxIterationsReached
	TerminalLockConflict
	TerminalCanceled
)

func (t Terminal) String() string {
	switch t {
	case TerminalSuccess:
		return "success"
	case TerminalCircuitBroken:
		return "circuit_broken"
	case TerminalCorruptBacklog:
		return "corrupt_backlog"
	case TerminalMaxIterationsReached:
		return "max_iterations_reached"
	case TerminalLockConflict:
		return "lock_conflict"
	case TerminalCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Run call.
type Outcome struct {
	Terminal   Terminal
	Iterations int
	Reason     string
}

// Hooks lets the caller (normally the CLI) observe loop progress without the
// engine importing any presentation concerns.
type Hooks struct {
	OnIterationStart func(iteration int, story backlog.Story)
	OnWarn           func(msg string)
	OnGateResult     func(gates.Result)
	OnRateLimitWait  func(remaining time.Duration)
}

// Engine owns every component a run needs and ties them together per
// spec.md §4.11's pseudocode contract.
type Engine struct {
	FeatureDir  string
	ProjectDir  string
	LockDir     string
	ProjectSpec string // full spec text, for taskgen.ExtractSection

	Config config.Config

	Store       *backlog.Store
	RateLimiter *ratelimit.Limiter
	Breaker     *circuitbreaker.Breaker
	Research    *research.Pool
	CmdLog      *cmdlog.Logger

	InvokerConfig  invoker.Config
	DetectorConfig detector.Config
	GatesConfig    gates.Config

	Hooks Hooks

	lock *lockfile.Handle
}

// Run acquires the feature lock, loads persisted rate-limiter and
// circuit-breaker state, and drives the iteration loop until a terminal
// condition is reached or ctx is canceled.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	lock, err := lockfile.Acquire(e.LockDir, e.FeatureDir)
	if err != nil {
		var conflict *lockfile.ConflictError
		if errors.As(err, &conflict) {
			return Outcome{Terminal: TerminalLockConflict, Reason: conflict.Error()}, nil
		}
		return Outcome{}, fmt.Errorf("engine: acquiring lock: %w", err)
	}
	e.lock = lock
	defer e.lock.Release()

	if err := e.RateLimiter.Load(); err != nil {
		return Outcome{}, fmt.Errorf("engine: loading rate limiter state: %w", err)
	}
	if err := e.Breaker.Load(); err != nil {
		return Outcome{}, fmt.Errorf("engine: loading circuit breaker state: %w", err)
	}

	maxIterations := e.Config.Defaults.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 50
	}

	for i := 1; i <= maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Terminal: TerminalCanceled, Iterations: i - 1}, nil
		}

		outcome, done, err := e.iterate(ctx, i)
		if err != nil {
			return Outcome{}, err
		}
		if done {
			outcome.Iterations = i
			return outcome, nil
		}
	}

	return Outcome{Terminal: TerminalMaxIterationsReached, Iterations: maxIterations,
		Reason: fmt.Sprintf("reached the configured maximum of %d iterations", maxIterations)}, nil
}

// iterate runs exactly one pass through preflight / prepare_task /
// invoke_ai / analyze / verify / update_state. The returned bool reports
// whether the run has reached a terminal state.
func (e *Engine) iterate(ctx context.Context, iteration int) (Outcome, bool, error) {
	// preflight: hour-window reset check, then the hard cap.
	e.RateLimiter.CheckHourReset()
	if !e.RateLimiter.Check() {
		if e.Hooks.OnRateLimitWait != nil {
			e.Hooks.OnRateLimitWait(time.Until(e.RateLimiter.ResetsAt()))
		}
		if err := e.RateLimiter.WaitForReset(ctx, e.Hooks.OnRateLimitWait); err != nil {
			return Outcome{}, false, fmt.Errorf("engine: waiting for rate limit reset: %w", err)
		}
	}

	b, err := e.Store.Load()
	if err != nil {
		return Outcome{}, false, fmt.Errorf("engine: loading backlog: %w", err)
	}

	if gaps := backlog.CheckSequential(b); len(gaps) > 0 {
		return Outcome{Terminal: TerminalCorruptBacklog, Reason: gaps[0].Error()}, true, nil
	}

	snapshot := backlog.PassesSnapshot(b)
	story := backlog.FirstIncomplete(b)
	if story == nil {
		return Outcome{Terminal: TerminalSuccess, Reason: "every story already passes"}, true, nil
	}

	if e.Hooks.OnIterationStart != nil {
		e.Hooks.OnIterationStart(iteration, *story)
	}

	// prepare_task
	prompt, err := e.buildPrompt(*story)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("engine: building prompt: %w", err)
	}

	// invoke_ai
	var stream bytes.Buffer
	result, invokeErr := invoker.Run(ctx, e.InvokerConfig, prompt, &stream, nil)
	if recordErr := e.RateLimiter.RecordCall(ctx); recordErr != nil && e.Hooks.OnWarn != nil {
		e.Hooks.OnWarn(fmt.Sprintf("recording rate limiter call: %v", recordErr))
	}
	if invokeErr != nil {
		return Outcome{}, false, fmt.Errorf("engine: invoking AI tool: %w", invokeErr)
	}
	output := stream.String()

	iterationLogPath := filepath.Join(e.FeatureDir, "logs", fmt.Sprintf("iteration-%d.log", iteration))
	if err := os.WriteFile(iterationLogPath, stream.Bytes(), 0o644); err != nil && e.Hooks.OnWarn != nil {
		e.Hooks.OnWarn(fmt.Sprintf("writing iteration log: %v", err))
	}

	e.logCommand(cmdlog.Entry{
		Timestamp: time.Now(), Source: "ai", Command: e.InvokerConfig.Command,
		ExitCode: result.ExitCode, DurationMS: result.Duration.Milliseconds(),
		Iteration: iteration, StoryID: story.ID,
	})
	for _, backfilled := range cmdlog.BackfillFromIterationLog(output, iteration, story.ID) {
		e.logCommand(backfilled)
	}

	// analyze: reload the backlog, since the AI may have edited backlog.json
	// directly as part of marking its own acceptance criteria.
	afterBacklog, err := e.Store.Load()
	if err != nil {
		return Outcome{}, false, fmt.Errorf("engine: reloading backlog after invocation: %w", err)
	}
	storyAdvanced := backlog.FirstIncomplete(afterBacklog) == nil ||
		backlog.FirstIncomplete(afterBacklog).ID != story.ID
	allComplete := backlog.AllComplete(afterBacklog)

	decision := detector.Detect(output, allComplete, storyAdvanced, e.DetectorConfig)

	var (
		terminalOutcome Outcome
		isTerminal      bool
		gateErr         string
		rolledBack      bool
	)

	switch decision {
	case detector.OutcomeComplete, detector.OutcomeStoryComplete:
		// verify: gate results take precedence over the signal-level outcome,
		// whether the AI claims one story finished or the whole backlog did.
		// A rollback here counts as both "no progress" and, if the gate
		// produced error output, as an error for the circuit breaker.
		passed, gateOutput := e.runGates(ctx, iteration, *story, iterationLogPath)
		if !passed {
			if err := e.Store.RollbackTo(afterBacklog, snapshot); err != nil {
				return Outcome{}, false, fmt.Errorf("engine: rolling back failed story: %w", err)
			}
			rolledBack = true
			gateErr = gateOutput
		} else {
			if err := e.Store.MarkComplete(afterBacklog, story.ID, iteration); err != nil {
				return Outcome{}, false, fmt.Errorf("engine: marking story complete: %w", err)
			}
			if decision == detector.OutcomeComplete {
				terminalOutcome = Outcome{Terminal: TerminalSuccess, Reason: "AI reported completion, the backlog agrees, and gates verified it"}
				isTerminal = true
			}
		}

	case detector.OutcomeAPILimit:
		if e.Hooks.OnRateLimitWait != nil {
			e.Hooks.OnRateLimitWait(time.Until(e.RateLimiter.ResetsAt()))
		}
		if err := e.RateLimiter.WaitForReset(ctx, e.Hooks.OnRateLimitWait); err != nil {
			return Outcome{}, false, fmt.Errorf("engine: waiting out API limit: %w", err)
		}

	case detector.OutcomeContinue:
		// No terminal signal; fall through to progress/error bookkeeping.
	}

	if isTerminal {
		return terminalOutcome, true, nil
	}

	// update_state: re-derive the post-iteration snapshot (a rollback
	// reverts it to match the pre-iteration one) and feed the breaker.
	finalBacklog, err := e.Store.Load()
	if err != nil {
		return Outcome{}, false, fmt.Errorf("engine: reloading backlog for bookkeeping: %w", err)
	}
	afterSnapshot := backlog.PassesSnapshot(finalBacklog)

	errText := gateErr
	if errText == "" && !rolledBack {
		errText = detector.ExtractError(output)
	}
	if errText != "" {
		e.Breaker.RecordError(circuitbreaker.Normalize(errText))
	} else {
		e.Breaker.ClearError()
	}
	e.Breaker.RecordProgress(snapshot, afterSnapshot)
	if err := e.Breaker.Save(); err != nil {
		return Outcome{}, false, fmt.Errorf("engine: saving circuit breaker state: %w", err)
	}

	if tripped, reason := e.Breaker.Tripped(); tripped {
		return Outcome{Terminal: TerminalCircuitBroken, Reason: reason}, true, nil
	}

	if gaps := backlog.CheckSequential(finalBacklog); len(gaps) > 0 {
		return Outcome{Terminal: TerminalCorruptBacklog, Reason: gaps[0].Error()}, true, nil
	}

	return Outcome{}, false, nil
}

// buildPrompt assembles the per-iteration prompt, pulling in the previous
// failure's text (if any) and the relevant spec excerpt for the story's
// title (spec.md §4.8/§4.12).
func (e *Engine) buildPrompt(story backlog.Story) (string, error) {
	var specExcerpt string
	if e.ProjectSpec != "" {
		specExcerpt = taskgen.ExtractSection(e.ProjectSpec, story.ID, story.Title)
	}

	var previousFailure string
	if data, err := lastErrorText(e.FeatureDir); err == nil {
		previousFailure = data
	}

	b, err := e.Store.Load()
	if err != nil {
		return "", err
	}

	return taskgen.Build(taskgen.Context{
		ProjectDescription: b.Description,
		SpecExcerpt:        specExcerpt,
		Story:              story,
		PreviousFailure:    previousFailure,
		StoryCompleteToken: e.DetectorConfig.StoryCompleteToken,
		CompletionPromise:  e.DetectorConfig.CompletionPromise,
	})
}

// runGates runs the quality gate, the success-criteria gate and the
// post-iteration hook in sequence, stopping at the first failure, and
// reports whether all of them passed, along with the failing gate's output
// for circuit-breaker bookkeeping and last_error.txt feedback.
func (e *Engine) runGates(ctx context.Context, iteration int, story backlog.Story, iterationLogPath string) (passed bool, output string) {
	quality := gates.RunQuality(ctx, e.GatesConfig, e.Hooks.OnWarn)
	e.recordGate(iteration, story.ID, "quality_gate", quality)
	if e.Hooks.OnGateResult != nil {
		e.Hooks.OnGateResult(quality)
	}
	if !quality.Passed() {
		gates.WriteErrorFeedback(e.FeatureDir, quality)
		return false, quality.Output
	}

	criteria := gates.RunSuccessCriteria(ctx, e.GatesConfig)
	e.recordGate(iteration, story.ID, "success_criteria", criteria)
	if e.Hooks.OnGateResult != nil {
		e.Hooks.OnGateResult(criteria)
	}
	if !criteria.Passed() {
		gates.WriteErrorFeedback(e.FeatureDir, criteria)
		return false, criteria.Output
	}

	hookCtx := gates.Context{
		StoryID: story.ID, Iteration: iteration, FeatureDir: e.FeatureDir,
		OutputFile: iterationLogPath, Timestamp: time.Now(),
	}
	hook, err := gates.RunHook(ctx, e.GatesConfig, hookCtx)
	if err != nil {
		if e.Hooks.OnWarn != nil {
			e.Hooks.OnWarn(fmt.Sprintf("running post-iteration hook: %v", err))
		}
		return true, "" // Hook infrastructure failure is not a verification failure.
	}
	e.recordGate(iteration, story.ID, "hook", hook)
	if e.Hooks.OnGateResult != nil {
		e.Hooks.OnGateResult(hook)
	}
	if !hook.Passed() {
		gates.WriteErrorFeedback(e.FeatureDir, hook)
		return false, hook.Output
	}

	return true, ""
}

func (e *Engine) recordGate(iteration int, storyID, source string, r gates.Result) {
	if r.Outcome == gates.OutcomeSkipped {
		return
	}
	e.logCommand(cmdlog.Entry{
		Timestamp: time.Now(), Source: source, Command: r.Name,
		ExitCode: r.ExitCode, Iteration: iteration, StoryID: storyID,
	})
}

func (e *Engine) logCommand(entry cmdlog.Entry) {
	if e.CmdLog == nil {
		return
	}
	if err := e.CmdLog.Log(entry); err != nil && e.Hooks.OnWarn != nil {
		e.Hooks.OnWarn(fmt.Sprintf("writing command log entry: %v", err))
	}
}

func lastErrorText(featureDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(featureDir, "last_error.txt"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
