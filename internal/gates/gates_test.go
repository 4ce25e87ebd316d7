package gates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunQuality_SkippedWhenUnset(t *testing.T) {
	var warned string
	result := RunQuality(context.Background(), Config{}, func(msg string) { warned = msg })
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.True(t, result.Passed())
	assert.NotEmpty(t, warned)
}

func TestRunQuality_PassAndFail(t *testing.T) {
	pass := RunQuality(context.Background(), Config{QualityCommand: "exit 0"}, nil)
	assert.Equal(t, OutcomePass, pass.Outcome)

	fail := RunQuality(context.Background(), Config{QualityCommand: "exit 1"}, nil)
	assert.Equal(t, OutcomeFail, fail.Outcome)
	assert.Equal(t, 1, fail.ExitCode)
}

func TestRunSuccessCriteria_Timeout(t *testing.T) {
	result := RunSuccessCriteria(context.Background(), Config{
		SuccessCriteriaCommand: "sleep 5",
		SuccessCriteriaTimeout: 50 * time.Millisecond,
	})
	assert.Equal(t, OutcomeTimeout, result.Outcome)
	assert.Equal(t, 124, result.ExitCode)
}

func TestRunSuccessCriteria_SkippedWhenUnset(t *testing.T) {
	result := RunSuccessCriteria(context.Background(), Config{})
	assert.Equal(t, OutcomeSkipped, result.Outcome)
}

func TestRunHook_ReceivesContextFileAndExitCode75IsVerificationFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "hook.sh")
	// Echo the context file's contents to stdout so the test can assert the
	// hook actually received a path to a readable JSON file, then exit 75.
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat \"$1\"\nexit 75\n"), 0o755))

	result, err := RunHook(context.Background(), Config{HookCommand: "sh " + script}, Context{
		StoryID:    "STORY-1",
		Iteration:  2,
		FeatureDir: dir,
		OutputFile: filepath.Join(dir, "out.txt"),
		Timestamp:  time.Unix(0, 0).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFail, result.Outcome)
	assert.Equal(t, 75, result.ExitCode)
	assert.Contains(t, result.Output, `"story_id": "STORY-1"`)
}

func TestRunHook_SkippedWhenUnset(t *testing.T) {
	result, err := RunHook(context.Background(), Config{}, Context{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
}

func TestRunHook_GenericFailureExitCode(t *testing.T) {
	result, err := RunHook(context.Background(), Config{HookCommand: "sh -c 'exit 2;'"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFail, result.Outcome)
	assert.Equal(t, 2, result.ExitCode)
}

func TestWriteErrorFeedback_WritesLastErrorFile(t *testing.T) {
	dir := t.TempDir()
	err := WriteErrorFeedback(dir, Result{Name: "quality", ExitCode: 1, Output: "boom"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "last_error.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")
	assert.Contains(t, string(data), "quality")
}
