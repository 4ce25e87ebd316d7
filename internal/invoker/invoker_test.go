package invoker

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFamily(t *testing.T) {
	assert.Equal(t, FamilyClaude, DetectFamily("claude"))
	assert.Equal(t, FamilyCodex, DetectFamily("codex"))
	assert.Equal(t, FamilyGemini, DetectFamily("gemini"))
	assert.Equal(t, FamilyClaude, DetectFamily("my-claude-alias"))
}

func TestBuildClaudeCommand_ArgShape(t *testing.T) {
	cmd := buildClaudeCommand(Config{Command: "claude", Extra: []string{"--model", "x"}, OutputFormat: "json"})
	assert.Equal(t, []string{"claude", "-p", "--model", "x", "--output-format", "json", "--verbose"}, cmd.Args)
}

func TestBuildCodexCommand_ArgShape(t *testing.T) {
	cmd := buildCodexCommand(Config{Command: "codex", StreamJSON: true})
	assert.Equal(t, []string{"codex", "exec", "-", "--json"}, cmd.Args)
}

func TestBuildGeminiCommand_ArgShape(t *testing.T) {
	cmd := buildGeminiCommand(Config{Command: "gemini", OutputFormat: "json"})
	assert.Equal(t, []string{"gemini", "-p", "--output-format", "json"}, cmd.Args)
}

func TestRunCmd_DeliversPromptOnStdinAndStreamsLines(t *testing.T) {
	cmd := exec.Command("cat")
	var sink bytes.Buffer
	var seen []string

	result, err := runCmd(context.Background(), cmd, time.Second, "line one\nline two\n", &sink, func(l string) {
		seen = append(seen, l)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.TimedOut)
	assert.Equal(t, []string{"line one", "line two"}, seen)
	assert.Equal(t, "line one\nline two\n", sink.String())
}

func TestRunCmd_TimesOutWithExitCode124(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	var sink bytes.Buffer

	result, err := runCmd(context.Background(), cmd, 50*time.Millisecond, "", &sink, nil)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, 124, result.ExitCode)
}

func TestRunCmd_NonZeroExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 3")
	var sink bytes.Buffer

	result, err := runCmd(context.Background(), cmd, time.Second, "", &sink, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}
