package cmdlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackfillFromIterationLog_ExtractsBashCommands(t *testing.T) {
	output := `some prose the AI wrote
{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}
{"type":"tool_use","name":"Read","input":{"path":"main.go"}}
{"type":"tool_result","content":"ok"}
{"type":"tool_use","name":"Bash","input":{"command":"go vet ./..."}}
`
	entries := BackfillFromIterationLog(output, 3, "STORY-2")
	assert.Len(t, entries, 2)
	assert.Equal(t, "go test ./...", entries[0].Command)
	assert.Equal(t, "go vet ./...", entries[1].Command)
	for _, e := range entries {
		assert.Equal(t, 0, int(e.DurationMS))
		assert.Equal(t, 3, e.Iteration)
		assert.Equal(t, "STORY-2", e.StoryID)
		assert.Equal(t, "ai", e.Source)
	}
}

func TestBackfillFromIterationLog_IgnoresNonToolUseLines(t *testing.T) {
	entries := BackfillFromIterationLog("plain text only\nmore text", 1, "STORY-1")
	assert.Empty(t, entries)
}
