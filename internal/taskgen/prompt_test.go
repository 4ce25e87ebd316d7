package taskgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/loopctl/internal/backlog"
)

func TestBuild_RendersStoryAndAcceptanceCriteria(t *testing.T) {
	prompt, err := Build(Context{
		ProjectDescription: "A CLI todo app.",
		Story: backlog.Story{
			ID:                 "STORY-3",
			Title:              "Add due dates",
			Description:        "Let users set a due date on a task.",
			AcceptanceCriteria: []string{"tasks can have a due date", "overdue tasks are flagged"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "A CLI todo app.")
	assert.Contains(t, prompt, "STORY-3")
	assert.Contains(t, prompt, "Add due dates")
	assert.Contains(t, prompt, "- [ ] tasks can have a due date")
	assert.Contains(t, prompt, "- [ ] overdue tasks are flagged")
	assert.Contains(t, prompt, "<promise>STORY_COMPLETE</promise>")
	assert.Contains(t, prompt, "<promise>COMPLETE</promise>")
}

func TestBuild_OmitsEmptySectionsCleanly(t *testing.T) {
	prompt, err := Build(Context{
		ProjectDescription: "desc",
		Story:              backlog.Story{ID: "STORY-1", Title: "t"},
	})
	require.NoError(t, err)

	assert.NotContains(t, prompt, "## Description")
	assert.NotContains(t, prompt, "## Acceptance Criteria")
	assert.NotContains(t, prompt, "## Notes")
	assert.NotContains(t, prompt, "PREVIOUS ATTEMPT FAILED")
	assert.NotContains(t, prompt, "RELEVANT SPECIFICATION")
}

func TestBuild_IncludesPreviousFailureAndSpecExcerpt(t *testing.T) {
	prompt, err := Build(Context{
		ProjectDescription: "desc",
		SpecExcerpt:        "## Rate limiting\nCap calls per hour.",
		Story:              backlog.Story{ID: "STORY-1", Title: "t"},
		PreviousFailure:    "FAIL: TestThing",
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "RELEVANT SPECIFICATION")
	assert.Contains(t, prompt, "Cap calls per hour.")
	assert.Contains(t, prompt, "PREVIOUS ATTEMPT FAILED")
	assert.Contains(t, prompt, "FAIL: TestThing")
}

const sampleSpec = `# OVERVIEW

Some overview text.

## Rate Limiting

Calls are capped per hour.

### Backoff

Exponential backoff on 429.

## Circuit Breaker

Trips after repeated failures.
`

func TestExtractSection_FindsHeadingCaseInsensitive(t *testing.T) {
	section := ExtractSection(sampleSpec, "", "rate limiting")
	assert.Contains(t, section, "Calls are capped per hour.")
	assert.Contains(t, section, "Exponential backoff on 429.") // nested subsection included
	assert.NotContains(t, section, "Trips after repeated failures.")
}

func TestExtractSection_NoMatchReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractSection(sampleSpec, "", "nonexistent topic"))
}

func TestExtractSection_LastSectionRunsToEndOfDocument(t *testing.T) {
	section := ExtractSection(sampleSpec, "", "circuit breaker")
	assert.Contains(t, section, "Trips after repeated failures.")
}

func TestExtractSection_MatchesByStoryID(t *testing.T) {
	spec := "## STORY-7: Rate Limiting\n\nCap calls per hour.\n"
	section := ExtractSection(spec, "STORY-7", "something else entirely")
	assert.Contains(t, section, "Cap calls per hour.")
}

func TestExtractSection_MatchesByLeadingWordOfTitle(t *testing.T) {
	section := ExtractSection(sampleSpec, "", "Rate encountered during testing")
	assert.Contains(t, section, "Calls are capped per hour.")
}
