package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_Priority_CompletePromiseDemotedWithoutAllComplete(t *testing.T) {
	cfg := DefaultConfig()
	output := cfg.CompletionPromise + "\nWe are hitting a rate limit right now"

	// Promise present but backlog disagrees (allComplete=false): demoted to
	// continue, still outranking api_limit, per spec.md's signal-priority
	// test property.
	outcome := Detect(output, false, false, cfg)
	assert.Equal(t, OutcomeContinue, outcome)
}

func TestDetect_Priority_CompleteWinsWhenBacklogAgrees(t *testing.T) {
	cfg := DefaultConfig()
	output := cfg.CompletionPromise + "\nusage limit exceeded"
	outcome := Detect(output, true, false, cfg)
	assert.Equal(t, OutcomeComplete, outcome)
}

func TestDetect_ImplicitCompleteRegardlessOfPromise(t *testing.T) {
	cfg := DefaultConfig()
	outcome := Detect("nothing special here", true, false, cfg)
	assert.Equal(t, OutcomeComplete, outcome)
}

func TestDetect_StoryCompleteRequiresAdvance(t *testing.T) {
	cfg := DefaultConfig()
	output := cfg.StoryCompleteToken

	assert.Equal(t, OutcomeStoryComplete, Detect(output, false, true, cfg))
	assert.Equal(t, OutcomeContinue, Detect(output, false, false, cfg))
}

func TestDetect_APILimitPatterns(t *testing.T) {
	cfg := DefaultConfig()
	for _, text := range []string{
		"You have hit your usage limit for today",
		"Error: rate limit exceeded",
		"Too many requests, please slow down",
		"You've reached your 5-hour limit",
	} {
		assert.Equal(t, OutcomeAPILimit, Detect(text, false, false, cfg), text)
	}
}

func TestDetect_ContinueOtherwise(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, OutcomeContinue, Detect("just some normal progress output", false, false, cfg))
}

func TestExtractError_FindsFirstMatch(t *testing.T) {
	output := "Running tests...\nFAIL: TestFoo\nmore output"
	assert.Equal(t, "FAIL: TestFoo", ExtractError(output))
}

func TestExtractError_SkipsToolUseJSONLines(t *testing.T) {
	output := `{"type":"tool_use","name":"Read","input":{"path":"a.go"}}
{"type":"tool_result","content":"1	func Error() string { return \"error\" }"}
no real failure here`
	assert.Equal(t, "", ExtractError(output))
}

func TestExtractError_SkipsFileContentLineNumbers(t *testing.T) {
	output := "42:	if err != nil { return errors.New(\"compilation failed\") }\nall good"
	assert.Equal(t, "", ExtractError(output))
}

func TestExtractError_NoMatchReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractError("everything is fine"))
}
