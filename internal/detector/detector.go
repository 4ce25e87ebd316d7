// Package detector parses streamed AI output into one of the four loop
// outcomes and extracts error text for the circuit breaker (spec.md §4.6).
package detector

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Outcome is the per-iteration signal the run engine acts on.
type Outcome int

const (
	// OutcomeContinue means no terminal signal was found; the loop proceeds
	// to another iteration on the same story.
	OutcomeContinue Outcome = iota
	// OutcomeAPILimit means the AI reported hitting a usage/rate limit.
	OutcomeAPILimit
	// OutcomeStoryComplete means one story finished and a verification gate
	// should run before advancing.
	OutcomeStoryComplete
	// OutcomeComplete means the AI claims (or the backlog shows) every
	// story is done.
	OutcomeComplete
)

// Config configures the promise/story-complete tokens and extra completion
// patterns (spec.md §6's completion.promise / completion.custom_patterns).
type Config struct {
	CompletionPromise   string
	StoryCompleteToken  string
	CustomPatterns      []string
}

// DefaultConfig returns the spec's documented default tokens.
func DefaultConfig() Config {
	return Config{
		CompletionPromise:  "<promise>COMPLETE</promise>",
		StoryCompleteToken: "<promise>STORY_COMPLETE</promise>",
	}
}

var apiLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)usage limit`),
	regexp.MustCompile(`(?i)rate limit`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)5-hour limit`),
	regexp.MustCompile(`(?i)exceeded.*limit`),
}

// Detect inspects the full streamed output of one iteration and returns the
// highest-priority outcome found, in the strict order complete >
// story_complete > api_limit > continue (spec.md §4.6, "Signal priority").
//
// allComplete and storyAdvanced reflect the backlog's state as observed by
// the caller: allComplete is backlog.AllComplete after the iteration, and
// storyAdvanced is whether the incomplete-story pointer moved forward.
func Detect(output string, allComplete bool, storyAdvanced bool, cfg Config) Outcome {
	hasPromise := strings.Contains(output, cfg.CompletionPromise) || matchesAnyCustom(output, cfg.CustomPatterns)

	if allComplete {
		return OutcomeComplete
	}

	// A promise without full completion is demoted straight to continue: it
	// still outranks api_limit (the AI claiming "all done" while the backlog
	// disagrees is not trustworthy, but it's not an API-limit signal either).
	if hasPromise {
		return OutcomeContinue
	}

	if strings.Contains(output, cfg.StoryCompleteToken) && storyAdvanced {
		return OutcomeStoryComplete
	}

	if matchesAny(output, apiLimitPatterns) {
		return OutcomeAPILimit
	}

	return OutcomeContinue
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func matchesAnyCustom(s string, patterns []string) bool {
	for _, pat := range patterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			continue
		}
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

var errorPatterns = []*regexp.Regexp{
	// Test framework failures.
	regexp.MustCompile(`(?m)^(?:---\s+)?FAIL[:\s].*$`),
	regexp.MustCompile(`(?m)^\s*✗.*$`),
	regexp.MustCompile(`(?i)(\d+)\s+failed,?\s+\d+\s+passed`),
	// Common language runtime-exception prefixes.
	regexp.MustCompile(`(?m)^Traceback \(most recent call last\):`),
	regexp.MustCompile(`(?m)^\w*Error: .*$`),
	regexp.MustCompile(`(?m)^panic: .*$`),
	regexp.MustCompile(`(?m)^Exception in thread .*$`),
	// Compile-error markers.
	regexp.MustCompile(`(?m)^.*\.go:\d+:\d+: .*$`),
	regexp.MustCompile(`(?i)compilation failed`),
	regexp.MustCompile(`(?i)syntax error`),
	// Non-zero exit-code phrases.
	regexp.MustCompile(`(?i)exit(?:ed)? (?:with )?(?:status|code) [1-9]\d*`),
	regexp.MustCompile(`(?i)command failed with exit code [1-9]\d*`),
}

// ExtractError removes lines that are structurally tool-call output (JSON
// lines whose "type" is tool_use/tool_result, and file-content line-number
// markers) and then scans what remains for the first line matching the
// curated error-pattern table. Returns "" if nothing matches.
func ExtractError(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if isToolOutputLine(line) {
			continue
		}
		for _, p := range errorPatterns {
			if p.MatchString(line) {
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}

// fileContentLineMarker matches the "NNN\t" / "NNN:" prefix a file-reading
// tool prints before each line of a file it read, which otherwise can
// contain the literal word "error" inside source code or comments.
var fileContentLineMarker = regexp.MustCompile(`^\s*\d+[\t:|]`)

// isToolOutputLine reports whether line is structural tool-call output that
// the error scanner should skip rather than inspect for error patterns.
func isToolOutputLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}

	if fileContentLineMarker.MatchString(line) {
		return true
	}

	if trimmed[0] != '{' {
		return false
	}

	// gjson.Get on non-JSON input returns a zero Result rather than
	// erroring, so this is safe to call speculatively on any brace-led line.
	t := gjson.Get(trimmed, "type").String()
	return t == "tool_use" || t == "tool_result"
}
