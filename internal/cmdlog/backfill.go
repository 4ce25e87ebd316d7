package cmdlog

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// BackfillFromIterationLog scans a streamed iteration log for Bash tool-use
// events and returns one Entry per shell command the AI ran, each with
// DurationMS 0 since the AI does not report how long its own tool calls
// took (spec.md §4.9). Non-JSON and non-tool_use lines are ignored.
func BackfillFromIterationLog(output string, iteration int, storyID string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] != '{' {
			continue
		}

		result := gjson.Parse(trimmed)
		if result.Get("type").String() != "tool_use" {
			continue
		}
		if result.Get("name").String() != "Bash" {
			continue
		}

		command := result.Get("input.command").String()
		if command == "" {
			continue
		}

		entries = append(entries, Entry{
			Timestamp:  time.Time{},
			Source:     "ai",
			Command:    command,
			DurationMS: 0,
			Iteration:  iteration,
			StoryID:    storyID,
		})
	}
	return entries
}
