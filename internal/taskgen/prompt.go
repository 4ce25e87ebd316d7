// Package taskgen builds the per-iteration prompt handed to the AI tool:
// project description, current story, its acceptance criteria, any notes,
// the relevant slice of the project's spec document, and the previous
// iteration's failure output when one exists (spec.md §4.8, §4.12).
package taskgen

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/agentloop/loopctl/internal/backlog"
)

// promptTemplate mirrors this project's reference prompt builder: every
// section except PROJECT and CURRENT STORY is conditionally rendered so a context with fewer fields still
// produces a clean prompt instead of empty headings.
const promptTemplate = `# PROJECT

{{.ProjectDescription}}

{{if .SpecExcerpt -}}
# RELEVANT SPECIFICATION

{{.SpecExcerpt}}

{{end -}}
# CURRENT STORY

**{{.Story.ID}}**: {{.Story.Title}}

{{if .Story.Description -}}
## Description
{{.Story.Description}}

{{end -}}
{{if .Story.AcceptanceCriteria -}}
## Acceptance Criteria
{{range .Story.AcceptanceCriteria -}}
- [ ] {{.}}
{{end}}
{{end -}}
{{if .Story.Notes -}}
## Notes
{{.Story.Notes}}

{{end -}}
{{if .PreviousFailure -}}
# PREVIOUS ATTEMPT FAILED

{{.PreviousFailure}}

Address this before continuing.

{{end -}}
---

Implement this story now. When the story's acceptance criteria are all
satisfied, end your response with {{.StoryCompleteToken}}. When every story
in the project backlog is complete, end your response with
{{.CompletionPromise}} instead.
`

// Context supplies every field the template can reference.
type Context struct {
	ProjectDescription string
	SpecExcerpt        string
	Story              backlog.Story
	PreviousFailure     string
	StoryCompleteToken  string
	CompletionPromise   string
}

var tmpl = template.Must(template.New("iteration-prompt").Parse(promptTemplate))

// Build renders ctx into the iteration prompt string.
func Build(ctx Context) (string, error) {
	if ctx.StoryCompleteToken == "" {
		ctx.StoryCompleteToken = "<promise>STORY_COMPLETE</promise>"
	}
	if ctx.CompletionPromise == "" {
		ctx.CompletionPromise = "<promise>COMPLETE</promise>"
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("taskgen: executing template: %w", err)
	}
	return buf.String(), nil
}

// headingPattern matches a Markdown ATX heading, e.g. "## Rate limiting".
var headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.*)$`)

// ExtractSection returns the body of the first Markdown section in spec
// whose heading text contains id or a case-insensitive match of a leading
// word of title, including nested subsections but stopping at the next
// heading of equal or shallower depth. Returns "" if no matching heading is
// found (spec.md §4.12).
func ExtractSection(spec, id, title string) string {
	matches := headingPattern.FindAllStringSubmatchIndex(spec, -1)
	needle := leadingWord(title)

	for i, m := range matches {
		headingText := strings.ToLower(spec[m[4]:m[5]])
		matchesID := id != "" && strings.Contains(headingText, strings.ToLower(id))
		matchesTitle := needle != "" && strings.Contains(headingText, needle)
		if !matchesID && !matchesTitle {
			continue
		}

		depth := m[3] - m[2] // length of the "#"*N marker
		sectionStart := m[0]
		sectionEnd := len(spec)

		for j := i + 1; j < len(matches); j++ {
			nextDepth := matches[j][3] - matches[j][2]
			if nextDepth <= depth {
				sectionEnd = matches[j][0]
				break
			}
		}

		return strings.TrimSpace(spec[sectionStart:sectionEnd])
	}

	return ""
}

// leadingWord returns the lowercased first word of title, or "" if title is
// empty.
func leadingWord(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	fields := strings.Fields(title)
	return strings.ToLower(fields[0])
}
