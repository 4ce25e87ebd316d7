// Package backlog implements the story backlog store: the ordered,
// sequentially-completing list of user stories a loopctl run works through.
package backlog

import (
	"fmt"
	"strconv"
	"strings"
)

// Story is one unit of work in the backlog.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Priority           int      `json:"priority"`
	Passes             bool     `json:"passes"`
	Notes              string   `json:"notes,omitempty"`
	Model              string   `json:"model,omitempty"`
	MCPServers         []string `json:"mcpServers,omitempty"`
}

// Backlog is the top-level document persisted as backlog.json.
type Backlog struct {
	Description string  `json:"description"`
	CreatedAt   string  `json:"createdAt"`
	UserStories []Story `json:"userStories"`
}

// id is a parsed "STORY-<int>[.<dec>]" identifier, ordered by (Int, Dec).
type id struct {
	Int int
	Dec int // 0 for integer-only IDs
}

// parseID parses a story identifier of the form STORY-NNN or STORY-NNN.D.
func parseID(s string) (id, error) {
	rest, ok := strings.CutPrefix(s, "STORY-")
	if !ok {
		return id{}, fmt.Errorf("malformed story id %q: missing STORY- prefix", s)
	}

	intPart, decPart, hasDec := strings.Cut(rest, ".")
	n, err := strconv.Atoi(intPart)
	if err != nil {
		return id{}, fmt.Errorf("malformed story id %q: %w", s, err)
	}

	if !hasDec {
		return id{Int: n}, nil
	}

	d, err := strconv.Atoi(decPart)
	if err != nil {
		return id{}, fmt.Errorf("malformed story id %q: %w", s, err)
	}
	return id{Int: n, Dec: d}, nil
}

// less compares two parsed IDs lexicographically on (Int, Dec), so
// STORY-2 < STORY-2.9 < STORY-2.10 < STORY-3.
func (a id) less(b id) bool {
	if a.Int != b.Int {
		return a.Int < b.Int
	}
	return a.Dec < b.Dec
}

// CompareIDs orders two story ID strings per the decimal-ID rule. Malformed
// IDs sort after well-formed ones, and compare lexicographically against
// each other, so a corrupt backlog still produces a stable (if meaningless)
// order rather than panicking.
func CompareIDs(a, b string) int {
	pa, errA := parseID(a)
	pb, errB := parseID(b)

	switch {
	case errA == nil && errB == nil:
		switch {
		case pa.less(pb):
			return -1
		case pb.less(pa):
			return 1
		default:
			return 0
		}
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return 1
	default:
		return -1
	}
}

// NextDecimal returns the next decimal ID after x ("STORY-2" -> "STORY-2.1",
// or "STORY-2.(max+1)" if decimals of x already exist in existing).
func NextDecimal(x string, existing []string) (string, error) {
	base, err := parseID(x)
	if err != nil {
		return "", err
	}
	if base.Dec != 0 {
		return "", fmt.Errorf("cannot derive a decimal id from already-decimal id %q", x)
	}

	maxDec := 0
	for _, s := range existing {
		p, err := parseID(s)
		if err != nil || p.Int != base.Int {
			continue
		}
		if p.Dec > maxDec {
			maxDec = p.Dec
		}
	}

	prefix, _, _ := strings.Cut(x, ".")
	return fmt.Sprintf("%s.%d", prefix, maxDec+1), nil
}

// Midpoint returns a new decimal ID between a and b, formatted as the
// arithmetic mean of their Dec counters. Intended for inserting a story
// between two existing ones without renumbering the rest of the backlog.
//
// Dec compares as a plain integer, not a decimal fraction (less's doc
// comment: STORY-2.9 < STORY-2.10), so there is no ID between two Dec
// values one apart — e.g. 2.1 and 2.2 have no integer between 1 and 2.
// Scaling both by 10 to manufacture room (2.15) would not help: 15 > 2
// under plain-integer comparison, so the "midpoint" would actually sort
// after b, not between a and b. When the gap is that tight, Midpoint
// reports an error instead of returning a mis-ordered ID; the caller is
// expected to renumber the affected range instead.
func Midpoint(a, b string) (string, error) {
	pa, err := parseID(a)
	if err != nil {
		return "", err
	}
	pb, err := parseID(b)
	if err != nil {
		return "", err
	}
	if pa.Int != pb.Int {
		return "", fmt.Errorf("midpoint requires ids sharing an integer part, got %q and %q", a, b)
	}
	if pa.Dec >= pb.Dec {
		return "", fmt.Errorf("midpoint requires a < b, got %q and %q", a, b)
	}

	mid := (pa.Dec + pb.Dec) / 2
	if mid == pa.Dec {
		return "", fmt.Errorf("no decimal id available between %q and %q; renumber the range first", a, b)
	}
	return fmt.Sprintf("STORY-%d.%d", pa.Int, mid), nil
}
