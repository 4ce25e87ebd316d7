// Package circuitbreaker tracks the two conditions that mean the run engine
// is stuck in an unproductive loop (spec.md §4.3): no progress across
// iterations, and the same error repeating.
package circuitbreaker

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// State is the four fields persisted together to circuit_breaker.state.
type State struct {
	NoProgressCount   int
	SameErrorCount    int
	LastErrorHash     string
	LastPassesState   string // comma-joined booleans, see backlog.PassesSnapshot
}

// Breaker holds the persisted state plus the two configured thresholds.
type Breaker struct {
	path                string
	noProgressThreshold int
	sameErrorThreshold  int
	state               State
}

// New creates a Breaker backed by path with the given trip thresholds.
func New(path string, noProgressThreshold, sameErrorThreshold int) *Breaker {
	return &Breaker{
		path:                path,
		noProgressThreshold: noProgressThreshold,
		sameErrorThreshold:  sameErrorThreshold,
	}
}

// Load reads persisted state from path. A missing file leaves a zero state,
// which is the correct starting point for a fresh run.
func (b *Breaker) Load() error {
	f, err := os.Open(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening circuit breaker state: %w", err)
	}
	defer f.Close()

	state := State{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "NO_PROGRESS_COUNT":
			state.NoProgressCount, _ = strconv.Atoi(value)
		case "SAME_ERROR_COUNT":
			state.SameErrorCount, _ = strconv.Atoi(value)
		case "LAST_ERROR_HASH":
			state.LastErrorHash = value
		case "LAST_PASSES_STATE":
			state.LastPassesState = value
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading circuit breaker state: %w", err)
	}

	b.state = state
	return nil
}

// Save persists the current state as four "KEY=value" lines, atomically.
func (b *Breaker) Save() error {
	content := fmt.Sprintf("NO_PROGRESS_COUNT=%d\nSAME_ERROR_COUNT=%d\nLAST_ERROR_HASH=%s\nLAST_PASSES_STATE=%s\n",
		b.state.NoProgressCount, b.state.SameErrorCount, b.state.LastErrorHash, b.state.LastPassesState)

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, "circuit_breaker.state.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

// RecordProgress compares beforeSnapshot/afterSnapshot and updates the
// no-progress counter: it resets to 0 when the snapshots differ, and
// increments when they are identical (no story flipped from false to true
// this iteration).
func (b *Breaker) RecordProgress(beforeSnapshot, afterSnapshot string) {
	if beforeSnapshot == afterSnapshot {
		b.state.NoProgressCount++
	} else {
		b.state.NoProgressCount = 0
	}
	b.state.LastPassesState = afterSnapshot
}

// RecordError hashes the normalized error text and updates the
// same-error counter: it increments when the hash matches the last one
// seen, and resets to 1 (this is the first occurrence of a new error)
// otherwise.
func (b *Breaker) RecordError(errText string) {
	hash := HashError(errText)
	if hash == b.state.LastErrorHash {
		b.state.SameErrorCount++
	} else {
		b.state.SameErrorCount = 1
		b.state.LastErrorHash = hash
	}
}

// ClearError resets the same-error counter after an iteration produces no
// error, so a one-off failure doesn't keep counting against the threshold
// forever once the AI recovers.
func (b *Breaker) ClearError() {
	b.state.SameErrorCount = 0
	b.state.LastErrorHash = ""
}

// Tripped reports whether either trip condition has reached its threshold.
func (b *Breaker) Tripped() (tripped bool, reason string) {
	if b.state.NoProgressCount >= b.noProgressThreshold {
		return true, fmt.Sprintf("no progress for %d consecutive iterations", b.state.NoProgressCount)
	}
	if b.state.SameErrorCount >= b.sameErrorThreshold {
		return true, fmt.Sprintf("same error repeated %d times", b.state.SameErrorCount)
	}
	return false, ""
}

// State returns a copy of the current in-memory state, for status reporting.
func (b *Breaker) State() State {
	return b.state
}

// Reset clears all counters; used by the CLI's reset-circuit command.
func (b *Breaker) Reset() {
	b.state = State{}
}

var (
	isoTimestamp       = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	bracketedTimestamp = regexp.MustCompile(`\[\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}\]`)
	fileLineNumber     = regexp.MustCompile(`([\w./\\-]+\.\w+):\d+(?::\d+)?:?`)
	whitespaceRun      = regexp.MustCompile(`\s+`)
)

// Normalize strips timestamps and file:line markers from an error string
// and collapses whitespace, so two structurally identical errors that only
// differ in when/where they were reported hash to the same value
// (spec.md §4.3/§4.6 and the "Circuit-breaker hash stability" test property).
func Normalize(errText string) string {
	s := bracketedTimestamp.ReplaceAllString(errText, "")
	s = isoTimestamp.ReplaceAllString(s, "")
	s = fileLineNumber.ReplaceAllString(s, "$1:")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// HashError normalizes errText and returns a stable 16-character hex hash.
// sha256 (stdlib) is used rather than a third-party hash library: nothing
// in the corpus reaches for a non-cryptographic hash for this kind of
// stable-content-fingerprint use case, and sha256 is already imported
// transitively by several teacher dependencies, so no new dependency
// earns its place here (see DESIGN.md).
func HashError(errText string) string {
	sum := sha256.Sum256([]byte(Normalize(errText)))
	return hex.EncodeToString(sum[:])[:16]
}
