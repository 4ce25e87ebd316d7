package cmdlog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// schema mirrors a single denormalized commands table; the analyzer is a
// disposable index rebuilt from the JSONL log, not a system of record.
const schema = `
CREATE TABLE commands (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   TEXT NOT NULL,
	source      TEXT NOT NULL,
	command     TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	iteration   INTEGER NOT NULL,
	story_id    TEXT NOT NULL
);
`

// Redundancy describes one command that ran more than once within a single
// iteration, possibly from more than one source (spec.md §4.9).
type Redundancy struct {
	StoryID       string
	Iteration     int
	Command       string
	Sources       []string
	RunCount      int
	RedundantRuns int
	RedundantMS   int64
	Suggestion    string
}

// Analyzer indexes a command log in an in-memory SQLite database (via
// ncruces/go-sqlite3, a CGo-free driver) to answer aggregate questions that
// would be awkward to compute by hand-rolling JSONL scans, following this
// package's reference storage layer's use of SQLite for structured queries
// over append-only event data.
type Analyzer struct {
	db *sql.DB
}

// Open builds an in-memory analysis database and loads entries into it.
func Open(ctx context.Context, entries []Entry) (*Analyzer, error) {
	db, err := sql.Open("sqlite3", "file:cmdlog-analysis?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("cmdlog: opening analysis db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cmdlog: creating schema: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, `
		INSERT INTO commands (timestamp, source, command, exit_code, duration_ms, iteration, story_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cmdlog: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			e.Source, e.Command, e.ExitCode, e.DurationMS, e.Iteration, e.StoryID); err != nil {
			db.Close()
			return nil, fmt.Errorf("cmdlog: inserting entry: %w", err)
		}
	}

	return &Analyzer{db: db}, nil
}

// Close releases the underlying database.
func (a *Analyzer) Close() error {
	return a.db.Close()
}

// Redundancies groups logged commands by (command, iteration) to find
// commands run more than once within a single iteration, per spec.md §4.9.
// Redundant duration is sum(durations) - min(duration): the cheapest run is
// the one that was "necessary"; everything above that is presumed wasted.
func (a *Analyzer) Redundancies(ctx context.Context) ([]Redundancy, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT iteration, command, MIN(story_id) as story_id, COUNT(*) as run_count,
		       SUM(duration_ms) as total_ms, MIN(duration_ms) as min_ms,
		       COUNT(DISTINCT source) as distinct_sources,
		       GROUP_CONCAT(DISTINCT source) as sources
		FROM commands
		GROUP BY iteration, command
		HAVING COUNT(*) > 1
		ORDER BY total_ms DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("cmdlog: querying redundancies: %w", err)
	}
	defer rows.Close()

	var out []Redundancy
	for rows.Next() {
		var r Redundancy
		var totalMS, minMS int64
		var distinctSources int
		var sourcesCSV string
		if err := rows.Scan(&r.Iteration, &r.Command, &r.StoryID, &r.RunCount,
			&totalMS, &minMS, &distinctSources, &sourcesCSV); err != nil {
			return nil, fmt.Errorf("cmdlog: scanning redundancy row: %w", err)
		}
		r.Sources = strings.Split(sourcesCSV, ",")
		r.RedundantRuns = r.RunCount - 1
		r.RedundantMS = totalMS - minMS
		r.Suggestion = classify(r, distinctSources)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RedundantMS > out[j].RedundantMS })
	return out, nil
}

// classify turns a redundancy group into one of four suggestion categories
// (spec.md §4.9): quality-gate redundancy, success-criteria redundancy,
// repeated execution (same source re-running the same command), or generic.
func classify(r Redundancy, distinctSources int) string {
	hasSource := func(name string) bool {
		for _, s := range r.Sources {
			if s == name {
				return true
			}
		}
		return false
	}

	switch {
	case hasSource("quality_gate") && distinctSources > 1:
		return fmt.Sprintf("%q also ran as the quality gate during iteration %d; the AI is re-deriving a result the gate already computed", r.Command, r.Iteration)
	case hasSource("success_criteria") && distinctSources > 1:
		return fmt.Sprintf("%q also ran as the success-criteria check during iteration %d; consider reusing the gate's result instead of re-running it", r.Command, r.Iteration)
	case distinctSources == 1:
		return fmt.Sprintf("%q ran %d times from the same source during iteration %d; repeated execution with no apparent state change", r.Command, r.RunCount, r.Iteration)
	default:
		return fmt.Sprintf("%q ran %d times during iteration %d across %d sources", r.Command, r.RunCount, r.Iteration, distinctSources)
	}
}

// TotalDuration sums duration_ms across every logged command, regardless of
// grouping, for a quick top-line summary.
func (a *Analyzer) TotalDuration(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := a.db.QueryRowContext(ctx, `SELECT SUM(duration_ms) FROM commands`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("cmdlog: querying total duration: %w", err)
	}
	return total.Int64, nil
}
