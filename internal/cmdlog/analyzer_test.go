package cmdlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedundancies_FlagsRepeatedCommandWithinOneIteration(t *testing.T) {
	entries := []Entry{
		{Timestamp: time.Unix(1, 0), Command: "go build ./...", Source: "ai", StoryID: "STORY-1", DurationMS: 500, Iteration: 1},
		{Timestamp: time.Unix(2, 0), Command: "go build ./...", Source: "quality_gate", StoryID: "STORY-1", DurationMS: 300, Iteration: 1},
		{Timestamp: time.Unix(3, 0), Command: "go test ./...", Source: "ai", StoryID: "STORY-1", DurationMS: 900, Iteration: 1},
		{Timestamp: time.Unix(4, 0), Command: "go build ./...", Source: "ai", StoryID: "STORY-1", DurationMS: 500, Iteration: 2},
	}

	a, err := Open(context.Background(), entries)
	require.NoError(t, err)
	defer a.Close()

	redundancies, err := a.Redundancies(context.Background())
	require.NoError(t, err)
	require.Len(t, redundancies, 1)

	r := redundancies[0]
	assert.Equal(t, 1, r.Iteration)
	assert.Equal(t, "go build ./...", r.Command)
	assert.Equal(t, 2, r.RunCount)
	assert.Equal(t, 1, r.RedundantRuns)
	assert.Equal(t, int64(500+300-300), r.RedundantMS)
	assert.Contains(t, r.Suggestion, "quality gate")
}

func TestRedundancies_SameSourceRepeatClassifiedAsRepeatedExecution(t *testing.T) {
	entries := []Entry{
		{Command: "curl https://example.com", Source: "ai", Iteration: 4, DurationMS: 100},
		{Command: "curl https://example.com", Source: "ai", Iteration: 4, DurationMS: 120},
		{Command: "curl https://example.com", Source: "ai", Iteration: 4, DurationMS: 90},
	}
	a, err := Open(context.Background(), entries)
	require.NoError(t, err)
	defer a.Close()

	redundancies, err := a.Redundancies(context.Background())
	require.NoError(t, err)
	require.Len(t, redundancies, 1)
	assert.Contains(t, redundancies[0].Suggestion, "repeated execution")
}

func TestTotalDuration_SumsAllEntries(t *testing.T) {
	entries := []Entry{
		{Command: "a", DurationMS: 100},
		{Command: "b", DurationMS: 250},
	}
	a, err := Open(context.Background(), entries)
	require.NoError(t, err)
	defer a.Close()

	total, err := a.TotalDuration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(350), total)
}

func TestRedundancies_EmptyLogReturnsNoGroups(t *testing.T) {
	a, err := Open(context.Background(), nil)
	require.NoError(t, err)
	defer a.Close()

	redundancies, err := a.Redundancies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, redundancies)
}
