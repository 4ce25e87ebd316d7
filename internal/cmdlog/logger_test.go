package cmdlog

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AppendsAndReadAllRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	logger := New(path)

	e1 := Entry{Timestamp: time.Unix(1000, 0).UTC(), Source: "ai", Command: "go test ./...", ExitCode: 0, DurationMS: 1200, Iteration: 1, StoryID: "STORY-1"}
	e2 := Entry{Timestamp: time.Unix(1001, 0).UTC(), Source: "quality_gate", Command: "golangci-lint run", ExitCode: 1, DurationMS: 300, Iteration: 1, StoryID: "STORY-1"}

	require.NoError(t, logger.Log(e1))
	require.NoError(t, logger.Log(e2))

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, e1.Command, entries[0].Command)
	assert.Equal(t, e2.ExitCode, entries[1].ExitCode)
}

func TestReadAll_MissingFileReturnsEmpty(t *testing.T) {
	entries, err := ReadAll(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLog_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	logger := New(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = logger.Log(Entry{Command: "cmd", Iteration: i})
		}(i)
	}
	wg.Wait()

	entries, err := ReadAll(path)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}
