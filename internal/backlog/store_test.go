package backlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareIDs_DecimalOrdering(t *testing.T) {
	ids := []string{"STORY-003", "STORY-002.10", "STORY-002", "STORY-002.9"}
	sortIDs(ids)
	assert.Equal(t, []string{"STORY-002", "STORY-002.9", "STORY-002.10", "STORY-003"}, ids)
}

func sortIDs(ids []string) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && CompareIDs(ids[j-1], ids[j]) > 0; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func TestCheckSequential_DetectsGap(t *testing.T) {
	b := &Backlog{UserStories: []Story{
		{ID: "STORY-001", Passes: true},
		{ID: "STORY-002", Passes: false},
		{ID: "STORY-003", Passes: true},
	}}

	gaps := CheckSequential(b)
	require.Len(t, gaps, 1)
	assert.Equal(t, "STORY-002", gaps[0].IncompleteID)
	assert.Equal(t, "STORY-003", gaps[0].CompleteID)
}

func TestCheckSequential_NoGapOnWellFormedBacklog(t *testing.T) {
	b := &Backlog{UserStories: []Story{
		{ID: "STORY-001", Passes: true},
		{ID: "STORY-002", Passes: true},
		{ID: "STORY-003", Passes: false},
	}}
	assert.Empty(t, CheckSequential(b))
}

func TestRollback_Idempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	b := &Backlog{UserStories: []Story{
		{ID: "STORY-001", Passes: false},
		{ID: "STORY-002", Passes: false},
	}}
	snapshot := PassesSnapshot(b)

	require.NoError(t, s.MarkComplete(b, "STORY-001", 1))
	require.NoError(t, s.MarkComplete(b, "STORY-002", 2))

	require.NoError(t, s.RollbackTo(b, snapshot))
	assert.False(t, b.UserStories[0].Passes)
	assert.False(t, b.UserStories[1].Passes)

	progressPath := filepath.Join(dir, "progress.txt")
	data1, err := readFileOrEmpty(progressPath)
	require.NoError(t, err)

	// A second rollback to the same snapshot must be a no-op: nothing left
	// to revert, and the (already-empty) progress log is unchanged.
	require.NoError(t, s.RollbackTo(b, snapshot))
	data2, err := readFileOrEmpty(progressPath)
	require.NoError(t, err)
	assert.Equal(t, data1, data2)
}

func TestMarkComplete_AppendsProgressBlock(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	b := &Backlog{UserStories: []Story{{ID: "STORY-001", Passes: false}}}
	require.NoError(t, s.MarkComplete(b, "STORY-001", 1))

	data, err := readFileOrEmpty(filepath.Join(dir, "progress.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "STORY-001")
	assert.Contains(t, string(data), "---\n")
}

func TestNextDecimal(t *testing.T) {
	next, err := NextDecimal("STORY-002", []string{"STORY-002.1", "STORY-002.2"})
	require.NoError(t, err)
	assert.Equal(t, "STORY-002.3", next)

	next, err = NextDecimal("STORY-005", nil)
	require.NoError(t, err)
	assert.Equal(t, "STORY-005.1", next)
}

func readFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}
