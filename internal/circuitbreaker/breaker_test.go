package circuitbreaker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_HashStability(t *testing.T) {
	a := Normalize("2024-01-15T14:30:00Z Error: x at file.py:42")
	b := Normalize("[2024-01-15 14:30:00] Error: x at file.py:99")
	assert.Equal(t, a, b)
	assert.Equal(t, HashError("2024-01-15T14:30:00Z Error: x at file.py:42"),
		HashError("[2024-01-15 14:30:00] Error: x at file.py:99"))
}

func TestRecordError_IncrementsOnRepeat(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "cb.state"), 3, 5)
	b.RecordError("boom at file.py:1")
	assert.Equal(t, 1, b.State().SameErrorCount)
	b.RecordError("boom at file.py:2")
	assert.Equal(t, 2, b.State().SameErrorCount)
	b.RecordError("totally different failure")
	assert.Equal(t, 1, b.State().SameErrorCount)
}

func TestRecordProgress_NoProgressTripsAfterThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cb.state")
	b := New(path, 2, 5)

	snapshot := "false,false"
	b.RecordProgress(snapshot, snapshot)
	tripped, _ := b.Tripped()
	assert.False(t, tripped)

	b.RecordProgress(snapshot, snapshot)
	tripped, reason := b.Tripped()
	assert.True(t, tripped)
	assert.Contains(t, reason, "no progress")
}

func TestRecordProgress_ResetsOnChange(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "cb.state"), 2, 5)
	b.RecordProgress("false,false", "false,false")
	b.RecordProgress("false,false", "true,false")
	assert.Equal(t, 0, b.State().NoProgressCount)
}

func TestLoadSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cb.state")
	b := New(path, 3, 5)
	b.RecordError("some failure")
	b.RecordProgress("false", "false")
	require.NoError(t, b.Save())

	reloaded := New(path, 3, 5)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, b.State(), reloaded.State())
}
