package results

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autotrade/tasktracker/internal/job"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	return a
}

func TestArchive_SaveGet(t *testing.T) {
	a := newTestArchive(t)
	started := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	require.NoError(t, a.Save(Entry{
		JobID:       "job-1",
		StartedAt:   &started,
		CompletedAt: started.Add(3 * time.Minute),
		Result:      job.Result(`{"optimizedParams":{"rsi":14}}`),
	}))

	got, err := a.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	assert.True(t, started.Equal(*got.StartedAt))
	assert.JSONEq(t, `{"optimizedParams":{"rsi":14}}`, string(got.Result))
}

func TestArchive_SaveReplaces(t *testing.T) {
	a := newTestArchive(t)
	require.NoError(t, a.Save(Entry{JobID: "job-1", Result: job.Result(`1`)}))
	require.NoError(t, a.Save(Entry{JobID: "job-1", Result: job.Result(`2`)}))

	got, err := a.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got.Result))
}

func TestArchive_NotFound(t *testing.T) {
	a := newTestArchive(t)

	_, err := a.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, a.Delete("missing"), ErrNotFound)
}

func TestArchive_RejectsUnsafeIDs(t *testing.T) {
	a := newTestArchive(t)
	for _, id := range []string{"", "../escape", "a/b", `a\b`, ".."} {
		assert.Error(t, a.Save(Entry{JobID: id, Result: job.Result(`{}`)}), id)
		_, err := a.Get(id)
		assert.Error(t, err, id)
	}
}

func TestArchive_ListNewestFirst(t *testing.T) {
	a := newTestArchive(t)
	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "newest", "middle"} {
		offset := map[string]time.Duration{"old": 0, "middle": time.Hour, "newest": 2 * time.Hour}[id]
		require.NoError(t, a.Save(Entry{JobID: id, CompletedAt: base.Add(offset), Result: job.Result(`{}`)}), i)
	}

	entries, err := a.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"newest", "middle", "old"}, []string{entries[0].JobID, entries[1].JobID, entries[2].JobID})

	require.NoError(t, a.Delete("middle"))
	entries, err = a.List()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestArchive_ListEmpty(t *testing.T) {
	a := newTestArchive(t)
	entries, err := a.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(a.baseDir)
	assert.NoError(t, err)
}
