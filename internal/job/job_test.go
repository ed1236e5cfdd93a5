package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewJob(t *testing.T) {
	j := New(KindOptimization, map[string]any{"window": 14})

	assert.NotEmpty(t, j.ID)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, KindOptimization, j.Kind)
	assert.False(t, j.CreatedAt.IsZero())
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, Status("pending").Valid())
}

func TestStore_AddAndGet(t *testing.T) {
	store := NewStore()
	j := New(KindSimulation, nil)
	require.NoError(t, store.Add(j))

	got, err := store.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)

	assert.Error(t, store.Add(j), "duplicate id should be rejected")
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore()
	_, err := store.Get("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Status("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Lifecycle(t *testing.T) {
	store := NewStore()
	j := New(KindOptimization, nil)
	require.NoError(t, store.Add(j))

	require.True(t, store.Advance(j.ID, 40, "backtesting candidates"))
	report, err := store.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, report.Status)
	assert.Equal(t, 40, report.Progress)
	assert.Equal(t, "backtesting candidates", report.CurrentStep)

	_, err = store.Result(j.ID)
	assert.ErrorIs(t, err, ErrNotFinished)

	require.NoError(t, store.Complete(j.ID, map[string]any{"optimizedParams": map[string]any{"fast": 9}}))
	report, err = store.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, 100, report.Progress)

	res, err := store.Result(j.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"optimizedParams":{"fast":9}}`, string(res))

	assert.False(t, store.Advance(j.ID, 10, "late"), "terminal job must not advance")
}

func TestStore_FailReportsErrorMessage(t *testing.T) {
	store := NewStore()
	j := New(KindSimulation, nil)
	require.NoError(t, store.Add(j))

	require.NoError(t, store.Fail(j.ID, "market data unavailable"))
	report, err := store.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, "market data unavailable", report.ErrorMessage)
}

func TestStore_Cancel(t *testing.T) {
	store := NewStore()
	j := New(KindOptimization, nil)
	require.NoError(t, store.Add(j))

	resp, err := store.Cancel(j.ID)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	resp, err = store.Cancel(j.ID)
	require.NoError(t, err)
	assert.False(t, resp.Success)

	_, err = store.Cancel("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_List(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Add(New(KindOptimization, nil)))
	require.NoError(t, store.Add(New(KindSimulation, nil)))

	jobs, total := store.List(10, 0, "")
	assert.Equal(t, 2, total)
	assert.Len(t, jobs, 2)

	jobs, total = store.List(10, 5, "")
	assert.Equal(t, 2, total)
	assert.Empty(t, jobs)

	jobs, total = store.List(10, -1, "")
	assert.Equal(t, 2, total)
	assert.Len(t, jobs, 2)
}

func TestRunner_CompletesJob(t *testing.T) {
	store := NewStore()
	r := NewRunner(store, time.Millisecond, zaptest.NewLogger(t))

	j := New(KindOptimization, map[string]any{"window": 14})
	require.NoError(t, r.Submit(context.Background(), j))
	r.Wait()

	report, err := store.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)

	res, err := store.Result(j.ID)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(res, &payload))
	assert.Equal(t, map[string]any{"window": float64(14)}, payload["optimizedParams"])
}

func TestRunner_FailureInjection(t *testing.T) {
	store := NewStore()
	r := NewRunner(store, time.Millisecond, zaptest.NewLogger(t))

	j := New(KindSimulation, map[string]any{"fail_at_progress": 50, "fail_message": "boom"})
	require.NoError(t, r.Submit(context.Background(), j))
	r.Wait()

	report, err := store.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, "boom", report.ErrorMessage)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	store := NewStore()
	r := NewRunner(store, 5*time.Millisecond, zaptest.NewLogger(t))

	j := New(KindOptimization, nil)
	require.NoError(t, r.Submit(context.Background(), j))
	_, err := store.Cancel(j.ID)
	require.NoError(t, err)
	r.Wait()

	report, err := store.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, report.Status)
}

func TestRunner_RejectsUnknownKind(t *testing.T) {
	r := NewRunner(NewStore(), time.Millisecond, nil)
	err := r.Submit(context.Background(), New(Kind("arbitrage"), nil))
	assert.Error(t, err)
}
