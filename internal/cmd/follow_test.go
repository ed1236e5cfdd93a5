package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/autotrade/tasktracker/internal/checkpoint"
	"github.com/autotrade/tasktracker/internal/config"
	"github.com/autotrade/tasktracker/internal/job"
	"github.com/autotrade/tasktracker/internal/results"
	"github.com/autotrade/tasktracker/internal/tracker"
)

// slowResultClient reports every job completed and holds GetResult until
// release is closed.
type slowResultClient struct {
	result    job.Result
	resultErr error
	fetching  chan struct{}
	release   chan struct{}
	once      sync.Once
}

func newSlowResultClient(result job.Result, resultErr error) *slowResultClient {
	return &slowResultClient{
		result:    result,
		resultErr: resultErr,
		fetching:  make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (c *slowResultClient) StartJob(context.Context, job.StartRequest) (string, error) {
	return "abc", nil
}

func (c *slowResultClient) GetStatus(_ context.Context, _ string) (*job.StatusReport, error) {
	return &job.StatusReport{Status: job.StatusCompleted, Progress: 100}, nil
}

func (c *slowResultClient) GetResult(ctx context.Context, _ string) (job.Result, error) {
	c.once.Do(func() { close(c.fetching) })
	select {
	case <-c.release:
		return c.result, c.resultErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *slowResultClient) CancelJob(context.Context, string) (*job.CancelResponse, error) {
	return &job.CancelResponse{Success: false, Message: "job already finished"}, nil
}

func newFollowApp(t *testing.T) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	return &app{
		cfg:    &config.Config{ResultsDir: t.TempDir()},
		logger: zaptest.NewLogger(t),
		in:     strings.NewReader(""),
		out:    &out,
		errOut: &errOut,
	}, &out, &errOut
}

// followDuringResultFetch starts following while the result request is in
// flight and releases it shortly after.
func followDuringResultFetch(t *testing.T, a *app, client *slowResultClient, store checkpoint.Store) (*tracker.Tracker, error) {
	t.Helper()
	tr := tracker.New(client, store, tracker.Options{
		PollInterval: 5 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	t.Cleanup(tr.Close)

	_, err := tr.Start(context.Background(), job.StartRequest{Type: job.KindOptimization})
	require.NoError(t, err)

	select {
	case <-client.fetching:
	case <-time.After(2 * time.Second):
		t.Fatal("result was never requested")
	}
	time.AfterFunc(20*time.Millisecond, func() { close(client.release) })

	return tr, a.follow(context.Background(), tr, "")
}

func TestFollow_WaitsForResultOfCompletedJob(t *testing.T) {
	a, out, errOut := newFollowApp(t)
	client := newSlowResultClient(job.Result(`{"optimizedParams":{"fast":9}}`), nil)
	store := checkpoint.NewMemoryStore()

	tr, err := followDuringResultFetch(t, a, client, store)
	require.NoError(t, err)

	assert.Contains(t, errOut.String(), "Job abc completed.")
	assert.JSONEq(t, `{"optimizedParams":{"fast":9}}`, out.String())

	archive, err := results.NewArchive(a.cfg.ResultsDir)
	require.NoError(t, err)
	entry, err := archive.Get("abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"optimizedParams":{"fast":9}}`, string(entry.Result))

	tr.Close()
	cp, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestFollow_ResultFetchFailureFailsRun(t *testing.T) {
	a, out, _ := newFollowApp(t)
	client := newSlowResultClient(nil, errors.New("http 502"))
	store := checkpoint.NewMemoryStore()

	_, err := followDuringResultFetch(t, a, client, store)
	require.ErrorIs(t, err, errJobFailed)
	assert.Contains(t, err.Error(), "result could not be retrieved")
	assert.Empty(t, out.String())

	cp, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, cp)
}
