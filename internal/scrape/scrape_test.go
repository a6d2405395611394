package scrape

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"legal-research-engine/internal/adapters/courtdecisions"
	"legal-research-engine/internal/ingest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCancelUnknownJobIsNotFound(t *testing.T) {
	w := New(courtdecisions.New("https://example.invalid", "", time.Millisecond), (*ingest.Worker)(nil), nil, zap.NewNop())
	err := w.Cancel("does-not-exist")
	require.Error(t, err)
}

func TestCancelRunningJobMarksJobCancelled(t *testing.T) {
	w := New(courtdecisions.New("https://example.invalid", "", time.Millisecond), (*ingest.Worker)(nil), nil, zap.NewNop())
	j := &job{id: "manual-job", status: StatusRunning}
	w.mu.Lock()
	w.jobs[j.id] = j
	w.mu.Unlock()

	require.NoError(t, w.Cancel(j.id))
	require.True(t, j.isCancelled())

	p := w.Status(j.id)
	require.NotNil(t, p)
	require.Equal(t, StatusRunning, p.Status) // cancellation is cooperative, status flips only once run() observes it
}

func TestListJobsReturnsAllKnownJobs(t *testing.T) {
	w := New(courtdecisions.New("https://example.invalid", "", time.Millisecond), (*ingest.Worker)(nil), nil, zap.NewNop())
	w.mu.Lock()
	w.jobs["a"] = &job{id: "a", status: StatusCompleted}
	w.jobs["b"] = &job{id: "b", status: StatusQueued}
	w.mu.Unlock()

	jobs := w.ListJobs()
	require.Len(t, jobs, 2)
}

func TestErrorDetailsCapAtMaxRetained(t *testing.T) {
	j := &job{id: "capped", status: StatusRunning}
	for i := 0; i < maxErrorDetails+10; i++ {
		j.recordError("ext", context.DeadlineExceeded)
	}
	p := j.snapshot()
	require.Len(t, p.ErrorDetail, maxErrorDetails)
}
