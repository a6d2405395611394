package controlplane

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/scrape"
)

type fakeJobs struct {
	byID map[string]*scrape.Progress
}

func (f *fakeJobs) Status(jobID string) *scrape.Progress { return f.byID[jobID] }

func (f *fakeJobs) ListJobs() []scrape.Progress {
	out := make([]scrape.Progress, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, *p)
	}
	return out
}

func (f *fakeJobs) Cancel(jobID string) error {
	if _, ok := f.byID[jobID]; !ok {
		return apperr.New(apperr.NotFound, "job not found: "+jobID)
	}
	return nil
}

func TestGetJobStatusNotFoundMapsToGRPCNotFound(t *testing.T) {
	svc := New(&fakeJobs{byID: map[string]*scrape.Progress{}})
	_, err := svc.GetJobStatus(context.Background(), &JobStatusRequest{JobID: "missing"})
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestGetJobStatusReturnsSnapshot(t *testing.T) {
	svc := New(&fakeJobs{byID: map[string]*scrape.Progress{
		"job-1": {JobID: "job-1", Status: scrape.StatusRunning, Processed: 3, Total: 10},
	}})
	resp, err := svc.GetJobStatus(context.Background(), &JobStatusRequest{JobID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, "job-1", resp.JobID)
	require.Equal(t, 3, resp.Processed)
}

func TestCancelJobNotFound(t *testing.T) {
	svc := New(&fakeJobs{byID: map[string]*scrape.Progress{}})
	_, err := svc.CancelJob(context.Background(), &JobStatusRequest{JobID: "missing"})
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestListJobsReturnsEverySnapshot(t *testing.T) {
	svc := New(&fakeJobs{byID: map[string]*scrape.Progress{
		"a": {JobID: "a", Status: scrape.StatusCompleted},
		"b": {JobID: "b", Status: scrape.StatusQueued},
	}})
	resp, err := svc.ListJobs(context.Background(), &ListJobsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 2)
}
