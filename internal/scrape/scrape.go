// Package scrape implements the Scrape Worker (spec §4.11): background bulk
// ingestion of court decisions by keyword and date range. The critical
// design property is streaming with bounded memory — one search-result page
// is fetched, its documents are ingested through the shared Ingest Worker,
// and the page is discarded before the next page is fetched. Grounded on
// the teacher's legal-gateway job-processing loop, generalized from a
// single-pass Redis queue consumer into a paginated, cancellable job.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"legal-research-engine/internal/adapters/courtdecisions"
	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/cache"
	"legal-research-engine/internal/ingest"
)

// Status is the Scrape job's lifecycle state, per spec §4.9's state-machine
// note: queued -> running -> completed | failed, with cooperative cancel.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// maxErrorDetails caps the retained error detail list at the last 100, per
// spec §4.11.
const maxErrorDetails = 100

// pageSize is the number of decisions requested per search page.
const pageSize = 50

// backpressureThreshold is the fraction of ingest capacity at which the
// worker pauses before fetching the next page, per spec §5's backpressure
// rule ("Scrape Worker throttles page fetching when the in-flight count
// approaches the cap").
const backpressureThreshold = 0.8

// jobStatusTTL bounds how long a finished job's status survives in the
// shared cache tier after the process that ran it exits.
const jobStatusTTL = 24 * time.Hour

func jobStatusKey(jobID string) string { return "scrape:job:" + jobID }

// ErrorDetail records one failed item, keeping only the most recent
// maxErrorDetails.
type ErrorDetail struct {
	ExternalID string `json:"external_id"`
	Message    string `json:"message"`
}

// Progress is the job's externally observable state, per spec §4.11.
type Progress struct {
	JobID       string        `json:"job_id"`
	Status      Status        `json:"status"`
	Processed   int           `json:"processed"`
	Total       int           `json:"total"`
	Errors      int           `json:"errors"`
	ProgressPct float64       `json:"progress_pct"`
	ErrorDetail []ErrorDetail `json:"error_details,omitempty"`
}

// job is the mutable state backing one scrape run.
type job struct {
	mu           sync.Mutex
	id           string
	status       Status
	processed    int
	total        int
	errorDetails []ErrorDetail
	cancelled    bool
}

func (j *job) snapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := Progress{JobID: j.id, Status: j.status, Processed: j.processed, Total: j.total, Errors: len(j.errorDetails)}
	if j.total > 0 {
		p.ProgressPct = 100 * float64(j.processed) / float64(j.total)
	}
	p.ErrorDetail = append([]ErrorDetail(nil), j.errorDetails...)
	return p
}

func (j *job) recordError(externalID string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errorDetails = append(j.errorDetails, ErrorDetail{ExternalID: externalID, Message: err.Error()})
	if len(j.errorDetails) > maxErrorDetails {
		j.errorDetails = j.errorDetails[len(j.errorDetails)-maxErrorDetails:]
	}
}

func (j *job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Worker runs bulk scrape jobs on top of a shared court-decisions adapter
// and Ingest Worker. One Worker instance is shared by the whole process.
// Job status is mirrored into the shared cache tier (when configured) so a
// status query can be served even across a process restart, per spec §5's
// "job status/queue" durability note.
type Worker struct {
	adapter *courtdecisions.Adapter
	ingest  *ingest.Worker
	status  cache.Cache
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// New builds a Scrape Worker over the given adapter and Ingest Worker.
// statusCache may be nil, in which case job status lives only in memory.
func New(adapter *courtdecisions.Adapter, ingestWorker *ingest.Worker, statusCache cache.Cache, logger *zap.Logger) *Worker {
	return &Worker{adapter: adapter, ingest: ingestWorker, status: statusCache, logger: logger, jobs: make(map[string]*job)}
}

// publish mirrors a job's current snapshot into the shared cache tier,
// best-effort — a cache outage never fails the scrape itself.
func (w *Worker) publish(ctx context.Context, j *job) {
	if w.status == nil {
		return
	}
	raw, err := json.Marshal(j.snapshot())
	if err != nil {
		return
	}
	_ = w.status.Set(ctx, jobStatusKey(j.id), raw, jobStatusTTL)
}

// Start launches a bulk-ingest job for the given keyword and date range,
// returning its job id immediately — the job itself runs in a background
// goroutine so the caller is never blocked on the full scrape.
func (w *Worker) Start(ctx context.Context, keyword, dateFrom, dateTo string) string {
	j := &job{id: uuid.NewString(), status: StatusQueued}
	w.mu.Lock()
	w.jobs[j.id] = j
	w.mu.Unlock()
	w.publish(ctx, j)

	go w.run(context.Background(), j, keyword, dateFrom, dateTo)
	return j.id
}

// Status returns the current progress of a job, or nil if unknown. Jobs
// started by this process are served from memory; a job id this process
// never started but another replica recorded in the shared cache tier is
// still resolvable from there.
func (w *Worker) Status(jobID string) *Progress {
	w.mu.Lock()
	j, ok := w.jobs[jobID]
	w.mu.Unlock()
	if ok {
		p := j.snapshot()
		return &p
	}
	return w.statusFromCache(jobID)
}

func (w *Worker) statusFromCache(jobID string) *Progress {
	if w.status == nil {
		return nil
	}
	raw, found, err := w.status.Get(context.Background(), jobStatusKey(jobID))
	if err != nil || !found {
		return nil
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// ListJobs returns a snapshot of every known job, most recently started
// first is not guaranteed — callers needing order should sort by JobID.
func (w *Worker) ListJobs() []Progress {
	w.mu.Lock()
	jobs := make([]*job, 0, len(w.jobs))
	for _, j := range w.jobs {
		jobs = append(jobs, j)
	}
	w.mu.Unlock()

	out := make([]Progress, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Cancel cooperatively stops a job: in-flight items complete, but no new
// page or item is started, per spec §5.
func (w *Worker) Cancel(jobID string) error {
	w.mu.Lock()
	j, ok := w.jobs[jobID]
	w.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, "scrape job not found: "+jobID)
	}
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
	return nil
}

func (w *Worker) run(ctx context.Context, j *job, keyword, dateFrom, dateTo string) {
	j.mu.Lock()
	j.status = StatusRunning
	j.mu.Unlock()
	w.publish(ctx, j)

	page := 1
	for {
		if j.isCancelled() {
			w.finish(ctx, j, StatusCancelled)
			return
		}
		w.awaitCapacity(ctx, j)

		result, err := w.adapter.Search(ctx, courtdecisions.SearchParams{
			MetaSearch: keyword,
			DateFrom:   dateFrom,
			DateTo:     dateTo,
			Limit:      pageSize,
			Page:       page,
			OrderBy:    "date",
			OrderDir:   "desc",
		})
		if err != nil {
			w.logger.Error("scrape page fetch failed", zap.String("job_id", j.id), zap.Int("page", page), zap.Error(err))
			w.finish(ctx, j, StatusFailed)
			return
		}

		j.mu.Lock()
		if j.total == 0 {
			j.total = result.Total
		}
		j.mu.Unlock()

		externalIDs := make([]string, 0, len(result.Documents))
		for _, d := range result.Documents {
			externalIDs = append(externalIDs, d.ID)
		}
		// Discard the page's document bodies now — only the id list survives
		// into the ingest step, bounding this loop's memory to one page at a
		// time regardless of total result-set size (spec §4.11).
		result = nil

		for _, id := range externalIDs {
			if j.isCancelled() {
				w.finish(ctx, j, StatusCancelled)
				return
			}
			if _, _, err := w.ingest.IngestOne(ctx, id); err != nil {
				j.recordError(id, err)
			}
			j.mu.Lock()
			j.processed++
			j.mu.Unlock()
		}

		w.publish(ctx, j)
		if len(externalIDs) < pageSize {
			break
		}
		page++
	}

	w.finish(ctx, j, StatusCompleted)
}

// awaitCapacity pauses page fetching while the shared Ingest Worker is near
// its concurrency cap, per spec §5's backpressure rule.
func (w *Worker) awaitCapacity(ctx context.Context, j *job) {
	if w.ingest == nil || w.ingest.Capacity() == 0 {
		return
	}
	threshold := int(float64(w.ingest.Capacity()) * backpressureThreshold)
	for w.ingest.QueueDepth() >= threshold {
		if j.isCancelled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (w *Worker) finish(ctx context.Context, j *job, status Status) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
	w.publish(ctx, j)
	w.logger.Info("scrape job finished", zap.String("job_id", j.id), zap.String("status", string(status)), zap.Int("processed", j.processed))
}

// String renders the worker with the number of jobs it currently holds.
func (w *Worker) String() string {
	return fmt.Sprintf("scrape.Worker{jobs=%d}", len(w.jobs))
}
