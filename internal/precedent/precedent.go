// Package precedent implements the periodic precedent-status refresh job
// (SPEC_FULL.md §10): a ticker worker, grounded on the teacher's
// memoryConsolidationWorker pattern (go-enhanced-rag-service/main.go), that
// re-derives PrecedentStatus for documents newly cited as reversed/overruled/
// distinguished by freshly ingested CitationLink rows.
package precedent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"legal-research-engine/internal/domain"
)

// citationTypes are the only CitationLink kinds that move precedent status;
// a plain "cites" link never changes a document's standing.
var citationTypes = []string{domain.CitationReverses, domain.CitationOverrules, domain.CitationDistinguishes}

// Store is the subset of the Metadata Store this job needs.
type Store interface {
	CitationLinksSince(ctx context.Context, since time.Time, citationTypes []string) ([]domain.CitationLink, error)
	GetPrecedentStatus(ctx context.Context, documentID string) (*domain.PrecedentStatus, error)
	UpsertPrecedentStatus(ctx context.Context, ps domain.PrecedentStatus) error
}

// Worker periodically scans for new citation links and updates the cited
// documents' PrecedentStatus rows.
type Worker struct {
	store    Store
	interval time.Duration
	logger   *zap.Logger

	lastRun time.Time
}

// New builds a refresh worker. interval defaults to one hour, matching the
// teacher's memory-consolidation cadence.
func New(store Store, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{store: store, interval: interval, logger: logger, lastRun: time.Now()}
}

// Run blocks, ticking until ctx is cancelled. Intended to be launched with
// `go worker.Run(ctx)` from main.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	since := w.lastRun
	w.lastRun = time.Now()

	links, err := w.store.CitationLinksSince(ctx, since, citationTypes)
	if err != nil {
		w.logger.Error("precedent refresh: citation link scan failed", zap.Error(err))
		return
	}
	if len(links) == 0 {
		return
	}

	updated := 0
	for _, link := range links {
		if err := w.apply(ctx, link); err != nil {
			w.logger.Error("precedent refresh: apply failed", zap.String("to_doc", link.ToDocID), zap.Error(err))
			continue
		}
		updated++
	}
	w.logger.Info("precedent refresh tick", zap.Int("links_seen", len(links)), zap.Int("updated", updated))
}

// apply folds one new citation link into the target document's precedent
// status, appending to the matching list and deriving the new coarse status.
// "reverses" and "overrules" dominate "distinguishes": a document reversed or
// overruled stays reversed/overruled even if also distinguished elsewhere.
func (w *Worker) apply(ctx context.Context, link domain.CitationLink) error {
	existing, err := w.store.GetPrecedentStatus(ctx, link.ToDocID)
	if err != nil {
		return err
	}
	ps := domain.PrecedentStatus{DocumentID: link.ToDocID, Status: domain.PrecedentActive}
	if existing != nil {
		ps = *existing
	}

	switch link.CitationType {
	case domain.CitationReverses:
		ps.ReversedBy = appendUnique(ps.ReversedBy, link.FromDocID)
		ps.Status = domain.PrecedentReversed
	case domain.CitationOverrules:
		ps.OverruledBy = appendUnique(ps.OverruledBy, link.FromDocID)
		ps.Status = domain.PrecedentOverruled
	case domain.CitationDistinguishes:
		ps.DistinguishedIn = appendUnique(ps.DistinguishedIn, link.FromDocID)
		if ps.Status == domain.PrecedentActive {
			ps.Status = domain.PrecedentDistinguished
		}
	}
	ps.LastChecked = time.Now()
	return w.store.UpsertPrecedentStatus(ctx, ps)
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
