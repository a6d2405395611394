package orchestrator

import (
	"context"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/legislation"
	"legal-research-engine/internal/store/metadata"
	"legal-research-engine/internal/store/vector"
)

// EvidenceItem is one deduplicated, provenance-tagged piece of retrieved
// evidence, from either the Vector Store, the Metadata Store, or the
// Legislation Service.
type EvidenceItem struct {
	DocumentID  string
	Source      string // "vector" | "metadata" | "legislation" | "expansion"
	SectionType domain.SectionType
	Text        string
	Score       float64
	CaseNumber  string
	Court       string
	Date        time.Time
}

// EvidenceSet is the output of the parallel evidence-collection step, spec
// §4.9 step 3.
type EvidenceSet struct {
	Items           []EvidenceItem
	LegislationRefs []legislation.Reference
	Warnings        []string
}

// perSourceTimeout caps each evidence source's latency so one slow
// collaborator cannot stall the whole fan-out, per spec §4.9/§5.
const perSourceTimeout = 8 * time.Second

// referenceScanPattern finds inline statute citations in free text so the
// retrieval plan can resolve them via parse_reference, per spec §4.9 step 2.
var referenceScanPattern = regexp.MustCompile(`(?i)ст\.?\s*\d+[\p{L}\d./-]*\s+[\p{L}]{2,5}|[\p{L}]{2,5}\s+ст\.?\s*\d+[\p{L}\d./-]*`)

// CollectEvidence issues the vector, metadata, and legislation queries
// concurrently, deduplicates by document id (highest score wins), and
// tolerates partial source failures by recording a warning instead of
// failing the whole call, per spec §4.9 step 3 and §7.
func (o *Orchestrator) CollectEvidence(ctx context.Context, query string, intent Intent) EvidenceSet {
	var (
		mu  sync.Mutex
		set EvidenceSet
		g   errgroup.Group
	)

	addWarning := func(msg string) {
		mu.Lock()
		set.Warnings = append(set.Warnings, msg)
		mu.Unlock()
	}
	addItems := func(items []EvidenceItem) {
		mu.Lock()
		set.Items = append(set.Items, items...)
		mu.Unlock()
	}

	g.Go(func() error {
		sctx, cancel := context.WithTimeout(ctx, perSourceTimeout)
		defer cancel()
		items, err := o.vectorEvidence(sctx, query, intent)
		if err != nil {
			addWarning("vector search unavailable: " + err.Error())
			return nil
		}
		addItems(items)
		return nil
	})

	g.Go(func() error {
		sctx, cancel := context.WithTimeout(ctx, perSourceTimeout)
		defer cancel()
		items, err := o.metadataEvidence(sctx, query)
		if err != nil {
			addWarning("metadata search unavailable: " + err.Error())
			return nil
		}
		addItems(items)
		return nil
	})

	if o.legislation != nil {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, perSourceTimeout)
			defer cancel()
			refs := resolveInlineReferences(query)
			mu.Lock()
			set.LegislationRefs = append(set.LegislationRefs, refs...)
			mu.Unlock()

			results, err := o.legislation.FindRelevant(sctx, query, "", 10)
			if err != nil {
				addWarning("legislation search unavailable: " + err.Error())
				return nil
			}
			items := make([]EvidenceItem, 0, len(results))
			for _, r := range results {
				items = append(items, EvidenceItem{
					DocumentID:  r.Payload.DocID,
					Source:      "legislation",
					SectionType: r.Payload.SectionType,
					Text:        r.Payload.Text,
					Score:       r.Score,
				})
			}
			addItems(items)
			return nil
		})
	}

	// Each goroutine converts its own error to a warning and always returns
	// nil, so Wait never short-circuits the others — the fan-out tolerates
	// partial source failure per spec §7 rather than errgroup's default
	// cancel-on-first-error behavior.
	_ = g.Wait()
	set.Items = dedupeByDocument(set.Items)
	return set
}

func (o *Orchestrator) vectorEvidence(ctx context.Context, query string, intent Intent) ([]EvidenceItem, error) {
	if o.gateway == nil || o.vectors == nil {
		return nil, apperr.New(apperr.Unavailable, "vector store not configured")
	}
	qv, err := o.gateway.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	var sectionTypes []domain.SectionType
	for _, s := range intent.SectionsOfInterest {
		sectionTypes = append(sectionTypes, domain.SectionType(s))
	}
	filter := vector.Filter{SectionTypes: sectionTypes, DocumentType: domain.DocumentCourtDecision}
	if courtLevel, ok := intent.Slots["court_level"]; ok && courtLevel == "supreme" {
		filter.Court = "Верховний Суд"
	}
	results, err := o.vectors.Search(ctx, qv, filter, 20)
	if err != nil {
		return nil, err
	}
	out := make([]EvidenceItem, 0, len(results))
	for _, r := range results {
		out = append(out, EvidenceItem{
			DocumentID:  r.Payload.DocID,
			Source:      "vector",
			SectionType: r.Payload.SectionType,
			Text:        r.Payload.Text,
			Score:       r.Score,
			CaseNumber:  r.Payload.CaseNumber,
			Court:       r.Payload.Court,
			Date:        r.Payload.Date,
		})
	}
	return out, nil
}

func (o *Orchestrator) metadataEvidence(ctx context.Context, query string) ([]EvidenceItem, error) {
	if o.meta == nil {
		return nil, apperr.New(apperr.Unavailable, "metadata store not configured")
	}
	docs, err := o.meta.SearchDocuments(ctx, metadata.SearchFilter{FullText: query, Limit: 20})
	if err != nil {
		return nil, err
	}
	out := make([]EvidenceItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, EvidenceItem{
			DocumentID: d.ID,
			Source:     "metadata",
			Text:       d.FullText,
			CaseNumber: d.CaseNumber,
			Court:      d.Court,
			Date:       d.Date,
			Score:      0.5,
		})
	}
	return out, nil
}

// dedupeByDocument keeps the highest-score occurrence per document id,
// across sources, per spec §5's "unordered, dedup by highest-score" rule.
func dedupeByDocument(items []EvidenceItem) []EvidenceItem {
	best := map[string]EvidenceItem{}
	var order []string
	for _, item := range items {
		if item.DocumentID == "" {
			continue
		}
		cur, ok := best[item.DocumentID]
		if !ok {
			order = append(order, item.DocumentID)
			best[item.DocumentID] = item
			continue
		}
		if item.Score > cur.Score {
			best[item.DocumentID] = item
		}
	}
	out := make([]EvidenceItem, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

// resolveInlineReferences scans free text for statute citation phrases and
// resolves each via parse_reference, discarding unresolvable ones.
func resolveInlineReferences(text string) []legislation.Reference {
	matches := referenceScanPattern.FindAllString(text, 20)
	var out []legislation.Reference
	seen := map[string]bool{}
	for _, m := range matches {
		ref := legislation.ParseReference(m)
		if ref == nil {
			continue
		}
		key := ref.ActID + ":" + ref.Article
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, *ref)
	}
	return out
}
