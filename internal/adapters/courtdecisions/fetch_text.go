package courtdecisions

import (
	"context"
	"time"

	"legal-research-engine/internal/domain"
)

// FetchText satisfies ingest.TextFetcher: it pulls the full text first, then
// looks up the decision's metadata via a targeted search so Title/Court/
// Chamber/DisputeCategory/Outcome/Date are populated on the Document, since
// the upstream API splits search hits from full-text retrieval (spec §6). A
// failed metadata search is ignored and the document keeps only the full-text
// fields.
func (a *Adapter) FetchText(ctx context.Context, externalID string) (domain.Document, error) {
	full, err := a.GetFullText(ctx, externalID)
	if err != nil {
		return domain.Document{}, err
	}

	doc := domain.Document{
		ExternalID:   externalID,
		Type:         domain.DocumentCourtDecision,
		CaseNumber:   full.CaseNumber,
		FullText:     full.Text,
		FullTextHTML: full.HTML,
		Metadata:     map[string]any{},
	}

	page, err := a.Search(ctx, SearchParams{
		Where: []WherePredicate{{Field: "id", Op: "=", Value: externalID}},
		Limit: 1,
	})
	if err == nil && page != nil && len(page.Documents) > 0 {
		normalized := a.Normalize(page)
		if len(normalized) > 0 {
			meta := normalized[0]
			doc.Title = meta.Title
			doc.Court = meta.Court
			doc.Chamber = meta.Chamber
			doc.DisputeCategory = meta.DisputeCategory
			doc.Outcome = meta.Outcome
			if !meta.Date.IsZero() {
				doc.Date = meta.Date
			}
		}
	}
	if doc.Date.IsZero() {
		doc.Date = time.Now()
	}
	return doc, nil
}
