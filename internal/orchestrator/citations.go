package orchestrator

import (
	"context"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
)

// maxCitationTraceDepth bounds the citation-graph walk per design note §9:
// "never walked recursively without a visited set and a max-depth limit."
const maxCitationTraceDepth = 3

// CitationEdge is one hop of a citation-graph trace, annotated with the
// depth it was discovered at.
type CitationEdge struct {
	domain.CitationLink
	Depth int
}

// TraceCitations walks the citation_links graph outward from rootDocID,
// breadth-first, up to maxCitationTraceDepth hops, never revisiting a
// document id. This exercises design note §9's cyclic-reference guard
// directly rather than leaving it implicit in a recursive call.
func (o *Orchestrator) TraceCitations(ctx context.Context, rootDocID string) ([]CitationEdge, error) {
	if o.meta == nil {
		return nil, apperr.New(apperr.Unavailable, "metadata store not configured")
	}
	if rootDocID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "document_id must not be empty")
	}

	visited := map[string]bool{rootDocID: true}
	frontier := []string{rootDocID}
	var edges []CitationEdge

	for depth := 1; depth <= maxCitationTraceDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, docID := range frontier {
			links, err := o.meta.CitationsFrom(ctx, docID)
			if err != nil {
				return edges, apperr.Wrap(apperr.Unavailable, "citation trace interrupted", err)
			}
			for _, l := range links {
				edges = append(edges, CitationEdge{CitationLink: l, Depth: depth})
				if !visited[l.ToDocID] {
					visited[l.ToDocID] = true
					next = append(next, l.ToDocID)
				}
			}
		}
		frontier = next
	}
	return edges, nil
}
