package orchestrator

import (
	"context"
	"strings"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/legislation"
)

// ArticleHit is one vector-search result over indexed legislation, returned
// as a flat list (not grouped by act) by `find_relevant_articles` and
// `search_procedural_norms`.
type ArticleHit struct {
	ActID         string  `json:"act_id"`
	ArticleNumber string  `json:"article_number"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
}

// SearchLegislation implements `search_legislation`.
func (o *Orchestrator) SearchLegislation(ctx context.Context, query, actID string) ([]legislation.GroupedHit, error) {
	if o.legislation == nil {
		return nil, apperr.New(apperr.Unavailable, "legislation service not configured")
	}
	return o.legislation.Search(ctx, query, actID, 20)
}

// GetArticle implements `get_article`.
func (o *Orchestrator) GetArticle(ctx context.Context, actID, articleNumber string) (*domain.LegislationArticle, error) {
	if o.legislation == nil {
		return nil, apperr.New(apperr.Unavailable, "legislation service not configured")
	}
	return o.legislation.GetArticle(ctx, actID, articleNumber)
}

// GetStructure implements `get_structure`.
func (o *Orchestrator) GetStructure(ctx context.Context, actID string) (*legislation.Structure, error) {
	if o.legislation == nil {
		return nil, apperr.New(apperr.Unavailable, "legislation service not configured")
	}
	return o.legislation.GetStructure(ctx, actID)
}

// FindRelevantArticles implements `find_relevant_articles`: a raw vector
// search over indexed articles. The act code and article number are
// recovered from the vector's "actCode:articleNumber" DocID, per the
// Legislation Service's indexing convention.
func (o *Orchestrator) FindRelevantArticles(ctx context.Context, query, actID string, limit int) ([]ArticleHit, error) {
	if o.legislation == nil {
		return nil, apperr.New(apperr.Unavailable, "legislation service not configured")
	}
	results, err := o.legislation.FindRelevant(ctx, query, actID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]ArticleHit, 0, len(results))
	for _, r := range results {
		act, article, _ := strings.Cut(r.Payload.DocID, ":")
		out = append(out, ArticleHit{
			ActID:         act,
			ArticleNumber: article,
			Text:          r.Payload.Text,
			Score:         r.Score,
		})
	}
	return out, nil
}

// SearchProceduralNorms implements `search_procedural_norms`: a
// find_relevant_articles call scoped to the procedure-code acts.
func (o *Orchestrator) SearchProceduralNorms(ctx context.Context, query, procedureCode string) ([]ArticleHit, error) {
	actID := procedureActFor(procedureCode)
	return o.FindRelevantArticles(ctx, query, actID, 20)
}

func procedureActFor(procedureCode string) string {
	switch procedureCode {
	case "cpc":
		return "1618-15"
	case "commercial":
		return "1798-12"
	case "acp":
		return "2747-15"
	case "cpc_criminal":
		return "4651-17"
	default:
		return ""
	}
}
