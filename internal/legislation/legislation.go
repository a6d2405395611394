// Package legislation implements the Legislation Service (spec §4.8): on
// demand fetch/parse/chunk/index of statute articles, structure and search
// queries over the indexed corpus, and the free-form reference resolver.
// Grounded on the teacher's legal-gateway reference/citation helpers,
// composed here from the legislation source adapter, the Metadata Store, the
// Vector Store, and the Embedding Gateway.
package legislation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"legal-research-engine/internal/adapters/legislation"
	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/embedding"
	"legal-research-engine/internal/store/metadata"
	"legal-research-engine/internal/store/vector"
)

// codeTable resolves the Ukrainian procedural-code abbreviations used in
// free-form citations to their external act codes, per spec §4.8.
var codeTable = map[string]string{
	"ЦПК": "1618-15",
	"ГПК": "1798-12",
	"КАС": "2747-15",
	"КПК": "4651-17",
	"ЦК":  "435-15",
	"ГК":  "436-15",
	"ПКУ": "2755-17",
}

// reverseCodeTable maps a resolved act code back to its canonical
// abbreviation, used by FormatReference for the parse/format round trip
// (spec §8 property 8).
var reverseCodeTable = func() map[string]string {
	m := make(map[string]string, len(codeTable))
	for abbr, code := range codeTable {
		m[code] = abbr
	}
	return m
}()

// Reference is a resolved statute citation: an act plus an article number.
type Reference struct {
	ActID   string
	Article string
}

// Service composes the adapter, stores, and embedding gateway into the
// on-demand legislation pipeline.
type Service struct {
	adapter *legislation.Adapter
	meta    *metadata.Store
	vectors *vector.Store
	gateway *embedding.Gateway
}

// New builds a Legislation Service.
func New(adapter *legislation.Adapter, meta *metadata.Store, vectors *vector.Store, gateway *embedding.Gateway) *Service {
	return &Service{adapter: adapter, meta: meta, vectors: vectors, gateway: gateway}
}

// EnsureExists fetches, saves, and indexes an act if it is not already in
// the store, per spec §4.8.
func (s *Service) EnsureExists(ctx context.Context, actID string) error {
	if _, err := s.meta.GetLegislationAct(ctx, actID); err == nil {
		return nil
	} else if apperr.KindOf(err) != apperr.NotFound {
		return err
	}

	result, err := s.adapter.Fetch(ctx, actID)
	if err != nil {
		return fmt.Errorf("fetch legislation act %s: %w", actID, err)
	}
	return s.Save(ctx, result.Act, result.Articles)
}

// Save persists an act and its articles, then chunks and embeds each
// article into the Vector Store tagged `document_type = legislation`, per
// spec §4.8.
func (s *Service) Save(ctx context.Context, act domain.LegislationAct, articles []domain.LegislationArticle) error {
	if err := s.meta.UpsertLegislationAct(ctx, act); err != nil {
		return fmt.Errorf("save legislation act %s: %w", act.ExternalCode, err)
	}
	for _, article := range articles {
		if err := s.meta.UpsertLegislationArticle(ctx, article); err != nil {
			return fmt.Errorf("save legislation article %s ст. %s: %w", article.ActCode, article.ArticleNumber, err)
		}
		if err := s.indexArticle(ctx, article); err != nil {
			return fmt.Errorf("index legislation article %s ст. %s: %w", article.ActCode, article.ArticleNumber, err)
		}
	}
	return nil
}

func (s *Service) indexArticle(ctx context.Context, article domain.LegislationArticle) error {
	chunks := legislation.CreateArticleChunks(article)
	for _, chunk := range chunks {
		if s.gateway == nil || s.vectors == nil {
			continue
		}
		emb, err := s.gateway.Embed(ctx, chunk.Text)
		if err != nil {
			if apperr.Is(err, apperr.ResourceExhausted) {
				return err
			}
			continue
		}
		vectorID := uuid.NewString()
		payload := domain.ChunkPayload{
			DocID:       article.ActCode + ":" + article.ArticleNumber,
			SectionType: domain.SectionLawReferences,
			Text:        chunk.Text,
			LawArticles: []string{"ст. " + article.ArticleNumber},
		}
		if err := s.vectors.Upsert(ctx, vectorID, emb, payload, domain.DocumentLegislation); err != nil {
			continue
		}
		_ = s.meta.InsertLegislationChunk(ctx, article.ActCode, article.ArticleNumber, chunk.ChunkIndex, chunk.Text, vectorID)
	}
	return nil
}

// GetArticle returns the current version of one article, ensuring the act
// is indexed first.
func (s *Service) GetArticle(ctx context.Context, actID, articleNumber string) (*domain.LegislationArticle, error) {
	if err := s.EnsureExists(ctx, actID); err != nil {
		return nil, err
	}
	return s.meta.GetLegislationArticle(ctx, actID, articleNumber)
}

// GetArticles returns the current versions of several articles from one act.
func (s *Service) GetArticles(ctx context.Context, actID string, numbers []string) ([]domain.LegislationArticle, error) {
	if err := s.EnsureExists(ctx, actID); err != nil {
		return nil, err
	}
	return s.meta.GetLegislationArticles(ctx, actID, numbers)
}

// Structure is the table-of-contents response for `get_structure`.
type Structure struct {
	Act      *domain.LegislationAct
	TOC      []string
	Articles []domain.LegislationArticle
}

// GetStructure returns the act's metadata, an ordered table of contents, and
// every current article.
func (s *Service) GetStructure(ctx context.Context, actID string) (*Structure, error) {
	if err := s.EnsureExists(ctx, actID); err != nil {
		return nil, err
	}
	act, err := s.meta.GetLegislationAct(ctx, actID)
	if err != nil {
		return nil, err
	}
	articles, err := s.meta.ListLegislationArticles(ctx, actID)
	if err != nil {
		return nil, err
	}
	sort.Slice(articles, func(i, j int) bool {
		return legislation.ArticleNumberAsInt(articles[i].ArticleNumber) < legislation.ArticleNumberAsInt(articles[j].ArticleNumber)
	})
	toc := make([]string, len(articles))
	for i, a := range articles {
		toc[i] = "ст. " + a.ArticleNumber
	}
	return &Structure{Act: act, TOC: toc, Articles: articles}, nil
}

// GroupedHit is one search result, grouped by act for `search`.
type GroupedHit struct {
	ActID   string
	Results []legislation.SearchHit
}

// Search runs a full-text query over stored articles, optionally restricted
// to one act, and groups hits by act.
func (s *Service) Search(ctx context.Context, query, actID string, limit int) ([]GroupedHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "search query must not be empty")
	}
	articles, err := s.meta.SearchLegislationFullText(ctx, query, actID, limit)
	if err != nil {
		return nil, err
	}
	byAct := map[string][]legislation.SearchHit{}
	var order []string
	for _, a := range articles {
		hits := legislation.SearchArticles(query, []domain.LegislationArticle{a}, 1)
		if len(hits) == 0 {
			continue
		}
		if _, ok := byAct[a.ActCode]; !ok {
			order = append(order, a.ActCode)
		}
		byAct[a.ActCode] = append(byAct[a.ActCode], hits...)
	}
	out := make([]GroupedHit, 0, len(order))
	for _, actCode := range order {
		out = append(out, GroupedHit{ActID: actCode, Results: byAct[actCode]})
	}
	return out, nil
}

// FindRelevant runs a vector search filtered to `document_type = legislation`,
// falling back to full-text search if the vector search errors, per spec §4.8.
// A non-empty actID keeps only that act's vector hits; it is applied after
// the search limit, so fewer than limit results may come back.
func (s *Service) FindRelevant(ctx context.Context, query, actID string, limit int) ([]vector.Result, error) {
	if s.gateway != nil && s.vectors != nil {
		qv, err := s.gateway.Embed(ctx, query)
		if err == nil {
			results, err := s.vectors.Search(ctx, qv, vector.Filter{DocumentType: domain.DocumentLegislation}, limit)
			if err == nil {
				if actID != "" {
					scoped := results[:0]
					for _, r := range results {
						if strings.HasPrefix(r.Payload.DocID, actID+":") {
							scoped = append(scoped, r)
						}
					}
					results = scoped
				}
				return results, nil
			}
		}
	}
	articles, err := s.meta.SearchLegislationFullText(ctx, query, actID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]vector.Result, len(articles))
	for i, a := range articles {
		out[i] = vector.Result{
			ID:    a.ActCode + ":" + a.ArticleNumber,
			Score: 0,
			Payload: domain.ChunkPayload{
				DocID:       a.ActCode + ":" + a.ArticleNumber,
				SectionType: domain.SectionLawReferences,
				Text:        a.Text,
				LawArticles: []string{"ст. " + a.ArticleNumber},
			},
		}
	}
	return out, nil
}

// ParseReference resolves a free-form statute citation against the fixed
// code table, returning nil if unresolvable (spec §4.8 / §8 property 8).
func ParseReference(phrase string) *Reference {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil
	}
	tokens := strings.Fields(phrase)

	var articleNumber string
	var codeToken string
	for i := 0; i < len(tokens); i++ {
		lower := strings.ToLower(tokens[i])
		if lower == "ст." || lower == "ст" {
			if i+1 < len(tokens) {
				articleNumber = strings.Trim(tokens[i+1], ".,")
			}
			continue
		}
		upper := strings.ToUpper(tokens[i])
		if _, ok := codeTable[upper]; ok {
			codeToken = upper
			continue
		}
		if isActCode(tokens[i]) {
			codeToken = tokens[i]
		}
	}
	if articleNumber == "" || codeToken == "" {
		return nil
	}

	actID := codeToken
	if code, ok := codeTable[codeToken]; ok {
		actID = code
	}
	return &Reference{ActID: actID, Article: articleNumber}
}

// isActCode reports whether tok looks like a raw external act code such as
// "1618-15" rather than an abbreviation.
func isActCode(tok string) bool {
	if !strings.Contains(tok, "-") {
		return false
	}
	for _, r := range tok {
		if r != '-' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// FormatReference renders a Reference back into the canonical phrase form
// `ст. <article> <abbreviation>`, the inverse ParseReference needs to
// satisfy the round-trip law in spec §8 property 8.
func FormatReference(ref Reference) string {
	abbr, ok := reverseCodeTable[ref.ActID]
	if !ok {
		abbr = ref.ActID
	}
	return "ст. " + ref.Article + " " + abbr
}
