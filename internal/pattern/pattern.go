// Package pattern implements the Legal-Pattern Store: extracting an
// aggregated reasoning fingerprint across a case cohort and matching new
// queries against the stored patterns, grounded on the teacher's
// MemoryEngine's cohort-aggregation style (UserPattern) generalized from
// user behavior patterns to legal-reasoning patterns.
package pattern

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/store/metadata"
)

// CaseInput is the distilled view of one case used for extraction: its
// COURT_REASONING section text and its reasoning embedding.
type CaseInput struct {
	CaseID            string
	ReasoningText      string
	ReasoningEmbedding []float32
}

var lawArticlePattern = regexp.MustCompile(`(?i)ст\.?\s*(\d+[\p{L}\d./-]*)`)

var (
	wonKeywords      = []string{"задовольнити", "задоволено", "стягнути на користь позивача"}
	rejectedKeywords = []string{"відмовити", "відмовлено", "у задоволенні позову відмовити"}
	partialKeywords  = []string{"задовольнити частково", "частково задоволено"}
)

var riskLexicon = []string{"пропущено строк", "недостатньо доказів", "неналежний відповідач", "відсутність документів"}
var successLexicon = []string{"письмові докази", "експертний висновок", "свідчення свідків", "досудове врегулювання"}

// Store is the Legal-Pattern Store.
type Store struct {
	meta *metadata.Store
}

// New builds a pattern store backed by the Metadata Store.
func New(meta *metadata.Store) *Store {
	return &Store{meta: meta}
}

// Extract aggregates cases sharing an intent into a LegalPattern. At least 3
// cases with reasoning text are required, per spec §4.7.
func Extract(intent string, cases []CaseInput) (*domain.LegalPattern, error) {
	eligible := make([]CaseInput, 0, len(cases))
	for _, c := range cases {
		if strings.TrimSpace(c.ReasoningText) != "" {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) < 3 {
		return nil, apperr.New(apperr.PreconditionFail, "pattern extraction requires at least 3 cases with COURT_REASONING")
	}

	lawArticles := lawArticlesAboveThreshold(eligible, 0.30)
	outcome := majorityOutcome(eligible)
	risk := dedupedKeywordHits(eligible, riskLexicon)
	success := dedupedKeywordHits(eligible, successLexicon)
	centroid := centroidOf(eligible)
	confidence := tieredConfidence(len(eligible))

	exampleIDs := make([]string, 0, len(eligible))
	for _, c := range eligible {
		exampleIDs = append(exampleIDs, c.CaseID)
	}

	return &domain.LegalPattern{
		Intent:           intent,
		LawArticles:      lawArticles,
		Centroid:         centroid,
		DecisionOutcome:  outcome,
		Frequency:        len(eligible),
		Confidence:       confidence,
		ExampleCaseIDs:   exampleIDs,
		RiskFactors:      risk,
		SuccessArguments: success,
		AntiPatterns:     map[string]any{},
	}, nil
}

// lawArticlesAboveThreshold returns citations matching "ст. N" that appear
// in at least threshold fraction of cases.
func lawArticlesAboveThreshold(cases []CaseInput, threshold float64) []string {
	counts := map[string]int{}
	for _, c := range cases {
		seenInCase := map[string]bool{}
		for _, m := range lawArticlePattern.FindAllStringSubmatch(c.ReasoningText, -1) {
			ref := "ст. " + m[1]
			if !seenInCase[ref] {
				seenInCase[ref] = true
				counts[ref]++
			}
		}
	}
	min := threshold * float64(len(cases))
	var out []string
	for ref, count := range counts {
		if float64(count) >= min {
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out
}

// majorityOutcome classifies each case by keyword hit, then majority-votes;
// ties default to rejected (spec §4.7).
func majorityOutcome(cases []CaseInput) domain.DecisionOutcome {
	var won, rejected, partial int
	for _, c := range cases {
		lower := strings.ToLower(c.ReasoningText)
		switch {
		case containsAny(lower, partialKeywords):
			partial++
		case containsAny(lower, wonKeywords):
			won++
		case containsAny(lower, rejectedKeywords):
			rejected++
		}
	}

	if won > rejected && won > partial {
		return domain.OutcomeConsumerWon
	}
	if partial > won && partial > rejected {
		return domain.OutcomePartial
	}
	if rejected >= won && rejected >= partial {
		return domain.OutcomeRejected
	}
	return domain.OutcomeRejected
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func dedupedKeywordHits(cases []CaseInput, lexicon []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range cases {
		lower := strings.ToLower(c.ReasoningText)
		for _, k := range lexicon {
			if strings.Contains(lower, k) && !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// centroidOf computes the element-wise mean of the cases' reasoning
// embeddings.
func centroidOf(cases []CaseInput) []float32 {
	var dim int
	for _, c := range cases {
		if len(c.ReasoningEmbedding) > 0 {
			dim = len(c.ReasoningEmbedding)
			break
		}
	}
	if dim == 0 {
		return nil
	}
	sum := make([]float64, dim)
	n := 0
	for _, c := range cases {
		if len(c.ReasoningEmbedding) != dim {
			continue
		}
		for i, v := range c.ReasoningEmbedding {
			sum[i] += float64(v)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i, v := range sum {
		out[i] = float32(v / float64(n))
	}
	return out
}

// tieredConfidence applies the fixed case-count tiers of spec §4.7.
func tieredConfidence(count int) float64 {
	switch {
	case count < 5:
		return 0.3
	case count < 10:
		return 0.5
	case count < 20:
		return 0.7
	default:
		return 0.9
	}
}

// Matched is a pattern with its match similarity.
type Matched struct {
	Pattern    domain.LegalPattern
	Similarity float64
}

// Match returns patterns for intent whose centroid is more similar to
// queryVector than 0.7 cosine, excluding patterns below 0.6 confidence,
// sorted by similarity descending (spec §4.7).
func (s *Store) Match(ctx context.Context, queryVector []float32, intent string) ([]Matched, error) {
	patterns, err := s.meta.PatternsByIntent(ctx, intent)
	if err != nil {
		return nil, err
	}

	var out []Matched
	for _, p := range patterns {
		if p.Confidence < 0.6 {
			continue
		}
		sim := cosineSimilarity(queryVector, p.Centroid)
		if sim > 0.7 {
			out = append(out, Matched{Pattern: p, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt(normA) * sqrt(normB))
}

func sqrt(v float64) float64 {
	if v == 0 {
		return 0
	}
	x := v
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// Save persists an extracted pattern.
func (s *Store) Save(ctx context.Context, p domain.LegalPattern) (string, error) {
	return s.meta.UpsertLegalPattern(ctx, p)
}
