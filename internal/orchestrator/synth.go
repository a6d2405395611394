package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/llm"
)

// ShortConclusion is the synthesizer's headline answer, per spec §4.9 step 5.
type ShortConclusion struct {
	Conclusion      string   `json:"conclusion"`
	Conditions      []string `json:"conditions"`
	RiskOrException string   `json:"risk_or_exception"`
}

// LegalNorm quotes one statute article cited in the answer.
type LegalNorm struct {
	Act        string `json:"act"`
	ArticleRef string `json:"article_ref"`
	Quote      string `json:"quote"`
	Comment    string `json:"comment"`
}

// SupremeCourtQuote is one quoted excerpt backing a Supreme Court position.
type SupremeCourtQuote struct {
	Quote       string `json:"quote"`
	SourceDocID string `json:"source_doc_id"`
	SectionType string `json:"section_type"`
}

// SupremeCourtPosition is one thesis the synthesizer attributes to Supreme
// Court practice.
type SupremeCourtPosition struct {
	Thesis  string              `json:"thesis"`
	Quotes  []SupremeCourtQuote `json:"quotes"`
	Context string              `json:"context"`
}

// PracticeItem is one case-law excerpt offered as supporting practice.
type PracticeItem struct {
	SourceDocID     string `json:"source_doc_id"`
	SectionType     string `json:"section_type"`
	Quote           string `json:"quote"`
	RelevanceReason string `json:"relevance_reason"`
	CaseNumber      string `json:"case_number"`
	Court           string `json:"court"`
	Date            string `json:"date"`
}

// Checklist is the actionable follow-up the synthesizer proposes.
type Checklist struct {
	Steps    []string `json:"steps"`
	Evidence []string `json:"evidence"`
}

// SourceRef anchors one quote to its originating document/section, the
// mandatory citation-grounding unit per spec §3/§8.
type SourceRef struct {
	DocumentID  string `json:"document_id"`
	SectionType string `json:"section_type"`
	Quote       string `json:"quote"`
}

// LegalFramework wraps the quoted statute norms.
type LegalFramework struct {
	Norms []LegalNorm `json:"norms"`
}

// PackagedAnswer is the synthesizer's fixed tagged-variant output shape, per
// spec §4.9 step 5. Synthesize rejects output whose
// short_conclusion.conclusion is empty; every other absent field decodes to
// its zero value without an error.
type PackagedAnswer struct {
	ShortConclusion          ShortConclusion        `json:"short_conclusion"`
	LegalFramework           LegalFramework         `json:"legal_framework"`
	SupremeCourtPositions    []SupremeCourtPosition `json:"supreme_court_positions"`
	Practice                 []PracticeItem         `json:"practice"`
	CriteriaTest             []string               `json:"criteria_test"`
	CounterargumentsAndRisks []string               `json:"counterarguments_and_risks"`
	Checklist                Checklist              `json:"checklist"`
	Sources                  []SourceRef            `json:"sources"`
}

// Synthesize issues the single structured-output model call described in
// spec §4.9 step 5, quoting the resolved legislation articles and the
// expanded precedent excerpts alongside the user's query.
func (o *Orchestrator) Synthesize(ctx context.Context, chat llm.ChatClient, query string, intent Intent, evidence EvidenceSet, norms []LegalNorm) (*PackagedAnswer, error) {
	system := `You are a Ukrainian legal research assistant. Using ONLY the quoted
legislation and case excerpts provided, produce a JSON object with this exact
shape (no extra commentary, no markdown fences):
{"short_conclusion":{"conclusion":"","conditions":[],"risk_or_exception":""},
"legal_framework":{"norms":[{"act":"","article_ref":"","quote":"","comment":""}]},
"supreme_court_positions":[{"thesis":"","quotes":[{"quote":"","source_doc_id":"","section_type":""}],"context":""}],
"practice":[{"source_doc_id":"","section_type":"","quote":"","relevance_reason":"","case_number":"","court":"","date":""}],
"criteria_test":[],"counterarguments_and_risks":[],
"checklist":{"steps":[],"evidence":[]},
"sources":[{"document_id":"","section_type":"","quote":""}]}
Every "quote" field must be copied verbatim from the provided excerpts. Never
invent a quote, document id, or article text not present in the input.`

	prompt := buildSynthesisPrompt(query, intent, evidence, norms)

	raw, err := chat.Complete(ctx, system, prompt)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "synthesis call failed", err)
	}

	var answer PackagedAnswer
	if err := parseJSONLoose(raw, &answer); err != nil {
		return nil, apperr.Wrap(apperr.PreconditionFail, "synthesizer output did not match the required schema", err)
	}
	if strings.TrimSpace(answer.ShortConclusion.Conclusion) == "" {
		return nil, apperr.New(apperr.PreconditionFail, "synthesizer output missing required short_conclusion.conclusion")
	}
	return &answer, nil
}

func buildSynthesisPrompt(query string, intent Intent, evidence EvidenceSet, norms []LegalNorm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUERY: %s\nINTENT: %s\n\n", query, intent.Intent)

	if len(norms) > 0 {
		b.WriteString("LEGISLATION:\n")
		for _, n := range norms {
			fmt.Fprintf(&b, "- %s %s: %s\n", n.Act, n.ArticleRef, n.Quote)
		}
		b.WriteString("\n")
	}

	b.WriteString("CASE EXCERPTS:\n")
	for _, item := range evidence.Items {
		if item.Source == "legislation" {
			continue
		}
		fmt.Fprintf(&b, "- [doc:%s section:%s case:%s court:%s] %s\n",
			item.DocumentID, item.SectionType, item.CaseNumber, item.Court, truncate(item.Text, 1500))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ValidateCitations enforces spec §4.9 step 6 / §8 property 3: every quote
// must be a whitespace-normalized substring of a section reachable from a
// document in the evidence pool. Failing quotes are stripped; if sources[]
// becomes empty the whole answer is rejected with PRECONDITION_FAILED.
func ValidateCitations(answer *PackagedAnswer, evidence EvidenceSet) ([]string, error) {
	pool := map[string][]string{} // document id -> normalized section texts
	for _, item := range evidence.Items {
		pool[item.DocumentID] = append(pool[item.DocumentID], normalizeForMatch(item.Text))
	}

	var warnings []string
	traceable := func(docID, quote string) bool {
		texts, ok := pool[docID]
		if !ok {
			return false
		}
		normQuote := normalizeForMatch(quote)
		if normQuote == "" {
			return false
		}
		for _, t := range texts {
			if strings.Contains(t, normQuote) {
				return true
			}
		}
		return false
	}

	filteredSources := answer.Sources[:0:0]
	for _, src := range answer.Sources {
		if traceable(src.DocumentID, src.Quote) {
			filteredSources = append(filteredSources, src)
		} else {
			warnings = append(warnings, fmt.Sprintf("dropped untraceable quote for document %s", src.DocumentID))
		}
	}
	answer.Sources = filteredSources

	answer.LegalFramework.Norms = filterNorms(answer.LegalFramework.Norms, traceable, &warnings)
	answer.Practice = filterPractice(answer.Practice, traceable, &warnings)
	for i := range answer.SupremeCourtPositions {
		answer.SupremeCourtPositions[i].Quotes = filterSCQuotes(answer.SupremeCourtPositions[i].Quotes, traceable, &warnings)
	}

	if len(answer.Sources) == 0 {
		return warnings, apperr.New(apperr.PreconditionFail, "no source anchor survived citation validation")
	}
	return warnings, nil
}

func filterNorms(norms []LegalNorm, traceable func(docID, quote string) bool, warnings *[]string) []LegalNorm {
	out := norms[:0:0]
	for _, n := range norms {
		if traceable(n.Act+":"+bareArticleNumber(n.ArticleRef), n.Quote) || n.Quote == "" {
			out = append(out, n)
			continue
		}
		*warnings = append(*warnings, "dropped untraceable legislation quote: "+n.ArticleRef)
	}
	return out
}

// bareArticleNumber strips the "ст." prefix LegalNorm.ArticleRef carries for
// display, recovering the raw article number used as the evidence pool's
// DocID suffix ("actCode:articleNumber"), per the Legislation Service's DocID
// format.
func bareArticleNumber(articleRef string) string {
	s := strings.TrimSpace(articleRef)
	s = strings.TrimPrefix(s, "ст.")
	s = strings.TrimPrefix(s, "Ст.")
	return strings.TrimSpace(s)
}

func filterPractice(items []PracticeItem, traceable func(docID, quote string) bool, warnings *[]string) []PracticeItem {
	out := items[:0:0]
	for _, p := range items {
		if traceable(p.SourceDocID, p.Quote) {
			out = append(out, p)
			continue
		}
		*warnings = append(*warnings, "dropped untraceable practice quote for "+p.SourceDocID)
	}
	return out
}

func filterSCQuotes(quotes []SupremeCourtQuote, traceable func(docID, quote string) bool, warnings *[]string) []SupremeCourtQuote {
	out := quotes[:0:0]
	for _, q := range quotes {
		if traceable(q.SourceDocID, q.Quote) {
			out = append(out, q)
			continue
		}
		*warnings = append(*warnings, "dropped untraceable supreme court quote for "+q.SourceDocID)
	}
	return out
}

// normalizeForMatch collapses whitespace and lowercases, per spec §4.9 step
// 6's "normalized whitespace and case" substring rule.
func normalizeForMatch(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}
