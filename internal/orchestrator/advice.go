package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/llm"
	"legal-research-engine/internal/pattern"
)

// expansionDepth is the top-K cases whose full COURT_REASONING/DECISION
// sections are loaded for synthesis, per spec §4.9 step 4.
const expansionDepth = 3

// LegalAdvice is the final payload of get_legal_advice: the classified
// intent, the raw evidence pool (precedent_chunks), and the validated,
// citation-grounded answer, per spec §4.9 step 7.
type LegalAdvice struct {
	Intent          Intent         `json:"intent"`
	PrecedentChunks []EvidenceItem `json:"precedent_chunks"`
	PackagedAnswer  *PackagedAnswer `json:"packaged_answer"`
	Warnings        []string       `json:"warnings,omitempty"`
}

func (o *Orchestrator) chatFor(budget llm.Budget) llm.ChatClient {
	profile := o.registry.ResolveChat(budget)
	if profile.BaseURL == "" {
		return nil
	}
	return llm.NewHTTPChatClient(profile)
}

// GetLegalAdvice implements `get_legal_advice`, the canonical end-to-end
// path of spec §4.9: classify intent, plan + collect evidence, expand the
// top-K cases to full reasoning/decision text, synthesize one structured
// answer, validate every quote against the evidence pool, and package the
// result. Citation-validation failures are never downgraded — they raise
// PRECONDITION_FAILED per spec §7.
func (o *Orchestrator) GetLegalAdvice(ctx context.Context, callerID, query string, budget llm.Budget) (*LegalAdvice, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "query must not be empty")
	}

	chat := o.chatFor(budget)

	intent, err := o.ClassifyIntent(ctx, chat, budget, query)
	if err != nil {
		return nil, err
	}

	evidence := o.CollectEvidence(ctx, query, intent)
	o.expandTopCases(ctx, callerID, &evidence)

	norms := normsFromEvidence(evidence)

	if chat == nil {
		return nil, apperr.New(apperr.Unavailable, "no chat provider configured for synthesis")
	}
	answer, err := o.Synthesize(ctx, chat, query, intent, evidence, norms)
	if err != nil {
		return nil, err
	}

	warnings, err := ValidateCitations(answer, evidence)
	if err != nil {
		return nil, err
	}
	warnings = append(evidence.Warnings, warnings...)

	return &LegalAdvice{
		Intent:          intent,
		PrecedentChunks: evidence.Items,
		PackagedAnswer:  answer,
		Warnings:        warnings,
	}, nil
}

// expandTopCases loads the full COURT_REASONING/DECISION sections for the
// top expansionDepth documents by evidence score and appends each one as an
// extra "expansion" evidence item (score 1.0) beside the existing vector-chunk
// items, so the synthesizer (and citation validator) see the whole passage,
// per spec §4.9 step 4.
func (o *Orchestrator) expandTopCases(ctx context.Context, callerID string, evidence *EvidenceSet) {
	if o.meta == nil {
		return
	}
	topDocs := topDocumentIDs(evidence.Items, expansionDepth)
	for _, docID := range topDocs {
		sections, err := o.meta.GetSectionsByDocument(ctx, docID)
		if err != nil {
			continue
		}
		for _, sec := range sections {
			if sec.Type != domain.SectionCourtReasoning && sec.Type != domain.SectionDecision {
				continue
			}
			evidence.Items = append(evidence.Items, EvidenceItem{
				DocumentID:  docID,
				Source:      "expansion",
				SectionType: sec.Type,
				Text:        sec.Text,
				Score:       1.0,
			})
		}
	}
}

// topDocumentIDs returns up to n distinct document ids ordered by their best
// evidence score, descending.
func topDocumentIDs(items []EvidenceItem, n int) []string {
	best := map[string]float64{}
	var order []string
	for _, item := range items {
		if item.DocumentID == "" || item.Source == "legislation" {
			continue
		}
		if _, ok := best[item.DocumentID]; !ok {
			order = append(order, item.DocumentID)
		}
		if item.Score > best[item.DocumentID] {
			best[item.DocumentID] = item.Score
		}
	}
	sort.Slice(order, func(i, j int) bool { return best[order[i]] > best[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// normsFromEvidence groups legislation-sourced evidence items by their
// "actCode:articleNumber" document id into quoted LegalNorm entries for the
// synthesis prompt.
func normsFromEvidence(evidence EvidenceSet) []LegalNorm {
	seen := map[string]bool{}
	var out []LegalNorm
	for _, item := range evidence.Items {
		if item.Source != "legislation" || item.DocumentID == "" || seen[item.DocumentID] {
			continue
		}
		seen[item.DocumentID] = true
		act, article, _ := strings.Cut(item.DocumentID, ":")
		out = append(out, LegalNorm{
			Act:        act,
			ArticleRef: "ст. " + article,
			Quote:      truncate(item.Text, 1500),
		})
	}
	return out
}

// SearchPrecedents implements `search_precedents`: matches the query's
// embedding against the Legal-Pattern Store for the classified intent, per
// spec §4.7's match contract.
func (o *Orchestrator) SearchPrecedents(ctx context.Context, query string, intent string) ([]pattern.Matched, error) {
	if o.patterns == nil || o.gateway == nil {
		return nil, apperr.New(apperr.Unavailable, "pattern store or embedding gateway not configured")
	}
	qv, err := o.gateway.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return o.patterns.Match(ctx, qv, intent)
}

// ProContraResult is compare_practice_pro_contra's balanced two-sided
// sample of Supreme Court practice.
type ProContraResult struct {
	Affirmative []EvidenceItem `json:"affirmative"`
	Negative    []EvidenceItem `json:"negative"`
}

// ComparePracticeProContra implements `compare_practice_pro_contra`: two
// parallel searches, one phrased affirmatively and one negatively, both
// scoped to Supreme Court practice, per spec §4.9's specialized-tools note.
func (o *Orchestrator) ComparePracticeProContra(ctx context.Context, topic string) (*ProContraResult, error) {
	var affirmative, negative []EvidenceItem
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		affirmative = o.searchSupremeCourtPractice(ctx, topic+" задовольнити позов", 10)
	}()
	go func() {
		defer wg.Done()
		negative = o.searchSupremeCourtPractice(ctx, topic+" відмовити в позові", 10)
	}()
	wg.Wait()
	return &ProContraResult{Affirmative: affirmative, Negative: negative}, nil
}

// SearchSupremeCourtPractice implements `search_supreme_court_practice`: a
// vector search restricted to the Supreme Court, over reasoning/decision
// sections.
func (o *Orchestrator) SearchSupremeCourtPractice(ctx context.Context, query string, limit int) ([]EvidenceItem, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "query must not be empty")
	}
	return o.searchSupremeCourtPractice(ctx, query, limit), nil
}

func (o *Orchestrator) searchSupremeCourtPractice(ctx context.Context, query string, limit int) []EvidenceItem {
	items, err := o.vectorEvidence(ctx, query, Intent{
		SectionsOfInterest: []string{"COURT_REASONING", "DECISION"},
		Slots:              map[string]string{"court_level": "supreme"},
	})
	if err != nil {
		return nil
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// FindSimilarFactPatternCases implements `find_similar_fact_pattern_cases`:
// distills keywords from free-text facts via the synthesizer, then runs a
// filtered vector+keyword search on the distilled query, per spec §4.9's
// specialized-tools note.
func (o *Orchestrator) FindSimilarFactPatternCases(ctx context.Context, facts string, budget llm.Budget) (EvidenceSet, error) {
	if strings.TrimSpace(facts) == "" {
		return EvidenceSet{}, apperr.New(apperr.InvalidArgument, "facts must not be empty")
	}
	query := facts
	if chat := o.chatFor(budget); chat != nil {
		if keywords, err := chat.Complete(ctx,
			"Extract the 5-10 most legally salient keywords from these facts. Respond with a comma-separated list only, no commentary.",
			facts); err == nil && strings.TrimSpace(keywords) != "" {
			query = keywords
		}
	}
	intent := Intent{SectionsOfInterest: []string{"FACTS", "COURT_REASONING", "DECISION"}}
	return o.CollectEvidence(ctx, query, intent), nil
}
