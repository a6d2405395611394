package orchestrator

import (
	"context"
	"strings"

	"legal-research-engine/internal/llm"
)

// Intent is the planner's classification of what the user is trying to
// accomplish, per spec §4.9 step 1.
type Intent struct {
	Intent            string            `json:"intent"`
	Confidence        float64           `json:"confidence"`
	Domains           []string          `json:"domains"`
	RequiredEntities  []string          `json:"required_entities"`
	SectionsOfInterest []string         `json:"sections_of_interest"`
	ReasoningBudget   llm.Budget        `json:"reasoning_budget"`
	Slots             map[string]string `json:"slots"`
}

// intentKeywords maps a keyword found in the query (lowercased) to the
// intent it signals, checked in declaration order (first match wins), so
// entries with more specific phrases are listed before generic ones.
var intentKeywords = []struct {
	intent   string
	keywords []string
	domains  []string
	sections []string
}{
	{"appeal", []string{"апеляційну скаргу", "оскаржити рішення"},
		[]string{"procedure"}, []string{"DECISION"}},
	{"procedural_deadlines", []string{"строк", "оскаржити", "апеляц", "оскарження", "подати скаргу"},
		[]string{"procedure"}, []string{"DECISION", "COURT_REASONING"}},
	{"consumer_protection", []string{"споживач", "повернення товару", "захист прав споживачів"},
		[]string{"consumer"}, []string{"CLAIMS", "COURT_REASONING", "DECISION"}},
	{"contract_dispute", []string{"договір", "зобов'язання", "невиконання договору", "розірвання договору"},
		[]string{"contract"}, []string{"CLAIMS", "COURT_REASONING"}},
	{"monetary_claim", []string{"стягнення коштів", "борг", "неустойка", "пеня", "відшкодування"},
		[]string{"monetary"}, []string{"AMOUNTS", "DECISION"}},
	{"precedent_search", []string{"судова практика", "практика верховного суду", "аналогічна справа"},
		[]string{"precedent"}, []string{"COURT_REASONING", "DECISION"}},
}

// procedureCodeKeywords resolves a slot value for calculate_procedural_deadlines
// from phrases in the query.
var procedureCodeKeywords = map[string]string{
	"цивільн": "cpc",
	"господарськ": "commercial",
	"адміністративн": "acp",
	"кримінальн": "cpc_criminal",
}

// ClassifyIntent implements the `classify_intent` tool: a rule-based
// keyword scan with a model-assisted fallback when no rule matches,
// following the Sectionizer's own "markers first, model second" pattern
// generalized to free-text intent detection.
func (o *Orchestrator) ClassifyIntent(ctx context.Context, chat llm.ChatClient, budget llm.Budget, query string) (Intent, error) {
	lower := strings.ToLower(query)

	for _, k := range intentKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				return Intent{
					Intent:             k.intent,
					Confidence:         0.8,
					Domains:            k.domains,
					RequiredEntities:   requiredEntitiesFor(k.intent),
					SectionsOfInterest: k.sections,
					ReasoningBudget:    budget,
					Slots:              extractSlots(lower),
				}, nil
			}
		}
	}

	if chat != nil {
		if intent, ok := classifyViaModel(ctx, chat, query, budget); ok {
			return intent, nil
		}
	}

	return Intent{
		Intent:             "general_legal_question",
		Confidence:         0.4,
		Domains:            []string{"general"},
		SectionsOfInterest: []string{"FACTS", "COURT_REASONING", "DECISION"},
		ReasoningBudget:    budget,
		Slots:              extractSlots(lower),
	}, nil
}

func requiredEntitiesFor(intent string) []string {
	switch intent {
	case "procedural_deadlines", "appeal":
		return []string{"event_date", "procedure_code"}
	case "monetary_claim":
		return []string{"amount"}
	default:
		return nil
	}
}

// extractSlots pulls out a small, fixed set of slot values (procedural
// code, court level) the planner needs, per spec §4.9 step 1.
func extractSlots(lowerQuery string) map[string]string {
	slots := map[string]string{}
	for kw, code := range procedureCodeKeywords {
		if strings.Contains(lowerQuery, kw) {
			slots["procedure_code"] = code
			break
		}
	}
	if strings.Contains(lowerQuery, "апеляц") {
		slots["appeal_type"] = "appeal"
	}
	if strings.Contains(lowerQuery, "касац") {
		slots["appeal_type"] = "cassation"
	}
	if strings.Contains(lowerQuery, "верховн") {
		slots["court_level"] = "supreme"
	}
	return slots
}

// classifyViaModel asks the synthesizer for a structured intent when no
// keyword rule matched. Parsing failures fail open to the general_legal_question
// default rather than raising — intent classification is advisory, not a
// hard gate, per spec §4.9.
func classifyViaModel(ctx context.Context, chat llm.ChatClient, query string, budget llm.Budget) (Intent, bool) {
	system := `You classify Ukrainian legal queries. Respond with compact JSON only:
{"intent": "...", "confidence": 0.0-1.0, "domains": ["..."], "sections_of_interest": ["FACTS","CLAIMS","LAW_REFERENCES","COURT_REASONING","DECISION","AMOUNTS"]}`
	raw, err := chat.Complete(ctx, system, query)
	if err != nil {
		return Intent{}, false
	}
	var parsed struct {
		Intent             string   `json:"intent"`
		Confidence         float64  `json:"confidence"`
		Domains            []string `json:"domains"`
		SectionsOfInterest []string `json:"sections_of_interest"`
	}
	if err := parseJSONLoose(raw, &parsed); err != nil || parsed.Intent == "" {
		return Intent{}, false
	}
	return Intent{
		Intent:             parsed.Intent,
		Confidence:         parsed.Confidence,
		Domains:            parsed.Domains,
		SectionsOfInterest: parsed.SectionsOfInterest,
		ReasoningBudget:    budget,
		Slots:              map[string]string{},
	}, true
}
