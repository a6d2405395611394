package sectionizer

import (
	"context"
	"encoding/json"
	"strings"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/llm"
)

// modelSection is the wire shape the fallback prompt asks the chat model to
// emit — indices are resolved against excerpt after parsing since a model
// cannot be trusted to report byte-accurate offsets.
type modelSection struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewModelFallback builds a ModelFallback backed by a chat completion call,
// used when the marker catalog finds nothing in a decision's text — e.g. a
// decision formatted with non-standard headings. Grounded on the
// orchestrator's structured-JSON synthesis pattern (synth.go), reused here
// at the boundary where the spec allows "optional model-assisted fallback"
// (spec §4.5).
func NewModelFallback(chat llm.ChatClient) ModelFallback {
	return func(ctx context.Context, excerpt string) ([]domain.Section, error) {
		system := `You split Ukrainian court decision text into typed sections. Respond
with a JSON array only, no commentary, no markdown fences:
[{"type":"FACTS|CLAIMS|LAW_REFERENCES|COURT_REASONING|DECISION|AMOUNTS","text":""}]
Each "text" must be copied verbatim from the input, never paraphrased. Omit
any section type that is not present.`

		raw, err := chat.Complete(ctx, system, excerpt)
		if err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "model-assisted sectionizer call failed", err)
		}

		var parsed []modelSection
		if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
			return nil, apperr.Wrap(apperr.PreconditionFail, "model-assisted sectionizer output was not a JSON array", err)
		}

		var sections []domain.Section
		for _, p := range parsed {
			t := domain.SectionType(strings.ToUpper(strings.TrimSpace(p.Type)))
			if !validSectionType(t) || strings.TrimSpace(p.Text) == "" {
				continue
			}
			start := strings.Index(excerpt, p.Text)
			if start < 0 {
				continue
			}
			sections = append(sections, domain.Section{
				Type:       t,
				Text:       p.Text,
				StartIndex: start,
				EndIndex:   start + len(p.Text),
				Confidence: 0.5,
			})
		}
		return sections, nil
	}
}

func validSectionType(t domain.SectionType) bool {
	switch t {
	case domain.SectionFacts, domain.SectionClaims, domain.SectionLawReferences,
		domain.SectionCourtReasoning, domain.SectionDecision, domain.SectionAmounts:
		return true
	default:
		return false
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
