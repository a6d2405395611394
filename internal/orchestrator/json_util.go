package orchestrator

import (
	"strings"

	"github.com/bytedance/sonic"
)

// parseJSONLoose decodes a model's raw text response into out, tolerating
// the common "```json ... ```" fencing chat models wrap structured output
// in. Decoding itself uses sonic per the domain stack's wiring of fast JSON
// decode for synthesizer payloads (spec SPEC_FULL.md §1).
func parseJSONLoose(raw string, out any) error {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.IndexAny(trimmed, "{[")
	end := strings.LastIndexAny(trimmed, "}]")
	if start >= 0 && end > start {
		trimmed = trimmed[start : end+1]
	}
	return sonic.UnmarshalString(trimmed, out)
}
