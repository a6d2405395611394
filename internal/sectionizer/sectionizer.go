// Package sectionizer converts raw decision text into typed, non-overlapping
// sections using a read-only marker catalog, following the teacher's
// document-chunker pattern-scanning approach (regexp.MustCompile catalogs,
// case-insensitive matching) generalized from generic legal-document
// chunking to the fixed six-type legal section taxonomy.
package sectionizer

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
)

// maxIterations bounds any single marker scan, guarding against pathological
// regex behavior on adversarial input (spec §4.5 step 1).
const maxIterations = 1000

// skipAfterMarker is the character skip before looking for the next
// section-start or paragraph break (spec §4.5 step 2).
const skipAfterMarker = 100

// maxSectionLength caps a section's length absent an earlier boundary.
const maxSectionLength = 5000

// marker is one case-insensitive phrase/regex recognized as the start of a
// section of the given type.
type marker struct {
	sectionType domain.SectionType
	pattern     *regexp.Regexp
}

// catalog is the read-only marker set, initialized once (spec §9 design
// note: "a read-only catalog struct initialized once").
var catalog = []marker{
	{domain.SectionFacts, regexp.MustCompile(`(?i)встановлено[:,]?`)},
	{domain.SectionFacts, regexp.MustCompile(`(?i)суд встановив`)},
	{domain.SectionFacts, regexp.MustCompile(`(?i)обставини справи`)},
	{domain.SectionClaims, regexp.MustCompile(`(?i)позивач просить`)},
	{domain.SectionClaims, regexp.MustCompile(`(?i)позовні вимоги`)},
	{domain.SectionClaims, regexp.MustCompile(`(?i)просив(?:а|и)? суд`)},
	{domain.SectionLawReferences, regexp.MustCompile(`(?i)відповідно до ст(?:атт[іяю])?\.?`)},
	{domain.SectionLawReferences, regexp.MustCompile(`(?i)керуючись ст(?:аттями)?\.?`)},
	{domain.SectionCourtReasoning, regexp.MustCompile(`(?i)суд вважає`)},
	{domain.SectionCourtReasoning, regexp.MustCompile(`(?i)суд зазначає`)},
	{domain.SectionCourtReasoning, regexp.MustCompile(`(?i)оцінюючи надані докази`)},
	{domain.SectionDecision, regexp.MustCompile(`(?i)ухвалив\s*:?`)},
	{domain.SectionDecision, regexp.MustCompile(`(?i)вирішив\s*:?`)},
	{domain.SectionDecision, regexp.MustCompile(`(?i)постановив\s*:?`)},
	{domain.SectionAmounts, regexp.MustCompile(`(?i)стягнути.*?(?:грн|гривень|грн\.)`)},
	{domain.SectionAmounts, regexp.MustCompile(`(?i)у розмірі\s+\d`)},
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// ModelFallback is invoked when no marker-based section survives and
// model-assistance is enabled; it returns sections derived from the first
// ~8,000 characters of text (spec §4.5 step 6).
type ModelFallback func(ctx context.Context, excerpt string) ([]domain.Section, error)

// Sectionizer turns raw text into typed sections.
type Sectionizer struct {
	modelFallback ModelFallback
}

// New builds a Sectionizer. modelFallback may be nil to disable step 6.
func New(modelFallback ModelFallback) *Sectionizer {
	return &Sectionizer{modelFallback: modelFallback}
}

type candidate struct {
	sectionType domain.SectionType
	start       int
	end         int
	markerHits  int
}

// Sectionize runs the full algorithm described in spec §4.5 against text,
// returning sections sorted by start_index. Documents shorter than 100
// characters are never sectionized (spec §8 property 9), matching the
// Ingest Worker's idempotency check.
func (s *Sectionizer) Sectionize(ctx context.Context, text string) ([]domain.Section, error) {
	if len(text) < 100 {
		return nil, nil
	}

	candidates := scanMarkers(text)
	accepted := resolveOverlaps(candidates)

	sections := make([]domain.Section, 0, len(accepted))
	for _, c := range accepted {
		confidence := scoreConfidence(c)
		if confidence < 0.5 {
			continue
		}
		sections = append(sections, domain.Section{
			Type:       c.sectionType,
			Text:       text[c.start:c.end],
			StartIndex: c.start,
			EndIndex:   c.end,
			Confidence: confidence,
		})
	}

	if len(sections) == 0 && s.modelFallback != nil {
		excerpt := text
		if len(excerpt) > 8000 {
			excerpt = excerpt[:8000]
		}
		fallbackSections, err := s.modelFallback(ctx, excerpt)
		if err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "model-assisted sectionizer fallback failed", err)
		}
		sections = fallbackSections
	}

	sort.Slice(sections, func(i, j int) bool { return sections[i].StartIndex < sections[j].StartIndex })

	if err := validateNonOverlapping(sections); err != nil {
		return nil, err
	}
	return sections, nil
}

func scanMarkers(text string) []candidate {
	var out []candidate
	for _, m := range catalog {
		locs := findAllIndexBounded(m.pattern, text, maxIterations)
		for _, loc := range locs {
			start := loc[0]
			end := sectionEnd(text, start, m.sectionType)
			hits := countMarkersInSpan(text[start:end])
			out = append(out, candidate{sectionType: m.sectionType, start: start, end: end, markerHits: hits})
		}
	}
	return out
}

// findAllIndexBounded mirrors regexp.FindAllStringIndex but halts after cap
// matches — the scanning routine's fixed contract against pathological
// patterns (spec §9).
func findAllIndexBounded(re *regexp.Regexp, text string, cap int) [][]int {
	return re.FindAllStringIndex(text, cap)
}

// sectionEnd computes the earliest of: next marker after a skip, a
// paragraph break after the skip, start+maxSectionLength, or end of text.
func sectionEnd(text string, start int, currentType domain.SectionType) int {
	skipFrom := start + skipAfterMarker
	if skipFrom > len(text) {
		skipFrom = len(text)
	}

	end := start + maxSectionLength
	if end > len(text) {
		end = len(text)
	}

	rest := text[skipFrom:]

	if loc := nextMarkerIndex(rest); loc >= 0 {
		candidateEnd := skipFrom + loc
		if candidateEnd < end {
			end = candidateEnd
		}
	}

	if loc := paragraphBreak.FindStringIndex(rest); loc != nil {
		candidateEnd := skipFrom + loc[0]
		if candidateEnd < end {
			end = candidateEnd
		}
	}

	if end < start {
		end = start
	}
	return end
}

func nextMarkerIndex(text string) int {
	best := -1
	for _, m := range catalog {
		loc := m.pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < best {
			best = loc[0]
		}
	}
	return best
}

func countMarkersInSpan(span string) int {
	count := 0
	for _, m := range catalog {
		count += len(findAllIndexBounded(m.pattern, span, maxIterations))
	}
	return count
}

// resolveOverlaps discards candidates that intersect an already-accepted
// span; ties resolve by priority (lower number wins), then first-come
// within equal priority (spec §4.5 edge-case policy).
func resolveOverlaps(candidates []candidate) []candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		pi := domain.SectionPriority(candidates[i].sectionType)
		pj := domain.SectionPriority(candidates[j].sectionType)
		if pi != pj {
			return pi < pj
		}
		return candidates[i].start < candidates[j].start
	})

	var accepted []candidate
	for _, c := range candidates {
		overlaps := false
		for _, a := range accepted {
			if spansIntersect(c.start, c.end, a.start, a.end) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

func spansIntersect(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// scoreConfidence applies the base/adjustment/clamp rule of spec §4.5 step 4.
func scoreConfidence(c candidate) float64 {
	confidence := 0.7
	confidence += 0.1 * float64(c.markerHits-1)
	length := c.end - c.start
	if length < 50 {
		confidence -= 0.2
	}
	if length > 10000 {
		confidence -= 0.1
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func validateNonOverlapping(sections []domain.Section) error {
	for i := 1; i < len(sections); i++ {
		if sections[i].StartIndex < sections[i-1].EndIndex {
			return apperr.New(apperr.InvariantViolated, "sectionizer produced overlapping sections after finalization")
		}
	}
	return nil
}

// isSkippable reports whether s is blank. Nothing in the package calls it.
func isSkippable(s string) bool { return strings.TrimSpace(s) == "" }
