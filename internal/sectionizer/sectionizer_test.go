package sectionizer

import (
	"context"
	"strings"
	"testing"

	"legal-research-engine/internal/domain"
)

func TestSectionize_FourTypesNonOverlapping(t *testing.T) {
	pad := strings.Repeat("x", 70)
	text := "встановлено " + pad + "\n\n" +
		"позивач просить " + pad + "\n\n" +
		"суд вважає " + pad + "\n\n" +
		"ухвалив " + pad

	s := New(nil)
	sections, err := s.Sectionize(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTypes := []domain.SectionType{domain.SectionFacts, domain.SectionClaims, domain.SectionCourtReasoning, domain.SectionDecision}
	if len(sections) != len(wantTypes) {
		t.Fatalf("got %d sections, want %d: %+v", len(sections), len(wantTypes), sections)
	}
	for i, sec := range sections {
		if sec.Type != wantTypes[i] {
			t.Errorf("section %d: got type %s, want %s", i, sec.Type, wantTypes[i])
		}
		if sec.Confidence < 0.7 {
			t.Errorf("section %d: confidence %f below 0.7", i, sec.Confidence)
		}
		if text[sec.StartIndex:sec.EndIndex] != sec.Text {
			t.Errorf("section %d: text does not match document slice", i)
		}
	}
	for i := 1; i < len(sections); i++ {
		if sections[i].StartIndex < sections[i-1].EndIndex {
			t.Errorf("sections %d and %d overlap", i-1, i)
		}
	}
}

func TestSectionize_ShortTextProducesNoSections(t *testing.T) {
	s := New(nil)
	sections, err := s.Sectionize(context.Background(), "занадто короткий текст")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sections) != 0 {
		t.Fatalf("expected zero sections for short text, got %d", len(sections))
	}
}

func TestResolveOverlaps_LowerPriorityWinsRegardlessOfStart(t *testing.T) {
	// An AMOUNTS candidate (priority 6) starting earlier but overlapping a
	// later FACTS candidate (priority 1) must lose to FACTS, matching the
	// type-major scan order of step 1 rather than earliest-start-wins.
	amounts := candidate{sectionType: domain.SectionAmounts, start: 0, end: 150}
	facts := candidate{sectionType: domain.SectionFacts, start: 100, end: 200}

	accepted := resolveOverlaps([]candidate{amounts, facts})

	if len(accepted) != 1 {
		t.Fatalf("expected exactly one accepted candidate, got %d: %+v", len(accepted), accepted)
	}
	if accepted[0].sectionType != domain.SectionFacts {
		t.Errorf("got %s, want FACTS to win on lower priority", accepted[0].sectionType)
	}
}

func TestSectionize_Deterministic(t *testing.T) {
	pad := strings.Repeat("y", 80)
	text := "встановлено " + pad + "\n\nухвалив " + pad

	s := New(nil)
	first, err := s.Sectionize(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.Sectionize(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("non-deterministic section count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("non-deterministic section %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
