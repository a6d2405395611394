package legislation

import "testing"

func TestParseReferenceArticleThenCode(t *testing.T) {
	ref := ParseReference("ст. 625 ЦК")
	if ref == nil {
		t.Fatalf("expected resolved reference")
	}
	if ref.ActID != "435-15" || ref.Article != "625" {
		t.Fatalf("unexpected reference: %+v", ref)
	}
}

func TestParseReferenceCodeThenArticle(t *testing.T) {
	ref := ParseReference("ЦПК ст. 175")
	if ref == nil || ref.ActID != "1618-15" || ref.Article != "175" {
		t.Fatalf("unexpected reference: %+v", ref)
	}
}

func TestParseReferenceRawActCode(t *testing.T) {
	ref := ParseReference("1618-15 ст. 354")
	if ref == nil || ref.ActID != "1618-15" || ref.Article != "354" {
		t.Fatalf("unexpected reference: %+v", ref)
	}
}

func TestParseReferenceUnresolvable(t *testing.T) {
	if ref := ParseReference("просто текст без посилання"); ref != nil {
		t.Fatalf("expected nil for unresolvable phrase, got %+v", ref)
	}
}

func TestParseReferenceEmpty(t *testing.T) {
	if ref := ParseReference(""); ref != nil {
		t.Fatalf("expected nil for empty phrase")
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, abbr := range []string{"ЦПК", "ГПК", "КАС", "КПК", "ЦК", "ГК", "ПКУ"} {
		ref := ParseReference("ст. 100 " + abbr)
		if ref == nil {
			t.Fatalf("expected reference for %s", abbr)
		}
		formatted := FormatReference(*ref)
		roundTripped := ParseReference(formatted)
		if roundTripped == nil || *roundTripped != *ref {
			t.Fatalf("round trip failed for %s: formatted=%q original=%+v got=%+v", abbr, formatted, ref, roundTripped)
		}
	}
}
