package orchestrator

import "testing"

func TestFilterNorms_KeysMatchRawLegislationDocID(t *testing.T) {
	// EvidenceItem.DocumentID for legislation evidence is the raw
	// "actCode:articleNumber" form (internal/legislation/legislation.go), with no
	// "ст. " prefix on the article half.
	evidence := EvidenceSet{
		Items: []EvidenceItem{
			{DocumentID: "435-15:625", Source: "legislation", Text: "Зобов'язання виникають з договорів."},
		},
	}
	answer := &PackagedAnswer{
		LegalFramework: LegalFramework{
			Norms: []LegalNorm{
				{Act: "435-15", ArticleRef: "ст. 625", Quote: "Зобов'язання виникають з договорів."},
			},
		},
		Sources: []SourceRef{{DocumentID: "435-15:625", Quote: "Зобов'язання виникають з договорів."}},
	}

	_, err := ValidateCitations(answer, evidence)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.LegalFramework.Norms) != 1 {
		t.Fatalf("expected the genuinely grounded norm to survive, got %d", len(answer.LegalFramework.Norms))
	}
}

func TestFilterNorms_DropsUngroundedQuote(t *testing.T) {
	evidence := EvidenceSet{
		Items: []EvidenceItem{
			{DocumentID: "435-15:625", Source: "legislation", Text: "Зобов'язання виникають з договорів."},
		},
	}
	answer := &PackagedAnswer{
		LegalFramework: LegalFramework{
			Norms: []LegalNorm{
				{Act: "435-15", ArticleRef: "ст. 625", Quote: "текст якого немає у джерелі"},
			},
		},
		Sources: []SourceRef{{DocumentID: "435-15:625", Quote: "Зобов'язання виникають з договорів."}},
	}

	warnings, err := ValidateCitations(answer, evidence)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.LegalFramework.Norms) != 0 {
		t.Fatalf("expected the ungrounded norm to be dropped, got %+v", answer.LegalFramework.Norms)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning recording the dropped norm")
	}
}

func TestBareArticleNumber(t *testing.T) {
	cases := map[string]string{
		"ст. 625": "625",
		"Ст. 625": "625",
		"625":     "625",
		" ст.625": "625",
	}
	for in, want := range cases {
		if got := bareArticleNumber(in); got != want {
			t.Errorf("bareArticleNumber(%q) = %q, want %q", in, got, want)
		}
	}
}
