package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
)

// DocumentSummary is summarize_document's output: a short synopsis plus the
// key clauses flagged in the text.
type DocumentSummary struct {
	DocumentID string   `json:"document_id"`
	Summary    string   `json:"summary"`
	KeyClauses []string `json:"key_clauses,omitempty"`
}

// GetDecision implements `get_decision`: fetches one court decision by id,
// enforcing the caller's visibility.
func (o *Orchestrator) GetDecision(ctx context.Context, callerID, documentID string) (*domain.Document, error) {
	if o.meta == nil {
		return nil, apperr.New(apperr.Unavailable, "metadata store not configured")
	}
	return o.meta.GetDocumentByID(ctx, documentID, callerID)
}

// ExtractSections implements `extract_sections`: returns every typed section
// of a document, ordered by position.
func (o *Orchestrator) ExtractSections(ctx context.Context, documentID string) ([]domain.Section, error) {
	if o.meta == nil {
		return nil, apperr.New(apperr.Unavailable, "metadata store not configured")
	}
	return o.meta.GetSectionsByDocument(ctx, documentID)
}

// LoadTexts implements `load_texts`: fetches full text for a batch of
// document ids in one pass, tolerating individual misses.
func (o *Orchestrator) LoadTexts(ctx context.Context, callerID string, documentIDs []string) (map[string]string, []string) {
	out := map[string]string{}
	var misses []string
	for _, id := range documentIDs {
		d, err := o.meta.GetDocumentByID(ctx, id, callerID)
		if err != nil || d == nil {
			misses = append(misses, id)
			continue
		}
		out[id] = d.FullText
	}
	return out, misses
}

// clauseKeywords flags sentences worth surfacing as "key clauses" in an
// uploaded document, mirroring the Sectionizer's marker-catalog approach at
// sentence granularity instead of section granularity.
var clauseKeywords = []string{
	"зобов'язання", "відповідальність", "неустойка", "штраф", "пеня",
	"строк дії", "розірвання", "форс-мажор", "гарантія",
}

// ExtractKeyClauses implements `extract_key_clauses`: splits parsed text
// into sentences and keeps those containing a clause keyword.
func ExtractKeyClauses(text string) []string {
	sentences := splitSentences(text)
	var out []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, kw := range clauseKeywords {
			if strings.Contains(lower, kw) {
				out = append(out, strings.TrimSpace(s))
				break
			}
		}
	}
	return out
}

// SummarizeDocument implements `summarize_document`: a short heuristic
// synopsis (the first sentence plus every flagged clause). No chat model is
// called.
func SummarizeDocument(documentID, text string) DocumentSummary {
	sentences := splitSentences(text)
	lead := ""
	if len(sentences) > 0 {
		lead = strings.TrimSpace(sentences[0])
	}
	return DocumentSummary{
		DocumentID: documentID,
		Summary:    lead,
		KeyClauses: ExtractKeyClauses(text),
	}
}

var sentenceSplitPattern = regexp.MustCompile(`(?:[.!?]|\n)+\s*`)

func splitSentences(text string) []string {
	parts := sentenceSplitPattern.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// DiffSeverity classifies one word-level change in compare_documents.
type DiffSeverity string

const (
	DiffCritical    DiffSeverity = "critical"
	DiffSignificant DiffSeverity = "significant"
	DiffMinor       DiffSeverity = "minor"
)

// DocumentDiff is one changed span between two document versions.
type DocumentDiff struct {
	Severity DiffSeverity `json:"severity"`
	Before   string       `json:"before"`
	After    string       `json:"after"`
}

var (
	currencyOrDatePattern  = regexp.MustCompile(`(?i)\d[\d.,]*\s*(грн|usd|eur|\$|₴)|\d{1,4}[./]\d{1,2}[./]\d{1,4}`)
	liabilityTermsPattern  = regexp.MustCompile(`(?i)відповідальніст|неустойк|штраф|пен[яі]|збитк`)
	rightsObligationsTerms = regexp.MustCompile(`(?i)зобов'язан|право|обов'язок|гарант`)
)

// classifySpan applies the critical/significant/minor lexical rule from
// spec §4.9's compare_documents contract.
func classifySpan(before, after string) DiffSeverity {
	combined := before + " " + after
	if currencyOrDatePattern.MatchString(combined) || liabilityTermsPattern.MatchString(combined) {
		return DiffCritical
	}
	if rightsObligationsTerms.MatchString(combined) && len(combined) > 50 {
		return DiffSignificant
	}
	return DiffMinor
}

// CompareDocuments implements `compare_documents`: a word-level diff
// between two texts, each changed span classified by the lexical severity
// rule above.
func CompareDocuments(textA, textB string) []DocumentDiff {
	wordsA := strings.Fields(textA)
	wordsB := strings.Fields(textB)
	ops := wordDiff(wordsA, wordsB)

	var diffs []DocumentDiff
	for _, op := range ops {
		if op.before == "" && op.after == "" {
			continue
		}
		diffs = append(diffs, DocumentDiff{
			Severity: classifySpan(op.before, op.after),
			Before:   op.before,
			After:    op.after,
		})
	}
	return diffs
}

type diffOp struct {
	before, after string
}

// wordDiff computes a minimal-edit word-level diff via the classic LCS
// backtrack, then groups consecutive replace/insert/delete runs into spans.
func wordDiff(a, b []string) []diffOp {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var removed, added []string
	var ops []diffOp
	flush := func() {
		if len(removed) > 0 || len(added) > 0 {
			ops = append(ops, diffOp{before: strings.Join(removed, " "), after: strings.Join(added, " ")})
			removed, added = nil, nil
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			flush()
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			removed = append(removed, a[i])
			i++
		default:
			added = append(added, b[j])
			j++
		}
	}
	for ; i < n; i++ {
		removed = append(removed, a[i])
	}
	for ; j < m; j++ {
		added = append(added, b[j])
	}
	flush()
	return ops
}
