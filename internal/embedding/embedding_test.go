package embedding

import (
	"context"
	"strings"
	"testing"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/cache"
	"legal-research-engine/internal/llm"
)

type fakeClient struct {
	dim int
	err error
}

func (f *fakeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}

func (f *fakeClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeClient) Stats() llm.Stats { return llm.Stats{} }

func TestEmbedDimensionMismatchIsInvariantViolated(t *testing.T) {
	g := New(&fakeClient{dim: 768}, 1536)
	_, err := g.Embed(context.Background(), "hello")
	if err == nil || apperr.KindOf(err) != apperr.InvariantViolated {
		t.Fatalf("expected INVARIANT_VIOLATED, got %v", err)
	}
}

func TestEmbedBatchPreservesOrderAndDimension(t *testing.T) {
	g := New(&fakeClient{dim: 1536}, 1536)
	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for _, v := range vecs {
		if len(v) != 1536 {
			t.Fatalf("expected dimension 1536, got %d", len(v))
		}
	}
}

func TestSplitForEmbeddingShortTextSingleChunk(t *testing.T) {
	chunks := SplitForEmbedding("short text")
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Fatalf("expected single unchanged chunk, got %v", chunks)
	}
}

func TestSplitForEmbeddingLongTextChunksWithOverlap(t *testing.T) {
	sentence := "Позивач просить суд задовольнити позовні вимоги. "
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(sentence)
	}
	text := b.String()

	chunks := SplitForEmbedding(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if len(c) == 0 {
			t.Fatalf("got empty chunk")
		}
		total += len([]rune(c))
	}
	textRunes := len([]rune(strings.TrimSpace(text)))
	if total <= textRunes {
		t.Fatalf("expected overlapping chunks: chunk runes %d, text runes %d", total, textRunes)
	}
}

func TestEmbedCacheHitSkipsProvider(t *testing.T) {
	client := &fakeClient{dim: 1536}
	g := New(client, 1536).WithCache(cache.NewInMemory())

	first, err := g.Embed(context.Background(), "ст. 625 ЦК")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client.err = apperr.New(apperr.Unavailable, "provider should not be called again")
	second, err := g.Embed(context.Background(), "ст. 625 ЦК")
	if err != nil {
		t.Fatalf("expected cache hit, got error: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("cached vector dimension mismatch: got %d want %d", len(second), len(first))
	}
}

func TestSplitForEmbeddingEmptyText(t *testing.T) {
	if chunks := SplitForEmbedding("   "); chunks != nil {
		t.Fatalf("expected nil for blank text, got %v", chunks)
	}
}
