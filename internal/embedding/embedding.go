// Package embedding implements the Embedding Gateway (spec §4.1): batching,
// chunking, and dimension enforcement on top of the llm package's provider
// clients. Grounded on the teacher's EmbeddingService (github.com/.../
// go-enhanced-rag-service/embedding_service.go), generalized from its
// Ollama-specific batch path to any llm.EmbedClient.
package embedding

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/cache"
	"legal-research-engine/internal/llm"
)

// embeddingCacheTTL bounds how long a cached vector is trusted before the
// gateway re-embeds — long enough to absorb repeat queries against the same
// legislation article or case excerpt within a session, short enough that a
// provider/model swap is reflected within a day.
const embeddingCacheTTL = 24 * time.Hour

// chunkTargetChars and chunkOverlapWords implement spec §4.1's chunking
// rule: ~2,048 characters (~512 tokens) per chunk, ~50-word overlap, never
// crossing a sentence boundary that exists within a 10% slack window.
const (
	chunkTargetChars  = 2048
	chunkOverlapWords = 50
	chunkSlackFrac    = 0.10
)

// Gateway wraps an llm.EmbedClient with the fixed-dimension contract and
// chunking helper the rest of the pipeline depends on.
type Gateway struct {
	client    llm.EmbedClient
	dimension int
	cache     cache.Cache // optional redis-backed embedding cache tier
}

// New builds a Gateway bound to one provider client and its declared
// dimension (spec §3: "dimension equal to the fixed D").
func New(client llm.EmbedClient, dimension int) *Gateway {
	return &Gateway{client: client, dimension: dimension}
}

// WithCache attaches a cache tier (normally a Redis-backed cache.Cache, per
// SPEC_FULL.md §1's Redis wiring) so repeated embeds of the same normalized
// text skip the provider round-trip entirely.
func (g *Gateway) WithCache(c cache.Cache) *Gateway {
	g.cache = c
	return g
}

// Dimension returns the fixed vector dimension D.
func (g *Gateway) Dimension() int { return g.dimension }

// Embed produces one dense vector, enforcing the dimension invariant. A
// mismatch is INVARIANT_VIOLATED per spec §4.1 — never silently truncated
// or padded. A cache hit short-circuits the provider call entirely.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	cacheKey := ""
	if g.cache != nil {
		cacheKey = "embed:" + itoa(g.dimension) + ":" + cache.KeyHash(text)
		if raw, ok, err := g.cache.Get(ctx, cacheKey); err == nil && ok {
			var vec []float32
			if json.Unmarshal(raw, &vec) == nil && len(vec) == g.dimension {
				return vec, nil
			}
		}
	}

	vec, err := g.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != g.dimension {
		return nil, apperr.New(apperr.InvariantViolated, dimensionMismatchMsg(len(vec), g.dimension))
	}
	if g.cache != nil {
		if raw, err := json.Marshal(vec); err == nil {
			_ = g.cache.Set(ctx, cacheKey, raw, embeddingCacheTTL)
		}
	}
	return vec, nil
}

// EmbedBatch embeds every text, preserving input order, per spec §4.1.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.client.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		if len(v) != g.dimension {
			return nil, apperr.New(apperr.InvariantViolated, dimensionMismatchMsg(len(v), g.dimension)+" at index "+itoa(i))
		}
	}
	return vecs, nil
}

// Stats exposes the underlying client's cost/latency bookkeeping.
func (g *Gateway) Stats() llm.Stats { return g.client.Stats() }

func dimensionMismatchMsg(got, want int) string {
	return "embedding dimension mismatch: got " + itoa(got) + ", configured " + itoa(want)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SplitForEmbedding chunks text into ~chunkTargetChars windows with a
// ~chunkOverlapWords word overlap, preferring to break on a sentence
// boundary found within a 10% slack window of the target, per spec §4.1.
func SplitForEmbedding(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkTargetChars {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	n := len(runes)
	slack := int(float64(chunkTargetChars) * chunkSlackFrac)

	pos := 0
	for pos < n {
		end := pos + chunkTargetChars
		if end >= n {
			chunks = append(chunks, strings.TrimSpace(string(runes[pos:n])))
			break
		}

		boundary := findSentenceBoundary(runes, end, slack)
		if boundary > pos {
			end = boundary
		}

		chunk := strings.TrimSpace(string(runes[pos:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		pos = end - overlapChars(runes, end)
		if pos <= 0 || pos >= end {
			pos = end
		}
	}
	return chunks
}

// findSentenceBoundary looks forward, then backward, within slack runes of
// target for a sentence-ending punctuation mark followed by whitespace.
// Returns target unchanged if none is found in the window.
func findSentenceBoundary(runes []rune, target, slack int) int {
	n := len(runes)
	for d := 0; d <= slack; d++ {
		if i := target + d; i < n && i > 0 && isSentenceEnd(runes[i-1]) {
			return i
		}
		if i := target - d; i > 0 && i < n && isSentenceEnd(runes[i-1]) {
			return i
		}
	}
	return target
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// overlapChars converts the ~50-word overlap into an approximate rune count
// by walking backward from end and counting word boundaries.
func overlapChars(runes []rune, end int) int {
	words := 0
	i := end
	inWord := false
	for i > 0 && words < chunkOverlapWords {
		i--
		isSpace := unicode.IsSpace(runes[i])
		if isSpace {
			inWord = false
		} else if !inWord {
			inWord = true
			words++
		}
	}
	return end - i
}
