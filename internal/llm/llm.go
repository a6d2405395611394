// Package llm holds the embedding/chat provider strategy records and thin
// HTTP clients used by the Embedding Gateway and the Query Orchestrator's
// synthesis step, adapted from the teacher's Ollama-backed EmbeddingService
// (retry with exponential backoff, text normalization) generalized to any
// OpenAI-compatible embeddings/chat endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"legal-research-engine/internal/apperr"
)

// Budget selects a provider profile by cost/quality tier, per the
// multi-budget model-selection design note.
type Budget string

const (
	BudgetEconomy Budget = "economy"
	BudgetDefault Budget = "default"
	BudgetQuality Budget = "quality"
)

// ProviderProfile names a concrete model endpoint plus the properties the
// rest of the pipeline needs to know about it.
type ProviderProfile struct {
	Name               string
	BaseURL            string
	Model              string
	Dimension          int
	MaxTokens          int
	SupportsJSON       bool
	CostPerMillionUSD  float64 // blended input+output estimate
}

// Registry maps a Budget to the profile used for embeddings and for chat
// synthesis. Populated from config, not hardcoded globals, so tests can
// substitute fakes.
type Registry struct {
	Embedding map[Budget]ProviderProfile
	Chat      map[Budget]ProviderProfile
}

// DefaultRegistry builds the registry per SPEC_FULL.md §11's resolved Open
// Question: D=1536 for the primary embedding provider, D=768 for the
// secondary/local profile.
func DefaultRegistry(embeddingURL, embeddingModel string, embeddingDim int, chatURL, chatModel string) Registry {
	return Registry{
		Embedding: map[Budget]ProviderProfile{
			BudgetDefault: {Name: "primary", BaseURL: embeddingURL, Model: embeddingModel, Dimension: embeddingDim, MaxTokens: 8191, CostPerMillionUSD: 0.13},
			BudgetEconomy: {Name: "local", BaseURL: embeddingURL, Model: "nomic-embed-text", Dimension: 768, MaxTokens: 8191, CostPerMillionUSD: 0.0},
		},
		Chat: map[Budget]ProviderProfile{
			BudgetDefault: {Name: "primary", BaseURL: chatURL, Model: chatModel, MaxTokens: 128000, SupportsJSON: true, CostPerMillionUSD: 3.0},
			BudgetQuality: {Name: "quality", BaseURL: chatURL, Model: chatModel, MaxTokens: 128000, SupportsJSON: true, CostPerMillionUSD: 15.0},
		},
	}
}

// ResolveEmbedding returns the embedding profile for a budget, falling back to default.
func (r Registry) ResolveEmbedding(b Budget) ProviderProfile {
	if p, ok := r.Embedding[b]; ok {
		return p
	}
	return r.Embedding[BudgetDefault]
}

// ResolveChat returns the chat profile for a budget, falling back to default.
func (r Registry) ResolveChat(b Budget) ProviderProfile {
	if p, ok := r.Chat[b]; ok {
		return p
	}
	return r.Chat[BudgetDefault]
}

// Stats mirrors the teacher's EmbeddingStats, extended with an estimated
// cost accumulator for the cost-metering supplement.
type Stats struct {
	TotalRequests    int64
	CacheHits        int64
	CacheMisses      int64
	TotalProcessTime time.Duration
	AverageTime      time.Duration
	EstimatedCostUSD float64
}

// EmbedClient produces vector embeddings for text.
type EmbedClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Stats() Stats
}

// httpEmbedRequest/httpEmbedResponse mirror the teacher's OllamaEmbedRequest/
// OllamaEmbedResponse shape, which is also what most OpenAI-compatible local
// gateways accept under /api/embeddings.
type httpEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type httpEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// HTTPEmbedClient calls a single embedding provider over HTTP with retry and
// exponential backoff, the same shape as the teacher's EmbeddingService but
// without the CUDA-specific batch path (no GPU worker survives in this
// domain).
type HTTPEmbedClient struct {
	profile    ProviderProfile
	client     *http.Client
	maxRetries int
	batchSize  int

	mu    sync.Mutex
	stats Stats
}

// NewHTTPEmbedClient builds a client bound to one provider profile.
func NewHTTPEmbedClient(profile ProviderProfile) *HTTPEmbedClient {
	return &HTTPEmbedClient{
		profile:    profile,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		batchSize:  32,
	}
}

func (c *HTTPEmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	c.recordRequest(1)

	normalized := normalizeText(text)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		emb, err := c.call(ctx, normalized)
		if err == nil {
			c.recordLatency(start)
			return emb, nil
		}
		lastErr = err
		if attempt < c.maxRetries-1 {
			delay := time.Duration(1<<attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, apperr.Wrap(apperr.Unavailable, fmt.Sprintf("embedding provider failed after %d attempts", c.maxRetries), lastErr)
}

func (c *HTTPEmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "empty text batch")
	}
	start := time.Now()
	c.recordRequest(int64(len(texts)))

	out := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for j := i; j < end; j++ {
			emb, err := c.Embed(ctx, texts[j])
			if err != nil {
				return nil, fmt.Errorf("embedding batch item %d: %w", j, err)
			}
			out[j] = emb
		}
	}
	c.recordLatency(start)
	return out, nil
}

func (c *HTTPEmbedClient) call(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(httpEmbedRequest{Model: c.profile.Model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.profile.BaseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding provider status %d: %s", resp.StatusCode, string(body))
	}

	var parsed httpEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Embedding) == 0 {
		return nil, apperr.New(apperr.InvariantViolated, "embedding provider returned empty vector")
	}
	return parsed.Embedding, nil
}

func (c *HTTPEmbedClient) recordRequest(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests += n
	c.stats.EstimatedCostUSD += float64(n) * estimatedTokensPerCall * c.profile.CostPerMillionUSD / 1_000_000
}

func (c *HTTPEmbedClient) recordLatency(start time.Time) {
	elapsed := time.Since(start)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalProcessTime += elapsed
	if c.stats.TotalRequests > 0 {
		c.stats.AverageTime = c.stats.TotalProcessTime / time.Duration(c.stats.TotalRequests)
	}
}

func (c *HTTPEmbedClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// estimatedTokensPerCall is a rough average used only for cost metering —
// precise token accounting would require the provider's tokenizer.
const estimatedTokensPerCall = 200

func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\t", " ")
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	const maxLength = 8000
	if len(text) > maxLength {
		text = text[:maxLength]
	}
	return text
}

// ChatClient produces a synthesized completion from a prompt, used by the
// Query Orchestrator's synthesis stage.
type ChatClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type chatRequestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string                `json:"model"`
	Messages []chatRequestMessage  `json:"messages"`
	Stream   bool                  `json:"stream"`
}

type chatResponse struct {
	Message chatRequestMessage `json:"message"`
}

// HTTPChatClient calls a single chat-completion provider over HTTP.
type HTTPChatClient struct {
	profile ProviderProfile
	client  *http.Client
}

// NewHTTPChatClient builds a chat client bound to one provider profile.
func NewHTTPChatClient(profile ProviderProfile) *HTTPChatClient {
	return &HTTPChatClient{profile: profile, client: &http.Client{Timeout: 90 * time.Second}}
}

func (c *HTTPChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: c.profile.Model,
		Messages: []chatRequestMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: false,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.profile.BaseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.Unavailable, "chat provider request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", apperr.New(apperr.Unavailable, fmt.Sprintf("chat provider status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.Message.Content, nil
}
