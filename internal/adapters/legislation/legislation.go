// Package legislation implements the legislation HTML source adapter:
// fetch/save/search_articles/create_article_chunks, scraping the public
// print view and chunking articles for vector search, grounded on the
// teacher's HTTP client and rate-limiter conventions.
package legislation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/ratelimit"
)

// articleSpanPattern matches the current zakon.rada.gov.ua print-view markup
// for an article heading, per spec §6.
var articleSpanPattern = regexp.MustCompile(`(?i)<span class="rvts9">\s*Стаття\s+(\d+[\p{L}\d./-]*)\.\s*</span>`)

// fallbackArticlePattern is the full-text-search fallback for non-conforming
// pages (spec §4.8 / §11's resolved Open Question).
var fallbackArticlePattern = regexp.MustCompile(`(?mi)^\s*Стаття\s+(\d+[\p{L}\d./-]*)\.\s*(.*)$`)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// FetchResult is the output of Fetch.
type FetchResult struct {
	Act      domain.LegislationAct
	Articles []domain.LegislationArticle
}

// ArticleChunk is a bounded substring of an article used as the embedding
// unit.
type ArticleChunk struct {
	ActCode       string
	ArticleNumber string
	ChunkIndex    int
	Text          string
}

// SearchHit is one result from a text-level search over stored articles.
type SearchHit struct {
	ActCode       string
	ArticleNumber string
	Title         string
	Snippet       string
}

// Adapter scrapes and indexes legislation acts.
type Adapter struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.TokenBucket
	breaker *gobreaker.CircuitBreaker
}

// New builds a legislation adapter against baseURL (e.g.
// https://zakon.rada.gov.ua), rate-limited like every other adapter and
// guarded by a circuit breaker tripping on repeated scrape failures, same
// shape as the court-decisions adapter.
func New(baseURL string, minInterval time.Duration) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 20 * time.Second},
		limiter: ratelimit.NewTokenBucket(minInterval),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "legislation-adapter",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Fetch scrapes the public print view of an act and parses its article
// boundaries.
func (a *Adapter) Fetch(ctx context.Context, actID string) (*FetchResult, error) {
	if err := a.limiter.Acquire(ctx); err != nil {
		return nil, apperr.Wrap(apperr.DeadlineExceeded, "rate limiter wait cancelled", err)
	}

	url := fmt.Sprintf("%s/laws/show/%s/print", a.baseURL, actID)
	result, err := a.breaker.Execute(func() (any, error) {
		return a.doGet(ctx, url)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.Wrap(apperr.Unavailable, "legislation adapter circuit open", err)
		}
		return nil, err
	}

	body := result.([]byte)
	html := string(body)
	articles := parsePrimary(actID, html)
	if len(articles) == 0 {
		articles = parseFallback(actID, html)
	}

	act := domain.LegislationAct{
		ExternalCode: actID,
		Type:         "code",
		Title:        extractTitle(html),
		URL:          url,
		Status:       "active",
	}
	return &FetchResult{Act: act, Articles: articles}, nil
}

func (a *Adapter) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "legislation fetch failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "reading legislation response failed", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.New(apperr.NotFound, "legislation act not found")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.Unavailable, fmt.Sprintf("legislation source status %d", resp.StatusCode))
	}
	return body, nil
}

func parsePrimary(actID, html string) []domain.LegislationArticle {
	locs := articleSpanPattern.FindAllStringSubmatchIndex(html, -1)
	if len(locs) == 0 {
		return nil
	}
	var out []domain.LegislationArticle
	for i, loc := range locs {
		numStart, numEnd := loc[2], loc[3]
		number := html[numStart:numEnd]
		textStart := loc[1]
		textEnd := len(html)
		if i+1 < len(locs) {
			textEnd = locs[i+1][0]
		}
		raw := html[textStart:textEnd]
		text := cleanHTML(raw)
		out = append(out, domain.LegislationArticle{
			ActCode:       actID,
			ArticleNumber: number,
			VersionDate:   time.Now().UTC(),
			Text:          text,
			HTML:          raw,
			ByteSize:      len(raw),
			IsCurrent:     true,
		})
	}
	return out
}

func parseFallback(actID, html string) []domain.LegislationArticle {
	plain := cleanHTML(html)
	locs := fallbackArticlePattern.FindAllStringSubmatchIndex(plain, -1)
	var out []domain.LegislationArticle
	for i, loc := range locs {
		numStart, numEnd := loc[2], loc[3]
		number := plain[numStart:numEnd]
		textStart := loc[0]
		textEnd := len(plain)
		if i+1 < len(locs) {
			textEnd = locs[i+1][0]
		}
		text := strings.TrimSpace(plain[textStart:textEnd])
		out = append(out, domain.LegislationArticle{
			ActCode:       actID,
			ArticleNumber: number,
			VersionDate:   time.Now().UTC(),
			Text:          text,
			ByteSize:      len(text),
			IsCurrent:     true,
		})
	}
	return out
}

func cleanHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}

var titlePattern = regexp.MustCompile(`(?i)<title>([^<]*)</title>`)

func extractTitle(html string) string {
	m := titlePattern.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// CreateArticleChunks splits an article's text into ~500-character windows
// with ~100-character overlap (spec §4.4).
func CreateArticleChunks(article domain.LegislationArticle) []ArticleChunk {
	const windowSize = 500
	const overlap = 100

	runes := []rune(article.Text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []ArticleChunk
	idx := 0
	for i := 0; i < len(runes); i += windowSize - overlap {
		end := i + windowSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, ArticleChunk{
			ActCode:       article.ActCode,
			ArticleNumber: article.ArticleNumber,
			ChunkIndex:    idx,
			Text:          string(runes[i:end]),
		})
		idx++
		if end >= len(runes) {
			break
		}
	}
	return chunks
}

// SearchArticles performs a naive substring search over pre-fetched
// articles. The Legislation Service's Search calls it once per article
// returned by the Metadata Store's full-text index, to build that
// article's hit and snippet.
func SearchArticles(query string, articles []domain.LegislationArticle, limit int) []SearchHit {
	if limit <= 0 {
		limit = 20
	}
	lowerQuery := strings.ToLower(query)
	var out []SearchHit
	for _, a := range articles {
		if !strings.Contains(strings.ToLower(a.Text), lowerQuery) {
			continue
		}
		out = append(out, SearchHit{
			ActCode:       a.ActCode,
			ArticleNumber: a.ArticleNumber,
			Title:         a.Title,
			Snippet:       snippet(a.Text, lowerQuery),
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func snippet(text, lowerQuery string) string {
	idx := strings.Index(strings.ToLower(text), lowerQuery)
	if idx < 0 {
		if len(text) > 160 {
			return text[:160]
		}
		return text
	}
	start := idx - 80
	if start < 0 {
		start = 0
	}
	end := idx + len(lowerQuery) + 80
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// ArticleNumberAsInt supports numeric ordering of article numbers that may
// carry suffixes (e.g. "354-1").
func ArticleNumberAsInt(number string) int {
	digits := strings.Builder{}
	for _, r := range number {
		if r < '0' || r > '9' {
			break
		}
		digits.WriteRune(r)
	}
	n, _ := strconv.Atoi(digits.String())
	return n
}
