// Package courtdecisions implements the court-decisions search API adapter:
// search/get_full_text/normalize, rate-limited and circuit-broken, grounded
// on the teacher's legal-gateway HTTP client conventions.
package courtdecisions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/ratelimit"
)

// WherePredicate is one `where[field][op]=value` clause.
type WherePredicate struct {
	Field string
	Op    string // =, in, between, <=, >=
	Value string
}

// SearchParams mirrors the upstream search request shape (spec §6).
type SearchParams struct {
	MetaSearch string
	Where      []WherePredicate
	DateFrom   string
	DateTo     string
	OrderBy    string
	OrderDir   string
	Limit      int
	Page       int
	Select     string
}

// RawDocument is one hit from the search endpoint, prior to normalization.
type RawDocument struct {
	ID              string          `json:"id"`
	CaseNumber      string          `json:"case_number"`
	Court           string          `json:"court"`
	Chamber         string          `json:"chamber"`
	Date            string          `json:"date"`
	DisputeCategory string          `json:"dispute_category"`
	Outcome         string          `json:"outcome"`
	Title           string          `json:"title"`
	Metadata        json.RawMessage `json:"metadata"`
}

// Page is one page of search results.
type Page struct {
	Documents []RawDocument `json:"documents"`
	Total     int           `json:"total"`
	Page      int           `json:"page"`
}

// FullText is the result of get_full_text.
type FullText struct {
	Text       string
	HTML       string
	CaseNumber string
}

// Adapter is the court-decisions API client.
type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *ratelimit.TokenBucket
	breaker *gobreaker.CircuitBreaker
}

// New builds an adapter with a token-bucket rate limiter enforcing minInterval
// between outbound calls and a circuit breaker tripping after 5 consecutive
// failed requests of any error kind.
func New(baseURL, token string, minInterval time.Duration) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 20 * time.Second},
		limiter: ratelimit.NewTokenBucket(minInterval),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "court-decisions-adapter",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Search issues a filtered search against /v1/search. The adapter takes no
// ingest semaphore itself; a caller that holds one (the Ingest Worker) keeps
// it for the duration of the rate-limit wait.
func (a *Adapter) Search(ctx context.Context, p SearchParams) (*Page, error) {
	if err := a.limiter.Acquire(ctx); err != nil {
		return nil, apperr.Wrap(apperr.DeadlineExceeded, "rate limiter wait cancelled", err)
	}

	q := url.Values{}
	if p.MetaSearch != "" {
		q.Set("meta.search", p.MetaSearch)
	}
	for _, w := range p.Where {
		q.Set(fmt.Sprintf("where[%s][%s]", w.Field, w.Op), w.Value)
	}
	if p.DateFrom != "" {
		q.Set("date_from", p.DateFrom)
	}
	if p.DateTo != "" {
		q.Set("date_to", p.DateTo)
	}
	if p.OrderBy != "" {
		dir := p.OrderDir
		if dir == "" {
			dir = "asc"
		}
		q.Set(fmt.Sprintf("order[%s]", p.OrderBy), dir)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Select != "" {
		q.Set("select", p.Select)
	}

	result, err := a.breaker.Execute(func() (any, error) {
		return a.doGet(ctx, "/v1/search?"+q.Encode())
	})
	if err != nil {
		return nil, classifyTransportErr(err)
	}

	var page Page
	if err := json.Unmarshal(result.([]byte), &page); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "decode search response failed", err)
	}
	return &page, nil
}

// GetFullText fetches the full text of a decision by its external id.
func (a *Adapter) GetFullText(ctx context.Context, docID string) (*FullText, error) {
	if err := a.limiter.Acquire(ctx); err != nil {
		return nil, apperr.Wrap(apperr.DeadlineExceeded, "rate limiter wait cancelled", err)
	}

	result, err := a.breaker.Execute(func() (any, error) {
		return a.doGet(ctx, "/v1/document/by/number/"+url.PathEscape(docID))
	})
	if err != nil {
		return nil, classifyTransportErr(err)
	}

	var body struct {
		Text       string `json:"text"`
		HTML       string `json:"html"`
		CaseNumber string `json:"case_number"`
	}
	if err := json.Unmarshal(result.([]byte), &body); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "decode full-text response failed", err)
	}
	return &FullText{Text: body.Text, HTML: body.HTML, CaseNumber: body.CaseNumber}, nil
}

// Normalize converts a raw search hit into the canonical Document shape.
func (a *Adapter) Normalize(page *Page) []domain.Document {
	out := make([]domain.Document, 0, len(page.Documents))
	for _, raw := range page.Documents {
		d := domain.Document{
			ExternalID:      raw.ID,
			Type:            domain.DocumentCourtDecision,
			Title:           raw.Title,
			CaseNumber:      raw.CaseNumber,
			Court:           raw.Court,
			Chamber:         raw.Chamber,
			DisputeCategory: raw.DisputeCategory,
			Outcome:         raw.Outcome,
			Metadata:        map[string]any{},
		}
		if t, err := time.Parse(time.RFC3339, raw.Date); err == nil {
			d.Date = t
		}
		out = append(out, d)
	}
	return out
}

func (a *Adapter) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-App-Token", a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.New(apperr.ResourceExhausted, "court-decisions API rate budget exhausted")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.New(apperr.NotFound, "court-decisions resource not found")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("court-decisions API status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func classifyTransportErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.Wrap(apperr.Unavailable, "court-decisions adapter circuit open", err)
	}
	if apperr.KindOf(err) != apperr.Unavailable {
		return err
	}
	return apperr.Wrap(apperr.Unavailable, "court-decisions adapter request failed", err)
}
