// Package vector implements the ANN Vector Store: a pgvector-backed index
// keyed by section id with a denormalized payload, following the teacher's
// sse-rag-service use of pgvector-go and the `<=>` cosine-distance operator.
package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
)

// Store is the Vector Store. A single logical collection ("chunks") is used
// for both case-law and legislation vectors, discriminated by the
// document_type payload field, matching the teacher's single-table
// sse-rag-service layout generalized to a fixed configured dimension.
type Store struct {
	db        *pgxpool.Pool
	dimension int
	created   bool
}

// New connects to Postgres. The collection table is created lazily on first
// Upsert, per spec §4.3.
func New(ctx context.Context, databaseURL string, dimension int) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect vector store: %w", err)
	}
	return &Store{db: pool, dimension: dimension}, nil
}

func (s *Store) Close() { s.db.Close() }

func (s *Store) ensureCollection(ctx context.Context) error {
	if s.created {
		return nil
	}
	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS vector_chunks (
	id UUID PRIMARY KEY,
	embedding vector(%d) NOT NULL,
	doc_id TEXT NOT NULL,
	section_type VARCHAR(32) NOT NULL,
	document_type VARCHAR(32) NOT NULL DEFAULT 'court_decision',
	text TEXT NOT NULL,
	date TIMESTAMPTZ,
	court TEXT,
	chamber TEXT,
	case_number VARCHAR(255),
	dispute_category VARCHAR(128),
	outcome VARCHAR(128),
	deviation_flag BOOLEAN NOT NULL DEFAULT false,
	precedent_status VARCHAR(32),
	law_articles TEXT[] NOT NULL DEFAULT '{}',
	matter_id VARCHAR(255)
);
CREATE INDEX IF NOT EXISTS idx_vector_chunks_doc ON vector_chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_vector_chunks_ann ON vector_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, s.dimension)
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return err
	}
	s.created = true
	return nil
}

// Upsert inserts or replaces a vector with its payload. A dimension
// mismatch is a fatal, non-retryable error per spec §3/§4.1.
func (s *Store) Upsert(ctx context.Context, id string, emb []float32, payload domain.ChunkPayload, documentType domain.DocumentType) error {
	if err := s.ensureCollection(ctx); err != nil {
		return apperr.Wrap(apperr.Unavailable, "ensure vector collection failed", err)
	}
	if len(emb) != s.dimension {
		return apperr.New(apperr.InvariantViolated, fmt.Sprintf("embedding dimension %d != configured %d", len(emb), s.dimension))
	}

	const q = `
INSERT INTO vector_chunks (id, embedding, doc_id, section_type, document_type, text, date, court, chamber,
	case_number, dispute_category, outcome, deviation_flag, precedent_status, law_articles, matter_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	embedding = EXCLUDED.embedding,
	section_type = EXCLUDED.section_type,
	document_type = EXCLUDED.document_type,
	text = EXCLUDED.text,
	date = EXCLUDED.date,
	court = EXCLUDED.court,
	chamber = EXCLUDED.chamber,
	case_number = EXCLUDED.case_number,
	dispute_category = EXCLUDED.dispute_category,
	outcome = EXCLUDED.outcome,
	deviation_flag = EXCLUDED.deviation_flag,
	precedent_status = EXCLUDED.precedent_status,
	law_articles = EXCLUDED.law_articles,
	matter_id = EXCLUDED.matter_id`

	_, err := s.db.Exec(ctx, q, id, pgvector.NewVector(emb), payload.DocID, string(payload.SectionType), string(documentType),
		payload.Text, nullTime(payload.Date), payload.Court, payload.Chamber, payload.CaseNumber,
		payload.DisputeCategory, payload.Outcome, payload.DeviationFlag, string(payload.PrecedentStatus),
		payload.LawArticles, payload.MatterID)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "vector upsert failed", err)
	}
	return nil
}

// DeleteByDocument removes every vector belonging to a document — the first
// half of a re-ingest's delete-then-upsert cycle (spec §5).
func (s *Store) DeleteByDocument(ctx context.Context, docID string) error {
	if err := s.ensureCollection(ctx); err != nil {
		return apperr.Wrap(apperr.Unavailable, "ensure vector collection failed", err)
	}
	_, err := s.db.Exec(ctx, `DELETE FROM vector_chunks WHERE doc_id = $1`, docID)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "vector delete failed", err)
	}
	return nil
}

// Filter is an AND of equality/range predicates over payload fields plus an
// optional OR-group (e.g. multiple chambers), per spec §4.3.
type Filter struct {
	SectionTypes []domain.SectionType
	DocumentType domain.DocumentType
	Court        string
	Chambers     []string // OR-group
	DateFrom     time.Time
	DateTo       time.Time
	MatterID     string
}

// Result is one hit from a similarity search.
type Result struct {
	ID      string
	Score   float64 // cosine similarity, higher is better
	Payload domain.ChunkPayload
}

// Search runs a filtered cosine-similarity search, ordered by similarity
// descending, limited to limit results.
func (s *Store) Search(ctx context.Context, queryVector []float32, f Filter, limit int) ([]Result, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "ensure vector collection failed", err)
	}
	if len(queryVector) != s.dimension {
		return nil, apperr.New(apperr.InvariantViolated, fmt.Sprintf("query vector dimension %d != configured %d", len(queryVector), s.dimension))
	}
	if limit <= 0 || limit > 500 {
		limit = 20
	}

	var (
		conds []string
		args  []any
	)
	args = append(args, pgvector.NewVector(queryVector))
	conds = append(conds, "true")

	add := func(expr string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if len(f.SectionTypes) > 0 {
		types := make([]string, len(f.SectionTypes))
		for i, t := range f.SectionTypes {
			types[i] = string(t)
		}
		add("section_type = ANY($%d)", types)
	}
	if f.DocumentType != "" {
		add("document_type = $%d", string(f.DocumentType))
	}
	if f.Court != "" {
		add("court = $%d", f.Court)
	}
	if len(f.Chambers) > 0 {
		add("chamber = ANY($%d)", f.Chambers)
	}
	if !f.DateFrom.IsZero() {
		add("date >= $%d", f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		add("date <= $%d", f.DateTo)
	}
	if f.MatterID != "" {
		add("matter_id = $%d", f.MatterID)
	}

	args = append(args, limit)
	limitIdx := len(args)

	q := fmt.Sprintf(`
SELECT id, 1 - (embedding <=> $1) AS similarity, doc_id, section_type, text, date, court, chamber,
	case_number, dispute_category, outcome, deviation_flag, precedent_status, law_articles, matter_id
FROM vector_chunks
WHERE %s
ORDER BY embedding <=> $1
LIMIT $%d`, strings.Join(conds, " AND "), limitIdx)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "vector search failed", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var sectionType, precedentStatus string
		var date *time.Time
		var matterID *string
		if err := rows.Scan(&r.ID, &r.Score, &r.Payload.DocID, &sectionType, &r.Payload.Text, &date,
			&r.Payload.Court, &r.Payload.Chamber, &r.Payload.CaseNumber, &r.Payload.DisputeCategory,
			&r.Payload.Outcome, &r.Payload.DeviationFlag, &precedentStatus, &r.Payload.LawArticles, &matterID); err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan vector result failed", err)
		}
		r.Payload.SectionType = domain.SectionType(sectionType)
		r.Payload.PrecedentStatus = domain.PrecedentStatusKind(precedentStatus)
		if date != nil {
			r.Payload.Date = *date
		}
		r.Payload.MatterID = matterID
		out = append(out, r)
	}
	return out, rows.Err()
}

// Dimension returns the fixed vector dimension this store was configured with.
func (s *Store) Dimension() int { return s.dimension }

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
