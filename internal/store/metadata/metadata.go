// Package metadata implements the relational Metadata Store: the sole
// authority for document, section, legislation, pattern, citation, and
// precedent-status rows, following the raw-pgx style of the teacher's
// document-chunker and sse-rag-service (no ORM — see DESIGN.md for the
// Open Question this resolves).
package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/domain"
	"legal-research-engine/internal/ratelimit"
)

// Store is the Metadata Store. One per process; safe for concurrent use.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	writer *ratelimit.PerKey // serializes per-external-id writes (spec §4.2)
}

// New connects to Postgres and initializes the schema.
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect metadata store: %w", err)
	}
	s := &Store{db: pool, logger: logger, writer: ratelimit.NewPerKey()}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init metadata schema: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	zakononline_id VARCHAR(255) UNIQUE NOT NULL,
	type VARCHAR(32) NOT NULL,
	title TEXT,
	date TIMESTAMPTZ,
	case_number VARCHAR(255),
	court TEXT,
	chamber TEXT,
	dispute_category VARCHAR(128),
	outcome VARCHAR(128),
	full_text TEXT,
	full_text_html TEXT,
	user_id VARCHAR(255),
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_case_number ON documents(case_number);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_fulltext ON documents USING gin (to_tsvector('simple', coalesce(full_text, '')));

CREATE TABLE IF NOT EXISTS document_sections (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	section_type VARCHAR(32) NOT NULL,
	text TEXT NOT NULL,
	start_index INTEGER NOT NULL,
	end_index INTEGER NOT NULL,
	confidence REAL NOT NULL,
	UNIQUE(document_id, start_index)
);
CREATE INDEX IF NOT EXISTS idx_sections_document ON document_sections(document_id);

CREATE TABLE IF NOT EXISTS embedding_chunks (
	id UUID PRIMARY KEY,
	document_section_id UUID NOT NULL REFERENCES document_sections(id) ON DELETE CASCADE,
	vector_id UUID UNIQUE NOT NULL,
	text TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS legal_patterns (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	intent VARCHAR(128) NOT NULL,
	law_articles TEXT[] NOT NULL DEFAULT '{}',
	decision_outcome VARCHAR(32) NOT NULL,
	frequency INTEGER NOT NULL,
	confidence REAL NOT NULL,
	example_cases TEXT[] NOT NULL DEFAULT '{}',
	risk_factors TEXT[] NOT NULL DEFAULT '{}',
	success_arguments TEXT[] NOT NULL DEFAULT '{}',
	anti_patterns JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_patterns_intent ON legal_patterns(intent);

CREATE TABLE IF NOT EXISTS citation_links (
	from_case_id UUID NOT NULL,
	to_case_id UUID NOT NULL,
	citation_type VARCHAR(64) NOT NULL,
	context TEXT,
	section_type VARCHAR(32),
	confidence REAL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(from_case_id, to_case_id, citation_type)
);

CREATE TABLE IF NOT EXISTS precedent_status (
	case_id UUID PRIMARY KEY,
	status VARCHAR(32) NOT NULL,
	reversed_by TEXT[] NOT NULL DEFAULT '{}',
	overruled_by TEXT[] NOT NULL DEFAULT '{}',
	distinguished_in TEXT[] NOT NULL DEFAULT '{}',
	last_checked TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS legislation (
	code VARCHAR(64) PRIMARY KEY,
	type VARCHAR(32),
	title TEXT,
	short_title TEXT,
	url TEXT,
	adoption_date TIMESTAMPTZ,
	effective_date TIMESTAMPTZ,
	amended_date TIMESTAMPTZ,
	status VARCHAR(32),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS legislation_articles (
	act_code VARCHAR(64) NOT NULL REFERENCES legislation(code) ON DELETE CASCADE,
	article_number VARCHAR(32) NOT NULL,
	version_date TIMESTAMPTZ NOT NULL,
	section VARCHAR(64),
	chapter VARCHAR(64),
	part VARCHAR(64),
	paragraph VARCHAR(64),
	title TEXT,
	text TEXT,
	html TEXT,
	byte_size INTEGER,
	is_current BOOLEAN NOT NULL DEFAULT true,
	PRIMARY KEY (act_code, article_number, version_date)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_legislation_articles_current
	ON legislation_articles(act_code, article_number) WHERE is_current;

CREATE TABLE IF NOT EXISTS legislation_chunks (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	act_code VARCHAR(64) NOT NULL,
	article_number VARCHAR(32) NOT NULL,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	vector_id UUID UNIQUE
);

CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	event_type VARCHAR(128) NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_events_type_created ON events(event_type, created_at DESC);
`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// UpsertDocument inserts or merges a document row. COALESCE-merge semantics
// preserve an already-populated full_text when a later upsert omits it
// (spec §4.2). Writes for a given external id are serialized.
func (s *Store) UpsertDocument(ctx context.Context, d domain.Document) (string, error) {
	unlock := s.writer.Lock(d.ExternalID)
	defer unlock()

	const q = `
INSERT INTO documents (zakononline_id, type, title, date, case_number, court, chamber,
	dispute_category, outcome, full_text, full_text_html, user_id, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13, now())
ON CONFLICT (zakononline_id) DO UPDATE SET
	type = EXCLUDED.type,
	title = COALESCE(EXCLUDED.title, documents.title),
	date = COALESCE(EXCLUDED.date, documents.date),
	case_number = COALESCE(NULLIF(EXCLUDED.case_number, ''), documents.case_number),
	court = COALESCE(NULLIF(EXCLUDED.court, ''), documents.court),
	chamber = COALESCE(NULLIF(EXCLUDED.chamber, ''), documents.chamber),
	dispute_category = COALESCE(NULLIF(EXCLUDED.dispute_category, ''), documents.dispute_category),
	outcome = COALESCE(NULLIF(EXCLUDED.outcome, ''), documents.outcome),
	full_text = COALESCE(EXCLUDED.full_text, documents.full_text),
	full_text_html = COALESCE(EXCLUDED.full_text_html, documents.full_text_html),
	user_id = COALESCE(EXCLUDED.user_id, documents.user_id),
	metadata = documents.metadata || EXCLUDED.metadata,
	updated_at = now()
RETURNING id`

	var ownerID *string
	if d.OwnerID != nil {
		ownerID = d.OwnerID
	}
	metaJSON, err := marshalJSONB(d.Metadata)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidArgument, "invalid document metadata", err)
	}

	var id string
	err = s.db.QueryRow(ctx, q,
		d.ExternalID, string(d.Type), d.Title, nullTime(d.Date), d.CaseNumber, d.Court, d.Chamber,
		d.DisputeCategory, d.Outcome, d.FullText, d.FullTextHTML, ownerID, metaJSON,
	).Scan(&id)
	if err != nil {
		return "", apperr.Wrap(apperr.Unavailable, "upsert document failed", err)
	}
	return id, nil
}

// ReplaceSections deletes all existing sections for a document and inserts
// the new set in one transaction (spec §3: "replaced atomically per
// document"), returning the inserted sections with their generated ids so
// callers (the Ingest Worker) can link embedding chunks to them.
func (s *Store) ReplaceSections(ctx context.Context, documentID string, sections []domain.Section) ([]domain.Section, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "begin section replace tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_sections WHERE document_id = $1`, documentID); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "delete sections failed", err)
	}

	const ins = `
INSERT INTO document_sections (document_id, section_type, text, start_index, end_index, confidence)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

	out := make([]domain.Section, len(sections))
	for i, sec := range sections {
		var id string
		err := tx.QueryRow(ctx, ins, documentID, string(sec.Type), sec.Text, sec.StartIndex, sec.EndIndex, sec.Confidence).Scan(&id)
		if err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "insert section failed", err)
		}
		sec.ID = id
		sec.DocumentID = documentID
		out[i] = sec
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "commit section replace tx", err)
	}
	return out, nil
}

// InsertEmbeddingChunk records the bookkeeping mirror of a vector.
func (s *Store) InsertEmbeddingChunk(ctx context.Context, chunk domain.EmbeddingChunk) error {
	meta, err := marshalJSONB(map[string]any{
		"section_type": chunk.Payload.SectionType,
		"doc_id":       chunk.Payload.DocID,
	})
	if err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "invalid chunk metadata", err)
	}
	const q = `
INSERT INTO embedding_chunks (id, document_section_id, vector_id, text, metadata)
VALUES ($1, $2, $1, $3, $4)
ON CONFLICT (id) DO NOTHING`
	_, err = s.db.Exec(ctx, q, chunk.ID, chunk.DocumentSectionID, chunk.Text, meta)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "insert embedding chunk failed", err)
	}
	return nil
}

// GetDocumentByExternalID fetches a document by its stable external id,
// enforcing the owner/public visibility predicate.
func (s *Store) GetDocumentByExternalID(ctx context.Context, externalID, callerID string) (*domain.Document, error) {
	const q = `
SELECT id, zakononline_id, type, title, date, case_number, court, chamber,
	dispute_category, outcome, full_text, full_text_html, user_id, metadata, created_at, updated_at
FROM documents WHERE zakononline_id = $1`
	row := s.db.QueryRow(ctx, q, externalID)
	d, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "document not found: "+externalID)
		}
		return nil, apperr.Wrap(apperr.Unavailable, "get document failed", err)
	}
	if !d.VisibleTo(callerID) {
		return nil, apperr.New(apperr.NotFound, "document not found: "+externalID)
	}
	return d, nil
}

// GetDocumentByCaseNumber fetches the most recent document with a given
// case number, honoring visibility.
func (s *Store) GetDocumentByCaseNumber(ctx context.Context, caseNumber, callerID string) (*domain.Document, error) {
	const q = `
SELECT id, zakononline_id, type, title, date, case_number, court, chamber,
	dispute_category, outcome, full_text, full_text_html, user_id, metadata, created_at, updated_at
FROM documents WHERE case_number = $1
ORDER BY created_at DESC LIMIT 1`
	row := s.db.QueryRow(ctx, q, caseNumber)
	d, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "document not found for case: "+caseNumber)
		}
		return nil, apperr.Wrap(apperr.Unavailable, "get document failed", err)
	}
	if !d.VisibleTo(callerID) {
		return nil, apperr.New(apperr.NotFound, "document not found for case: "+caseNumber)
	}
	return d, nil
}

// SearchFilter is the composite predicate accepted by SearchDocuments.
type SearchFilter struct {
	FullText        string
	Court           string
	Chamber         string
	DisputeCategory string
	Outcome         string
	DateFrom        time.Time
	DateTo          time.Time
	CallerID        string // visibility predicate
	Limit           int
	Offset          int
}

// SearchDocuments runs a composite filtered, optionally full-text-ranked,
// paginated query ordered by created_at DESC, honoring the owner/public
// visibility predicate.
func (s *Store) SearchDocuments(ctx context.Context, f SearchFilter) ([]domain.Document, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var (
		conds []string
		args  []any
	)
	args = append(args, f.CallerID)
	conds = append(conds, "(user_id IS NULL OR user_id = $1)")

	add := func(expr string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if f.Court != "" {
		add("court = $%d", f.Court)
	}
	if f.Chamber != "" {
		add("chamber = $%d", f.Chamber)
	}
	if f.DisputeCategory != "" {
		add("dispute_category = $%d", f.DisputeCategory)
	}
	if f.Outcome != "" {
		add("outcome = $%d", f.Outcome)
	}
	if !f.DateFrom.IsZero() {
		add("date >= $%d", f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		add("date <= $%d", f.DateTo)
	}
	if f.FullText != "" {
		args = append(args, f.FullText)
		conds = append(conds, fmt.Sprintf("to_tsvector('simple', coalesce(full_text, '')) @@ plainto_tsquery('simple', $%d)", len(args)))
	}

	args = append(args, f.Limit)
	limitIdx := len(args)
	args = append(args, f.Offset)
	offsetIdx := len(args)

	q := fmt.Sprintf(`
SELECT id, zakononline_id, type, title, date, case_number, court, chamber,
	dispute_category, outcome, full_text, full_text_html, user_id, metadata, created_at, updated_at
FROM documents
WHERE %s
ORDER BY created_at DESC
LIMIT $%d OFFSET $%d`, strings.Join(conds, " AND "), limitIdx, offsetIdx)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "search documents failed", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		d, err := scanDocumentRows(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan document row failed", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpsertLegalPattern stores or updates an aggregated pattern.
func (s *Store) UpsertLegalPattern(ctx context.Context, p domain.LegalPattern) (string, error) {
	anti, err := marshalJSONB(p.AntiPatterns)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidArgument, "invalid anti_patterns", err)
	}
	const q = `
INSERT INTO legal_patterns (id, intent, law_articles, decision_outcome, frequency, confidence,
	example_cases, risk_factors, success_arguments, anti_patterns, updated_at)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (id) DO UPDATE SET
	law_articles = EXCLUDED.law_articles,
	decision_outcome = EXCLUDED.decision_outcome,
	frequency = EXCLUDED.frequency,
	confidence = EXCLUDED.confidence,
	example_cases = EXCLUDED.example_cases,
	risk_factors = EXCLUDED.risk_factors,
	success_arguments = EXCLUDED.success_arguments,
	anti_patterns = EXCLUDED.anti_patterns,
	updated_at = now()
RETURNING id`
	var id string
	err = s.db.QueryRow(ctx, q, p.ID, p.Intent, p.LawArticles, string(p.DecisionOutcome), p.Frequency,
		p.Confidence, p.ExampleCaseIDs, p.RiskFactors, p.SuccessArguments, anti).Scan(&id)
	if err != nil {
		return "", apperr.Wrap(apperr.Unavailable, "upsert legal pattern failed", err)
	}
	return id, nil
}

// PatternsByIntent returns patterns for an intent ordered by confidence.
func (s *Store) PatternsByIntent(ctx context.Context, intent string) ([]domain.LegalPattern, error) {
	const q = `
SELECT id, intent, law_articles, decision_outcome, frequency, confidence,
	example_cases, risk_factors, success_arguments, anti_patterns, updated_at
FROM legal_patterns WHERE intent = $1 ORDER BY confidence DESC`
	rows, err := s.db.Query(ctx, q, intent)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "query patterns failed", err)
	}
	defer rows.Close()

	var out []domain.LegalPattern
	for rows.Next() {
		var p domain.LegalPattern
		var antiRaw []byte
		if err := rows.Scan(&p.ID, &p.Intent, &p.LawArticles, &p.DecisionOutcome, &p.Frequency, &p.Confidence,
			&p.ExampleCaseIDs, &p.RiskFactors, &p.SuccessArguments, &antiRaw, &p.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan pattern row failed", err)
		}
		p.AntiPatterns = unmarshalJSONB(antiRaw)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertCitationLink records a directed edge; duplicates are ignored.
func (s *Store) UpsertCitationLink(ctx context.Context, link domain.CitationLink) error {
	const q = `
INSERT INTO citation_links (from_case_id, to_case_id, citation_type, context, section_type, confidence)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (from_case_id, to_case_id, citation_type) DO UPDATE SET
	context = EXCLUDED.context, confidence = EXCLUDED.confidence`
	_, err := s.db.Exec(ctx, q, link.FromDocID, link.ToDocID, link.CitationType, link.Context, string(link.SectionType), link.Confidence)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "upsert citation link failed", err)
	}
	return nil
}

// CitationsFrom returns the outgoing edges of a document — used by the
// citation-graph traversal tool, which supplies its own visited set.
func (s *Store) CitationsFrom(ctx context.Context, documentID string) ([]domain.CitationLink, error) {
	const q = `SELECT from_case_id, to_case_id, citation_type, context, section_type, confidence
FROM citation_links WHERE from_case_id = $1`
	rows, err := s.db.Query(ctx, q, documentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "query citations failed", err)
	}
	defer rows.Close()
	var out []domain.CitationLink
	for rows.Next() {
		var l domain.CitationLink
		var sectionType string
		if err := rows.Scan(&l.FromDocID, &l.ToDocID, &l.CitationType, &l.Context, &sectionType, &l.Confidence); err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan citation row failed", err)
		}
		l.SectionType = domain.SectionType(sectionType)
		out = append(out, l)
	}
	return out, rows.Err()
}

// CitationLinksSince returns citation links of the given types created at or
// after since, used by the precedent-status refresh job to find newly
// ingested "reverses"/"overrules"/"distinguishes" edges without rescanning
// the whole table on every tick.
func (s *Store) CitationLinksSince(ctx context.Context, since time.Time, citationTypes []string) ([]domain.CitationLink, error) {
	const q = `SELECT from_case_id, to_case_id, citation_type, context, section_type, confidence
FROM citation_links WHERE created_at >= $1 AND citation_type = ANY($2)`
	rows, err := s.db.Query(ctx, q, since, citationTypes)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "query recent citation links failed", err)
	}
	defer rows.Close()
	var out []domain.CitationLink
	for rows.Next() {
		var l domain.CitationLink
		var sectionType string
		if err := rows.Scan(&l.FromDocID, &l.ToDocID, &l.CitationType, &l.Context, &sectionType, &l.Confidence); err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan citation row failed", err)
		}
		l.SectionType = domain.SectionType(sectionType)
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetPrecedentStatus fetches the current precedent lifecycle row for a
// document, or nil if it has never been assessed.
func (s *Store) GetPrecedentStatus(ctx context.Context, documentID string) (*domain.PrecedentStatus, error) {
	const q = `SELECT case_id, status, reversed_by, overruled_by, distinguished_in, last_checked
FROM precedent_status WHERE case_id = $1`
	var ps domain.PrecedentStatus
	var status string
	err := s.db.QueryRow(ctx, q, documentID).Scan(&ps.DocumentID, &status, &ps.ReversedBy, &ps.OverruledBy, &ps.DistinguishedIn, &ps.LastChecked)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "get precedent status failed", err)
	}
	ps.Status = domain.PrecedentStatusKind(status)
	return &ps, nil
}

// UpsertPrecedentStatus records the current precedent lifecycle state.
func (s *Store) UpsertPrecedentStatus(ctx context.Context, ps domain.PrecedentStatus) error {
	const q = `
INSERT INTO precedent_status (case_id, status, reversed_by, overruled_by, distinguished_in, last_checked)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (case_id) DO UPDATE SET
	status = EXCLUDED.status,
	reversed_by = EXCLUDED.reversed_by,
	overruled_by = EXCLUDED.overruled_by,
	distinguished_in = EXCLUDED.distinguished_in,
	last_checked = now()`
	_, err := s.db.Exec(ctx, q, ps.DocumentID, string(ps.Status), ps.ReversedBy, ps.OverruledBy, ps.DistinguishedIn)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "upsert precedent status failed", err)
	}
	return nil
}

// InsertEvent appends an audit-trail row. Never fails the caller's
// operation — logs and swallows on error, matching the "audit trail is
// best-effort" stance implied by its append-only, non-authoritative role.
func (s *Store) InsertEvent(ctx context.Context, e domain.Event) {
	payload, err := marshalJSONB(e.Payload)
	if err != nil {
		s.logger.Warn("event payload marshal failed", zap.Error(err))
		return
	}
	const q = `INSERT INTO events (event_type, payload) VALUES ($1, $2)`
	if _, err := s.db.Exec(ctx, q, e.EventType, payload); err != nil {
		s.logger.Warn("event insert failed", zap.Error(err), zap.String("event_type", e.EventType))
	}
}

// GetDocumentByID fetches a document by its internal id, enforcing
// visibility, used by the orchestrator's expansion step and citation-graph
// traversal.
func (s *Store) GetDocumentByID(ctx context.Context, id, callerID string) (*domain.Document, error) {
	const q = `
SELECT id, zakononline_id, type, title, date, case_number, court, chamber,
	dispute_category, outcome, full_text, full_text_html, user_id, metadata, created_at, updated_at
FROM documents WHERE id = $1`
	row := s.db.QueryRow(ctx, q, id)
	d, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "document not found: "+id)
		}
		return nil, apperr.Wrap(apperr.Unavailable, "get document failed", err)
	}
	if !d.VisibleTo(callerID) {
		return nil, apperr.New(apperr.NotFound, "document not found: "+id)
	}
	return d, nil
}

// GetSectionsByDocument returns every section of a document, ordered by
// start_index (spec §4.5's emission order), used by the orchestrator's
// expansion step to load full sections for the top-K cases.
func (s *Store) GetSectionsByDocument(ctx context.Context, documentID string) ([]domain.Section, error) {
	const q = `
SELECT id, document_id, section_type, text, start_index, end_index, confidence
FROM document_sections WHERE document_id = $1 ORDER BY start_index ASC`
	rows, err := s.db.Query(ctx, q, documentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "query sections failed", err)
	}
	defer rows.Close()

	var out []domain.Section
	for rows.Next() {
		var sec domain.Section
		var sectionType string
		if err := rows.Scan(&sec.ID, &sec.DocumentID, &sectionType, &sec.Text, &sec.StartIndex, &sec.EndIndex, &sec.Confidence); err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan section row failed", err)
		}
		sec.Type = domain.SectionType(sectionType)
		out = append(out, sec)
	}
	return out, rows.Err()
}

// UpsertLegislationAct inserts or updates act metadata; `updated_at` is
// bumped on any amend, per spec §3.
func (s *Store) UpsertLegislationAct(ctx context.Context, act domain.LegislationAct) error {
	const q = `
INSERT INTO legislation (code, type, title, short_title, url, adoption_date, effective_date, amended_date, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (code) DO UPDATE SET
	type = EXCLUDED.type,
	title = COALESCE(NULLIF(EXCLUDED.title, ''), legislation.title),
	short_title = COALESCE(NULLIF(EXCLUDED.short_title, ''), legislation.short_title),
	url = COALESCE(NULLIF(EXCLUDED.url, ''), legislation.url),
	adoption_date = COALESCE(EXCLUDED.adoption_date, legislation.adoption_date),
	effective_date = COALESCE(EXCLUDED.effective_date, legislation.effective_date),
	amended_date = COALESCE(EXCLUDED.amended_date, legislation.amended_date),
	status = COALESCE(NULLIF(EXCLUDED.status, ''), legislation.status),
	updated_at = now()`
	_, err := s.db.Exec(ctx, q, act.ExternalCode, act.Type, act.Title, act.ShortTitle, act.URL,
		nullTime(act.AdoptionDate), nullTime(act.EffectiveDate), nullTime(act.AmendedDate), act.Status)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "upsert legislation act failed", err)
	}
	return nil
}

// GetLegislationAct fetches an act by its external code.
func (s *Store) GetLegislationAct(ctx context.Context, code string) (*domain.LegislationAct, error) {
	const q = `
SELECT code, type, title, short_title, url, adoption_date, effective_date, amended_date, status, updated_at
FROM legislation WHERE code = $1`
	var a domain.LegislationAct
	var adoption, effective, amended *time.Time
	err := s.db.QueryRow(ctx, q, code).Scan(&a.ExternalCode, &a.Type, &a.Title, &a.ShortTitle, &a.URL,
		&adoption, &effective, &amended, &a.Status, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "legislation act not found: "+code)
		}
		return nil, apperr.Wrap(apperr.Unavailable, "get legislation act failed", err)
	}
	if adoption != nil {
		a.AdoptionDate = *adoption
	}
	if effective != nil {
		a.EffectiveDate = *effective
	}
	if amended != nil {
		a.AmendedDate = *amended
	}
	return &a, nil
}

// UpsertLegislationArticle inserts the current version of an article. A
// prior current version of the same (act, article_number) is marked
// non-current first inside one transaction, preserving the invariant that
// exactly one version is current per spec §3.
func (s *Store) UpsertLegislationArticle(ctx context.Context, art domain.LegislationArticle) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "begin article upsert tx", err)
	}
	defer tx.Rollback(ctx)

	if art.IsCurrent {
		if _, err := tx.Exec(ctx, `
UPDATE legislation_articles SET is_current = false
WHERE act_code = $1 AND article_number = $2 AND is_current AND version_date <> $3`,
			art.ActCode, art.ArticleNumber, nullTime(art.VersionDate)); err != nil {
			return apperr.Wrap(apperr.Unavailable, "demote prior article version failed", err)
		}
	}

	const ins = `
INSERT INTO legislation_articles (act_code, article_number, version_date, section, chapter, part, paragraph,
	title, text, html, byte_size, is_current)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (act_code, article_number, version_date) DO UPDATE SET
	section = EXCLUDED.section, chapter = EXCLUDED.chapter, part = EXCLUDED.part, paragraph = EXCLUDED.paragraph,
	title = EXCLUDED.title, text = EXCLUDED.text, html = EXCLUDED.html, byte_size = EXCLUDED.byte_size,
	is_current = EXCLUDED.is_current`
	if _, err := tx.Exec(ctx, ins, art.ActCode, art.ArticleNumber, art.VersionDate, art.Section, art.Chapter,
		art.Part, art.Paragraph, art.Title, art.Text, art.HTML, art.ByteSize, art.IsCurrent); err != nil {
		return apperr.Wrap(apperr.Unavailable, "insert legislation article failed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Unavailable, "commit article upsert tx", err)
	}
	return nil
}

// GetLegislationArticle fetches the current version of one article.
func (s *Store) GetLegislationArticle(ctx context.Context, actCode, articleNumber string) (*domain.LegislationArticle, error) {
	const q = `
SELECT act_code, article_number, version_date, section, chapter, part, paragraph, title, text, html, byte_size, is_current
FROM legislation_articles WHERE act_code = $1 AND article_number = $2 AND is_current`
	a, err := scanArticle(s.db.QueryRow(ctx, q, actCode, articleNumber))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "article not found: "+actCode+" ст. "+articleNumber)
		}
		return nil, apperr.Wrap(apperr.Unavailable, "get article failed", err)
	}
	return a, nil
}

// GetLegislationArticles fetches the current versions of several articles
// in one round trip, used by `get_articles`.
func (s *Store) GetLegislationArticles(ctx context.Context, actCode string, numbers []string) ([]domain.LegislationArticle, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	const q = `
SELECT act_code, article_number, version_date, section, chapter, part, paragraph, title, text, html, byte_size, is_current
FROM legislation_articles WHERE act_code = $1 AND article_number = ANY($2) AND is_current`
	rows, err := s.db.Query(ctx, q, actCode, numbers)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "query articles failed", err)
	}
	defer rows.Close()
	var out []domain.LegislationArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan article row failed", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListLegislationArticles returns every current article of an act, ordered
// numerically where possible, used by `get_structure`.
func (s *Store) ListLegislationArticles(ctx context.Context, actCode string) ([]domain.LegislationArticle, error) {
	const q = `
SELECT act_code, article_number, version_date, section, chapter, part, paragraph, title, text, html, byte_size, is_current
FROM legislation_articles WHERE act_code = $1 AND is_current ORDER BY article_number`
	rows, err := s.db.Query(ctx, q, actCode)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "list articles failed", err)
	}
	defer rows.Close()
	var out []domain.LegislationArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan article row failed", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SearchLegislationFullText runs a full-text fallback search over article
// bodies, used by the Legislation Service when vector search errors.
func (s *Store) SearchLegislationFullText(ctx context.Context, query, actCode string, limit int) ([]domain.LegislationArticle, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args := []any{query}
	cond := "to_tsvector('simple', coalesce(text, '')) @@ plainto_tsquery('simple', $1)"
	if actCode != "" {
		args = append(args, actCode)
		cond += fmt.Sprintf(" AND act_code = $%d", len(args))
	}
	args = append(args, limit)
	q := fmt.Sprintf(`
SELECT act_code, article_number, version_date, section, chapter, part, paragraph, title, text, html, byte_size, is_current
FROM legislation_articles WHERE is_current AND %s LIMIT $%d`, cond, len(args))
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "fulltext search legislation failed", err)
	}
	defer rows.Close()
	var out []domain.LegislationArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan article row failed", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// InsertLegislationChunk records one embeddable chunk of an article,
// linked to its vector id once embedded.
func (s *Store) InsertLegislationChunk(ctx context.Context, actCode, articleNumber string, chunkIndex int, text, vectorID string) error {
	const q = `
INSERT INTO legislation_chunks (act_code, article_number, chunk_index, text, vector_id)
VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid)`
	_, err := s.db.Exec(ctx, q, actCode, articleNumber, chunkIndex, text, vectorID)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "insert legislation chunk failed", err)
	}
	return nil
}

// Stats is a point-in-time snapshot of corpus-wide counts, used by the
// standalone metrics exporter to publish domain gauges independent of the
// main process's own request-scoped metrics.
type Stats struct {
	Documents           int64
	Sections            int64
	LegislationArticles int64
	PrecedentsReversed  int64
}

// CorpusStats runs four COUNT(*) queries and returns their snapshot. Cheap
// enough to poll on a short interval — every count hits an indexed or
// small table.
func (s *Store) CorpusStats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		q    string
		dest *int64
	}{
		{"SELECT count(*) FROM documents", &st.Documents},
		{"SELECT count(*) FROM document_sections", &st.Sections},
		{"SELECT count(*) FROM legislation_articles WHERE is_current", &st.LegislationArticles},
		{"SELECT count(*) FROM precedent_status WHERE status <> 'active'", &st.PrecedentsReversed},
	}
	for _, item := range queries {
		if err := s.db.QueryRow(ctx, item.q).Scan(item.dest); err != nil {
			return Stats{}, apperr.Wrap(apperr.Unavailable, "corpus stats query failed", err)
		}
	}
	return st, nil
}

func scanArticle(row rowScanner) (*domain.LegislationArticle, error) {
	var a domain.LegislationArticle
	if err := row.Scan(&a.ActCode, &a.ArticleNumber, &a.VersionDate, &a.Section, &a.Chapter, &a.Part,
		&a.Paragraph, &a.Title, &a.Text, &a.HTML, &a.ByteSize, &a.IsCurrent); err != nil {
		return nil, err
	}
	return &a, nil
}

// rowScanner abstracts pgx.Row / pgx.Rows so scanDocument works for both.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	return scanDocumentRows(row)
}

func scanDocumentRows(row rowScanner) (*domain.Document, error) {
	var d domain.Document
	var ownerID *string
	var metaRaw []byte
	var date time.Time
	if err := row.Scan(&d.ID, &d.ExternalID, &d.Type, &d.Title, &date, &d.CaseNumber, &d.Court, &d.Chamber,
		&d.DisputeCategory, &d.Outcome, &d.FullText, &d.FullTextHTML, &ownerID, &metaRaw, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Date = date
	d.OwnerID = ownerID
	d.Metadata = unmarshalJSONB(metaRaw)
	return &d, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
