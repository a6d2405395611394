package orchestrator

import (
	"context"
	"time"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/legislation"
)

// registerTools builds the ~30-40 tool registry of spec §4.9, grouped by
// purpose: classify, retrieve, analyze, validate, search-precedents,
// document tools, legislation tools, procedural tools, and bulk/analytics
// tools. Every handler validates its own arguments via decodeArgs/argString
// at entry, per the "validate once at entry" design note.
func (o *Orchestrator) registerTools() {
	o.registerClassifyAndAdvice()
	o.registerDocumentTools()
	o.registerLegislationTools()
	o.registerProceduralTools()
	o.registerPrecedentTools()
	o.registerBulkAndAnalyticsTools()
}

// --- classify / core answering pipeline -----------------------------------

func (o *Orchestrator) registerClassifyAndAdvice() {
	o.register(Tool{
		Name:        "classify_intent",
		Description: "Classify a free-text Ukrainian legal query into an intent, domains, required entities, and a reasoning budget.",
		Schema:      fmtSchema(map[string]any{"query": map[string]any{"type": "string"}}, "query"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			query, err := argString(args, "query")
			if err != nil {
				return nil, err
			}
			if err := requireNonEmpty(query, "query"); err != nil {
				return nil, apperr.New(apperr.InvalidArgument, "query must not be empty")
			}
			return o.ClassifyIntent(ctx, o.chatFor(ec.Budget), ec.Budget, query)
		},
	})

	o.register(Tool{
		Name: "get_legal_advice",
		Description: "The canonical end-to-end answering path: classify intent, collect evidence, synthesize a citation-grounded structured answer, and validate every quote against the retrieved sources.",
		Schema: fmtSchema(map[string]any{
			"query":  map[string]any{"type": "string"},
			"budget": map[string]any{"type": "string", "enum": []string{"quick", "standard", "deep"}},
		}, "query"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			query, err := argString(args, "query")
			if err != nil {
				return nil, err
			}
			if query == "" {
				return nil, apperr.New(apperr.InvalidArgument, "query must not be empty")
			}
			return o.GetLegalAdvice(ctx, ec.CallerID, query, ec.Budget)
		},
	})

	o.register(Tool{
		Name:        "search",
		Description: "Full-text and vector search across the indexed corpus for a free-text query, optionally scoped by section types.",
		Schema: fmtSchema(map[string]any{
			"query":              map[string]any{"type": "string"},
			"sections_of_interest": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, "query"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			query, err := argString(args, "query")
			if err != nil {
				return nil, err
			}
			if query == "" {
				return nil, apperr.New(apperr.InvalidArgument, "query must not be empty")
			}
			intent := Intent{SectionsOfInterest: argStringSlice(args, "sections_of_interest")}
			return o.CollectEvidence(ctx, query, intent), nil
		},
	})
}

// --- document tools ---------------------------------------------------------

func (o *Orchestrator) registerDocumentTools() {
	o.register(Tool{
		Name:        "get_decision",
		Description: "Fetch one court decision by internal document id, enforcing the caller's ownership visibility.",
		Schema:      fmtSchema(map[string]any{"document_id": map[string]any{"type": "string"}}, "document_id"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			id, err := argString(args, "document_id")
			if err != nil {
				return nil, err
			}
			return o.GetDecision(ctx, ec.CallerID, id)
		},
	})

	o.register(Tool{
		Name:        "extract_sections",
		Description: "Return every typed section of a document, ordered by position.",
		Schema:      fmtSchema(map[string]any{"document_id": map[string]any{"type": "string"}}, "document_id"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			id, err := argString(args, "document_id")
			if err != nil {
				return nil, err
			}
			return o.ExtractSections(ctx, id)
		},
	})

	o.register(Tool{
		Name:        "get_section",
		Description: "Return the first section of a given type from a document, or NOT_FOUND if absent.",
		Schema: fmtSchema(map[string]any{
			"document_id":  map[string]any{"type": "string"},
			"section_type": map[string]any{"type": "string"},
		}, "document_id", "section_type"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			docID, err := argString(args, "document_id")
			if err != nil {
				return nil, err
			}
			sectionType, err := argString(args, "section_type")
			if err != nil {
				return nil, err
			}
			sections, err := o.ExtractSections(ctx, docID)
			if err != nil {
				return nil, err
			}
			for _, s := range sections {
				if string(s.Type) == sectionType {
					return s, nil
				}
			}
			return nil, apperr.New(apperr.NotFound, "no section of type "+sectionType+" on document "+docID)
		},
	})

	o.register(Tool{
		Name:        "load_texts",
		Description: "Fetch full text for a batch of document ids in one pass, tolerating individual misses.",
		Schema:      fmtSchema(map[string]any{"document_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}}, "document_ids"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			ids := argStringSlice(args, "document_ids")
			texts, misses := o.LoadTexts(ctx, ec.CallerID, ids)
			return map[string]any{"texts": texts, "misses": misses}, nil
		},
	})

	o.register(Tool{
		Name:        "parse_document",
		Description: "Parse uploaded raw bytes (base64-free; bytes already staged) by mime type into plain text, with OCR fallback.",
		Schema: fmtSchema(map[string]any{
			"object_key": map[string]any{"type": "string"},
			"mime":       map[string]any{"type": "string"},
		}, "object_key", "mime"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			if o.uploadAdapter == nil {
				return nil, apperr.New(apperr.Unavailable, "upload adapter not configured")
			}
			key, err := argString(args, "object_key")
			if err != nil {
				return nil, err
			}
			mime, err := argString(args, "mime")
			if err != nil {
				return nil, err
			}
			raw, err := o.uploadAdapter.FetchRaw(ctx, key)
			if err != nil {
				return nil, err
			}
			return o.uploadAdapter.Parse(ctx, raw, mime)
		},
	})

	o.register(Tool{
		Name:        "extract_key_clauses",
		Description: "Flag sentences in parsed document text that mention risk/obligation clause keywords (liability, penalty, term, force majeure, guarantee).",
		Schema:      fmtSchema(map[string]any{"text": map[string]any{"type": "string"}}, "text"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			text, err := argString(args, "text")
			if err != nil {
				return nil, err
			}
			return ExtractKeyClauses(text), nil
		},
	})

	o.register(Tool{
		Name:        "summarize_document",
		Description: "Produce a short synopsis of uploaded document text plus its flagged key clauses.",
		Schema: fmtSchema(map[string]any{
			"document_id": map[string]any{"type": "string"},
			"text":        map[string]any{"type": "string"},
		}, "document_id", "text"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			docID, err := argString(args, "document_id")
			if err != nil {
				return nil, err
			}
			text, err := argString(args, "text")
			if err != nil {
				return nil, err
			}
			return SummarizeDocument(docID, text), nil
		},
	})

	o.register(Tool{
		Name:        "compare_documents",
		Description: "Word-level diff between two document texts, each changed span classified critical/significant/minor.",
		Schema: fmtSchema(map[string]any{
			"text_a": map[string]any{"type": "string"},
			"text_b": map[string]any{"type": "string"},
		}, "text_a", "text_b"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			a, err := argString(args, "text_a")
			if err != nil {
				return nil, err
			}
			b, err := argString(args, "text_b")
			if err != nil {
				return nil, err
			}
			return CompareDocuments(a, b), nil
		},
	})
}

// --- legislation tools -------------------------------------------------------

func (o *Orchestrator) registerLegislationTools() {
	o.register(Tool{
		Name:        "search_legislation",
		Description: "Full-text search over the indexed legislation corpus, optionally restricted to one act, grouped by act.",
		Schema: fmtSchema(map[string]any{
			"query":  map[string]any{"type": "string"},
			"act_id": map[string]any{"type": "string"},
		}, "query"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			query, err := argString(args, "query")
			if err != nil {
				return nil, err
			}
			return o.SearchLegislation(ctx, query, argStringOptional(args, "act_id", ""))
		},
	})

	o.register(Tool{
		Name:        "get_article",
		Description: "Fetch the current version of one legislation article, ensuring the act is indexed first.",
		Schema: fmtSchema(map[string]any{
			"act_id":         map[string]any{"type": "string"},
			"article_number": map[string]any{"type": "string"},
		}, "act_id", "article_number"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			actID, err := argString(args, "act_id")
			if err != nil {
				return nil, err
			}
			number, err := argString(args, "article_number")
			if err != nil {
				return nil, err
			}
			return o.GetArticle(ctx, actID, number)
		},
	})

	o.register(Tool{
		Name:        "get_structure",
		Description: "Return an act's metadata, ordered table of contents, and every current article.",
		Schema:      fmtSchema(map[string]any{"act_id": map[string]any{"type": "string"}}, "act_id"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			actID, err := argString(args, "act_id")
			if err != nil {
				return nil, err
			}
			return o.GetStructure(ctx, actID)
		},
	})

	o.register(Tool{
		Name:        "find_relevant_articles",
		Description: "Vector search over indexed legislation articles for a free-text query, optionally scoped to one act.",
		Schema: fmtSchema(map[string]any{
			"query":  map[string]any{"type": "string"},
			"act_id": map[string]any{"type": "string"},
			"limit":  map[string]any{"type": "integer"},
		}, "query"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			query, err := argString(args, "query")
			if err != nil {
				return nil, err
			}
			return o.FindRelevantArticles(ctx, query, argStringOptional(args, "act_id", ""), argInt(args, "limit", 20))
		},
	})

	o.register(Tool{
		Name:        "search_procedural_norms",
		Description: "Vector search over one procedural code's articles (cpc, commercial, acp, cpc_criminal) for a free-text query.",
		Schema: fmtSchema(map[string]any{
			"query":          map[string]any{"type": "string"},
			"procedure_code": map[string]any{"type": "string"},
		}, "query", "procedure_code"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			query, err := argString(args, "query")
			if err != nil {
				return nil, err
			}
			code, err := argString(args, "procedure_code")
			if err != nil {
				return nil, err
			}
			return o.SearchProceduralNorms(ctx, query, code)
		},
	})

	o.register(Tool{
		Name:        "parse_reference",
		Description: `Resolve a free-form statute citation such as "ст. 625 ЦК" into {act_id, article_number}.`,
		Schema:      fmtSchema(map[string]any{"phrase": map[string]any{"type": "string"}}, "phrase"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			phrase, err := argString(args, "phrase")
			if err != nil {
				return nil, err
			}
			ref := legislation.ParseReference(phrase)
			if ref == nil {
				return nil, apperr.New(apperr.NotFound, "reference could not be resolved: "+phrase)
			}
			return ref, nil
		},
	})
}

// --- procedural tools --------------------------------------------------------

func (o *Orchestrator) registerProceduralTools() {
	o.register(Tool{
		Name:        "calculate_procedural_deadlines",
		Description: "Combine the statutory deadline table with active Supreme Court practice search to produce a structured deadline advisory.",
		Schema: fmtSchema(map[string]any{
			"procedure_code": map[string]any{"type": "string"},
			"appeal_type":    map[string]any{"type": "string"},
			"event_type":     map[string]any{"type": "string"},
			"event_date":     map[string]any{"type": "string", "format": "date"},
		}, "procedure_code", "appeal_type", "event_date"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			code, err := argString(args, "procedure_code")
			if err != nil {
				return nil, err
			}
			appealType, err := argString(args, "appeal_type")
			if err != nil {
				return nil, err
			}
			dateStr, err := argString(args, "event_date")
			if err != nil {
				return nil, err
			}
			eventDate, parseErr := time.Parse("2006-01-02", dateStr)
			if parseErr != nil {
				return nil, apperr.Wrap(apperr.InvalidArgument, "event_date must be YYYY-MM-DD", parseErr)
			}
			result, err := CalculateProceduralDeadline(code, appealType, eventDate)
			if err != nil {
				return nil, err
			}
			practice := o.searchSupremeCourtPractice(ctx, "строк оскарження "+appealType, 5)
			return map[string]any{"deadline": result, "supreme_court_practice": practice}, nil
		},
	})

	o.register(Tool{
		Name:        "build_procedural_checklist",
		Description: "Return the fixed actionable checklist for a procedural action (appeal, cassation, monetary_claim).",
		Schema:      fmtSchema(map[string]any{"action": map[string]any{"type": "string"}}, "action"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			action, err := argString(args, "action")
			if err != nil {
				return nil, err
			}
			return BuildProceduralChecklist(ctx, action)
		},
	})

	o.register(Tool{
		Name:        "calculate_monetary_claims",
		Description: "Sum principal/interest/penalty claim line items supplied by the caller. Pure arithmetic, auditable, no inference.",
		Schema:      fmtSchema(map[string]any{"claims": map[string]any{"type": "array"}}, "claims"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			var claims []MonetaryClaim
			if err := decodeArgs(map[string]any{"claims": args["claims"]}, &struct {
				Claims *[]MonetaryClaim `json:"claims"`
			}{Claims: &claims}); err != nil {
				return nil, err
			}
			return CalculateMonetaryClaims(claims), nil
		},
	})
}

// --- precedent / pattern tools -----------------------------------------------

func (o *Orchestrator) registerPrecedentTools() {
	o.register(Tool{
		Name:        "search_precedents",
		Description: "Match a query against the Legal-Pattern Store's aggregated reasoning fingerprints for the given intent.",
		Schema: fmtSchema(map[string]any{
			"query":  map[string]any{"type": "string"},
			"intent": map[string]any{"type": "string"},
		}, "query", "intent"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			query, err := argString(args, "query")
			if err != nil {
				return nil, err
			}
			intent, err := argString(args, "intent")
			if err != nil {
				return nil, err
			}
			return o.SearchPrecedents(ctx, query, intent)
		},
	})

	o.register(Tool{
		Name:        "compare_practice_pro_contra",
		Description: "Two parallel Supreme Court searches, one phrased affirmatively and one negatively, returning balanced samples.",
		Schema:      fmtSchema(map[string]any{"topic": map[string]any{"type": "string"}}, "topic"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			topic, err := argString(args, "topic")
			if err != nil {
				return nil, err
			}
			return o.ComparePracticeProContra(ctx, topic)
		},
	})

	o.register(Tool{
		Name:        "search_supreme_court_practice",
		Description: "Vector search restricted to Supreme Court reasoning/decision sections.",
		Schema: fmtSchema(map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer"},
		}, "query"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			query, err := argString(args, "query")
			if err != nil {
				return nil, err
			}
			return o.SearchSupremeCourtPractice(ctx, query, argInt(args, "limit", 10))
		},
	})

	o.register(Tool{
		Name:        "find_similar_fact_pattern_cases",
		Description: "Distill keywords from free-text facts, then run a filtered vector+keyword search for similar cases.",
		Schema:      fmtSchema(map[string]any{"facts": map[string]any{"type": "string"}}, "facts"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			facts, err := argString(args, "facts")
			if err != nil {
				return nil, err
			}
			return o.FindSimilarFactPatternCases(ctx, facts, ec.Budget)
		},
	})

	o.register(Tool{
		Name:        "trace_citations",
		Description: "Walk the citation_links graph outward from a document up to depth 3, without revisiting a node, per the cyclic-reference design guard.",
		Schema:      fmtSchema(map[string]any{"document_id": map[string]any{"type": "string"}}, "document_id"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			docID, err := argString(args, "document_id")
			if err != nil {
				return nil, err
			}
			return o.TraceCitations(ctx, docID)
		},
	})
}

// --- bulk / analytics tools ---------------------------------------------------

func (o *Orchestrator) registerBulkAndAnalyticsTools() {
	o.register(Tool{
		Name:        "bulk_ingest",
		Description: "Ingest a bounded batch of court decisions by external id, under the process-wide ingest concurrency bound.",
		Schema:      fmtSchema(map[string]any{"external_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}}, "external_ids"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			if o.ingestWorker == nil {
				return nil, apperr.New(apperr.Unavailable, "ingest worker not configured")
			}
			ids := argStringSlice(args, "external_ids")
			if len(ids) == 0 {
				return nil, apperr.New(apperr.InvalidArgument, "external_ids must not be empty")
			}
			return o.ingestWorker.IngestBatch(ctx, ids), nil
		},
	})

	o.register(Tool{
		Name:        "format_answer_pack",
		Description: "Re-validate and normalize a caller-assembled answer pack against a fresh evidence pool (e.g. after client-side edits), stripping any quote that no longer traces to a source.",
		Schema: fmtSchema(map[string]any{
			"answer":       map[string]any{"type": "object"},
			"document_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, "answer", "document_ids"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			var answer PackagedAnswer
			if err := decodeArgs(toMap(args["answer"]), &answer); err != nil {
				return nil, err
			}
			ids := argStringSlice(args, "document_ids")
			texts, _ := o.LoadTexts(ctx, ec.CallerID, ids)
			var evidence EvidenceSet
			for docID, text := range texts {
				evidence.Items = append(evidence.Items, EvidenceItem{DocumentID: docID, Text: text, Source: "metadata"})
			}
			warnings, err := ValidateCitations(&answer, evidence)
			if err != nil {
				return nil, err
			}
			return map[string]any{"packaged_answer": answer, "warnings": warnings}, nil
		},
	})

	o.register(Tool{
		Name:        "scrape_court_decisions",
		Description: "Launch a background bulk-scrape job over the court-decisions API for a keyword and date range, streaming one result page at a time into the Ingest Worker.",
		Schema: fmtSchema(map[string]any{
			"keyword":   map[string]any{"type": "string"},
			"date_from": map[string]any{"type": "string"},
			"date_to":   map[string]any{"type": "string"},
		}, "keyword"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			if o.scrapeWorker == nil {
				return nil, apperr.New(apperr.Unavailable, "scrape worker not configured")
			}
			keyword, err := argString(args, "keyword")
			if err != nil {
				return nil, err
			}
			jobID := o.scrapeWorker.Start(ctx, keyword, argStringOptional(args, "date_from", ""), argStringOptional(args, "date_to", ""))
			return map[string]any{"job_id": jobID}, nil
		},
	})

	o.register(Tool{
		Name:        "get_scrape_job_status",
		Description: "Report the processed/total/errors/progress_pct state of a bulk-scrape job.",
		Schema:      fmtSchema(map[string]any{"job_id": map[string]any{"type": "string"}}, "job_id"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			if o.scrapeWorker == nil {
				return nil, apperr.New(apperr.Unavailable, "scrape worker not configured")
			}
			jobID, err := argString(args, "job_id")
			if err != nil {
				return nil, err
			}
			status := o.scrapeWorker.Status(jobID)
			if status == nil {
				return nil, apperr.New(apperr.NotFound, "scrape job not found: "+jobID)
			}
			return status, nil
		},
	})

	o.register(Tool{
		Name:        "cancel_scrape_job",
		Description: "Cooperatively cancel a bulk-scrape job: in-flight items complete, no new items start.",
		Schema:      fmtSchema(map[string]any{"job_id": map[string]any{"type": "string"}}, "job_id"),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			if o.scrapeWorker == nil {
				return nil, apperr.New(apperr.Unavailable, "scrape worker not configured")
			}
			jobID, err := argString(args, "job_id")
			if err != nil {
				return nil, err
			}
			if err := o.scrapeWorker.Cancel(jobID); err != nil {
				return nil, err
			}
			return map[string]any{"cancelled": true}, nil
		},
	})

	o.register(Tool{
		Name:        "analytics_snapshot",
		Description: "Report embedding-gateway usage stats and ingest-worker queue depth/capacity, for operational dashboards.",
		Schema:      fmtSchema(map[string]any{}),
		Handle: func(ctx context.Context, ec ExecutionContext, args map[string]any) (any, error) {
			snapshot := map[string]any{}
			if o.gateway != nil {
				snapshot["embedding_stats"] = o.gateway.Stats()
			}
			if o.ingestWorker != nil {
				snapshot["ingest_queue_depth"] = o.ingestWorker.QueueDepth()
				snapshot["ingest_capacity"] = o.ingestWorker.Capacity()
			}
			return snapshot, nil
		},
	})
}

func toMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
