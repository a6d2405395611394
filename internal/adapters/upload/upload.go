// Package upload implements the uploaded-document adapter: parsing raw
// bytes by MIME type with an OCR fallback, and persisting the original
// bytes to object storage, grounded on the teacher's unified-rag-service use
// of minio-go for raw document blobs.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"legal-research-engine/internal/apperr"
)

// Source names the extraction strategy that produced the text.
type Source string

const (
	SourceNativePDF  Source = "pdf_native"
	SourceNativeDOCX Source = "docx_native"
	SourceHTML       Source = "html_render"
	SourceOCR        Source = "ocr"
)

// Parsed is the result of Parse.
type Parsed struct {
	Text      string
	PageCount int
	Source    Source
}

// OCRProvider is the pluggable OCR backend used when native extraction
// yields no usable text.
type OCRProvider interface {
	Recognize(ctx context.Context, bytes []byte, mime string) (string, error)
}

// NoopOCRProvider always reports no text — used when no OCR backend is
// configured; Parse then surfaces an empty body rather than failing.
type NoopOCRProvider struct{}

func (NoopOCRProvider) Recognize(context.Context, []byte, string) (string, error) { return "", nil }

// Adapter parses uploaded files and stores the raw bytes.
type Adapter struct {
	blobs  *minio.Client
	bucket string
	ocr    OCRProvider
}

// New builds the adapter against a MinIO-compatible object store.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, ocr OCRProvider) (*Adapter, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	if ocr == nil {
		ocr = NoopOCRProvider{}
	}
	return &Adapter{blobs: client, bucket: bucket, ocr: ocr}, nil
}

// EnsureBucket creates the upload bucket if absent.
func (a *Adapter) EnsureBucket(ctx context.Context) error {
	exists, err := a.blobs.BucketExists(ctx, a.bucket)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "check bucket failed", err)
	}
	if !exists {
		if err := a.blobs.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return apperr.Wrap(apperr.Unavailable, "create bucket failed", err)
		}
	}
	return nil
}

// StoreRaw persists the raw uploaded bytes and returns an object key.
func (a *Adapter) StoreRaw(ctx context.Context, data []byte, mime string) (string, error) {
	key := uuid.NewString()
	_, err := a.blobs.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mime})
	if err != nil {
		return "", apperr.Wrap(apperr.Unavailable, "store raw upload failed", err)
	}
	return key, nil
}

// FetchRaw retrieves previously stored raw bytes by object key.
func (a *Adapter) FetchRaw(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.blobs.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "fetch raw upload failed", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "read raw upload failed", err)
	}
	return data, nil
}

// Parse extracts text from uploaded bytes, dispatching by MIME type with an
// OCR fallback per strategy (spec §4.4).
func (a *Adapter) Parse(ctx context.Context, data []byte, mime string) (*Parsed, error) {
	switch {
	case strings.Contains(mime, "pdf"):
		return a.parsePDF(ctx, data)
	case strings.Contains(mime, "word") || strings.Contains(mime, "officedocument.wordprocessingml"):
		return a.parseDOCX(ctx, data)
	case strings.Contains(mime, "html"):
		return a.parseHTML(ctx, data)
	default:
		return nil, apperr.New(apperr.InvalidArgument, "unsupported upload mime type: "+mime)
	}
}

func (a *Adapter) parsePDF(ctx context.Context, data []byte) (*Parsed, error) {
	text, pages := extractPDFText(data)
	if strings.TrimSpace(text) != "" {
		return &Parsed{Text: text, PageCount: pages, Source: SourceNativePDF}, nil
	}
	ocrText, err := a.ocr.Recognize(ctx, data, "application/pdf")
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "OCR fallback failed", err)
	}
	return &Parsed{Text: ocrText, PageCount: pages, Source: SourceOCR}, nil
}

func (a *Adapter) parseDOCX(ctx context.Context, data []byte) (*Parsed, error) {
	text := extractDOCXText(data)
	if strings.TrimSpace(text) != "" {
		return &Parsed{Text: text, PageCount: 1, Source: SourceNativeDOCX}, nil
	}
	ocrText, err := a.ocr.Recognize(ctx, data, "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "OCR fallback failed", err)
	}
	return &Parsed{Text: ocrText, PageCount: 1, Source: SourceOCR}, nil
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

func (a *Adapter) parseHTML(ctx context.Context, data []byte) (*Parsed, error) {
	text := htmlTagPattern.ReplaceAllString(string(data), " ")
	text = strings.Join(strings.Fields(text), " ")
	if text != "" {
		return &Parsed{Text: text, PageCount: 1, Source: SourceHTML}, nil
	}
	ocrText, err := a.ocr.Recognize(ctx, data, "text/html")
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "OCR fallback failed", err)
	}
	return &Parsed{Text: ocrText, PageCount: 1, Source: SourceOCR}, nil
}

// extractPDFText is a minimal text-object scanner over raw PDF bytes — real
// deployments swap this for a full PDF parser; it exists so native
// extraction has a first attempt before falling back to OCR.
func extractPDFText(data []byte) (string, int) {
	pages := strings.Count(string(data), "/Type /Page")
	if pages == 0 {
		pages = 1
	}
	var sb strings.Builder
	textObj := regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	for _, m := range textObj.FindAllSubmatch(data, -1) {
		sb.Write(m[1])
		sb.WriteByte(' ')
	}
	return sb.String(), pages
}

// extractDOCXText is a best-effort extraction that looks for readable text
// runs inside the (zip-compressed) document — native DOCX parsing requires
// unzipping document.xml, left to a full parser; here any plain-text
// fragment the OOXML container still exposes is surfaced, else OCR kicks in.
func extractDOCXText(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		} else {
			sb.WriteByte(' ')
		}
	}
	fields := strings.Fields(sb.String())
	if len(fields) < 20 {
		return ""
	}
	return strings.Join(fields, " ")
}
