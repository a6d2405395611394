package precedent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"legal-research-engine/internal/domain"
)

type fakeStore struct {
	links    []domain.CitationLink
	statuses map[string]*domain.PrecedentStatus
	upserts  []domain.PrecedentStatus
}

func (f *fakeStore) CitationLinksSince(ctx context.Context, since time.Time, types []string) ([]domain.CitationLink, error) {
	return f.links, nil
}

func (f *fakeStore) GetPrecedentStatus(ctx context.Context, documentID string) (*domain.PrecedentStatus, error) {
	return f.statuses[documentID], nil
}

func (f *fakeStore) UpsertPrecedentStatus(ctx context.Context, ps domain.PrecedentStatus) error {
	f.upserts = append(f.upserts, ps)
	f.statuses[ps.DocumentID] = &ps
	return nil
}

func TestTickMarksReversedDocumentAsReversed(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]*domain.PrecedentStatus{},
		links: []domain.CitationLink{
			{FromDocID: "doc-new", ToDocID: "doc-old", CitationType: domain.CitationReverses},
		},
	}
	w := New(store, time.Hour, zap.NewNop())
	w.tick(context.Background())

	require.Len(t, store.upserts, 1)
	require.Equal(t, domain.PrecedentReversed, store.upserts[0].Status)
	require.Equal(t, []string{"doc-new"}, store.upserts[0].ReversedBy)
}

func TestReversedStatusSurvivesLaterDistinguishingCitation(t *testing.T) {
	store := &fakeStore{
		statuses: map[string]*domain.PrecedentStatus{
			"doc-old": {DocumentID: "doc-old", Status: domain.PrecedentReversed, ReversedBy: []string{"doc-new"}},
		},
		links: []domain.CitationLink{
			{FromDocID: "doc-other", ToDocID: "doc-old", CitationType: domain.CitationDistinguishes},
		},
	}
	w := New(store, time.Hour, zap.NewNop())
	w.tick(context.Background())

	require.Equal(t, domain.PrecedentReversed, store.statuses["doc-old"].Status)
	require.Contains(t, store.statuses["doc-old"].DistinguishedIn, "doc-other")
}

func TestNoLinksProducesNoUpserts(t *testing.T) {
	store := &fakeStore{statuses: map[string]*domain.PrecedentStatus{}}
	w := New(store, time.Hour, zap.NewNop())
	w.tick(context.Background())
	require.Empty(t, store.upserts)
}
