package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/document"
	"github.com/inkwellhq/inkwell/internal/domain"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeSearchStore struct {
	verifyErr   error
	results     []document.SearchResult
	searchErr   error
	searchCalls int
	verifyCalls int
	lastScope   []uuid.UUID
}

func (f *fakeSearchStore) VerifyOwner(_ context.Context, _ string, _ []uuid.UUID) error {
	f.verifyCalls++
	return f.verifyErr
}

func (f *fakeSearchStore) Search(_ context.Context, _ []float32, scope []uuid.UUID, _ int) ([]document.SearchResult, error) {
	f.searchCalls++
	f.lastScope = scope
	return f.results, f.searchErr
}

func scoredResult(title string, page int, similarity float64) document.SearchResult {
	return document.SearchResult{
		Chunk: domain.Chunk{
			ID:         uuid.New(),
			DocumentID: uuid.New(),
			Page:       page,
			Content:    fmt.Sprintf("content of %s", title),
		},
		Title:      title,
		Similarity: similarity,
	}
}

func TestRetrieve_FiltersBelowFloor(t *testing.T) {
	store := &fakeSearchStore{results: []document.SearchResult{
		scoredResult("strong", 1, 0.9),
		scoredResult("borderline", 2, 0.3),
		scoredResult("weak", 3, 0.1),
	}}
	r := NewRetriever(&fakeEmbedder{vector: []float32{1}}, store, RetrieverConfig{}, nil)

	got, err := r.Retrieve(context.Background(), "owner-1", "question", []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Title != "strong" || got[1].Title != "borderline" {
		t.Errorf("wrong survivors: %q, %q", got[0].Title, got[1].Title)
	}
}

func TestRetrieve_AllBelowFloorIsNoContext(t *testing.T) {
	store := &fakeSearchStore{results: []document.SearchResult{
		scoredResult("weak", 1, 0.2),
		scoredResult("weaker", 2, 0.05),
	}}
	r := NewRetriever(&fakeEmbedder{vector: []float32{1}}, store, RetrieverConfig{}, nil)

	_, err := r.Retrieve(context.Background(), "owner-1", "question", []uuid.UUID{uuid.New()})
	if !errors.Is(err, domain.ErrNoRelevantContext) {
		t.Errorf("expected ErrNoRelevantContext, got %v", err)
	}
}

func TestRetrieve_ScopeVerifiedBeforeSearch(t *testing.T) {
	store := &fakeSearchStore{
		verifyErr: fmt.Errorf("%w: 1 of 2 requested documents are outside the caller's scope", domain.ErrAuthorization),
		results:   []document.SearchResult{scoredResult("should not surface", 1, 0.9)},
	}
	embedder := &fakeEmbedder{vector: []float32{1}}
	r := NewRetriever(embedder, store, RetrieverConfig{}, nil)

	_, err := r.Retrieve(context.Background(), "owner-1", "question",
		[]uuid.UUID{uuid.New(), uuid.New()})
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	if store.searchCalls != 0 {
		t.Error("search ran despite a rejected scope")
	}
	if embedder.calls != 0 {
		t.Error("query was embedded despite a rejected scope")
	}
}

func TestRetrieve_Validation(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{vector: []float32{1}}, &fakeSearchStore{}, RetrieverConfig{}, nil)

	_, err := r.Retrieve(context.Background(), "owner-1", "  ", []uuid.UUID{uuid.New()})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("blank query: expected ErrValidation, got %v", err)
	}

	_, err = r.Retrieve(context.Background(), "owner-1", "question", nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty scope: expected ErrValidation, got %v", err)
	}
}

func TestRetrieve_EmbedFailurePropagates(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("%w: connection refused", domain.ErrBackendUnavailable)}
	r := NewRetriever(embedder, &fakeSearchStore{}, RetrieverConfig{}, nil)

	_, err := r.Retrieve(context.Background(), "owner-1", "question", []uuid.UUID{uuid.New()})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRetrieve_CustomFloor(t *testing.T) {
	store := &fakeSearchStore{results: []document.SearchResult{
		scoredResult("good", 1, 0.6),
		scoredResult("mediocre", 2, 0.4),
	}}
	r := NewRetriever(&fakeEmbedder{vector: []float32{1}}, store,
		RetrieverConfig{SimilarityFloor: 0.5}, nil)

	got, err := r.Retrieve(context.Background(), "owner-1", "question", []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Title != "good" {
		t.Errorf("custom floor not applied: %+v", got)
	}
}
