// Package rag composes retrieval, context assembly and generation into
// grounded answers over a caller's own documents.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/document"
	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

const (
	// DefaultSimilarityFloor is the minimum cosine similarity a chunk
	// must score to count as relevant context.
	DefaultSimilarityFloor = 0.3

	// DefaultTopK is the number of candidates fetched per query.
	DefaultTopK = 5
)

// QueryEmbedder embeds query text for search.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchStore is the slice of the document store retrieval needs.
type SearchStore interface {
	VerifyOwner(ctx context.Context, ownerID string, ids []uuid.UUID) error
	Search(ctx context.Context, embedding []float32, scope []uuid.UUID, limit int) ([]document.SearchResult, error)
}

// RetrieverConfig tunes retrieval. Zero values fall back to defaults.
type RetrieverConfig struct {
	SimilarityFloor float64
	TopK            int
}

// Retriever performs scoped nearest-neighbor retrieval with a relevance
// floor. The requested scope is verified against the caller's ownership
// before it ever reaches a search predicate.
type Retriever struct {
	embedder QueryEmbedder
	store    SearchStore
	floor    float64
	topK     int
	logger   log.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder QueryEmbedder, store SearchStore, cfg RetrieverConfig, logger log.Logger) *Retriever {
	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = DefaultSimilarityFloor
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		floor:    cfg.SimilarityFloor,
		topK:     cfg.TopK,
		logger:   logger,
	}
}

// Retrieve returns the chunks most similar to query within the caller's
// scope, ranked by descending similarity.
//
// Every scope id is verified to belong to ownerID before the search
// runs; a partial mismatch is a hard domain.ErrAuthorization, never a
// silent filter. When no candidate clears the similarity floor the
// result is domain.ErrNoRelevantContext, which routes the caller onto
// the explicit no-context path.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, query string, scope []uuid.UUID) ([]document.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}
	if len(scope) == 0 {
		return nil, fmt.Errorf("%w: empty retrieval scope", domain.ErrValidation)
	}

	if err := r.store.VerifyOwner(ctx, ownerID, scope); err != nil {
		if errors.Is(err, domain.ErrAuthorization) {
			// Potential security event: the caller asked for documents
			// outside their scope.
			r.logger.Warn("retrieval scope rejected",
				"owner_id", ownerID, "scope_size", len(scope), "error", err)
		}
		return nil, err
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := r.store.Search(ctx, embeddings[0], scope, r.topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	relevant := candidates[:0]
	for _, c := range candidates {
		if c.Similarity >= r.floor {
			relevant = append(relevant, c)
		}
	}
	if len(relevant) == 0 {
		r.logger.Debug("no candidate cleared the similarity floor",
			"candidates", len(candidates), "floor", r.floor)
		return nil, domain.ErrNoRelevantContext
	}

	r.logger.Debug("retrieved context",
		"candidates", len(candidates), "relevant", len(relevant))
	return relevant, nil
}
