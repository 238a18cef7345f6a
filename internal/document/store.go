// Package document persists source documents, their chunks, and the
// processing jobs that track async pipeline state.
//
// Chunks are replaced wholesale inside a transaction whenever a
// document's content is (re)processed, so a crash mid-write never
// leaves a half-indexed document visible to retrieval.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

// Store manages document persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a document store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Create inserts a document with its extracted pages and a pending
// content job, atomically. The document becomes retrievable only after
// the async pipeline completes the job.
func (s *Store) Create(ctx context.Context, ownerID, title string, pages []domain.Page) (*domain.SourceDocument, *domain.ProcessingJob, error) {
	if ownerID == "" {
		return nil, nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if title == "" {
		return nil, nil, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if len(pages) == 0 {
		return nil, nil, fmt.Errorf("%w: document has no pages", domain.ErrValidation)
	}

	rawPages, err := json.Marshal(pages)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode pages: %v", domain.ErrValidation, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	doc := &domain.SourceDocument{
		OwnerID:   ownerID,
		Title:     title,
		PageCount: len(pages),
		Pages:     pages,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO documents (owner_id, title, page_count, raw_pages)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		ownerID, title, len(pages), rawPages,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert document: %w", err)
	}

	job := &domain.ProcessingJob{
		DocumentID: doc.ID,
		Kind:       domain.JobKindContent,
		Status:     domain.StatusPending,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO processing_jobs (document_id, kind)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		doc.ID, string(job.Kind),
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert processing job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("created document",
		"document_id", doc.ID, "owner_id", ownerID, "pages", len(pages))
	return doc, job, nil
}

// Get retrieves a document by ID, including its retained raw pages.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.SourceDocument, error) {
	doc := &domain.SourceDocument{}
	var rawPages []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, page_count, raw_pages, summary, created_at, updated_at
		FROM documents
		WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.PageCount, &rawPages,
		&doc.Summary, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}

	if len(rawPages) > 0 {
		if err := json.Unmarshal(rawPages, &doc.Pages); err != nil {
			return nil, fmt.Errorf("decode pages for document %s: %w", id, err)
		}
	}
	return doc, nil
}

// ListByOwner lists a caller's documents, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*domain.SourceDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, title, page_count, summary, created_at, updated_at
		FROM documents
		WHERE owner_id = $1
		ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.SourceDocument
	for rows.Next() {
		doc := &domain.SourceDocument{}
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.PageCount,
			&doc.Summary, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes a document and, via cascade, its chunks and jobs.
// The owner check is part of the delete predicate so a mismatched
// caller cannot distinguish "not yours" from "not there".
func (s *Store) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	s.logger.Info("deleted document", "document_id", id, "owner_id", ownerID)
	return nil
}

// SetSummary stores the pipeline-generated summary.
func (s *Store) SetSummary(ctx context.Context, id uuid.UUID, summary string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET summary = $2, updated_at = now() WHERE id = $1`,
		id, summary)
	if err != nil {
		return fmt.Errorf("set summary for document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return nil
}

// DiscardRawPages drops the retained page text once the retention
// policy no longer needs it. A job for this document can no longer be
// re-run afterwards; the recovery sweep marks it failed instead.
func (s *Store) DiscardRawPages(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET raw_pages = NULL, updated_at = now() WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("discard raw pages for document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return nil
}

// VerifyOwner checks that every listed document exists and belongs to
// ownerID. A single mismatch fails the whole set; callers must treat
// this as a hard stop, not filter and continue.
func (s *Store) VerifyOwner(ctx context.Context, ownerID string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	var owned int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM documents WHERE id = ANY($1) AND owner_id = $2`,
		ids, ownerID,
	).Scan(&owned)
	if err != nil {
		return fmt.Errorf("verify document ownership: %w", err)
	}
	if owned != len(ids) {
		return fmt.Errorf("%w: %d of %d requested documents are outside the caller's scope",
			domain.ErrAuthorization, len(ids)-owned, len(ids))
	}
	return nil
}

// ReplaceChunks atomically swaps a document's chunks for the given set.
// Re-running it with the same input converges to the same state, which
// makes content processing safe to retry at any point.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []domain.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (document_id, chunk_index, page_number, content, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			documentID, c.Index, c.Page, c.Content, pgvector.NewVector(c.Embedding))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("replaced chunks", "document_id", documentID, "count", len(chunks))
	return nil
}

// CountChunks returns the number of stored chunks for a document.
func (s *Store) CountChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// SearchResult is one retrieval candidate with its cosine similarity.
type SearchResult struct {
	Chunk      domain.Chunk
	Title      string // document title, for context headers
	Similarity float64
}

// Search performs nearest-neighbor search over the chunks of the scoped
// documents, ordered by descending cosine similarity. Ownership of the
// scope must be verified by the caller before this runs.
func (s *Store) Search(ctx context.Context, embedding []float32, scope []uuid.UUID, limit int) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", domain.ErrValidation)
	}
	if len(scope) == 0 {
		return nil, fmt.Errorf("%w: empty search scope", domain.ErrValidation)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: non-positive result limit %d", domain.ErrValidation, limit)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.page_number, c.content,
		       d.title, 1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = ANY($2) AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(embedding), scope, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Index,
			&r.Chunk.Page, &r.Chunk.Content, &r.Title, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	s.logger.Debug("vector search", "scope", len(scope), "limit", limit, "hits", len(results))
	return results, nil
}
