package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
	"github.com/inkwellhq/inkwell/internal/queue"
)

// Ingestion validation limits.
const (
	MaxDocTitleLength = 200
	MaxPages          = 2000
	MaxPageChars      = 200000
)

// DocumentStore is the slice of the document store the handler needs.
type DocumentStore interface {
	Create(ctx context.Context, ownerID, title string, pages []domain.Page) (*domain.SourceDocument, *domain.ProcessingJob, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.SourceDocument, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.SourceDocument, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
	CountChunks(ctx context.Context, documentID uuid.UUID) (int, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error)
	LatestJob(ctx context.Context, documentID uuid.UUID, kind domain.JobKind) (*domain.ProcessingJob, error)
}

// JobRetrier re-enqueues a failed processing job.
type JobRetrier interface {
	RetryJob(ctx context.Context, jobID uuid.UUID) error
}

// Publisher enqueues processing work.
type Publisher interface {
	Publish(ctx context.Context, msg queue.JobMessage) error
}

// DocumentHandler handles document ingestion and status endpoints.
type DocumentHandler struct {
	store   DocumentStore
	jobs    JobRetrier
	publish Publisher
	logger  log.Logger
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(store DocumentStore, jobs JobRetrier, publish Publisher, logger log.Logger) *DocumentHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &DocumentHandler{store: store, jobs: jobs, publish: publish, logger: logger}
}

// RegisterRoutes registers document routes.
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/documents", h.create)
	r.Get("/documents", h.list)
	r.Get("/documents/{id}", h.get)
	r.Delete("/documents/{id}", h.delete)
	r.Get("/jobs/{id}", h.jobStatus)
	r.Post("/jobs/{id}/retry", h.retryJob)
}

// CreateDocumentRequest is the request body for document ingestion.
type CreateDocumentRequest struct {
	Title string        `json:"title"`
	Pages []domain.Page `json:"pages"`
}

// DocumentResponse is the document representation returned by the API.
// Raw page text is never echoed back.
type DocumentResponse struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	PageCount  int       `json:"page_count"`
	Summary    string    `json:"summary,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobResponse is the processing job representation returned by the API.
type JobResponse struct {
	ID         uuid.UUID        `json:"id"`
	DocumentID uuid.UUID        `json:"document_id"`
	Kind       domain.JobKind   `json:"kind"`
	Status     domain.JobStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	RetryCount int              `json:"retry_count"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toDocumentResponse(doc *domain.SourceDocument) DocumentResponse {
	return DocumentResponse{
		ID:        doc.ID,
		Title:     doc.Title,
		PageCount: doc.PageCount,
		Summary:   doc.Summary,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func toJobResponse(job *domain.ProcessingJob) JobResponse {
	return JobResponse{
		ID:         job.ID,
		DocumentID: job.DocumentID,
		Kind:       job.Kind,
		Status:     job.Status,
		Error:      job.Error,
		RetryCount: job.RetryCount,
		UpdatedAt:  job.UpdatedAt,
	}
}

// create accepts a document and queues it for async processing.
// Responds 202 with the document and its pending job.
func (h *DocumentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "title is required")
		return
	}
	if len(req.Title) > MaxDocTitleLength {
		writeError(w, http.StatusBadRequest, "validation_failed", "title too long")
		return
	}
	if len(req.Pages) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "at least one page is required")
		return
	}
	if len(req.Pages) > MaxPages {
		writeError(w, http.StatusBadRequest, "validation_failed", "too many pages")
		return
	}
	for _, p := range req.Pages {
		if len(p.Text) > MaxPageChars {
			writeError(w, http.StatusBadRequest, "validation_failed", "page text too long")
			return
		}
	}

	doc, job, err := h.store.Create(r.Context(), ownerID(r), req.Title, req.Pages)
	if err != nil {
		h.logger.Error("failed to create document", "error", err)
		writeDomainError(w, err)
		return
	}

	if err := h.publish.Publish(r.Context(), queue.JobMessage{
		JobID:      job.ID,
		DocumentID: doc.ID,
		Kind:       job.Kind,
		Attempt:    1,
	}); err != nil {
		// The job row survives; the recovery path or a manual retry can
		// pick it up later.
		h.logger.Error("failed to enqueue processing job", "job_id", job.ID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"document": toDocumentResponse(doc),
		"job":      toJobResponse(job),
	})
}

// list returns the caller's documents.
func (h *DocumentHandler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListByOwner(r.Context(), ownerID(r))
	if err != nil {
		h.logger.Error("failed to list documents", "error", err)
		writeDomainError(w, err)
		return
	}

	out := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDocumentResponse(doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out, "total": len(out)})
}

// get returns one document with its chunk count and latest content job.
func (h *DocumentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	doc, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if doc.OwnerID != ownerID(r) {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}

	resp := toDocumentResponse(doc)
	if n, err := h.store.CountChunks(r.Context(), doc.ID); err == nil {
		resp.ChunkCount = n
	}

	body := map[string]any{"document": resp}
	if job, err := h.store.LatestJob(r.Context(), doc.ID, domain.JobKindContent); err == nil {
		body["job"] = toJobResponse(job)
	}
	writeJSON(w, http.StatusOK, body)
}

// delete removes a document, its chunks and its jobs.
func (h *DocumentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), ownerID(r), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// jobStatus returns one processing job.
func (h *DocumentHandler) jobStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !h.ownsJob(r, job) {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// retryJob re-enqueues a failed job.
func (h *DocumentHandler) retryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !h.ownsJob(r, job) {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	if err := h.jobs.RetryJob(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ownsJob reports whether the caller owns the job's document.
func (h *DocumentHandler) ownsJob(r *http.Request, job *domain.ProcessingJob) bool {
	doc, err := h.store.Get(r.Context(), job.DocumentID)
	if err != nil {
		return false
	}
	return doc.OwnerID == ownerID(r)
}

// parseUUID extracts a UUID path parameter, writing a 400 on failure.
func parseUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
