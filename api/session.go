package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

// Session validation constants.
const (
	MaxSessionTitleLength = 100
	DefaultListLimit      = 100
	MaxListLimit          = 1000
	MaxListOffset         = 100000
)

// SessionStore is the slice of the session store the handler needs.
type SessionStore interface {
	Create(ctx context.Context, ownerID, title string) (*domain.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Session, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
	ListTurns(ctx context.Context, sessionID uuid.UUID) ([]domain.Turn, error)
}

// SessionHandler handles session management endpoints.
type SessionHandler struct {
	store  SessionStore
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store SessionStore, logger log.Logger) *SessionHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.create)
	r.Get("/sessions", h.list)
	r.Get("/sessions/{id}", h.get)
	r.Get("/sessions/{id}/turns", h.turns)
	r.Delete("/sessions/{id}", h.delete)
}

// CreateSessionRequest is the request body for creating a session.
// An empty title is allowed; the first answered question names the
// session automatically.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// SessionResponse is the session representation returned by the API.
type SessionResponse struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnResponse is the turn representation returned by the API.
type TurnResponse struct {
	ID             uuid.UUID          `json:"id"`
	Role           string             `json:"role"`
	Content        string             `json:"content"`
	Sources        []domain.SourceRef `json:"sources,omitempty"`
	SequenceNumber int                `json:"sequence_number"`
	CreatedAt      time.Time          `json:"created_at"`
}

func toSessionResponse(sess *domain.Session) SessionResponse {
	return SessionResponse{
		ID:        sess.ID,
		Title:     sess.Title,
		TurnCount: sess.TurnCount,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}

func toTurnResponse(turn domain.Turn) TurnResponse {
	return TurnResponse{
		ID:             turn.ID,
		Role:           turn.Role,
		Content:        turn.Content,
		Sources:        turn.Sources,
		SequenceNumber: turn.SequenceNumber,
		CreatedAt:      turn.CreatedAt,
	}
}

// create creates a new session.
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if len(req.Title) > MaxSessionTitleLength {
		writeError(w, http.StatusBadRequest, "validation_failed", "title too long")
		return
	}

	sess, err := h.store.Create(r.Context(), ownerID(r), req.Title)
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// list returns the caller's sessions with pagination.
// Query parameters: limit (default 100, max 1000) and offset.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	sessions, err := h.store.ListByOwner(r.Context(), ownerID(r), limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeDomainError(w, err)
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": out,
		"total":    len(out),
		"limit":    limit,
		"offset":   offset,
	})
}

// get returns one session.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// turns returns the full transcript of a session in order.
func (h *SessionHandler) turns(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	turns, err := h.store.ListTurns(r.Context(), sess.ID)
	if err != nil {
		h.logger.Error("failed to list turns", "session_id", sess.ID, "error", err)
		writeDomainError(w, err)
		return
	}

	out := make([]TurnResponse, 0, len(turns))
	for _, turn := range turns {
		out = append(out, toTurnResponse(turn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out, "total": len(out)})
}

// delete removes a session and its turns.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
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

// ownedSession loads the session from the path and enforces ownership.
// Foreign sessions read as not found rather than forbidden so that
// session IDs do not leak existence.
func (h *SessionHandler) ownedSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return nil, false
	}

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if sess.OwnerID != ownerID(r) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return nil, false
	}
	return sess, true
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
